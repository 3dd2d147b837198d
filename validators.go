package identity

import (
	"net/mail"
	"regexp"
	"strings"
	"unicode"
)

// usernamePattern accepts 3 to 30 chars of [A-Za-z0-9_.], starting and
// ending with a word character. Consecutive dots are rejected separately
// because RE2 has no lookahead.
var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.]{1,28}[A-Za-z0-9_]$`)

// ValidateUsername checks the username against the account naming rules.
func ValidateUsername(username string) error {
	if !usernamePattern.MatchString(username) {
		return FieldError("username", "enter a valid username: 3-30 characters, only a-z, 0-9, _ and .")
	}
	if strings.Contains(username, "..") {
		return FieldError("username", "username must not contain consecutive dots")
	}
	return nil
}

// ValidateEmail checks the address has valid email syntax.
func ValidateEmail(email string) error {
	if email == "" {
		return FieldError("email", "email must be set")
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return FieldError("email", "enter a valid email address")
	}
	return nil
}

// PasswordPolicy is the default PasswordValidator. It mirrors the usual
// strength rules: minimum length, not purely numeric, not derived from
// the account identifiers, not a known common password.
type PasswordPolicy struct {
	MinLength int
	common    map[string]struct{}
}

var _ PasswordValidator = (*PasswordPolicy)(nil)

// PasswordPolicyOption customizes the default policy.
type PasswordPolicyOption func(*PasswordPolicy)

// WithMinLength overrides the minimum password length.
func WithMinLength(n int) PasswordPolicyOption {
	return func(p *PasswordPolicy) {
		if n > 0 {
			p.MinLength = n
		}
	}
}

// WithCommonPasswords replaces the built-in common password list.
func WithCommonPasswords(passwords []string) PasswordPolicyOption {
	return func(p *PasswordPolicy) {
		p.common = make(map[string]struct{}, len(passwords))
		for _, pwd := range passwords {
			p.common[strings.ToLower(pwd)] = struct{}{}
		}
	}
}

var defaultCommonPasswords = []string{
	"password", "password1", "12345678", "123456789", "qwerty123",
	"letmein", "iloveyou", "admin123", "welcome1", "changeme",
}

// NewPasswordPolicy builds the default password strength policy.
func NewPasswordPolicy(opts ...PasswordPolicyOption) *PasswordPolicy {
	p := &PasswordPolicy{MinLength: 8}

	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}

	if p.common == nil {
		p.common = make(map[string]struct{}, len(defaultCommonPasswords))
		for _, pwd := range defaultCommonPasswords {
			p.common[pwd] = struct{}{}
		}
	}

	return p
}

// ValidatePassword reports the first violated rule as a field error on
// the password field. The user argument supplies identifier context and
// may be nil.
func (p *PasswordPolicy) ValidatePassword(password string, user *User) error {
	if len(password) < p.MinLength {
		return FieldError("password", "password is too short")
	}

	if isAllDigits(password) {
		return FieldError("password", "password must not be entirely numeric")
	}

	if _, ok := p.common[strings.ToLower(password)]; ok {
		return FieldError("password", "password is too common")
	}

	if user != nil {
		lowered := strings.ToLower(password)
		if user.Username != "" && strings.Contains(lowered, strings.ToLower(user.Username)) {
			return FieldError("password", "password is too similar to the username")
		}
		if local := emailLocalPart(user.Email); len(local) > 2 && strings.Contains(lowered, strings.ToLower(local)) {
			return FieldError("password", "password is too similar to the email address")
		}
	}

	return nil
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return len(s) > 0
}

func emailLocalPart(email string) string {
	if at := strings.IndexByte(email, '@'); at > 0 {
		return email[:at]
	}
	return ""
}
