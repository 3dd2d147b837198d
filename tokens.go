package identity

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

const (
	verificationTokenPurpose = "identity.email_verification"
	resetTokenPurpose        = "identity.password_reset"

	// DefaultTokenValidityDays bounds how far in the past a token's day
	// bucket may lie and still verify.
	DefaultTokenValidityDays = 3

	secondsPerDay = 86400
)

// TokenOption customizes a token generator.
type TokenOption func(*tokenConfig)

// WithTokenValidityDays overrides the validity window.
func WithTokenValidityDays(days int64) TokenOption {
	return func(c *tokenConfig) {
		if days > 0 {
			c.validityDays = days
		}
	}
}

// WithTokenClock injects a custom clock (useful for tests).
func WithTokenClock(clock func() time.Time) TokenOption {
	return func(c *tokenConfig) {
		if clock != nil {
			c.now = clock
		}
	}
}

// WithTokenLogger overrides the logger.
func WithTokenLogger(logger Logger) TokenOption {
	return func(c *tokenConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

type tokenConfig struct {
	secret       []byte
	validityDays int64
	now          func() time.Time
	logger       Logger
}

func newTokenConfig(secret []byte, opts ...TokenOption) tokenConfig {
	cfg := tokenConfig{
		secret:       secret,
		validityDays: DefaultTokenValidityDays,
		now:          time.Now,
		logger:       defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	return cfg
}

func (c tokenConfig) dayBucket() int64 {
	return c.now().UTC().Unix() / secondsPerDay
}

// sign computes the keyed digest for a purpose-scoped hash value and
// formats the opaque token string: base36 day bucket, dash, hex MAC.
func (c tokenConfig) sign(purpose, hashValue string, bucket int64) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(purpose))
	mac.Write([]byte(hashValue))
	return strconv.FormatInt(bucket, 36) + "-" + hex.EncodeToString(mac.Sum(nil))
}

// parseBucket extracts the day bucket from a submitted token and checks
// it against the validity window. Future-dated buckets never verify.
func (c tokenConfig) parseBucket(token string) (int64, bool) {
	head, _, found := strings.Cut(token, "-")
	if !found {
		return 0, false
	}

	bucket, err := strconv.ParseInt(head, 36, 64)
	if err != nil || bucket < 0 {
		return 0, false
	}

	current := c.dayBucket()
	if bucket > current || current-bucket > c.validityDays {
		return 0, false
	}

	return bucket, true
}

func (c tokenConfig) matches(purpose, hashValue, token string, bucket int64) bool {
	expected := c.sign(purpose, hashValue, bucket)
	return hmac.Equal([]byte(expected), []byte(token))
}

// VerificationTokens mints email verification tokens. The digest covers
// the activation flag, so a token minted while unverified stops
// verifying the instant the account flips to verified: single use via
// state drift, no storage required.
type VerificationTokens struct {
	tokenConfig
}

var _ TokenGenerator = (*VerificationTokens)(nil)

// NewVerificationTokens builds the verification token generator.
func NewVerificationTokens(secret []byte, opts ...TokenOption) *VerificationTokens {
	return &VerificationTokens{tokenConfig: newTokenConfig(secret, opts...)}
}

// MakeToken mints a verification token bound to the user's current
// activation state.
func (g *VerificationTokens) MakeToken(_ context.Context, user *User) (string, error) {
	if user == nil {
		return "", goerrors.New("user is required to mint a token", goerrors.CategoryBadInput)
	}
	bucket := g.dayBucket()
	return g.sign(verificationTokenPurpose, g.hashValue(user, bucket), bucket), nil
}

// CheckToken reports whether the token is genuine, unexpired, and was
// minted against the user's current activation state.
func (g *VerificationTokens) CheckToken(_ context.Context, user *User, token string) bool {
	if user == nil || token == "" {
		return false
	}

	bucket, ok := g.parseBucket(token)
	if !ok {
		return false
	}

	return g.matches(verificationTokenPurpose, g.hashValue(user, bucket), token, bucket)
}

func (g *VerificationTokens) hashValue(user *User, bucket int64) string {
	return fmt.Sprintf("%t:%s:%d", user.IsEmailActivated, user.ID, bucket)
}

// ResetTokens mints password reset tokens. Minting persists the token
// onto the user record (latest wins, a new request invalidates any
// outstanding token) and a successful check consumes the stored value:
// single use via explicit invalidation. The digest also covers the
// password hash, so completing a reset through any path invalidates
// whatever token may still be in flight.
type ResetTokens struct {
	tokenConfig
	users Users
}

var _ TokenGenerator = (*ResetTokens)(nil)

// NewResetTokens builds the reset token generator backed by the given
// credential store.
func NewResetTokens(secret []byte, users Users, opts ...TokenOption) *ResetTokens {
	return &ResetTokens{
		tokenConfig: newTokenConfig(secret, opts...),
		users:       users,
	}
}

// MakeToken mints a reset token and stores it on the user record. This
// is deliberately not idempotent: every call writes.
func (g *ResetTokens) MakeToken(ctx context.Context, user *User) (string, error) {
	return g.MakeTokenTx(ctx, nil, user)
}

// MakeTokenTx is MakeToken inside an existing transaction, so the token
// write shares the caller's transactional boundary.
func (g *ResetTokens) MakeTokenTx(ctx context.Context, tx bun.IDB, user *User) (string, error) {
	if user == nil {
		return "", goerrors.New("user is required to mint a token", goerrors.CategoryBadInput)
	}

	bucket := g.dayBucket()
	token := g.sign(resetTokenPurpose, g.hashValue(user, bucket), bucket)

	var err error
	if tx != nil {
		err = g.users.StoreResetTokenTx(ctx, tx, user.ID, token)
	} else {
		err = g.users.StoreResetToken(ctx, user.ID, token)
	}
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to persist reset token")
	}

	user.PasswordResetToken = &token
	return token, nil
}

// CheckToken verifies the submitted token against both the stored value
// and a recomputed digest, and consumes the stored value on success.
func (g *ResetTokens) CheckToken(ctx context.Context, user *User, token string) bool {
	return g.CheckTokenTx(ctx, nil, user, token)
}

// CheckTokenTx is CheckToken inside an existing transaction, so the
// consuming clear is atomic with whatever the caller does next.
func (g *ResetTokens) CheckTokenTx(ctx context.Context, tx bun.IDB, user *User, token string) bool {
	if user == nil || token == "" || !user.HasResetToken() {
		return false
	}

	// the stored comparison catches superseded tokens, the recomputed
	// digest catches forged or stale ones
	if !hmac.Equal([]byte(*user.PasswordResetToken), []byte(token)) {
		return false
	}

	bucket, ok := g.parseBucket(token)
	if !ok {
		return false
	}

	if !g.matches(resetTokenPurpose, g.hashValue(user, bucket), token, bucket) {
		return false
	}

	var err error
	if tx != nil {
		err = g.users.ClearResetTokenTx(ctx, tx, user.ID)
	} else {
		err = g.users.ClearResetToken(ctx, user.ID)
	}
	if err != nil {
		g.logger.Error("failed to consume reset token for user %s: %v", user.ID, err)
		return false
	}

	user.PasswordResetToken = nil
	return true
}

func (g *ResetTokens) hashValue(user *User, bucket int64) string {
	return fmt.Sprintf("%s:%d:%t:%s", user.ID, bucket, user.IsActive, user.PasswordHash)
}
