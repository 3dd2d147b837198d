package identity

import (
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	// TextCodeInvalidToken is the single generic code for every token failure.
	TextCodeInvalidToken = "INVALID_TOKEN"
	// TextCodeEmailRateLimited marks a cooldown rejection, metadata carries wait_time.
	TextCodeEmailRateLimited = "EMAIL_RATE_LIMITED"
	// TextCodeEmailVolumeExceeded marks a lifetime cap rejection.
	TextCodeEmailVolumeExceeded = "EMAIL_VOLUME_EXCEEDED"
	// TextCodeAlreadyVerified marks activation requests for verified accounts.
	TextCodeAlreadyVerified = "ALREADY_VERIFIED"
	// TextCodeTokenExpired marks an expired session JWT.
	TextCodeTokenExpired = "TOKEN_EXPIRED"
	// TextCodeTokenMalformed marks a session JWT that failed to parse.
	TextCodeTokenMalformed = "TOKEN_MALFORMED"
)

// ErrTokenExpired rejects requests carrying an expired session JWT.
var ErrTokenExpired = goerrors.New("session token is expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenMalformed rejects requests whose session JWT failed to parse.
var ErrTokenMalformed = goerrors.New("session token is malformed", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenMalformed).
	WithCode(goerrors.CodeUnauthorized)

// IsTokenExpiredError will check for error message
func IsTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "token is expired")
}

// IsMalformedError will check for error message
func IsMalformedError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "token is malformed") ||
		strings.Contains(err.Error(), "missing or malformed JWT")
}

// ErrInvalidToken is returned for every activation/reset token failure.
// It deliberately collapses expired, forged, wrong-user, and already-used
// into one message so the response never leaks account state.
var ErrInvalidToken = goerrors.New("token is invalid", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidToken).
	WithCode(goerrors.CodeBadRequest)

// ErrEmailRateLimited is returned when the cooldown between two emails of
// the same type has not elapsed. Callers attach wait_time metadata.
var ErrEmailRateLimited = goerrors.New("email was requested too recently", goerrors.CategoryRateLimit).
	WithTextCode(TextCodeEmailRateLimited).
	WithCode(goerrors.CodeBadRequest)

// ErrEmailVolumeExceeded is returned when the lifetime ledger cap is hit.
var ErrEmailVolumeExceeded = goerrors.New("email volume exceeded for this account", goerrors.CategoryRateLimit).
	WithTextCode(TextCodeEmailVolumeExceeded).
	WithCode(goerrors.CodeBadRequest)

// ErrNotResourceOwner rejects activation email requests for somebody
// else's account. Only the owner or a superuser may trigger them.
var ErrNotResourceOwner = goerrors.New("not allowed to act on this account", goerrors.CategoryAuthz).
	WithCode(goerrors.CodeForbidden)

// ErrAlreadyVerified short-circuits activation email requests for
// accounts that already completed verification.
var ErrAlreadyVerified = goerrors.New("email address is already verified", goerrors.CategoryConflict).
	WithTextCode(TextCodeAlreadyVerified).
	WithCode(goerrors.CodeConflict)

// ErrUserNotFound is only used where enumeration safety does not apply
// (username lookups); email based flows answer as if they succeeded.
var ErrUserNotFound = goerrors.New("user not found", goerrors.CategoryNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrNoEmptyString rejects empty passwords before hashing.
var ErrNoEmptyString = goerrors.New("value must not be empty", goerrors.CategoryValidation).
	WithCode(goerrors.CodeBadRequest)

// ErrMismatchedHashAndPassword is the normalized bcrypt mismatch error.
var ErrMismatchedHashAndPassword = goerrors.New("password does not match", goerrors.CategoryAuth).
	WithCode(goerrors.CodeUnauthorized)

// ValidationError builds a field-level validation error the way the HTTP
// layer expects it: message plus a fields map in metadata.
func ValidationError(message string, fields map[string]string) *goerrors.Error {
	err := goerrors.New(message, goerrors.CategoryValidation).
		WithCode(goerrors.CodeBadRequest)
	if len(fields) > 0 {
		err = err.WithMetadata(map[string]any{"fields": fields})
	}
	return err
}

// FieldError is a single-field ValidationError.
func FieldError(field, message string) *goerrors.Error {
	return ValidationError(message, map[string]string{field: message})
}
