package identity

import (
	"context"
	"fmt"
)

// Logger is the minimal logging surface used across the package.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// TokenGenerator mints and verifies single-use, time-bounded tokens.
// CheckToken never errors: malformed, expired, forged, or already
// consumed tokens all report false.
type TokenGenerator interface {
	MakeToken(ctx context.Context, user *User) (string, error)
	CheckToken(ctx context.Context, user *User, token string) bool
}

// PasswordValidator is the password strength collaborator. Violations
// surface as field-level validation errors.
type PasswordValidator interface {
	ValidatePassword(password string, user *User) error
}

// EmailDispatcher enqueues an email for asynchronous delivery. Dispatch
// only guarantees the unit of work was accepted, not delivered.
type EmailDispatcher interface {
	DispatchEmail(ctx context.Context, msg EmailMessage) error
}

// EmailSender is the delivery collaborator consumed by the queue worker.
type EmailSender interface {
	SendEmail(ctx context.Context, msg EmailMessage) error
}

// DefaultLogger returns the printf fallback logger.
func DefaultLogger() Logger {
	return defLogger{}
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] IDENTITY "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] IDENTITY "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] IDENTITY "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] IDENTITY "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
