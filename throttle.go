package identity

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

const (
	// DefaultEmailCooldown is the minimum spacing between two emails of
	// the same type for one user.
	DefaultEmailCooldown = 15 * time.Minute
	// DefaultEmailLifetimeCap bounds how many rows the ledger may hold
	// per (user, type) before requests are refused outright.
	DefaultEmailLifetimeCap = 20
)

// EmailThrottle bounds the rate and total volume of verification/reset
// emails per user. The EmailLog ledger is its only state, so the policy
// is fully recoverable from the store.
//
// The check-then-act sequence (count, send, append) is not atomic under
// concurrent duplicate requests. That is a deliberate soft limit: an
// occasional double send is tolerated instead of paying for a per-user
// lock on every email request.
type EmailThrottle struct {
	logs        EmailLogs
	cooldown    time.Duration
	lifetimeCap int
	now         func() time.Time
}

// ThrottleOption customizes the throttle policy.
type ThrottleOption func(*EmailThrottle)

// WithThrottleCooldown overrides the per-user cooldown.
func WithThrottleCooldown(d time.Duration) ThrottleOption {
	return func(t *EmailThrottle) {
		if d > 0 {
			t.cooldown = d
		}
	}
}

// WithThrottleLifetimeCap overrides the ledger cap.
func WithThrottleLifetimeCap(n int) ThrottleOption {
	return func(t *EmailThrottle) {
		if n > 0 {
			t.lifetimeCap = n
		}
	}
}

// WithThrottleClock injects a custom clock (useful for tests).
func WithThrottleClock(clock func() time.Time) ThrottleOption {
	return func(t *EmailThrottle) {
		if clock != nil {
			t.now = clock
		}
	}
}

// NewEmailThrottle builds the throttle policy over the given ledger.
func NewEmailThrottle(logs EmailLogs, opts ...ThrottleOption) *EmailThrottle {
	t := &EmailThrottle{
		logs:        logs,
		cooldown:    DefaultEmailCooldown,
		lifetimeCap: DefaultEmailLifetimeCap,
		now:         time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}

	return t
}

// Check reports whether another email of the given type may be sent to
// the user right now. A rate rejection carries the remaining wait in
// seconds as wait_time metadata; a volume rejection carries none.
func (t *EmailThrottle) Check(ctx context.Context, userID uuid.UUID, emailType EmailType) error {
	count, err := t.logs.CountByType(ctx, userID, emailType)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to count email ledger rows")
	}

	if count >= t.lifetimeCap {
		return ErrEmailVolumeExceeded
	}

	if count == 0 {
		return nil
	}

	latest, err := t.logs.LatestByType(ctx, userID, emailType)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read email ledger")
	}
	if latest == nil || latest.CreatedAt == nil {
		return nil
	}

	elapsed := t.now().Sub(*latest.CreatedAt)
	if elapsed >= t.cooldown {
		return nil
	}

	return ErrEmailRateLimited.WithMetadata(map[string]any{
		"wait_time": ceilSeconds(t.cooldown - elapsed),
	})
}

func ceilSeconds(d time.Duration) int64 {
	secs := int64(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	if secs < 1 {
		secs = 1
	}
	return secs
}
