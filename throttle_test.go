package identity_test

import (
	"context"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	identity "github.com/goliatone/go-identity"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmailThrottleEmptyLedger(t *testing.T) {
	logs := newMemoryEmailLogs()
	throttle := identity.NewEmailThrottle(logs)

	err := throttle.Check(context.Background(), uuid.New(), identity.EmailTypeVerification)
	assert.NoError(t, err)
}

func TestEmailThrottleCooldown(t *testing.T) {
	userID := uuid.New()
	sentAt := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	logs := newMemoryEmailLogs()
	logs.now = func() time.Time { return sentAt }
	_, err := logs.Append(context.Background(), userID, identity.EmailTypeVerification)
	require.NoError(t, err)

	tests := []struct {
		name     string
		now      time.Time
		wantWait int64
	}{
		{
			name:     "immediately after send",
			now:      sentAt,
			wantWait: 900,
		},
		{
			name:     "five minutes in",
			now:      sentAt.Add(time.Minute * 5),
			wantWait: 600,
		},
		{
			name:     "one second short",
			now:      sentAt.Add(time.Minute*15 - time.Second),
			wantWait: 1,
		},
		{
			name: "cooldown elapsed",
			now:  sentAt.Add(time.Minute * 15),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			throttle := identity.NewEmailThrottle(logs,
				identity.WithThrottleClock(func() time.Time { return tt.now }),
			)

			err := throttle.Check(context.Background(), userID, identity.EmailTypeVerification)
			if tt.wantWait == 0 {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			var richErr *goerrors.Error
			require.True(t, goerrors.As(err, &richErr))
			assert.Equal(t, identity.TextCodeEmailRateLimited, richErr.TextCode)
			assert.Equal(t, tt.wantWait, richErr.Metadata["wait_time"])
		})
	}
}

func TestEmailThrottleLifetimeCap(t *testing.T) {
	userID := uuid.New()
	logs := newMemoryEmailLogs()

	stamp := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 20; i++ {
		logs.now = func() time.Time { return stamp }
		_, err := logs.Append(context.Background(), userID, identity.EmailTypeVerification)
		require.NoError(t, err)
		stamp = stamp.Add(time.Hour)
	}

	throttle := identity.NewEmailThrottle(logs,
		identity.WithThrottleClock(func() time.Time { return stamp.Add(time.Hour * 24) }),
	)

	err := throttle.Check(context.Background(), userID, identity.EmailTypeVerification)
	require.Error(t, err)
	var richErr *goerrors.Error
	require.True(t, goerrors.As(err, &richErr))
	assert.Equal(t, identity.TextCodeEmailVolumeExceeded, richErr.TextCode)

	// The cap is per email type, other ledgers stay open.
	err = throttle.Check(context.Background(), userID, identity.EmailTypePasswordReset)
	assert.NoError(t, err)
}

func TestEmailThrottleOptions(t *testing.T) {
	userID := uuid.New()
	sentAt := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	logs := newMemoryEmailLogs()
	logs.now = func() time.Time { return sentAt }
	_, err := logs.Append(context.Background(), userID, identity.EmailTypePasswordReset)
	require.NoError(t, err)

	throttle := identity.NewEmailThrottle(logs,
		identity.WithThrottleCooldown(time.Minute),
		identity.WithThrottleLifetimeCap(1),
		identity.WithThrottleClock(func() time.Time { return sentAt.Add(time.Second * 30) }),
	)

	// A cap of one means the single ledger row already hits the limit.
	err = throttle.Check(context.Background(), userID, identity.EmailTypePasswordReset)
	require.Error(t, err)
	var richErr *goerrors.Error
	require.True(t, goerrors.As(err, &richErr))
	assert.Equal(t, identity.TextCodeEmailVolumeExceeded, richErr.TextCode)
}
