package identity_test

import (
	"context"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	identity "github.com/goliatone/go-identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChangeEmail(t *testing.T) {
	ctx := context.Background()
	env := newCommandEnv()
	handler := identity.NewChangeEmailHandler(env.repo, env.machine, env.throttle, env.emailer)

	user := env.repo.users.seed(&identity.User{
		Username: "speedy",
		Email:    "speedy@example.com",
	})

	err := handler.Execute(ctx, identity.ChangeEmailMessage{
		UserID:   user.ID.String(),
		NewEmail: "gonzales@example.com",
	})
	require.NoError(t, err)

	stored, err := env.repo.users.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "gonzales@example.com", stored.Email)

	// The new address gets its own activation email.
	sent := env.dispatcher.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "gonzales@example.com", sent[0].Recipient)
}

func TestChangeEmailDowngradesVerifiedAccount(t *testing.T) {
	ctx := context.Background()
	env := newCommandEnv()
	handler := identity.NewChangeEmailHandler(env.repo, env.machine, env.throttle, env.emailer)

	user := env.repo.users.seed(&identity.User{
		Username:         "speedy",
		Email:            "speedy@example.com",
		IsEmailActivated: true,
	})

	// Ledger rows from the old address's verification cycle, old
	// enough that the cooldown has long passed.
	env.repo.logs.now = func() time.Time { return time.Now().Add(-time.Hour) }
	_, err := env.repo.logs.Append(ctx, user.ID, identity.EmailTypeVerification)
	require.NoError(t, err)
	_, err = env.repo.logs.Append(ctx, user.ID, identity.EmailTypeVerification)
	require.NoError(t, err)
	env.repo.logs.now = time.Now

	err = handler.Execute(ctx, identity.ChangeEmailMessage{
		UserID:   user.ID.String(),
		NewEmail: "gonzales@example.com",
	})
	require.NoError(t, err)

	stored, err := env.repo.users.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "gonzales@example.com", stored.Email)
	assert.False(t, stored.IsEmailActivated)

	// The old ledger was purged so only the fresh activation email counts.
	count, err := env.repo.logs.CountByType(ctx, user.ID, identity.EmailTypeVerification)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestChangeEmailPurgesUnverifiedLedger(t *testing.T) {
	ctx := context.Background()
	env := newCommandEnv()
	handler := identity.NewChangeEmailHandler(env.repo, env.machine, env.throttle, env.emailer)

	user := env.repo.users.seed(&identity.User{
		Username: "speedy",
		Email:    "speedy@example.com",
	})

	// Stale verification rows from the old address on a still
	// unverified account.
	env.repo.logs.now = func() time.Time { return time.Now().Add(-time.Hour) }
	for i := 0; i < 3; i++ {
		_, err := env.repo.logs.Append(ctx, user.ID, identity.EmailTypeVerification)
		require.NoError(t, err)
	}
	env.repo.logs.now = time.Now

	err := handler.Execute(ctx, identity.ChangeEmailMessage{
		UserID:   user.ID.String(),
		NewEmail: "gonzales@example.com",
	})
	require.NoError(t, err)

	// The old rows no longer count against the new address.
	count, err := env.repo.logs.CountByType(ctx, user.ID, identity.EmailTypeVerification)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestChangeEmailVolumeCapped(t *testing.T) {
	ctx := context.Background()
	env := newCommandEnv()
	handler := identity.NewChangeEmailHandler(env.repo, env.machine, env.throttle, env.emailer)

	user := env.repo.users.seed(&identity.User{
		Username: "speedy",
		Email:    "speedy@example.com",
	})

	env.repo.logs.now = func() time.Time { return time.Now().Add(-time.Hour) }
	for i := 0; i < 20; i++ {
		_, err := env.repo.logs.Append(ctx, user.ID, identity.EmailTypeVerification)
		require.NoError(t, err)
	}
	env.repo.logs.now = time.Now

	// Changing the address repeatedly must not mint more activation
	// emails once the account hit its lifetime cap.
	err := handler.Execute(ctx, identity.ChangeEmailMessage{
		UserID:   user.ID.String(),
		NewEmail: "gonzales@example.com",
	})
	require.Error(t, err)

	var richErr *goerrors.Error
	require.True(t, goerrors.As(err, &richErr))
	assert.Equal(t, identity.TextCodeEmailVolumeExceeded, richErr.TextCode)

	// Nothing changed and nothing went out.
	stored, err := env.repo.users.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "speedy@example.com", stored.Email)
	assert.Empty(t, env.dispatcher.sent())

	count, err := env.repo.logs.CountByType(ctx, user.ID, identity.EmailTypeVerification)
	require.NoError(t, err)
	assert.Equal(t, 20, count)
}

func TestChangeEmailRateLimited(t *testing.T) {
	ctx := context.Background()
	env := newCommandEnv()
	handler := identity.NewChangeEmailHandler(env.repo, env.machine, env.throttle, env.emailer)

	user := env.repo.users.seed(&identity.User{
		Username: "speedy",
		Email:    "speedy@example.com",
	})

	// An activation email just went out for the current address.
	_, err := env.repo.logs.Append(ctx, user.ID, identity.EmailTypeVerification)
	require.NoError(t, err)

	err = handler.Execute(ctx, identity.ChangeEmailMessage{
		UserID:   user.ID.String(),
		NewEmail: "gonzales@example.com",
	})
	require.Error(t, err)

	var richErr *goerrors.Error
	require.True(t, goerrors.As(err, &richErr))
	assert.Equal(t, identity.TextCodeEmailRateLimited, richErr.TextCode)

	wait, ok := richErr.Metadata["wait_time"].(int64)
	require.True(t, ok)
	assert.Greater(t, wait, int64(0))

	stored, err := env.repo.users.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "speedy@example.com", stored.Email)
	assert.Empty(t, env.dispatcher.sent())
}

func TestChangeEmailSameAddressIsNoop(t *testing.T) {
	ctx := context.Background()
	env := newCommandEnv()
	handler := identity.NewChangeEmailHandler(env.repo, env.machine, env.throttle, env.emailer)

	user := env.repo.users.seed(&identity.User{
		Username:         "speedy",
		Email:            "speedy@example.com",
		IsEmailActivated: true,
	})

	err := handler.Execute(ctx, identity.ChangeEmailMessage{
		UserID:   user.ID.String(),
		NewEmail: "speedy@example.com",
	})
	require.NoError(t, err)

	stored, err := env.repo.users.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsEmailActivated)
	assert.Empty(t, env.dispatcher.sent())
}

func TestChangeEmailDuplicateAddress(t *testing.T) {
	ctx := context.Background()
	env := newCommandEnv()
	handler := identity.NewChangeEmailHandler(env.repo, env.machine, env.throttle, env.emailer)

	env.repo.users.seed(&identity.User{
		Username: "taz",
		Email:    "taz@example.com",
	})
	user := env.repo.users.seed(&identity.User{
		Username: "speedy",
		Email:    "speedy@example.com",
	})

	err := handler.Execute(ctx, identity.ChangeEmailMessage{
		UserID:   user.ID.String(),
		NewEmail: "taz@example.com",
	})
	require.Error(t, err)
	fields := errorFields(t, err)
	assert.Equal(t, "this email is used before", fields["email"])

	stored, err := env.repo.users.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "speedy@example.com", stored.Email)
}

func TestChangeEmailRejectsInvalidAddress(t *testing.T) {
	env := newCommandEnv()
	handler := identity.NewChangeEmailHandler(env.repo, env.machine, env.throttle, env.emailer)

	user := env.repo.users.seed(&identity.User{
		Username: "speedy",
		Email:    "speedy@example.com",
	})

	err := handler.Execute(context.Background(), identity.ChangeEmailMessage{
		UserID:   user.ID.String(),
		NewEmail: "not an address",
	})
	require.Error(t, err)
}
