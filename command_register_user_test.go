package identity_test

import (
	"context"
	"strings"
	"testing"

	identity "github.com/goliatone/go-identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterUser(t *testing.T) {
	ctx := context.Background()
	env := newCommandEnv()
	handler := identity.NewRegisterUserHandler(env.repo, env.policy, env.emailer)

	var created *identity.User
	err := handler.Execute(ctx, identity.RegisterUserMessage{
		Username:   "daffy.duck",
		Email:      "daffy@example.com",
		Password:   "thats-all-folks-42",
		OnResponse: func(u *identity.User) { created = u },
	})
	require.NoError(t, err)
	require.NotNil(t, created)

	assert.Equal(t, "daffy.duck", created.Username)
	assert.Equal(t, "daffy@example.com", created.Email)
	assert.True(t, created.IsActive)
	assert.False(t, created.IsEmailActivated)
	assert.NoError(t, identity.ComparePasswordAndHash("thats-all-folks-42", created.PasswordHash))

	stored, err := env.repo.users.GetByUsername(ctx, "daffy.duck")
	require.NoError(t, err)
	assert.Equal(t, created.ID, stored.ID)

	// Registration kicks off the activation email and records it.
	sent := env.dispatcher.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, created.ID, sent[0].UserID)
	assert.Equal(t, "daffy@example.com", sent[0].Recipient)
	assert.Equal(t, identity.EmailTypeVerification, sent[0].EmailType)
	assert.True(t, strings.HasPrefix(sent[0].Context["activation_url"], "/users/activate/"))

	count, err := env.repo.logs.CountByType(ctx, created.ID, identity.EmailTypeVerification)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRegisterUserRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name     string
		username string
		email    string
		password string
	}{
		{
			name:     "bad username",
			username: "x",
			email:    "x@example.com",
			password: "thats-all-folks-42",
		},
		{
			name:     "bad email",
			username: "porky.pig",
			email:    "not-an-address",
			password: "thats-all-folks-42",
		},
		{
			name:     "short password",
			username: "porky.pig",
			email:    "porky@example.com",
			password: "short",
		},
		{
			name:     "common password",
			username: "porky.pig",
			email:    "porky@example.com",
			password: "password",
		},
		{
			name:     "password contains username",
			username: "porky.pig",
			email:    "porky@example.com",
			password: "xx-porky.pig-xx",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newCommandEnv()
			handler := identity.NewRegisterUserHandler(env.repo, env.policy, env.emailer)

			err := handler.Execute(context.Background(), identity.RegisterUserMessage{
				Username: tt.username,
				Email:    tt.email,
				Password: tt.password,
			})
			require.Error(t, err)
			assert.Empty(t, env.dispatcher.sent())
		})
	}
}

func TestRegisterUserDuplicateIdentifiers(t *testing.T) {
	ctx := context.Background()
	env := newCommandEnv()
	handler := identity.NewRegisterUserHandler(env.repo, env.policy, env.emailer)

	env.repo.users.seed(&identity.User{
		Username: "daffy.duck",
		Email:    "daffy@example.com",
	})

	err := handler.Execute(ctx, identity.RegisterUserMessage{
		Username: "daffy.duck",
		Email:    "other@example.com",
		Password: "thats-all-folks-42",
	})
	require.Error(t, err)
	fields := errorFields(t, err)
	assert.Equal(t, "this username is already occupied", fields["username"])

	err = handler.Execute(ctx, identity.RegisterUserMessage{
		Username: "other.name",
		Email:    "daffy@example.com",
		Password: "thats-all-folks-42",
	})
	require.Error(t, err)
	fields = errorFields(t, err)
	assert.Equal(t, "this email is used before", fields["email"])
}

func TestRegisterUserSurvivesDispatchFailure(t *testing.T) {
	ctx := context.Background()
	env := newCommandEnv()
	env.dispatcher.fail = assert.AnError
	handler := identity.NewRegisterUserHandler(env.repo, env.policy, env.emailer)

	err := handler.Execute(ctx, identity.RegisterUserMessage{
		Username: "daffy.duck",
		Email:    "daffy@example.com",
		Password: "thats-all-folks-42",
	})
	require.NoError(t, err)

	// The attempt still lands in the ledger even when the queue is down.
	stored, err := env.repo.users.GetByUsername(ctx, "daffy.duck")
	require.NoError(t, err)
	count, err := env.repo.logs.CountByType(ctx, stored.ID, identity.EmailTypeVerification)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
