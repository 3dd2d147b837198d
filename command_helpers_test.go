package identity_test

import (
	"testing"

	goerrors "github.com/goliatone/go-errors"
	identity "github.com/goliatone/go-identity"
	"github.com/stretchr/testify/require"
)

var commandSecret = []byte("command-test-secret")

// commandEnv wires the command handlers' collaborators against the
// in-memory fakes.
type commandEnv struct {
	repo       *memoryRepo
	dispatcher *captureDispatcher
	tokens     *identity.VerificationTokens
	reset      *identity.ResetTokens
	emailer    *identity.ActivationEmailer
	policy     *identity.PasswordPolicy
	throttle   *identity.EmailThrottle
	machine    identity.ActivationStateMachine
}

func newCommandEnv() *commandEnv {
	repo := newMemoryRepo()
	dispatcher := &captureDispatcher{}
	tokens := identity.NewVerificationTokens(commandSecret)

	return &commandEnv{
		repo:       repo,
		dispatcher: dispatcher,
		tokens:     tokens,
		reset:      identity.NewResetTokens(commandSecret, repo.users),
		emailer:    identity.NewActivationEmailer(repo, tokens, dispatcher, nil),
		policy:     identity.NewPasswordPolicy(),
		throttle:   identity.NewEmailThrottle(repo.logs),
		machine:    identity.NewActivationStateMachine(repo.users, repo.logs),
	}
}

// errorFields extracts the field map a validation error carries.
func errorFields(t *testing.T, err error) map[string]string {
	t.Helper()
	var richErr *goerrors.Error
	require.True(t, goerrors.As(err, &richErr))
	fields, ok := richErr.Metadata["fields"].(map[string]string)
	require.True(t, ok)
	return fields
}
