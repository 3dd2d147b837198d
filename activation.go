package identity

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

const textCodeInvalidActivationTransition = "INVALID_ACTIVATION_TRANSITION"

// ErrInvalidActivationTransition is returned when a requested activation
// change is not allowed.
var ErrInvalidActivationTransition = goerrors.New("invalid activation state transition", goerrors.CategoryValidation).
	WithTextCode(textCodeInvalidActivationTransition).
	WithCode(goerrors.CodeBadRequest)

// ActivationStateMachine governs the is_email_activated lifecycle.
//
// Only two transitions exist: unverified to verified, triggered by a
// successful verification token check, and verified back to unverified,
// triggered when the registered email address changes. The downgrade
// also purges the verification ledger so the throttle counters start
// over for the new address.
type ActivationStateMachine interface {
	Verify(ctx context.Context, user *User) error
	VerifyTx(ctx context.Context, tx bun.IDB, user *User) error
	Unverify(ctx context.Context, user *User) error
	UnverifyTx(ctx context.Context, tx bun.IDB, user *User) error
	CurrentState(user *User) ActivationState
}

// ActivationOption customizes state machine construction.
type ActivationOption func(*activationMachine)

// WithActivationLogger overrides the logger.
func WithActivationLogger(logger Logger) ActivationOption {
	return func(sm *activationMachine) {
		if logger != nil {
			sm.logger = logger
		}
	}
}

type activationMachine struct {
	users       Users
	logs        EmailLogs
	transitions map[ActivationState]map[ActivationState]struct{}
	logger      Logger
}

// NewActivationStateMachine returns the default implementation backed by
// the provided repositories.
func NewActivationStateMachine(users Users, logs EmailLogs, opts ...ActivationOption) ActivationStateMachine {
	sm := &activationMachine{
		users: users,
		logs:  logs,
		transitions: map[ActivationState]map[ActivationState]struct{}{
			ActivationUnverified: {
				ActivationVerified: {},
			},
			ActivationVerified: {
				ActivationUnverified: {},
			},
		},
		logger: defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(sm)
		}
	}

	return sm
}

func (sm *activationMachine) Verify(ctx context.Context, user *User) error {
	return sm.VerifyTx(ctx, nil, user)
}

func (sm *activationMachine) VerifyTx(ctx context.Context, tx bun.IDB, user *User) error {
	if err := sm.guard(user, ActivationVerified); err != nil {
		return err
	}

	if err := sm.setActivation(ctx, tx, user, true); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to persist activation")
	}

	user.IsEmailActivated = true
	sm.logger.Debug("activation transition %s -> %s for user %s", ActivationUnverified, ActivationVerified, user.ID)
	return nil
}

func (sm *activationMachine) Unverify(ctx context.Context, user *User) error {
	return sm.UnverifyTx(ctx, nil, user)
}

// UnverifyTx downgrades a verified user and discards the stale
// verification ledger for the old address in the same breath. Callers
// changing the email address should run this inside their transaction.
func (sm *activationMachine) UnverifyTx(ctx context.Context, tx bun.IDB, user *User) error {
	if err := sm.guard(user, ActivationUnverified); err != nil {
		return err
	}

	if err := sm.setActivation(ctx, tx, user, false); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to persist activation downgrade")
	}

	var err error
	if tx != nil {
		err = sm.logs.PurgeByTypeTx(ctx, tx, user.ID, EmailTypeVerification)
	} else {
		err = sm.logs.PurgeByType(ctx, user.ID, EmailTypeVerification)
	}
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to purge verification ledger")
	}

	user.IsEmailActivated = false
	sm.logger.Debug("activation transition %s -> %s for user %s", ActivationVerified, ActivationUnverified, user.ID)
	return nil
}

func (sm *activationMachine) CurrentState(user *User) ActivationState {
	return user.ActivationState()
}

func (sm *activationMachine) guard(user *User, target ActivationState) error {
	if user == nil {
		return ErrInvalidActivationTransition.WithMetadata(map[string]any{
			"reason": "user is nil",
			"target": target,
		})
	}

	from := user.ActivationState()
	if allowed, ok := sm.transitions[from]; ok {
		if _, exists := allowed[target]; exists {
			return nil
		}
	}

	return ErrInvalidActivationTransition.WithMetadata(map[string]any{
		"from": from,
		"to":   target,
	})
}

func (sm *activationMachine) setActivation(ctx context.Context, tx bun.IDB, user *User, activated bool) error {
	if tx != nil {
		return sm.users.SetActivationTx(ctx, tx, user.ID, activated)
	}
	return sm.users.SetActivation(ctx, user.ID, activated)
}
