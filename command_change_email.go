package identity

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type ChangeEmailMessage struct {
	// UserID identifies the authenticated caller whose address changes.
	UserID   string `json:"-"`
	NewEmail string `json:"new_email"`
}

func (e ChangeEmailMessage) Type() string { return "user.change_email" }

// ChangeEmailHandler swaps the account's email address. A verified
// account drops back to unverified in the same transaction, since the
// new address has never been proven, and a fresh activation email goes
// out after commit.
type ChangeEmailHandler struct {
	repo     RepositoryManager
	machine  ActivationStateMachine
	throttle *EmailThrottle
	emailer  *ActivationEmailer
	logger   Logger
}

func NewChangeEmailHandler(repo RepositoryManager, machine ActivationStateMachine, throttle *EmailThrottle, emailer *ActivationEmailer) *ChangeEmailHandler {
	return &ChangeEmailHandler{
		repo:     repo,
		machine:  machine,
		throttle: throttle,
		emailer:  emailer,
		logger:   defLogger{},
	}
}

func (h *ChangeEmailHandler) WithLogger(logger Logger) *ChangeEmailHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *ChangeEmailHandler) Execute(ctx context.Context, event ChangeEmailMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during email change",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *ChangeEmailHandler) execute(ctx context.Context, event ChangeEmailMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	id, err := uuid.Parse(event.UserID)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid user identifier").
			WithCode(goerrors.CodeBadRequest)
	}

	if err := ValidateEmail(event.NewEmail); err != nil {
		return err
	}

	user, err := h.repo.Users().GetByID(ctx, id)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return ErrUserNotFound
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load user")
	}

	if user.Email == event.NewEmail {
		return nil
	}

	// The throttle runs against the ledger of the old address, so a
	// change cannot be used to sidestep the cooldown.
	if err := h.throttle.Check(ctx, user.ID, EmailTypeVerification); err != nil {
		return err
	}

	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := h.repo.Users().UpdateEmailTx(ctx, tx, user.ID, event.NewEmail); err != nil {
			return uniqueViolationError(err)
		}

		if user.IsEmailActivated {
			// Unverify purges the verification ledger as part of the
			// downgrade.
			if err := h.machine.UnverifyTx(ctx, tx, user); err != nil {
				return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to reset activation state")
			}
			return nil
		}

		// The send history belongs to the old address; the new one
		// starts with an empty ledger.
		if err := h.repo.EmailLogs().PurgeByTypeTx(ctx, tx, user.ID, EmailTypeVerification); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to purge verification emails")
		}

		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "email change transaction failed")
	}

	user.Email = event.NewEmail

	if h.emailer != nil {
		if err := h.emailer.Send(ctx, user); err != nil {
			h.logger.Error("failed to send activation email for %s: %v", user.Username, err)
		}
	}

	return nil
}
