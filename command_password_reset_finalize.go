package identity

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

type FinalizePasswordResetMessage struct {
	UID             string `json:"uid"`
	Token           string `json:"token"`
	NewPassword     string `json:"new_password"`
	RetypedPassword string `json:"retyped_password"`
}

func (e FinalizePasswordResetMessage) Type() string { return "user.password_reset_finalize" }

// FinalizePasswordResetHandler consumes a reset token and installs the
// new password atomically, so a token can never be spent without the
// password actually changing.
type FinalizePasswordResetHandler struct {
	repo   RepositoryManager
	tokens *ResetTokens
	policy PasswordValidator
	logger Logger
}

func NewFinalizePasswordResetHandler(repo RepositoryManager, tokens *ResetTokens, policy PasswordValidator) *FinalizePasswordResetHandler {
	return &FinalizePasswordResetHandler{
		repo:   repo,
		tokens: tokens,
		policy: policy,
		logger: defLogger{},
	}
}

func (h *FinalizePasswordResetHandler) WithLogger(logger Logger) *FinalizePasswordResetHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *FinalizePasswordResetHandler) Execute(ctx context.Context, event FinalizePasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *FinalizePasswordResetHandler) execute(ctx context.Context, event FinalizePasswordResetMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	if event.NewPassword != event.RetypedPassword {
		return FieldError("retyped_password", "passwords do not match")
	}

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		id, err := DecodeUID(event.UID)
		if err != nil {
			return ErrInvalidToken
		}

		user, err := h.repo.Users().GetByIDTx(ctx, tx, id)
		if err != nil {
			return ErrInvalidToken
		}

		if !h.tokens.CheckTokenTx(ctx, tx, user, event.Token) {
			return ErrInvalidToken
		}

		if err := h.policy.ValidatePassword(event.NewPassword, user); err != nil {
			return err
		}

		hash, err := HashPassword(event.NewPassword)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
		}

		if err := h.repo.Users().UpdatePasswordHashTx(ctx, tx, user.ID, hash); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to store password")
		}

		user.PasswordHash = hash

		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "password reset transaction failed")
	}

	return nil
}
