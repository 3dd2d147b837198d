package identity

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

type SetPasswordMessage struct {
	// UserID identifies the authenticated caller whose password changes.
	UserID          string `json:"-"`
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
	RetypedPassword string `json:"retyped_password"`
	// RequireCurrent makes the handler verify CurrentPassword before
	// accepting the change.
	RequireCurrent bool `json:"-"`
}

func (e SetPasswordMessage) Type() string { return "user.set_password" }

// SetPasswordHandler changes the password of an authenticated user.
type SetPasswordHandler struct {
	repo   RepositoryManager
	policy PasswordValidator
	logger Logger
}

func NewSetPasswordHandler(repo RepositoryManager, policy PasswordValidator) *SetPasswordHandler {
	return &SetPasswordHandler{
		repo:   repo,
		policy: policy,
		logger: defLogger{},
	}
}

func (h *SetPasswordHandler) WithLogger(logger Logger) *SetPasswordHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *SetPasswordHandler) Execute(ctx context.Context, event SetPasswordMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password change",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *SetPasswordHandler) execute(ctx context.Context, event SetPasswordMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	id, err := uuid.Parse(event.UserID)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid user identifier").
			WithCode(goerrors.CodeBadRequest)
	}

	user, err := h.repo.Users().GetByID(ctx, id)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return ErrUserNotFound
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load user")
	}

	if event.NewPassword != event.RetypedPassword {
		return FieldError("retyped_password", "passwords do not match")
	}

	if event.RequireCurrent {
		if err := ComparePasswordAndHash(event.CurrentPassword, user.PasswordHash); err != nil {
			return FieldError("current_password", "current password is incorrect")
		}
	}

	if err := h.policy.ValidatePassword(event.NewPassword, user); err != nil {
		return err
	}

	hash, err := HashPassword(event.NewPassword)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	if err := h.repo.Users().UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to store password")
	}

	user.PasswordHash = hash

	return nil
}
