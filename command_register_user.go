package identity

import (
	"context"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

type RegisterUserMessage struct {
	Username   string `json:"username"`
	Email      string `json:"email"`
	Password   string `json:"password"`
	OnResponse func(user *User)
}

func (e RegisterUserMessage) Type() string { return "user.register" }

// RegisterUserHandler creates a new account in the unverified state and
// kicks off the activation email as a side effect of success.
type RegisterUserHandler struct {
	repo    RepositoryManager
	policy  PasswordValidator
	emailer *ActivationEmailer
	logger  Logger
}

// NewRegisterUserHandler creates a handler with sane defaults.
func NewRegisterUserHandler(repo RepositoryManager, policy PasswordValidator, emailer *ActivationEmailer) *RegisterUserHandler {
	return &RegisterUserHandler{
		repo:    repo,
		policy:  policy,
		emailer: emailer,
		logger:  defLogger{},
	}
}

// WithLogger overrides the logger used by the handler.
func (h *RegisterUserHandler) WithLogger(logger Logger) *RegisterUserHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *RegisterUserHandler) Execute(ctx context.Context, event RegisterUserMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during user registration",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RegisterUserHandler) execute(ctx context.Context, event RegisterUserMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	if err := ValidateUsername(event.Username); err != nil {
		return err
	}

	if err := ValidateEmail(event.Email); err != nil {
		return err
	}

	candidate := &User{Username: event.Username, Email: event.Email}
	if err := h.policy.ValidatePassword(event.Password, candidate); err != nil {
		return err
	}

	hash, err := HashPassword(event.Password)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	user := &User{
		Username:     event.Username,
		Email:        event.Email,
		PasswordHash: hash,
		IsActive:     true,
	}

	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if user, err = h.repo.Users().CreateTx(ctx, tx, user); err != nil {
			return uniqueViolationError(err)
		}
		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "user registration transaction failed")
	}

	// at-least-once side effect of a successful creation, a failed
	// enqueue must not fail the registration response
	if h.emailer != nil {
		if err := h.emailer.Send(ctx, user); err != nil {
			h.logger.Error("failed to send activation email for %s: %v", user.Username, err)
		}
	}

	if event.OnResponse != nil {
		event.OnResponse(user)
	}

	return nil
}

// uniqueViolationError maps store unique-constraint failures onto the
// field-level errors the API promises for duplicate identifiers.
func uniqueViolationError(err error) error {
	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "username"):
		return FieldError("username", "this username is already occupied")
	case strings.Contains(msg, "email"):
		return FieldError("email", "this email is used before")
	default:
		return goerrors.Wrap(err, goerrors.CategoryConflict, "could not create user")
	}
}
