package identity

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	repository "github.com/goliatone/go-repository-bun"
)

type RequestActivationEmailMessage struct {
	Username string `json:"username"`
	// ActorID identifies the authenticated caller, resolved from
	// the session before the message is dispatched.
	ActorID          string `json:"-"`
	ActorIsSuperuser bool   `json:"-"`
}

func (e RequestActivationEmailMessage) Type() string { return "user.request_activation_email" }

// RequestActivationEmailHandler re-sends an activation email on demand,
// subject to ownership checks and the per-account email throttle.
type RequestActivationEmailHandler struct {
	repo     RepositoryManager
	throttle *EmailThrottle
	emailer  *ActivationEmailer
	logger   Logger
}

func NewRequestActivationEmailHandler(repo RepositoryManager, throttle *EmailThrottle, emailer *ActivationEmailer) *RequestActivationEmailHandler {
	return &RequestActivationEmailHandler{
		repo:     repo,
		throttle: throttle,
		emailer:  emailer,
		logger:   defLogger{},
	}
}

func (h *RequestActivationEmailHandler) WithLogger(logger Logger) *RequestActivationEmailHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *RequestActivationEmailHandler) Execute(ctx context.Context, event RequestActivationEmailMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during activation email request",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RequestActivationEmailHandler) execute(ctx context.Context, event RequestActivationEmailMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	user, err := h.repo.Users().GetByUsername(ctx, event.Username)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return ErrUserNotFound
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load user")
	}

	if !event.ActorIsSuperuser && event.ActorID != user.ID.String() {
		return ErrNotResourceOwner
	}

	if user.IsEmailActivated {
		return ErrAlreadyVerified
	}

	if err := h.throttle.Check(ctx, user.ID, EmailTypeVerification); err != nil {
		return err
	}

	if err := h.emailer.Send(ctx, user); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to send activation email")
	}

	return nil
}
