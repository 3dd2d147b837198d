package identity

import (
	"context"
	"fmt"
	"time"

	goerrors "github.com/goliatone/go-errors"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

type InitializePasswordResetMessage struct {
	Email      string `json:"email"`
	OnResponse func(res *InitializePasswordResetResponse)
}

func (e InitializePasswordResetMessage) Type() string { return "user.password_reset_initialize" }

// InitializePasswordResetResponse reports whether an email actually
// went out. Callers must not surface this to the requester: the HTTP
// response is identical for known and unknown addresses.
type InitializePasswordResetResponse struct {
	Dispatched bool
}

// InitializePasswordResetHandler mints a reset token, records it on the
// user row, writes the ledger entry in the same transaction and then
// enqueues the reset email.
type InitializePasswordResetHandler struct {
	repo       RepositoryManager
	tokens     *ResetTokens
	throttle   *EmailThrottle
	dispatcher EmailDispatcher
	logger     Logger
}

func NewInitializePasswordResetHandler(repo RepositoryManager, tokens *ResetTokens, throttle *EmailThrottle, dispatcher EmailDispatcher) *InitializePasswordResetHandler {
	return &InitializePasswordResetHandler{
		repo:       repo,
		tokens:     tokens,
		throttle:   throttle,
		dispatcher: dispatcher,
		logger:     defLogger{},
	}
}

func (h *InitializePasswordResetHandler) WithLogger(logger Logger) *InitializePasswordResetHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *InitializePasswordResetHandler) Execute(ctx context.Context, event InitializePasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset request",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *InitializePasswordResetHandler) execute(ctx context.Context, event InitializePasswordResetMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	respond := func(dispatched bool) {
		if event.OnResponse != nil {
			event.OnResponse(&InitializePasswordResetResponse{Dispatched: dispatched})
		}
	}

	user, err := h.repo.Users().GetByEmail(ctx, event.Email)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			// unknown addresses succeed silently to avoid
			// account enumeration
			respond(false)
			return nil
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load user")
	}

	if err := h.throttle.Check(ctx, user.ID, EmailTypePasswordReset); err != nil {
		return err
	}

	var token string
	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if token, err = h.tokens.MakeTokenTx(ctx, tx, user); err != nil {
			return err
		}
		_, err := h.repo.EmailLogs().AppendTx(ctx, tx, user.ID, EmailTypePasswordReset)
		return err
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "password reset transaction failed")
	}

	msg := EmailMessage{
		UserID:    user.ID,
		Recipient: user.Email,
		EmailType: EmailTypePasswordReset,
		Context: map[string]string{
			"username":  user.Username,
			"reset_url": fmt.Sprintf("/users/reset-password/%s/%s", EncodeUID(user.ID), token),
		},
	}

	if err := h.dispatcher.DispatchEmail(ctx, msg); err != nil {
		h.logger.Error("failed to enqueue password reset email for %s: %v", user.Username, err)
	}

	respond(true)

	return nil
}
