package identity

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

type ActivateAccountMessage struct {
	UID   string `json:"uid"`
	Token string `json:"token"`
}

func (e ActivateAccountMessage) Type() string { return "user.activate_account" }

// ActivateAccountHandler consumes an activation link. Every failure mode
// collapses to the same invalid-token error so the endpoint leaks nothing
// about which accounts exist.
type ActivateAccountHandler struct {
	repo    RepositoryManager
	tokens  TokenGenerator
	machine ActivationStateMachine
	logger  Logger
}

func NewActivateAccountHandler(repo RepositoryManager, tokens TokenGenerator, machine ActivationStateMachine) *ActivateAccountHandler {
	return &ActivateAccountHandler{
		repo:    repo,
		tokens:  tokens,
		machine: machine,
		logger:  defLogger{},
	}
}

func (h *ActivateAccountHandler) WithLogger(logger Logger) *ActivateAccountHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *ActivateAccountHandler) Execute(ctx context.Context, event ActivateAccountMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during account activation",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *ActivateAccountHandler) execute(ctx context.Context, event ActivateAccountMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	user, ok := ResolveUID(ctx, h.repo.Users(), event.UID)
	if !ok {
		return ErrInvalidToken
	}

	if !h.tokens.CheckToken(ctx, user, event.Token) {
		return ErrInvalidToken
	}

	if err := h.machine.Verify(ctx, user); err != nil {
		h.logger.Debug("activation rejected for user %s: %v", user.ID, err)
		return ErrInvalidToken
	}

	return nil
}
