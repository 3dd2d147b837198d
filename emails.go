package identity

import (
	"context"
	"fmt"
)

// ActivationEmailer builds and dispatches activation emails: mint a
// verification token, enqueue the templated message, then append the
// ledger row. The workflows that send activation mail (registration,
// re-request, email change) all funnel through here so there is exactly
// one ledger row per dispatched email.
type ActivationEmailer struct {
	repo       RepositoryManager
	tokens     TokenGenerator
	dispatcher EmailDispatcher
	logger     Logger
}

// NewActivationEmailer wires the activation email pipeline.
func NewActivationEmailer(repo RepositoryManager, tokens TokenGenerator, dispatcher EmailDispatcher, logger Logger) *ActivationEmailer {
	if logger == nil {
		logger = defLogger{}
	}
	return &ActivationEmailer{
		repo:       repo,
		tokens:     tokens,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Send dispatches one activation email and records it in the ledger.
// Dispatch and ledger append are each best effort relative to the other:
// a failed enqueue still records the attempt, matching the at-least-once
// contract of the callers.
func (m *ActivationEmailer) Send(ctx context.Context, user *User) error {
	token, err := m.tokens.MakeToken(ctx, user)
	if err != nil {
		return err
	}

	msg := EmailMessage{
		UserID:    user.ID,
		Recipient: user.Email,
		EmailType: EmailTypeVerification,
		Context: map[string]string{
			"username":       user.Username,
			"activation_url": fmt.Sprintf("/users/activate/%s/%s", EncodeUID(user.ID), token),
		},
	}

	if err := m.dispatcher.DispatchEmail(ctx, msg); err != nil {
		m.logger.Error("failed to enqueue activation email for %s: %v", user.Email, err)
	}

	if _, err := m.repo.EmailLogs().Append(ctx, user.ID, EmailTypeVerification); err != nil {
		return err
	}

	return nil
}
