package dmbox

import (
	"context"
	"fmt"
	"time"

	"github.com/rbaliyan/dmbox/store"
	"go.opentelemetry.io/otel/attribute"
)

// Send validates the request, stores the message with one delivery per
// distinct recipient in a single transaction, and returns the message ID.
//
// If event errors are fatal and the MessageSent event fails to publish, the
// message ID is returned together with an *EventPublishError.
func (m *userMailbox) Send(ctx context.Context, req SendRequest) (string, error) {
	if err := m.checkAccess(); err != nil {
		return "", err
	}

	// Deduplicate first so limits apply to distinct recipients.
	recipients := deduplicateRecipients(req.RecipientIDs)
	limits := Limits{
		MaxRecipients: m.service.opts.maxRecipients,
		MaxTextLength: m.service.opts.maxTextLength,
	}
	if err := ValidateRecipients(m.userID, recipients, limits); err != nil {
		return "", err
	}
	if err := ValidateText(req.Text, limits); err != nil {
		return "", err
	}

	ctx, endSpan := m.service.otel.startSpan(ctx, "dmbox.send",
		attribute.String("user_id", m.userID),
		attribute.Int("recipient_count", len(recipients)),
	)
	start := time.Now()
	var sendErr error
	defer func() {
		endSpan(sendErr)
		m.service.otel.recordSend(ctx, time.Since(start), len(recipients), sendErr)
	}()

	if err := m.service.sendSem.Acquire(ctx, 1); err != nil {
		sendErr = err
		return "", sendErr
	}
	defer m.service.sendSem.Release(1)

	if err := m.checkRecipientsExist(ctx, recipients); err != nil {
		sendErr = err
		return "", sendErr
	}

	req = SendRequest{RecipientIDs: recipients, Text: store.CloneText(req.Text)}
	if err := m.service.plugins.beforeSend(ctx, m.userID, req); err != nil {
		sendErr = err
		return "", sendErr
	}

	msg, err := m.service.store.CreateMessage(ctx, m.userID, req.Text, m.service.opts.now(), recipients)
	if err != nil {
		sendErr = m.mapCreateError(ctx, err)
		return "", sendErr
	}

	m.service.logger.Debug("message sent",
		"message_id", msg.ID, "sender_id", m.userID, "recipients", len(recipients))

	if err := m.service.plugins.afterSend(ctx, m.userID, msg.ID); err != nil {
		m.service.logger.Warn("after-send hook failed", "message_id", msg.ID, "error", err)
	}

	if err := publish(ctx, m.service.opts, m.service.events.MessageSent, "MessageSent", msg.ID, MessageSentEvent{
		MessageID:    msg.ID,
		SenderID:     m.userID,
		RecipientIDs: recipients,
		SentAt:       msg.SentAt,
	}); err != nil {
		return msg.ID, err
	}
	return msg.ID, nil
}

// checkRecipientsExist compares the number of distinct users found to the
// number of distinct IDs requested.
func (m *userMailbox) checkRecipientsExist(ctx context.Context, recipients []string) error {
	found, err := resolveUsers(ctx, m.service.directory, recipients)
	if err != nil {
		return fmt.Errorf("resolve recipients: %w", err)
	}
	if len(found) == len(recipients) {
		return nil
	}
	for _, id := range recipients {
		if _, ok := found[id]; !ok {
			return NewValidationError("recipientIDs", ErrUnknownRecipient, "recipient %q does not exist", id)
		}
	}
	return NewValidationError("recipientIDs", ErrUnknownRecipient, "unknown recipient")
}

// mapCreateError turns a foreign-key failure into the matching request
// error. A deleted sender whose token is still valid gets ErrUnauthorized;
// otherwise a recipient was deleted after validation.
func (m *userMailbox) mapCreateError(ctx context.Context, err error) error {
	if !store.IsNotFound(err) {
		return fmt.Errorf("create message: %w", err)
	}
	// The store, not the directory, so a cached sender is not trusted.
	if _, lookupErr := m.service.store.FindUserByID(ctx, m.userID); store.IsNotFound(lookupErr) {
		return fmt.Errorf("%w: sender account no longer exists", ErrUnauthorized)
	}
	return NewValidationError("recipientIDs", ErrUnknownRecipient, "recipient no longer exists")
}
