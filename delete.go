package dmbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rbaliyan/dmbox/store"
	"go.opentelemetry.io/otel/attribute"
)

// Delete processes each ID independently. A message the user sent is
// removed for everyone together with its deliveries. A message delivered to
// the user is hidden for the user only, once. Any other ID, including a
// malformed one, is ignored.
//
// A store failure on any ID aborts the call; IDs before it stay processed.
func (m *userMailbox) Delete(ctx context.Context, messageIDs []string) error {
	if err := m.checkAccess(); err != nil {
		return err
	}
	if len(messageIDs) == 0 {
		return NewValidationError("messageIDs", ErrEmptyMessageIDs, "at least one message id is required")
	}

	ctx, endSpan := m.service.otel.startSpan(ctx, "dmbox.delete",
		attribute.String("user_id", m.userID),
		attribute.Int("id_count", len(messageIDs)),
	)
	start := time.Now()
	var deleteErr error
	defer func() {
		endSpan(deleteErr)
		m.service.otel.recordDelete(ctx, time.Since(start), len(messageIDs), deleteErr)
	}()

	ids := store.FilterValidIDs(messageIDs)
	if len(ids) == 0 {
		return nil
	}

	msgs, err := m.service.store.FindMessages(ctx, ids)
	if err != nil {
		deleteErr = fmt.Errorf("find messages: %w", err)
		return deleteErr
	}
	senders := make(map[string]string, len(msgs))
	for _, msg := range msgs {
		senders[msg.ID] = msg.SenderID
	}

	var published []error
	for _, id := range ids {
		senderID, ok := senders[id]
		if !ok {
			continue
		}

		permanent := senderID == m.userID
		changed, err := m.deleteOne(ctx, id, permanent)
		if err != nil {
			deleteErr = err
			return deleteErr
		}
		if !changed {
			continue
		}

		m.service.logger.Debug("message deleted",
			"message_id", id, "user_id", m.userID, "permanent", permanent)
		if err := publish(ctx, m.service.opts, m.service.events.MessageDeleted, "MessageDeleted", id, MessageDeletedEvent{
			MessageID: id,
			UserID:    m.userID,
			Permanent: permanent,
			DeletedAt: m.service.opts.now(),
		}); err != nil {
			published = append(published, err)
		}
	}
	return errors.Join(published...)
}

// deleteOne hard-deletes for the sender and soft-deletes for anyone else.
// It reports whether anything changed.
func (m *userMailbox) deleteOne(ctx context.Context, id string, permanent bool) (bool, error) {
	if permanent {
		err := m.service.store.DeleteMessage(ctx, id)
		switch {
		case err == nil:
			return true, nil
		case store.IsNotFound(err):
			// Deleted concurrently.
			return false, nil
		default:
			return false, fmt.Errorf("delete message %s: %w", id, err)
		}
	}

	changed, err := m.service.store.SoftDeleteDelivery(ctx, id, m.userID, m.service.opts.now())
	if err != nil {
		return false, fmt.Errorf("soft delete message %s: %w", id, err)
	}
	return changed, nil
}
