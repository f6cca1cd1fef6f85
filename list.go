package dmbox

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rbaliyan/dmbox/retry"
	"github.com/rbaliyan/dmbox/store"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// List returns the user's sent messages merged with the messages delivered
// to them and not deleted by them, ordered by SentAt descending with ties
// broken by ID ascending.
//
// Before returning, every undeleted delivery to the user that has not been
// received is marked received. That step is best-effort: it is retried, and
// a final failure is logged without failing the list.
func (m *userMailbox) List(ctx context.Context) ([]MessageView, error) {
	if err := m.checkAccess(); err != nil {
		return nil, err
	}

	ctx, endSpan := m.service.otel.startSpan(ctx, "dmbox.list",
		attribute.String("user_id", m.userID),
	)
	start := time.Now()
	var (
		views   []MessageView
		listErr error
	)
	defer func() {
		endSpan(listErr)
		m.service.otel.recordList(ctx, time.Since(start), len(views), listErr)
	}()

	views, listErr = m.loadViews(ctx)
	if listErr != nil {
		return nil, listErr
	}

	m.markReceived(ctx)
	return views, nil
}

func (m *userMailbox) loadViews(ctx context.Context) ([]MessageView, error) {
	var sent, received []store.Message
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if sent, err = m.service.store.FindSent(gctx, m.userID); err != nil {
			return fmt.Errorf("find sent: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if received, err = m.service.store.FindReceived(gctx, m.userID); err != nil {
			return fmt.Errorf("find received: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	msgs := mergeMessages(sent, received)
	if len(msgs) == 0 {
		return []MessageView{}, nil
	}

	ids := make([]string, len(msgs))
	for i, msg := range msgs {
		ids[i] = msg.ID
	}
	deliveries, err := m.service.store.FindDeliveries(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("find deliveries: %w", err)
	}
	byMessage := make(map[string][]store.Delivery, len(msgs))
	userIDs := make([]string, 0, len(msgs)+len(deliveries))
	for _, d := range deliveries {
		byMessage[d.MessageID] = append(byMessage[d.MessageID], d)
		userIDs = append(userIDs, d.RecipientID)
	}
	for _, msg := range msgs {
		userIDs = append(userIDs, msg.SenderID)
	}

	users, err := resolveUsers(ctx, m.service.directory, deduplicateRecipients(userIDs))
	if err != nil {
		return nil, fmt.Errorf("resolve users: %w", err)
	}

	views := make([]MessageView, 0, len(msgs))
	for _, msg := range msgs {
		// A user deleted since the reads above takes their sent messages
		// and deliveries with them; skip what they left behind.
		if _, ok := users[msg.SenderID]; !ok {
			m.service.logger.Debug("skipping message from deleted sender",
				"message_id", msg.ID, "sender_id", msg.SenderID)
			continue
		}
		v, err := buildEnvelope(msg, resolvedDeliveries(byMessage[msg.ID], users), users)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}

// resolvedDeliveries keeps the deliveries whose recipient still exists.
func resolvedDeliveries(ds []store.Delivery, users map[string]store.User) []store.Delivery {
	out := make([]store.Delivery, 0, len(ds))
	for _, d := range ds {
		if _, ok := users[d.RecipientID]; ok {
			out = append(out, d)
		}
	}
	return out
}

// mergeMessages combines sent and received messages without duplicates and
// sorts them newest first, ties by ID.
func mergeMessages(sent, received []store.Message) []store.Message {
	seen := make(map[string]struct{}, len(sent)+len(received))
	out := make([]store.Message, 0, len(sent)+len(received))
	for _, set := range [][]store.Message{sent, received} {
		for _, msg := range set {
			if _, ok := seen[msg.ID]; ok {
				continue
			}
			seen[msg.ID] = struct{}{}
			out = append(out, msg)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SentAt.Equal(out[j].SentAt) {
			return out[i].SentAt.After(out[j].SentAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *userMailbox) markReceived(ctx context.Context) {
	cfg := m.service.opts.markReceivedRetry
	if cfg.IsRetryable == nil {
		cfg.IsRetryable = IsRetryableError
	}
	if cfg.OnRetry == nil {
		cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
			m.service.logger.Debug("retrying mark received",
				"user_id", m.userID, "attempt", attempt, "delay", delay, "error", err)
		}
	}

	at := m.service.opts.now()
	n, err := retry.DoWithResult(ctx, cfg, func(ctx context.Context) (int64, error) {
		return m.service.store.MarkReceived(ctx, m.userID, at)
	})
	if err != nil {
		m.service.logger.Warn("failed to mark messages received", "user_id", m.userID, "error", err)
		return
	}
	m.service.otel.recordMarkReceived(ctx, n)
	if n == 0 {
		return
	}

	if err := publish(ctx, m.service.opts, m.service.events.MessagesReceived, "MessagesReceived", "", MessagesReceivedEvent{
		UserID:     m.userID,
		Count:      n,
		ReceivedAt: at,
	}); err != nil {
		m.service.logger.Warn("failed to publish received event", "user_id", m.userID, "error", err)
	}
}
