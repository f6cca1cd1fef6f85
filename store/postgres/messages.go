package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rbaliyan/dmbox/store"
)

const messageColumns = `m.id, m.sender_id, m.text_content, m.sent_at`

const deliveryColumns = `id, message_id, user_id, seq, received_at, deleted_at, created_at`

func (s *Store) CreateMessage(ctx context.Context, senderID string, text *string, sentAt time.Time, recipientIDs []string) (*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if len(recipientIDs) == 0 {
		return nil, store.ErrEmptyRecipients
	}
	if !store.ValidID(senderID) {
		return nil, store.ErrNotFound
	}
	for _, rid := range recipientIDs {
		if !store.ValidID(rid) {
			return nil, store.ErrNotFound
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	msg := &store.Message{
		ID:       store.NewID(),
		SenderID: senderID,
		Text:     store.CloneText(text),
		SentAt:   sentAt.UTC(),
	}

	ids := make([]string, len(recipientIDs))
	seqs := make([]int64, len(recipientIDs))
	for i := range recipientIDs {
		ids[i] = store.NewID()
		seqs[i] = int64(i)
	}

	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO messages (id, sender_id, text_content, sent_at)
			VALUES ($1, $2, $3, $4)
		`, msg.ID, msg.SenderID, msg.Text, msg.SentAt)
		if err != nil {
			return fmt.Errorf("insert message: %w", mapError(err))
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO message_recipients (id, message_id, user_id, seq, created_at)
			SELECT unnest($1::uuid[]), $2, unnest($3::uuid[]), unnest($4::int[]), $5
		`, pq.Array(ids), msg.ID, pq.Array(recipientIDs), pq.Array(seqs), msg.SentAt)
		if err != nil {
			return fmt.Errorf("insert deliveries: %w", mapError(err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return msg, nil
}

func (s *Store) FindSent(ctx context.Context, senderID string) ([]store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if !store.ValidID(senderID) {
		return nil, nil
	}
	return s.selectMessages(ctx, `
		SELECT `+messageColumns+` FROM messages m
		WHERE m.sender_id = $1
		ORDER BY m.sent_at DESC, m.id
	`, senderID)
}

func (s *Store) FindReceived(ctx context.Context, recipientID string) ([]store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if !store.ValidID(recipientID) {
		return nil, nil
	}
	return s.selectMessages(ctx, `
		SELECT `+messageColumns+` FROM messages m
		WHERE EXISTS (
			SELECT 1 FROM message_recipients r
			WHERE r.message_id = m.id AND r.user_id = $1 AND r.deleted_at IS NULL
		)
		ORDER BY m.sent_at DESC, m.id
	`, recipientID)
}

func (s *Store) FindMessages(ctx context.Context, ids []string) ([]store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	valid := store.FilterValidIDs(ids)
	if len(valid) == 0 {
		return nil, nil
	}
	return s.selectMessages(ctx, `
		SELECT `+messageColumns+` FROM messages m
		WHERE m.id = ANY($1::uuid[])
	`, pq.Array(valid))
}

func (s *Store) selectMessages(ctx context.Context, query string, args ...any) ([]store.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var msgs []store.Message
	if err := s.db.SelectContext(ctx, &msgs, query, args...); err != nil {
		return nil, fmt.Errorf("select messages: %w", err)
	}
	return msgs, nil
}

func (s *Store) FindDeliveries(ctx context.Context, messageIDs []string) ([]store.Delivery, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	valid := store.FilterValidIDs(messageIDs)
	if len(valid) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var ds []store.Delivery
	err := s.db.SelectContext(ctx, &ds, `
		SELECT `+deliveryColumns+` FROM message_recipients
		WHERE message_id = ANY($1::uuid[])
		ORDER BY message_id, seq, created_at
	`, pq.Array(valid))
	if err != nil {
		return nil, fmt.Errorf("select deliveries: %w", err)
	}
	store.SortDeliveries(ds)
	return ds, nil
}

func (s *Store) MarkReceived(ctx context.Context, recipientID string, at time.Time) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}
	if !store.ValidID(recipientID) {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	result, err := s.db.ExecContext(ctx, `
		UPDATE message_recipients SET received_at = $2
		WHERE user_id = $1 AND received_at IS NULL AND deleted_at IS NULL
	`, recipientID, at.UTC())
	if err != nil {
		return 0, fmt.Errorf("mark received: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return rows, nil
}

func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if !store.ValidID(id) {
		return store.ErrNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	result, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) SoftDeleteDelivery(ctx context.Context, messageID, recipientID string, at time.Time) (bool, error) {
	if err := s.checkConnected(); err != nil {
		return false, err
	}
	if !store.ValidID(messageID) || !store.ValidID(recipientID) {
		return false, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	result, err := s.db.ExecContext(ctx, `
		UPDATE message_recipients SET deleted_at = $3
		WHERE message_id = $1 AND user_id = $2 AND deleted_at IS NULL
	`, messageID, recipientID, at.UTC())
	if err != nil {
		return false, fmt.Errorf("soft delete delivery: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return rows > 0, nil
}
