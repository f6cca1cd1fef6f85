package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/rbaliyan/dmbox/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"
)

// newestFirst orders messages by sent time, ties by ID.
var newestFirst = bson.D{{Key: "sent_at", Value: -1}, {Key: "_id", Value: 1}}

func (s *Store) CreateMessage(ctx context.Context, senderID string, text *string, sentAt time.Time, recipientIDs []string) (*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if len(recipientIDs) == 0 {
		return nil, store.ErrEmptyRecipients
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	sentAt = sentAt.UTC()
	msg := &store.Message{
		ID:       store.NewID(),
		SenderID: senderID,
		Text:     store.CloneText(text),
		SentAt:   sentAt,
	}

	docs := make([]any, 0, len(recipientIDs))
	for i, rid := range recipientIDs {
		docs = append(docs, store.Delivery{
			ID:          store.NewID(),
			MessageID:   msg.ID,
			RecipientID: rid,
			CreatedAt:   sentAt,
			Seq:         i,
		})
	}

	referenced := distinct(append([]string{senderID}, recipientIDs...))

	err := s.inTx(ctx, func(ctx context.Context) error {
		// MongoDB has no foreign keys. Touching the referenced users makes a
		// concurrent DeleteUser conflict with this transaction; a plain read
		// would not.
		res, err := s.users.UpdateMany(ctx,
			bson.M{"_id": bson.M{"$in": referenced}},
			bson.M{"$inc": bson.M{refSeqField: 1}})
		if err != nil {
			return fmt.Errorf("lock users: %w", err)
		}
		if int(res.MatchedCount) != len(referenced) {
			return store.ErrNotFound
		}

		if _, err := s.messages.InsertOne(ctx, msg); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		if _, err := s.deliveries.InsertMany(ctx, docs); err != nil {
			return fmt.Errorf("insert deliveries: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func distinct(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

func (s *Store) FindSent(ctx context.Context, senderID string) ([]store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	return s.findMessages(ctx, bson.M{"sender_id": senderID})
}

func (s *Store) FindReceived(ctx context.Context, recipientID string) ([]store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ds, err := s.findDeliveries(ctx, bson.M{"user_id": recipientID, "deleted_at": nil})
	if err != nil {
		return nil, err
	}
	if len(ds) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(ds))
	for _, d := range ds {
		ids = append(ids, d.MessageID)
	}
	return s.findMessages(ctx, bson.M{"_id": bson.M{"$in": ids}})
}

func (s *Store) FindMessages(ctx context.Context, ids []string) ([]store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	valid := store.FilterValidIDs(ids)
	if len(valid) == 0 {
		return nil, nil
	}
	return s.findMessages(ctx, bson.M{"_id": bson.M{"$in": valid}})
}

func (s *Store) findMessages(ctx context.Context, filter bson.M) ([]store.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	cur, err := s.messages.Find(ctx, filter, mongoopts.Find().SetSort(newestFirst))
	if err != nil {
		return nil, fmt.Errorf("find messages: %w", err)
	}
	var msgs []store.Message
	if err := cur.All(ctx, &msgs); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
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
	ds, err := s.findDeliveries(ctx, bson.M{"message_id": bson.M{"$in": valid}})
	if err != nil {
		return nil, err
	}
	store.SortDeliveries(ds)
	return ds, nil
}

func (s *Store) findDeliveries(ctx context.Context, filter bson.M) ([]store.Delivery, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	cur, err := s.deliveries.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("find deliveries: %w", err)
	}
	var ds []store.Delivery
	if err := cur.All(ctx, &ds); err != nil {
		return nil, fmt.Errorf("decode deliveries: %w", err)
	}
	return ds, nil
}

func (s *Store) MarkReceived(ctx context.Context, recipientID string, at time.Time) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	res, err := s.deliveries.UpdateMany(ctx,
		bson.M{"user_id": recipientID, "received_at": nil, "deleted_at": nil},
		bson.M{"$set": bson.M{"received_at": at.UTC()}},
	)
	if err != nil {
		return 0, fmt.Errorf("mark received: %w", err)
	}
	return res.ModifiedCount, nil
}

func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	return s.inTx(ctx, func(ctx context.Context) error {
		res, err := s.messages.DeleteOne(ctx, bson.M{"_id": id})
		if err != nil {
			return fmt.Errorf("delete message: %w", err)
		}
		if res.DeletedCount == 0 {
			return store.ErrNotFound
		}
		if _, err := s.deliveries.DeleteMany(ctx, bson.M{"message_id": id}); err != nil {
			return fmt.Errorf("delete deliveries: %w", err)
		}
		return nil
	})
}

func (s *Store) SoftDeleteDelivery(ctx context.Context, messageID, recipientID string, at time.Time) (bool, error) {
	if err := s.checkConnected(); err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	res, err := s.deliveries.UpdateOne(ctx,
		bson.M{"message_id": messageID, "user_id": recipientID, "deleted_at": nil},
		bson.M{"$set": bson.M{"deleted_at": at.UTC()}},
	)
	if err != nil {
		return false, fmt.Errorf("soft delete delivery: %w", err)
	}
	return res.ModifiedCount > 0, nil
}
