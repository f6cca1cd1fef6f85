package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rbaliyan/dmbox/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"
)

func (s *Store) CreateUser(ctx context.Context, username, passwordHash string) (*store.User, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	now := time.Now().UTC().Truncate(time.Millisecond)
	u := &store.User{
		ID:           store.NewID(),
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if _, err := s.users.InsertOne(ctx, u); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, store.ErrDuplicateEntry
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

func (s *Store) FindUserByID(ctx context.Context, id string) (*store.User, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	return s.findUser(ctx, bson.M{"_id": id})
}

func (s *Store) FindUserByUsername(ctx context.Context, username string) (*store.User, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	return s.findUser(ctx, bson.M{"username": username})
}

func (s *Store) findUser(ctx context.Context, filter bson.M) (*store.User, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var u store.User
	if err := s.users.FindOne(ctx, filter).Decode(&u); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &u, nil
}

func (s *Store) FindUsersByIDs(ctx context.Context, ids []string) ([]store.User, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	valid := store.FilterValidIDs(ids)
	if len(valid) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	cur, err := s.users.Find(ctx, bson.M{"_id": bson.M{"$in": valid}})
	if err != nil {
		return nil, fmt.Errorf("find users: %w", err)
	}
	var users []store.User
	if err := cur.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}
	return users, nil
}

func (s *Store) UpdatePassword(ctx context.Context, id, passwordHash string, at time.Time) (*store.User, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var u store.User
	err := s.users.FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"password_hash": passwordHash, "updated_at": at.UTC()}},
		mongoopts.FindOneAndUpdate().SetReturnDocument(mongoopts.After),
	).Decode(&u)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("update password: %w", err)
	}
	return &u, nil
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	return s.inTx(ctx, func(ctx context.Context) error {
		res, err := s.users.DeleteOne(ctx, bson.M{"_id": id})
		if err != nil {
			return fmt.Errorf("delete user: %w", err)
		}
		if res.DeletedCount == 0 {
			return store.ErrNotFound
		}

		sent, err := s.messageIDsBySender(ctx, id)
		if err != nil {
			return err
		}
		if len(sent) > 0 {
			if _, err := s.deliveries.DeleteMany(ctx, bson.M{"message_id": bson.M{"$in": sent}}); err != nil {
				return fmt.Errorf("delete sent deliveries: %w", err)
			}
			if _, err := s.messages.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": sent}}); err != nil {
				return fmt.Errorf("delete sent messages: %w", err)
			}
		}

		if _, err := s.deliveries.DeleteMany(ctx, bson.M{"user_id": id}); err != nil {
			return fmt.Errorf("delete deliveries: %w", err)
		}
		return nil
	})
}

func (s *Store) messageIDsBySender(ctx context.Context, senderID string) ([]string, error) {
	cur, err := s.messages.Find(ctx, bson.M{"sender_id": senderID},
		mongoopts.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, fmt.Errorf("find sent messages: %w", err)
	}
	var docs []struct {
		ID string `bson:"_id"`
	}
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode sent messages: %w", err)
	}
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	return ids, nil
}
