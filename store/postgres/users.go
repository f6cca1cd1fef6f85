package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rbaliyan/dmbox/store"
)

const userColumns = `id, username, password_hash, created_at, updated_at`

func (s *Store) CreateUser(ctx context.Context, username, passwordHash string) (*store.User, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	now := time.Now().UTC().Truncate(time.Microsecond)
	u := &store.User{
		ID:           store.NewID(),
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, u.ID, u.Username, u.PasswordHash, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		if err := mapError(err); store.IsDuplicateEntry(err) {
			return nil, err
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}

	return u, nil
}

func (s *Store) FindUserByID(ctx context.Context, id string) (*store.User, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if !store.ValidID(id) {
		return nil, store.ErrNotFound
	}
	return s.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (s *Store) FindUserByUsername(ctx context.Context, username string) (*store.User, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	return s.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
}

func (s *Store) getUser(ctx context.Context, query string, arg any) (*store.User, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var u store.User
	if err := s.db.GetContext(ctx, &u, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
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

	var users []store.User
	err := s.db.SelectContext(ctx, &users,
		`SELECT `+userColumns+` FROM users WHERE id = ANY($1::uuid[])`,
		pq.Array(valid),
	)
	if err != nil {
		return nil, fmt.Errorf("select users: %w", err)
	}
	return users, nil
}

func (s *Store) UpdatePassword(ctx context.Context, id, passwordHash string, at time.Time) (*store.User, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if !store.ValidID(id) {
		return nil, store.ErrNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var u store.User
	err := s.db.GetContext(ctx, &u, `
		UPDATE users SET password_hash = $2, updated_at = $3
		WHERE id = $1
		RETURNING `+userColumns,
		id, passwordHash, at.UTC(),
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("update password: %w", err)
	}
	return &u, nil
}

// DeleteUser removes the user's deliveries and sent messages before the
// user row, since both foreign keys to users restrict deletion.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if !store.ValidID(id) {
		return store.ErrNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		var locked string
		err := tx.GetContext(ctx, &locked, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.ErrNotFound
			}
			return fmt.Errorf("lock user: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM message_recipients WHERE user_id = $1`, id); err != nil {
			return fmt.Errorf("delete deliveries: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE sender_id = $1`, id); err != nil {
			return fmt.Errorf("delete sent messages: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id); err != nil {
			return fmt.Errorf("delete user: %w", err)
		}
		return nil
	})
}
