// Package store provides interfaces and types for direct-message storage.
// Implementations are in store/memory, store/postgres, and store/mongo subpackages.
//
// # Atomicity
//
// The store never relies on external locks. Every multi-row write is a single
// database transaction (PostgreSQL BEGIN/COMMIT, MongoDB session transaction,
// or one critical section for the memory store):
//
//   - CreateMessage writes the message and all of its deliveries, or nothing.
//   - DeleteMessage removes the message and all of its deliveries.
//   - DeleteUser removes the user, their deliveries, and their sent messages.
//
// Single-row state changes are conditional updates, so concurrent callers
// converge without coordination:
//
//	UPDATE message_recipients SET received_at = $2
//	WHERE user_id = $1 AND received_at IS NULL AND deleted_at IS NULL
//
// A hard delete racing a soft delete on the same message leaves no dangling
// delivery: the soft delete either finds nothing to update or updates a row
// the cascade removes.
package store

import (
	"context"
	"time"
)

// Store is the storage interface for users, messages and deliveries.
//
// All operations must be safe for concurrent use.
type Store interface {
	// Lifecycle
	Connect(ctx context.Context) error
	Close(ctx context.Context) error

	UserStore
	MessageStore
}

// UserStore manages user records. The messaging core only reads from it.
type UserStore interface {
	// CreateUser inserts a user with a generated ID.
	// Returns ErrDuplicateEntry if the username is taken.
	CreateUser(ctx context.Context, username, passwordHash string) (*User, error)

	// FindUserByID returns ErrNotFound if no user has the ID.
	FindUserByID(ctx context.Context, id string) (*User, error)

	// FindUserByUsername matches the username exactly (case-sensitive).
	FindUserByUsername(ctx context.Context, username string) (*User, error)

	// FindUsersByIDs returns the existing users among ids. Unknown or
	// malformed IDs are skipped. Order is unspecified.
	FindUsersByIDs(ctx context.Context, ids []string) ([]User, error)

	// UpdatePassword replaces the password hash and bumps UpdatedAt.
	UpdatePassword(ctx context.Context, id, passwordHash string, at time.Time) (*User, error)

	// DeleteUser removes the user together with every delivery addressed to
	// them and every message they sent. Returns ErrNotFound if absent.
	DeleteUser(ctx context.Context, id string) error
}

// MessageStore manages messages and their per-recipient deliveries.
type MessageStore interface {
	// CreateMessage atomically creates a message and one delivery per
	// recipient, in recipient order. Returns ErrEmptyRecipients if
	// recipientIDs is empty.
	CreateMessage(ctx context.Context, senderID string, text *string, sentAt time.Time, recipientIDs []string) (*Message, error)

	// FindSent returns messages whose sender is senderID.
	FindSent(ctx context.Context, senderID string) ([]Message, error)

	// FindReceived returns messages with a delivery to recipientID that has
	// not been soft-deleted.
	FindReceived(ctx context.Context, recipientID string) ([]Message, error)

	// FindMessages returns the existing messages among ids.
	FindMessages(ctx context.Context, ids []string) ([]Message, error)

	// FindDeliveries returns every delivery of the given messages, including
	// soft-deleted ones, ordered by creation.
	FindDeliveries(ctx context.Context, messageIDs []string) ([]Delivery, error)

	// MarkReceived sets ReceivedAt on every delivery to recipientID that is
	// neither received nor deleted. Returns the number of deliveries changed.
	MarkReceived(ctx context.Context, recipientID string, at time.Time) (int64, error)

	// DeleteMessage removes the message and all of its deliveries.
	// Returns ErrNotFound if absent.
	DeleteMessage(ctx context.Context, id string) error

	// SoftDeleteDelivery sets DeletedAt on the (messageID, recipientID)
	// delivery if it exists and is not already deleted. Reports whether a
	// delivery changed.
	SoftDeleteDelivery(ctx context.Context, messageID, recipientID string, at time.Time) (bool, error)
}
