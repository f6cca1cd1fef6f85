package store

import "errors"

// Sentinel errors for the store package.
var (
	// ErrNotFound is returned when a user or message cannot be found.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicateEntry is returned when a unique constraint is violated,
	// such as a taken username.
	ErrDuplicateEntry = errors.New("store: duplicate entry")

	// ErrNotConnected is returned when operations are attempted before Connect().
	ErrNotConnected = errors.New("store: not connected")

	// ErrAlreadyConnected is returned when Connect() is called twice.
	ErrAlreadyConnected = errors.New("store: already connected")

	// ErrEmptyRecipients is returned when a message has no recipients.
	ErrEmptyRecipients = errors.New("store: empty recipients")

	// ErrTransactionFailed is returned when a database transaction fails.
	// No changes were made.
	ErrTransactionFailed = errors.New("store: transaction failed")
)

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDuplicateEntry reports whether err wraps ErrDuplicateEntry.
func IsDuplicateEntry(err error) bool {
	return errors.Is(err, ErrDuplicateEntry)
}
