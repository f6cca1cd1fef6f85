package dmbox

import (
	"errors"
	"fmt"

	"github.com/rbaliyan/dmbox/store"
)

// Sentinel errors for the dmbox package.
// Use errors.Is() to check for these errors.
//
// Errors that wrap store-level errors match both, so
// errors.Is(err, dmbox.ErrNotFound) also matches store.ErrNotFound.
var (
	// ErrInvalidRequest is matched by every *ValidationError.
	ErrInvalidRequest = errors.New("dmbox: invalid request")

	// ErrEmptyRecipients is returned when a send has no recipients.
	// Wraps store.ErrEmptyRecipients for consistent error checking.
	ErrEmptyRecipients = fmt.Errorf("dmbox: %w", store.ErrEmptyRecipients)

	// ErrUnknownRecipient is returned when a recipient is not a registered user.
	ErrUnknownRecipient = errors.New("dmbox: unknown recipient")

	// ErrSelfRecipient is returned when the sender addresses themselves.
	ErrSelfRecipient = errors.New("dmbox: sender cannot be a recipient")

	// ErrTooManyRecipients is returned when recipient count exceeds the limit.
	ErrTooManyRecipients = errors.New("dmbox: too many recipients")

	// ErrTextTooLong is returned when message text exceeds the limit.
	ErrTextTooLong = errors.New("dmbox: text too long")

	// ErrInvalidText is returned when message text is not valid UTF-8 or
	// contains NUL bytes.
	ErrInvalidText = errors.New("dmbox: invalid text")

	// ErrEmptyMessageIDs is returned when a delete names no messages.
	ErrEmptyMessageIDs = errors.New("dmbox: empty message ids")

	// ErrInvalidUsername is returned when a username is empty or too long.
	ErrInvalidUsername = errors.New("dmbox: invalid username")

	// ErrInvalidPassword is returned when a password is too short or too long.
	ErrInvalidPassword = errors.New("dmbox: invalid password")

	// ErrNotFound is returned when a user or message cannot be found.
	// Wraps store.ErrNotFound for consistent error checking.
	ErrNotFound = fmt.Errorf("dmbox: %w", store.ErrNotFound)

	// ErrUnauthorized is returned for missing or bad credentials.
	// The message is the same for every cause.
	ErrUnauthorized = errors.New("invalid credentials")

	// ErrConflict is returned when a username is already taken.
	// Wraps store.ErrDuplicateEntry for consistent error checking.
	ErrConflict = fmt.Errorf("dmbox: conflict: %w", store.ErrDuplicateEntry)

	// ErrIntegrity is matched by every *IntegrityError.
	ErrIntegrity = errors.New("dmbox: integrity violation")

	// ErrStoreRequired is returned when no store is configured.
	ErrStoreRequired = errors.New("dmbox: store is required")

	// ErrNotConnected is returned when operations are attempted before
	// Connect(), or by a client bound to an invalid user ID.
	// Wraps store.ErrNotConnected for consistent error checking.
	ErrNotConnected = fmt.Errorf("dmbox: %w", store.ErrNotConnected)

	// ErrAlreadyConnected is returned when Connect() is called twice.
	// Wraps store.ErrAlreadyConnected for consistent error checking.
	ErrAlreadyConnected = fmt.Errorf("dmbox: %w", store.ErrAlreadyConnected)

	// ErrInvalidUserID is returned when a user ID contains invalid characters.
	ErrInvalidUserID = errors.New("dmbox: invalid user id")
)

// ValidationError describes a rejected request field.
// It matches ErrInvalidRequest and the specific sentinel in Err.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

// NewValidationError creates a *ValidationError for field matching sentinel.
func NewValidationError(field string, sentinel error, format string, args ...any) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf(format, args...),
		Err:     sentinel,
	}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrInvalidRequest}
	}
	return []error{ErrInvalidRequest, e.Err}
}

// IntegrityError reports stored data that violates a data-model invariant,
// such as a message whose sender no longer resolves to a user.
type IntegrityError struct {
	MessageID string
	Reason    string
}

func (e *IntegrityError) Error() string {
	if e.MessageID == "" {
		return "dmbox: integrity violation: " + e.Reason
	}
	return fmt.Sprintf("dmbox: integrity violation on message %s: %s", e.MessageID, e.Reason)
}

func (e *IntegrityError) Unwrap() error {
	return ErrIntegrity
}

// EventPublishError is returned when an event fails to publish and
// WithEventErrorsFatal is set. The operation itself has already succeeded.
type EventPublishError struct {
	Event     string
	MessageID string
	Err       error
}

func (e *EventPublishError) Error() string {
	return fmt.Sprintf("dmbox: publish %s for message %s: %v", e.Event, e.MessageID, e.Err)
}

func (e *EventPublishError) Unwrap() error {
	return e.Err
}

// IsValidationError reports whether err is a rejected request.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest)
}

// IsRetryableError reports whether err may succeed on retry.
// Request, lookup and credential failures are permanent.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	permanent := []error{
		ErrInvalidRequest,
		ErrNotFound,
		ErrUnauthorized,
		ErrConflict,
		ErrIntegrity,
		ErrInvalidUserID,
		store.ErrNotFound,
		store.ErrDuplicateEntry,
		store.ErrEmptyRecipients,
	}
	for _, p := range permanent {
		if errors.Is(err, p) {
			return false
		}
	}
	return true
}
