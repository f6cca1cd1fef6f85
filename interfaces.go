package dmbox

import (
	"context"
)

// ServiceHealth provides health and state information about the service.
type ServiceHealth interface {
	// IsConnected returns true if the service is connected and ready.
	IsConnected() bool
}

// Service manages the messaging system (server-side).
// It owns the store connection and hands out per-user clients.
type Service interface {
	ServiceHealth

	// Connect establishes connections to storage and the event bus.
	Connect(ctx context.Context) error
	// Close waits for in-flight sends, then closes all connections.
	Close(ctx context.Context) error
	// Client returns a mailbox client acting as the given user.
	// The user ID must come from a verified source such as a token.
	// Connection state is checked lazily on each operation.
	Client(userID string) Mailbox
	// Events returns per-service event instances.
	Events() *ServiceEvents
}

// MessageSender sends messages.
type MessageSender interface {
	// Send creates a message and one delivery per distinct recipient,
	// atomically, and returns the new message ID.
	Send(ctx context.Context, req SendRequest) (string, error)
}

// MessageLister lists messages.
type MessageLister interface {
	// List returns every message the user sent and every message delivered
	// to them that they have not deleted, newest first. Deliveries to the
	// user are marked received as a side effect.
	List(ctx context.Context) ([]MessageView, error)
}

// MessageDeleter deletes messages.
type MessageDeleter interface {
	// Delete removes messages by ID. Messages the user sent are deleted for
	// everyone; messages the user received are hidden for the user only.
	// IDs the user has no relation to are ignored.
	Delete(ctx context.Context, messageIDs []string) error
}

// Mailbox is one user's view of the messaging system.
type Mailbox interface {
	UserID() string
	MessageSender
	MessageLister
	MessageDeleter
}
