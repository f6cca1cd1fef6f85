package dmbox

import (
	"context"
	"fmt"
	"time"

	"github.com/rbaliyan/event/v3"
)

// Event names. Each service prefixes them with its bus name.
const (
	EventNameMessageSent      = "dmbox.message.sent"
	EventNameMessagesReceived = "dmbox.messages.received"
	EventNameMessageDeleted   = "dmbox.message.deleted"
)

// MessageSentEvent is published after a message and its deliveries are stored.
type MessageSentEvent struct {
	MessageID    string    `json:"message_id"`
	SenderID     string    `json:"sender_id"`
	RecipientIDs []string  `json:"recipient_ids"`
	SentAt       time.Time `json:"sent_at"`
}

// MessagesReceivedEvent is published when a List call marks at least one
// delivery received.
type MessagesReceivedEvent struct {
	UserID     string    `json:"user_id"`
	Count      int64     `json:"count"`
	ReceivedAt time.Time `json:"received_at"`
}

// MessageDeletedEvent is published for every message a Delete call changed.
// Permanent is true when the sender removed the message for everyone.
type MessageDeletedEvent struct {
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	Permanent bool      `json:"permanent"`
	DeletedAt time.Time `json:"deleted_at"`
}

// ServiceEvents provides access to per-service event instances.
// Each service binds its own events to its own bus.
type ServiceEvents struct {
	MessageSent      event.Event[MessageSentEvent]
	MessagesReceived event.Event[MessagesReceivedEvent]
	MessageDeleted   event.Event[MessageDeletedEvent]
}

func newServiceEvents(namePrefix string) *ServiceEvents {
	return &ServiceEvents{
		MessageSent:      event.New[MessageSentEvent](namePrefix + "." + EventNameMessageSent),
		MessagesReceived: event.New[MessagesReceivedEvent](namePrefix + "." + EventNameMessagesReceived),
		MessageDeleted:   event.New[MessageDeletedEvent](namePrefix + "." + EventNameMessageDeleted),
	}
}

func registerServiceEvents(ctx context.Context, bus *event.Bus, events *ServiceEvents) error {
	if err := event.Register(ctx, bus, events.MessageSent); err != nil {
		return fmt.Errorf("register MessageSent: %w", err)
	}
	if err := event.Register(ctx, bus, events.MessagesReceived); err != nil {
		return fmt.Errorf("register MessagesReceived: %w", err)
	}
	if err := event.Register(ctx, bus, events.MessageDeleted); err != nil {
		return fmt.Errorf("register MessageDeleted: %w", err)
	}
	return nil
}

// publish sends data on ev. Failures go to the failure handler, and are
// returned as *EventPublishError only when event errors are fatal.
func publish[T any](ctx context.Context, o *options, ev event.Event[T], name, messageID string, data T) error {
	err := ev.Publish(ctx, data)
	if err == nil {
		return nil
	}
	if o.eventErrorsFatal {
		return &EventPublishError{Event: name, MessageID: messageID, Err: err}
	}
	o.safeEventPublishFailure(name, err)
	return nil
}
