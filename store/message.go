package store

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// User is a registered account.
type User struct {
	ID           string    `json:"id" db:"id" bson:"_id"`
	Username     string    `json:"username" db:"username" bson:"username"`
	PasswordHash string    `json:"-" db:"password_hash" bson:"password_hash"`
	CreatedAt    time.Time `json:"created_at" db:"created_at" bson:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at" bson:"updated_at"`
}

// Message is a sent message. All fields are immutable after creation.
type Message struct {
	ID       string    `json:"id" db:"id" bson:"_id"`
	SenderID string    `json:"sender_id" db:"sender_id" bson:"sender_id"`
	Text     *string   `json:"text,omitempty" db:"text_content" bson:"text_content,omitempty"`
	SentAt   time.Time `json:"sent_at" db:"sent_at" bson:"sent_at"`
}

// Delivery records one recipient of a message.
// ReceivedAt and DeletedAt are set at most once.
type Delivery struct {
	ID          string     `json:"id" db:"id" bson:"_id"`
	MessageID   string     `json:"message_id" db:"message_id" bson:"message_id"`
	RecipientID string     `json:"recipient_id" db:"user_id" bson:"user_id"`
	ReceivedAt  *time.Time `json:"received_at,omitempty" db:"received_at" bson:"received_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty" db:"deleted_at" bson:"deleted_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at" bson:"created_at"`
	// Seq orders deliveries of the same message by recipient position.
	Seq int `json:"seq" db:"seq" bson:"seq"`
}

// IsReceived reports whether the recipient has retrieved the message.
func (d Delivery) IsReceived() bool { return d.ReceivedAt != nil }

// IsDeleted reports whether the recipient has hidden the message.
func (d Delivery) IsDeleted() bool { return d.DeletedAt != nil }

// ValidID reports whether id is a well-formed identifier.
// All backends generate UUID strings.
func ValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// NewID generates a new identifier.
func NewID() string {
	return uuid.New().String()
}

// FilterValidIDs returns the well-formed, distinct IDs in input order.
func FilterValidIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !ValidID(id) {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// SortDeliveries orders deliveries by message, then recipient position.
func SortDeliveries(ds []Delivery) {
	sort.SliceStable(ds, func(i, j int) bool {
		if ds[i].MessageID != ds[j].MessageID {
			return ds[i].MessageID < ds[j].MessageID
		}
		if ds[i].Seq != ds[j].Seq {
			return ds[i].Seq < ds[j].Seq
		}
		return ds[i].CreatedAt.Before(ds[j].CreatedAt)
	})
}

// CloneText returns a copy of a text pointer.
func CloneText(text *string) *string {
	if text == nil {
		return nil
	}
	t := *text
	return &t
}
