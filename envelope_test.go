package dmbox

import (
	"errors"
	"testing"
	"time"

	"github.com/rbaliyan/dmbox/store"
)

func TestBuildEnvelope(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	alice := store.User{ID: "u-a", Username: "alice", PasswordHash: "secret", CreatedAt: now, UpdatedAt: now}
	bob := store.User{ID: "u-b", Username: "bob"}
	carol := store.User{ID: "u-c", Username: "carol"}
	users := map[string]store.User{alice.ID: alice, bob.ID: bob, carol.ID: carol}

	text := "hi"
	msg := store.Message{ID: "m1", SenderID: alice.ID, Text: &text, SentAt: now}
	deleted := now
	deliveries := []store.Delivery{
		{MessageID: "m1", RecipientID: carol.ID, Seq: 0},
		{MessageID: "m1", RecipientID: bob.ID, Seq: 1, DeletedAt: &deleted},
	}

	t.Run("builds view", func(t *testing.T) {
		v, err := buildEnvelope(msg, deliveries, users)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if v.ID != "m1" || v.Sender.ID != alice.ID || v.Sender.Username != "alice" || !v.Sender.CreatedAt.Equal(now) {
			t.Errorf("unexpected view %+v", v)
		}
		if len(v.Recipients) != 2 || v.Recipients[0] != "carol" || v.Recipients[1] != "bob" {
			t.Errorf("expected recipients in delivery order including deleted, got %v", v.Recipients)
		}
		if v.Text == nil || *v.Text != "hi" || v.Text == msg.Text {
			t.Errorf("expected copied text, got %v", v.Text)
		}
		if !v.SentAt.Equal(now) {
			t.Errorf("expected SentAt %v, got %v", now, v.SentAt)
		}
	})

	t.Run("nil text stays nil", func(t *testing.T) {
		m := msg
		m.Text = nil
		v, err := buildEnvelope(m, deliveries, users)
		if err != nil || v.Text != nil {
			t.Errorf("expected nil text, got %v, %v", v.Text, err)
		}
	})

	tests := []struct {
		name       string
		msg        store.Message
		deliveries []store.Delivery
	}{
		{"missing id", store.Message{SenderID: alice.ID}, deliveries},
		{"missing sender", store.Message{ID: "m2", SenderID: "u-x"}, deliveries},
		{"missing recipient", msg, []store.Delivery{{MessageID: "m1", RecipientID: "u-x"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := buildEnvelope(tt.msg, tt.deliveries, users)
			var ie *IntegrityError
			if !errors.As(err, &ie) {
				t.Fatalf("expected IntegrityError, got %v", err)
			}
			if ie.MessageID != tt.msg.ID {
				t.Errorf("expected MessageID %q, got %q", tt.msg.ID, ie.MessageID)
			}
		})
	}
}
