package dmbox

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rbaliyan/dmbox/store"
	"github.com/rbaliyan/dmbox/store/memory"
	"github.com/rbaliyan/event/v3/transport/channel"
)

func TestSend(t *testing.T) {
	ctx := context.Background()

	t.Run("creates message and one delivery per recipient", func(t *testing.T) {
		env := setupTestService(t)
		alice, bob, carol := env.user(t, "alice"), env.user(t, "bob"), env.user(t, "carol")

		id := env.send(t, alice, "hi", bob, carol)
		if !store.ValidID(id) {
			t.Fatalf("expected a UUID message id, got %q", id)
		}

		msgs, err := env.store.FindMessages(ctx, []string{id})
		if err != nil || len(msgs) != 1 {
			t.Fatalf("expected stored message, got %v, %v", msgs, err)
		}
		if msgs[0].SenderID != alice.ID || msgs[0].Text == nil || *msgs[0].Text != "hi" {
			t.Errorf("unexpected message %+v", msgs[0])
		}
		if !msgs[0].SentAt.Equal(env.clock.Now()) {
			t.Errorf("expected SentAt %v, got %v", env.clock.Now(), msgs[0].SentAt)
		}

		ds, _ := env.store.FindDeliveries(ctx, []string{id})
		if len(ds) != 2 || ds[0].RecipientID != bob.ID || ds[1].RecipientID != carol.ID {
			t.Fatalf("expected deliveries to bob then carol, got %+v", ds)
		}
		for _, d := range ds {
			if d.IsReceived() || d.IsDeleted() {
				t.Errorf("expected fresh delivery, got %+v", d)
			}
		}
	})

	t.Run("nil text is allowed", func(t *testing.T) {
		env := setupTestService(t)
		alice, bob := env.user(t, "alice"), env.user(t, "bob")

		id, err := env.svc.Client(alice.ID).Send(ctx, SendRequest{RecipientIDs: []string{bob.ID}})
		if err != nil {
			t.Fatalf("send: %v", err)
		}
		msgs, _ := env.store.FindMessages(ctx, []string{id})
		if len(msgs) != 1 || msgs[0].Text != nil {
			t.Errorf("expected message with nil text, got %+v", msgs)
		}
	})

	t.Run("duplicate recipients are deduplicated", func(t *testing.T) {
		env := setupTestService(t)
		alice, bob, carol := env.user(t, "alice"), env.user(t, "bob"), env.user(t, "carol")

		id := env.send(t, alice, "x", bob, bob, carol)
		ds, _ := env.store.FindDeliveries(ctx, []string{id})
		if len(ds) != 2 {
			t.Fatalf("expected 2 deliveries, got %d", len(ds))
		}
		if ds[0].RecipientID != bob.ID || ds[1].RecipientID != carol.ID {
			t.Errorf("expected first-seen order, got %+v", ds)
		}
	})

	t.Run("validation failures store nothing", func(t *testing.T) {
		env := setupTestService(t, WithMaxRecipients(2), WithMaxTextLength(5))
		alice, bob, carol, dave := env.user(t, "alice"), env.user(t, "bob"), env.user(t, "carol"), env.user(t, "dave")
		long := "toolong"
		nul := "a\x00"

		tests := []struct {
			name string
			req  SendRequest
			want error
		}{
			{"empty recipients", SendRequest{}, ErrEmptyRecipients},
			{"unknown recipient", SendRequest{RecipientIDs: []string{bob.ID, store.NewID()}}, ErrUnknownRecipient},
			{"malformed recipient", SendRequest{RecipientIDs: []string{"not-a-uuid"}}, ErrUnknownRecipient},
			{"self recipient", SendRequest{RecipientIDs: []string{bob.ID, alice.ID}}, ErrSelfRecipient},
			{"too many recipients", SendRequest{RecipientIDs: []string{bob.ID, carol.ID, dave.ID}}, ErrTooManyRecipients},
			{"text too long", SendRequest{RecipientIDs: []string{bob.ID}, Text: &long}, ErrTextTooLong},
			{"text with nul", SendRequest{RecipientIDs: []string{bob.ID}, Text: &nul}, ErrInvalidText},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := env.svc.Client(alice.ID).Send(ctx, tt.req)
				if !errors.Is(err, tt.want) {
					t.Errorf("expected %v, got %v", tt.want, err)
				}
				if !errors.Is(err, ErrInvalidRequest) {
					t.Errorf("expected ErrInvalidRequest, got %v", err)
				}
				var ve *ValidationError
				if !errors.As(err, &ve) || ve.Field == "" {
					t.Errorf("expected ValidationError with field, got %v", err)
				}
			})
		}

		sent, _ := env.store.FindSent(ctx, alice.ID)
		if len(sent) != 0 {
			t.Errorf("expected no messages stored, got %d", len(sent))
		}
	})

	t.Run("duplicates count once against the limit", func(t *testing.T) {
		env := setupTestService(t, WithMaxRecipients(1))
		alice, bob := env.user(t, "alice"), env.user(t, "bob")
		env.send(t, alice, "x", bob, bob, bob)
	})

	t.Run("text limit counts runes", func(t *testing.T) {
		env := setupTestService(t, WithMaxTextLength(3))
		alice, bob := env.user(t, "alice"), env.user(t, "bob")
		env.send(t, alice, "日本語", bob)
	})

	t.Run("deleted sender is unauthorized", func(t *testing.T) {
		env := setupTestService(t)
		alice, bob := env.user(t, "alice"), env.user(t, "bob")
		if err := env.store.DeleteUser(ctx, alice.ID); err != nil {
			t.Fatal(err)
		}

		_, err := env.svc.Client(alice.ID).Send(ctx, SendRequest{RecipientIDs: []string{bob.ID}})
		if !errors.Is(err, ErrUnauthorized) {
			t.Errorf("expected ErrUnauthorized, got %v", err)
		}
		if errors.Is(err, ErrInvalidRequest) {
			t.Errorf("expected no validation error, got %v", err)
		}
	})

	t.Run("recipient deleted after validation", func(t *testing.T) {
		st := memory.New()
		stale := staleDirectory{}
		svc, _ := NewService(WithStore(st), WithDirectory(stale))
		if err := svc.Connect(ctx); err != nil {
			t.Fatal(err)
		}
		defer svc.Close(ctx)

		alice, _ := st.CreateUser(ctx, "alice", "h")
		bob, _ := st.CreateUser(ctx, "bob", "h")
		stale[bob.ID] = *bob
		if err := st.DeleteUser(ctx, bob.ID); err != nil {
			t.Fatal(err)
		}

		_, err := svc.Client(alice.ID).Send(ctx, SendRequest{RecipientIDs: []string{bob.ID}})
		if !errors.Is(err, ErrUnknownRecipient) {
			t.Errorf("expected ErrUnknownRecipient, got %v", err)
		}
	})

	t.Run("publishes over event transport", func(t *testing.T) {
		env := setupTestService(t, WithEventTransport(channel.New()), WithEventErrorsFatal(true))
		alice, bob := env.user(t, "alice"), env.user(t, "bob")

		text := strings.Repeat("a", 10)
		id, err := env.svc.Client(alice.ID).Send(ctx, SendRequest{RecipientIDs: []string{bob.ID}, Text: &text})
		if err != nil {
			t.Fatalf("send: %v", err)
		}
		if id == "" {
			t.Error("expected message id")
		}
	})
}

// staleDirectory answers from a fixed snapshot that can outlive the store.
type staleDirectory map[string]store.User

func (d staleDirectory) FindUsersByIDs(_ context.Context, ids []string) ([]store.User, error) {
	var out []store.User
	for _, id := range ids {
		if u, ok := d[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (d staleDirectory) FindUserByID(_ context.Context, id string) (*store.User, error) {
	if u, ok := d[id]; ok {
		return &u, nil
	}
	return nil, store.ErrNotFound
}
