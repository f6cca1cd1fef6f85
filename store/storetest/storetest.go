// Package storetest provides a contract test suite shared by all store
// implementations.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rbaliyan/dmbox/store"
)

// Factory returns a connected, empty store. The suite does not close it.
type Factory func(t *testing.T) store.Store

// Run executes the contract suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("Users", func(t *testing.T) { testUsers(t, newStore(t)) })
	t.Run("CreateMessage", func(t *testing.T) { testCreateMessage(t, newStore(t)) })
	t.Run("FindSentAndReceived", func(t *testing.T) { testFindSentAndReceived(t, newStore(t)) })
	t.Run("MarkReceived", func(t *testing.T) { testMarkReceived(t, newStore(t)) })
	t.Run("DeleteMessage", func(t *testing.T) { testDeleteMessage(t, newStore(t)) })
	t.Run("SoftDeleteDelivery", func(t *testing.T) { testSoftDelete(t, newStore(t)) })
	t.Run("DeleteUser", func(t *testing.T) { testDeleteUser(t, newStore(t)) })
	t.Run("ConcurrentDeletes", func(t *testing.T) { testConcurrentDeletes(t, newStore(t)) })
}

// MustCreateUser creates a user or fails the test.
func MustCreateUser(t *testing.T, s store.UserStore, username string) *store.User {
	t.Helper()
	u, err := s.CreateUser(context.Background(), username, "hash-"+username)
	if err != nil {
		t.Fatalf("create user %q: %v", username, err)
	}
	return u
}

func text(s string) *string { return &s }

func now() time.Time { return time.Now().UTC().Truncate(time.Millisecond) }

func testUsers(t *testing.T, s store.Store) {
	ctx := context.Background()
	alice := MustCreateUser(t, s, "alice")

	t.Run("duplicate username", func(t *testing.T) {
		_, err := s.CreateUser(ctx, "alice", "x")
		if !errors.Is(err, store.ErrDuplicateEntry) {
			t.Errorf("expected ErrDuplicateEntry, got %v", err)
		}
	})

	t.Run("username is case-sensitive", func(t *testing.T) {
		if _, err := s.CreateUser(ctx, "Alice", "x"); err != nil {
			t.Errorf("expected distinct user for different case, got %v", err)
		}
	})

	t.Run("find by id and username", func(t *testing.T) {
		got, err := s.FindUserByID(ctx, alice.ID)
		if err != nil {
			t.Fatalf("find by id: %v", err)
		}
		if got.Username != "alice" || got.PasswordHash != "hash-alice" {
			t.Errorf("unexpected user: %+v", got)
		}
		got, err = s.FindUserByUsername(ctx, "alice")
		if err != nil {
			t.Fatalf("find by username: %v", err)
		}
		if got.ID != alice.ID {
			t.Errorf("expected id %s, got %s", alice.ID, got.ID)
		}
	})

	t.Run("not found", func(t *testing.T) {
		if _, err := s.FindUserByID(ctx, store.NewID()); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if _, err := s.FindUserByID(ctx, "not-a-uuid"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected ErrNotFound for malformed id, got %v", err)
		}
		if _, err := s.FindUserByUsername(ctx, "nobody"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("find by ids skips unknown", func(t *testing.T) {
		users, err := s.FindUsersByIDs(ctx, []string{alice.ID, store.NewID(), "junk", alice.ID})
		if err != nil {
			t.Fatalf("find by ids: %v", err)
		}
		if len(users) != 1 || users[0].ID != alice.ID {
			t.Errorf("expected only alice, got %+v", users)
		}
	})

	t.Run("update password", func(t *testing.T) {
		at := now().Add(time.Minute)
		u, err := s.UpdatePassword(ctx, alice.ID, "new-hash", at)
		if err != nil {
			t.Fatalf("update password: %v", err)
		}
		if u.PasswordHash != "new-hash" {
			t.Errorf("expected new hash, got %q", u.PasswordHash)
		}
		if !u.UpdatedAt.Equal(at) {
			t.Errorf("expected updated_at %v, got %v", at, u.UpdatedAt)
		}
		if _, err := s.UpdatePassword(ctx, store.NewID(), "x", at); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func testCreateMessage(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := MustCreateUser(t, s, "a")
	b := MustCreateUser(t, s, "b")
	c := MustCreateUser(t, s, "c")

	t.Run("creates deliveries in recipient order", func(t *testing.T) {
		sentAt := now()
		msg, err := s.CreateMessage(ctx, a.ID, text("hi"), sentAt, []string{c.ID, b.ID})
		if err != nil {
			t.Fatalf("create message: %v", err)
		}
		if msg.ID == "" || msg.SenderID != a.ID || msg.Text == nil || *msg.Text != "hi" {
			t.Fatalf("unexpected message: %+v", msg)
		}
		ds, err := s.FindDeliveries(ctx, []string{msg.ID})
		if err != nil {
			t.Fatalf("find deliveries: %v", err)
		}
		if len(ds) != 2 {
			t.Fatalf("expected 2 deliveries, got %d", len(ds))
		}
		if ds[0].RecipientID != c.ID || ds[1].RecipientID != b.ID {
			t.Errorf("expected recipient order [c b], got [%s %s]", ds[0].RecipientID, ds[1].RecipientID)
		}
		for _, d := range ds {
			if d.IsReceived() || d.IsDeleted() {
				t.Errorf("new delivery should be pristine: %+v", d)
			}
		}
	})

	t.Run("nil text", func(t *testing.T) {
		msg, err := s.CreateMessage(ctx, a.ID, nil, now(), []string{b.ID})
		if err != nil {
			t.Fatalf("create message: %v", err)
		}
		got, err := s.FindMessages(ctx, []string{msg.ID})
		if err != nil {
			t.Fatalf("find messages: %v", err)
		}
		if len(got) != 1 || got[0].Text != nil {
			t.Errorf("expected nil text, got %+v", got)
		}
	})

	t.Run("empty recipients", func(t *testing.T) {
		_, err := s.CreateMessage(ctx, a.ID, nil, now(), nil)
		if !errors.Is(err, store.ErrEmptyRecipients) {
			t.Errorf("expected ErrEmptyRecipients, got %v", err)
		}
	})

	t.Run("unknown recipient writes nothing", func(t *testing.T) {
		before, err := s.FindSent(ctx, b.ID)
		if err != nil {
			t.Fatalf("find sent: %v", err)
		}
		_, err = s.CreateMessage(ctx, b.ID, text("x"), now(), []string{a.ID, store.NewID()})
		if err == nil {
			t.Fatal("expected error for unknown recipient")
		}
		after, err := s.FindSent(ctx, b.ID)
		if err != nil {
			t.Fatalf("find sent: %v", err)
		}
		if len(after) != len(before) {
			t.Errorf("expected no message persisted, had %d now %d", len(before), len(after))
		}
		received, err := s.FindReceived(ctx, a.ID)
		if err != nil {
			t.Fatalf("find received: %v", err)
		}
		if len(received) != 0 {
			t.Errorf("expected no partial fan-out, got %d received", len(received))
		}
	})
}

func testFindSentAndReceived(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := MustCreateUser(t, s, "a")
	b := MustCreateUser(t, s, "b")

	m1, err := s.CreateMessage(ctx, a.ID, text("one"), now(), []string{b.ID})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	m2, err := s.CreateMessage(ctx, b.ID, text("two"), now(), []string{a.ID})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	sent, err := s.FindSent(ctx, a.ID)
	if err != nil {
		t.Fatalf("find sent: %v", err)
	}
	if len(sent) != 1 || sent[0].ID != m1.ID {
		t.Errorf("expected a to have sent m1, got %+v", sent)
	}

	received, err := s.FindReceived(ctx, a.ID)
	if err != nil {
		t.Fatalf("find received: %v", err)
	}
	if len(received) != 1 || received[0].ID != m2.ID {
		t.Errorf("expected a to have received m2, got %+v", received)
	}

	found, err := s.FindMessages(ctx, []string{m1.ID, m2.ID, store.NewID(), "bad"})
	if err != nil {
		t.Fatalf("find messages: %v", err)
	}
	if len(found) != 2 {
		t.Errorf("expected 2 messages, got %d", len(found))
	}
}

func testMarkReceived(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := MustCreateUser(t, s, "a")
	b := MustCreateUser(t, s, "b")
	c := MustCreateUser(t, s, "c")

	msg, err := s.CreateMessage(ctx, a.ID, text("hi"), now(), []string{b.ID, c.ID})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	first := now()
	n, err := s.MarkReceived(ctx, b.ID, first)
	if err != nil {
		t.Fatalf("mark received: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 delivery marked, got %d", n)
	}

	n, err = s.MarkReceived(ctx, b.ID, first.Add(time.Hour))
	if err != nil {
		t.Fatalf("mark received again: %v", err)
	}
	if n != 0 {
		t.Errorf("expected second mark to change nothing, got %d", n)
	}

	ds, err := s.FindDeliveries(ctx, []string{msg.ID})
	if err != nil {
		t.Fatalf("find deliveries: %v", err)
	}
	for _, d := range ds {
		switch d.RecipientID {
		case b.ID:
			if d.ReceivedAt == nil || !d.ReceivedAt.Equal(first) {
				t.Errorf("expected b received at %v, got %v", first, d.ReceivedAt)
			}
		case c.ID:
			if d.ReceivedAt != nil {
				t.Errorf("expected c unreceived, got %v", d.ReceivedAt)
			}
		}
	}

	// Deleted deliveries are never marked.
	if _, err := s.SoftDeleteDelivery(ctx, msg.ID, c.ID, now()); err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	n, err = s.MarkReceived(ctx, c.ID, now())
	if err != nil {
		t.Fatalf("mark received: %v", err)
	}
	if n != 0 {
		t.Errorf("expected deleted delivery to be skipped, got %d", n)
	}
}

func testDeleteMessage(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := MustCreateUser(t, s, "a")
	b := MustCreateUser(t, s, "b")
	c := MustCreateUser(t, s, "c")

	msg, err := s.CreateMessage(ctx, a.ID, text("hi"), now(), []string{b.ID, c.ID})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.SoftDeleteDelivery(ctx, msg.ID, b.ID, now()); err != nil {
		t.Fatalf("soft delete: %v", err)
	}

	if err := s.DeleteMessage(ctx, msg.ID); err != nil {
		t.Fatalf("delete message: %v", err)
	}

	found, err := s.FindMessages(ctx, []string{msg.ID})
	if err != nil {
		t.Fatalf("find messages: %v", err)
	}
	if len(found) != 0 {
		t.Errorf("expected message gone, got %+v", found)
	}
	ds, err := s.FindDeliveries(ctx, []string{msg.ID})
	if err != nil {
		t.Fatalf("find deliveries: %v", err)
	}
	if len(ds) != 0 {
		t.Errorf("expected cascade to remove deliveries, got %d", len(ds))
	}

	if err := s.DeleteMessage(ctx, msg.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func testSoftDelete(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := MustCreateUser(t, s, "a")
	b := MustCreateUser(t, s, "b")
	c := MustCreateUser(t, s, "c")

	msg, err := s.CreateMessage(ctx, a.ID, text("hi"), now(), []string{b.ID, c.ID})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	at := now()
	changed, err := s.SoftDeleteDelivery(ctx, msg.ID, b.ID, at)
	if err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	if !changed {
		t.Error("expected first soft delete to change the delivery")
	}

	changed, err = s.SoftDeleteDelivery(ctx, msg.ID, b.ID, at.Add(time.Hour))
	if err != nil {
		t.Fatalf("soft delete again: %v", err)
	}
	if changed {
		t.Error("expected second soft delete to be a no-op")
	}

	changed, err = s.SoftDeleteDelivery(ctx, msg.ID, a.ID, at)
	if err != nil {
		t.Fatalf("soft delete by sender: %v", err)
	}
	if changed {
		t.Error("sender has no delivery to soft delete")
	}

	received, err := s.FindReceived(ctx, b.ID)
	if err != nil {
		t.Fatalf("find received: %v", err)
	}
	if len(received) != 0 {
		t.Errorf("expected b to see nothing, got %d", len(received))
	}
	received, err = s.FindReceived(ctx, c.ID)
	if err != nil {
		t.Fatalf("find received: %v", err)
	}
	if len(received) != 1 {
		t.Errorf("expected c to still see the message, got %d", len(received))
	}

	ds, err := s.FindDeliveries(ctx, []string{msg.ID})
	if err != nil {
		t.Fatalf("find deliveries: %v", err)
	}
	if len(ds) != 2 {
		t.Fatalf("expected both deliveries to remain, got %d", len(ds))
	}
	for _, d := range ds {
		if d.RecipientID == b.ID && (d.DeletedAt == nil || !d.DeletedAt.Equal(at)) {
			t.Errorf("expected b deleted at %v, got %v", at, d.DeletedAt)
		}
	}
}

func testDeleteUser(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := MustCreateUser(t, s, "a")
	b := MustCreateUser(t, s, "b")

	sent, err := s.CreateMessage(ctx, a.ID, text("from a"), now(), []string{b.ID})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	received, err := s.CreateMessage(ctx, b.ID, text("to a"), now(), []string{a.ID})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := s.DeleteUser(ctx, a.ID); err != nil {
		t.Fatalf("delete user: %v", err)
	}

	if _, err := s.FindUserByID(ctx, a.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected user gone, got %v", err)
	}
	if _, err := s.FindUserByUsername(ctx, "a"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected username freed, got %v", err)
	}

	msgs, err := s.FindMessages(ctx, []string{sent.ID, received.ID})
	if err != nil {
		t.Fatalf("find messages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != received.ID {
		t.Errorf("expected only b's message to survive, got %+v", msgs)
	}
	ds, err := s.FindDeliveries(ctx, []string{received.ID})
	if err != nil {
		t.Fatalf("find deliveries: %v", err)
	}
	if len(ds) != 0 {
		t.Errorf("expected a's delivery removed, got %d", len(ds))
	}

	if err := s.DeleteUser(ctx, a.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}

	// The username can be registered again.
	MustCreateUser(t, s, "a")
}

func testConcurrentDeletes(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := MustCreateUser(t, s, "a")
	b := MustCreateUser(t, s, "b")

	const n = 20
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		msg, err := s.CreateMessage(ctx, a.ID, text("race"), now(), []string{b.ID})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		ids = append(ids, msg.ID)
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 2*n)
	for _, id := range ids {
		wg.Add(2)
		go func(id string) {
			defer wg.Done()
			if err := s.DeleteMessage(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
				errCh <- err
			}
		}(id)
		go func(id string) {
			defer wg.Done()
			if _, err := s.SoftDeleteDelivery(ctx, id, b.ID, now()); err != nil {
				errCh <- err
			}
		}(id)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Errorf("concurrent delete error: %v", err)
	}

	ds, err := s.FindDeliveries(ctx, ids)
	if err != nil {
		t.Fatalf("find deliveries: %v", err)
	}
	if len(ds) != 0 {
		t.Errorf("expected no dangling deliveries, got %d", len(ds))
	}
}
