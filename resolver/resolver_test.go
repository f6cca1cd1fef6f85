package resolver

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rbaliyan/dmbox/store"
	"github.com/redis/go-redis/v9"
)

type countingDirectory struct {
	*Static
	calls atomic.Int32
	asked atomic.Int32
}

func (c *countingDirectory) FindUsersByIDs(ctx context.Context, ids []string) ([]store.User, error) {
	c.calls.Add(1)
	c.asked.Add(int32(len(ids)))
	return c.Static.FindUsersByIDs(ctx, ids)
}

func testUsers() (store.User, store.User) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	alice := store.User{ID: store.NewID(), Username: "alice", PasswordHash: "secret", CreatedAt: at, UpdatedAt: at}
	bob := store.User{ID: store.NewID(), Username: "bob", CreatedAt: at, UpdatedAt: at}
	return alice, bob
}

func setupCached(t *testing.T, users ...store.User) (*Cached, *countingDirectory, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	inner := &countingDirectory{Static: NewStatic(users...)}
	return NewCached(inner, client, WithTTL(time.Minute)), inner, mr
}

func TestStatic(t *testing.T) {
	ctx := context.Background()
	alice, bob := testUsers()
	s := NewStatic(alice, bob)

	users, err := s.FindUsersByIDs(ctx, []string{bob.ID, "missing", alice.ID, bob.ID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(users) != 2 || users[0].ID != bob.ID || users[1].ID != alice.ID {
		t.Errorf("expected [bob alice], got %+v", users)
	}

	if _, err := s.FindUserByID(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	u, err := s.FindUserByID(ctx, alice.ID)
	if err != nil || u.Username != "alice" {
		t.Errorf("expected alice, got %v, %v", u, err)
	}
}

func TestCached(t *testing.T) {
	ctx := context.Background()

	t.Run("second read is served from redis", func(t *testing.T) {
		alice, bob := testUsers()
		c, inner, _ := setupCached(t, alice, bob)

		for i := 0; i < 2; i++ {
			users, err := c.FindUsersByIDs(ctx, []string{alice.ID, bob.ID})
			if err != nil {
				t.Fatalf("find: %v", err)
			}
			if len(users) != 2 {
				t.Fatalf("expected 2 users, got %d", len(users))
			}
		}
		if got := inner.calls.Load(); got != 1 {
			t.Errorf("expected 1 inner call, got %d", got)
		}
	})

	t.Run("only misses reach the inner directory", func(t *testing.T) {
		alice, bob := testUsers()
		c, inner, _ := setupCached(t, alice, bob)

		if _, err := c.FindUserByID(ctx, alice.ID); err != nil {
			t.Fatalf("find alice: %v", err)
		}
		if _, err := c.FindUsersByIDs(ctx, []string{alice.ID, bob.ID}); err != nil {
			t.Fatalf("find both: %v", err)
		}
		if got := inner.asked.Load(); got != 2 {
			t.Errorf("expected 2 ids asked of inner, got %d", got)
		}
	})

	t.Run("password hash is not cached", func(t *testing.T) {
		alice, _ := testUsers()
		c, _, mr := setupCached(t, alice)

		if _, err := c.FindUserByID(ctx, alice.ID); err != nil {
			t.Fatalf("find: %v", err)
		}
		raw, err := mr.Get(DefaultKeyPrefix + alice.ID)
		if err != nil {
			t.Fatalf("expected cached entry: %v", err)
		}
		if raw == "" || strings.Contains(raw, "secret") {
			t.Errorf("expected entry without hash, got %q", raw)
		}
		if ttl := mr.TTL(DefaultKeyPrefix + alice.ID); ttl != time.Minute {
			t.Errorf("expected ttl 1m, got %v", ttl)
		}
	})

	t.Run("unknown ids are not cached", func(t *testing.T) {
		c, inner, mr := setupCached(t)
		id := store.NewID()

		if _, err := c.FindUserByID(ctx, id); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if mr.Exists(DefaultKeyPrefix + id) {
			t.Error("expected no cache entry for unknown id")
		}
		_, _ = c.FindUserByID(ctx, id)
		if got := inner.calls.Load(); got != 2 {
			t.Errorf("expected 2 inner calls, got %d", got)
		}
	})

	t.Run("malformed ids are skipped", func(t *testing.T) {
		c, inner, _ := setupCached(t)
		users, err := c.FindUsersByIDs(ctx, []string{"not-a-uuid"})
		if err != nil || len(users) != 0 {
			t.Errorf("expected no users, got %v, %v", users, err)
		}
		if got := inner.calls.Load(); got != 0 {
			t.Errorf("expected no inner calls, got %d", got)
		}
	})

	t.Run("invalidate forces reload", func(t *testing.T) {
		alice, _ := testUsers()
		c, inner, mr := setupCached(t, alice)

		if _, err := c.FindUserByID(ctx, alice.ID); err != nil {
			t.Fatalf("find: %v", err)
		}
		if err := c.Invalidate(ctx, alice.ID); err != nil {
			t.Fatalf("invalidate: %v", err)
		}
		if mr.Exists(DefaultKeyPrefix + alice.ID) {
			t.Error("expected entry removed")
		}
		if _, err := c.FindUserByID(ctx, alice.ID); err != nil {
			t.Fatalf("find after invalidate: %v", err)
		}
		if got := inner.calls.Load(); got != 2 {
			t.Errorf("expected 2 inner calls, got %d", got)
		}
	})

	t.Run("falls back when redis is down", func(t *testing.T) {
		alice, _ := testUsers()
		c, inner, mr := setupCached(t, alice)
		mr.Close()

		u, err := c.FindUserByID(ctx, alice.ID)
		if err != nil || u.ID != alice.ID {
			t.Fatalf("expected fallback to inner, got %v, %v", u, err)
		}
		if got := inner.calls.Load(); got != 1 {
			t.Errorf("expected 1 inner call, got %d", got)
		}
	})
}
