package mongo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rbaliyan/dmbox/store"
	"github.com/rbaliyan/dmbox/store/storetest"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"
)

var dbCounter int64

// Integration tests run only when DMBOX_TEST_MONGO_URI points at a replica
// set. Each subtest gets its own database, dropped on cleanup.
func newTestStore(t *testing.T) store.Store {
	t.Helper()
	uri := os.Getenv("DMBOX_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("DMBOX_TEST_MONGO_URI not set")
	}

	ctx := context.Background()
	client, err := mongo.Connect(mongoopts.Client().ApplyURI(uri))
	if err != nil {
		t.Fatalf("connect client: %v", err)
	}

	name := fmt.Sprintf("dmbox_test_%d_%d", os.Getpid(), atomic.AddInt64(&dbCounter, 1))
	t.Cleanup(func() {
		_ = client.Database(name).Drop(ctx)
		_ = client.Disconnect(ctx)
	})

	s := New(client, WithDatabase(name))
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("connect store: %v", err)
	}
	return s
}

func TestContract(t *testing.T) {
	storetest.Run(t, newTestStore)
}

func TestNotConnected(t *testing.T) {
	s := New(nil)
	if _, err := s.FindReceived(context.Background(), store.NewID()); !errors.Is(err, store.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	if err := s.Connect(context.Background()); err == nil {
		t.Error("expected error connecting without a client")
	}
}

func TestCreateMessageTouchesReferencedUsers(t *testing.T) {
	s := newTestStore(t).(*Store)
	ctx := context.Background()

	alice := storetest.MustCreateUser(t, s, "alice")
	bob := storetest.MustCreateUser(t, s, "bob")
	carol := storetest.MustCreateUser(t, s, "carol")

	if _, err := s.CreateMessage(ctx, alice.ID, nil, time.Now(), []string{bob.ID}); err != nil {
		t.Fatalf("create message: %v", err)
	}

	seq := func(id string) int64 {
		t.Helper()
		var doc struct {
			Seq int64 `bson:"ref_seq"`
		}
		if err := s.users.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
			t.Fatalf("find %s: %v", id, err)
		}
		return doc.Seq
	}
	if got := seq(alice.ID); got != 1 {
		t.Errorf("sender ref_seq = %d, want 1", got)
	}
	if got := seq(bob.ID); got != 1 {
		t.Errorf("recipient ref_seq = %d, want 1", got)
	}
	if got := seq(carol.ID); got != 0 {
		t.Errorf("unrelated ref_seq = %d, want 0", got)
	}

	if err := s.DeleteUser(ctx, bob.ID); err != nil {
		t.Fatalf("delete user: %v", err)
	}
	if _, err := s.CreateMessage(ctx, alice.ID, nil, time.Now(), []string{bob.ID}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound for deleted recipient, got %v", err)
	}
	if got := seq(alice.ID); got != 1 {
		t.Errorf("failed create left sender ref_seq = %d, want 1", got)
	}
}
