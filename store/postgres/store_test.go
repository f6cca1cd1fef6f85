package postgres

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rbaliyan/dmbox/store"
	"github.com/rbaliyan/dmbox/store/storetest"
)

// Integration tests run only when DMBOX_TEST_POSTGRES_DSN points at a
// disposable database. Every subtest starts from a freshly migrated schema.
func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	dsn := os.Getenv("DMBOX_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("DMBOX_TEST_POSTGRES_DSN not set")
	}
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	db := openTestDB(t)
	if err := MigrateDown(context.Background(), db.DB); err != nil {
		t.Fatalf("migrate down: %v", err)
	}
	s := New(db)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return s
}

func TestContract(t *testing.T) {
	storetest.Run(t, newTestStore)
}

func TestConnectTwice(t *testing.T) {
	s := newTestStore(t)
	if err := s.Connect(context.Background()); !errors.Is(err, store.ErrAlreadyConnected) {
		t.Errorf("expected ErrAlreadyConnected, got %v", err)
	}
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"unique violation", &pq.Error{Code: codeUniqueViolation}, store.ErrDuplicateEntry},
		{"foreign key violation", &pq.Error{Code: codeForeignKeyViolation}, store.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mapError(tt.err); !errors.Is(got, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}

	other := errors.New("boom")
	if got := mapError(other); got != other {
		t.Errorf("expected unrelated error unchanged, got %v", got)
	}
}

func TestNotConnected(t *testing.T) {
	s := New(nil)
	if _, err := s.FindSent(context.Background(), store.NewID()); !errors.Is(err, store.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	if err := s.Connect(context.Background()); err == nil {
		t.Error("expected error connecting without a db")
	}
}
