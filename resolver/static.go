// Package resolver provides dmbox.Directory implementations.
package resolver

import (
	"context"

	"github.com/rbaliyan/dmbox"
	"github.com/rbaliyan/dmbox/store"
)

var _ dmbox.Directory = (*Static)(nil)

// Static is a map-based Directory for tests and fixed deployments.
// It is read-only after creation and safe for concurrent use.
type Static struct {
	users map[string]store.User
}

// NewStatic creates a Static directory holding copies of users.
func NewStatic(users ...store.User) *Static {
	m := make(map[string]store.User, len(users))
	for _, u := range users {
		m[u.ID] = u
	}
	return &Static{users: m}
}

// FindUsersByIDs returns the known users among ids, in input order.
func (s *Static) FindUsersByIDs(_ context.Context, ids []string) ([]store.User, error) {
	out := make([]store.User, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if u, ok := s.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

// FindUserByID returns store.ErrNotFound for unknown IDs.
func (s *Static) FindUserByID(_ context.Context, id string) (*store.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &u, nil
}
