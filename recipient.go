package dmbox

import (
	"context"

	"github.com/rbaliyan/dmbox/store"
)

// Directory looks up registered users.
// Implementations should be safe for concurrent use.
//
// Every store.Store satisfies Directory. resolver.Cached adds a Redis
// read-through cache in front of one.
type Directory interface {
	// FindUsersByIDs returns the existing users among ids, in any order.
	// Unknown IDs are skipped, not reported.
	FindUsersByIDs(ctx context.Context, ids []string) ([]store.User, error)

	// FindUserByID returns store.ErrNotFound if the user does not exist.
	FindUserByID(ctx context.Context, id string) (*store.User, error)
}

// resolveUsers loads users by ID into a map keyed by ID.
func resolveUsers(ctx context.Context, dir Directory, ids []string) (map[string]store.User, error) {
	if len(ids) == 0 {
		return map[string]store.User{}, nil
	}
	users, err := dir.FindUsersByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	m := make(map[string]store.User, len(users))
	for _, u := range users {
		m[u.ID] = u
	}
	return m, nil
}
