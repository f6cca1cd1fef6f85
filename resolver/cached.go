package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/rbaliyan/dmbox"
	"github.com/rbaliyan/dmbox/store"
	"github.com/redis/go-redis/v9"
)

var _ dmbox.Directory = (*Cached)(nil)

// Defaults for Cached.
const (
	DefaultTTL       = 5 * time.Minute
	DefaultKeyPrefix = "dmbox:user:"
)

// Cached is a Redis read-through cache in front of another Directory.
//
// Only existing users are cached. Password hashes are never written to
// Redis. Redis failures fall back to the inner directory.
type Cached struct {
	inner  dmbox.Directory
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

// CachedOption configures a Cached directory.
type CachedOption func(*Cached)

// WithTTL sets how long entries stay cached.
func WithTTL(d time.Duration) CachedOption {
	return func(c *Cached) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// WithKeyPrefix sets the Redis key prefix.
func WithKeyPrefix(p string) CachedOption {
	return func(c *Cached) {
		if p != "" {
			c.prefix = p
		}
	}
}

// WithLogger sets the logger for cache failures.
func WithLogger(l *slog.Logger) CachedOption {
	return func(c *Cached) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCached wraps inner with a cache stored in client.
func NewCached(inner dmbox.Directory, client redis.UniversalClient, opts ...CachedOption) *Cached {
	c := &Cached{
		inner:  inner,
		client: client,
		ttl:    DefaultTTL,
		prefix: DefaultKeyPrefix,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// cachedUser is the cached form of a user, without the password hash.
type cachedUser struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (c *Cached) key(id string) string { return c.prefix + id }

// FindUsersByIDs serves hits from Redis and loads misses from the inner
// directory, caching what it finds.
func (c *Cached) FindUsersByIDs(ctx context.Context, ids []string) ([]store.User, error) {
	ids = store.FilterValidIDs(ids)
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = c.key(id)
	}

	vals, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		c.logger.Warn("user cache read failed", "error", err)
		return c.inner.FindUsersByIDs(ctx, ids)
	}

	out := make([]store.User, 0, len(ids))
	var misses []string
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			misses = append(misses, ids[i])
			continue
		}
		var cu cachedUser
		if err := json.Unmarshal([]byte(s), &cu); err != nil {
			misses = append(misses, ids[i])
			continue
		}
		out = append(out, store.User{ID: cu.ID, Username: cu.Username, CreatedAt: cu.CreatedAt, UpdatedAt: cu.UpdatedAt})
	}
	if len(misses) == 0 {
		return out, nil
	}

	loaded, err := c.inner.FindUsersByIDs(ctx, misses)
	if err != nil {
		return nil, err
	}
	c.fill(ctx, loaded...)
	return append(out, loaded...), nil
}

// FindUserByID serves from Redis when possible.
func (c *Cached) FindUserByID(ctx context.Context, id string) (*store.User, error) {
	users, err := c.FindUsersByIDs(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, store.ErrNotFound
	}
	return &users[0], nil
}

// Invalidate drops cached entries for ids.
func (c *Cached) Invalidate(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = c.key(id)
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}

func (c *Cached) fill(ctx context.Context, users ...store.User) {
	if len(users) == 0 {
		return
	}
	_, err := c.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, u := range users {
			b, err := json.Marshal(cachedUser{ID: u.ID, Username: u.Username, CreatedAt: u.CreatedAt, UpdatedAt: u.UpdatedAt})
			if err != nil {
				return err
			}
			p.Set(ctx, c.key(u.ID), b, c.ttl)
		}
		return nil
	})
	if err != nil {
		c.logger.Warn("user cache write failed", "error", err)
	}
}
