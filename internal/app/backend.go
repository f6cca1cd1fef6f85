package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rbaliyan/dmbox/internal/config"
	"github.com/rbaliyan/dmbox/store"
	"github.com/rbaliyan/dmbox/store/memory"
	"github.com/rbaliyan/dmbox/store/mongo"
	"github.com/rbaliyan/dmbox/store/postgres"
	"github.com/redis/go-redis/v9"
)

// backend is the opened storage layer. The store is not yet connected;
// dmbox.Service.Connect does that.
type backend struct {
	store store.Store
	ping  func(ctx context.Context) error
	redis *redis.Client
	close func(ctx context.Context) error
}

func openBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*backend, error) {
	b := &backend{close: func(context.Context) error { return nil }}

	switch cfg.Store {
	case config.StorePostgres:
		s, db, err := postgres.Open(cfg.PostgresDSN, postgres.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		b.store, b.ping = s, s.Ping
		b.close = func(context.Context) error { return db.Close() }
	case config.StoreMongo:
		s, client, err := mongo.Open(cfg.MongoURI, mongo.WithDatabase(cfg.MongoDatabase), mongo.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		b.store, b.ping = s, s.Ping
		b.close = client.Disconnect
	case config.StoreMemory:
		s := memory.New()
		b.store, b.ping = s, s.Ping
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			_ = b.close(ctx)
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			_ = b.close(ctx)
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		b.redis = client
		closeStore := b.close
		b.close = func(ctx context.Context) error {
			return errors.Join(client.Close(), closeStore(ctx))
		}
	}

	logger.Info("backend opened", "store", cfg.Store, "redis", b.redis != nil)
	return b, nil
}
