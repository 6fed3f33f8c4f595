package db

import (
	"context"
	"fmt"

	"github.com/faucetgw/faucetgw/internal/config"
	"github.com/faucetgw/faucetgw/internal/store"
	"github.com/faucetgw/faucetgw/internal/store/memory"
	mongostore "github.com/faucetgw/faucetgw/internal/store/mongo"
	pgstore "github.com/faucetgw/faucetgw/internal/store/postgres"
)

// OpenStore selects and connects the configured storage backend, ensuring
// schema/indexes on the durable ones.
func OpenStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	visibility := cfg.Queue.VisibilityTimeout

	switch cfg.Database.Kind {
	case "postgres":
		pg := cfg.Database.Postgres
		dbx, err := NewPostgresConnection(pg.DSN, PostgresOpts{
			MaxOpenConns:    pg.MaxOpenConns,
			MaxIdleConns:    pg.MaxIdleConns,
			ConnMaxLifetime: pg.ConnMaxLifetime,
			ConnMaxIdleTime: pg.ConnMaxIdleTime,
			PingTimeout:     pg.PingTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres connect: %w: %v", store.ErrUnavailable, err)
		}
		s := pgstore.New(dbx, visibility)
		if err := s.EnsureSchema(ctx); err != nil {
			_ = dbx.Close()
			return nil, err
		}
		return s, nil

	case "mongodb":
		mg := cfg.Database.MongoDB
		client, err := NewMongoClient(MongoOpts{
			URI:            mg.URI,
			ConnectTimeout: mg.ConnectTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("mongodb connect: %w: %v", store.ErrUnavailable, err)
		}
		s := mongostore.New(client, mg.Database, visibility)
		if err := s.EnsureIndexes(ctx); err != nil {
			_ = client.Disconnect(ctx)
			return nil, err
		}
		return s, nil

	case "", "memory":
		return memory.New(visibility), nil

	default:
		return nil, fmt.Errorf("unknown database kind: %s", cfg.Database.Kind)
	}
}
