package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vietddude/aiguard/internal/core/config"
	"github.com/vietddude/aiguard/internal/infra/badgerstore"
	redisclient "github.com/vietddude/aiguard/internal/infra/redis"
	"github.com/vietddude/aiguard/internal/infra/storage"
	"github.com/vietddude/aiguard/internal/infra/storage/memory"
	"github.com/vietddude/aiguard/internal/infra/storage/postgres"
)

// Stores bundles the repositories selected by configuration.
type Stores struct {
	Tickets storage.TicketRepository
	Health  storage.HealthRepository
	Events  storage.ErrorEventRepository // nil unless postgres is configured

	DB          *postgres.DB
	redisClient *redisclient.Client
	badger      *badgerstore.Store
}

// OpenStores connects the configured storage driver. A database URL also
// enables the postgres event store, whatever the ticket driver.
func OpenStores(ctx context.Context, cfg *config.AppConfig) (*Stores, error) {
	s := &Stores{}

	if cfg.Database.URL != "" {
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}
		s.DB = db
		s.Events = postgres.NewErrorEventRepo(db)
	}

	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		s.Tickets = postgres.NewTicketRepo(s.DB)
		s.Health = postgres.NewHealthRepo(s.DB)
		slog.Info("Using PostgreSQL storage")

	case config.DriverRedis:
		client, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		s.redisClient = client
		s.Tickets = redisclient.NewTicketRepo(client)
		s.Health = redisclient.NewHealthRepo(client)
		slog.Info("Using Redis storage", "prefix", cfg.Redis.KeyPrefix)

	case config.DriverBadger:
		store, err := badgerstore.Open(cfg.Badger)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to open badger: %w", err)
		}
		s.badger = store
		s.Tickets = badgerstore.NewTicketRepo(store)
		s.Health = badgerstore.NewHealthRepo(store)
		slog.Info("Using Badger storage", "dir", cfg.Badger.Dir, "in_memory", cfg.Badger.InMemory)

	default:
		mem := memory.NewMemoryStorage()
		s.Tickets = memory.NewTicketRepo(mem)
		s.Health = memory.NewHealthRepo(mem)
		if s.Events == nil {
			s.Events = memory.NewErrorEventRepo(mem)
		}
		slog.Info("Using Memory storage")
	}

	return s, nil
}

// Ping checks every connected backend.
func (s *Stores) Ping(ctx context.Context) error {
	var errs []error
	if s.DB != nil {
		errs = append(errs, s.DB.Health(ctx))
	}
	if s.redisClient != nil {
		errs = append(errs, s.redisClient.Health(ctx))
	}
	return errors.Join(errs...)
}

// Close releases every connection.
func (s *Stores) Close() error {
	var errs []error
	if s.badger != nil {
		errs = append(errs, s.badger.Close())
	}
	if s.redisClient != nil {
		errs = append(errs, s.redisClient.Close())
	}
	if s.DB != nil {
		errs = append(errs, s.DB.Close())
	}
	return errors.Join(errs...)
}
