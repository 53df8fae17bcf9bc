package storage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bimakw/walletsync/internal/config"
	"github.com/bimakw/walletsync/internal/domain/repositories"
	"github.com/bimakw/walletsync/internal/infrastructure/database"
	"github.com/bimakw/walletsync/internal/infrastructure/localstore"
)

// Store drivers
const (
	DriverPostgres = "postgres"
	DriverLocal    = "local"
	DriverMemory   = "memory"
)

// Backend is an opened token record store
type Backend interface {
	repositories.TokenRecordStore
	HealthCheck(ctx context.Context) error
	Close() error
}

type postgresBackend struct {
	*database.TokenRecordRepo
	db *database.PostgresDB
}

func (b *postgresBackend) HealthCheck(ctx context.Context) error {
	return b.db.HealthCheck(ctx)
}

func (b *postgresBackend) Close() error {
	return b.db.Close()
}

// Open opens the token record store selected by cfg.Store.Driver
func Open(cfg *config.Config, logger *zap.Logger) (Backend, error) {
	switch cfg.Store.Driver {
	case DriverPostgres:
		db, err := database.NewPostgresDB(cfg.Database, logger)
		if err != nil {
			return nil, err
		}

		if cfg.Database.Migrate {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := db.Migrate(ctx); err != nil {
				_ = db.Close()
				return nil, err
			}
		}

		return &postgresBackend{
			TokenRecordRepo: database.NewTokenRecordRepo(db.DB()),
			db:              db,
		}, nil

	case DriverLocal:
		journal, err := localstore.OpenWALJournal(cfg.Store)
		if err != nil {
			return nil, err
		}

		store, err := localstore.Open(journal, logger)
		if err != nil {
			_ = journal.Close()
			return nil, err
		}
		return store, nil

	case DriverMemory:
		logger.Warn("Using in-memory token store, cached records are lost on exit")
		return localstore.NewMemoryStore(logger), nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
