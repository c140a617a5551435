package control

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vietddude/gaswatch/internal/core/config"
	"github.com/vietddude/gaswatch/internal/infra/storage"
	badgerstore "github.com/vietddude/gaswatch/internal/infra/storage/badger"
	"github.com/vietddude/gaswatch/internal/infra/storage/memory"
	"github.com/vietddude/gaswatch/internal/infra/storage/postgres"
)

// OpenStore opens the configured record store and applies migrations.
// db is non-nil only for the postgres driver.
func OpenStore(ctx context.Context, cfg config.StorageConfig) (store storage.RecordStore, db *postgres.DB, err error) {
	switch cfg.Driver {
	case "postgres":
		db, err = postgres.NewDB(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("failed to migrate db: %w", err)
		}
		slog.Info("Using PostgreSQL storage")
		return postgres.NewRecordRepo(db), db, nil

	case "badger":
		s, err := badgerstore.New(cfg.Badger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open badger: %w", err)
		}
		slog.Info("Using Badger storage", "path", cfg.Badger.Path, "in_memory", cfg.Badger.InMemory)
		return s, nil, nil

	case "memory":
		slog.Warn("Using memory storage, records are lost on restart")
		return memory.NewStore(), nil, nil
	}
	return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}
