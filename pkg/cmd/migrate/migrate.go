package migrate

import (
	"context"
	"fmt"
	"log"

	"github.com/rhythmiq/rhythmiq/pkg/storage"
)

type Config struct {
	DBType string
	DBConn string
}

// Run launches the migration process.
func Run(ctx context.Context, cfg *Config) error {
	store, err := storage.New(cfg.DBType, cfg.DBConn, true)
	if err != nil {
		return fmt.Errorf("migrate: couldn't create: %w", err)
	}
	if err := store.Start(ctx); err != nil {
		return fmt.Errorf("migrate: couldn't start: %w", err)
	}
	defer func() { _ = store.Stop(ctx) }()
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: couldn't migrate: %w", err)
	}
	v, err := store.Version(ctx)
	if err != nil {
		return fmt.Errorf("migrate: couldn't get version: %w", err)
	}
	log.Printf("migrate: schema version %d\n", v)
	return nil
}
