package store

import (
	"context"
	"fmt"
	"time"

	"github.com/comigor/escal8-go/internal/config"
)

// Open builds the Store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig, timeout time.Duration) (Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		return NewPostgresStore(ctx, cfg.URL, PostgresOptions{
			Password: cfg.Key,
			MaxConns: cfg.MaxConns,
			Timeout:  timeout,
		})
	case config.DriverSQLite:
		return NewSQLiteStore(ctx, cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}
}
