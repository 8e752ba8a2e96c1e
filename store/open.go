package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/icodeforyou/elpris-go/config"
	"github.com/icodeforyou/elpris-go/database"
	"github.com/icodeforyou/elpris-go/hours"
	"github.com/icodeforyou/elpris-go/postgres"
	"github.com/icodeforyou/elpris-go/types"
)

// Prices is a price store that can also drop single hours.
type Prices interface {
	types.PriceStore
	DeletePriceRecord(ctx context.Context, dh hours.DateHour) error
}

// Handle is the opened backend. SQLite is nil unless the sqlite driver is
// configured, it also carries the log table and backups.
type Handle struct {
	Prices Prices
	SQLite *database.Database
	close  func() error
}

func (h *Handle) Close() error {
	if h == nil || h.close == nil {
		return nil
	}
	return h.close()
}

// Open connects and migrates the backend named by cnfg.Driver.
func Open(ctx context.Context, cnfg config.AppConfigDatabase) (*Handle, error) {
	switch cnfg.Driver {
	case "sqlite", "":
		if err := os.MkdirAll(filepath.Dir(cnfg.Path), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		db, err := database.New(ctx, cnfg.Path, database.Options{
			MaxReadConns: cnfg.MaxOpenConns,
			ConnMaxIdle:  cnfg.ConnMaxIdleTime,
		})
		if err != nil {
			return nil, err
		}
		return &Handle{Prices: db, SQLite: db, close: db.Close}, nil

	case "postgres":
		pg, err := postgres.Open(ctx, postgres.Options{
			DSN:             cnfg.DSN,
			MaxConns:        cnfg.MaxOpenConns,
			MinConns:        cnfg.MaxIdleConns,
			ConnMaxLifetime: cnfg.ConnMaxLifetime,
		})
		if err != nil {
			return nil, err
		}
		return &Handle{Prices: pg, close: pg.Close}, nil

	default:
		return nil, fmt.Errorf("unknown database driver %q", cnfg.Driver)
	}
}
