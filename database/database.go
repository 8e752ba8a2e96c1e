package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/icodeforyou/elpris-go/hours"
	"github.com/icodeforyou/elpris-go/types"
	sqlite "modernc.org/sqlite"
)

type Database struct {
	logger *slog.Logger
	read   *sql.DB
	write  *sql.DB
	path   string
}

const initSQL = `
	PRAGMA journal_mode = WAL;
	PRAGMA synchronous = NORMAL;
	PRAGMA temp_store = MEMORY;
	PRAGMA busy_timeout = 5000;
	PRAGMA automatic_index = true;
	PRAGMA foreign_keys = ON;
	PRAGMA analysis_limit = 1000;
	PRAGMA trusted_schema = OFF;
`

// The hook is process wide in modernc, so it is registered once and must not
// capture the context of the first caller.
var registerHook sync.Once

type Options struct {
	MaxReadConns int
	ConnMaxIdle  time.Duration
}

/**
 * A new database connection with a pool of readers and a single writer.
 * Inspired by: https://theitsolutions.io/blog/modernc.org-sqlite-with-go
 */
func New(ctx context.Context, path string, opts Options) (*Database, error) {
	registerHook.Do(func() {
		sqlite.RegisterConnectionHook(func(conn sqlite.ExecQuerierContext, _ string) error {
			_, err := conn.ExecContext(context.Background(), initSQL, nil)
			return err
		})
	})

	if opts.MaxReadConns < 1 {
		opts.MaxReadConns = 10
	}
	if opts.ConnMaxIdle <= 0 {
		opts.ConnMaxIdle = time.Minute
	}

	read, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("error when opening database (read): %w", err)
	}
	read.SetMaxOpenConns(opts.MaxReadConns) // readers can be concurrent
	read.SetConnMaxIdleTime(opts.ConnMaxIdle)

	write, err := sql.Open("sqlite", path)
	if err != nil {
		read.Close()
		return nil, fmt.Errorf("error when opening database (write): %w", err)
	}
	write.SetMaxOpenConns(1) // only a single writer ever, no concurrency
	write.SetConnMaxIdleTime(opts.ConnMaxIdle)

	d := &Database{
		logger: slog.Default().With(slog.String("module", "database")),
		read:   read,
		write:  write,
		path:   path,
	}

	err = d.migrate(ctx)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return d, nil
}

func (d *Database) SetLogger(logger *slog.Logger) {
	d.logger = logger
}

func (d *Database) Path() string {
	return d.path
}

func (d *Database) Close() error {
	rerr := d.read.Close()
	werr := d.write.Close()
	if rerr != nil {
		return rerr
	}
	return werr
}

func (d *Database) Ping(ctx context.Context) error {
	if err := d.read.PingContext(ctx); err != nil {
		return storeError("ping", err)
	}
	return nil
}

func (d *Database) purgeTable(ctx context.Context, table string, retentionDays int) (int64, error) {
	d.logger.Debug(fmt.Sprintf("purging table %s", table))
	duration := 24 * time.Hour * time.Duration(retentionDays)
	before := hours.FromTime(hours.Now().Add(-duration))
	res, err := d.write.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM %s
		WHERE (date = ? AND hour < ?) OR date < ?`, table),
		before.Date, before.Hour, before.Date)
	if err != nil {
		return 0, storeError("purge "+table, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		d.logger.Warn("can't get rows affected by purge", slog.String("table", table), slog.Any("error", err))
		return 0, nil
	}
	d.logger.Debug(fmt.Sprintf("purged %d rows from %s", rows, table))
	return rows, nil
}

// storeError marks a failing database call as retryable for the caller.
func storeError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", types.ErrTransientStore, op, err)
}
