package postgres

import (
	"context"
	"embed"
	"fmt"
	"path"
	"regexp"
	"slices"
	"strconv"

	"github.com/jackc/pgx/v5"
)

//go:embed migrations/*.sql
var migrationsDir embed.FS

var migrationName = regexp.MustCompile(`^(\d+)[-_]`)

// Serializes concurrent migrators, any constant unique to this schema works.
const migrationLockKey int64 = 0x656c70726973

const (
	createSchemaVersionSQL = `CREATE TABLE IF NOT EXISTS schema_version (
        version    INTEGER     NOT NULL PRIMARY KEY,
        applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
    );`
	currentVersionSQL = `SELECT COALESCE(MAX(version), 0) FROM schema_version;`
	insertVersionSQL  = `INSERT INTO schema_version (version) VALUES ($1);`
	migrationLockSQL  = `SELECT pg_advisory_xact_lock($1);`
)

type migration struct {
	version int
	name    string
}

func migrations() ([]migration, error) {
	entries, err := migrationsDir.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("read migrations directory: %w", err)
	}

	var all []migration
	for _, e := range entries {
		m := migrationName.FindStringSubmatch(e.Name())
		if len(m) < 2 {
			return nil, fmt.Errorf("parse version from migration file: %s", e.Name())
		}
		ver, err := strconv.Atoi(m[1])
		if err != nil {
			return nil, fmt.Errorf("convert migration version from file %s: %w", e.Name(), err)
		}
		all = append(all, migration{version: ver, name: e.Name()})
	}
	slices.SortFunc(all, func(a, b migration) int { return a.version - b.version })
	return all, nil
}

// SchemaVersion is the highest applied migration.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var ver int
	if err := s.pool.QueryRow(ctx, currentVersionSQL).Scan(&ver); err != nil {
		return 0, fmt.Errorf("get current version: %w", err)
	}
	return ver, nil
}

// Migrate applies pending migrations, each in its own transaction.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, createSchemaVersionSQL); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	all, err := migrations()
	if err != nil {
		return err
	}

	for _, m := range all {
		err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, migrationLockSQL, migrationLockKey); err != nil {
				return fmt.Errorf("lock schema: %w", err)
			}

			var current int
			if err := tx.QueryRow(ctx, currentVersionSQL).Scan(&current); err != nil {
				return fmt.Errorf("get current version: %w", err)
			}
			if m.version <= current {
				return nil
			}

			s.logger.Debug(fmt.Sprintf("applying migration %d", m.version), "file", m.name)
			data, err := migrationsDir.ReadFile(path.Join("migrations", m.name))
			if err != nil {
				return fmt.Errorf("read migration file %s: %w", m.name, err)
			}
			if _, err := tx.Exec(ctx, string(data)); err != nil {
				return fmt.Errorf("apply migration %d: %w", m.version, err)
			}
			if _, err := tx.Exec(ctx, insertVersionSQL, m.version); err != nil {
				return fmt.Errorf("update database version for migration %d: %w", m.version, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	return nil
}
