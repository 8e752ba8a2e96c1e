package database

import (
	"context"
	"embed"
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
)

//go:embed migrations
var migrationsDir embed.FS

var migrationName = regexp.MustCompile(`^(\d+)[-_]`)

type migration struct {
	version int
	name    string
}

func pendingMigrations(currVer int) ([]migration, error) {
	files, err := migrationsDir.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("read migrations directory: %w", err)
	}

	var pending []migration
	for _, f := range files {
		if f.IsDir() || filepath.Ext(f.Name()) != ".sql" {
			continue
		}
		matches := migrationName.FindStringSubmatch(f.Name())
		if len(matches) < 2 {
			return nil, fmt.Errorf("parse version from migration file: %s", f.Name())
		}
		ver, err := strconv.Atoi(matches[1])
		if err != nil {
			return nil, fmt.Errorf("convert migration version from file %s: %w", f.Name(), err)
		}
		if ver <= currVer {
			continue // already applied
		}
		pending = append(pending, migration{version: ver, name: f.Name()})
	}

	slices.SortFunc(pending, func(a, b migration) int { return a.version - b.version })
	return pending, nil
}

// SchemaVersion is the value of PRAGMA user_version.
func (d *Database) SchemaVersion(ctx context.Context) (int, error) {
	var ver int
	err := d.read.QueryRowContext(ctx, "PRAGMA user_version").Scan(&ver)
	if err != nil {
		return 0, fmt.Errorf("get current version: %w", err)
	}
	return ver, nil
}

func (d *Database) migrate(ctx context.Context) error {
	currVer, err := d.SchemaVersion(ctx)
	if err != nil {
		return err
	}

	pending, err := pendingMigrations(currVer)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	// A fresh database has nothing worth saving.
	if currVer > 0 {
		if _, err := d.Backup(ctx); err != nil {
			return fmt.Errorf("backup database before migration: %w", err)
		}
	}

	for _, m := range pending {
		d.logger.Debug(fmt.Sprintf("applying migration %d", m.version), "file", m.name)

		data, err := migrationsDir.ReadFile(path.Join("migrations", m.name))
		if err != nil {
			return fmt.Errorf("read migration file %s: %w", m.name, err)
		}

		tx, err := d.write.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("start transaction for migration %d: %w", m.version, err)
		}

		_, err = tx.ExecContext(ctx, string(data))
		if err != nil {
			if rerr := tx.Rollback(); rerr != nil {
				return fmt.Errorf("rollback migration %d: %w", m.version, rerr)
			}
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}

		_, err = tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d;", m.version))
		if err != nil {
			if rerr := tx.Rollback(); rerr != nil {
				return fmt.Errorf("rollback migration %d: %w", m.version, rerr)
			}
			return fmt.Errorf("update database version for migration %d: %w", m.version, err)
		}

		if err = tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}
	}

	return nil
}
