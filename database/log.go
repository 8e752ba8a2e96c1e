package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

const (
	insertLogSQL = `INSERT INTO log (timestamp, level, message, attrs) VALUES (?, ?, ?, ?)`

	selectLogSQL = `
		SELECT id, timestamp, level, message, attrs
		FROM log
		WHERE level >= ?
		ORDER BY id DESC
		LIMIT ? OFFSET ?`

	// Everything at or below the id of the first row past the newest N.
	trimLogSQL = `
		DELETE FROM log
		WHERE id <= (SELECT id FROM log ORDER BY id DESC LIMIT 1 OFFSET ?)`
)

// LogEntryRow is one persisted slog record. Timestamps are stored in UTC.
type LogEntryRow struct {
	ID        int64
	Timestamp time.Time
	Level     int
	Message   string
	Attrs     string
}

func (d *Database) SaveLogEntry(ctx context.Context, r LogEntryRow) error {
	ts := r.Timestamp.UTC().Format(time.RFC3339Nano)
	if _, err := d.write.ExecContext(ctx, insertLogSQL, ts, r.Level, r.Message, r.Attrs); err != nil {
		return fmt.Errorf("saving log entry: %w", err)
	}
	return nil
}

func scanLogEntry(rows *sql.Rows) (LogEntryRow, error) {
	var r LogEntryRow
	var ts string
	if err := rows.Scan(&r.ID, &ts, &r.Level, &r.Message, &r.Attrs); err != nil {
		return LogEntryRow{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return LogEntryRow{}, fmt.Errorf("parsing log timestamp %q: %w", ts, err)
	}
	r.Timestamp = t
	return r, nil
}

// GetLogEntries pages through entries at or above minLvl, newest first.
// Pages start at 1.
func (d *Database) GetLogEntries(ctx context.Context, minLvl slog.Level, page, pageSize int) ([]LogEntryRow, error) {
	page = max(page, 1)
	if pageSize < 1 {
		pageSize = 10
	}

	rows, err := d.read.QueryContext(ctx, selectLogSQL, int(minLvl), pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, storeError("fetching log entries", err)
	}
	defer rows.Close()

	var entries []LogEntryRow
	for rows.Next() {
		r, err := scanLogEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading log rows: %w", err)
	}
	return entries, nil
}

// PurgeLog keeps the newest maxLogEntries rows and returns how many were
// removed.
func (d *Database) PurgeLog(ctx context.Context, maxLogEntries int) (int64, error) {
	res, err := d.write.ExecContext(ctx, trimLogSQL, max(maxLogEntries, 0))
	if err != nil {
		return 0, storeError("purging log", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purging log: %w", err)
	}
	if n > 0 {
		d.logger.Debug("log trimmed", slog.Int64("deleted", n), slog.Int("kept", maxLogEntries))
	}
	return n, nil
}
