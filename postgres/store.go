package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/icodeforyou/elpris-go/hours"
	"github.com/icodeforyou/elpris-go/types"
	"github.com/icodeforyou/elpris-go/types/maybe"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ErrNotConfigured indicates the storage pool was not initialised.
var ErrNotConfigured = errors.New("postgres: pool not configured")

const (
	upsertPriceRecordSQL = `WITH prev AS (
        SELECT total_price FROM price_records WHERE hour_start = $1
    )
    INSERT INTO price_records (
        hour_start,
        spot_price,
        transport_taxes,
        total_price,
        median_price,
        category,
        fetched_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    ON CONFLICT (hour_start) DO UPDATE
    SET
        spot_price      = EXCLUDED.spot_price,
        transport_taxes = EXCLUDED.transport_taxes,
        total_price     = EXCLUDED.total_price,
        median_price    = EXCLUDED.median_price,
        category        = EXCLUDED.category,
        fetched_at      = EXCLUDED.fetched_at
    RETURNING (SELECT total_price::text FROM prev);`

	selectPriceColumns = `SELECT
        hour_start,
        spot_price::text,
        transport_taxes::text,
        total_price::text,
        median_price::text,
        category
    FROM price_records
    WHERE hour_start >= $1
      AND ($2::timestamp IS NULL OR hour_start <= $2)`

	listPriceRangeSQL = selectPriceColumns + `
    ORDER BY hour_start;`

	cheapestHourSQL = selectPriceColumns + `
    ORDER BY total_price, hour_start
    LIMIT 1;`

	deletePricesBeforeSQL = `DELETE FROM price_records WHERE hour_start < $1;`
	deletePriceSQL        = `DELETE FROM price_records WHERE hour_start = $1;`
	lastFetchSQL          = `SELECT MAX(fetched_at) FROM price_records;`
)

// Store keeps price records in PostgreSQL.
type Store struct {
	logger *slog.Logger
	pool   *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		logger: slog.Default().With(slog.String("module", "postgres")),
		pool:   pool,
	}
}

// Open creates the pool, verifies the connection and migrates the schema.
func Open(ctx context.Context, opts Options) (*Store, error) {
	pool, err := NewPool(ctx, opts)
	if err != nil {
		return nil, err
	}
	s := NewStore(pool)
	if err := s.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return s, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

func storeError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", types.ErrTransientStore, op, err)
}

func upperBound(to maybe.Maybe[hours.DateHour]) any {
	if !to.IsValid() {
		return nil
	}
	return to.Value().Time()
}

func (s *Store) Ping(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if err := pool.Ping(ctx); err != nil {
		return storeError("ping", err)
	}
	return nil
}

// SavePriceRecords upserts the batch in a single transaction and returns the
// number of hours whose total price changed.
func (s *Store) SavePriceRecords(ctx context.Context, records []types.PriceRecord) (int, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}

	fetchedAt := time.Now().UTC()
	changed := 0
	err = pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		for _, r := range records {
			var prev *string
			err := tx.QueryRow(ctx, upsertPriceRecordSQL,
				r.When.Time(),
				r.SpotPrice.String(),
				r.TransportTaxes.String(),
				r.TotalPrice.String(),
				r.MedianPrice.String(),
				string(r.Category),
				fetchedAt,
			).Scan(&prev)
			if err != nil {
				return fmt.Errorf("upsert price %s: %w", r.When, err)
			}
			if prev == nil {
				continue
			}
			old, err := decimal.NewFromString(*prev)
			if err != nil {
				return fmt.Errorf("parse previous total price: %w", err)
			}
			if !old.Equal(r.TotalPrice) {
				changed++
				s.logger.Info("price changed",
					slog.String("hour", r.When.String()),
					slog.String("old_total_price", old.String()),
					slog.String("new_total_price", r.TotalPrice.String()))
			}
		}
		return nil
	})
	if err != nil {
		return 0, storeError("save price batch", err)
	}
	return changed, nil
}

func scanPriceRecord(row pgx.Row) (types.PriceRecord, error) {
	var (
		r                                types.PriceRecord
		hourStart                        time.Time
		spot, fees, total, median, categ string
	)
	if err := row.Scan(&hourStart, &spot, &fees, &total, &median, &categ); err != nil {
		return types.PriceRecord{}, err
	}

	r.When = hours.FromTime(hourStart)
	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&r.SpotPrice, spot},
		{&r.TransportTaxes, fees},
		{&r.TotalPrice, total},
		{&r.MedianPrice, median},
	} {
		d, err := decimal.NewFromString(f.src)
		if err != nil {
			return types.PriceRecord{}, fmt.Errorf("parse price %q: %w", f.src, err)
		}
		*f.dst = d
	}

	var err error
	r.Category, err = types.ParseCategory(categ)
	if err != nil {
		return types.PriceRecord{}, err
	}
	return r, nil
}

// PriceRange lists records between from and to, both inclusive, ordered by hour.
func (s *Store) PriceRange(ctx context.Context, from hours.DateHour, to maybe.Maybe[hours.DateHour]) ([]types.PriceRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, listPriceRangeSQL, from.Time(), upperBound(to))
	if err != nil {
		return nil, storeError("list price range", err)
	}
	defer rows.Close()

	records := make([]types.PriceRecord, 0)
	for rows.Next() {
		r, err := scanPriceRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan price record: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("list price range", err)
	}
	return records, nil
}

// CheapestHour returns the cheapest record in the range, earliest on ties.
func (s *Store) CheapestHour(ctx context.Context, from hours.DateHour, to maybe.Maybe[hours.DateHour]) (types.PriceRecord, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return types.PriceRecord{}, false, err
	}

	r, err := scanPriceRecord(pool.QueryRow(ctx, cheapestHourSQL, from.Time(), upperBound(to)))
	if errors.Is(err, pgx.ErrNoRows) {
		return types.PriceRecord{}, false, nil
	}
	if err != nil {
		return types.PriceRecord{}, false, storeError("cheapest hour", err)
	}
	return r, true, nil
}

func (s *Store) DeletePriceRecord(ctx context.Context, dh hours.DateHour) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, deletePriceSQL, dh.Time()); err != nil {
		return storeError("delete price", err)
	}
	return nil
}

func (s *Store) PurgePriceRecords(ctx context.Context, retentionDays int) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	before := hours.FromTime(hours.Now().Add(-24 * time.Hour * time.Duration(retentionDays)))
	tag, err := pool.Exec(ctx, deletePricesBeforeSQL, before.Time())
	if err != nil {
		return 0, storeError("purge price records", err)
	}
	s.logger.Debug(fmt.Sprintf("purged %d rows from price_records", tag.RowsAffected()))
	return tag.RowsAffected(), nil
}

func (s *Store) LastFetch(ctx context.Context) (time.Time, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return time.Time{}, false, err
	}

	var last *time.Time
	if err := pool.QueryRow(ctx, lastFetchSQL).Scan(&last); err != nil {
		return time.Time{}, false, storeError("last fetch", err)
	}
	if last == nil {
		return time.Time{}, false, nil
	}
	return *last, true, nil
}
