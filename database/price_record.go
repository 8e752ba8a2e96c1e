package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/icodeforyou/elpris-go/hours"
	"github.com/icodeforyou/elpris-go/types"
	"github.com/icodeforyou/elpris-go/types/maybe"
	"github.com/shopspring/decimal"
)

// Prices are stored as integer micro units.
const priceScale = 6

func toMicro(d decimal.Decimal) int64 {
	return d.Shift(priceScale).Round(0).IntPart()
}

func fromMicro(v int64) decimal.Decimal {
	return decimal.New(v, -priceScale)
}

const priceColumns = `date, hour, spot_price, transport_taxes, total_price, median_price, category`

type priceChange struct {
	when     hours.DateHour
	oldPrice decimal.Decimal
	newPrice decimal.Decimal
}

// SavePriceRecords upserts the whole batch in one transaction and returns the
// number of hours whose total price changed.
func (d *Database) SavePriceRecords(ctx context.Context, records []types.PriceRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := d.write.BeginTx(ctx, nil)
	if err != nil {
		return 0, storeError("begin price batch", err)
	}
	defer tx.Rollback()

	lookup, err := tx.PrepareContext(ctx, `SELECT total_price FROM price_record WHERE date = ? AND hour = ?`)
	if err != nil {
		return 0, storeError("prepare price lookup", err)
	}
	defer lookup.Close()

	upsert, err := tx.PrepareContext(ctx, `
		INSERT INTO price_record (date, hour, spot_price, transport_taxes, total_price, median_price, category, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(date, hour) DO UPDATE SET
			spot_price = excluded.spot_price,
			transport_taxes = excluded.transport_taxes,
			total_price = excluded.total_price,
			median_price = excluded.median_price,
			category = excluded.category,
			fetched_at = excluded.fetched_at`)
	if err != nil {
		return 0, storeError("prepare price upsert", err)
	}
	defer upsert.Close()

	fetchedAt := time.Now().UTC().Format(time.RFC3339)

	// Logged after commit, the log table shares the single writer connection.
	var changes []priceChange
	for _, r := range records {
		var old int64
		err := lookup.QueryRowContext(ctx, r.When.Date, r.When.Hour).Scan(&old)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return 0, storeError("lookup price "+r.When.String(), err)
		case old != toMicro(r.TotalPrice):
			changes = append(changes, priceChange{when: r.When, oldPrice: fromMicro(old), newPrice: r.TotalPrice})
		}

		_, err = upsert.ExecContext(ctx,
			r.When.Date,
			r.When.Hour,
			toMicro(r.SpotPrice),
			toMicro(r.TransportTaxes),
			toMicro(r.TotalPrice),
			toMicro(r.MedianPrice),
			string(r.Category),
			fetchedAt)
		if err != nil {
			return 0, storeError("save price "+r.When.String(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, storeError("commit price batch", err)
	}

	for _, c := range changes {
		d.logger.Info("price changed",
			slog.String("hour", c.when.String()),
			slog.String("old_total_price", c.oldPrice.String()),
			slog.String("new_total_price", c.newPrice.String()))
	}

	return len(changes), nil
}

// rangeClause builds an inclusive hour range filter.
func rangeClause(from hours.DateHour, to maybe.Maybe[hours.DateHour]) (string, []any) {
	var b strings.Builder
	b.WriteString("WHERE ((date = ? AND hour >= ?) OR date > ?)")
	args := []any{from.Date, from.Hour, from.Date}
	if to.IsValid() {
		upper := to.Value()
		b.WriteString(" AND ((date = ? AND hour <= ?) OR date < ?)")
		args = append(args, upper.Date, upper.Hour, upper.Date)
	}
	return b.String(), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPriceRecord(row rowScanner) (types.PriceRecord, error) {
	var (
		r                 types.PriceRecord
		spot, fees, total int64
		median            sql.NullInt64
		category          string
	)
	err := row.Scan(&r.When.Date, &r.When.Hour, &spot, &fees, &total, &median, &category)
	if err != nil {
		return types.PriceRecord{}, err
	}

	r.SpotPrice = fromMicro(spot)
	r.TransportTaxes = fromMicro(fees)
	r.TotalPrice = fromMicro(total)
	r.MedianPrice = r.TotalPrice
	if median.Valid {
		r.MedianPrice = fromMicro(median.Int64)
	}
	r.Category, err = types.ParseCategory(category)
	if err != nil {
		return types.PriceRecord{}, err
	}
	return r, nil
}

// PriceRange returns the records between from and to, both inclusive, in
// ascending hour order. A missing upper bound means all later records.
func (d *Database) PriceRange(ctx context.Context, from hours.DateHour, to maybe.Maybe[hours.DateHour]) ([]types.PriceRecord, error) {
	where, args := rangeClause(from, to)
	rows, err := d.read.QueryContext(ctx,
		"SELECT "+priceColumns+" FROM price_record "+where+" ORDER BY date, hour ASC", args...)
	if err != nil {
		return nil, storeError("query price range", err)
	}
	defer rows.Close()

	var records []types.PriceRecord
	for rows.Next() {
		r, err := scanPriceRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning price record: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("reading price rows", err)
	}

	return records, nil
}

// CheapestHour returns the lowest total price in the range, the earliest hour
// on ties. The bool is false when the range is empty.
func (d *Database) CheapestHour(ctx context.Context, from hours.DateHour, to maybe.Maybe[hours.DateHour]) (types.PriceRecord, bool, error) {
	where, args := rangeClause(from, to)
	row := d.read.QueryRowContext(ctx,
		"SELECT "+priceColumns+" FROM price_record "+where+" ORDER BY total_price ASC, date ASC, hour ASC LIMIT 1", args...)

	r, err := scanPriceRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.PriceRecord{}, false, nil
	}
	if err != nil {
		return types.PriceRecord{}, false, storeError("query cheapest hour", err)
	}
	return r, true, nil
}

func (d *Database) DeletePriceRecord(ctx context.Context, dh hours.DateHour) error {
	_, err := d.write.ExecContext(ctx, `DELETE FROM price_record WHERE date = ? AND hour = ?`, dh.Date, dh.Hour)
	if err != nil {
		return storeError("delete price "+dh.String(), err)
	}
	return nil
}

func (d *Database) PurgePriceRecords(ctx context.Context, retentionDays int) (int64, error) {
	return d.purgeTable(ctx, "price_record", retentionDays)
}

// LastFetch is the time of the most recent successful save.
func (d *Database) LastFetch(ctx context.Context) (time.Time, bool, error) {
	var last sql.NullString
	err := d.read.QueryRowContext(ctx, `SELECT MAX(fetched_at) FROM price_record`).Scan(&last)
	if err != nil {
		return time.Time{}, false, storeError("query last fetch", err)
	}
	if !last.Valid {
		return time.Time{}, false, nil
	}
	t, err := time.Parse(time.RFC3339, last.String)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parsing fetched_at %q: %w", last.String, err)
	}
	return t, true, nil
}
