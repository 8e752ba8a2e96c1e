package types

import (
	"context"
	"fmt"
	"time"

	"github.com/icodeforyou/elpris-go/hours"
	"github.com/icodeforyou/elpris-go/types/maybe"
	"github.com/shopspring/decimal"
)

type Category string

const (
	CategoryPrefer Category = "PREFER" // cheapest third of the batch
	CategoryOkay   Category = "OKAY"
	CategoryAvoid  Category = "AVOID" // most expensive third of the batch
)

func ParseCategory(s string) (Category, error) {
	switch c := Category(s); c {
	case CategoryPrefer, CategoryOkay, CategoryAvoid:
		return c, nil
	default:
		return "", fmt.Errorf("unknown price category %q", s)
	}
}

// PriceRecord is one hour of published prices in DKK/kWh.
type PriceRecord struct {
	When           hours.DateHour
	SpotPrice      decimal.Decimal // may be negative
	TransportTaxes decimal.Decimal
	TotalPrice     decimal.Decimal // ranking key for every optimization
	MedianPrice    decimal.Decimal // median of the batch this row was ingested with
	Category       Category
}

// PriceProvider fetches one ingestion batch (today and tomorrow) from upstream.
// Records are returned uncategorized.
type PriceProvider interface {
	FetchPrices(ctx context.Context, day time.Time) ([]PriceRecord, error)
}

// PriceStore is the durable, hour-keyed collection of price records.
// Range bounds are inclusive and results are strictly ascending by hour.
type PriceStore interface {
	SavePriceRecords(ctx context.Context, records []PriceRecord) (int, error)
	PriceRange(ctx context.Context, from hours.DateHour, to maybe.Maybe[hours.DateHour]) ([]PriceRecord, error)
	CheapestHour(ctx context.Context, from hours.DateHour, to maybe.Maybe[hours.DateHour]) (PriceRecord, bool, error)
	PurgePriceRecords(ctx context.Context, retentionDays int) (int64, error)
	LastFetch(ctx context.Context) (time.Time, bool, error)
	Ping(ctx context.Context) error
}

// PriceObserver is notified after a batch has been committed.
type PriceObserver interface {
	PricesUpdated(ctx context.Context, records []PriceRecord)
}
