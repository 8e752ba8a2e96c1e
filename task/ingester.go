package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/icodeforyou/elpris-go/calc"
	"github.com/icodeforyou/elpris-go/hours"
	"github.com/icodeforyou/elpris-go/types"
	"github.com/icodeforyou/elpris-go/types/maybe"
)

// How far ahead a price must exist for the store to count as up to date.
const freshnessHours = 12

type IngestResult struct {
	Records  []types.PriceRecord
	Changed  int
	Tertiles calc.Tertiles
}

// Ingester fetches one batch, classifies it and stores it as a unit.
type Ingester struct {
	logger    *slog.Logger
	provider  types.PriceProvider
	store     types.PriceStore
	observers []types.PriceObserver
	timeout   time.Duration
}

func NewIngester(logger *slog.Logger, provider types.PriceProvider, store types.PriceStore, timeout time.Duration, observers ...types.PriceObserver) *Ingester {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Ingester{
		logger:    logger.With(slog.String("task", "ingest")),
		provider:  provider,
		store:     store,
		observers: observers,
		timeout:   timeout,
	}
}

func (i *Ingester) AddObserver(o types.PriceObserver) {
	i.observers = append(i.observers, o)
}

// Run ingests today's and tomorrow's prices. Observers are only told about
// committed batches.
func (i *Ingester) Run(ctx context.Context) (IngestResult, error) {
	i.logger.Debug("running price ingestion...")

	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	day := hours.Now()
	records, err := i.provider.FetchPrices(ctx, day)
	if err != nil {
		return IngestResult{}, err
	}

	tertiles := calc.Classify(records)
	i.logger.Debug("batch statistics",
		slog.Int("count", len(records)),
		slog.String("median", tertiles.Median.String()),
		slog.String("tertile_low", tertiles.Low.String()),
		slog.String("tertile_high", tertiles.High.String()))

	changed, err := i.store.SavePriceRecords(ctx, records)
	if err != nil {
		return IngestResult{}, fmt.Errorf("saving price batch: %w", err)
	}

	for _, o := range i.observers {
		o.PricesUpdated(ctx, records)
	}

	i.logger.Info("price ingestion done",
		slog.Int("noOfHoursUpdated", len(records)),
		slog.Int("noOfPriceChanges", changed),
		slog.String("median", tertiles.Median.String()))

	return IngestResult{Records: records, Changed: changed, Tertiles: tertiles}, nil
}

// NeedsImmediateUpdate reports whether the store lacks a price twelve hours
// from now. Store failures, including a timed out check, count as needing
// an update.
func (i *Ingester) NeedsImmediateUpdate(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	dh := hours.FromNow().Add(freshnessHours)
	records, err := i.store.PriceRange(ctx, dh, maybe.Some(dh))
	if err != nil {
		i.logger.Warn("can't check for upcoming prices", slog.Any("error", err))
		return true
	}
	return len(records) == 0
}

// Cleanup deletes prices older than retentionDays.
func Cleanup(ctx context.Context, logger *slog.Logger, store types.PriceStore, retentionDays int) (int64, error) {
	deleted, err := store.PurgePriceRecords(ctx, retentionDays)
	if err != nil {
		return 0, fmt.Errorf("purging old prices: %w", err)
	}
	logger.Info("price cleanup done", slog.Int64("deleted", deleted), slog.Int("retentionDays", retentionDays))
	return deleted, nil
}

// NewFetchJob ingests and then applies the retention sweep. A failed fetch
// does not skip the sweep, a cancelled context does.
func NewFetchJob(logger *slog.Logger, ingester *Ingester, store types.PriceStore, retentionDays int) Job {
	return func(ctx context.Context) error {
		_, fetchErr := ingester.Run(ctx)
		if ctx.Err() != nil {
			return errors.Join(fetchErr, ctx.Err())
		}
		_, cleanupErr := Cleanup(ctx, logger, store, retentionDays)
		return errors.Join(fetchErr, cleanupErr)
	}
}
