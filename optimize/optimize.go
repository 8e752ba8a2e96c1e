package optimize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/icodeforyou/elpris-go/hours"
	"github.com/icodeforyou/elpris-go/types"
	"github.com/icodeforyou/elpris-go/types/maybe"
)

const (
	DefaultLookaheadHours = 48
	DefaultQueryTimeout   = 5 * time.Second
)

// PriceReader is the read side of the price store.
type PriceReader interface {
	PriceRange(ctx context.Context, from hours.DateHour, to maybe.Maybe[hours.DateHour]) ([]types.PriceRecord, error)
	CheapestHour(ctx context.Context, from hours.DateHour, to maybe.Maybe[hours.DateHour]) (types.PriceRecord, bool, error)
}

// Optimizer answers cheapest hour and cheapest run questions. It holds no
// state besides its store and is safe for concurrent use.
type Optimizer struct {
	logger           *slog.Logger
	store            PriceReader
	defaultLookahead int
	queryTimeout     time.Duration
}

func NewOptimizer(logger *slog.Logger, store PriceReader, defaultLookahead int, queryTimeout time.Duration) *Optimizer {
	if defaultLookahead < 1 {
		defaultLookahead = DefaultLookaheadHours
	}
	if queryTimeout <= 0 {
		queryTimeout = DefaultQueryTimeout
	}
	return &Optimizer{
		logger:           logger.With(slog.String("module", "optimize")),
		store:            store,
		defaultLookahead: defaultLookahead,
		queryTimeout:     queryTimeout,
	}
}

// firstEligible is the earliest hour start that is not in the past. The
// current hour only counts when now is exactly on the hour.
func firstEligible(now time.Time) hours.DateHour {
	return hours.Ceil(now.In(hours.Location()))
}

func horizonEnd(now time.Time, horizonHours int) hours.DateHour {
	return hours.FromTime(now.In(hours.Location()).Add(time.Duration(horizonHours) * time.Hour))
}

func validHorizon(horizon maybe.Maybe[int]) error {
	if horizon.IsValid() && horizon.Value() < 1 {
		return fmt.Errorf("%w: horizon must be at least one hour, got %d", types.ErrInvalidArgument, horizon.Value())
	}
	return nil
}

func queryError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, types.ErrTransientStore) {
		return fmt.Errorf("%w: %s: %w", types.ErrTransientStore, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// FindCheapestHour returns the record with the lowest total price starting at
// or after now, and no later than now plus the horizon when one is given.
// Ties go to the earliest hour.
func (o *Optimizer) FindCheapestHour(ctx context.Context, now time.Time, horizon maybe.Maybe[int]) (types.PriceRecord, error) {
	if err := validHorizon(horizon); err != nil {
		return types.PriceRecord{}, err
	}

	from := firstEligible(now)
	to := maybe.None[hours.DateHour]()
	if horizon.IsValid() {
		to = maybe.Some(horizonEnd(now, horizon.Value()))
	}

	ctx, cancel := context.WithTimeout(ctx, o.queryTimeout)
	defer cancel()

	r, found, err := o.store.CheapestHour(ctx, from, to)
	if err != nil {
		return types.PriceRecord{}, queryError("cheapest hour", err)
	}
	if !found {
		return types.PriceRecord{}, types.ErrNoData
	}

	o.logger.Debug("cheapest hour found",
		slog.String("from", from.String()),
		slog.String("hour", r.When.String()),
		slog.String("total_price", r.TotalPrice.String()))
	return r, nil
}
