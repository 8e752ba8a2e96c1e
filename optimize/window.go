package optimize

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/icodeforyou/elpris-go/hours"
	"github.com/icodeforyou/elpris-go/types"
	"github.com/icodeforyou/elpris-go/types/maybe"
	"github.com/shopspring/decimal"
)

// Window is a run of consecutive hours present in the store.
type Window struct {
	Start   hours.DateHour
	End     hours.DateHour // last hour of the run, inclusive
	Total   decimal.Decimal
	Records []types.PriceRecord
}

func (w Window) Average() decimal.Decimal {
	if len(w.Records) == 0 {
		return decimal.Zero
	}
	return w.Total.Div(decimal.NewFromInt(int64(len(w.Records))))
}

// FindCheapestSequenceStart finds the run of duration consecutive hours with
// the lowest summed total price. The run starts at or after now and its last
// hour is no later than now plus the horizon, or plus the default lookahead
// when no horizon is given. Ties go to the earliest start.
func (o *Optimizer) FindCheapestSequenceStart(ctx context.Context, now time.Time, duration int, horizon maybe.Maybe[int]) (Window, error) {
	if duration < 1 {
		return Window{}, fmt.Errorf("%w: duration must be at least one hour, got %d", types.ErrInvalidArgument, duration)
	}
	if err := validHorizon(horizon); err != nil {
		return Window{}, err
	}
	if horizon.IsValid() && duration > horizon.Value() {
		return Window{}, fmt.Errorf("%w: duration %d exceeds the %d hour window", types.ErrInvalidArgument, duration, horizon.Value())
	}

	from := firstEligible(now)
	to := horizonEnd(now, horizon.ValueOrDefault(o.defaultLookahead))

	ctx, cancel := context.WithTimeout(ctx, o.queryTimeout)
	defer cancel()

	records, err := o.store.PriceRange(ctx, from, maybe.Some(to))
	if err != nil {
		return Window{}, queryError("cheapest sequence", err)
	}
	if len(records) == 0 {
		return Window{}, types.ErrNoData
	}

	w, ok := cheapestWindow(records, duration)
	if !ok {
		o.logger.Debug("no complete sequence in range",
			slog.String("from", from.String()),
			slog.String("to", to.String()),
			slog.Int("duration", duration),
			slog.Int("records", len(records)))
		return Window{}, fmt.Errorf("%w: no %d consecutive hours between %s and %s", types.ErrNoSequenceFound, duration, from, to)
	}

	o.logger.Debug("cheapest sequence found",
		slog.String("start", w.Start.String()),
		slog.Int("duration", duration),
		slog.String("total_price", w.Total.String()))
	return w, nil
}

// cheapestWindow slides a fixed size window over records, which must be
// strictly ascending. A missing hour resets the run, so only windows holding
// exactly size consecutive records are candidates.
func cheapestWindow(records []types.PriceRecord, size int) (Window, bool) {
	var best, sum decimal.Decimal
	bestEnd, runStart := -1, 0

	for i, r := range records {
		if i > 0 && records[i-1].When.Add(1) != r.When {
			runStart = i
			sum = decimal.Zero
		}

		sum = sum.Add(r.TotalPrice)
		if i-runStart+1 > size {
			sum = sum.Sub(records[i-size].TotalPrice)
		}
		if i-runStart+1 < size {
			continue
		}

		// Strictly less keeps the earliest start on ties.
		if bestEnd < 0 || sum.LessThan(best) {
			best = sum
			bestEnd = i
		}
	}

	if bestEnd < 0 {
		return Window{}, false
	}

	run := records[bestEnd-size+1 : bestEnd+1]
	return Window{
		Start:   run[0].When,
		End:     run[len(run)-1].When,
		Total:   best,
		Records: run,
	}, true
}
