package www

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/icodeforyou/elpris-go/hours"
	"github.com/icodeforyou/elpris-go/optimize"
	"github.com/icodeforyou/elpris-go/types"
	"github.com/icodeforyou/elpris-go/types/maybe"
)

type Optimizer interface {
	FindCheapestHour(ctx context.Context, now time.Time, horizon maybe.Maybe[int]) (types.PriceRecord, error)
	FindCheapestSequenceStart(ctx context.Context, now time.Time, duration int, horizon maybe.Maybe[int]) (optimize.Window, error)
}

type cheapestHourQuery struct {
	WithinHours *int         `query:"within_hours" validate:"omitempty,min=1,max=168"`
	Format      hours.Format `query:"format" default:"hours" validate:"oneof=hours minutes"`
}

type cheapestSequenceQuery struct {
	Duration    int          `query:"duration" validate:"required,min=1,max=24"`
	WithinHours *int         `query:"within_hours" validate:"omitempty,min=1,max=168"`
	Format      hours.Format `query:"format" default:"hours" validate:"oneof=hours minutes"`
}

type OptimalTimeResponse struct {
	StartTime string `json:"start_time"`
	TimeUntil any    `json:"time_until"` // "HH:MM" or whole minutes
}

func newOptimalTimeResponse(now time.Time, start hours.DateHour, format hours.Format) OptimalTimeResponse {
	return OptimalTimeResponse{
		StartTime: start.IsoString(),
		TimeUntil: hours.FormatUntil(hours.TimeUntil(now, start), format),
	}
}

// writeQueryError maps optimizer errors to a status. Anything unexpected is
// logged and answered without detail.
func writeQueryError(logger *slog.Logger, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, types.ErrNoData), errors.Is(err, types.ErrNoSequenceFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, types.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		logger.Error("query failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func NewCheapestHourHandler(logger *slog.Logger, opt Optimizer, now func() time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var q cheapestHourQuery
		if errs := readQuery(r.URL.Query(), &q); errs != nil {
			writeError(w, http.StatusUnprocessableEntity, errs)
			return
		}

		t := now()
		rec, err := opt.FindCheapestHour(r.Context(), t, maybe.FromPtr(q.WithinHours))
		if err != nil {
			writeQueryError(logger, w, err)
			return
		}

		if err := writeJSON(w, http.StatusOK, newOptimalTimeResponse(t, rec.When, q.Format)); err != nil {
			logger.Warn("writing response failed", slog.Any("error", err))
		}
	}
}

func NewCheapestSequenceHandler(logger *slog.Logger, opt Optimizer, now func() time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var q cheapestSequenceQuery
		if errs := readQuery(r.URL.Query(), &q); errs != nil {
			writeError(w, http.StatusUnprocessableEntity, errs)
			return
		}

		if q.WithinHours != nil && q.Duration > *q.WithinHours {
			writeError(w, http.StatusBadRequest, "Duration cannot be longer than the look ahead window")
			return
		}

		t := now()
		win, err := opt.FindCheapestSequenceStart(r.Context(), t, q.Duration, maybe.FromPtr(q.WithinHours))
		if err != nil {
			writeQueryError(logger, w, err)
			return
		}

		if err := writeJSON(w, http.StatusOK, newOptimalTimeResponse(t, win.Start, q.Format)); err != nil {
			logger.Warn("writing response failed", slog.Any("error", err))
		}
	}
}
