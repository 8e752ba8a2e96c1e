package www

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/icodeforyou/elpris-go/hours"
)

type DataStatus string

const (
	DataFresh      DataStatus = "fresh"
	DataAcceptable DataStatus = "acceptable"
	DataStale      DataStatus = "stale"
	DataUnknown    DataStatus = "unknown"
)

const (
	freshFor      = 3 * time.Hour
	acceptableFor = 25 * time.Hour
)

func dataStatus(age time.Duration) DataStatus {
	switch {
	case age <= freshFor:
		return DataFresh
	case age <= acceptableFor:
		return DataAcceptable
	default:
		return DataStale
	}
}

type HealthStore interface {
	Ping(ctx context.Context) error
	LastFetch(ctx context.Context) (time.Time, bool, error)
}

type HealthDetails struct {
	LastFetch    *string    `json:"last_fetch"`
	LastFetchUTC *string    `json:"last_fetch_utc"`
	DataAge      *float64   `json:"data_age"` // hours
	DataStatus   DataStatus `json:"data_status"`
}

type HealthResponse struct {
	Status    string        `json:"status"`
	Timestamp string        `json:"timestamp"`
	Details   HealthDetails `json:"details"`
}

// NewHealthHandler reports store reachability and how old the last fetch is.
// Only an unreachable store makes the check fail. Store calls share one
// timeout.
func NewHealthHandler(logger *slog.Logger, store HealthStore, timeout time.Duration, now func() time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		t := now()
		res := HealthResponse{
			Status:    "healthy",
			Timestamp: t.In(hours.Location()).Format(time.RFC3339),
			Details:   HealthDetails{DataStatus: DataUnknown},
		}
		status := http.StatusOK

		if err := store.Ping(ctx); err != nil {
			logger.Warn("health check ping failed", slog.Any("error", err))
			res.Status = "unhealthy"
			status = http.StatusServiceUnavailable
		} else if last, ok, err := store.LastFetch(ctx); err != nil {
			logger.Warn("health check last fetch failed", slog.Any("error", err))
		} else if ok {
			local := last.In(hours.Location()).Format(time.RFC3339)
			utc := last.UTC().Format(time.RFC3339)
			age := max(t.Sub(last), 0)
			ageHours := math.Round(age.Hours()*100) / 100
			res.Details = HealthDetails{
				LastFetch:    &local,
				LastFetchUTC: &utc,
				DataAge:      &ageHours,
				DataStatus:   dataStatus(age),
			}
		}

		if err := writeJSON(w, status, res); err != nil {
			logger.Warn("writing response failed", slog.Any("error", err))
		}
	}
}
