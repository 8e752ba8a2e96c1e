package www

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/icodeforyou/elpris-go/database"
	"github.com/icodeforyou/elpris-go/logging"
)

type LogReader interface {
	GetLogEntries(ctx context.Context, minLvl slog.Level, page, pageSize int) ([]database.LogEntryRow, error)
}

type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	Attrs     string `json:"attrs"`
}

type LogPage struct {
	Page     int        `json:"page"`
	PageSize int        `json:"page_size"`
	Entries  []LogEntry `json:"entries"`
}

// NewLogHandler pages through the persisted log, newest first.
func NewLogHandler(logger *slog.Logger, logs LogReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		page := intParam(q, "page", 1, 1, math.MaxInt32)
		pageSize := intParam(q, "pageSize", 25, 1, 500)
		level := slog.LevelDebug
		if v := q.Get("level"); v != "" {
			level = logging.LevelFromString(&v)
		}

		rows, err := logs.GetLogEntries(r.Context(), level, page, pageSize)
		if err != nil {
			logger.Error("handling log request", slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, "Internal server error")
			return
		}

		res := LogPage{Page: page, PageSize: pageSize, Entries: make([]LogEntry, len(rows))}
		for i, row := range rows {
			res.Entries[i] = LogEntry{
				Timestamp: row.Timestamp.Format(time.RFC3339),
				Level:     slog.Level(row.Level).String(),
				Message:   row.Message,
				Attrs:     row.Attrs,
			}
		}

		if err := writeJSON(w, http.StatusOK, res); err != nil {
			logger.Warn("writing response failed", slog.Any("error", err))
		}
	}
}
