package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/icodeforyou/elpris-go/database"
)

type LogAttrFormat string

const (
	LogAttrFormatText LogAttrFormat = "TEXT"
	LogAttrFormatJSON LogAttrFormat = "JSON"
)

type LogEntryWriter interface {
	SaveLogEntry(ctx context.Context, r database.LogEntryRow) error
}

// SQLiteHandler persists records in the log table. Attributes bound with
// WithAttrs are stored ahead of the record's own.
type SQLiteHandler struct {
	db       LogEntryWriter
	minLevel slog.Leveler
	format   LogAttrFormat
	attrs    []slog.Attr
	group    string
}

func NewSQLiteHandler(db LogEntryWriter, minLevel slog.Leveler, format LogAttrFormat) *SQLiteHandler {
	return &SQLiteHandler{db: db, minLevel: minLevel, format: format}
}

func (h *SQLiteHandler) formatAttrs(attrs []slog.Attr) string {
	if len(attrs) == 0 {
		return ""
	}

	if h.format == LogAttrFormatText {
		var b strings.Builder
		for _, a := range attrs {
			if b.Len() > 0 {
				b.WriteString("; ")
			}
			b.WriteString(a.Key)
			b.WriteString("=")
			b.WriteString(strings.ReplaceAll(strings.ReplaceAll(a.Value.String(), "=", "\\="), ";", "\\;"))
		}
		return b.String()
	}

	list := make([]map[string]string, 0, len(attrs))
	for _, a := range attrs {
		list = append(list, map[string]string{a.Key: a.Value.String()})
	}
	data, err := json.Marshal(list)
	if err != nil {
		return fmt.Sprintf(`{"error": "%v"}`, err)
	}
	return string(data)
}

func (h *SQLiteHandler) Handle(ctx context.Context, r slog.Record) error {
	if !h.Enabled(ctx, r.Level) {
		return nil
	}

	attrs := slices.Clone(h.attrs)
	r.Attrs(func(a slog.Attr) bool {
		if h.group != "" {
			a.Key = h.group + "." + a.Key
		}
		attrs = append(attrs, a)
		return true
	})

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	// A cancelled request must not drop its own error log.
	return h.db.SaveLogEntry(context.WithoutCancel(ctx), database.LogEntryRow{
		Timestamp: ts,
		Level:     int(r.Level),
		Message:   r.Message,
		Attrs:     h.formatAttrs(attrs),
	})
}

func (h *SQLiteHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	h2 := *h
	h2.attrs = slices.Clone(h.attrs)
	for _, a := range attrs {
		if h.group != "" {
			a.Key = h.group + "." + a.Key
		}
		h2.attrs = append(h2.attrs, a)
	}
	return &h2
}

func (h *SQLiteHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	if h.group != "" {
		h2.group = h.group + "." + name
	} else {
		h2.group = name
	}
	return &h2
}

func (h *SQLiteHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.minLevel.Level()
}
