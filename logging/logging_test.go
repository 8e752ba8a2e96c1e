package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/icodeforyou/elpris-go/database"
)

type memoryLog struct {
	entries []database.LogEntryRow
}

func (m *memoryLog) SaveLogEntry(_ context.Context, r database.LogEntryRow) error {
	m.entries = append(m.entries, r)
	return nil
}

func TestLevelFromString(t *testing.T) {
	str := func(s string) *string { return &s }
	tests := []struct {
		in   *string
		want slog.Level
	}{
		{nil, slog.LevelInfo},
		{str("debug"), slog.LevelDebug},
		{str("WARN"), slog.LevelWarn},
		{str("warning"), slog.LevelWarn},
		{str("Error"), slog.LevelError},
		{str("verbose"), slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := LevelFromString(tt.in); got != tt.want {
			t.Errorf("got %v, wanted %v", got, tt.want)
		}
	}
}

func TestSQLiteHandlerKeepsBoundAttrs(t *testing.T) {
	sink := &memoryLog{}
	logger := slog.New(NewSQLiteHandler(sink, slog.LevelInfo, LogAttrFormatText)).
		With(slog.String("module", "task"))

	logger.Debug("ignored")
	logger.Info("fetched prices", slog.Int("count", 48))

	if len(sink.entries) != 1 {
		t.Fatalf("got %d entries, wanted 1", len(sink.entries))
	}
	e := sink.entries[0]
	if e.Message != "fetched prices" || e.Level != int(slog.LevelInfo) {
		t.Errorf("got %+v", e)
	}
	if e.Attrs != "module=task; count=48" {
		t.Errorf("got attrs %q, wanted %q", e.Attrs, "module=task; count=48")
	}
}

func TestSQLiteHandlerJSONAttrs(t *testing.T) {
	sink := &memoryLog{}
	logger := slog.New(NewSQLiteHandler(sink, slog.LevelInfo, LogAttrFormatJSON))
	logger.Warn("price changed", slog.String("hour", "2025-08-07 05"))

	if got := sink.entries[0].Attrs; got != `[{"hour":"2025-08-07 05"}]` {
		t.Errorf("got attrs %s", got)
	}
}

func TestMultiHandlerRespectsLevels(t *testing.T) {
	var console bytes.Buffer
	level := new(slog.LevelVar)
	level.Set(slog.LevelWarn)
	sink := &memoryLog{}

	logger := slog.New(NewMultiHandler(
		NewConsoleHandler(&console, level),
		NewSQLiteHandler(sink, slog.LevelInfo, LogAttrFormatJSON)))

	logger.Info("to the database only")
	if console.Len() != 0 {
		t.Errorf("console got %q, wanted nothing below WARN", console.String())
	}
	if len(sink.entries) != 1 {
		t.Errorf("got %d database entries, wanted 1", len(sink.entries))
	}

	level.Set(slog.LevelInfo)
	logger.Info("to both")
	if !strings.Contains(console.String(), "to both") {
		t.Errorf("console got %q after lowering the level", console.String())
	}
	if !logger.Enabled(context.Background(), slog.LevelInfo) {
		t.Errorf("expected INFO to be enabled")
	}
	if logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Errorf("expected DEBUG to be disabled")
	}
}
