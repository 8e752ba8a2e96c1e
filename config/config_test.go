package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "api:\n  port: 9000\n")

	c, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if c.Api.Addr() != "0.0.0.0:9000" {
		t.Errorf("got address %q, wanted 0.0.0.0:9000", c.Api.Addr())
	}
	if !c.Database.IsSQLite() || c.Database.Path != "data/elpris.db" {
		t.Errorf("got database %+v, wanted sqlite at data/elpris.db", c.Database)
	}
	if c.Database.QueryTimeout != 5*time.Second {
		t.Errorf("got query timeout %v, wanted 5s", c.Database.QueryTimeout)
	}
	if c.Database.DataRetentionDays != 30 {
		t.Errorf("got retention %d, wanted 30", c.Database.DataRetentionDays)
	}
	if c.PriceSource.ProductID != "1#1#TIMEENERGI" || c.PriceSource.Region != "east" || c.PriceSource.Tax != 0 {
		t.Errorf("got price source %+v", c.PriceSource)
	}
	if c.PriceSource.Timeout != 30*time.Second {
		t.Errorf("got fetch timeout %v, wanted 30s", c.PriceSource.Timeout)
	}
	if c.Scheduler.FetchAt != "10 14 * * *" || c.Scheduler.Timezone != "Europe/Copenhagen" || !c.Scheduler.FetchOnStart {
		t.Errorf("got scheduler %+v", c.Scheduler)
	}
	if c.Optimizer.DefaultLookaheadHours != 48 {
		t.Errorf("got lookahead %d, wanted 48", c.Optimizer.DefaultLookaheadHours)
	}
	if c.Logging.GetDbMaxEntries() != 10000 || c.Logging.GetConsoleLevel() != slog.LevelInfo {
		t.Errorf("got logging defaults %d %v", c.Logging.GetDbMaxEntries(), c.Logging.GetConsoleLevel())
	}
}

func TestLoadEnvironmentOverride(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "database:\n  driver: sqlite\n")
	t.Setenv("DATABASE_DRIVER", "postgres")
	t.Setenv("DATABASE_DSN", "postgres://localhost/elpris")
	t.Setenv("OPTIMIZER_DEFAULT_LOOKAHEAD_HOURS", "24")

	c, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Database.Driver != "postgres" || c.Database.DSN != "postgres://localhost/elpris" {
		t.Errorf("got database %+v, wanted env override", c.Database)
	}
	if c.Optimizer.DefaultLookaheadHours != 24 {
		t.Errorf("got lookahead %d, wanted 24", c.Optimizer.DefaultLookaheadHours)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"unknown driver", "database:\n  driver: mysql\n", "Driver"},
		{"postgres without dsn", "database:\n  driver: postgres\n", "DSN"},
		{"bad cron spec", "scheduler:\n  fetch_at: \"every day\"\n", "scheduler.fetch_at"},
		{"bad timezone", "scheduler:\n  timezone: Mars/Olympus\n", "scheduler.timezone"},
		{"lookahead too long", "optimizer:\n  default_lookahead_hours: 500\n", "DefaultLookaheadHours"},
		{"mqtt without broker", "mqtt:\n  enabled: true\n", "Broker"},
		{"bad region", "price_source:\n  region: north\n", "Region"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, t.TempDir(), tt.content))
			if err == nil {
				t.Fatalf("expected an error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("got %q, wanted it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Errorf("expected an error for a missing config file")
	}
}

func TestWatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "logging:\n  console_level: INFO\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan *AppConfig, 16)
	if err := Watch(ctx, slog.Default(), path, func(c *AppConfig) {
		select {
		case changed <- c:
		default:
		}
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	writeConfig(t, dir, "logging:\n  console_level: DEBUG\n")

	// A truncating write can be observed half done, wait for the final state.
	deadline := time.After(5 * time.Second)
	for {
		select {
		case c := <-changed:
			if c.Logging.GetConsoleLevel() == slog.LevelDebug {
				return
			}
		case <-deadline:
			t.Fatalf("config change to DEBUG was not observed")
		}
	}
}
