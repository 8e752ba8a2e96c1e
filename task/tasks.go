package task

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/icodeforyou/elpris-go/config"
	"github.com/icodeforyou/elpris-go/database"
	"github.com/robfig/cron/v3"
)

// cronLogger routes cron's own messages through slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append([]any{slog.Any("error", err)}, keysAndValues...)...)
}

// Tasks holds the housekeeping jobs that run on their own cron, separate
// from the fetch scheduler.
type Tasks struct {
	cron            *cron.Cron
	cnfg            *config.AppConfig
	MaintenanceTask func()
}

func NewTasks(db *database.Database, cnfg *config.AppConfig) *Tasks {
	logger := slog.Default().With("module", "tasks")
	cl := cronLogger{logger: logger}
	return &Tasks{
		cron: cron.New(
			cron.WithLocation(cnfg.Scheduler.Location()),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		cnfg:            cnfg,
		MaintenanceTask: NewMaintenanceTask(logger.With(slog.String("task", "maintenance")), db, cnfg),
	}
}

func (t *Tasks) Run() error {
	if _, err := t.cron.AddFunc(t.cnfg.Maintenance.RunAt, t.MaintenanceTask); err != nil {
		return fmt.Errorf("scheduling maintenance task: %w", err)
	}
	t.cron.Start()
	return nil
}

func (t *Tasks) Stop() context.Context {
	return t.cron.Stop()
}
