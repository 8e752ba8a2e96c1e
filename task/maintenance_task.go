package task

import (
	"context"
	"log/slog"
	"time"

	"github.com/icodeforyou/elpris-go/config"
	"github.com/icodeforyou/elpris-go/database"
)

// NewMaintenanceTask backs up the SQLite store and trims backups and the
// log table. Price retention is handled by the fetch job.
func NewMaintenanceTask(logger *slog.Logger, db *database.Database, cnfg *config.AppConfig) func() {
	return func() {
		logger.Debug("running maintenance task...")

		ctx, cancel := context.WithTimeout(context.Background(), 1*time.Minute)
		defer cancel()

		if path, err := db.Backup(ctx); err != nil {
			logger.Error("database backup error", slog.Any("error", err))
		} else {
			logger.Debug("database backup written", slog.String("path", path))
		}

		if n, err := db.PurgeBackups(ctx, cnfg.Database.BackupRetentionDays); err != nil {
			logger.Error("backup maintenance error", slog.Any("error", err))
		} else if n > 0 {
			logger.Debug("old backups removed", slog.Int("count", n))
		}

		if n, err := db.PurgeLog(ctx, cnfg.Logging.GetDbMaxEntries()); err != nil {
			logger.Error("log maintenance error", slog.Any("error", err))
		} else if n > 0 {
			logger.Debug("old log entries removed", slog.Int64("count", n))
		}

		logger.Info("maintenance task done")
	}
}
