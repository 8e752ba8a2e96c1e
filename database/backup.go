package database

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"
)

const backupTimeLayout = "20060102_150405"

var backupName = regexp.MustCompile(`^(\d{8}_\d{6})_elpris\.db\.zip$`)

func (d *Database) backupDir() string {
	return filepath.Join(filepath.Dir(d.path), "backups")
}

// Backup writes a compacted copy of the database into a zip archive in the
// backups directory next to it and returns the archive path.
func (d *Database) Backup(ctx context.Context) (string, error) {
	dir := d.backupDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create backup directory: %w", err)
	}

	dest := filepath.Join(dir, fmt.Sprintf("%s_elpris.db", time.Now().Format(backupTimeLayout)))
	_, err := d.write.ExecContext(ctx, "VACUUM INTO ?", dest)
	if err != nil {
		return "", fmt.Errorf("vacuuming database into '%s': %w", dest, err)
	}

	zipPath := dest + ".zip"
	if err := compress(dest, zipPath, filepath.Base(d.path)); err != nil {
		return "", err
	}

	if err := os.Remove(dest); err != nil {
		d.logger.Warn("could not remove uncompressed backup", slog.String("error", err.Error()))
	}

	d.logger.Info("database backup complete", slog.String("filename", zipPath))
	return zipPath, nil
}

func compress(src, zipPath, entryName string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open database backup for compression: %w", err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("get file info: %w", err)
	}

	out, err := os.Create(zipPath)
	if err != nil {
		return fmt.Errorf("create zip file: %w", err)
	}
	defer out.Close()

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("create zip header: %w", err)
	}
	header.Name = entryName
	header.Method = zip.Deflate

	zw := zip.NewWriter(out)
	w, err := zw.CreateHeader(header)
	if err != nil {
		zw.Close()
		return fmt.Errorf("create zip file entry: %w", err)
	}
	if _, err := io.Copy(w, in); err != nil {
		zw.Close()
		return fmt.Errorf("write database to zip: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalize zip file: %w", err)
	}
	return out.Close()
}

// PurgeBackups removes archives older than retentionDays and returns how many
// were deleted. Files not named like a backup are left alone.
func (d *Database) PurgeBackups(ctx context.Context, retentionDays int) (int, error) {
	if retentionDays < 1 {
		return 0, nil
	}
	retention := time.Duration(retentionDays) * 24 * time.Hour

	dir := d.backupDir()
	d.logger.Debug("purging old backups", slog.String("dir", dir))

	files, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read backup directory: %w", err)
	}

	removed := 0
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		match := backupName.FindStringSubmatch(file.Name())
		if match == nil {
			continue
		}
		t, err := time.ParseInLocation(backupTimeLayout, match[1], time.Local)
		if err != nil {
			d.logger.Debug("failed to parse backup timestamp", slog.String("filename", file.Name()), slog.String("error", err.Error()))
			continue
		}
		if time.Since(t) <= retention {
			continue
		}
		path := filepath.Join(dir, file.Name())
		d.logger.Debug("deleting old backup", slog.String("path", path))
		if err := os.Remove(path); err != nil {
			return removed, fmt.Errorf("remove old backup '%s': %w", path, err)
		}
		removed++
	}

	d.logger.Info("backup purge complete", slog.Int("removed", removed))
	return removed, nil
}
