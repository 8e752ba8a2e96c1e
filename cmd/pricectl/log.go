package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/icodeforyou/elpris-go/logging"
	"github.com/spf13/cobra"
)

var (
	logPage     int
	logPageSize int
	logMinLevel string
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Show persisted log entries, newest first (sqlite only)",
	RunE: func(cmd *cobra.Command, args []string) error {
		db := getStore().SQLite
		if db == nil {
			return fmt.Errorf("the log is only persisted with the sqlite driver")
		}

		entries, err := db.GetLogEntries(cmd.Context(), logging.LevelFromString(&logMinLevel), logPage, logPageSize)
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%-5s\t%s\t%s\n",
				e.Timestamp.Local().Format(time.DateTime), slog.Level(e.Level), e.Message, e.Attrs)
		}
		return nil
	},
}

func init() {
	logCmd.Flags().IntVar(&logPage, "page", 1, "Page number")
	logCmd.Flags().IntVar(&logPageSize, "page-size", 25, "Entries per page")
	logCmd.Flags().StringVar(&logMinLevel, "level", "DEBUG", "Minimum level")
}
