package main

import (
	"fmt"

	"github.com/icodeforyou/elpris-go/task"
	"github.com/spf13/cobra"
)

var retentionDays int

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete prices older than the retention period",
	RunE: func(cmd *cobra.Command, args []string) error {
		days := appCnfg.Database.DataRetentionDays
		if cmd.Flags().Changed("days") {
			days = retentionDays
		}
		if days < 1 {
			return fmt.Errorf("--days must be greater than zero")
		}

		deleted, err := task.Cleanup(cmd.Context(), logger, getStore().Prices, days)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %d hours older than %d days\n", deleted, days)
		return nil
	},
}

func init() {
	cleanupCmd.Flags().IntVar(&retentionDays, "days", 0, "Retention in days (defaults to config)")
}
