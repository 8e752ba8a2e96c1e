package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/icodeforyou/elpris-go/config"
	"github.com/icodeforyou/elpris-go/hours"
	"github.com/icodeforyou/elpris-go/logging"
	"github.com/icodeforyou/elpris-go/store"
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	logLevel string
	appCnfg  *config.AppConfig
	appStore *store.Handle
	logger   *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "pricectl",
	Short:         "Fetch and query hourly electricity prices",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == versionCmd.Name() || appStore != nil {
			return nil
		}

		cnfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if err := hours.SetTimezone(cnfg.Scheduler.Timezone); err != nil {
			return err
		}

		level := cnfg.Logging.GetConsoleLevel()
		if logLevel != "" {
			level = logging.LevelFromString(&logLevel)
		}
		logger = slog.New(logging.NewConsoleHandler(cmd.ErrOrStderr(), level))
		slog.SetDefault(logger)

		h, err := store.Open(cmd.Context(), cnfg.Database)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		appCnfg, appStore = cnfg, h
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return closeStore()
	},
}

func closeStore() error {
	if appStore == nil {
		return nil
	}
	err := appStore.Close()
	appStore = nil
	return err
}

// Execute runs the root command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		_ = closeStore()
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override console log level defined in config")

	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(cheapestHourCmd)
	rootCmd.AddCommand(cheapestSequenceCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(versionCmd)
}

func getStore() *store.Handle {
	if appStore == nil {
		panic("store not opened; PersistentPreRunE not executed")
	}
	return appStore
}
