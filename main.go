package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/icodeforyou/elpris-go/andelenergi"
	"github.com/icodeforyou/elpris-go/config"
	"github.com/icodeforyou/elpris-go/hours"
	"github.com/icodeforyou/elpris-go/logging"
	"github.com/icodeforyou/elpris-go/mqtt"
	"github.com/icodeforyou/elpris-go/optimize"
	"github.com/icodeforyou/elpris-go/store"
	"github.com/icodeforyou/elpris-go/task"
	"github.com/icodeforyou/elpris-go/types"
	"github.com/icodeforyou/elpris-go/www"
)

var Version = "?.?.?"

func main() {
	defer func() {
		if err := recover(); err != nil {
			exitWithError(slog.Default(), fmt.Errorf("application panicked: %v", err))
		} else {
			slog.Default().Info("application is shutting down...")
		}
	}()

	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cnfg, err := config.Load(*configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if err := hours.SetTimezone(cnfg.Scheduler.Timezone); err != nil {
		panic(fmt.Sprintf("failed to set timezone: %v", err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consoleLevel := new(slog.LevelVar)
	consoleLevel.Set(cnfg.Logging.GetConsoleLevel())
	consoleHandler := logging.NewConsoleHandler(os.Stdout, consoleLevel)
	slog.SetDefault(slog.New(consoleHandler))
	slog.Default().Debug("elpris is starting...", slog.String("version", Version))

	db, err := store.Open(ctx, cnfg.Database)
	if err != nil {
		panic(fmt.Sprintf("failed to connect to database: %v", err))
	}
	defer db.Close()

	logger := slog.Default()
	if db.SQLite != nil {
		logger = slog.New(logging.NewMultiHandler(
			consoleHandler,
			logging.NewSQLiteHandler(db.SQLite, cnfg.Logging.GetDbLevel(), cnfg.Logging.GetDbAttrsFormat())))
		slog.SetDefault(logger)

		// Now we can use the logger to log database operations into the database itself
		db.SQLite.SetLogger(logger.With("module", "database"))
	}

	optimizer := optimize.NewOptimizer(logger, db.Prices, cnfg.Optimizer.DefaultLookaheadHours, cnfg.Database.QueryTimeout)

	provider := andelenergi.New(logger, andelenergi.Options{
		BaseURL:   cnfg.PriceSource.BaseURL,
		Region:    cnfg.PriceSource.Region,
		Tax:       cnfg.PriceSource.Tax,
		ProductID: cnfg.PriceSource.ProductID,
		Timeout:   cnfg.PriceSource.Timeout,
		UserAgent: cnfg.PriceSource.UserAgent,
	})

	hub := www.NewHub(logger)
	observers := []types.PriceObserver{hub}

	if cnfg.Mqtt.Enabled {
		publisher := mqtt.New(logger, mqtt.Options{
			Broker:      cnfg.Mqtt.Broker,
			ClientID:    cnfg.Mqtt.ClientID,
			Username:    cnfg.Mqtt.Username,
			Password:    cnfg.Mqtt.Password,
			TopicPrefix: cnfg.Mqtt.TopicPrefix,
			Qos:         cnfg.Mqtt.Qos,
		})
		if err := publisher.Connect(); err != nil {
			logger.Error("MQTT connection error, prices will not be published", slog.Any("error", err))
		} else {
			defer publisher.Disconnect()
			observers = append(observers, publisher)
		}
	}

	ingester := task.NewIngester(
		logger,
		provider,
		db.Prices,
		cnfg.PriceSource.Timeout+cnfg.Database.QueryTimeout,
		observers...)

	scheduler, err := task.NewFetchScheduler(
		logger,
		cnfg.Scheduler.FetchAt,
		cnfg.Scheduler.Location(),
		task.NewFetchJob(logger, ingester, db.Prices, cnfg.Database.DataRetentionDays))
	if err != nil {
		panic(fmt.Sprintf("failed to create fetch scheduler: %v", err))
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := scheduler.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("fetch scheduler stopped", slog.Any("error", err))
		}
	}()

	if cnfg.Scheduler.FetchOnStart && ingester.NeedsImmediateUpdate(ctx) {
		logger.Info("prices are missing, fetching now")
		scheduler.Trigger()
	}

	var logs www.LogReader
	if db.SQLite != nil {
		tasks := task.NewTasks(db.SQLite, cnfg)
		if err := tasks.Run(); err != nil {
			panic(fmt.Sprintf("failed to schedule tasks: %v", err))
		}
		defer tasks.Stop()
		logs = db.SQLite
	}

	err = config.Watch(ctx, logger.With("module", "config"), *configPath, func(c *config.AppConfig) {
		if lvl := c.Logging.GetConsoleLevel(); lvl != consoleLevel.Level() {
			consoleLevel.Set(lvl)
			logger.Info("console log level changed", slog.String("level", lvl.String()))
		}
	})
	if err != nil {
		logger.Warn("config changes will not be picked up", slog.Any("error", err))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case <-ctx.Done():
			logger.Info("main context done")
		case sig := <-sigCh:
			logger.Info("received signal", slog.Any("signal", sig))
			cancel()
		}
	}()

	server := www.NewServer(optimizer, db.Prices, hub, logs, cnfg.Api, cnfg.Database.QueryTimeout)
	if err := server.Run(ctx); err != nil {
		cancel()
		wg.Wait()
		exitWithError(logger, err)
	}

	cancel()
	wg.Wait()
}

func exitWithError(logger *slog.Logger, err error) {
	if err != nil {
		logger.Error("application shutting down with error", slog.Any("error", err))
	}
	if syncer, ok := logger.Handler().(interface{ Sync() error }); ok {
		if syncErr := syncer.Sync(); syncErr != nil {
			logger.Error("failed to flush logger", slog.Any("error", syncErr))
		}
	}

	time.Sleep(2 * time.Second)
	os.Exit(1)
}
