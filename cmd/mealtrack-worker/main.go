package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"mealtrack/internal/amqp"
	"mealtrack/internal/cli"
	"mealtrack/internal/log"
	"mealtrack/internal/outbox"
	"mealtrack/internal/remote"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentWorker)

	logger.Info("Starting mealtrack-worker")

	cfg := cli.LoadAndValidateConfig(logger)
	if cfg.RemoteURL == "" {
		logger.Error("REMOTE_URL is required for the worker")
		os.Exit(1)
	}

	store := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer store.Close()

	remoteClient, err := remote.NewClient(cfg.RemoteURL)
	if err != nil {
		logger.Error("Failed to initialize remote client", "error", err, "url", cfg.RemoteURL)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	processorCfg := outbox.DefaultConfig()
	processorCfg.PollInterval = cfg.SyncInterval
	processorCfg.BatchSize = cfg.SyncBatchSize
	processorCfg.MaxAttempts = cfg.SyncMaxAttempts
	processor := outbox.NewProcessor(store, remoteClient, processorCfg, logger)

	if err := processor.Start(ctx); err != nil {
		logger.Error("Failed to start outbox processor", "error", err)
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)

	// AMQP collapses change notifications into immediate drains; the
	// poll ticker covers anything published while we were down.
	if cfg.AMQPURL != "" {
		g.Go(func() error {
			err := amqp.ConsumeWithReconnect(gctx, cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue,
				func(msg *amqp.BundleSyncMessage) error {
					if err := store.MarkDirty(gctx, msg.UserID); err != nil {
						return err
					}
					processor.ProcessBatch(gctx)
					return nil
				})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	} else {
		logger.Info("AMQP disabled, relying on outbox polling only")
	}

	g.Go(func() error {
		<-gctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return processor.Stop(stopCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Worker error", "error", err)
		os.Exit(1)
	}
	logger.Info("Worker stopped gracefully")
}
