package main

import (
	"context"
	"errors"
	"os"
	"time"

	"extrack/internal/amqp"
	"extrack/internal/cli"
	applog "extrack/internal/log"
	"extrack/internal/worker"
)

func main() {
	cli.LoadEnvFile()

	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"))
	logger.Info("Starting extrack-worker", applog.FieldOperation, applog.OpStartup)

	cfg := cli.LoadAndValidateConfig(logger)
	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for the worker")
		os.Exit(1)
	}

	engine, err := cli.BuildEngine(context.Background(), logger, cfg)
	if err != nil {
		logger.Error("Failed to build recording engine", applog.FieldError, err)
		os.Exit(1)
	}

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", applog.FieldError, err)
		_ = engine.Close()
		os.Exit(1)
	}

	recordWorker := worker.NewRecordWorker(engine.Recorder, engine.Categories, logger)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(context.Context) {
		_ = amqpClient.Close()
		if err := engine.Close(); err != nil {
			logger.Error("Backend close error", applog.FieldError, err)
		}
	})

	// A missing current tab is not fatal; batches for other months still work.
	_ = recordWorker.StartupCheck(ctx)

	if err := amqpClient.Run(ctx, recordWorker.HandleBatch); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Message consumption failed", applog.FieldError, err)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker stopped", applog.FieldOperation, applog.OpShutdown)
}
