package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"extrack/internal/amqp"
	"extrack/internal/cli"
	apphttp "extrack/internal/http"
	applog "extrack/internal/log"
)

func main() {
	cli.LoadEnvFile()

	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"))
	cfg := cli.LoadAndValidateConfig(logger)

	engine, err := cli.BuildEngine(context.Background(), logger, cfg)
	if err != nil {
		logger.Error("Failed to build recording engine", applog.FieldError, err)
		os.Exit(1)
	}

	deps := apphttp.Dependencies{
		Recorder:   engine.Recorder,
		Categories: engine.Categories,
		Cells:      engine.Backend.Store,
	}

	// Asynchronous recording is optional: without a broker the API stays synchronous.
	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			logger.Warn("AMQP unavailable, async recording disabled", applog.FieldError, err)
		} else {
			deps.Publisher = amqpClient
		}
	}

	srv, err := apphttp.NewServer(":"+cfg.Port, deps,
		apphttp.WithLogger(logger),
		apphttp.WithStrictDates(cfg.StrictDates))
	if err != nil {
		logger.Error("Failed to configure HTTP server", applog.FieldError, err)
		os.Exit(1)
	}

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", applog.FieldError, err)
		}
		if amqpClient != nil {
			_ = amqpClient.Close()
		}
		if err := engine.Close(); err != nil {
			logger.Error("Backend close error", applog.FieldError, err)
		}
	})

	logger.Info("Starting extrack server",
		applog.FieldOperation, applog.OpStartup,
		"port", cfg.Port,
		"backend", cfg.DataBackend,
		"async", deps.Publisher != nil)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", applog.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully", applog.FieldOperation, applog.OpShutdown)
}
