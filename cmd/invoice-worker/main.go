package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/brunotrinchao/familyflow-sub001/internal/amqp"
	"github.com/brunotrinchao/familyflow-sub001/internal/backend"
	"github.com/brunotrinchao/familyflow-sub001/internal/config"
	"github.com/brunotrinchao/familyflow-sub001/internal/log"
	"github.com/brunotrinchao/familyflow-sub001/internal/services"
	"github.com/brunotrinchao/familyflow-sub001/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production)
	_ = godotenv.Load()

	logger := log.New(log.Config{Level: slog.LevelInfo, Component: "invoice-worker"})
	log.SetDefault(logger)

	logger.Info("Starting invoice-worker")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	store, err := backend.Open(cfg)
	if err != nil {
		logger.Error("Failed to open ledger backend", "error", err, "backend", cfg.DataBackend)
		os.Exit(1)
	}
	defer store.Close()

	// Event publishing is best-effort: without AMQP invoices still close,
	// downstream consumers just see nothing.
	var publisher *amqp.Client
	if cfg.AMQPURL != "" {
		publisher, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing without events", "error", err)
			publisher = nil
		} else {
			defer publisher.Close()
			logger.Info("AMQP client initialized")
		}
	}

	processor := services.NewInvoiceProcessor(store, eventSink(publisher))
	w := worker.NewInvoiceWorker(processor, worker.InvoiceWorkerConfig{
		PollInterval: cfg.CloseInterval,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := w.Start(ctx); err != nil {
		logger.Error("Failed to start invoice worker", "error", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Shutdown signal received", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := w.Stop(shutdownCtx); err != nil {
		logger.Error("Invoice worker shutdown error", "error", err)
		os.Exit(1)
	}
	logger.Info("Invoice worker stopped")
}

// eventSink avoids handing a typed-nil *amqp.Client to the processor.
func eventSink(c *amqp.Client) services.InvoiceEventPublisher {
	if c == nil {
		return nil
	}
	return c
}
