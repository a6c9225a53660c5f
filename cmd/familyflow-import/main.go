// familyflow-import parses an exported card statement and reconciles it
// into the ledger. Usage:
//
//	familyflow-import -tenant 1 -file extract.json
//
// Re-running with the same extract is safe: already reconciled entries
// match instead of duplicating.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/brunotrinchao/familyflow-sub001/internal/amqp"
	"github.com/brunotrinchao/familyflow-sub001/internal/backend"
	"github.com/brunotrinchao/familyflow-sub001/internal/config"
	"github.com/brunotrinchao/familyflow-sub001/internal/core"
	"github.com/brunotrinchao/familyflow-sub001/internal/importer"
	"github.com/brunotrinchao/familyflow-sub001/internal/log"
	"github.com/brunotrinchao/familyflow-sub001/internal/services"
)

func main() {
	_ = godotenv.Load()

	logger := log.New(log.Config{Level: slog.LevelInfo, Component: "importer"})
	log.SetDefault(logger)

	tenant := flag.Int64("tenant", 0, "tenant scope for the import (required)")
	file := flag.String("file", "", "path to the exported statement JSON (required)")
	flag.Parse()

	if *tenant == 0 || *file == "" {
		flag.Usage()
		os.Exit(2)
	}

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

	raw, err := os.ReadFile(*file)
	if err != nil {
		logger.Error("Failed to read extract", "error", err, "file", *file)
		os.Exit(1)
	}

	stmt, report, err := importer.Parse(raw)
	if err != nil {
		logger.Error("Failed to parse extract", "error", err, "file", *file)
		os.Exit(1)
	}
	if report.Err() != nil {
		logger.Warn("Some line items were skipped",
			"batch_id", report.BatchID,
			"skipped", report.Skipped,
			"errors", report.Err())
	}

	var publisher *amqp.Client
	if cfg.AMQPURL != "" {
		publisher, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing without events", "error", err)
			publisher = nil
		} else {
			defer publisher.Close()
		}
	}

	resolver := services.NewInvoiceResolver(store)
	reconciler := services.NewReconciler(store, resolver, importSink(publisher), services.ReconcilerConfig{
		MatchWindowDays: cfg.MatchWindowDays,
		MaxDistance:     cfg.MatchMaxDistance,
		ChunkSize:       cfg.ImportChunkSize,
	})

	ctx := context.Background()
	result, err := reconciler.Reconcile(ctx, core.TenantID(*tenant), stmt)
	if err != nil {
		logger.Error("Reconciliation failed", "error", err, "file", *file)
		os.Exit(1)
	}

	fmt.Printf("batch %s: %d created, %d matched, %d failed (%d parse-skipped)\n",
		result.BatchID, result.Created, result.Matched, result.Failed, report.Skipped)
	if result.Err() != nil {
		fmt.Printf("item errors:\n%v\n", result.Err())
	}
}

func importSink(c *amqp.Client) services.ImportEventPublisher {
	if c == nil {
		return nil
	}
	return c
}
