// Package worker runs the periodic invoice-closing loop.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/brunotrinchao/familyflow-sub001/internal/services"
)

// InvoiceWorkerConfig holds configuration for the invoice worker.
type InvoiceWorkerConfig struct {
	// PollInterval is how often due invoices are checked.
	PollInterval time.Duration
}

// DefaultInvoiceWorkerConfig returns sensible defaults.
func DefaultInvoiceWorkerConfig() InvoiceWorkerConfig {
	return InvoiceWorkerConfig{PollInterval: 1 * time.Hour}
}

// InvoiceWorker periodically transitions open invoices whose closing
// date has been reached. The transition is clock-driven, never a direct
// user action.
type InvoiceWorker struct {
	processor *services.InvoiceProcessor
	config    InvoiceWorkerConfig

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewInvoiceWorker(processor *services.InvoiceProcessor, config InvoiceWorkerConfig) *InvoiceWorker {
	return &InvoiceWorker{processor: processor, config: config}
}

// Start begins the processing loop. Returns an error if already running.
func (w *InvoiceWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("invoice worker is already running")
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	go w.runLoop(ctx)

	slog.InfoContext(ctx, "Invoice worker started",
		"poll_interval", w.config.PollInterval)
	return nil
}

// Stop gracefully stops the worker and waits for completion. Concurrent
// calls are safe: the stop channel closes exactly once.
func (w *InvoiceWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	close(w.stopCh)
	done := w.doneCh
	w.mu.Unlock()

	select {
	case <-done:
		slog.InfoContext(ctx, "Invoice worker stopped gracefully")
	case <-ctx.Done():
		slog.WarnContext(ctx, "Invoice worker stop timed out")
		return ctx.Err()
	}
	return nil
}

func (w *InvoiceWorker) runLoop(ctx context.Context) {
	defer close(w.doneCh)

	// Close anything already due before the first tick.
	w.tick(ctx)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.tick(ctx)
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *InvoiceWorker) tick(ctx context.Context) {
	closed, err := w.processor.CloseDue(ctx, time.Now().UTC())
	if err != nil {
		slog.ErrorContext(ctx, "Invoice closing pass failed", "error", err)
		return
	}
	if closed > 0 {
		slog.InfoContext(ctx, "Invoice closing pass complete", "closed", closed)
	}
}
