package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/brunotrinchao/familyflow-sub001/internal/core"
	"github.com/brunotrinchao/familyflow-sub001/internal/importer"
	"github.com/brunotrinchao/familyflow-sub001/internal/ledger"
)

// ReconcilerConfig are the matching knobs. The matching rule is inferred
// from real statement behavior, so both the date window and the edit
// distance stay configurable.
type ReconcilerConfig struct {
	// MatchWindowDays is how far an existing installment's date may be
	// from the statement entry's date and still match.
	MatchWindowDays int

	// MaxDistance is the maximum levenshtein distance between normalized
	// descriptions for a match.
	MaxDistance int

	// ChunkSize bounds how many entries share one unit of work.
	ChunkSize int
}

// DefaultReconcilerConfig returns the defaults validated against real
// statement samples.
func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		MatchWindowDays: 3,
		MaxDistance:     3,
		ChunkSize:       50,
	}
}

// ReconcileResult reports one batch outcome.
type ReconcileResult struct {
	BatchID uuid.UUID
	Created int
	Matched int
	Failed  int
	Errors  *multierror.Error
}

// Err returns the accumulated per-item errors, nil when clean.
func (r *ReconcileResult) Err() error {
	return r.Errors.ErrorOrNil()
}

// ImportEventPublisher receives import completion events.
type ImportEventPublisher interface {
	PublishImportCompleted(ctx context.Context, batchID string, created, matched, failed int) error
}

// Reconciler consumes parsed statements and folds them into the ledger.
// Each line item either matches an existing installment by description,
// amount and date proximity, or creates a new transaction plus
// installment. Re-importing an identical extract creates nothing.
type Reconciler struct {
	store     ledger.Store
	resolver  *InvoiceResolver
	publisher ImportEventPublisher
	cfg       ReconcilerConfig
	locks     *keyedLock
}

func NewReconciler(store ledger.Store, resolver *InvoiceResolver, publisher ImportEventPublisher, cfg ReconcilerConfig) *Reconciler {
	if cfg.ChunkSize < 1 {
		cfg.ChunkSize = DefaultReconcilerConfig().ChunkSize
	}
	return &Reconciler{
		store:     store,
		resolver:  resolver,
		publisher: publisher,
		cfg:       cfg,
		locks:     newKeyedLock(),
	}
}

// Reconcile processes one parsed statement for the given tenant. Batches
// for the same (card, period) are serialized against each other; entries
// are processed in bounded chunks. Per-item failures are collected in the
// result without aborting the batch; only infrastructure failures do.
func (r *Reconciler) Reconcile(ctx context.Context, scope core.TenantID, stmt *importer.ImportedStatement) (*ReconcileResult, error) {
	card, err := r.store.FindCardByDigits(ctx, scope, stmt.Card.Brand, stmt.Card.LastFourDigits)
	if err != nil {
		return nil, fmt.Errorf("card %s ending %s: %w", stmt.Card.Brand, stmt.Card.LastFourDigits, err)
	}

	period := core.PeriodOf(stmt.Card.ClosingDate)
	unlock := r.locks.lock(fmt.Sprintf("%d|%d|%s", scope, card.ID, period))
	defer unlock()

	result := &ReconcileResult{BatchID: uuid.New()}
	// An existing installment absorbs at most one entry per batch, so a
	// statement with two identical purchases reconciles both.
	used := make(map[int64]bool)

	for start := 0; start < len(stmt.Entries); start += r.cfg.ChunkSize {
		end := min(start+r.cfg.ChunkSize, len(stmt.Entries))
		for _, entry := range stmt.Entries[start:end] {
			if err := r.reconcileEntry(ctx, scope, card, entry, used, result); err != nil {
				return nil, err
			}
		}
	}

	slog.InfoContext(ctx, "Statement reconciled",
		"batch_id", result.BatchID,
		"card_id", card.ID,
		"created", result.Created,
		"matched", result.Matched,
		"failed", result.Failed)

	if r.publisher != nil {
		if err := r.publisher.PublishImportCompleted(ctx, result.BatchID.String(),
			result.Created, result.Matched, result.Failed); err != nil {
			slog.WarnContext(ctx, "Failed to publish import.completed event",
				"batch_id", result.BatchID,
				"error", err)
		}
	}
	return result, nil
}

func (r *Reconciler) reconcileEntry(ctx context.Context, scope core.TenantID, card *core.CreditCard, entry importer.StatementEntry, used map[int64]bool, result *ReconcileResult) error {
	match, err := r.findMatch(ctx, scope, card.ID, entry, used)
	if err != nil {
		return err
	}
	if match != 0 {
		used[match] = true
		result.Matched++
		return nil
	}

	if err := r.createFromEntry(ctx, scope, card, entry, used); err != nil {
		// Item-level domain failures are collected; everything else is
		// infrastructure and aborts the batch.
		if errors.Is(err, core.ErrInvalidAmount) ||
			errors.Is(err, core.ErrInvalidInstallments) ||
			errors.Is(err, core.ErrInvalidDate) {
			result.Failed++
			result.Errors = multierror.Append(result.Errors,
				fmt.Errorf("entry %q on %s: %w", entry.Description, entry.Date.Format("2006-01-02"), err))
			return nil
		}
		return err
	}
	result.Created++
	return nil
}

// findMatch looks for an existing installment of the card matching the
// entry by amount, date proximity and normalized description distance.
// Returns the installment id, 0 when nothing matches.
func (r *Reconciler) findMatch(ctx context.Context, scope core.TenantID, cardID int64, entry importer.StatementEntry, used map[int64]bool) (int64, error) {
	window := time.Duration(r.cfg.MatchWindowDays) * 24 * time.Hour
	from := entry.Date.Add(-window)
	to := entry.Date.Add(window)

	candidates, err := r.store.ListCardInstallments(ctx, scope, cardID, from, to)
	if err != nil {
		return 0, fmt.Errorf("list installments: %w", err)
	}

	want := NormalizeDescription(entry.Description)
	for _, c := range candidates {
		if used[c.ID] || c.AmountCents != entry.AmountCents {
			continue
		}
		got := NormalizeDescription(c.Description)
		if levenshtein.ComputeDistance(want, got) <= r.cfg.MaxDistance {
			return c.ID, nil
		}
	}
	return 0, nil
}

// createFromEntry persists one unmatched entry as a transaction and its
// installment, all-or-nothing. Imports backfill issuer statements, so the
// installment attaches to the resolved invoice regardless of its status.
func (r *Reconciler) createFromEntry(ctx context.Context, scope core.TenantID, card *core.CreditCard, entry importer.StatementEntry, used map[int64]bool) error {
	number := 1
	total := 1
	txDate := entry.Date
	if entry.Installment.IsInstallment {
		number = entry.Installment.Current
		total = entry.Installment.Total
		txDate = entry.Installment.FirstDate
	}
	// The entry carries one slice of the plan; the transaction records the
	// whole plan, so its amount is the slice times the plan count.
	txType := core.Expense
	amount := -entry.AmountCents * int64(total)
	if entry.IsIncome {
		txType = core.Income
		amount = entry.AmountCents * int64(total)
	}

	inv, err := r.resolver.Resolve(ctx, scope, card, entry.Date)
	if err != nil {
		return err
	}

	return r.store.WithTx(ctx, func(s ledger.Store) error {
		tx := &core.Transaction{
			Type:             txType,
			Title:            entry.Description,
			Date:             txDate,
			AmountCents:      amount,
			InstallmentTotal: total,
		}
		if err := tx.Validate(); err != nil {
			return err
		}
		if _, err := s.CreateTransaction(ctx, scope, tx); err != nil {
			return fmt.Errorf("create transaction: %w", err)
		}
		ins := &core.Installment{
			TransactionID: tx.ID,
			InvoiceID:     inv.ID,
			Number:        number,
			Date:          entry.Date,
			Description:   entry.Description,
			AmountCents:   entry.AmountCents,
			Status:        core.InstallmentPosted,
		}
		if _, err := s.CreateInstallment(ctx, scope, ins); err != nil {
			return fmt.Errorf("create installment: %w", err)
		}
		used[ins.ID] = true
		return nil
	})
}

// NormalizeDescription lowercases and collapses whitespace so merchant
// strings compare on content rather than formatting.
func NormalizeDescription(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
