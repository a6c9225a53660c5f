// Package services orchestrates the domain engines over the ledger ports:
// series generation and synchronization, invoice resolution, invoice
// closing and statement reconciliation.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brunotrinchao/familyflow-sub001/internal/core"
	"github.com/brunotrinchao/familyflow-sub001/internal/ledger"
)

// SeriesEngine expands and resynchronizes installment plans for non-card
// transactions.
type SeriesEngine struct {
	store ledger.Store
}

func NewSeriesEngine(store ledger.Store) *SeriesEngine {
	return &SeriesEngine{store: store}
}

// SplitAmount divides total into n shares: every share is the truncated
// quotient except the last one, which absorbs the remainder so the shares
// sum to total exactly.
func SplitAmount(total int64, n int) []int64 {
	shares := make([]int64, n)
	base := total / int64(n)
	for i := range shares {
		shares[i] = base
	}
	shares[n-1] = total - base*int64(n-1)
	return shares
}

// InstallmentDates returns n month-stepped dates starting at start, each
// on the start's day of month clamped to shorter months.
func InstallmentDates(start time.Time, n int) []time.Time {
	dates := make([]time.Time, n)
	for i := range dates {
		dates[i] = core.AddMonthsClamped(start, i)
	}
	return dates
}

// Generate creates the full series for a freshly created transaction.
// A transaction with installment_total = 1 has no series.
func (e *SeriesEngine) Generate(ctx context.Context, scope core.TenantID, tx *core.Transaction) ([]core.SeriesRow, error) {
	if err := tx.Validate(); err != nil {
		return nil, err
	}
	var rows []core.SeriesRow
	err := e.store.WithTx(ctx, func(s ledger.Store) error {
		var err error
		rows, err = e.generate(ctx, s, scope, tx)
		return err
	})
	if err != nil {
		return nil, err
	}

	if len(rows) > 0 {
		slog.InfoContext(ctx, "Series generated",
			"transaction_id", tx.ID,
			"installments", len(rows),
			"amount_cents", tx.AmountCents)
	}
	return rows, nil
}

// generate writes the series rows against s, assumed to be a
// transactional view of the store.
func (e *SeriesEngine) generate(ctx context.Context, s ledger.Store, scope core.TenantID, tx *core.Transaction) ([]core.SeriesRow, error) {
	n := tx.InstallmentTotal
	if n == 1 {
		return nil, nil
	}
	shares := SplitAmount(tx.AmountCents, n)
	dates := InstallmentDates(tx.Date, n)

	rows := make([]core.SeriesRow, n)
	for i := 0; i < n; i++ {
		row := core.SeriesRow{
			TransactionID: tx.ID,
			Index:         i + 1,
			Date:          dates[i],
			AmountCents:   shares[i],
			Status:        core.SeriesPending,
		}
		if _, err := s.CreateSeriesRow(ctx, scope, &row); err != nil {
			return nil, fmt.Errorf("create series row %d: %w", i+1, err)
		}
		rows[i] = row
	}
	return rows, nil
}

// Synchronize reconciles the stored series with the transaction's current
// amount, installment count and date after an edit. Posted rows are
// immutable; only pending rows are recomputed. Returns the number of
// writes performed: calling it twice with unchanged input performs zero
// writes the second time.
//
// The whole operation runs as one unit of work keyed by the transaction,
// with an optimistic version check so a racing edit surfaces as
// core.ErrConcurrencyConflict instead of interleaved state.
func (e *SeriesEngine) Synchronize(ctx context.Context, scope core.TenantID, transactionID int64, expectedVersion int64) (int, error) {
	writes := 0
	err := e.store.WithTx(ctx, func(s ledger.Store) error {
		tx, err := s.GetTransaction(ctx, scope, transactionID)
		if err != nil {
			return fmt.Errorf("load transaction: %w", err)
		}
		if tx.Version != expectedVersion {
			return core.ErrConcurrencyConflict
		}
		if err := tx.Validate(); err != nil {
			return err
		}

		all, err := s.ListSeries(ctx, scope, transactionID)
		if err != nil {
			return fmt.Errorf("load series: %w", err)
		}
		var rows []core.SeriesRow
		for _, r := range all {
			if r.Status != core.SeriesCancelled {
				rows = append(rows, r)
			}
		}

		n := tx.InstallmentTotal
		if n == 1 && len(rows) == 0 {
			return nil
		}

		// Shrink: drop excess rows starting from the highest index.
		if n < len(rows) {
			pending := 0
			for _, r := range rows {
				if r.Status == core.SeriesPending {
					pending++
				}
			}
			doomed := rows[n:]
			for _, r := range doomed {
				if r.Status == core.SeriesPosted {
					return fmt.Errorf("series row %d is posted: %w", r.Index, core.ErrInvalidOperation)
				}
			}
			if pending > 0 && pending <= len(doomed) {
				// Removing every unpaid row would orphan the plan.
				return fmt.Errorf("cannot delete the last unpaid series row: %w", core.ErrInvalidOperation)
			}
			for i := len(doomed) - 1; i >= 0; i-- {
				if err := s.DeleteSeriesRow(ctx, scope, doomed[i].ID); err != nil {
					return fmt.Errorf("delete series row %d: %w", doomed[i].Index, err)
				}
				writes++
			}
			rows = rows[:n]
		}

		// Posted rows keep their amounts; the rest of the total is
		// redistributed over pending and yet-to-be-created rows.
		var postedSum int64
		adjustable := n - countPosted(rows)
		for _, r := range rows {
			if r.Status == core.SeriesPosted {
				postedSum += r.AmountCents
			}
		}
		if adjustable == 0 {
			return nil
		}
		shares := SplitAmount(tx.AmountCents-postedSum, adjustable)
		dates := InstallmentDates(tx.Date, n)

		shareIdx := 0
		for i := 0; i < n; i++ {
			if i < len(rows) {
				row := rows[i]
				if row.Status == core.SeriesPosted {
					continue
				}
				want := core.SeriesRow{
					ID:            row.ID,
					TransactionID: transactionID,
					Index:         i + 1,
					Date:          dates[i],
					AmountCents:   shares[shareIdx],
					Status:        row.Status,
				}
				shareIdx++
				if seriesRowEqual(row, want) {
					continue
				}
				if err := s.UpdateSeriesRow(ctx, scope, &want); err != nil {
					return fmt.Errorf("update series row %d: %w", want.Index, err)
				}
				writes++
				continue
			}
			row := core.SeriesRow{
				TransactionID: transactionID,
				Index:         i + 1,
				Date:          dates[i],
				AmountCents:   shares[shareIdx],
				Status:        core.SeriesPending,
			}
			shareIdx++
			if _, err := s.CreateSeriesRow(ctx, scope, &row); err != nil {
				return fmt.Errorf("create series row %d: %w", row.Index, err)
			}
			writes++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if writes > 0 {
		slog.InfoContext(ctx, "Series synchronized",
			"transaction_id", transactionID,
			"writes", writes)
	}
	return writes, nil
}

func countPosted(rows []core.SeriesRow) int {
	n := 0
	for _, r := range rows {
		if r.Status == core.SeriesPosted {
			n++
		}
	}
	return n
}

func seriesRowEqual(a, b core.SeriesRow) bool {
	return a.Index == b.Index &&
		a.Date.Equal(b.Date) &&
		a.AmountCents == b.AmountCents &&
		a.Status == b.Status
}
