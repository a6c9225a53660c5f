package services

import (
	"context"
	"fmt"

	"github.com/brunotrinchao/familyflow-sub001/internal/core"
	"github.com/brunotrinchao/familyflow-sub001/internal/ledger"
)

// BalanceService computes summaries over the currently visible record
// set. Reads are plain snapshot reads; callers recompute whenever the
// visible set changes.
type BalanceService struct {
	store ledger.Store
}

func NewBalanceService(store ledger.Store) *BalanceService {
	return &BalanceService{store: store}
}

// Summarize runs the summarizer over visible rows on top of the tenant's
// current account balance.
func (b *BalanceService) Summarize(ctx context.Context, scope core.TenantID, visible []core.SummaryRow) (core.Summary, error) {
	balance, err := b.store.SumAccountBalances(ctx, scope)
	if err != nil {
		return core.Summary{}, fmt.Errorf("sum account balances: %w", err)
	}
	return core.Summarize(balance, visible), nil
}

// InvoiceRow builds the aggregate summary row for an unexpanded invoice:
// its contribution is the sum of its child installments.
func (b *BalanceService) InvoiceRow(ctx context.Context, scope core.TenantID, invoiceID int64) (core.SummaryRow, error) {
	installments, err := b.store.ListInvoiceInstallments(ctx, scope, invoiceID)
	if err != nil {
		return core.SummaryRow{}, fmt.Errorf("list invoice installments: %w", err)
	}
	row := core.SummaryRow{}
	for _, ins := range installments {
		tx, err := b.store.GetTransaction(ctx, scope, ins.TransactionID)
		if err != nil {
			return core.SummaryRow{}, fmt.Errorf("load transaction %d: %w", ins.TransactionID, err)
		}
		row.Children = append(row.Children, core.SummaryRow{
			Type:   tx.Type,
			Status: ins.Status,
			Amount: ins.AmountCents,
		})
	}
	return row, nil
}
