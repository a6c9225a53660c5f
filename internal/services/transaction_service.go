package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/brunotrinchao/familyflow-sub001/internal/core"
	"github.com/brunotrinchao/familyflow-sub001/internal/ledger"
)

// TransactionService is the user-facing mutation entry point. Non-card
// transactions expand through the series engine; card-bound ones go
// through the invoice resolver.
type TransactionService struct {
	store    ledger.Store
	series   *SeriesEngine
	resolver *InvoiceResolver
}

func NewTransactionService(store ledger.Store, series *SeriesEngine, resolver *InvoiceResolver) *TransactionService {
	return &TransactionService{store: store, series: series, resolver: resolver}
}

// Create validates and persists tx. With cardID zero the installment plan
// becomes a series; otherwise installments attach to the card's invoices.
// The transaction and its plan commit together or not at all.
func (s *TransactionService) Create(ctx context.Context, scope core.TenantID, tx *core.Transaction, cardID int64) error {
	if err := tx.Validate(); err != nil {
		return err
	}
	var plan *installmentPlan
	if cardID != 0 {
		card, err := s.store.GetCard(ctx, scope, cardID)
		if err != nil {
			return fmt.Errorf("load card %d: %w", cardID, err)
		}
		plan, err = s.resolver.resolvePlan(ctx, scope, card, tx)
		if err != nil {
			return fmt.Errorf("attach installments: %w", err)
		}
	}

	err := s.store.WithTx(ctx, func(st ledger.Store) error {
		if _, err := st.CreateTransaction(ctx, scope, tx); err != nil {
			return fmt.Errorf("create transaction: %w", err)
		}
		if cardID == 0 {
			if _, err := s.series.generate(ctx, st, scope, tx); err != nil {
				return fmt.Errorf("generate series: %w", err)
			}
			return nil
		}
		if _, err := s.resolver.attach(ctx, st, scope, tx, plan); err != nil {
			return fmt.Errorf("attach installments: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "Transaction created",
		"id", tx.ID,
		"type", tx.Type,
		"amount_cents", tx.AmountCents,
		"installments", tx.InstallmentTotal)
	return nil
}

// Update writes the edited transaction under its optimistic version and
// resynchronizes the series against the new amount, count and date.
func (s *TransactionService) Update(ctx context.Context, scope core.TenantID, tx *core.Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}
	if err := s.store.UpdateTransaction(ctx, scope, tx); err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	if _, err := s.series.Synchronize(ctx, scope, tx.ID, tx.Version); err != nil {
		return fmt.Errorf("synchronize series: %w", err)
	}
	return nil
}
