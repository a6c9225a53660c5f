package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brunotrinchao/familyflow-sub001/internal/cache"
	"github.com/brunotrinchao/familyflow-sub001/internal/core"
	"github.com/brunotrinchao/familyflow-sub001/internal/ledger"
)

// InvoiceResolver maps a purchase date and a card's cycle configuration
// to the monthly invoice, creating it on first use. Resolution for one
// (card, period) pair is serialized so concurrent installment creation
// cannot produce duplicate invoices.
type InvoiceResolver struct {
	store ledger.Store
	locks *keyedLock
	// ids memoizes (card, period) -> invoice id; invoices are only ever
	// created here, so a hit is always valid.
	ids *cache.LRUCache[int64]
}

func NewInvoiceResolver(store ledger.Store) *InvoiceResolver {
	return &InvoiceResolver{
		store: store,
		locks: newKeyedLock(),
		ids:   cache.NewLRUCache[int64](256, 10*time.Minute),
	}
}

// Resolve returns the invoice receiving a purchase made on date with the
// given card, creating an OPEN invoice for the billing period when none
// exists yet.
func (r *InvoiceResolver) Resolve(ctx context.Context, scope core.TenantID, card *core.CreditCard, date time.Time) (*core.Invoice, error) {
	if err := card.Validate(); err != nil {
		return nil, fmt.Errorf("card config: %w", err)
	}
	period := card.BillingPeriod(date)
	key := fmt.Sprintf("%d|%d|%s", scope, card.ID, period)

	if id, ok := r.ids.Get(key); ok {
		inv, err := r.store.GetInvoice(ctx, scope, id)
		if err == nil {
			return inv, nil
		}
		r.ids.Delete(key)
	}

	unlock := r.locks.lock(key)
	defer unlock()

	inv := &core.Invoice{
		CardID:     card.ID,
		Period:     period,
		ClosingDay: card.ClosingDay,
		DueDay:     card.DueDay,
		DueDate:    card.DueDate(period),
		Status:     core.InvoiceOpen,
	}
	stored, err := r.store.UpsertInvoice(ctx, scope, inv)
	if err != nil {
		return nil, fmt.Errorf("upsert invoice %d/%s: %w", card.ID, period, err)
	}
	r.ids.Set(key, stored.ID)
	return stored, nil
}

// AddInstallments expands a card-bound transaction into installments,
// one per month starting at the transaction date, each attached to the
// invoice its date resolves to. The split rule matches the series engine:
// truncated shares with the last installment absorbing the remainder.
// The plan is written in one unit of work: when any target invoice
// rejects new installments, nothing is persisted.
func (r *InvoiceResolver) AddInstallments(ctx context.Context, scope core.TenantID, card *core.CreditCard, tx *core.Transaction) ([]core.Installment, error) {
	if err := tx.Validate(); err != nil {
		return nil, err
	}
	plan, err := r.resolvePlan(ctx, scope, card, tx)
	if err != nil {
		return nil, err
	}

	var out []core.Installment
	err = r.store.WithTx(ctx, func(s ledger.Store) error {
		var err error
		out, err = r.attach(ctx, s, scope, tx, plan)
		return err
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "Installments attached",
		"transaction_id", tx.ID,
		"card_id", card.ID,
		"count", len(out))
	return out, nil
}

// installmentPlan is the fully resolved expansion of one card-bound
// transaction, computed before the first installment write.
type installmentPlan struct {
	invoices []*core.Invoice
	shares   []int64
	dates    []time.Time
}

// resolvePlan resolves every target invoice up front and rejects the
// whole plan when any of them no longer accepts installments. Invoice
// find-or-create is idempotent, so resolving ahead of the writes leaves
// at worst an empty open invoice behind.
func (r *InvoiceResolver) resolvePlan(ctx context.Context, scope core.TenantID, card *core.CreditCard, tx *core.Transaction) (*installmentPlan, error) {
	n := tx.InstallmentTotal
	// Installments carry absolute amounts; the sign lives on the owning
	// transaction's type.
	total := tx.AmountCents
	if total < 0 {
		total = -total
	}
	plan := &installmentPlan{
		invoices: make([]*core.Invoice, 0, n),
		shares:   SplitAmount(total, n),
		dates:    InstallmentDates(tx.Date, n),
	}
	for i := 0; i < n; i++ {
		inv, err := r.Resolve(ctx, scope, card, plan.dates[i])
		if err != nil {
			return nil, err
		}
		if !inv.AcceptsInstallments() {
			return nil, fmt.Errorf("invoice %d is %s: %w", inv.ID, inv.Status, core.ErrInvalidOperation)
		}
		plan.invoices = append(plan.invoices, inv)
	}
	return plan, nil
}

// attach writes the plan's installments against s, assumed to be a
// transactional view of the store.
func (r *InvoiceResolver) attach(ctx context.Context, s ledger.Store, scope core.TenantID, tx *core.Transaction, plan *installmentPlan) ([]core.Installment, error) {
	out := make([]core.Installment, 0, len(plan.shares))
	for i := range plan.shares {
		ins := core.Installment{
			TransactionID: tx.ID,
			InvoiceID:     plan.invoices[i].ID,
			Number:        i + 1,
			Date:          plan.dates[i],
			Description:   tx.Title,
			AmountCents:   plan.shares[i],
			Status:        core.InstallmentPending,
		}
		if _, err := s.CreateInstallment(ctx, scope, &ins); err != nil {
			return nil, fmt.Errorf("create installment %d: %w", i+1, err)
		}
		out = append(out, ins)
	}
	return out, nil
}
