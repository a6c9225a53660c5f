package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/brunotrinchao/familyflow-sub001/internal/core"
	"github.com/brunotrinchao/familyflow-sub001/internal/ledger/memory"
)

func newTransactionService(store *memory.Store) *TransactionService {
	return NewTransactionService(store, NewSeriesEngine(store), NewInvoiceResolver(store))
}

func TestCreateGeneratesSeries(t *testing.T) {
	store := memory.New()
	svc := newTransactionService(store)
	ctx := context.Background()

	tx := &core.Transaction{
		Type:             core.Expense,
		Title:            "Curso de ingles",
		Date:             day(2024, time.February, 10),
		AmountCents:      -120000,
		InstallmentTotal: 12,
	}
	if err := svc.Create(ctx, testTenant, tx, 0); err != nil {
		t.Fatalf("Create: %v", err)
	}

	rows, err := store.ListSeries(ctx, testTenant, tx.ID)
	if err != nil {
		t.Fatalf("ListSeries: %v", err)
	}
	if len(rows) != 12 {
		t.Fatalf("got %d series rows, want 12", len(rows))
	}
	var sum int64
	for _, r := range rows {
		sum += r.AmountCents
	}
	if sum != -120000 {
		t.Errorf("series sums to %d, want -120000", sum)
	}
}

func TestCreateCardBoundAttachesInstallments(t *testing.T) {
	store := memory.New()
	svc := newTransactionService(store)
	ctx := context.Background()
	card := newTestCard(t, store, 10, 20)

	tx := &core.Transaction{
		Type:             core.Expense,
		Title:            "Geladeira",
		Date:             day(2024, time.January, 5),
		AmountCents:      -240000,
		InstallmentTotal: 3,
	}
	if err := svc.Create(ctx, testTenant, tx, card.ID); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Card-bound plans become invoice installments, never series rows.
	rows, _ := store.ListSeries(ctx, testTenant, tx.ID)
	if len(rows) != 0 {
		t.Errorf("card-bound transaction produced %d series rows", len(rows))
	}
	if got := countCardInstallments(t, store, card.ID); got != 3 {
		t.Errorf("got %d installments, want 3", got)
	}
}

func TestCreateCardBoundAllOrNothing(t *testing.T) {
	store := memory.New()
	svc := newTransactionService(store)
	ctx := context.Background()
	card := newTestCard(t, store, 10, 20)

	// Close the invoice the second installment would land on.
	inv, err := svc.resolver.Resolve(ctx, testTenant, card, day(2024, time.April, 5))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := store.SetInvoiceStatus(ctx, testTenant, inv.ID, core.InvoiceOpen, core.InvoiceClosed); err != nil {
		t.Fatalf("close invoice: %v", err)
	}

	tx := &core.Transaction{
		Type:             core.Expense,
		Title:            "Bicicleta",
		Date:             day(2024, time.March, 5),
		AmountCents:      -60000,
		InstallmentTotal: 2,
	}
	err = svc.Create(ctx, testTenant, tx, card.ID)
	if !errors.Is(err, core.ErrInvalidOperation) {
		t.Fatalf("got %v, want ErrInvalidOperation", err)
	}
	// Nothing persisted: no transaction row, no installments.
	if tx.ID != 0 {
		t.Errorf("transaction persisted with id %d despite rejected plan", tx.ID)
	}
	if got := countCardInstallments(t, store, card.ID); got != 0 {
		t.Errorf("rejected plan left %d installments behind", got)
	}
}

func TestCreateUnknownCard(t *testing.T) {
	store := memory.New()
	svc := newTransactionService(store)

	tx := &core.Transaction{
		Type:             core.Expense,
		Title:            "Geladeira",
		Date:             day(2024, time.January, 5),
		AmountCents:      -240000,
		InstallmentTotal: 3,
	}
	err := svc.Create(context.Background(), testTenant, tx, 42)
	if !errors.Is(err, core.ErrNotFound) {
		t.Errorf("unknown card: got %v, want ErrNotFound", err)
	}
}

func TestUpdateResynchronizesSeries(t *testing.T) {
	store := memory.New()
	svc := newTransactionService(store)
	ctx := context.Background()

	tx := &core.Transaction{
		Type:             core.Income,
		Title:            "Freelance",
		Date:             day(2024, time.February, 10),
		AmountCents:      1000,
		InstallmentTotal: 3,
	}
	if err := svc.Create(ctx, testTenant, tx, 0); err != nil {
		t.Fatalf("Create: %v", err)
	}

	tx.AmountCents = 1300
	if err := svc.Update(ctx, testTenant, tx); err != nil {
		t.Fatalf("Update: %v", err)
	}

	rows, _ := store.ListSeries(ctx, testTenant, tx.ID)
	var sum int64
	for _, r := range rows {
		sum += r.AmountCents
	}
	if sum != 1300 {
		t.Errorf("series sums to %d after edit, want 1300", sum)
	}
}

func TestUpdateStaleVersion(t *testing.T) {
	store := memory.New()
	svc := newTransactionService(store)
	ctx := context.Background()

	tx := &core.Transaction{
		Type:             core.Income,
		Title:            "Freelance",
		Date:             day(2024, time.February, 10),
		AmountCents:      1000,
		InstallmentTotal: 1,
	}
	if err := svc.Create(ctx, testTenant, tx, 0); err != nil {
		t.Fatalf("Create: %v", err)
	}
	tx.AmountCents = 1100
	if err := svc.Update(ctx, testTenant, tx); err != nil {
		t.Fatalf("Update: %v", err)
	}

	// Replay the edit with the pre-update version.
	stale := *tx
	stale.Version = 1
	stale.AmountCents = 900
	err := svc.Update(ctx, testTenant, &stale)
	if !errors.Is(err, core.ErrConcurrencyConflict) {
		t.Errorf("stale edit: got %v, want ErrConcurrencyConflict", err)
	}
}
