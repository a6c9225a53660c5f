package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/brunotrinchao/familyflow-sub001/internal/core"
	"github.com/brunotrinchao/familyflow-sub001/internal/ledger/memory"
)

func newTestCard(t *testing.T, store *memory.Store, closingDay, dueDay int) *core.CreditCard {
	t.Helper()
	card := &core.CreditCard{
		Name:           "Principal",
		Brand:          "visa",
		LastFourDigits: "1234",
		ClosingDay:     closingDay,
		DueDay:         dueDay,
	}
	if _, err := store.CreateCard(context.Background(), testTenant, card); err != nil {
		t.Fatalf("create card: %v", err)
	}
	return card
}

func TestResolvePeriodMapping(t *testing.T) {
	store := memory.New()
	resolver := NewInvoiceResolver(store)
	ctx := context.Background()
	card := newTestCard(t, store, 10, 20)

	tests := []struct {
		name string
		date time.Time
		want string
	}{
		{"before closing day lands on current month", day(2024, time.March, 5), "2024-03"},
		{"after closing day rolls to next month", day(2024, time.March, 15), "2024-04"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv, err := resolver.Resolve(ctx, testTenant, card, tt.date)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if inv.Period.String() != tt.want {
				t.Errorf("period = %s, want %s", inv.Period, tt.want)
			}
			if inv.Status != core.InvoiceOpen {
				t.Errorf("status = %s, want open", inv.Status)
			}
		})
	}
}

func TestResolveReturnsSameInvoice(t *testing.T) {
	store := memory.New()
	resolver := NewInvoiceResolver(store)
	ctx := context.Background()
	card := newTestCard(t, store, 10, 20)

	first, err := resolver.Resolve(ctx, testTenant, card, day(2024, time.March, 2))
	if err != nil {
		t.Fatalf("first Resolve: %v", err)
	}
	second, err := resolver.Resolve(ctx, testTenant, card, day(2024, time.March, 7))
	if err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("same period resolved to invoices %d and %d", first.ID, second.ID)
	}
}

func TestResolveDueDate(t *testing.T) {
	store := memory.New()
	resolver := NewInvoiceResolver(store)
	ctx := context.Background()

	t.Run("due after closing stays in period", func(t *testing.T) {
		card := newTestCard(t, store, 10, 20)
		inv, err := resolver.Resolve(ctx, testTenant, card, day(2024, time.March, 5))
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if want := day(2024, time.March, 20); !inv.DueDate.Equal(want) {
			t.Errorf("due date = %s, want %s", inv.DueDate.Format("2006-01-02"), want.Format("2006-01-02"))
		}
	})

	t.Run("due before closing rolls to next month", func(t *testing.T) {
		card := newTestCard(t, store, 10, 5)
		inv, err := resolver.Resolve(ctx, testTenant, card, day(2024, time.March, 5))
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if want := day(2024, time.April, 5); !inv.DueDate.Equal(want) {
			t.Errorf("due date = %s, want %s", inv.DueDate.Format("2006-01-02"), want.Format("2006-01-02"))
		}
	})
}

func TestAddInstallments(t *testing.T) {
	store := memory.New()
	resolver := NewInvoiceResolver(store)
	ctx := context.Background()
	card := newTestCard(t, store, 10, 20)

	tx := &core.Transaction{
		Type:             core.Expense,
		Title:            "Notebook",
		Date:             day(2024, time.January, 5),
		AmountCents:      -30000,
		InstallmentTotal: 3,
	}
	if _, err := store.CreateTransaction(ctx, testTenant, tx); err != nil {
		t.Fatalf("create transaction: %v", err)
	}

	installments, err := resolver.AddInstallments(ctx, testTenant, card, tx)
	if err != nil {
		t.Fatalf("AddInstallments: %v", err)
	}
	if len(installments) != 3 {
		t.Fatalf("got %d installments, want 3", len(installments))
	}

	wantPeriods := []string{"2024-01", "2024-02", "2024-03"}
	for i, ins := range installments {
		if ins.Number != i+1 {
			t.Errorf("installment %d number = %d", i, ins.Number)
		}
		if ins.AmountCents != 10000 {
			t.Errorf("installment %d amount = %d, want 10000", i, ins.AmountCents)
		}
		if ins.Status != core.InstallmentPending {
			t.Errorf("installment %d status = %s, want pending", i, ins.Status)
		}
		inv, err := store.GetInvoice(ctx, testTenant, ins.InvoiceID)
		if err != nil {
			t.Fatalf("load invoice %d: %v", ins.InvoiceID, err)
		}
		if inv.Period.String() != wantPeriods[i] {
			t.Errorf("installment %d invoice period = %s, want %s", i, inv.Period, wantPeriods[i])
		}
	}
}

func TestAddInstallmentsRejectsClosedInvoice(t *testing.T) {
	store := memory.New()
	resolver := NewInvoiceResolver(store)
	ctx := context.Background()
	card := newTestCard(t, store, 10, 20)

	inv, err := resolver.Resolve(ctx, testTenant, card, day(2024, time.March, 5))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := store.SetInvoiceStatus(ctx, testTenant, inv.ID, core.InvoiceOpen, core.InvoiceClosed); err != nil {
		t.Fatalf("close invoice: %v", err)
	}

	tx := &core.Transaction{
		Type:             core.Expense,
		Title:            "Farmacia",
		Date:             day(2024, time.March, 5),
		AmountCents:      -5000,
		InstallmentTotal: 1,
	}
	if _, err := store.CreateTransaction(ctx, testTenant, tx); err != nil {
		t.Fatalf("create transaction: %v", err)
	}
	_, err = resolver.AddInstallments(ctx, testTenant, card, tx)
	if !errors.Is(err, core.ErrInvalidOperation) {
		t.Errorf("closed invoice accepted installment: got %v, want ErrInvalidOperation", err)
	}
}

func TestAddInstallmentsAllOrNothing(t *testing.T) {
	store := memory.New()
	resolver := NewInvoiceResolver(store)
	ctx := context.Background()
	card := newTestCard(t, store, 10, 20)

	// The second installment lands on April; close that invoice first so
	// the plan is rejected after the first invoice already resolved open.
	inv, err := resolver.Resolve(ctx, testTenant, card, day(2024, time.April, 5))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := store.SetInvoiceStatus(ctx, testTenant, inv.ID, core.InvoiceOpen, core.InvoiceClosed); err != nil {
		t.Fatalf("close invoice: %v", err)
	}

	tx := &core.Transaction{
		Type:             core.Expense,
		Title:            "Sofa",
		Date:             day(2024, time.March, 5),
		AmountCents:      -20000,
		InstallmentTotal: 2,
	}
	if _, err := store.CreateTransaction(ctx, testTenant, tx); err != nil {
		t.Fatalf("create transaction: %v", err)
	}

	_, err = resolver.AddInstallments(ctx, testTenant, card, tx)
	if !errors.Is(err, core.ErrInvalidOperation) {
		t.Fatalf("got %v, want ErrInvalidOperation", err)
	}
	if got := countCardInstallments(t, store, card.ID); got != 0 {
		t.Errorf("rejected plan left %d installments behind", got)
	}
}
