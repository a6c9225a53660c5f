package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/brunotrinchao/familyflow-sub001/internal/core"
	"github.com/brunotrinchao/familyflow-sub001/internal/ledger"
)

func testTx(title string) *core.Transaction {
	return &core.Transaction{
		Type:             core.Expense,
		Title:            title,
		Date:             time.Date(2024, time.March, 5, 0, 0, 0, 0, time.UTC),
		AmountCents:      -1000,
		InstallmentTotal: 1,
	}
}

func TestTenantIsolation(t *testing.T) {
	store := New()
	ctx := context.Background()

	tx := testTx("Mercado")
	id, err := store.CreateTransaction(ctx, 1, tx)
	if err != nil {
		t.Fatalf("CreateTransaction: %v", err)
	}

	if _, err := store.GetTransaction(ctx, 1, id); err != nil {
		t.Errorf("owner read failed: %v", err)
	}
	if _, err := store.GetTransaction(ctx, 2, id); !errors.Is(err, core.ErrTenantMismatch) {
		t.Errorf("cross-tenant read: got %v, want ErrTenantMismatch", err)
	}
	if _, err := store.GetTransaction(ctx, 1, 999); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("missing id: got %v, want ErrNotFound", err)
	}
}

func TestOptimisticVersioning(t *testing.T) {
	store := New()
	ctx := context.Background()

	tx := testTx("Mercado")
	if _, err := store.CreateTransaction(ctx, 1, tx); err != nil {
		t.Fatalf("CreateTransaction: %v", err)
	}
	if tx.Version != 1 {
		t.Fatalf("fresh version = %d, want 1", tx.Version)
	}

	tx.AmountCents = -1500
	if err := store.UpdateTransaction(ctx, 1, tx); err != nil {
		t.Fatalf("UpdateTransaction: %v", err)
	}
	if tx.Version != 2 {
		t.Errorf("version after update = %d, want 2", tx.Version)
	}

	stale := *tx
	stale.Version = 1
	if err := store.UpdateTransaction(ctx, 1, &stale); !errors.Is(err, core.ErrConcurrencyConflict) {
		t.Errorf("stale update: got %v, want ErrConcurrencyConflict", err)
	}
}

func TestUpsertInvoiceIsIdempotent(t *testing.T) {
	store := New()
	ctx := context.Background()

	inv := &core.Invoice{
		CardID:     7,
		Period:     core.Period{Year: 2024, Month: time.March},
		ClosingDay: 10,
		DueDay:     20,
		Status:     core.InvoiceOpen,
	}
	first, err := store.UpsertInvoice(ctx, 1, inv)
	if err != nil {
		t.Fatalf("first UpsertInvoice: %v", err)
	}
	second, err := store.UpsertInvoice(ctx, 1, &core.Invoice{
		CardID: 7,
		Period: core.Period{Year: 2024, Month: time.March},
		Status: core.InvoiceOpen,
	})
	if err != nil {
		t.Fatalf("second UpsertInvoice: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("same (card, period) upserted as %d and %d", first.ID, second.ID)
	}
}

func TestSetInvoiceStatusGuardsTransition(t *testing.T) {
	store := New()
	ctx := context.Background()

	inv, err := store.UpsertInvoice(ctx, 1, &core.Invoice{
		CardID: 7,
		Period: core.Period{Year: 2024, Month: time.March},
		Status: core.InvoiceOpen,
	})
	if err != nil {
		t.Fatalf("UpsertInvoice: %v", err)
	}

	if err := store.SetInvoiceStatus(ctx, 1, inv.ID, core.InvoiceOpen, core.InvoiceClosed); err != nil {
		t.Fatalf("open -> closed: %v", err)
	}
	// The row is no longer open; a racing close must be detectable.
	err = store.SetInvoiceStatus(ctx, 1, inv.ID, core.InvoiceOpen, core.InvoiceClosed)
	if !errors.Is(err, core.ErrConcurrencyConflict) {
		t.Errorf("double close: got %v, want ErrConcurrencyConflict", err)
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	store := New()
	ctx := context.Background()

	boom := fmt.Errorf("boom")
	var createdID int64
	err := store.WithTx(ctx, func(s ledger.Store) error {
		id, err := s.CreateTransaction(ctx, 1, testTx("Rollback me"))
		if err != nil {
			return err
		}
		createdID = id
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithTx error = %v, want boom", err)
	}

	if _, err := store.GetTransaction(ctx, 1, createdID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("rolled-back write still visible: %v", err)
	}
}

func TestWithTxCommits(t *testing.T) {
	store := New()
	ctx := context.Background()

	var createdID int64
	err := store.WithTx(ctx, func(s ledger.Store) error {
		id, err := s.CreateTransaction(ctx, 1, testTx("Keep me"))
		createdID = id
		return err
	})
	if err != nil {
		t.Fatalf("WithTx: %v", err)
	}
	if _, err := store.GetTransaction(ctx, 1, createdID); err != nil {
		t.Errorf("committed write not visible: %v", err)
	}
}

func TestListCardInstallmentsWindow(t *testing.T) {
	store := New()
	ctx := context.Background()

	inv, err := store.UpsertInvoice(ctx, 1, &core.Invoice{
		CardID: 7,
		Period: core.Period{Year: 2024, Month: time.March},
		Status: core.InvoiceOpen,
	})
	if err != nil {
		t.Fatalf("UpsertInvoice: %v", err)
	}
	dates := []time.Time{
		time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, time.March, 5, 0, 0, 0, 0, time.UTC),
		time.Date(2024, time.March, 9, 0, 0, 0, 0, time.UTC),
	}
	for i, d := range dates {
		ins := &core.Installment{InvoiceID: inv.ID, Number: i + 1, Date: d, AmountCents: 100, Status: core.InstallmentPosted}
		if _, err := store.CreateInstallment(ctx, 1, ins); err != nil {
			t.Fatalf("CreateInstallment: %v", err)
		}
	}

	got, err := store.ListCardInstallments(ctx, 1, 7,
		time.Date(2024, time.March, 4, 0, 0, 0, 0, time.UTC),
		time.Date(2024, time.March, 6, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ListCardInstallments: %v", err)
	}
	if len(got) != 1 || !got[0].Date.Equal(dates[1]) {
		t.Errorf("window returned %d installments, want only March 5th", len(got))
	}

	// Another tenant's window over the same card id sees nothing.
	got, err = store.ListCardInstallments(ctx, 2, 7,
		time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, time.March, 31, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ListCardInstallments: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("cross-tenant window returned %d installments", len(got))
	}
}

func TestListTenants(t *testing.T) {
	store := New()
	ctx := context.Background()

	if _, err := store.CreateTransaction(ctx, 2, testTx("b")); err != nil {
		t.Fatal(err)
	}
	if _, err := store.CreateAccount(ctx, 1, &core.Account{Name: "Corrente"}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.CreateCard(ctx, 3, &core.CreditCard{Name: "c", LastFourDigits: "1234", ClosingDay: 10, DueDay: 20}); err != nil {
		t.Fatal(err)
	}

	tenants, err := store.ListTenants(ctx)
	if err != nil {
		t.Fatalf("ListTenants: %v", err)
	}
	want := []core.TenantID{1, 2, 3}
	if len(tenants) != len(want) {
		t.Fatalf("got %v, want %v", tenants, want)
	}
	for i := range want {
		if tenants[i] != want[i] {
			t.Errorf("tenants = %v, want %v", tenants, want)
		}
	}
}
