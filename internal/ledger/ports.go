// Package ledger defines the persistence ports consumed by the engine.
// Every call takes the tenant scope explicitly; implementations must
// return core.ErrTenantMismatch when a requested record exists outside
// the caller's scope, never silently filter it.
package ledger

import (
	"context"
	"time"

	"github.com/brunotrinchao/familyflow-sub001/internal/core"
)

type (
	// Transactions is scoped CRUD for root financial events.
	Transactions interface {
		CreateTransaction(ctx context.Context, scope core.TenantID, t *core.Transaction) (int64, error)
		GetTransaction(ctx context.Context, scope core.TenantID, id int64) (*core.Transaction, error)
		// UpdateTransaction writes t only if t.Version still matches the
		// stored row, then bumps the version. A stale version yields
		// core.ErrConcurrencyConflict.
		UpdateTransaction(ctx context.Context, scope core.TenantID, t *core.Transaction) error
	}

	// Series is scoped CRUD for non-card installment plans.
	Series interface {
		// ListSeries returns all rows of a plan ordered by index,
		// cancelled ones included.
		ListSeries(ctx context.Context, scope core.TenantID, transactionID int64) ([]core.SeriesRow, error)
		CreateSeriesRow(ctx context.Context, scope core.TenantID, row *core.SeriesRow) (int64, error)
		UpdateSeriesRow(ctx context.Context, scope core.TenantID, row *core.SeriesRow) error
		DeleteSeriesRow(ctx context.Context, scope core.TenantID, id int64) error
	}

	// Installments is scoped CRUD for card-bound payable units.
	Installments interface {
		CreateInstallment(ctx context.Context, scope core.TenantID, ins *core.Installment) (int64, error)
		ListInvoiceInstallments(ctx context.Context, scope core.TenantID, invoiceID int64) ([]core.Installment, error)
		// ListCardInstallments returns the card's installments dated
		// within [from, to], the reconciliation matching window.
		ListCardInstallments(ctx context.Context, scope core.TenantID, cardID int64, from, to time.Time) ([]core.Installment, error)
		SetInstallmentStatus(ctx context.Context, scope core.TenantID, id int64, status core.InstallmentStatus) error
	}

	// Invoices is scoped find-or-create plus the status transitions.
	Invoices interface {
		// UpsertInvoice find-or-creates the invoice keyed by
		// (card, period) atomically and returns the persisted row.
		UpsertInvoice(ctx context.Context, scope core.TenantID, inv *core.Invoice) (*core.Invoice, error)
		GetInvoice(ctx context.Context, scope core.TenantID, id int64) (*core.Invoice, error)
		ListOpenInvoices(ctx context.Context, scope core.TenantID) ([]core.Invoice, error)
		// SetInvoiceStatus transitions id from -> to; a row not currently
		// in from yields core.ErrConcurrencyConflict.
		SetInvoiceStatus(ctx context.Context, scope core.TenantID, id int64, from, to core.InvoiceStatus) error
	}

	// Cards resolves cycle configuration.
	Cards interface {
		CreateCard(ctx context.Context, scope core.TenantID, c *core.CreditCard) (int64, error)
		GetCard(ctx context.Context, scope core.TenantID, id int64) (*core.CreditCard, error)
		FindCardByDigits(ctx context.Context, scope core.TenantID, brand, lastFour string) (*core.CreditCard, error)
	}

	// Accounts feeds the summarizer's account balance.
	Accounts interface {
		CreateAccount(ctx context.Context, scope core.TenantID, a *core.Account) (int64, error)
		SumAccountBalances(ctx context.Context, scope core.TenantID) (int64, error)
	}

	// Tenants enumerates known scopes for batch jobs; the invoice worker
	// iterates them explicitly rather than querying across tenants.
	Tenants interface {
		ListTenants(ctx context.Context) ([]core.TenantID, error)
	}
)

// Store is the unified persistence collaborator.
type Store interface {
	Transactions
	Series
	Installments
	Invoices
	Cards
	Accounts
	Tenants

	// WithTx runs fn against a transactional view of the store. fn's
	// writes commit together or not at all; a non-nil error rolls back.
	WithTx(ctx context.Context, fn func(Store) error) error

	Close() error
}
