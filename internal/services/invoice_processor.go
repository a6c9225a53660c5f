package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/brunotrinchao/familyflow-sub001/internal/core"
	"github.com/brunotrinchao/familyflow-sub001/internal/ledger"
)

// InvoiceEventPublisher receives invoice lifecycle events. The AMQP
// client implements it; a nil publisher disables publishing.
type InvoiceEventPublisher interface {
	PublishInvoiceClosed(ctx context.Context, invoiceID, cardID int64, period string, closedAt time.Time) error
}

// InvoiceProcessor drives the OPEN -> CLOSED transition: an invoice
// closes when the current date reaches its period's closing date, never
// by direct user action.
type InvoiceProcessor struct {
	store     ledger.Store
	publisher InvoiceEventPublisher
	// MaxConcurrentTenants bounds the errgroup fan-out.
	MaxConcurrentTenants int
}

func NewInvoiceProcessor(store ledger.Store, publisher InvoiceEventPublisher) *InvoiceProcessor {
	return &InvoiceProcessor{
		store:                store,
		publisher:            publisher,
		MaxConcurrentTenants: 4,
	}
}

// CloseDue closes every open invoice whose closing date has passed,
// walking tenants explicitly. Returns the number of invoices closed.
func (p *InvoiceProcessor) CloseDue(ctx context.Context, now time.Time) (int, error) {
	tenants, err := p.store.ListTenants(ctx)
	if err != nil {
		return 0, fmt.Errorf("list tenants: %w", err)
	}

	closed := make([]int, len(tenants))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.MaxConcurrentTenants)
	for i, tenant := range tenants {
		g.Go(func() error {
			n, err := p.closeDueForTenant(gctx, tenant, now)
			closed[i] = n
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	total := 0
	for _, n := range closed {
		total += n
	}
	if total > 0 {
		slog.InfoContext(ctx, "Invoices closed",
			"count", total,
			"as_of", now.Format("2006-01-02"))
	}
	return total, nil
}

func (p *InvoiceProcessor) closeDueForTenant(ctx context.Context, scope core.TenantID, now time.Time) (int, error) {
	open, err := p.store.ListOpenInvoices(ctx, scope)
	if err != nil {
		return 0, fmt.Errorf("list open invoices for tenant %d: %w", scope, err)
	}

	closed := 0
	for _, inv := range open {
		closingDate := inv.Period.DayIn(inv.ClosingDay)
		if now.Before(closingDate) {
			continue
		}
		if err := inv.TransitionTo(core.InvoiceClosed); err != nil {
			return closed, err
		}
		err := p.store.SetInvoiceStatus(ctx, scope, inv.ID, core.InvoiceOpen, core.InvoiceClosed)
		if err != nil {
			// A racing close already transitioned it; skip.
			if errors.Is(err, core.ErrConcurrencyConflict) {
				continue
			}
			return closed, fmt.Errorf("close invoice %d: %w", inv.ID, err)
		}
		closed++

		if p.publisher != nil {
			if err := p.publisher.PublishInvoiceClosed(ctx, inv.ID, inv.CardID, inv.Period.String(), now); err != nil {
				slog.WarnContext(ctx, "Failed to publish invoice.closed event",
					"invoice_id", inv.ID,
					"error", err)
			}
		}
	}
	return closed, nil
}

// MarkPaid transitions a closed invoice to its terminal PAID state and
// settles its installments.
func (p *InvoiceProcessor) MarkPaid(ctx context.Context, scope core.TenantID, invoiceID int64) error {
	inv, err := p.store.GetInvoice(ctx, scope, invoiceID)
	if err != nil {
		return fmt.Errorf("load invoice: %w", err)
	}
	if err := inv.TransitionTo(core.InvoicePaid); err != nil {
		return err
	}
	if err := p.store.SetInvoiceStatus(ctx, scope, invoiceID, core.InvoiceClosed, core.InvoicePaid); err != nil {
		return fmt.Errorf("mark invoice %d paid: %w", invoiceID, err)
	}

	installments, err := p.store.ListInvoiceInstallments(ctx, scope, invoiceID)
	if err != nil {
		return fmt.Errorf("list installments: %w", err)
	}
	for _, ins := range installments {
		if ins.Status == core.InstallmentPaid {
			continue
		}
		if err := p.store.SetInstallmentStatus(ctx, scope, ins.ID, core.InstallmentPaid); err != nil {
			return fmt.Errorf("settle installment %d: %w", ins.ID, err)
		}
	}

	slog.InfoContext(ctx, "Invoice paid",
		"invoice_id", invoiceID,
		"installments", len(installments))
	return nil
}
