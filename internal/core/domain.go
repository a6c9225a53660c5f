package core

import (
	"fmt"
	"strings"
	"time"
)

// TenantID is the isolation boundary between families. It is assigned once
// at creation time and threaded explicitly through every repository call;
// there is no ambient scope.
type TenantID int64

// TransactionType discriminates the sign convention of a transaction.
type TransactionType string

const (
	Expense  TransactionType = "expense"
	Income   TransactionType = "income"
	Transfer TransactionType = "transfer"
)

// SeriesStatus is the lifecycle of one generated series row.
type SeriesStatus string

const (
	SeriesPending   SeriesStatus = "pending"
	SeriesPosted    SeriesStatus = "posted"
	SeriesCancelled SeriesStatus = "cancelled"
)

// InstallmentStatus is the lifecycle of one card-bound installment.
type InstallmentStatus string

const (
	InstallmentPending InstallmentStatus = "pending"
	InstallmentPosted  InstallmentStatus = "posted"
	InstallmentPaid    InstallmentStatus = "paid"
)

// InvoiceStatus is the billing-cycle state machine:
// OPEN -> CLOSED -> PAID, PAID terminal.
type InvoiceStatus string

const (
	InvoiceOpen   InvoiceStatus = "open"
	InvoiceClosed InvoiceStatus = "closed"
	InvoicePaid   InvoiceStatus = "paid"
)

type (
	// Transaction is the root financial event, single or installment plan
	// template. Amount is signed minor units and the sign must match Type.
	Transaction struct {
		ID               int64
		Tenant           TenantID
		Type             TransactionType
		Title            string
		Description      string
		Category         string
		Date             time.Time
		AmountCents      int64
		InstallmentTotal int
		// Version guards against racing edits (optimistic locking).
		Version int64
	}

	// SeriesRow is one scheduled payable unit of a non-card installment
	// plan. Index is 1..N, unique per transaction.
	SeriesRow struct {
		ID            int64
		TransactionID int64
		Index         int
		Date          time.Time
		AmountCents   int64
		Status        SeriesStatus
	}

	// Installment is one card-bound payable unit attached to an invoice.
	Installment struct {
		ID            int64
		TransactionID int64
		InvoiceID     int64
		Number        int
		Date          time.Time
		Description   string
		AmountCents   int64
		Status        InstallmentStatus
	}

	// Invoice aggregates the installments of one billing cycle.
	Invoice struct {
		ID         int64
		CardID     int64
		Period     Period
		ClosingDay int
		DueDay     int
		DueDate    time.Time
		Status     InvoiceStatus
	}

	// CreditCard is the cycle configuration consumed by the resolver.
	CreditCard struct {
		ID             int64
		Tenant         TenantID
		Name           string
		Brand          string
		LastFourDigits string
		ClosingDay     int
		DueDay         int
		AccountID      int64
	}

	// Account holds a tenant balance in minor units.
	Account struct {
		ID           int64
		Tenant       TenantID
		Name         string
		BalanceCents int64
	}
)

// Period is a billing-cycle month anchor.
type Period struct {
	Year  int
	Month time.Month
}

// PeriodOf returns the period containing t.
func PeriodOf(t time.Time) Period {
	return Period{Year: t.Year(), Month: t.Month()}
}

// Next returns the following month, rolling the year.
func (p Period) Next() Period {
	if p.Month == time.December {
		return Period{Year: p.Year + 1, Month: time.January}
	}
	return Period{Year: p.Year, Month: p.Month + 1}
}

// String renders the period as "2006-01", the storage key format.
func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// ParsePeriod parses the "2006-01" key format.
func ParsePeriod(s string) (Period, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return Period{}, fmt.Errorf("parse period %q: %w", s, err)
	}
	return PeriodOf(t), nil
}

// DayIn clamps day to the period's month length and returns the date.
func (p Period) DayIn(day int) time.Time {
	last := daysInMonth(p.Year, p.Month)
	if day > last {
		day = last
	}
	return time.Date(p.Year, p.Month, day, 0, 0, 0, 0, time.UTC)
}

// BillingPeriod maps a purchase date to the invoice period for this card:
// before the closing day the purchase lands on the current month's
// invoice, from the closing day on it rolls to the next month.
func (c CreditCard) BillingPeriod(date time.Time) Period {
	p := PeriodOf(date)
	if date.Day() < c.ClosingDay {
		return p
	}
	return p.Next()
}

// ClosingDate is the day the invoice for period stops accepting new
// installments.
func (c CreditCard) ClosingDate(p Period) time.Time {
	return p.DayIn(c.ClosingDay)
}

// DueDate is the payment deadline for the period's invoice. When the due
// day precedes the closing day the deadline rolls into the following
// month, mirroring real statement semantics.
func (c CreditCard) DueDate(p Period) time.Time {
	if c.DueDay < c.ClosingDay {
		p = p.Next()
	}
	return p.DayIn(c.DueDay)
}

// TransitionTo advances the invoice state machine. OPEN accepts new
// installments; CLOSED is read-only to new installments but payable;
// PAID is terminal.
func (i *Invoice) TransitionTo(next InvoiceStatus) error {
	allowed := map[InvoiceStatus]InvoiceStatus{
		InvoiceOpen:   InvoiceClosed,
		InvoiceClosed: InvoicePaid,
	}
	if allowed[i.Status] != next {
		return fmt.Errorf("invoice %d %s -> %s: %w", i.ID, i.Status, next, ErrInvalidStateTransition)
	}
	i.Status = next
	return nil
}

// AcceptsInstallments reports whether new installments may be attached.
func (i *Invoice) AcceptsInstallments() bool {
	return i.Status == InvoiceOpen
}

// AddMonthsClamped steps date forward by months keeping the day of month,
// clamped to the shortened month's last day when needed. Unlike
// time.AddDate it never spills into the following month (Jan 31 + 1 month
// is Feb 28/29, not Mar 2/3).
func AddMonthsClamped(date time.Time, months int) time.Time {
	y, m, d := date.Date()
	m += time.Month(months)
	for m > time.December {
		m -= 12
		y++
	}
	for m < time.January {
		m += 12
		y--
	}
	if last := daysInMonth(y, m); d > last {
		d = last
	}
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Validate checks the transaction invariants: non-empty title, valid
// type, non-zero amount with a sign matching the type, a real date and
// installment_total >= 1.
func (t Transaction) Validate() error {
	if strings.TrimSpace(t.Title) == "" {
		return ErrEmptyTitle
	}
	if len(t.Title) > 200 {
		return fmt.Errorf("title too long (max 200 characters): %w", ErrEmptyTitle)
	}
	switch t.Type {
	case Expense, Income, Transfer:
	default:
		return fmt.Errorf("unknown transaction type %q", t.Type)
	}
	if t.AmountCents == 0 {
		return ErrInvalidAmount
	}
	if t.Type == Expense && t.AmountCents > 0 {
		return fmt.Errorf("expense amount must be negative: %w", ErrInvalidAmount)
	}
	if t.Type == Income && t.AmountCents < 0 {
		return fmt.Errorf("income amount must be positive: %w", ErrInvalidAmount)
	}
	if t.Date.IsZero() {
		return ErrInvalidDate
	}
	if t.InstallmentTotal < 1 {
		return ErrInvalidInstallments
	}
	return nil
}

// Validate checks the cycle configuration of a card.
func (c CreditCard) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("card name required: %w", ErrEmptyTitle)
	}
	if c.ClosingDay < 1 || c.ClosingDay > 31 {
		return fmt.Errorf("closing day %d out of range: %w", c.ClosingDay, ErrInvalidDate)
	}
	if c.DueDay < 1 || c.DueDay > 31 {
		return fmt.Errorf("due day %d out of range: %w", c.DueDay, ErrInvalidDate)
	}
	if len(c.LastFourDigits) != 4 {
		return fmt.Errorf("last four digits must be 4 characters")
	}
	return nil
}
