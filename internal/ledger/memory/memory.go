// Package memory is an in-memory ledger.Store used by tests and the CLI
// demo backend. It honors the same scope and conflict semantics as the
// SQLite store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/brunotrinchao/familyflow-sub001/internal/core"
	"github.com/brunotrinchao/familyflow-sub001/internal/ledger"
)

type scoped[T any] struct {
	tenant core.TenantID
	v      T
}

// Store keeps everything in maps guarded by one mutex. WithTx snapshots
// the maps and restores them when fn fails, so writes stay all-or-nothing.
type Store struct {
	mu   sync.Mutex
	txMu sync.Mutex

	nextID       int64
	transactions map[int64]scoped[core.Transaction]
	series       map[int64]scoped[core.SeriesRow]
	installments map[int64]scoped[core.Installment]
	invoices     map[int64]scoped[core.Invoice]
	invoiceKeys  map[string]int64
	cards        map[int64]scoped[core.CreditCard]
	accounts     map[int64]scoped[core.Account]
}

var _ ledger.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		transactions: make(map[int64]scoped[core.Transaction]),
		series:       make(map[int64]scoped[core.SeriesRow]),
		installments: make(map[int64]scoped[core.Installment]),
		invoices:     make(map[int64]scoped[core.Invoice]),
		invoiceKeys:  make(map[string]int64),
		cards:        make(map[int64]scoped[core.CreditCard]),
		accounts:     make(map[int64]scoped[core.Account]),
	}
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

func invoiceKey(cardID int64, period core.Period) string {
	return fmt.Sprintf("%d|%s", cardID, period)
}

// CreateTransaction stores t with the given scope and version 1.
func (s *Store) CreateTransaction(_ context.Context, scope core.TenantID, t *core.Transaction) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.ID = s.id()
	t.Tenant = scope
	t.Version = 1
	s.transactions[t.ID] = scoped[core.Transaction]{tenant: scope, v: *t}
	return t.ID, nil
}

func (s *Store) GetTransaction(_ context.Context, scope core.TenantID, id int64) (*core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.transactions[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	if rec.tenant != scope {
		return nil, core.ErrTenantMismatch
	}
	t := rec.v
	return &t, nil
}

func (s *Store) UpdateTransaction(_ context.Context, scope core.TenantID, t *core.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.transactions[t.ID]
	if !ok {
		return core.ErrNotFound
	}
	if rec.tenant != scope {
		return core.ErrTenantMismatch
	}
	if rec.v.Version != t.Version {
		return core.ErrConcurrencyConflict
	}
	t.Version++
	s.transactions[t.ID] = scoped[core.Transaction]{tenant: scope, v: *t}
	return nil
}

func (s *Store) ListSeries(_ context.Context, scope core.TenantID, transactionID int64) ([]core.SeriesRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.SeriesRow
	for _, rec := range s.series {
		if rec.tenant == scope && rec.v.TransactionID == transactionID {
			out = append(out, rec.v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (s *Store) CreateSeriesRow(_ context.Context, scope core.TenantID, row *core.SeriesRow) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row.ID = s.id()
	s.series[row.ID] = scoped[core.SeriesRow]{tenant: scope, v: *row}
	return row.ID, nil
}

func (s *Store) UpdateSeriesRow(_ context.Context, scope core.TenantID, row *core.SeriesRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.series[row.ID]
	if !ok {
		return core.ErrNotFound
	}
	if rec.tenant != scope {
		return core.ErrTenantMismatch
	}
	s.series[row.ID] = scoped[core.SeriesRow]{tenant: scope, v: *row}
	return nil
}

func (s *Store) DeleteSeriesRow(_ context.Context, scope core.TenantID, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.series[id]
	if !ok {
		return core.ErrNotFound
	}
	if rec.tenant != scope {
		return core.ErrTenantMismatch
	}
	delete(s.series, id)
	return nil
}

func (s *Store) CreateInstallment(_ context.Context, scope core.TenantID, ins *core.Installment) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ins.ID = s.id()
	s.installments[ins.ID] = scoped[core.Installment]{tenant: scope, v: *ins}
	return ins.ID, nil
}

func (s *Store) ListInvoiceInstallments(_ context.Context, scope core.TenantID, invoiceID int64) ([]core.Installment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Installment
	for _, rec := range s.installments {
		if rec.tenant == scope && rec.v.InvoiceID == invoiceID {
			out = append(out, rec.v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListCardInstallments(_ context.Context, scope core.TenantID, cardID int64, from, to time.Time) ([]core.Installment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cardInvoices := make(map[int64]bool)
	for id, rec := range s.invoices {
		if rec.tenant == scope && rec.v.CardID == cardID {
			cardInvoices[id] = true
		}
	}
	var out []core.Installment
	for _, rec := range s.installments {
		if rec.tenant != scope || !cardInvoices[rec.v.InvoiceID] {
			continue
		}
		if rec.v.Date.Before(from) || rec.v.Date.After(to) {
			continue
		}
		out = append(out, rec.v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) SetInstallmentStatus(_ context.Context, scope core.TenantID, id int64, status core.InstallmentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.installments[id]
	if !ok {
		return core.ErrNotFound
	}
	if rec.tenant != scope {
		return core.ErrTenantMismatch
	}
	rec.v.Status = status
	s.installments[id] = rec
	return nil
}

// UpsertInvoice returns the existing invoice for (card, period) or stores
// inv as the new one.
func (s *Store) UpsertInvoice(_ context.Context, scope core.TenantID, inv *core.Invoice) (*core.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := invoiceKey(inv.CardID, inv.Period)
	if id, ok := s.invoiceKeys[key]; ok {
		rec := s.invoices[id]
		if rec.tenant != scope {
			return nil, core.ErrTenantMismatch
		}
		existing := rec.v
		return &existing, nil
	}
	inv.ID = s.id()
	s.invoices[inv.ID] = scoped[core.Invoice]{tenant: scope, v: *inv}
	s.invoiceKeys[key] = inv.ID
	stored := *inv
	return &stored, nil
}

func (s *Store) GetInvoice(_ context.Context, scope core.TenantID, id int64) (*core.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.invoices[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	if rec.tenant != scope {
		return nil, core.ErrTenantMismatch
	}
	inv := rec.v
	return &inv, nil
}

func (s *Store) ListOpenInvoices(_ context.Context, scope core.TenantID) ([]core.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Invoice
	for _, rec := range s.invoices {
		if rec.tenant == scope && rec.v.Status == core.InvoiceOpen {
			out = append(out, rec.v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) SetInvoiceStatus(_ context.Context, scope core.TenantID, id int64, from, to core.InvoiceStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.invoices[id]
	if !ok {
		return core.ErrNotFound
	}
	if rec.tenant != scope {
		return core.ErrTenantMismatch
	}
	if rec.v.Status != from {
		return core.ErrConcurrencyConflict
	}
	rec.v.Status = to
	s.invoices[id] = rec
	return nil
}

func (s *Store) CreateCard(_ context.Context, scope core.TenantID, c *core.CreditCard) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID = s.id()
	c.Tenant = scope
	s.cards[c.ID] = scoped[core.CreditCard]{tenant: scope, v: *c}
	return c.ID, nil
}

func (s *Store) GetCard(_ context.Context, scope core.TenantID, id int64) (*core.CreditCard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.cards[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	if rec.tenant != scope {
		return nil, core.ErrTenantMismatch
	}
	c := rec.v
	return &c, nil
}

func (s *Store) FindCardByDigits(_ context.Context, scope core.TenantID, brand, lastFour string) (*core.CreditCard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.cards {
		if rec.tenant == scope && rec.v.Brand == brand && rec.v.LastFourDigits == lastFour {
			c := rec.v
			return &c, nil
		}
	}
	return nil, core.ErrNotFound
}

func (s *Store) CreateAccount(_ context.Context, scope core.TenantID, a *core.Account) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.ID = s.id()
	a.Tenant = scope
	s.accounts[a.ID] = scoped[core.Account]{tenant: scope, v: *a}
	return a.ID, nil
}

func (s *Store) SumAccountBalances(_ context.Context, scope core.TenantID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum int64
	for _, rec := range s.accounts {
		if rec.tenant == scope {
			sum += rec.v.BalanceCents
		}
	}
	return sum, nil
}

func (s *Store) ListTenants(_ context.Context) ([]core.TenantID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[core.TenantID]bool)
	for _, rec := range s.transactions {
		seen[rec.tenant] = true
	}
	for _, rec := range s.cards {
		seen[rec.tenant] = true
	}
	for _, rec := range s.accounts {
		seen[rec.tenant] = true
	}
	out := make([]core.TenantID, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// WithTx serializes transactional sections and restores a snapshot when
// fn fails, so partial writes are never observable.
func (s *Store) WithTx(_ context.Context, fn func(ledger.Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	if err := fn(s); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func (s *Store) Close() error { return nil }

type snapshot struct {
	nextID       int64
	transactions map[int64]scoped[core.Transaction]
	series       map[int64]scoped[core.SeriesRow]
	installments map[int64]scoped[core.Installment]
	invoices     map[int64]scoped[core.Invoice]
	invoiceKeys  map[string]int64
	cards        map[int64]scoped[core.CreditCard]
	accounts     map[int64]scoped[core.Account]
}

func (s *Store) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshot{
		nextID:       s.nextID,
		transactions: cloneMap(s.transactions),
		series:       cloneMap(s.series),
		installments: cloneMap(s.installments),
		invoices:     cloneMap(s.invoices),
		invoiceKeys:  cloneMap(s.invoiceKeys),
		cards:        cloneMap(s.cards),
		accounts:     cloneMap(s.accounts),
	}
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID = snap.nextID
	s.transactions = snap.transactions
	s.series = snap.series
	s.installments = snap.installments
	s.invoices = snap.invoices
	s.invoiceKeys = snap.invoiceKeys
	s.cards = snap.cards
	s.accounts = snap.accounts
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
