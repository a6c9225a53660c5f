// Package storage is the durable ledger.Store backed by SQLite.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/brunotrinchao/familyflow-sub001/internal/core"
	"github.com/brunotrinchao/familyflow-sub001/internal/ledger"

	_ "modernc.org/sqlite"
)

const dateFormat = "2006-01-02"

// dbtx is satisfied by *sql.DB and *sql.Tx so every query method works
// both standalone and inside a unit of work.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Repository implements ledger.Store over SQLite.
type Repository struct {
	db *sql.DB
	q  dbtx
}

var _ ledger.Store = (*Repository)(nil)

// NewRepository opens (creating directories as needed) and migrates the
// database at dbPath.
func NewRepository(dbPath string) (*Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	// Serialize writers; concurrent WithTx callers queue instead of
	// failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Repository{db: db, q: db}, nil
}

func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// WithTx runs fn inside one database transaction. Nested calls join the
// ambient transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	if _, ok := r.q.(*sql.Tx); ok {
		return fn(r)
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	inner := &Repository{db: r.db, q: tx}
	if err := fn(inner); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback after %w: %v", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *Repository) CreateTransaction(ctx context.Context, scope core.TenantID, t *core.Transaction) (int64, error) {
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO transactions (tenant_id, type, title, description, category, date, amount_cents, installment_total, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		scope, t.Type, t.Title, t.Description, t.Category,
		t.Date.Format(dateFormat), t.AmountCents, t.InstallmentTotal)
	if err != nil {
		return 0, fmt.Errorf("insert transaction: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("transaction id: %w", err)
	}
	t.ID = id
	t.Tenant = scope
	t.Version = 1
	return id, nil
}

func (r *Repository) GetTransaction(ctx context.Context, scope core.TenantID, id int64) (*core.Transaction, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT id, tenant_id, type, title, description, category, date, amount_cents, installment_total, version
		FROM transactions WHERE id = ?`, id)

	var t core.Transaction
	var date string
	err := row.Scan(&t.ID, &t.Tenant, &t.Type, &t.Title, &t.Description, &t.Category,
		&date, &t.AmountCents, &t.InstallmentTotal, &t.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan transaction: %w", err)
	}
	if t.Tenant != scope {
		return nil, core.ErrTenantMismatch
	}
	if t.Date, err = time.Parse(dateFormat, date); err != nil {
		return nil, fmt.Errorf("parse transaction date: %w", err)
	}
	return &t, nil
}

func (r *Repository) UpdateTransaction(ctx context.Context, scope core.TenantID, t *core.Transaction) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE transactions
		SET type = ?, title = ?, description = ?, category = ?, date = ?,
		    amount_cents = ?, installment_total = ?, version = version + 1
		WHERE id = ? AND tenant_id = ? AND version = ?`,
		t.Type, t.Title, t.Description, t.Category, t.Date.Format(dateFormat),
		t.AmountCents, t.InstallmentTotal, t.ID, scope, t.Version)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return r.explainTransactionMiss(ctx, scope, t.ID)
	}
	t.Version++
	return nil
}

// explainTransactionMiss distinguishes not-found, wrong tenant and stale
// version for a zero-row update.
func (r *Repository) explainTransactionMiss(ctx context.Context, scope core.TenantID, id int64) error {
	var tenant core.TenantID
	err := r.q.QueryRowContext(ctx, `SELECT tenant_id FROM transactions WHERE id = ?`, id).Scan(&tenant)
	if errors.Is(err, sql.ErrNoRows) {
		return core.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("inspect transaction: %w", err)
	}
	if tenant != scope {
		return core.ErrTenantMismatch
	}
	return core.ErrConcurrencyConflict
}

func (r *Repository) ListSeries(ctx context.Context, scope core.TenantID, transactionID int64) ([]core.SeriesRow, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, transaction_id, idx, date, amount_cents, status
		FROM transaction_series
		WHERE tenant_id = ? AND transaction_id = ?
		ORDER BY idx`, scope, transactionID)
	if err != nil {
		return nil, fmt.Errorf("query series: %w", err)
	}
	defer rows.Close()

	var out []core.SeriesRow
	for rows.Next() {
		var sr core.SeriesRow
		var date string
		if err := rows.Scan(&sr.ID, &sr.TransactionID, &sr.Index, &date, &sr.AmountCents, &sr.Status); err != nil {
			return nil, fmt.Errorf("scan series row: %w", err)
		}
		if sr.Date, err = time.Parse(dateFormat, date); err != nil {
			return nil, fmt.Errorf("parse series date: %w", err)
		}
		out = append(out, sr)
	}
	return out, rows.Err()
}

func (r *Repository) CreateSeriesRow(ctx context.Context, scope core.TenantID, row *core.SeriesRow) (int64, error) {
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO transaction_series (tenant_id, transaction_id, idx, date, amount_cents, status)
		VALUES (?, ?, ?, ?, ?, ?)`,
		scope, row.TransactionID, row.Index, row.Date.Format(dateFormat), row.AmountCents, row.Status)
	if err != nil {
		return 0, fmt.Errorf("insert series row: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("series row id: %w", err)
	}
	row.ID = id
	return id, nil
}

func (r *Repository) UpdateSeriesRow(ctx context.Context, scope core.TenantID, row *core.SeriesRow) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE transaction_series
		SET idx = ?, date = ?, amount_cents = ?, status = ?
		WHERE id = ? AND tenant_id = ?`,
		row.Index, row.Date.Format(dateFormat), row.AmountCents, row.Status, row.ID, scope)
	if err != nil {
		return fmt.Errorf("update series row: %w", err)
	}
	return r.requireRow(ctx, res, "transaction_series", row.ID, scope)
}

func (r *Repository) DeleteSeriesRow(ctx context.Context, scope core.TenantID, id int64) error {
	res, err := r.q.ExecContext(ctx,
		`DELETE FROM transaction_series WHERE id = ? AND tenant_id = ?`, id, scope)
	if err != nil {
		return fmt.Errorf("delete series row: %w", err)
	}
	return r.requireRow(ctx, res, "transaction_series", id, scope)
}

func (r *Repository) CreateInstallment(ctx context.Context, scope core.TenantID, ins *core.Installment) (int64, error) {
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO installments (tenant_id, transaction_id, invoice_id, number, date, description, amount_cents, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		scope, ins.TransactionID, ins.InvoiceID, ins.Number,
		ins.Date.Format(dateFormat), ins.Description, ins.AmountCents, ins.Status)
	if err != nil {
		return 0, fmt.Errorf("insert installment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("installment id: %w", err)
	}
	ins.ID = id
	return id, nil
}

func (r *Repository) ListInvoiceInstallments(ctx context.Context, scope core.TenantID, invoiceID int64) ([]core.Installment, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, transaction_id, invoice_id, number, date, description, amount_cents, status
		FROM installments
		WHERE tenant_id = ? AND invoice_id = ?
		ORDER BY id`, scope, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("query invoice installments: %w", err)
	}
	defer rows.Close()
	return scanInstallments(rows)
}

func (r *Repository) ListCardInstallments(ctx context.Context, scope core.TenantID, cardID int64, from, to time.Time) ([]core.Installment, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT i.id, i.transaction_id, i.invoice_id, i.number, i.date, i.description, i.amount_cents, i.status
		FROM installments i
		JOIN invoices inv ON inv.id = i.invoice_id
		WHERE i.tenant_id = ? AND inv.card_id = ? AND i.date >= ? AND i.date <= ?
		ORDER BY i.id`,
		scope, cardID, from.Format(dateFormat), to.Format(dateFormat))
	if err != nil {
		return nil, fmt.Errorf("query card installments: %w", err)
	}
	defer rows.Close()
	return scanInstallments(rows)
}

func scanInstallments(rows *sql.Rows) ([]core.Installment, error) {
	var out []core.Installment
	for rows.Next() {
		var ins core.Installment
		var date string
		err := rows.Scan(&ins.ID, &ins.TransactionID, &ins.InvoiceID, &ins.Number,
			&date, &ins.Description, &ins.AmountCents, &ins.Status)
		if err != nil {
			return nil, fmt.Errorf("scan installment: %w", err)
		}
		if ins.Date, err = time.Parse(dateFormat, date); err != nil {
			return nil, fmt.Errorf("parse installment date: %w", err)
		}
		out = append(out, ins)
	}
	return out, rows.Err()
}

func (r *Repository) SetInstallmentStatus(ctx context.Context, scope core.TenantID, id int64, status core.InstallmentStatus) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE installments SET status = ? WHERE id = ? AND tenant_id = ?`, status, id, scope)
	if err != nil {
		return fmt.Errorf("update installment status: %w", err)
	}
	return r.requireRow(ctx, res, "installments", id, scope)
}

// UpsertInvoice find-or-creates atomically on the (card_id, period)
// unique key, so concurrent installment creation can never produce
// duplicate invoices.
func (r *Repository) UpsertInvoice(ctx context.Context, scope core.TenantID, inv *core.Invoice) (*core.Invoice, error) {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO invoices (tenant_id, card_id, period, closing_day, due_day, due_date, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (card_id, period) DO NOTHING`,
		scope, inv.CardID, inv.Period.String(), inv.ClosingDay, inv.DueDay,
		inv.DueDate.Format(dateFormat), inv.Status)
	if err != nil {
		return nil, fmt.Errorf("upsert invoice: %w", err)
	}

	row := r.q.QueryRowContext(ctx, `
		SELECT id, tenant_id, card_id, period, closing_day, due_day, due_date, status
		FROM invoices WHERE card_id = ? AND period = ?`,
		inv.CardID, inv.Period.String())
	return scanInvoice(row, scope)
}

func (r *Repository) GetInvoice(ctx context.Context, scope core.TenantID, id int64) (*core.Invoice, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT id, tenant_id, card_id, period, closing_day, due_day, due_date, status
		FROM invoices WHERE id = ?`, id)
	return scanInvoice(row, scope)
}

func scanInvoice(row *sql.Row, scope core.TenantID) (*core.Invoice, error) {
	var inv core.Invoice
	var tenant core.TenantID
	var period, dueDate string
	err := row.Scan(&inv.ID, &tenant, &inv.CardID, &period, &inv.ClosingDay, &inv.DueDay, &dueDate, &inv.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan invoice: %w", err)
	}
	if tenant != scope {
		return nil, core.ErrTenantMismatch
	}
	if inv.Period, err = core.ParsePeriod(period); err != nil {
		return nil, err
	}
	if inv.DueDate, err = time.Parse(dateFormat, dueDate); err != nil {
		return nil, fmt.Errorf("parse invoice due date: %w", err)
	}
	return &inv, nil
}

func (r *Repository) ListOpenInvoices(ctx context.Context, scope core.TenantID) ([]core.Invoice, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, tenant_id, card_id, period, closing_day, due_day, due_date, status
		FROM invoices WHERE tenant_id = ? AND status = 'open'
		ORDER BY id`, scope)
	if err != nil {
		return nil, fmt.Errorf("query open invoices: %w", err)
	}
	defer rows.Close()

	var out []core.Invoice
	for rows.Next() {
		var inv core.Invoice
		var tenant core.TenantID
		var period, dueDate string
		err := rows.Scan(&inv.ID, &tenant, &inv.CardID, &period, &inv.ClosingDay, &inv.DueDay, &dueDate, &inv.Status)
		if err != nil {
			return nil, fmt.Errorf("scan invoice: %w", err)
		}
		if inv.Period, err = core.ParsePeriod(period); err != nil {
			return nil, err
		}
		if inv.DueDate, err = time.Parse(dateFormat, dueDate); err != nil {
			return nil, fmt.Errorf("parse invoice due date: %w", err)
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (r *Repository) SetInvoiceStatus(ctx context.Context, scope core.TenantID, id int64, from, to core.InvoiceStatus) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE invoices SET status = ? WHERE id = ? AND tenant_id = ? AND status = ?`,
		to, id, scope, from)
	if err != nil {
		return fmt.Errorf("update invoice status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		var tenant core.TenantID
		err := r.q.QueryRowContext(ctx, `SELECT tenant_id FROM invoices WHERE id = ?`, id).Scan(&tenant)
		if errors.Is(err, sql.ErrNoRows) {
			return core.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("inspect invoice: %w", err)
		}
		if tenant != scope {
			return core.ErrTenantMismatch
		}
		return core.ErrConcurrencyConflict
	}
	return nil
}

func (r *Repository) CreateCard(ctx context.Context, scope core.TenantID, c *core.CreditCard) (int64, error) {
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO credit_cards (tenant_id, name, brand, last_four_digits, closing_day, due_day, account_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		scope, c.Name, c.Brand, c.LastFourDigits, c.ClosingDay, c.DueDay, c.AccountID)
	if err != nil {
		return 0, fmt.Errorf("insert card: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("card id: %w", err)
	}
	c.ID = id
	c.Tenant = scope
	return id, nil
}

func (r *Repository) GetCard(ctx context.Context, scope core.TenantID, id int64) (*core.CreditCard, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, brand, last_four_digits, closing_day, due_day, account_id
		FROM credit_cards WHERE id = ?`, id)

	var c core.CreditCard
	err := row.Scan(&c.ID, &c.Tenant, &c.Name, &c.Brand, &c.LastFourDigits, &c.ClosingDay, &c.DueDay, &c.AccountID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan card: %w", err)
	}
	if c.Tenant != scope {
		return nil, core.ErrTenantMismatch
	}
	return &c, nil
}

func (r *Repository) FindCardByDigits(ctx context.Context, scope core.TenantID, brand, lastFour string) (*core.CreditCard, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, brand, last_four_digits, closing_day, due_day, account_id
		FROM credit_cards WHERE tenant_id = ? AND brand = ? AND last_four_digits = ?`,
		scope, brand, lastFour)

	var c core.CreditCard
	err := row.Scan(&c.ID, &c.Tenant, &c.Name, &c.Brand, &c.LastFourDigits, &c.ClosingDay, &c.DueDay, &c.AccountID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan card: %w", err)
	}
	return &c, nil
}

func (r *Repository) CreateAccount(ctx context.Context, scope core.TenantID, a *core.Account) (int64, error) {
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO accounts (tenant_id, name, balance_cents) VALUES (?, ?, ?)`,
		scope, a.Name, a.BalanceCents)
	if err != nil {
		return 0, fmt.Errorf("insert account: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("account id: %w", err)
	}
	a.ID = id
	a.Tenant = scope
	return id, nil
}

func (r *Repository) SumAccountBalances(ctx context.Context, scope core.TenantID) (int64, error) {
	var sum int64
	err := r.q.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(balance_cents), 0) FROM accounts WHERE tenant_id = ?`, scope).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum account balances: %w", err)
	}
	return sum, nil
}

func (r *Repository) ListTenants(ctx context.Context) ([]core.TenantID, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT tenant_id FROM accounts
		UNION SELECT tenant_id FROM credit_cards
		UNION SELECT tenant_id FROM transactions
		ORDER BY tenant_id`)
	if err != nil {
		return nil, fmt.Errorf("query tenants: %w", err)
	}
	defer rows.Close()

	var out []core.TenantID
	for rows.Next() {
		var t core.TenantID
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// requireRow maps a zero-row write to not-found or tenant mismatch.
func (r *Repository) requireRow(ctx context.Context, res sql.Result, table string, id int64, scope core.TenantID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	var tenant core.TenantID
	err = r.q.QueryRowContext(ctx, `SELECT tenant_id FROM `+table+` WHERE id = ?`, id).Scan(&tenant)
	if errors.Is(err, sql.ErrNoRows) {
		return core.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("inspect %s: %w", table, err)
	}
	if tenant != scope {
		return core.ErrTenantMismatch
	}
	return core.ErrNotFound
}
