// Package importer parses externally exported card statements into
// immutable DTOs. Parsing never touches persistence; the reconciler
// consumes the DTOs.
package importer

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/brunotrinchao/familyflow-sub001/internal/core"
)

// DefaultDescription is used when the feed omits the merchant field.
const DefaultDescription = "No description"

const feedDateFormat = "2006-01-02"

type (
	// CardInfo identifies the card a statement belongs to.
	CardInfo struct {
		Name            string
		Brand           string
		LastFourDigits  string
		ClosingDate     time.Time
		DueDate         time.Time
		LimitTotalCents int64
		LimitUsedCents  int64
	}

	// BankInfo is issuer metadata carried along for reporting.
	BankInfo struct {
		Name string
		CNPJ string
	}

	// InstallmentInfo marks an entry as one slice of an installment
	// purchase.
	InstallmentInfo struct {
		IsInstallment bool
		Current       int
		Total         int
		FirstDate     time.Time
	}

	// StatementEntry is one parsed line item. Amount is absolute minor
	// units; IsIncome records that the raw value was negative (credits
	// and payments in the source feed).
	StatementEntry struct {
		Date        time.Time
		Description string
		AmountCents int64
		IsIncome    bool
		Installment InstallmentInfo
	}

	// ImportedStatement is the parsed form of one external extract.
	ImportedStatement struct {
		Card    CardInfo
		Bank    BankInfo
		DueDate time.Time
		Entries []StatementEntry
	}

	// Report accumulates per-item parse failures. A bad line item skips
	// only that item; the batch keeps going.
	Report struct {
		BatchID uuid.UUID
		Skipped int
		Errors  *multierror.Error
	}
)

// Err returns the accumulated item errors, nil when everything parsed.
func (r *Report) Err() error {
	return r.Errors.ErrorOrNil()
}

// Raw payload shape of the external feed. Pointers mark fields whose
// absence must be detected.
type (
	rawStatement struct {
		Card struct {
			Name           string `json:"name"`
			Brand          string `json:"brand"`
			LastFourDigits string `json:"last_four_digits"`
			ClosingDate    string `json:"closing_date"`
			DueDate        string `json:"due_date"`
			Limits         struct {
				Available struct {
					Total *float64 `json:"total"`
				} `json:"available"`
				Used *float64 `json:"used"`
			} `json:"limits"`
		} `json:"card"`
		Bank struct {
			Name string `json:"name"`
			CNPJ string `json:"cnpj"`
		} `json:"bank"`
		Transactions []rawEntry `json:"transactions"`
	}

	rawEntry struct {
		Date        *string  `json:"date"`
		Merchant    *string  `json:"merchant"`
		Value       *float64 `json:"value"`
		Installment struct {
			IsInstallment        bool   `json:"is_installment"`
			Current              int    `json:"current"`
			Total                int    `json:"total"`
			FirstInstallmentDate string `json:"first_installment_date"`
		} `json:"installment"`
	}
)

// Parse decodes a raw extract payload. Malformed JSON or a missing card
// section fails the whole batch; a missing required field in a single
// line item is recorded in the report and only that item is skipped.
func Parse(raw []byte) (*ImportedStatement, *Report, error) {
	var payload rawStatement
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, nil, fmt.Errorf("decode extract: %w", err)
	}

	card, err := parseCard(payload)
	if err != nil {
		return nil, nil, err
	}

	report := &Report{BatchID: uuid.New()}
	stmt := &ImportedStatement{
		Card:    card,
		Bank:    BankInfo{Name: payload.Bank.Name, CNPJ: payload.Bank.CNPJ},
		DueDate: card.DueDate,
	}

	for i, item := range payload.Transactions {
		entry, err := parseEntry(item)
		if err != nil {
			report.Skipped++
			report.Errors = multierror.Append(report.Errors,
				fmt.Errorf("transaction %d: %w", i, err))
			continue
		}
		stmt.Entries = append(stmt.Entries, entry)
	}
	return stmt, report, nil
}

func parseCard(payload rawStatement) (CardInfo, error) {
	c := payload.Card
	if c.LastFourDigits == "" {
		return CardInfo{}, fmt.Errorf("card.last_four_digits missing")
	}
	closing, err := time.Parse(feedDateFormat, c.ClosingDate)
	if err != nil {
		return CardInfo{}, fmt.Errorf("card.closing_date %q: %w", c.ClosingDate, err)
	}
	due, err := time.Parse(feedDateFormat, c.DueDate)
	if err != nil {
		return CardInfo{}, fmt.Errorf("card.due_date %q: %w", c.DueDate, err)
	}
	info := CardInfo{
		Name:           c.Name,
		Brand:          c.Brand,
		LastFourDigits: c.LastFourDigits,
		ClosingDate:    closing,
		DueDate:        due,
	}
	if c.Limits.Available.Total != nil {
		info.LimitTotalCents = core.CentsFromFloat(*c.Limits.Available.Total)
	}
	if c.Limits.Used != nil {
		info.LimitUsedCents = core.CentsFromFloat(*c.Limits.Used)
	}
	return info, nil
}

func parseEntry(item rawEntry) (StatementEntry, error) {
	if item.Date == nil {
		return StatementEntry{}, fmt.Errorf("date missing")
	}
	if item.Value == nil {
		return StatementEntry{}, fmt.Errorf("value missing")
	}
	date, err := time.Parse(feedDateFormat, *item.Date)
	if err != nil {
		return StatementEntry{}, fmt.Errorf("date %q: %w", *item.Date, err)
	}

	description := DefaultDescription
	if item.Merchant != nil && *item.Merchant != "" {
		description = *item.Merchant
	}

	// Negative entries in the source feed denote credits and payments.
	rawValue := *item.Value
	cents := core.CentsFromFloat(rawValue)
	isIncome := cents < 0
	if cents < 0 {
		cents = -cents
	}
	if cents == 0 {
		return StatementEntry{}, fmt.Errorf("value is zero: %w", core.ErrInvalidAmount)
	}

	entry := StatementEntry{
		Date:        date,
		Description: description,
		AmountCents: cents,
		IsIncome:    isIncome,
	}
	if item.Installment.IsInstallment {
		if item.Installment.Current < 1 || item.Installment.Total < 1 ||
			item.Installment.Current > item.Installment.Total {
			return StatementEntry{}, fmt.Errorf("installment indexes %d/%d: %w",
				item.Installment.Current, item.Installment.Total, core.ErrInvalidInstallments)
		}
		first := date
		if item.Installment.FirstInstallmentDate != "" {
			first, err = time.Parse(feedDateFormat, item.Installment.FirstInstallmentDate)
			if err != nil {
				return StatementEntry{}, fmt.Errorf("first_installment_date %q: %w",
					item.Installment.FirstInstallmentDate, err)
			}
		}
		entry.Installment = InstallmentInfo{
			IsInstallment: true,
			Current:       item.Installment.Current,
			Total:         item.Installment.Total,
			FirstDate:     first,
		}
	}
	return entry, nil
}
