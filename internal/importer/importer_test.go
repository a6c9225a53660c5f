package importer

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/brunotrinchao/familyflow-sub001/internal/core"
)

const sampleExtract = `{
  "card": {
    "name": "Cartao Principal",
    "brand": "visa",
    "last_four_digits": "1234",
    "closing_date": "2024-03-10",
    "due_date": "2024-03-20",
    "limits": {"available": {"total": 1500.50}, "used": 499.50}
  },
  "bank": {"name": "Banco Exemplo", "cnpj": "00.000.000/0001-00"},
  "transactions": [
    {"date": "2024-03-02", "merchant": "Supermercado X", "value": 123.45,
     "installment": {"is_installment": false}},
    {"date": "2024-03-05", "value": -50.00,
     "installment": {"is_installment": false}},
    {"date": "2024-03-04", "merchant": "Loja Y", "value": 200.00,
     "installment": {"is_installment": true, "current": 2, "total": 5,
                     "first_installment_date": "2024-01-15"}}
  ]
}`

func TestParse(t *testing.T) {
	stmt, report, err := Parse([]byte(sampleExtract))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if report.Err() != nil {
		t.Fatalf("unexpected item errors: %v", report.Err())
	}
	if len(stmt.Entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(stmt.Entries))
	}

	if stmt.Card.LastFourDigits != "1234" || stmt.Card.Brand != "visa" {
		t.Errorf("card = %+v", stmt.Card)
	}
	if stmt.Card.LimitTotalCents != 150050 || stmt.Card.LimitUsedCents != 49950 {
		t.Errorf("limits = %d/%d, want 150050/49950", stmt.Card.LimitTotalCents, stmt.Card.LimitUsedCents)
	}
	if stmt.Bank.Name != "Banco Exemplo" {
		t.Errorf("bank name = %q", stmt.Bank.Name)
	}

	first := stmt.Entries[0]
	if first.Description != "Supermercado X" || first.AmountCents != 12345 || first.IsIncome {
		t.Errorf("first entry = %+v", first)
	}

	// Negative feed values are credits: absolute amount, income flag on,
	// default description when the merchant is missing.
	second := stmt.Entries[1]
	if !second.IsIncome || second.AmountCents != 5000 {
		t.Errorf("second entry = %+v, want income 5000", second)
	}
	if second.Description != DefaultDescription {
		t.Errorf("second entry description = %q, want %q", second.Description, DefaultDescription)
	}

	third := stmt.Entries[2]
	if !third.Installment.IsInstallment || third.Installment.Current != 2 || third.Installment.Total != 5 {
		t.Errorf("third entry installment = %+v", third.Installment)
	}
	if want := time.Date(2024, time.January, 15, 0, 0, 0, 0, time.UTC); !third.Installment.FirstDate.Equal(want) {
		t.Errorf("first installment date = %s", third.Installment.FirstDate.Format("2006-01-02"))
	}
}

func TestParseSkipsBrokenItems(t *testing.T) {
	tests := []struct {
		name string
		item string
	}{
		{"missing value", `{"date": "2024-03-06", "merchant": "Sem valor"}`},
		{"missing date", `{"merchant": "Sem data", "value": 10.0}`},
		{"bad date", `{"date": "06/03/2024", "merchant": "Data ruim", "value": 10.0}`},
		{"zero value", `{"date": "2024-03-06", "merchant": "Zerado", "value": 0.0}`},
		{"bad installment indexes", `{"date": "2024-03-06", "value": 10.0,
			"installment": {"is_installment": true, "current": 4, "total": 3}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := strings.Replace(sampleExtract,
				`{"date": "2024-03-02", "merchant": "Supermercado X", "value": 123.45,
     "installment": {"is_installment": false}}`, tt.item, 1)
			stmt, report, err := Parse([]byte(raw))
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if report.Skipped != 1 {
				t.Errorf("skipped %d items, want 1", report.Skipped)
			}
			if report.Err() == nil {
				t.Error("skipped item not reported")
			}
			if len(stmt.Entries) != 2 {
				t.Errorf("got %d entries, want the 2 healthy ones", len(stmt.Entries))
			}
		})
	}
}

func TestParseZeroValueIsInvalidAmount(t *testing.T) {
	raw := `{"card": {"last_four_digits": "1234", "closing_date": "2024-03-10", "due_date": "2024-03-20"},
	         "transactions": [{"date": "2024-03-06", "value": 0.0}]}`
	_, report, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !errors.Is(report.Err(), core.ErrInvalidAmount) {
		t.Errorf("report error = %v, want ErrInvalidAmount", report.Err())
	}
}

func TestParseWholeBatchFailures(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"malformed json", `{"card": {`},
		{"missing card digits", `{"card": {"closing_date": "2024-03-10", "due_date": "2024-03-20"}}`},
		{"bad closing date", `{"card": {"last_four_digits": "1234", "closing_date": "nope", "due_date": "2024-03-20"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := Parse([]byte(tt.raw)); err == nil {
				t.Error("Parse accepted a broken extract")
			}
		})
	}
}
