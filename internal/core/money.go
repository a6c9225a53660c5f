// Package core holds the domain model: money, dates, entities, statuses
// and the balance summarizer. Everything monetary is an int64 amount in
// minor currency units (centavos); floating point only ever appears at
// parse/format boundaries.
package core

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// Money is an amount in minor currency units.
type Money struct {
	Cents int64
}

// ParseAmount converts a localized decimal string to minor units.
//
// The accepted format is pt-BR: "." as thousand separator, "," as decimal
// separator, optional leading sign. Rounding is half-up on the third
// decimal place.
//
// Examples:
//
//	ParseAmount("1.234,56") -> 123456, nil
//	ParseAmount("-12,34")   -> -1234, nil
//	ParseAmount("12,344")   -> 1234, nil (rounds down)
//	ParseAmount("12,345")   -> 1235, nil (rounds half up)
func ParseAmount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidAmount
	}
	negative := false
	switch s[0] {
	case '-':
		negative = true
		s = s[1:]
	case '+':
		s = s[1:]
	}
	// Strip thousand separators, then normalize the decimal comma.
	s = strings.ReplaceAll(s, ".", "")
	s = strings.ReplaceAll(s, ",", ".")

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return 0, ErrInvalidAmount
	}
	intPart := parts[0]
	fracPart := ""
	if len(parts) == 2 {
		fracPart = parts[1]
	}
	// A lone sign or separator carries no digits at all.
	if intPart == "" && fracPart == "" {
		return 0, ErrInvalidAmount
	}
	if intPart == "" {
		intPart = "0"
	}
	for _, r := range intPart {
		if !unicode.IsDigit(r) {
			return 0, ErrInvalidAmount
		}
	}
	for _, r := range fracPart {
		if !unicode.IsDigit(r) {
			return 0, ErrInvalidAmount
		}
	}
	iv, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	const maxSafeInt64 = (1<<63 - 1) / 100
	if iv > maxSafeInt64 {
		return 0, ErrInvalidAmount
	}
	// First two fractional digits are cents; half-up on the third.
	var fracCents int64
	if len(fracPart) > 0 {
		fracCents = int64(fracPart[0]-'0') * 10
		if len(fracPart) > 1 {
			fracCents += int64(fracPart[1] - '0')
			if len(fracPart) > 2 && fracPart[2] >= '5' {
				fracCents++
			}
		}
	}
	cents := iv*100 + fracCents
	if negative {
		cents = -cents
	}
	return cents, nil
}

// Formatter renders minor units back into the localized string form.
type Formatter struct {
	// Prefix is the currency symbol prepended to the formatted value,
	// including any trailing space.
	Prefix string
}

// DefaultFormatter renders Brazilian real amounts.
var DefaultFormatter = Formatter{Prefix: "R$ "}

// Format is the exact inverse of ParseAmount with the currency prefix
// applied: Format(123456) -> "R$ 1.234,56".
func (f Formatter) Format(cents int64) string {
	negative := cents < 0
	if negative {
		cents = -cents
	}
	intPart := cents / 100
	fracPart := cents % 100

	digits := strconv.FormatInt(intPart, 10)
	var b strings.Builder
	b.WriteString(f.Prefix)
	if negative {
		b.WriteByte('-')
	}
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	b.WriteByte(',')
	if fracPart < 10 {
		b.WriteByte('0')
	}
	b.WriteString(strconv.FormatInt(fracPart, 10))
	return b.String()
}

// FormatAmount formats minor units with the default prefix.
func FormatAmount(cents int64) string {
	return DefaultFormatter.Format(cents)
}

// CentsFromFloat converts a float amount coming off an external feed to
// minor units with half-up rounding. Storage and comparison never touch
// the float representation.
func CentsFromFloat(v float64) int64 {
	return decimal.NewFromFloat(v).Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// Reais returns the value as a float64 for display purposes only.
func (m Money) Reais() float64 {
	return float64(m.Cents) / 100.0
}

// Validate rejects a zero amount. Sign is validated against the owning
// transaction type, not here.
func (m Money) Validate() error {
	if m.Cents == 0 {
		return ErrInvalidAmount
	}
	return nil
}
