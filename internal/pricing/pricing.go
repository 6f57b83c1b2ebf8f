// Package pricing computes rental quotes. All arithmetic uses decimals so the
// same unit price always produces the same breakdown.
package pricing

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/comigor/quotebot/internal/catalog"
)

// TaxRate is the IVA applied to every quote.
var TaxRate = decimal.RequireFromString("0.16")

// InvalidPriceError is returned for prices that are not positive finite numbers.
type InvalidPriceError struct {
	Value string
}

func (e *InvalidPriceError) Error() string {
	return fmt.Sprintf("invalid unit price %q: must be a positive number", e.Value)
}

// Breakdown is the money part of a quote.
type Breakdown struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Tax      decimal.Decimal `json:"tax"`
	Total    decimal.Decimal `json:"total"`
}

// Compute prices exactly one rental period: subtotal is the unit price in
// cents, tax is subtotal*TaxRate rounded half-up to cents, total is their sum.
// Sub-cent prices are rounded first so the tax always matches the shown subtotal.
func Compute(unitPrice decimal.Decimal) (Breakdown, error) {
	subtotal := unitPrice.Round(2)
	if !subtotal.IsPositive() {
		return Breakdown{}, &InvalidPriceError{Value: unitPrice.String()}
	}
	tax := subtotal.Mul(TaxRate).Round(2)
	return Breakdown{
		Subtotal: subtotal,
		Tax:      tax,
		Total:    subtotal.Add(tax),
	}, nil
}

// IsCents reports whether d has no digits below the cent.
func IsCents(d decimal.Decimal) bool {
	return d.Equal(d.Round(2))
}

// ParsePrice parses a decimal price string, rejecting non-positive values and
// fractions of a cent.
func ParsePrice(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil || !d.IsPositive() || !IsCents(d) {
		return decimal.Decimal{}, &InvalidPriceError{Value: s}
	}
	return d, nil
}

// FormatMoney renders an amount as "$1234.50".
func FormatMoney(d decimal.Decimal) string {
	return "$" + d.StringFixed(2)
}

// Quote is the priced offer for one machine over one rental period. It only
// lives for the duration of a fulfillment run (or an outbox retry).
type Quote struct {
	Number       string        `json:"number"`
	Machine      catalog.Entry `json:"machine"`
	Breakdown                  // embedded money fields
	DurationText string        `json:"duration_text"`
	RentalStart  time.Time     `json:"rental_start"`
	RentalEnd    time.Time     `json:"rental_end"`
	IssuedAt     time.Time     `json:"issued_at"`
}

// NewQuote prices machine and stamps the quote with a short unique number.
func NewQuote(machine catalog.Entry, durationText string, start, end, now time.Time) (Quote, error) {
	b, err := Compute(machine.WeeklyPrice)
	if err != nil {
		return Quote{}, fmt.Errorf("price %q: %w", machine.ModelName, err)
	}
	return Quote{
		Number:       "COT-" + strings.ToUpper(uuid.NewString()[:8]),
		Machine:      machine,
		Breakdown:    b,
		DurationText: durationText,
		RentalStart:  start,
		RentalEnd:    end,
		IssuedAt:     now,
	}, nil
}
