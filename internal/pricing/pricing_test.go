package pricing

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/comigor/quotebot/internal/catalog"
)

func TestCompute_LoaderX(t *testing.T) {
	b, err := Compute(decimal.RequireFromString("1000.00"))
	require.NoError(t, err)
	require.Equal(t, "$1000.00", FormatMoney(b.Subtotal))
	require.Equal(t, "$160.00", FormatMoney(b.Tax))
	require.Equal(t, "$1160.00", FormatMoney(b.Total))
}

func TestCompute_RoundsTaxHalfUp(t *testing.T) {
	cases := map[string]struct{ tax, total string }{
		"0.03":    {"0.00", "0.03"},  // 0.0048
		"0.05":    {"0.01", "0.06"},  // 0.008
		"3.41":    {"0.55", "3.96"},  // 0.5456
		"4200.50": {"672.08", "4872.58"},
		"19.99":   {"3.20", "23.19"}, // 3.1984
	}
	for price, want := range cases {
		b, err := Compute(decimal.RequireFromString(price))
		require.NoError(t, err, price)
		require.Equal(t, want.tax, b.Tax.StringFixed(2), price)
		require.Equal(t, want.total, b.Total.StringFixed(2), price)
		require.True(t, b.Total.Equal(b.Subtotal.Add(b.Tax)), price)
		require.True(t, b.Tax.Equal(b.Subtotal.Mul(TaxRate).Round(2)), price)
	}
}

func TestCompute_Deterministic(t *testing.T) {
	price := decimal.RequireFromString("8765.43")
	first, err := Compute(price)
	require.NoError(t, err)
	for i := 0; i < 1000; i++ {
		again, err := Compute(price)
		require.NoError(t, err)
		require.Equal(t, first.Subtotal.String(), again.Subtotal.String())
		require.Equal(t, first.Tax.String(), again.Tax.String())
		require.Equal(t, first.Total.String(), again.Total.String())
	}
}

func TestCompute_InvalidPrice(t *testing.T) {
	for _, p := range []string{"0", "-10", "-0.01"} {
		_, err := Compute(decimal.RequireFromString(p))
		var target *InvalidPriceError
		require.True(t, errors.As(err, &target), p)
		require.Equal(t, p, target.Value)
	}
}

func TestCompute_SubCentPriceTaxesShownSubtotal(t *testing.T) {
	b, err := Compute(decimal.RequireFromString("10.03125"))
	require.NoError(t, err)
	require.Equal(t, "$10.03", FormatMoney(b.Subtotal))
	require.Equal(t, "$1.60", FormatMoney(b.Tax))
	require.Equal(t, "$11.63", FormatMoney(b.Total))

	_, err = Compute(decimal.RequireFromString("0.004"))
	var target *InvalidPriceError
	require.ErrorAs(t, err, &target, "rounds to zero")
}

func TestParsePrice(t *testing.T) {
	d, err := ParsePrice(" 1500.5 ")
	require.NoError(t, err)
	require.Equal(t, "1500.50", d.StringFixed(2))

	for _, bad := range []string{"", "NaN", "Inf", "abc", "0", "-3", "10.03125", "0.001"} {
		_, err := ParsePrice(bad)
		var target *InvalidPriceError
		require.ErrorAs(t, err, &target, bad)
	}
}

func TestNewQuote(t *testing.T) {
	machine := catalog.Entry{ModelName: "Loader X", Description: "Cargador", WeeklyPrice: decimal.RequireFromString("1000.00")}
	start := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 7)
	now := time.Date(2025, 6, 30, 12, 0, 0, 0, time.UTC)

	q, err := NewQuote(machine, "una semana", start, end, now)
	require.NoError(t, err)
	require.Regexp(t, `^COT-[0-9A-F]{8}$`, q.Number)
	require.Equal(t, "1160.00", q.Total.StringFixed(2))
	require.Equal(t, "una semana", q.DurationText)
	require.Equal(t, end, q.RentalEnd)
	require.Equal(t, now, q.IssuedAt)

	machine.WeeklyPrice = decimal.Zero
	_, err = NewQuote(machine, "", start, end, now)
	var target *InvalidPriceError
	require.ErrorAs(t, err, &target)
}
