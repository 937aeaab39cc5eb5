package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	d := FromMinor(2999, "USD")
	require.True(t, d.Equal(decimal.RequireFromString("29.99")))
	require.Equal(t, int64(2999), ToMinor(d, "USD"))
}

func TestFormatDecimal(t *testing.T) {
	require.Equal(t, "29.99 USD", FormatDecimal(decimal.RequireFromString("29.99"), "usd"))
	require.Equal(t, "30.00 USD", FormatDecimal(decimal.NewFromInt(30), "USD"))
}

func TestNormalize(t *testing.T) {
	require.True(t, Normalize(decimal.RequireFromString("29.994"), "USD").Equal(decimal.RequireFromString("29.99")))
	require.True(t, Normalize(decimal.RequireFromString("10.005"), "usd").Equal(decimal.RequireFromString("10.01")))
	require.True(t, Normalize(decimal.RequireFromString("1500.4"), "JPY").Equal(decimal.NewFromInt(1500)))
}
