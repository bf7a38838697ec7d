package domain_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/taler-go/walletd/internal/core/domain"
)

func TestParseAmount(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		tests := []struct {
			in       string
			expected string
		}{
			{"USD:10", "USD:10"},
			{"usd:0.5", "USD:0.5"},
			{"KUDOS:0.00000001", "KUDOS:0.00000001"},
		}
		for _, tt := range tests {
			a, err := domain.ParseAmount(tt.in)
			require.NoError(t, err)
			require.Equal(t, tt.expected, a.String())
		}
	})

	t.Run("invalid", func(t *testing.T) {
		for _, in := range []string{
			"", "10", "USD:", ":10", "USD:-1", "USD:abc", "USD:0.000000001",
			"VERYLONGCURRENCY:1",
		} {
			_, err := domain.ParseAmount(in)
			require.ErrorIs(t, err, domain.ErrMalformedAmount, in)
		}
	})
}

func TestAmountArithmetic(t *testing.T) {
	a := domain.MustParseAmount("USD:3.5")
	b := domain.MustParseAmount("USD:1.25")

	sum, err := a.Add(b)
	require.NoError(t, err)
	require.Equal(t, "USD:4.75", sum.String())

	diff, ok := a.Sub(b)
	require.True(t, ok)
	require.Equal(t, "USD:2.25", diff.String())

	diff, ok = b.Sub(a)
	require.False(t, ok)
	require.True(t, diff.IsZero())

	_, err = a.Add(domain.MustParseAmount("EUR:1"))
	require.ErrorIs(t, err, domain.ErrCurrencyMismatch)

	_, ok = a.Sub(domain.MustParseAmount("EUR:1"))
	require.False(t, ok)

	require.Equal(t, "USD:10.5", a.Mul(3).String())
}

func TestAmountJSON(t *testing.T) {
	type wrapper struct {
		A domain.Amount
		B domain.Amount
	}
	w := wrapper{A: domain.MustParseAmount("USD:1.5")}

	buf, err := json.Marshal(w)
	require.NoError(t, err)
	require.JSONEq(t, `{"A":"USD:1.5","B":""}`, string(buf))

	var decoded wrapper
	require.NoError(t, json.Unmarshal(buf, &decoded))
	require.Equal(t, 0, decoded.A.Cmp(w.A))
	require.Equal(t, "USD", decoded.A.Currency)
	require.Empty(t, decoded.B.Currency)
}
