package domain_test

import (
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/taler-go/walletd/internal/core/domain"
)

var now = time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC)

func TestSelectWithdrawalDenominations(t *testing.T) {
	denoms := []domain.Denomination{
		newDenom("h1", "USD:1", "USD:0.01"),
		newDenom("h5", "USD:5", "USD:0.10"),
		newDenom("h2", "USD:2", "USD:0.05"),
	}

	t.Run("greedy", func(t *testing.T) {
		sel := domain.SelectWithdrawalDenominations(
			domain.MustParseAmount("USD:10.00"), denoms, now,
		)

		require.Len(t, sel.SelectedDenoms, 2)
		require.Equal(t, "h5", sel.SelectedDenoms[0].Denom.DenomPubHash)
		require.Equal(t, 1, sel.SelectedDenoms[0].Count)
		require.Equal(t, "h2", sel.SelectedDenoms[1].Denom.DenomPubHash)
		require.Equal(t, 2, sel.SelectedDenoms[1].Count)
		require.Equal(t, 3, sel.NumCoins())
		require.Equal(t, "USD:9", sel.TotalCoinValue.String())
		require.Equal(t, "USD:9.2", sel.TotalWithdrawCost.String())

		left, ok := domain.MustParseAmount("USD:10.00").Sub(sel.TotalWithdrawCost)
		require.True(t, ok)
		require.True(t, left.Cmp(domain.MustParseAmount("USD:1")) < 0)
	})

	t.Run("to_state", func(t *testing.T) {
		sel := domain.SelectWithdrawalDenominations(
			domain.MustParseAmount("USD:10.00"), denoms, now,
		)
		state := sel.ToState()

		require.Equal(t, []domain.DenomSelectionItem{
			{DenomPubHash: "h5", Count: 1},
			{DenomPubHash: "h2", Count: 2},
		}, state.SelectedDenoms)
		require.Equal(t, sel.TotalWithdrawCost, state.TotalWithdrawCost)
		require.Equal(t, 3, state.NumCoins())
	})

	t.Run("exact_budget", func(t *testing.T) {
		sel := domain.SelectWithdrawalDenominations(
			domain.MustParseAmount("USD:10.20"), denoms, now,
		)
		require.Len(t, sel.SelectedDenoms, 1)
		require.Equal(t, 2, sel.SelectedDenoms[0].Count)
		require.Equal(t, "USD:10.2", sel.TotalWithdrawCost.String())
	})

	t.Run("insufficient_budget", func(t *testing.T) {
		sel := domain.SelectWithdrawalDenominations(
			domain.MustParseAmount("USD:1.00"), denoms, now,
		)
		require.Empty(t, sel.SelectedDenoms)
		require.True(t, sel.TotalCoinValue.IsZero())
	})
}

func TestSelectWithdrawalDenominationsSkipsNonWithdrawable(t *testing.T) {
	revoked := newDenom("revoked", "USD:5", "USD:0")
	revoked.IsRevoked = true
	notOffered := newDenom("not_offered", "USD:5", "USD:0")
	notOffered.IsOffered = false
	notStarted := newDenom("not_started", "USD:5", "USD:0")
	notStarted.StampStart = now.Add(time.Hour)
	expiring := newDenom("expiring", "USD:5", "USD:0")
	expiring.StampExpireWithdraw = now.Add(4 * time.Minute)
	otherCurrency := newDenom("eur", "EUR:5", "EUR:0")
	valid := newDenom("valid", "USD:1", "USD:0")

	denoms := []domain.Denomination{
		revoked, notOffered, notStarted, expiring, otherCurrency, valid,
	}
	sel := domain.SelectWithdrawalDenominations(
		domain.MustParseAmount("USD:5"), denoms, now,
	)

	require.Len(t, sel.SelectedDenoms, 1)
	require.Equal(t, "valid", sel.SelectedDenoms[0].Denom.DenomPubHash)
	require.Equal(t, 5, sel.SelectedDenoms[0].Count)
}

func TestSelectWithdrawalDenominationsProperties(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))

	for i := 0; i < 200; i++ {
		denoms := randomDenoms(rnd)
		available := domain.NewAmount(
			"USD", decimal.New(rnd.Int63n(100000), -2),
		)

		sel := domain.SelectWithdrawalDenominations(available, denoms, now)
		require.LessOrEqual(t, sel.TotalWithdrawCost.Cmp(available), 0)

		again := domain.SelectWithdrawalDenominations(available, denoms, now)
		require.Equal(t, sel, again)

		for j := 1; j < len(sel.SelectedDenoms); j++ {
			prev := sel.SelectedDenoms[j-1].Denom.Value
			cur := sel.SelectedDenoms[j].Denom.Value
			require.GreaterOrEqual(t, prev.Cmp(cur), 0)
		}
	}
}

func TestGetTotalRefreshCost(t *testing.T) {
	denoms := []domain.Denomination{
		newDenom("h1", "USD:1", "USD:0.01"),
		newDenom("h5", "USD:5", "USD:0.10"),
		newDenom("h2", "USD:2", "USD:0.05"),
	}
	refreshed := newDenom("old", "USD:10", "USD:0.10")
	refreshed.FeeRefresh = domain.MustParseAmount("USD:0.50")

	tests := []struct {
		name       string
		amountLeft string
		expected   string
	}{
		{"full_coin", "USD:10", "USD:1"},
		{"partial_coin", "USD:3.10", "USD:1.1"},
		{"too_small", "USD:0.40", "USD:0.4"},
	}

	for i := range tests {
		tt := tests[i]
		t.Run(tt.name, func(t *testing.T) {
			cost := domain.GetTotalRefreshCost(
				denoms, refreshed, domain.MustParseAmount(tt.amountLeft), now,
			)
			require.Equal(t, tt.expected, cost.String())
		})
	}
}

func newDenom(hash, value, feeWithdraw string) domain.Denomination {
	v := domain.MustParseAmount(value)
	zero := domain.ZeroAmount(v.Currency)
	return domain.Denomination{
		ExchangeBaseURL:     "https://exchange.test/",
		DenomPubHash:        hash,
		Value:               v,
		FeeWithdraw:         domain.MustParseAmount(feeWithdraw),
		FeeDeposit:          zero,
		FeeRefresh:          zero,
		FeeRefund:           zero,
		StampStart:          now.Add(-24 * time.Hour),
		StampExpireWithdraw: now.Add(30 * 24 * time.Hour),
		StampExpireDeposit:  now.Add(60 * 24 * time.Hour),
		StampExpireLegal:    now.Add(365 * 24 * time.Hour),
		IsOffered:           true,
		VerificationStatus:  domain.DenominationVerifiedGood,
	}
}

func randomDenoms(rnd *rand.Rand) []domain.Denomination {
	n := 1 + rnd.Intn(6)
	denoms := make([]domain.Denomination, 0, n)
	for i := 0; i < n; i++ {
		d := newDenom(
			string(rune('a'+i)), "USD:1", "USD:0",
		)
		d.Value = domain.NewAmount("USD", decimal.New(1+rnd.Int63n(2000), -2))
		d.FeeWithdraw = domain.NewAmount("USD", decimal.New(rnd.Int63n(20), -2))
		denoms = append(denoms, d)
	}
	return denoms
}
