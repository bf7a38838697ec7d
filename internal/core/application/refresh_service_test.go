package application_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/taler-go/walletd/internal/core/application"
	"github.com/taler-go/walletd/internal/core/domain"
)

func TestRefreshCoin(t *testing.T) {
	w := newTestWallet(t, newTestExchange(t), newFakeSyncProvider(currency))
	w.withdraw(t, "USD:10")

	oldCoin := w.coinWithValue(t, "5")
	oldDenom, err := w.repo.DenominationRepository().GetDenomination(
		ctx, exchangeURL, oldCoin.DenomPubHash,
	)
	require.NoError(t, err)
	denoms, err := w.ExchangeService().GetCandidateWithdrawalDenoms(ctx, exchangeURL)
	require.NoError(t, err)
	cost := domain.GetTotalRefreshCost(
		denoms, *oldDenom, oldCoin.CurrentAmount, w.clock.Now(),
	)
	requireAmount(t, "USD:1", cost)

	groupID, err := w.RefreshService().CreateRefreshGroup(
		ctx, []string{oldCoin.CoinPub}, domain.RefreshReasonManual,
	)
	require.NoError(t, err)
	w.Wait()

	group, err := w.repo.RefreshGroupRepository().GetRefreshGroup(ctx, groupID)
	require.NoError(t, err)
	require.True(t, group.IsFinished())
	require.False(t, group.Frozen)
	require.Equal(t, domain.RefreshCoinFinished, group.StatusPerCoin[0])
	requireAmount(t, "USD:5", group.InputPerCoin[0])
	requireAmount(t, "USD:4", group.EstimatedOutputPerCoin[0])
	require.NotNil(t, group.SessionPerCoin[0].NorevealIndex)
	require.Equal(t, 1, *group.SessionPerCoin[0].NorevealIndex)

	melted, err := w.repo.CoinRepository().GetCoin(ctx, oldCoin.CoinPub)
	require.NoError(t, err)
	require.True(t, melted.CurrentAmount.IsZero())
	require.Equal(t, domain.CoinDormant, melted.Status)

	newCoins := make([]*domain.Coin, 0)
	for _, c := range w.fundedCoins(t) {
		if c.CoinSource.Type == domain.CoinSourceRefresh {
			require.Equal(t, oldCoin.CoinPub, c.CoinSource.Refresh.OldCoinPub)
			newCoins = append(newCoins, c)
		}
	}
	require.Len(t, newCoins, 2)
	output := sumAmounts(t, newCoins)
	requireAmount(t, "USD:4", output)

	// Nothing is created nor lost besides the refresh cost.
	total, err := output.Add(cost)
	require.NoError(t, err)
	requireAmount(t, "USD:5", total)
	requireAmount(t, "USD:8", sumAmounts(t, w.fundedCoins(t)))
	require.Equal(t, 1, w.exchange.meltCalls)

	t.Run("finished groups are left alone", func(t *testing.T) {
		err := w.RefreshService().ProcessRefreshGroup(ctx, groupID, true)
		require.NoError(t, err)
		require.Equal(t, 1, w.exchange.meltCalls)
	})
}

func TestRefreshCoinRefusedOnMelt(t *testing.T) {
	w := newTestWallet(t, newTestExchange(t), newFakeSyncProvider(currency))
	w.withdraw(t, "USD:10")

	oldCoin := w.coinWithValue(t, "5")
	w.exchange.refuseCoin(oldCoin.CoinPub)

	groupID, err := w.RefreshService().CreateRefreshGroup(
		ctx, []string{oldCoin.CoinPub}, domain.RefreshReasonPay,
	)
	require.NoError(t, err)
	w.Wait()

	group, err := w.repo.RefreshGroupRepository().GetRefreshGroup(ctx, groupID)
	require.NoError(t, err)
	require.True(t, group.Frozen)
	require.True(t, group.IsFinished())
	require.True(t, group.TimestampFinished.IsZero())
	require.Equal(t, domain.RefreshCoinFrozen, group.StatusPerCoin[0])
	require.NotNil(t, group.LastErrorPerCoin[0])
	require.Equal(t, domain.CodeUnexpectedRequestError, group.LastErrorPerCoin[0].Code)

	require.Len(t, w.fundedCoins(t), 2)
	requireAmount(t, "USD:4", sumAmounts(t, w.fundedCoins(t)))

	ops, err := w.PendingService().GetPendingOperations(ctx, w.clock.Now())
	require.NoError(t, err)
	for _, op := range ops {
		require.NotEqual(t, application.PendingRefresh, op.Type)
	}
}

func TestCreateRefreshGroupUnknownCoin(t *testing.T) {
	w := newTestWallet(t, newTestExchange(t), newFakeSyncProvider(currency))
	w.withdraw(t, "USD:10")

	_, err := w.RefreshService().CreateRefreshGroup(
		ctx, []string{w.coinWithValue(t, "5").CoinPub, "UNKNOWN"},
		domain.RefreshReasonManual,
	)
	require.ErrorIs(t, err, application.ErrUnknownCoin)

	// The whole group is rolled back.
	groups, err := w.RefreshService().GetRefreshGroups(ctx)
	require.NoError(t, err)
	require.Empty(t, groups)
	require.Len(t, w.fundedCoins(t), 3)
}

func TestAutoRefresh(t *testing.T) {
	w := newTestWallet(t, newTestExchange(t), newFakeSyncProvider(currency))
	w.withdraw(t, "USD:10")

	require.NoError(t, w.RefreshService().AutoRefresh(ctx, exchangeURL))

	exchange, err := w.repo.ExchangeRepository().GetExchange(ctx, exchangeURL)
	require.NoError(t, err)
	require.True(t, exchange.NextRefreshCheck.Equal(
		w.clock.Now().Add(domain.AutoRefreshMaxCheckDelay),
	))
	groups, err := w.RefreshService().GetRefreshGroups(ctx)
	require.NoError(t, err)
	require.Empty(t, groups)

	// Past half of the time between the end of the withdrawal and the end
	// of the deposit period.
	w.clock.Advance(61 * 24 * time.Hour)
	require.NoError(t, w.RefreshService().AutoRefresh(ctx, exchangeURL))
	w.Wait()

	groups, err = w.RefreshService().GetRefreshGroups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	require.Equal(t, domain.RefreshReasonScheduled, groups[0].Reason)
	require.Len(t, groups[0].OldCoinPubs, 3)
	require.Empty(t, w.fundedCoins(t))
}
