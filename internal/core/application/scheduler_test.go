package application_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/taler-go/walletd/internal/core/application"
	"github.com/taler-go/walletd/internal/core/domain"
)

func pendingOfType(
	t *testing.T, w *testWallet, opType application.PendingOperationType,
) []application.PendingOperation {
	ops, err := w.PendingService().GetPendingOperations(ctx, w.clock.Now())
	require.NoError(t, err)
	found := make([]application.PendingOperation, 0)
	for _, op := range ops {
		if op.Type == opType {
			found = append(found, op)
		}
	}
	return found
}

func TestGetPendingOperations(t *testing.T) {
	w := newTestWallet(t, newTestExchange(t), newFakeSyncProvider(currency))

	res, err := w.ReserveService().CreateReserve(ctx, application.CreateReserveRequest{
		Amount:          domain.MustParseAmount("USD:10"),
		ExchangeBaseURL: exchangeURL,
	})
	require.NoError(t, err)
	w.Wait()

	ops, err := w.PendingService().GetPendingOperations(ctx, w.clock.Now())
	require.NoError(t, err)
	require.Len(t, ops, 2)
	for i := 1; i < len(ops); i++ {
		require.False(t, ops[i].NextRetry.Before(ops[i-1].NextRetry))
	}

	refreshCheck := pendingOfType(t, w, application.PendingExchangeAutoRefresh)
	require.Len(t, refreshCheck, 1)
	require.Equal(t, exchangeURL, refreshCheck[0].ID)
	require.True(t, refreshCheck[0].Given)

	reserves := pendingOfType(t, w, application.PendingReserve)
	require.Len(t, reserves, 1)
	require.Equal(t, res.ReservePub, reserves[0].ID)
	require.False(t, reserves[0].Given)

	t.Run("outdated exchange", func(t *testing.T) {
		w.clock.Advance(2 * time.Hour)
		defer w.clock.Advance(-2 * time.Hour)

		require.Empty(t, pendingOfType(t, w, application.PendingExchangeAutoRefresh))
		updates := pendingOfType(t, w, application.PendingExchangeUpdate)
		require.Len(t, updates, 1)
		require.True(t, updates[0].Given)
		require.Nil(t, updates[0].LastError)
	})
}

func TestSchedulerRunOnce(t *testing.T) {
	w := newTestWallet(t, newTestExchange(t), newFakeSyncProvider(currency))
	w.addProvider(t, providerURL)

	res, err := w.ReserveService().CreateReserve(ctx, application.CreateReserveRequest{
		Amount:          domain.MustParseAmount("USD:10"),
		ExchangeBaseURL: exchangeURL,
	})
	require.NoError(t, err)
	w.Wait()
	w.exchange.fund(res.ReservePub, domain.MustParseAmount("USD:10"))

	// The reserve waits for its next retry.
	require.NoError(t, w.Scheduler().RunOnce(ctx))
	require.Empty(t, w.coins(t))
	require.Len(t, pendingOfType(t, w, application.PendingReserve), 1)

	// The backup provider was processed right away.
	require.NotEmpty(t, w.provider(t, providerURL).LastBackupHash)
	require.Equal(t, 1, w.sync.uploads)

	w.clock.Advance(time.Second)
	require.NoError(t, w.Scheduler().RunOnce(ctx))
	w.Wait()

	require.Len(t, w.fundedCoins(t), 3)
	require.Empty(t, pendingOfType(t, w, application.PendingReserve))
	require.Empty(t, pendingOfType(t, w, application.PendingWithdraw))

	t.Run("backup is due after the interval", func(t *testing.T) {
		backups := pendingOfType(t, w, application.PendingBackup)
		require.Len(t, backups, 1)
		require.False(t, backups[0].Given)

		w.clock.Advance(domain.BackupInterval)
		require.NoError(t, w.Scheduler().RunOnce(ctx))
		require.Equal(t, 2, w.sync.uploads)
		require.Equal(
			t, w.sync.onlyStoredHash(), w.provider(t, providerURL).LastBackupHash,
		)
	})
}

func TestSchedulerRetriesFailedExchangeUpdate(t *testing.T) {
	exchange := newTestExchange(t)
	w := newTestWallet(t, exchange, newFakeSyncProvider(currency))

	_, err := w.ExchangeService().UpdateExchangeFromURL(ctx, exchangeURL, false)
	require.NoError(t, err)

	exchange.lock.Lock()
	exchange.keys.Currency = "EUR"
	exchange.lock.Unlock()
	_, err = w.ExchangeService().UpdateExchangeFromURL(ctx, exchangeURL, true)
	require.Error(t, err)

	exchange.lock.Lock()
	exchange.keys.Currency = currency
	exchange.lock.Unlock()

	w.clock.Advance(time.Second)
	require.NoError(t, w.Scheduler().RunOnce(ctx))

	e, err := w.repo.ExchangeRepository().GetExchange(ctx, exchangeURL)
	require.NoError(t, err)
	require.Nil(t, e.LastError)
	require.Empty(t, pendingOfType(t, w, application.PendingExchangeUpdate))
}

func TestSchedulerRunStops(t *testing.T) {
	w := newTestWallet(t, newTestExchange(t), newFakeSyncProvider(currency))

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		w.Scheduler().Run(runCtx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		require.FailNow(t, "scheduler did not stop")
	}
}

func TestGetWalletSnapshot(t *testing.T) {
	w := newTestWallet(t, newTestExchange(t), newFakeSyncProvider(currency))
	w.withdraw(t, "USD:10")

	snapshot, err := w.PendingService().GetWalletSnapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, snapshot.SpendableCoins)
	require.Len(t, snapshot.Balances, 1)
	require.True(t, snapshot.Balances[currency].Equal(
		domain.MustParseAmount("USD:9").Value,
	))

	ops, err := w.PendingService().GetPendingOperations(ctx, w.clock.Now())
	require.NoError(t, err)
	total, due := 0, 0
	for _, count := range snapshot.PendingOperations {
		total += count
	}
	for _, op := range ops {
		if op.Given {
			due++
		}
	}
	require.Equal(t, len(ops), total)
	require.Equal(t, due, snapshot.DueOperations)
}
