package application_test

import (
	"context"
	"crypto/rsa"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/taler-go/walletd/internal/core/application"
	"github.com/taler-go/walletd/internal/core/domain"
	"github.com/taler-go/walletd/internal/core/ports"
	"github.com/taler-go/walletd/internal/infrastructure/crypto"
	dbbadger "github.com/taler-go/walletd/internal/infrastructure/storage/db/badger"
)

const (
	currency     = "USD"
	exchangeURL  = "https://exchange.test/"
	providerURL  = "https://sync.test/"
	denomKeyBits = 1024
)

var (
	ctx       = context.Background()
	cryptoSvc = crypto.NewService()
	startTime = time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC)

	// The denominations of the 10 USD example.
	testDenoms = []testDenom{
		{value: "5", feeWithdraw: "0.10", feeRefresh: "0.10"},
		{value: "2", feeWithdraw: "0.05", feeRefresh: "0.05"},
		{value: "1", feeWithdraw: "0.01", feeRefresh: "0.01"},
	}

	denomKeysLock sync.Mutex
	denomKeys     = make(map[string]*rsa.PrivateKey)
)

// denomKey returns the RSA key of the denomination with the given value.
// Keys are generated once for the whole test run.
func denomKey(value string) (*rsa.PrivateKey, string, error) {
	denomKeysLock.Lock()
	defer denomKeysLock.Unlock()

	if key, ok := denomKeys[value]; ok {
		return key, crypto.EncodeDenomPub(&key.PublicKey), nil
	}
	key, pub, err := crypto.GenerateDenominationKey(denomKeyBits)
	if err != nil {
		return nil, "", err
	}
	denomKeys[value] = key
	return key, pub, nil
}

type testWallet struct {
	*application.Config

	repo     ports.RepoManager
	clock    *mockClock
	exchange *fakeExchange
	bank     *mockBankClient
	sync     *fakeSyncProvider
	payFlow  *mockPayFlow
}

func newTestExchange(t *testing.T) *fakeExchange {
	exchange, err := newFakeExchange(currency, startTime, testDenoms)
	require.NoError(t, err)
	return exchange
}

func newTestWallet(
	t *testing.T, exchange *fakeExchange, provider *fakeSyncProvider,
) *testWallet {
	repo, err := dbbadger.NewRepoManager("", nil)
	require.NoError(t, err)

	w := &testWallet{
		repo:     repo,
		clock:    newMockClock(startTime),
		exchange: exchange,
		bank:     &mockBankClient{},
		sync:     provider,
		payFlow:  &mockPayFlow{},
	}
	w.Config = &application.Config{
		RepoManager:    repo,
		Crypto:         cryptoSvc,
		ExchangeClient: exchange,
		BankClient:     w.bank,
		SyncClient:     provider,
		PayFlow:        w.payFlow,
		Clock:          w.clock,
		MaxParallelOps: 4,
	}
	require.NoError(t, w.Validate())

	t.Cleanup(func() {
		w.Close()
		repo.Close()
	})
	return w
}

// withdraw creates a reserve, funds it at the exchange and processes it
// until its coins are withdrawn.
func (w *testWallet) withdraw(t *testing.T, amount string) string {
	instructed := domain.MustParseAmount(amount)
	res, err := w.ReserveService().CreateReserve(ctx, application.CreateReserveRequest{
		Amount:          instructed,
		ExchangeBaseURL: exchangeURL,
	})
	require.NoError(t, err)
	// Let the first query, made before the funds arrive, settle.
	w.Wait()

	w.exchange.fund(res.ReservePub, instructed)
	require.NoError(t, w.ReserveService().ProcessReserve(ctx, res.ReservePub, true))
	w.Wait()
	return res.ReservePub
}

func (w *testWallet) coins(t *testing.T) []*domain.Coin {
	coins, err := w.repo.CoinRepository().GetAllCoins(ctx)
	require.NoError(t, err)
	return coins
}

func (w *testWallet) fundedCoins(t *testing.T) []*domain.Coin {
	coins := make([]*domain.Coin, 0)
	for _, c := range w.coins(t) {
		if c.IsSpendable() {
			coins = append(coins, c)
		}
	}
	return coins
}

func (w *testWallet) coinWithValue(t *testing.T, value string) *domain.Coin {
	want := domain.MustParseAmount(currency + ":" + value)
	for _, c := range w.fundedCoins(t) {
		if c.CurrentAmount.Cmp(want) == 0 {
			return c
		}
	}
	require.FailNow(t, "no coin with value "+value)
	return nil
}

func (w *testWallet) provider(t *testing.T, baseURL string) *domain.BackupProvider {
	provider, err := w.repo.BackupProviderRepository().GetBackupProvider(ctx, baseURL)
	require.NoError(t, err)
	require.NotNil(t, provider)
	return provider
}

func sumAmounts(t *testing.T, coins []*domain.Coin) domain.Amount {
	total := domain.ZeroAmount(currency)
	for _, c := range coins {
		var err error
		total, err = total.Add(c.CurrentAmount)
		require.NoError(t, err)
	}
	return total
}

func requireAmount(t *testing.T, expected string, actual domain.Amount) {
	require.Zero(
		t, domain.MustParseAmount(expected).Cmp(actual),
		"expected %s, got %s", expected, actual.String(),
	)
}

func requireErrorCode(t *testing.T, err error, code domain.ErrorCode) {
	require.Error(t, err)
	opErr, ok := domain.AsOperationError(err)
	require.True(t, ok, "expected operation error, got %v", err)
	require.Equal(t, code, opErr.Detail.Code)
}
