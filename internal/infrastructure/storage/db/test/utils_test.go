package db_test

import (
	"context"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/taler-go/walletd/internal/core/domain"
	"github.com/taler-go/walletd/internal/core/ports"
	dbbadger "github.com/taler-go/walletd/internal/infrastructure/storage/db/badger"
	"github.com/taler-go/walletd/pkg/crock"
)

var (
	ctx = context.Background()
	now = time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC)
)

type repoManager struct {
	ports.RepoManager
}

func newRepoManager(t *testing.T) repoManager {
	manager, err := dbbadger.NewRepoManager("", nil)
	require.NoError(t, err)
	t.Cleanup(manager.Close)
	return repoManager{manager}
}

func (r repoManager) read(
	query func(context.Context) (interface{}, error),
) (interface{}, error) {
	return r.RunTransaction(ctx, true, query)
}

func (r repoManager) write(
	query func(context.Context) (interface{}, error),
) (interface{}, error) {
	return r.RunTransaction(ctx, false, query)
}

func randomKey() string {
	b := make([]byte, 32)
	//nolint
	rand.Read(b)
	return crock.Encode(b)
}

func makeRandomReserve(statusURL string) *domain.Reserve {
	var bankInfo *domain.ReserveBankInfo
	if statusURL != "" {
		bankInfo = &domain.ReserveBankInfo{
			StatusURL:        statusURL,
			ExchangePaytoURI: "payto://x-taler-bank/exchange",
		}
	}
	return domain.NewReserve(
		randomKey(), randomKey(), "https://exchange.test/",
		domain.MustParseAmount("KUDOS:10"), bankInfo, "", randomKey(),
		domain.DenomSelectionState{}, now,
	)
}

func makeRandomCoin(exchangeBaseURL string) *domain.Coin {
	return &domain.Coin{
		CoinPub:         randomKey(),
		CoinPriv:        randomKey(),
		BlindingKey:     randomKey(),
		DenomPubHash:    randomKey(),
		DenomSig:        randomKey(),
		ExchangeBaseURL: exchangeBaseURL,
		CoinEvHash:      randomKey(),
		CurrentAmount:   domain.MustParseAmount("KUDOS:2"),
		Status:          domain.CoinFresh,
		CoinSource:      domain.NewWithdrawCoinSource(randomKey(), randomKey(), 0),
	}
}

func makePlanchet(groupID string, coinIndex int) *domain.Planchet {
	return &domain.Planchet{
		WithdrawalGroupID: groupID,
		CoinIndex:         coinIndex,
		CoinPub:           randomKey(),
		CoinPriv:          randomKey(),
		BlindingKey:       randomKey(),
		CoinEv:            randomKey(),
		CoinEvHash:        randomKey(),
		DenomPubHash:      randomKey(),
		CoinValue:         domain.MustParseAmount("KUDOS:1"),
	}
}
