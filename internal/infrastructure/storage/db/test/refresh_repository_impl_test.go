package db_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/taler-go/walletd/internal/core/domain"
)

func TestRefreshGroupRepository(t *testing.T) {
	repo := newRepoManager(t)
	groups := repo.RefreshGroupRepository()

	oldCoins := []string{randomKey(), randomKey()}
	group := domain.NewRefreshGroup(
		"rg1", domain.RefreshReasonManual, oldCoins,
		[]domain.Amount{
			domain.MustParseAmount("KUDOS:2"), domain.MustParseAmount("KUDOS:3"),
		},
		[]domain.Amount{
			domain.MustParseAmount("KUDOS:1.5"), domain.MustParseAmount("KUDOS:2.5"),
		},
		now,
	)
	require.NoError(t, groups.AddRefreshGroup(ctx, group))

	noreveal := 2
	err := groups.UpdateRefreshGroup(
		ctx, "rg1", func(g *domain.RefreshGroup) (*domain.RefreshGroup, error) {
			g.SessionPerCoin[0] = &domain.RefreshSession{
				SessionSecretSeed: randomKey(),
				NewDenoms: []domain.DenomSelectionItem{
					{DenomPubHash: "h1", Count: 1},
				},
				AmountRefreshOutput: domain.MustParseAmount("KUDOS:1"),
				NorevealIndex:       &noreveal,
			}
			if err := g.FreezeCoin(1, domain.NewErrorDetail(
				domain.CodeUnexpectedRequestError, "gone", nil,
			)); err != nil {
				return nil, err
			}
			return g, nil
		},
	)
	require.NoError(t, err)

	got, err := groups.GetRefreshGroup(ctx, "rg1")
	require.NoError(t, err)
	require.Equal(t, oldCoins, got.OldCoinPubs)
	require.NotNil(t, got.SessionPerCoin[0])
	require.Equal(t, 2, *got.SessionPerCoin[0].NorevealIndex)
	require.Nil(t, got.SessionPerCoin[1])
	require.Equal(t, domain.RefreshCoinFrozen, got.StatusPerCoin[1])
	require.Equal(
		t, domain.CodeUnexpectedRequestError, got.LastErrorPerCoin[1].Code,
	)

	all, err := groups.GetAllRefreshGroups(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)

	require.NoError(t, groups.DeleteRefreshGroup(ctx, "rg1"))
	got, err = groups.GetRefreshGroup(ctx, "rg1")
	require.NoError(t, err)
	require.Nil(t, got)
}
