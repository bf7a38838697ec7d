package db_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/taler-go/walletd/internal/core/domain"
)

func TestBackupProviderRepository(t *testing.T) {
	repo := newRepoManager(t)
	providers := repo.BackupProviderRepository()

	provider := &domain.BackupProvider{
		BaseURL: "https://sync.test/",
		Name:    "sync",
		Terms: &domain.BackupProviderTerms{
			SupportedProtocolVersion: "0:0:0",
			AnnualFee:                domain.MustParseAmount("KUDOS:0.1"),
			StorageLimitInMegabytes:  16,
		},
		State: domain.NewProvisionalBackupState(),
	}
	require.NoError(t, providers.AddOrUpdateBackupProvider(ctx, provider))

	err := providers.UpdateBackupProvider(
		ctx, provider.BaseURL,
		func(p *domain.BackupProvider) (*domain.BackupProvider, error) {
			p.BackupFailed(domain.NewErrorDetail(
				domain.CodeNetworkError, "unreachable", nil,
			), now)
			return p, nil
		},
	)
	require.NoError(t, err)

	got, err := providers.GetBackupProvider(ctx, provider.BaseURL)
	require.NoError(t, err)
	require.Equal(t, domain.BackupProviderRetrying, got.State.Tag)
	require.Nil(t, got.State.Ready)
	require.Equal(t, 1, got.RetryInfo().RetryCounter)
	require.Equal(t, domain.CodeNetworkError, got.LastError().Code)
	require.Equal(t, "KUDOS:0.1", got.Terms.AnnualFee.String())

	all, err := providers.GetAllBackupProviders(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)

	require.NoError(t, providers.DeleteBackupProvider(ctx, provider.BaseURL))
	got, err = providers.GetBackupProvider(ctx, provider.BaseURL)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestBackupConfigRepository(t *testing.T) {
	repo := newRepoManager(t)
	configs := repo.BackupConfigRepository()

	config, err := configs.GetBackupConfig(ctx)
	require.NoError(t, err)
	require.Nil(t, config)

	config = &domain.BackupConfig{
		WalletRootPub:  randomKey(),
		WalletRootPriv: randomKey(),
		DeviceID:       "device",
		Clocks:         map[string]int{"device": 1},
	}
	require.NoError(t, configs.SaveBackupConfig(ctx, config))

	config.LastBackupPlainHash = randomKey()
	require.NoError(t, configs.SaveBackupConfig(ctx, config))

	got, err := configs.GetBackupConfig(ctx)
	require.NoError(t, err)
	require.Equal(t, config, got)
}

func TestTombstoneAndPurchaseRepositories(t *testing.T) {
	repo := newRepoManager(t)
	tombstones := repo.TombstoneRepository()
	purchases := repo.PurchaseRepository()

	tombstone := domain.NewTombstone(domain.TombstoneDeleteReserve, randomKey())
	require.NoError(t, tombstones.AddTombstone(ctx, tombstone))
	require.NoError(t, tombstones.AddTombstone(ctx, tombstone))

	ok, err := tombstones.HasTombstone(ctx, tombstone.ID)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = tombstones.HasTombstone(ctx, "delete-reserve:unknown")
	require.NoError(t, err)
	require.False(t, ok)

	all, err := tombstones.GetAllTombstones(ctx)
	require.NoError(t, err)
	require.Equal(t, []domain.Tombstone{tombstone}, all)

	purchase := &domain.Purchase{
		ProposalID:       "p1",
		NoncePriv:        randomKey(),
		NoncePub:         randomKey(),
		ContractTermsRaw: `{"amount":"KUDOS:1"}`,
		Paid:             true,
	}
	require.NoError(t, purchases.AddOrUpdatePurchase(ctx, purchase))

	got, err := purchases.GetPurchase(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, purchase, got)

	require.NoError(t, purchases.DeletePurchase(ctx, "p1"))
	gotAll, err := purchases.GetAllPurchases(ctx)
	require.NoError(t, err)
	require.Empty(t, gotAll)
}
