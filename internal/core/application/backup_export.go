package application

import (
	"context"
	"sort"

	log "github.com/sirupsen/logrus"
	"github.com/taler-go/walletd/internal/core/domain"
	"github.com/taler-go/walletd/pkg/canonicaljson"
	"github.com/taler-go/walletd/pkg/crock"
	"github.com/thanhpk/randstr"
)

const backupNonceSeedLen = 32

// getOrCreateBackupConfig returns the backup config of the wallet, creating
// it with a fresh root key on first use.
func (s *walletState) getOrCreateBackupConfig(
	ctx context.Context,
) (*domain.BackupConfig, error) {
	res, err := s.repo.RunTransaction(
		ctx, false, func(ctx context.Context) (interface{}, error) {
			configRepo := s.repo.BackupConfigRepository()
			cfg, err := configRepo.GetBackupConfig(ctx)
			if err != nil {
				return nil, err
			}
			if cfg != nil {
				return cfg, nil
			}

			rootKey, err := s.crypto.CreateEddsaKeyPair()
			if err != nil {
				return nil, err
			}
			deviceID := s.deviceID
			if len(deviceID) <= 0 {
				deviceID = randstr.Hex(16)
			}
			cfg = &domain.BackupConfig{
				WalletRootPub:  rootKey.Pub,
				WalletRootPriv: rootKey.Priv,
				DeviceID:       deviceID,
				Clocks:         map[string]int{deviceID: 0},
			}
			if err := configRepo.SaveBackupConfig(ctx, cfg); err != nil {
				return nil, err
			}
			log.WithField("device_id", deviceID).Info("backup config created")
			return cfg, nil
		},
	)
	if err != nil {
		return nil, err
	}
	return res.(*domain.BackupConfig), nil
}

// exportBackup takes a snapshot of the wallet. If the content changed since
// the last export, the config gets a new timestamp and nonce, which makes
// the next encrypted blob differ from the last one uploaded.
func (s *walletState) exportBackup(
	ctx context.Context,
) (*domain.WalletBackupContent, error) {
	if _, err := s.getOrCreateBackupConfig(ctx); err != nil {
		return nil, err
	}

	res, err := s.repo.RunTransaction(
		ctx, false, func(ctx context.Context) (interface{}, error) {
			cfg, err := s.repo.BackupConfigRepository().GetBackupConfig(ctx)
			if err != nil {
				return nil, err
			}
			if cfg == nil {
				return nil, ErrBackupConfigMissing
			}

			content, err := s.backupContent(ctx, cfg)
			if err != nil {
				return nil, err
			}

			plainHash, err := s.backupPlainHash(content)
			if err != nil {
				return nil, err
			}
			if plainHash == cfg.LastBackupPlainHash &&
				len(cfg.LastBackupNonce) > 0 {
				return content, nil
			}

			content.Timestamp = s.now()
			if cfg.LastBackupPlainHash, err = s.backupPlainHash(content); err != nil {
				return nil, err
			}
			nonce, err := s.crypto.RandomBytes(backupNonceSeedLen)
			if err != nil {
				return nil, err
			}
			cfg.LastBackupNonce = crock.Encode(nonce)
			cfg.LastBackupTimestamp = content.Timestamp
			if err := s.repo.BackupConfigRepository().SaveBackupConfig(
				ctx, cfg,
			); err != nil {
				return nil, err
			}
			log.Debugf("backup content changed, new hash %s", cfg.LastBackupPlainHash)
			return content, nil
		},
	)
	if err != nil {
		return nil, err
	}
	return res.(*domain.WalletBackupContent), nil
}

func (s *walletState) backupPlainHash(
	content *domain.WalletBackupContent,
) (string, error) {
	buf, err := canonicaljson.Marshal(content)
	if err != nil {
		return "", err
	}
	return s.crypto.Hash(buf), nil
}

// backupContent collects all the records of the wallet into a snapshot
// stamped with the timestamp of the last export. Every list is sorted so
// that the same records always give the same snapshot.
func (s *walletState) backupContent(
	ctx context.Context, cfg *domain.BackupConfig,
) (*domain.WalletBackupContent, error) {
	exchanges, err := s.exportExchanges(ctx)
	if err != nil {
		return nil, err
	}
	reserves, err := s.exportReserves(ctx)
	if err != nil {
		return nil, err
	}
	refreshGroups, err := s.exportRefreshGroups(ctx)
	if err != nil {
		return nil, err
	}
	purchases, err := s.exportPurchases(ctx)
	if err != nil {
		return nil, err
	}
	providers, err := s.exportBackupProviders(ctx)
	if err != nil {
		return nil, err
	}

	allTombstones, err := s.repo.TombstoneRepository().GetAllTombstones(ctx)
	if err != nil {
		return nil, err
	}
	tombstones := make([]string, 0, len(allTombstones))
	for _, t := range allTombstones {
		tombstones = append(tombstones, t.ID)
	}
	sort.Strings(tombstones)

	clocks := make(map[string]int, len(cfg.Clocks))
	for device, clock := range cfg.Clocks {
		clocks[device] = clock
	}

	return &domain.WalletBackupContent{
		SchemaID:        domain.BackupSchemaID,
		SchemaVersion:   domain.BackupSchemaVersion,
		WalletRootPub:   cfg.WalletRootPub,
		CurrentDeviceID: cfg.DeviceID,
		Clocks:          clocks,
		Timestamp:       cfg.LastBackupTimestamp,
		Exchanges:       exchanges,
		Reserves:        reserves,
		RefreshGroups:   refreshGroups,
		Purchases:       purchases,
		BackupProviders: providers,
		Tombstones:      tombstones,
	}, nil
}

func (s *walletState) exportExchanges(
	ctx context.Context,
) ([]domain.BackupExchange, error) {
	exchanges, err := s.repo.ExchangeRepository().GetAllExchanges(ctx)
	if err != nil {
		return nil, err
	}
	coins, err := s.repo.CoinRepository().GetAllCoins(ctx)
	if err != nil {
		return nil, err
	}
	coinsByDenom := make(map[string][]*domain.Coin)
	for _, c := range coins {
		key := domain.DenominationKey(c.ExchangeBaseURL, c.DenomPubHash)
		coinsByDenom[key] = append(coinsByDenom[key], c)
	}

	res := make([]domain.BackupExchange, 0, len(exchanges))
	for _, e := range exchanges {
		denoms, err := s.repo.DenominationRepository().
			GetDenominationsForExchange(ctx, e.BaseURL)
		if err != nil {
			return nil, err
		}
		sort.Slice(denoms, func(i, j int) bool {
			return denoms[i].DenomPubHash < denoms[j].DenomPubHash
		})

		backupDenoms := make([]domain.BackupDenomination, 0, len(denoms))
		for _, d := range denoms {
			denomCoins := coinsByDenom[d.Key()]
			sort.Slice(denomCoins, func(i, j int) bool {
				return denomCoins[i].CoinPub < denomCoins[j].CoinPub
			})
			backupCoins := make([]domain.BackupCoin, 0, len(denomCoins))
			for _, c := range denomCoins {
				backupCoins = append(backupCoins, exportCoin(c))
			}

			backupDenoms = append(backupDenoms, domain.BackupDenomination{
				DenomPub:            d.DenomPub,
				Value:               d.Value,
				FeeWithdraw:         d.FeeWithdraw,
				FeeDeposit:          d.FeeDeposit,
				FeeRefresh:          d.FeeRefresh,
				FeeRefund:           d.FeeRefund,
				StampStart:          d.StampStart,
				StampExpireWithdraw: d.StampExpireWithdraw,
				StampExpireDeposit:  d.StampExpireDeposit,
				StampExpireLegal:    d.StampExpireLegal,
				MasterSig:           d.MasterSig,
				IsOffered:           d.IsOffered,
				IsRevoked:           d.IsRevoked,
				Coins:               backupCoins,
			})
		}

		res = append(res, domain.BackupExchange{
			BaseURL:         e.BaseURL,
			MasterPublicKey: e.MasterPublicKey,
			Currency:        e.Currency,
			Denominations:   backupDenoms,
		})
	}
	sort.Slice(res, func(i, j int) bool { return res[i].BaseURL < res[j].BaseURL })
	return res, nil
}

func exportCoin(c *domain.Coin) domain.BackupCoin {
	source := domain.BackupCoinSource{Type: c.CoinSource.Type}
	switch c.CoinSource.Type {
	case domain.CoinSourceWithdraw:
		if w := c.CoinSource.Withdraw; w != nil {
			source.WithdrawalGroupID = w.WithdrawalGroupID
			source.ReservePub = w.ReservePub
			source.CoinIndex = w.CoinIndex
		}
	case domain.CoinSourceRefresh:
		if r := c.CoinSource.Refresh; r != nil {
			source.OldCoinPub = r.OldCoinPub
		}
	case domain.CoinSourceTip:
		if t := c.CoinSource.Tip; t != nil {
			source.WalletTipID = t.WalletTipID
			source.CoinIndex = t.CoinIndex
		}
	}
	return domain.BackupCoin{
		CoinPriv:      c.CoinPriv,
		BlindingKey:   c.BlindingKey,
		DenomSig:      c.DenomSig,
		CurrentAmount: c.CurrentAmount,
		Fresh:         c.Status == domain.CoinFresh,
		CoinSource:    source,
	}
}

func exportDenomSel(items []domain.DenomSelectionItem) []domain.BackupDenomSel {
	res := make([]domain.BackupDenomSel, 0, len(items))
	for _, item := range items {
		res = append(res, domain.BackupDenomSel{
			DenomPubHash: item.DenomPubHash,
			Count:        item.Count,
		})
	}
	return res
}

func (s *walletState) exportReserves(
	ctx context.Context,
) ([]domain.BackupReserve, error) {
	reserves, err := s.repo.ReserveRepository().GetAllReserves(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(reserves, func(i, j int) bool {
		return reserves[i].ReservePub < reserves[j].ReservePub
	})

	res := make([]domain.BackupReserve, 0, len(reserves))
	for _, r := range reserves {
		groups, err := s.repo.WithdrawalGroupRepository().
			GetWithdrawalGroupsForReserve(ctx, r.ReservePub)
		if err != nil {
			return nil, err
		}
		sort.Slice(groups, func(i, j int) bool {
			return groups[i].WithdrawalGroupID < groups[j].WithdrawalGroupID
		})
		backupGroups := make([]domain.BackupWithdrawalGroup, 0, len(groups))
		for _, g := range groups {
			backupGroups = append(backupGroups, domain.BackupWithdrawalGroup{
				WithdrawalGroupID:   g.WithdrawalGroupID,
				SecretSeed:          g.SecretSeed,
				RawWithdrawalAmount: g.RawWithdrawalAmount,
				SelectedDenoms:      exportDenomSel(g.DenomsSel.SelectedDenoms),
				TimestampCreated:    g.TimestampStart,
				TimestampFinish:     g.TimestampFinish,
			})
		}

		var bankInfo *domain.BackupReserveBankInfo
		if r.BankInfo != nil {
			bankInfo = &domain.BackupReserveBankInfo{
				StatusURL:        r.BankInfo.StatusURL,
				ExchangePaytoURI: r.BankInfo.ExchangePaytoURI,
				ConfirmURL:       r.BankInfo.ConfirmURL,
			}
		}

		res = append(res, domain.BackupReserve{
			ReservePriv:              r.ReservePriv,
			ExchangeBaseURL:          r.ExchangeBaseURL,
			InstructedAmount:         r.InstructedAmount,
			BankInfo:                 bankInfo,
			SenderWire:               r.SenderWire,
			InitialWithdrawalGroupID: r.InitialWithdrawalGroupID,
			InitialWithdrawalStarted: r.InitialWithdrawalStarted,
			InitialSelectedDenoms:    exportDenomSel(r.InitialDenomSel.SelectedDenoms),
			TimestampCreated:         r.TimestampCreated,
			WithdrawalGroups:         backupGroups,
		})
	}
	return res, nil
}

func (s *walletState) exportRefreshGroups(
	ctx context.Context,
) ([]domain.BackupRefreshGroup, error) {
	groups, err := s.repo.RefreshGroupRepository().GetAllRefreshGroups(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].RefreshGroupID < groups[j].RefreshGroupID
	})

	res := make([]domain.BackupRefreshGroup, 0, len(groups))
	for _, g := range groups {
		oldCoins := make([]domain.BackupRefreshOldCoin, 0, len(g.OldCoinPubs))
		for i, coinPub := range g.OldCoinPubs {
			oldCoin := domain.BackupRefreshOldCoin{
				CoinPub:               coinPub,
				InputAmount:           g.InputPerCoin[i],
				EstimatedOutputAmount: g.EstimatedOutputPerCoin[i],
				Finished:              g.StatusPerCoin[i] == domain.RefreshCoinFinished,
				Frozen:                g.StatusPerCoin[i] == domain.RefreshCoinFrozen,
			}
			if session := g.SessionPerCoin[i]; session != nil {
				oldCoin.RefreshSession = &domain.BackupRefreshSession{
					SessionSecretSeed: session.SessionSecretSeed,
					NewDenoms:         exportDenomSel(session.NewDenoms),
					NorevealIndex:     session.NorevealIndex,
				}
			}
			oldCoins = append(oldCoins, oldCoin)
		}

		res = append(res, domain.BackupRefreshGroup{
			RefreshGroupID:   g.RefreshGroupID,
			Reason:           g.Reason,
			OldCoins:         oldCoins,
			TimestampCreated: g.TimestampCreated,
			TimestampFinish:  g.TimestampFinished,
			Frozen:           g.Frozen,
		})
	}
	return res, nil
}

func (s *walletState) exportPurchases(
	ctx context.Context,
) ([]domain.BackupPurchase, error) {
	purchases, err := s.repo.PurchaseRepository().GetAllPurchases(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(purchases, func(i, j int) bool {
		return purchases[i].ProposalID < purchases[j].ProposalID
	})

	res := make([]domain.BackupPurchase, 0, len(purchases))
	for _, p := range purchases {
		res = append(res, domain.BackupPurchase{
			ProposalID:        p.ProposalID,
			NoncePriv:         p.NoncePriv,
			ContractTermsRaw:  p.ContractTermsRaw,
			Paid:              p.Paid,
			TimestampAccepted: p.TimestampAccepted,
		})
	}
	return res, nil
}

func (s *walletState) exportBackupProviders(
	ctx context.Context,
) ([]domain.BackupBackupProvider, error) {
	providers, err := s.repo.BackupProviderRepository().GetAllBackupProviders(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(providers, func(i, j int) bool {
		return providers[i].BaseURL < providers[j].BaseURL
	})

	res := make([]domain.BackupBackupProvider, 0, len(providers))
	for _, p := range providers {
		var terms *domain.BackupProviderTermsContent
		if p.Terms != nil {
			terms = &domain.BackupProviderTermsContent{
				SupportedProtocolVersion: p.Terms.SupportedProtocolVersion,
				AnnualFee:                p.Terms.AnnualFee,
				StorageLimitInMegabytes:  p.Terms.StorageLimitInMegabytes,
			}
		}
		proposalIDs := append([]string{}, p.PaymentProposalIDs...)
		sort.Strings(proposalIDs)
		uids := append([]string{}, p.UIDs...)
		sort.Strings(uids)

		res = append(res, domain.BackupBackupProvider{
			BaseURL:        p.BaseURL,
			Name:           p.Name,
			Terms:          terms,
			PayProposalIDs: proposalIDs,
			UIDs:           uids,
		})
	}
	return res, nil
}
