package application

import (
	"context"
	"encoding/json"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/taler-go/walletd/internal/core/domain"
	"github.com/taler-go/walletd/pkg/canonicaljson"
)

func parseBackupContent(buf []byte) (*domain.WalletBackupContent, error) {
	content := &domain.WalletBackupContent{}
	if err := json.Unmarshal(buf, content); err != nil {
		return nil, err
	}
	if content.SchemaID != domain.BackupSchemaID {
		return nil, fmt.Errorf("unknown schema %q", content.SchemaID)
	}
	if content.SchemaVersion != domain.BackupSchemaVersion {
		return nil, fmt.Errorf("unsupported schema version %d", content.SchemaVersion)
	}
	return content, nil
}

// computeBackupCryptoData recomputes the public values that the snapshot
// omits because they derive from its secrets.
func (s *walletState) computeBackupCryptoData(
	content *domain.WalletBackupContent,
) (*domain.BackupCryptoData, error) {
	data := domain.NewBackupCryptoData()

	for _, e := range content.Exchanges {
		for _, d := range e.Denominations {
			denomPubHash, err := s.crypto.HashDenomPub(d.DenomPub)
			if err != nil {
				return nil, fmt.Errorf("%w: denomination of %s: %s", ErrMalformedBackup, e.BaseURL, err)
			}
			data.DenomPubToHash[d.DenomPub] = denomPubHash

			for _, c := range d.Coins {
				coinPub, err := s.crypto.EddsaGetPublic(c.CoinPriv)
				if err != nil {
					return nil, fmt.Errorf("%w: coin key: %s", ErrMalformedBackup, err)
				}
				coinEvHash, err := s.crypto.CoinEvHash(coinPub, c.BlindingKey, d.DenomPub)
				if err != nil {
					return nil, fmt.Errorf("%w: coin %s: %s", ErrMalformedBackup, coinPub, err)
				}
				data.CoinPrivToCompletedCoin[c.CoinPriv] = domain.CompletedCoin{
					CoinPub:    coinPub,
					CoinEvHash: coinEvHash,
				}
			}
		}
	}

	for _, r := range content.Reserves {
		reservePub, err := s.crypto.EddsaGetPublic(r.ReservePriv)
		if err != nil {
			return nil, fmt.Errorf("%w: reserve key: %s", ErrMalformedBackup, err)
		}
		data.ReservePrivToPub[r.ReservePriv] = reservePub
	}

	for _, p := range content.Purchases {
		noncePub, err := s.crypto.EddsaGetPublic(p.NoncePriv)
		if err != nil {
			return nil, fmt.Errorf("%w: purchase %s: %s", ErrMalformedBackup, p.ProposalID, err)
		}
		data.ProposalNoncePrivToPub[p.NoncePriv] = noncePub
		data.ProposalIDToContractTermsHash[p.ProposalID] = s.contractTermsHash(
			p.ContractTermsRaw,
		)
	}

	return data, nil
}

// contractTermsHash hashes the canonical form of the contract terms, or the
// raw terms if they are not JSON.
func (s *walletState) contractTermsHash(raw string) string {
	buf, err := canonicaljson.Canonicalize([]byte(raw))
	if err != nil {
		buf = []byte(raw)
	}
	return s.crypto.Hash(buf)
}

// importBackup merges the snapshot into the wallet. Only records unknown
// locally are added, and deleted records never come back: tombstones are
// stored first, and applied to the local records last.
func (s *walletState) importBackup(
	ctx context.Context, content *domain.WalletBackupContent,
	data *domain.BackupCryptoData,
) error {
	if _, err := s.getOrCreateBackupConfig(ctx); err != nil {
		return err
	}

	_, err := s.repo.RunTransaction(
		ctx, false, func(ctx context.Context) (interface{}, error) {
			tombstoneRepo := s.repo.TombstoneRepository()
			for _, id := range content.Tombstones {
				if err := tombstoneRepo.AddTombstone(
					ctx, domain.Tombstone{ID: id},
				); err != nil {
					return nil, err
				}
			}
			tombstones, err := tombstoneRepo.GetAllTombstones(ctx)
			if err != nil {
				return nil, err
			}
			deleted := make(map[string]bool, len(tombstones))
			for _, t := range tombstones {
				deleted[t.ID] = true
			}

			m := &backupMerge{s, data, deleted}
			if err := m.importExchanges(ctx, content.Exchanges); err != nil {
				return nil, err
			}
			if err := m.importReserves(ctx, content.Reserves); err != nil {
				return nil, err
			}
			if err := m.importRefreshGroups(ctx, content.RefreshGroups); err != nil {
				return nil, err
			}
			if err := m.importPurchases(ctx, content.Purchases); err != nil {
				return nil, err
			}
			if err := m.importBackupProviders(ctx, content.BackupProviders); err != nil {
				return nil, err
			}
			if err := m.mergeClocks(ctx, content.Clocks); err != nil {
				return nil, err
			}
			return nil, m.applyTombstones(ctx)
		},
	)
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"wallet_root_pub": content.WalletRootPub,
		"device_id":       content.CurrentDeviceID,
	}).Info("backup imported")
	return nil
}

// backupMerge holds what is needed to merge one snapshot.
type backupMerge struct {
	*walletState
	data    *domain.BackupCryptoData
	deleted map[string]bool
}

func (m *backupMerge) isDeleted(tag domain.TombstoneTag, id string) bool {
	return m.deleted[domain.NewTombstone(tag, id).ID]
}

func (m *backupMerge) importExchanges(
	ctx context.Context, exchanges []domain.BackupExchange,
) error {
	exchangeRepo := m.repo.ExchangeRepository()
	denomRepo := m.repo.DenominationRepository()
	coinRepo := m.repo.CoinRepository()
	now := m.now()

	for _, e := range exchanges {
		baseURL := domain.CanonicalizeBaseURL(e.BaseURL)
		exchange, err := exchangeRepo.GetExchange(ctx, baseURL)
		if err != nil {
			return err
		}
		if exchange == nil {
			// Never updated, keys are fetched on the next update.
			if err := exchangeRepo.AddOrUpdateExchange(ctx, &domain.Exchange{
				BaseURL:          baseURL,
				MasterPublicKey:  e.MasterPublicKey,
				Currency:         e.Currency,
				NextRefreshCheck: now,
				RetryInfo:        domain.NewRetryInfo(now),
			}); err != nil {
				return err
			}
		}

		for _, d := range e.Denominations {
			denomPubHash, ok := m.data.DenomPubToHash[d.DenomPub]
			if !ok {
				return fmt.Errorf(
					"%w: no hash for denomination of %s", domain.ErrInvariantViolated, baseURL,
				)
			}
			denom, err := denomRepo.GetDenomination(ctx, baseURL, denomPubHash)
			if err != nil {
				return err
			}
			if denom == nil {
				if err := denomRepo.AddOrUpdateDenomination(ctx, &domain.Denomination{
					ExchangeBaseURL:     baseURL,
					DenomPub:            d.DenomPub,
					DenomPubHash:        denomPubHash,
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
					// Coins were issued against it by the wallet that made
					// the backup.
					VerificationStatus: domain.DenominationVerifiedGood,
				}); err != nil {
					return err
				}
			}

			for _, c := range d.Coins {
				completed, ok := m.data.CoinPrivToCompletedCoin[c.CoinPriv]
				if !ok {
					return fmt.Errorf(
						"%w: no public key for coin of %s", domain.ErrInvariantViolated, baseURL,
					)
				}
				coin, err := coinRepo.GetCoin(ctx, completed.CoinPub)
				if err != nil {
					return err
				}
				if coin != nil {
					continue
				}
				status := domain.CoinDormant
				if c.Fresh {
					status = domain.CoinFresh
				}
				if err := coinRepo.AddCoin(ctx, &domain.Coin{
					CoinPub:         completed.CoinPub,
					CoinPriv:        c.CoinPriv,
					BlindingKey:     c.BlindingKey,
					DenomPub:        d.DenomPub,
					DenomPubHash:    denomPubHash,
					DenomSig:        c.DenomSig,
					ExchangeBaseURL: baseURL,
					CoinEvHash:      completed.CoinEvHash,
					CurrentAmount:   c.CurrentAmount,
					Status:          status,
					CoinSource:      importCoinSource(c.CoinSource),
				}); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func importCoinSource(src domain.BackupCoinSource) domain.CoinSource {
	switch src.Type {
	case domain.CoinSourceRefresh:
		return domain.NewRefreshCoinSource(src.OldCoinPub)
	case domain.CoinSourceTip:
		return domain.NewTipCoinSource(src.WalletTipID, src.CoinIndex)
	default:
		return domain.NewWithdrawCoinSource(
			src.WithdrawalGroupID, src.ReservePub, src.CoinIndex,
		)
	}
}

// denomSelState rebuilds a stored selection, totals included, from the
// denominations it references.
func (m *backupMerge) denomSelState(
	ctx context.Context, exchangeBaseURL, currency string,
	items []domain.BackupDenomSel,
) (domain.DenomSelectionState, error) {
	state := domain.DenomSelectionState{
		SelectedDenoms:    make([]domain.DenomSelectionItem, 0, len(items)),
		TotalCoinValue:    domain.ZeroAmount(currency),
		TotalWithdrawCost: domain.ZeroAmount(currency),
	}
	for _, item := range items {
		denom, err := m.getDenomination(ctx, exchangeBaseURL, item.DenomPubHash)
		if err != nil {
			return domain.DenomSelectionState{}, err
		}
		if state.TotalCoinValue, err = state.TotalCoinValue.Add(
			denom.Value.Mul(item.Count),
		); err != nil {
			return domain.DenomSelectionState{}, err
		}
		if state.TotalWithdrawCost, err = state.TotalWithdrawCost.Add(
			denom.WithdrawCost().Mul(item.Count),
		); err != nil {
			return domain.DenomSelectionState{}, err
		}
		state.SelectedDenoms = append(state.SelectedDenoms, domain.DenomSelectionItem{
			DenomPubHash: item.DenomPubHash,
			Count:        item.Count,
		})
	}
	return state, nil
}

func (m *backupMerge) importReserves(
	ctx context.Context, reserves []domain.BackupReserve,
) error {
	reserveRepo := m.repo.ReserveRepository()
	groupRepo := m.repo.WithdrawalGroupRepository()
	now := m.now()

	for _, r := range reserves {
		reservePub, ok := m.data.ReservePrivToPub[r.ReservePriv]
		if !ok {
			return fmt.Errorf(
				"%w: no public key for reserve", domain.ErrInvariantViolated,
			)
		}
		if m.isDeleted(domain.TombstoneDeleteReserve, reservePub) {
			continue
		}
		baseURL := domain.CanonicalizeBaseURL(r.ExchangeBaseURL)
		currency := r.InstructedAmount.Currency

		reserve, err := reserveRepo.GetReserve(ctx, reservePub)
		if err != nil {
			return err
		}
		if reserve == nil {
			initialSel, err := m.denomSelState(
				ctx, baseURL, currency, r.InitialSelectedDenoms,
			)
			if err != nil {
				return err
			}
			reserve = &domain.Reserve{
				ReservePub:               reservePub,
				ReservePriv:              r.ReservePriv,
				ExchangeBaseURL:          baseURL,
				Currency:                 currency,
				InstructedAmount:         r.InstructedAmount,
				ReserveStatus:            domain.ReserveQueryingStatus,
				SenderWire:               r.SenderWire,
				InitialWithdrawalGroupID: r.InitialWithdrawalGroupID,
				InitialWithdrawalStarted: r.InitialWithdrawalStarted ||
					len(r.WithdrawalGroups) > 0,
				InitialDenomSel:  initialSel,
				TimestampCreated: r.TimestampCreated,
				RetryInfo:        domain.NewRetryInfo(now),
			}
			if r.BankInfo != nil {
				reserve.BankInfo = &domain.ReserveBankInfo{
					StatusURL:        r.BankInfo.StatusURL,
					ExchangePaytoURI: r.BankInfo.ExchangePaytoURI,
					ConfirmURL:       r.BankInfo.ConfirmURL,
				}
				reserve.BankStatusURL = r.BankInfo.StatusURL
			}
			if err := reserveRepo.AddReserve(ctx, reserve); err != nil {
				return err
			}
		}

		for _, g := range r.WithdrawalGroups {
			if m.isDeleted(domain.TombstoneDeleteWithdrawalGroup, g.WithdrawalGroupID) {
				continue
			}
			group, err := groupRepo.GetWithdrawalGroup(ctx, g.WithdrawalGroupID)
			if err != nil {
				return err
			}
			if group != nil {
				continue
			}
			sel, err := m.denomSelState(ctx, baseURL, currency, g.SelectedDenoms)
			if err != nil {
				return err
			}
			retryInfo := domain.NewRetryInfo(now)
			if !g.TimestampFinish.IsZero() {
				retryInfo.Active = false
			}
			if err := groupRepo.AddWithdrawalGroup(ctx, &domain.WithdrawalGroup{
				WithdrawalGroupID:   g.WithdrawalGroupID,
				ExchangeBaseURL:     baseURL,
				ReservePub:          reservePub,
				RawWithdrawalAmount: g.RawWithdrawalAmount,
				DenomsSel:           sel,
				SecretSeed:          g.SecretSeed,
				TimestampStart:      g.TimestampCreated,
				TimestampFinish:     g.TimestampFinish,
				RetryInfo:           retryInfo,
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *backupMerge) importRefreshGroups(
	ctx context.Context, groups []domain.BackupRefreshGroup,
) error {
	groupRepo := m.repo.RefreshGroupRepository()
	now := m.now()

	for _, g := range groups {
		if m.isDeleted(domain.TombstoneDeleteRefreshGroup, g.RefreshGroupID) {
			continue
		}
		group, err := groupRepo.GetRefreshGroup(ctx, g.RefreshGroupID)
		if err != nil {
			return err
		}
		if group != nil {
			continue
		}

		n := len(g.OldCoins)
		group = &domain.RefreshGroup{
			RefreshGroupID:         g.RefreshGroupID,
			Reason:                 g.Reason,
			OldCoinPubs:            make([]string, 0, n),
			InputPerCoin:           make([]domain.Amount, 0, n),
			EstimatedOutputPerCoin: make([]domain.Amount, 0, n),
			StatusPerCoin:          make([]domain.RefreshCoinStatus, 0, n),
			SessionPerCoin:         make([]*domain.RefreshSession, 0, n),
			LastErrorPerCoin:       make(map[int]*domain.ErrorDetail),
			Frozen:                 g.Frozen,
			TimestampCreated:       g.TimestampCreated,
			TimestampFinished:      g.TimestampFinish,
			RetryInfo:              domain.NewRetryInfo(now),
		}
		for _, c := range g.OldCoins {
			status := domain.RefreshCoinPending
			if c.Frozen {
				status = domain.RefreshCoinFrozen
			} else if c.Finished {
				status = domain.RefreshCoinFinished
			}

			var session *domain.RefreshSession
			if c.RefreshSession != nil {
				coin, err := m.repo.CoinRepository().GetCoin(ctx, c.CoinPub)
				if err != nil {
					return err
				}
				if coin != nil {
					sel, err := m.denomSelState(
						ctx, coin.ExchangeBaseURL, c.InputAmount.Currency,
						c.RefreshSession.NewDenoms,
					)
					if err != nil {
						return err
					}
					session = &domain.RefreshSession{
						SessionSecretSeed:   c.RefreshSession.SessionSecretSeed,
						NewDenoms:           sel.SelectedDenoms,
						AmountRefreshOutput: sel.TotalCoinValue,
						NorevealIndex:       c.RefreshSession.NorevealIndex,
					}
				} else {
					// A new session is started if the coin shows up later.
					log.Warnf(
						"refresh group %s: old coin %s not in backup, dropping its session",
						g.RefreshGroupID, c.CoinPub,
					)
				}
			}

			group.OldCoinPubs = append(group.OldCoinPubs, c.CoinPub)
			group.InputPerCoin = append(group.InputPerCoin, c.InputAmount)
			group.EstimatedOutputPerCoin = append(
				group.EstimatedOutputPerCoin, c.EstimatedOutputAmount,
			)
			group.StatusPerCoin = append(group.StatusPerCoin, status)
			group.SessionPerCoin = append(group.SessionPerCoin, session)
		}
		if group.IsFinished() {
			group.RetryInfo.Active = false
		}

		if err := groupRepo.AddRefreshGroup(ctx, group); err != nil {
			return err
		}
	}
	return nil
}

func (m *backupMerge) importPurchases(
	ctx context.Context, purchases []domain.BackupPurchase,
) error {
	purchaseRepo := m.repo.PurchaseRepository()
	for _, p := range purchases {
		if m.isDeleted(domain.TombstoneDeletePurchase, p.ProposalID) {
			continue
		}
		purchase, err := purchaseRepo.GetPurchase(ctx, p.ProposalID)
		if err != nil {
			return err
		}
		if purchase != nil {
			continue
		}
		if err := purchaseRepo.AddOrUpdatePurchase(ctx, &domain.Purchase{
			ProposalID:        p.ProposalID,
			NoncePriv:         p.NoncePriv,
			NoncePub:          m.data.ProposalNoncePrivToPub[p.NoncePriv],
			ContractTermsRaw:  p.ContractTermsRaw,
			ContractTermsHash: m.data.ProposalIDToContractTermsHash[p.ProposalID],
			Paid:              p.Paid,
			TimestampAccepted: p.TimestampAccepted,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (m *backupMerge) importBackupProviders(
	ctx context.Context, providers []domain.BackupBackupProvider,
) error {
	providerRepo := m.repo.BackupProviderRepository()
	now := m.now()
	for _, p := range providers {
		baseURL := domain.CanonicalizeBaseURL(p.BaseURL)
		provider, err := providerRepo.GetBackupProvider(ctx, baseURL)
		if err != nil {
			return err
		}
		if provider != nil {
			continue
		}

		var terms *domain.BackupProviderTerms
		if p.Terms != nil {
			terms = &domain.BackupProviderTerms{
				SupportedProtocolVersion: p.Terms.SupportedProtocolVersion,
				AnnualFee:                p.Terms.AnnualFee,
				StorageLimitInMegabytes:  p.Terms.StorageLimitInMegabytes,
			}
		}
		provider = &domain.BackupProvider{
			BaseURL:            baseURL,
			Name:               p.Name,
			Terms:              terms,
			State:              domain.NewReadyBackupState(now),
			PaymentProposalIDs: append([]string{}, p.PayProposalIDs...),
			UIDs:               append([]string{}, p.UIDs...),
		}
		if n := len(provider.PaymentProposalIDs); n > 0 {
			provider.CurrentPaymentProposalID = provider.PaymentProposalIDs[n-1]
		}
		if err := providerRepo.AddOrUpdateBackupProvider(ctx, provider); err != nil {
			return err
		}
	}
	return nil
}

// mergeClocks keeps, for every device, the highest clock known.
func (m *backupMerge) mergeClocks(
	ctx context.Context, clocks map[string]int,
) error {
	configRepo := m.repo.BackupConfigRepository()
	cfg, err := configRepo.GetBackupConfig(ctx)
	if err != nil {
		return err
	}
	if cfg == nil {
		return ErrBackupConfigMissing
	}
	if cfg.Clocks == nil {
		cfg.Clocks = make(map[string]int)
	}
	changed := false
	for device, clock := range clocks {
		if current, ok := cfg.Clocks[device]; !ok || clock > current {
			cfg.Clocks[device] = clock
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return configRepo.SaveBackupConfig(ctx, cfg)
}

func (m *backupMerge) applyTombstones(ctx context.Context) error {
	for id := range m.deleted {
		tag, entityID, ok := domain.ParseTombstone(id)
		if !ok {
			log.Warnf("skipping malformed tombstone %q", id)
			continue
		}

		var err error
		switch tag {
		case domain.TombstoneDeleteReserve:
			err = m.repo.ReserveRepository().DeleteReserve(ctx, entityID)
		case domain.TombstoneDeleteWithdrawalGroup:
			if err = m.repo.WithdrawalGroupRepository().DeleteWithdrawalGroup(
				ctx, entityID,
			); err == nil {
				err = m.repo.PlanchetRepository().
					DeletePlanchetsForWithdrawalGroup(ctx, entityID)
			}
		case domain.TombstoneDeleteRefreshGroup:
			err = m.repo.RefreshGroupRepository().DeleteRefreshGroup(ctx, entityID)
		case domain.TombstoneDeletePurchase:
			err = m.repo.PurchaseRepository().DeletePurchase(ctx, entityID)
		default:
			log.Warnf("skipping tombstone of unknown type %q", tag)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
