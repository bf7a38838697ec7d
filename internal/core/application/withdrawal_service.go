package application

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/taler-go/walletd/internal/core/domain"
	"github.com/taler-go/walletd/internal/core/ports"
	"golang.org/x/sync/errgroup"
)

type WithdrawalService interface {
	// ProcessWithdrawalGroup withdraws all the coins of the group that are
	// not withdrawn yet. It returns an error with code
	// WALLET_WITHDRAWAL_GROUP_INCOMPLETE if any coin is still missing
	// afterwards.
	ProcessWithdrawalGroup(ctx context.Context, groupID string, forceNow bool) error
	GetWithdrawalGroups(ctx context.Context) ([]*domain.WithdrawalGroup, error)
}

type withdrawalService struct {
	*walletState
}

func (s *withdrawalService) ProcessWithdrawalGroup(
	ctx context.Context, groupID string, forceNow bool,
) error {
	return s.coalesce("withdraw:"+groupID, func() error {
		return s.processWithdrawalGroup(ctx, groupID, forceNow)
	})
}

func (s *withdrawalService) processWithdrawalGroup(
	ctx context.Context, groupID string, forceNow bool,
) error {
	groupRepo := s.repo.WithdrawalGroupRepository()
	group, err := groupRepo.GetWithdrawalGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if group == nil || group.IsFinished() {
		return nil
	}

	if forceNow {
		if err := groupRepo.UpdateWithdrawalGroup(
			ctx, groupID,
			func(g *domain.WithdrawalGroup) (*domain.WithdrawalGroup, error) {
				g.RetryInfo = domain.NewRetryInfo(s.now())
				return g, nil
			},
		); err != nil {
			return err
		}
	} else if !group.RetryInfo.IsDue(s.now()) {
		return nil
	}

	return s.guardOperation(
		ctx, string(PendingWithdraw),
		func() error {
			return s.withdrawCoins(ctx, group)
		},
		func(ctx context.Context, detail *domain.ErrorDetail) error {
			return groupRepo.UpdateWithdrawalGroup(
				ctx, groupID,
				func(g *domain.WithdrawalGroup) (*domain.WithdrawalGroup, error) {
					g.RetryInfo = g.RetryInfo.Increment(s.now())
					g.LastError = detail
					return g, nil
				},
			)
		},
	)
}

func (s *withdrawalService) withdrawCoins(
	ctx context.Context, group *domain.WithdrawalGroup,
) error {
	reserve, err := s.repo.ReserveRepository().GetReserve(ctx, group.ReservePub)
	if err != nil {
		return err
	}
	if reserve == nil {
		log.Debugf(
			"withdrawal group %s: reserve %s is gone",
			group.WithdrawalGroupID, group.ReservePub,
		)
		return nil
	}

	denoms := make(map[string]*domain.Denomination)
	for _, sd := range group.DenomsSel.SelectedDenoms {
		denom, err := s.repo.DenominationRepository().GetDenomination(
			ctx, group.ExchangeBaseURL, sd.DenomPubHash,
		)
		if err != nil {
			return err
		}
		if denom == nil {
			return fmt.Errorf(
				"%w: %s of withdrawal group %s",
				ErrUnknownDenomination, sd.DenomPubHash, group.WithdrawalGroupID,
			)
		}
		denoms[sd.DenomPubHash] = denom
	}

	numCoins := group.DenomsSel.NumCoins()
	timeout := group.RetryInfo.RequestTimeout()

	eg := &errgroup.Group{}
	eg.SetLimit(s.maxParallelOps)
	for i := 0; i < numCoins; i++ {
		coinIndex := i
		eg.Go(func() error {
			return s.processPlanchet(
				ctx, group, reserve, denoms, coinIndex, timeout,
			)
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	planchets, err := s.repo.PlanchetRepository().
		GetPlanchetsForWithdrawalGroup(ctx, group.WithdrawalGroupID)
	if err != nil {
		return err
	}
	numDone := 0
	errorsPerCoin := make(map[string]interface{})
	for _, p := range planchets {
		if p.WithdrawalDone {
			numDone++
		} else if p.LastError != nil {
			errorsPerCoin[strconv.Itoa(p.CoinIndex)] = p.LastError
		}
	}

	if numDone < numCoins {
		return domain.NewOperationError(
			domain.CodeWithdrawalGroupIncomplete,
			fmt.Sprintf(
				"withdrawal group incomplete, %d of %d coins withdrawn",
				numDone, numCoins,
			),
			map[string]interface{}{
				"numPlanchets":  numCoins,
				"numDone":       numDone,
				"errorsPerCoin": errorsPerCoin,
			},
		)
	}

	var finished bool
	if err := s.repo.WithdrawalGroupRepository().UpdateWithdrawalGroup(
		ctx, group.WithdrawalGroupID,
		func(g *domain.WithdrawalGroup) (*domain.WithdrawalGroup, error) {
			finished = g.Finish(s.now())
			return g, nil
		},
	); err != nil {
		return err
	}
	if finished {
		log.WithFields(log.Fields{
			"withdrawal_group": group.WithdrawalGroupID,
			"coins":            numCoins,
		}).Info("withdrawal group finished")
	}
	return nil
}

// processPlanchet takes the coin with the given index through planchet
// creation, withdrawal and signature check. A failure affecting only this
// coin is stored on the planchet and is not returned.
func (s *withdrawalService) processPlanchet(
	ctx context.Context, group *domain.WithdrawalGroup,
	reserve *domain.Reserve, denoms map[string]*domain.Denomination,
	coinIndex int, timeout time.Duration,
) error {
	planchet, err := s.getOrCreatePlanchet(ctx, group, reserve, denoms, coinIndex)
	if err != nil {
		return err
	}
	if planchet.WithdrawalDone {
		return nil
	}

	var res *ports.WithdrawResponse
	err = s.withExchangeLock(group.ExchangeBaseURL, func() error {
		var err error
		res, err = s.exchange.Withdraw(
			ctx, group.ExchangeBaseURL, ports.WithdrawRequest{
				ReservePub:   planchet.ReservePub,
				ReserveSig:   planchet.WithdrawSig,
				DenomPubHash: planchet.DenomPubHash,
				CoinEv:       planchet.CoinEv,
			},
			timeout,
		)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return s.recordPlanchetError(ctx, planchet, operationError(err).Detail)
	}

	denomSig, err := s.crypto.RsaUnblind(
		res.EvSig, planchet.BlindingKey, planchet.DenomPub,
	)
	valid := false
	if err == nil {
		valid, err = s.crypto.VerifyCoinSignature(
			planchet.CoinPub, denomSig, planchet.DenomPub,
		)
	}
	if err != nil || !valid {
		details := map[string]interface{}{
			"coinIndex":         coinIndex,
			"withdrawalGroupId": group.WithdrawalGroupID,
		}
		if err != nil {
			details["error"] = err.Error()
		}
		return s.recordPlanchetError(ctx, planchet, domain.NewErrorDetail(
			domain.CodeExchangeCoinSignatureInvalid,
			"invalid signature from the exchange after unblinding",
			details,
		))
	}

	coin := &domain.Coin{
		CoinPub:         planchet.CoinPub,
		CoinPriv:        planchet.CoinPriv,
		BlindingKey:     planchet.BlindingKey,
		DenomPub:        planchet.DenomPub,
		DenomPubHash:    planchet.DenomPubHash,
		DenomSig:        denomSig,
		ExchangeBaseURL: group.ExchangeBaseURL,
		CoinEvHash:      planchet.CoinEvHash,
		CurrentAmount:   planchet.CoinValue,
		Status:          domain.CoinFresh,
		CoinSource: domain.NewWithdrawCoinSource(
			group.WithdrawalGroupID, group.ReservePub, coinIndex,
		),
	}

	_, err = s.repo.RunTransaction(
		ctx, false, func(ctx context.Context) (interface{}, error) {
			if err := s.repo.PlanchetRepository().UpdatePlanchet(
				ctx, group.WithdrawalGroupID, coinIndex,
				func(p *domain.Planchet) (*domain.Planchet, error) {
					if !p.MarkWithdrawn() {
						return nil, errPlanchetAlreadyWithdrawn
					}
					return p, nil
				},
			); err != nil {
				return nil, err
			}
			return nil, s.repo.CoinRepository().AddCoin(ctx, coin)
		},
	)
	if errors.Is(err, errPlanchetAlreadyWithdrawn) {
		return nil
	}
	if err != nil {
		return err
	}

	coinsWithdrawn.Inc()
	log.Debugf(
		"withdrawal group %s: coin %d withdrawn",
		group.WithdrawalGroupID, coinIndex,
	)
	return nil
}

func (s *withdrawalService) getOrCreatePlanchet(
	ctx context.Context, group *domain.WithdrawalGroup,
	reserve *domain.Reserve, denoms map[string]*domain.Denomination,
	coinIndex int,
) (*domain.Planchet, error) {
	planchetRepo := s.repo.PlanchetRepository()
	planchet, err := planchetRepo.GetPlanchet(
		ctx, group.WithdrawalGroupID, coinIndex,
	)
	if err != nil {
		return nil, err
	}
	if planchet != nil {
		return planchet, nil
	}

	denomPubHash, err := group.DenomPubHashForIndex(coinIndex)
	if err != nil {
		return nil, err
	}
	denom := denoms[denomPubHash]

	res, err := s.crypto.CreatePlanchet(ports.PlanchetCreationRequest{
		SecretSeed:  group.SecretSeed,
		CoinIndex:   coinIndex,
		DenomPub:    denom.DenomPub,
		Value:       denom.Value,
		FeeWithdraw: denom.FeeWithdraw,
		ReservePub:  reserve.ReservePub,
		ReservePriv: reserve.ReservePriv,
	})
	if err != nil {
		return nil, err
	}

	planchet = &domain.Planchet{
		WithdrawalGroupID: group.WithdrawalGroupID,
		CoinIndex:         coinIndex,
		CoinPub:           res.CoinPub,
		CoinPriv:          res.CoinPriv,
		BlindingKey:       res.BlindingKey,
		CoinEv:            res.CoinEv,
		CoinEvHash:        res.CoinEvHash,
		DenomPub:          denom.DenomPub,
		DenomPubHash:      denom.DenomPubHash,
		CoinValue:         denom.Value,
		ReservePub:        reserve.ReservePub,
		WithdrawSig:       res.WithdrawSig,
	}
	if err := planchetRepo.AddPlanchet(ctx, planchet); err != nil {
		if !errors.Is(err, domain.ErrRecordAlreadyExists) {
			return nil, err
		}
		// Created concurrently, the stored one wins.
		return planchetRepo.GetPlanchet(ctx, group.WithdrawalGroupID, coinIndex)
	}
	return planchet, nil
}

func (s *withdrawalService) recordPlanchetError(
	ctx context.Context, planchet *domain.Planchet, detail *domain.ErrorDetail,
) error {
	log.WithField("withdrawal_group", planchet.WithdrawalGroupID).Warnf(
		"coin %d: %s", planchet.CoinIndex, detail.Message,
	)
	return s.repo.PlanchetRepository().UpdatePlanchet(
		ctx, planchet.WithdrawalGroupID, planchet.CoinIndex,
		func(p *domain.Planchet) (*domain.Planchet, error) {
			p.LastError = detail
			return p, nil
		},
	)
}

func (s *withdrawalService) GetWithdrawalGroups(
	ctx context.Context,
) ([]*domain.WithdrawalGroup, error) {
	return s.repo.WithdrawalGroupRepository().GetAllWithdrawalGroups(ctx)
}
