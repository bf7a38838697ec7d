package application

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/taler-go/walletd/internal/core/domain"
	"github.com/taler-go/walletd/internal/core/ports"
	"github.com/taler-go/walletd/pkg/crock"
	"golang.org/x/sync/errgroup"
)

type RefreshService interface {
	// CreateRefreshGroup empties the given coins and starts refreshing them
	// in background. It joins the transaction carried by ctx, if any.
	CreateRefreshGroup(
		ctx context.Context, oldCoinPubs []string, reason domain.RefreshReason,
	) (string, error)
	ProcessRefreshGroup(ctx context.Context, groupID string, forceNow bool) error
	// AutoRefresh refreshes the coins of the exchange that are about to
	// expire and schedules the next check.
	AutoRefresh(ctx context.Context, exchangeBaseURL string) error
	GetRefreshGroups(ctx context.Context) ([]*domain.RefreshGroup, error)
}

type refreshService struct {
	*walletState
}

func (s *refreshService) CreateRefreshGroup(
	ctx context.Context, oldCoinPubs []string, reason domain.RefreshReason,
) (string, error) {
	groupID := uuid.New().String()
	if _, err := s.repo.RunTransaction(
		ctx, false, func(ctx context.Context) (interface{}, error) {
			return nil, s.createRefreshGroup(ctx, groupID, oldCoinPubs, reason)
		},
	); err != nil {
		return "", err
	}

	s.processInBackground(groupID)
	return groupID, nil
}

func (s *refreshService) processInBackground(groupID string) {
	s.runInBackground("process refresh group", func(ctx context.Context) error {
		return s.ProcessRefreshGroup(ctx, groupID, false)
	})
}

func (s *refreshService) createRefreshGroup(
	ctx context.Context, groupID string, oldCoinPubs []string,
	reason domain.RefreshReason,
) error {
	coinRepo := s.repo.CoinRepository()
	now := s.now()
	denomsPerExchange := make(map[string][]domain.Denomination)

	inputPerCoin := make([]domain.Amount, 0, len(oldCoinPubs))
	estimatedOutputPerCoin := make([]domain.Amount, 0, len(oldCoinPubs))
	for _, coinPub := range oldCoinPubs {
		coin, err := coinRepo.GetCoin(ctx, coinPub)
		if err != nil {
			return err
		}
		if coin == nil {
			return fmt.Errorf("%w: %s", ErrUnknownCoin, coinPub)
		}
		denom, err := s.getDenomination(ctx, coin.ExchangeBaseURL, coin.DenomPubHash)
		if err != nil {
			return err
		}

		denoms, ok := denomsPerExchange[coin.ExchangeBaseURL]
		if !ok {
			if denoms, err = s.exchanges.GetCandidateWithdrawalDenoms(
				ctx, coin.ExchangeBaseURL,
			); err != nil {
				return err
			}
			denomsPerExchange[coin.ExchangeBaseURL] = denoms
		}

		var amountLeft domain.Amount
		if err := coinRepo.UpdateCoin(
			ctx, coinPub, func(c *domain.Coin) (*domain.Coin, error) {
				amountLeft = c.ZeroForRefresh()
				return c, nil
			},
		); err != nil {
			return err
		}

		cost := domain.GetTotalRefreshCost(denoms, *denom, amountLeft, now)
		output, _ := amountLeft.Sub(cost)
		inputPerCoin = append(inputPerCoin, amountLeft)
		estimatedOutputPerCoin = append(estimatedOutputPerCoin, output)
	}

	group := domain.NewRefreshGroup(
		groupID, reason, oldCoinPubs, inputPerCoin, estimatedOutputPerCoin, now,
	)
	if err := s.repo.RefreshGroupRepository().AddRefreshGroup(ctx, group); err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"refresh_group": groupID,
		"reason":        reason,
		"coins":         len(oldCoinPubs),
	}).Info("refresh group created")
	return nil
}

func (s *refreshService) ProcessRefreshGroup(
	ctx context.Context, groupID string, forceNow bool,
) error {
	return s.coalesce("refresh:"+groupID, func() error {
		return s.processRefreshGroup(ctx, groupID, forceNow)
	})
}

func (s *refreshService) processRefreshGroup(
	ctx context.Context, groupID string, forceNow bool,
) error {
	groupRepo := s.repo.RefreshGroupRepository()
	group, err := groupRepo.GetRefreshGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if group == nil || group.IsFinished() {
		return nil
	}

	if forceNow {
		if err := groupRepo.UpdateRefreshGroup(
			ctx, groupID,
			func(g *domain.RefreshGroup) (*domain.RefreshGroup, error) {
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
		ctx, string(PendingRefresh),
		func() error {
			return s.refreshCoins(ctx, group)
		},
		func(ctx context.Context, detail *domain.ErrorDetail) error {
			return groupRepo.UpdateRefreshGroup(
				ctx, groupID,
				func(g *domain.RefreshGroup) (*domain.RefreshGroup, error) {
					g.RetryInfo = g.RetryInfo.Increment(s.now())
					g.LastError = detail
					return g, nil
				},
			)
		},
	)
}

func (s *refreshService) refreshCoins(
	ctx context.Context, group *domain.RefreshGroup,
) error {
	eg := &errgroup.Group{}
	eg.SetLimit(s.maxParallelOps)
	for i, status := range group.StatusPerCoin {
		if status != domain.RefreshCoinPending {
			continue
		}
		coinIndex := i
		eg.Go(func() error {
			err := s.refreshCoin(ctx, group.RefreshGroupID, coinIndex)
			if err != nil && !isInvariantViolation(err) && ctx.Err() == nil {
				s.recordCoinError(
					ctx, group.RefreshGroupID, coinIndex, operationError(err).Detail,
				)
			}
			return err
		})
	}
	coinsErr := eg.Wait()

	var terminated bool
	var frozen bool
	if err := s.repo.RefreshGroupRepository().UpdateRefreshGroup(
		ctx, group.RefreshGroupID,
		func(g *domain.RefreshGroup) (*domain.RefreshGroup, error) {
			terminated = g.UpdateStatus(s.now())
			frozen = g.Frozen
			if terminated {
				g.LastError = nil
			}
			return g, nil
		},
	); err != nil {
		return err
	}
	if terminated {
		logger := log.WithField("refresh_group", group.RefreshGroupID)
		if frozen {
			logger.Warn("refresh group frozen")
		} else {
			logger.Info("refresh group finished")
		}
	}
	return coinsErr
}

// refreshCoin runs the refresh session of the old coin at the given index
// from where it was left.
func (s *refreshService) refreshCoin(
	ctx context.Context, groupID string, coinIndex int,
) error {
	group, err := s.repo.RefreshGroupRepository().GetRefreshGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if group == nil || group.StatusPerCoin[coinIndex] != domain.RefreshCoinPending {
		return nil
	}

	session := group.SessionPerCoin[coinIndex]
	if session == nil {
		if session, err = s.createRefreshSession(ctx, group, coinIndex); err != nil {
			return err
		}
		if session == nil {
			return nil
		}
	}

	if session.NorevealIndex == nil {
		frozen, err := s.refreshMelt(ctx, group, coinIndex, session)
		if err != nil || frozen {
			return err
		}
		if group, err = s.repo.RefreshGroupRepository().GetRefreshGroup(
			ctx, groupID,
		); err != nil {
			return err
		}
		if group == nil {
			return nil
		}
		session = group.SessionPerCoin[coinIndex]
	}

	return s.refreshReveal(ctx, group, coinIndex, session)
}

// createRefreshSession selects the new coins for the old coin at the given
// index. If the value left is too low for any new coin, the old coin is
// marked finished and no session is returned.
func (s *refreshService) createRefreshSession(
	ctx context.Context, group *domain.RefreshGroup, coinIndex int,
) (*domain.RefreshSession, error) {
	oldCoin, oldDenom, err := s.getCoinAndDenomination(
		ctx, group.OldCoinPubs[coinIndex],
	)
	if err != nil {
		return nil, err
	}
	denoms, err := s.exchanges.GetCandidateWithdrawalDenoms(
		ctx, oldCoin.ExchangeBaseURL,
	)
	if err != nil {
		return nil, err
	}

	available, _ := group.InputPerCoin[coinIndex].Sub(oldDenom.FeeRefresh)
	sel := domain.SelectWithdrawalDenominations(available, denoms, s.now())

	groupRepo := s.repo.RefreshGroupRepository()
	if sel.NumCoins() <= 0 {
		log.WithFields(log.Fields{
			"refresh_group": group.RefreshGroupID,
			"coin":          oldCoin.CoinPub,
			"amount":        group.InputPerCoin[coinIndex].String(),
		}).Info("refresh unwarranted")
		return nil, groupRepo.UpdateRefreshGroup(
			ctx, group.RefreshGroupID,
			func(g *domain.RefreshGroup) (*domain.RefreshGroup, error) {
				if err := g.FinishCoin(coinIndex); err != nil {
					return nil, err
				}
				return g, nil
			},
		)
	}

	seed, err := s.crypto.RandomBytes(64)
	if err != nil {
		return nil, err
	}
	var session *domain.RefreshSession
	if err := groupRepo.UpdateRefreshGroup(
		ctx, group.RefreshGroupID,
		func(g *domain.RefreshGroup) (*domain.RefreshGroup, error) {
			if g.SessionPerCoin[coinIndex] == nil {
				state := sel.ToState()
				g.SessionPerCoin[coinIndex] = &domain.RefreshSession{
					SessionSecretSeed:   crock.Encode(seed),
					NewDenoms:           state.SelectedDenoms,
					AmountRefreshOutput: state.TotalCoinValue,
				}
			}
			session = g.SessionPerCoin[coinIndex]
			return g, nil
		},
	); err != nil {
		return nil, err
	}
	return session, nil
}

// derivedSession is the refresh session of an old coin, with all the
// secrets derived from its seed.
type derivedSession struct {
	oldCoin   *domain.Coin
	oldDenom  *domain.Denomination
	newDenoms []*domain.Denomination
	derived   *ports.DerivedRefreshSession
}

func (s *refreshService) deriveSession(
	ctx context.Context, oldCoinPub string, session *domain.RefreshSession,
) (*derivedSession, error) {
	oldCoin, oldDenom, err := s.getCoinAndDenomination(ctx, oldCoinPub)
	if err != nil {
		return nil, err
	}

	newDenoms := make([]*domain.Denomination, 0, len(session.NewDenoms))
	newCoinDenoms := make([]ports.RefreshNewDenom, 0, len(session.NewDenoms))
	for _, item := range session.NewDenoms {
		denom, err := s.getDenomination(ctx, oldCoin.ExchangeBaseURL, item.DenomPubHash)
		if err != nil {
			return nil, err
		}
		newDenoms = append(newDenoms, denom)
		newCoinDenoms = append(newCoinDenoms, ports.RefreshNewDenom{
			DenomPub:    denom.DenomPub,
			Value:       denom.Value,
			FeeWithdraw: denom.FeeWithdraw,
			Count:       item.Count,
		})
	}

	derived, err := s.crypto.DeriveRefreshSession(ports.DeriveRefreshSessionRequest{
		SessionSecretSeed:    session.SessionSecretSeed,
		Kappa:                domain.Kappa,
		MeltCoinPub:          oldCoin.CoinPub,
		MeltCoinPriv:         oldCoin.CoinPriv,
		MeltCoinDenomPubHash: oldCoin.DenomPubHash,
		NewCoinDenoms:        newCoinDenoms,
		FeeRefresh:           oldDenom.FeeRefresh,
	})
	if err != nil {
		return nil, err
	}
	return &derivedSession{oldCoin, oldDenom, newDenoms, derived}, nil
}

// refreshMelt melts the old coin and stores the index chosen by the
// exchange. It returns true if the exchange refused the coin for good, in
// which case the coin is frozen.
func (s *refreshService) refreshMelt(
	ctx context.Context, group *domain.RefreshGroup, coinIndex int,
	session *domain.RefreshSession,
) (bool, error) {
	d, err := s.deriveSession(ctx, group.OldCoinPubs[coinIndex], session)
	if err != nil {
		return false, err
	}

	var res *ports.MeltResponse
	err = s.withExchangeLock(d.oldCoin.ExchangeBaseURL, func() error {
		var err error
		res, err = s.exchange.Melt(
			ctx, d.oldCoin.ExchangeBaseURL, ports.MeltRequest{
				CoinPub:      d.oldCoin.CoinPub,
				ConfirmSig:   d.derived.ConfirmSig,
				DenomPubHash: d.oldCoin.DenomPubHash,
				DenomSig:     d.oldCoin.DenomSig,
				Rc:           d.derived.Hash,
				ValueWithFee: d.derived.MeltValueWithFee,
			},
			group.RetryInfo.RequestTimeout(),
		)
		return err
	})

	groupRepo := s.repo.RefreshGroupRepository()
	if err != nil {
		if !domain.IsHTTPStatus(err, http.StatusNotFound) {
			return false, err
		}
		detail := operationError(err).Detail
		log.WithFields(log.Fields{
			"refresh_group": group.RefreshGroupID,
			"coin":          d.oldCoin.CoinPub,
		}).Warn("coin refused by exchange on melt, freezing it")
		return true, groupRepo.UpdateRefreshGroup(
			ctx, group.RefreshGroupID,
			func(g *domain.RefreshGroup) (*domain.RefreshGroup, error) {
				if err := g.FreezeCoin(coinIndex, detail); err != nil {
					return nil, err
				}
				return g, nil
			},
		)
	}

	if res.NorevealIndex < 0 || res.NorevealIndex >= domain.Kappa {
		return false, domain.NewOperationError(
			domain.CodeReceivedMalformedResponse,
			fmt.Sprintf("invalid noreveal index %d", res.NorevealIndex),
			map[string]interface{}{"coinPub": d.oldCoin.CoinPub},
		)
	}

	norevealIndex := res.NorevealIndex
	return false, groupRepo.UpdateRefreshGroup(
		ctx, group.RefreshGroupID,
		func(g *domain.RefreshGroup) (*domain.RefreshGroup, error) {
			if g.SessionPerCoin[coinIndex] != nil &&
				g.SessionPerCoin[coinIndex].NorevealIndex == nil {
				g.SessionPerCoin[coinIndex].NorevealIndex = &norevealIndex
			}
			return g, nil
		},
	)
}

// refreshReveal discloses all the transfer keys but the one chosen by the
// exchange and stores the new coins.
func (s *refreshService) refreshReveal(
	ctx context.Context, group *domain.RefreshGroup, coinIndex int,
	session *domain.RefreshSession,
) error {
	d, err := s.deriveSession(ctx, group.OldCoinPubs[coinIndex], session)
	if err != nil {
		return err
	}
	norevealIndex := *session.NorevealIndex

	transferPrivs := make([]string, 0, domain.Kappa-1)
	for i, priv := range d.derived.TransferPrivs {
		if i != norevealIndex {
			transferPrivs = append(transferPrivs, priv)
		}
	}
	transferPub := d.derived.TransferPubs[norevealIndex]
	planchets := d.derived.PlanchetsForGammas[norevealIndex]

	// One entry per new coin, in the order of the planchets.
	newCoinDenoms := make([]*domain.Denomination, 0, len(planchets))
	for j, item := range session.NewDenoms {
		for k := 0; k < item.Count; k++ {
			newCoinDenoms = append(newCoinDenoms, d.newDenoms[j])
		}
	}

	req := ports.RevealRequest{
		Rc:            d.derived.Hash,
		TransferPub:   transferPub,
		TransferPrivs: transferPrivs,
		CoinEvs:       make([]string, 0, len(planchets)),
		NewDenomsH:    make([]string, 0, len(planchets)),
		LinkSigs:      make([]string, 0, len(planchets)),
	}
	for j, p := range planchets {
		denomPubHash := newCoinDenoms[j].DenomPubHash
		linkSig, err := s.crypto.SignCoinLink(
			d.oldCoin.CoinPriv, denomPubHash, d.oldCoin.CoinPub, transferPub,
			p.CoinEv,
		)
		if err != nil {
			return err
		}
		req.CoinEvs = append(req.CoinEvs, p.CoinEv)
		req.NewDenomsH = append(req.NewDenomsH, denomPubHash)
		req.LinkSigs = append(req.LinkSigs, linkSig)
	}

	var res *ports.RevealResponse
	if err := s.withExchangeLock(d.oldCoin.ExchangeBaseURL, func() error {
		var err error
		res, err = s.exchange.Reveal(
			ctx, d.oldCoin.ExchangeBaseURL, req, group.RetryInfo.RequestTimeout(),
		)
		return err
	}); err != nil {
		return err
	}
	if len(res.EvSigs) != len(planchets) {
		return domain.NewOperationError(
			domain.CodeReceivedMalformedResponse,
			fmt.Sprintf(
				"expected %d signatures on reveal, got %d",
				len(planchets), len(res.EvSigs),
			),
			map[string]interface{}{"coinPub": d.oldCoin.CoinPub},
		)
	}

	coins := make([]*domain.Coin, 0, len(planchets))
	for j, p := range planchets {
		denom := newCoinDenoms[j]
		denomSig, err := s.crypto.RsaUnblind(
			res.EvSigs[j].EvSig, p.BlindingKey, denom.DenomPub,
		)
		valid := false
		if err == nil {
			valid, err = s.crypto.VerifyCoinSignature(
				p.CoinPub, denomSig, denom.DenomPub,
			)
		}
		if err != nil || !valid {
			return domain.NewOperationError(
				domain.CodeExchangeCoinSignatureInvalid,
				"invalid signature from the exchange on reveal",
				map[string]interface{}{
					"coinPub":        d.oldCoin.CoinPub,
					"newCoinIndex":   j,
					"refreshGroupId": group.RefreshGroupID,
				},
			)
		}
		coins = append(coins, &domain.Coin{
			CoinPub:         p.CoinPub,
			CoinPriv:        p.CoinPriv,
			BlindingKey:     p.BlindingKey,
			DenomPub:        denom.DenomPub,
			DenomPubHash:    denom.DenomPubHash,
			DenomSig:        denomSig,
			ExchangeBaseURL: d.oldCoin.ExchangeBaseURL,
			CoinEvHash:      p.CoinEvHash,
			CurrentAmount:   denom.Value,
			Status:          domain.CoinFresh,
			CoinSource:      domain.NewRefreshCoinSource(d.oldCoin.CoinPub),
		})
	}

	res2, err := s.repo.RunTransaction(
		ctx, false, func(ctx context.Context) (interface{}, error) {
			stored, err := s.repo.RefreshGroupRepository().GetRefreshGroup(
				ctx, group.RefreshGroupID,
			)
			if err != nil {
				return nil, err
			}
			if stored == nil ||
				stored.StatusPerCoin[coinIndex] != domain.RefreshCoinPending {
				return false, nil
			}
			for _, c := range coins {
				if err := s.repo.CoinRepository().AddCoin(ctx, c); err != nil &&
					!errors.Is(err, domain.ErrRecordAlreadyExists) {
					return nil, err
				}
			}
			return true, s.repo.RefreshGroupRepository().UpdateRefreshGroup(
				ctx, group.RefreshGroupID,
				func(g *domain.RefreshGroup) (*domain.RefreshGroup, error) {
					if err := g.FinishCoin(coinIndex); err != nil {
						return nil, err
					}
					delete(g.LastErrorPerCoin, coinIndex)
					return g, nil
				},
			)
		},
	)
	if err != nil {
		return err
	}
	if stored, _ := res2.(bool); stored {
		coinsRefreshed.Add(float64(len(coins)))
		log.WithFields(log.Fields{
			"refresh_group": group.RefreshGroupID,
			"coin":          d.oldCoin.CoinPub,
			"new_coins":     len(coins),
		}).Debug("coin refreshed")
	}
	return nil
}

func (s *refreshService) recordCoinError(
	ctx context.Context, groupID string, coinIndex int,
	detail *domain.ErrorDetail,
) {
	if err := s.repo.RefreshGroupRepository().UpdateRefreshGroup(
		ctx, groupID,
		func(g *domain.RefreshGroup) (*domain.RefreshGroup, error) {
			if g.LastErrorPerCoin == nil {
				g.LastErrorPerCoin = make(map[int]*domain.ErrorDetail)
			}
			g.LastErrorPerCoin[coinIndex] = detail
			return g, nil
		},
	); err != nil {
		log.WithError(err).Warnf(
			"refresh group %s: failed to record error of coin %d",
			groupID, coinIndex,
		)
	}
}

func (s *refreshService) AutoRefresh(
	ctx context.Context, exchangeBaseURL string,
) error {
	exchangeBaseURL = domain.CanonicalizeBaseURL(exchangeBaseURL)
	groupID := uuid.New().String()

	res, err := s.repo.RunTransaction(
		ctx, false, func(ctx context.Context) (interface{}, error) {
			exchange, err := s.repo.ExchangeRepository().GetExchange(
				ctx, exchangeBaseURL,
			)
			if err != nil || exchange == nil {
				return false, err
			}
			coins, err := s.repo.CoinRepository().GetCoinsForExchange(
				ctx, exchangeBaseURL,
			)
			if err != nil {
				return false, err
			}

			now := s.now()
			nextCheck := now.Add(domain.AutoRefreshMaxCheckDelay)
			toRefresh := make([]string, 0)
			for _, c := range coins {
				if c.Status != domain.CoinFresh || c.Suspended ||
					c.CurrentAmount.IsZero() {
					continue
				}
				denom, err := s.repo.DenominationRepository().GetDenomination(
					ctx, exchangeBaseURL, c.DenomPubHash,
				)
				if err != nil {
					return false, err
				}
				if denom == nil {
					log.Warnf("coin %s: unknown denomination", c.CoinPub)
					continue
				}
				execute, check := denom.AutoRefreshThresholds()
				if !now.Before(execute) {
					toRefresh = append(toRefresh, c.CoinPub)
					continue
				}
				if check.Before(nextCheck) {
					nextCheck = check
				}
			}

			if len(toRefresh) > 0 {
				if err := s.createRefreshGroup(
					ctx, groupID, toRefresh, domain.RefreshReasonScheduled,
				); err != nil {
					return false, err
				}
			}

			if err := s.repo.ExchangeRepository().UpdateExchange(
				ctx, exchangeBaseURL,
				func(e *domain.Exchange) (*domain.Exchange, error) {
					e.NextRefreshCheck = nextCheck
					return e, nil
				},
			); err != nil {
				return false, err
			}
			return len(toRefresh) > 0, nil
		},
	)
	if err != nil {
		return err
	}

	if created, _ := res.(bool); created {
		s.processInBackground(groupID)
	}
	return nil
}

func (s *refreshService) GetRefreshGroups(
	ctx context.Context,
) ([]*domain.RefreshGroup, error) {
	return s.repo.RefreshGroupRepository().GetAllRefreshGroups(ctx)
}

func (s *walletState) getDenomination(
	ctx context.Context, exchangeBaseURL, denomPubHash string,
) (*domain.Denomination, error) {
	denom, err := s.repo.DenominationRepository().GetDenomination(
		ctx, exchangeBaseURL, denomPubHash,
	)
	if err != nil {
		return nil, err
	}
	if denom == nil {
		return nil, fmt.Errorf(
			"%w: %s at %s", ErrUnknownDenomination, denomPubHash, exchangeBaseURL,
		)
	}
	return denom, nil
}

func (s *walletState) getCoinAndDenomination(
	ctx context.Context, coinPub string,
) (*domain.Coin, *domain.Denomination, error) {
	coin, err := s.repo.CoinRepository().GetCoin(ctx, coinPub)
	if err != nil {
		return nil, nil, err
	}
	if coin == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownCoin, coinPub)
	}
	denom, err := s.getDenomination(ctx, coin.ExchangeBaseURL, coin.DenomPubHash)
	if err != nil {
		return nil, nil, err
	}
	return coin, denom, nil
}
