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
)

type CreateReserveRequest struct {
	Amount          domain.Amount
	ExchangeBaseURL string
	SenderWire      string
	// BankWithdrawStatusURL and ExchangePaytoURI are set for withdrawals
	// started at a bank.
	BankWithdrawStatusURL string
	ExchangePaytoURI      string
}

type CreateReserveResponse struct {
	ReservePub      string
	ExchangeBaseURL string
}

type AcceptWithdrawalResponse struct {
	ReservePub         string
	ConfirmTransferURL string
}

type ReserveService interface {
	CreateReserve(
		ctx context.Context, req CreateReserveRequest,
	) (*CreateReserveResponse, error)
	// ProcessReserve advances the reserve by one step of its lifecycle. It's
	// a no-op if the reserve is waiting for its next retry, unless forceNow.
	ProcessReserve(ctx context.Context, reservePub string, forceNow bool) error
	ForceQueryReserve(ctx context.Context, reservePub string) error
	DeleteReserve(ctx context.Context, reservePub string) error
	// AcceptBankIntegratedWithdrawal creates a reserve for the withdrawal
	// operation of the given taler://withdraw URI and registers it with the
	// bank.
	AcceptBankIntegratedWithdrawal(
		ctx context.Context, talerWithdrawURI, exchangeBaseURL string,
	) (*AcceptWithdrawalResponse, error)
	GetReserves(ctx context.Context) ([]*domain.Reserve, error)
}

type reserveService struct {
	*walletState
}

func (s *reserveService) CreateReserve(
	ctx context.Context, req CreateReserveRequest,
) (*CreateReserveResponse, error) {
	exchangeBaseURL := domain.CanonicalizeBaseURL(req.ExchangeBaseURL)
	reserveRepo := s.repo.ReserveRepository()

	if len(req.BankWithdrawStatusURL) > 0 {
		reserve, err := reserveRepo.GetReserveByBankStatusURL(
			ctx, req.BankWithdrawStatusURL,
		)
		if err != nil {
			return nil, err
		}
		if reserve != nil {
			return &CreateReserveResponse{
				ReservePub:      reserve.ReservePub,
				ExchangeBaseURL: reserve.ExchangeBaseURL,
			}, nil
		}
	}

	keys, err := s.crypto.CreateEddsaKeyPair()
	if err != nil {
		return nil, err
	}
	if _, err := s.exchanges.UpdateExchangeFromURL(
		ctx, exchangeBaseURL, false,
	); err != nil {
		return nil, err
	}
	denoms, err := s.exchanges.GetCandidateWithdrawalDenoms(ctx, exchangeBaseURL)
	if err != nil {
		return nil, err
	}

	now := s.now()
	sel := domain.SelectWithdrawalDenominations(req.Amount, denoms, now)

	var bankInfo *domain.ReserveBankInfo
	if len(req.BankWithdrawStatusURL) > 0 {
		bankInfo = &domain.ReserveBankInfo{
			StatusURL:        req.BankWithdrawStatusURL,
			ExchangePaytoURI: req.ExchangePaytoURI,
		}
	}
	reserve := domain.NewReserve(
		keys.Pub, keys.Priv, exchangeBaseURL, req.Amount, bankInfo,
		req.SenderWire, uuid.New().String(), sel.ToState(), now,
	)

	res, err := s.repo.RunTransaction(
		ctx, false, func(ctx context.Context) (interface{}, error) {
			if bankInfo != nil {
				existing, err := reserveRepo.GetReserveByBankStatusURL(
					ctx, bankInfo.StatusURL,
				)
				if err != nil {
					return nil, err
				}
				if existing != nil {
					return existing, nil
				}
			}
			if err := reserveRepo.AddReserve(ctx, reserve); err != nil {
				return nil, err
			}
			return reserve, nil
		},
	)
	if err != nil {
		return nil, err
	}
	stored := res.(*domain.Reserve)

	if stored.ReservePub == reserve.ReservePub {
		reservesCreated.Inc()
		log.WithFields(log.Fields{
			"reserve":  reserve.ReservePub,
			"exchange": exchangeBaseURL,
			"amount":   req.Amount.String(),
		}).Info("reserve created")

		s.runInBackground("process reserve", func(ctx context.Context) error {
			return s.ProcessReserve(ctx, reserve.ReservePub, false)
		})
	}

	return &CreateReserveResponse{
		ReservePub:      stored.ReservePub,
		ExchangeBaseURL: stored.ExchangeBaseURL,
	}, nil
}

func (s *reserveService) ProcessReserve(
	ctx context.Context, reservePub string, forceNow bool,
) error {
	return s.coalesce("reserve:"+reservePub, func() error {
		return s.processReserve(ctx, reservePub, forceNow)
	})
}

func (s *reserveService) processReserve(
	ctx context.Context, reservePub string, forceNow bool,
) error {
	reserveRepo := s.repo.ReserveRepository()
	reserve, err := reserveRepo.GetReserve(ctx, reservePub)
	if err != nil {
		return err
	}
	if reserve == nil {
		return nil
	}

	if forceNow {
		if err := reserveRepo.UpdateReserve(
			ctx, reservePub,
			func(r *domain.Reserve) (*domain.Reserve, error) {
				r.RetryInfo = domain.NewRetryInfo(s.now())
				return r, nil
			},
		); err != nil {
			return err
		}
	} else if !reserve.RetryInfo.IsDue(s.now()) {
		return nil
	}

	return s.guardOperation(
		ctx, string(PendingReserve),
		func() error {
			switch reserve.ReserveStatus {
			case domain.ReserveRegisteringBank, domain.ReserveWaitConfirmBank:
				return s.processReserveBankStatus(ctx, reservePub, false)
			case domain.ReserveQueryingStatus:
				return s.updateReserve(ctx, reservePub)
			default:
				return nil
			}
		},
		func(ctx context.Context, detail *domain.ErrorDetail) error {
			return s.incrementReserveRetry(ctx, reservePub, detail)
		},
	)
}

// processReserveBankStatus polls the bank for the withdrawal operation of
// the reserve, registering the reserve with the bank when needed. After a
// registration the bank is polled once more.
func (s *reserveService) processReserveBankStatus(
	ctx context.Context, reservePub string, registered bool,
) error {
	reserveRepo := s.repo.ReserveRepository()
	reserve, err := reserveRepo.GetReserve(ctx, reservePub)
	if err != nil {
		return err
	}
	if reserve == nil || !reserve.IsBankPending() {
		return nil
	}
	if reserve.BankInfo == nil {
		return domain.ErrReserveBankInfoMissing
	}

	status, err := s.bank.GetWithdrawalOperationStatus(
		ctx, reserve.BankInfo.StatusURL, reserve.RetryInfo.RequestTimeout(),
	)
	if err != nil {
		return err
	}

	if status.Aborted {
		log.WithField("reserve", reservePub).Info("withdrawal aborted by bank")
		return reserveRepo.UpdateReserve(
			ctx, reservePub,
			func(r *domain.Reserve) (*domain.Reserve, error) {
				r.AbortedByBank(s.now())
				return r, nil
			},
		)
	}

	mustRegister := !status.SelectionDone ||
		reserve.ReserveStatus == domain.ReserveRegisteringBank
	if mustRegister && !registered {
		if err := s.registerReserveWithBank(ctx, reserve); err != nil {
			return err
		}
		return s.processReserveBankStatus(ctx, reservePub, true)
	}

	if status.TransferDone {
		if err := reserveRepo.UpdateReserve(
			ctx, reservePub,
			func(r *domain.Reserve) (*domain.Reserve, error) {
				r.ConfirmedByBank(s.now())
				return r, nil
			},
		); err != nil {
			return err
		}
		log.WithField("reserve", reservePub).Info("withdrawal confirmed by bank")
		return s.updateReserve(ctx, reservePub)
	}

	// Still waiting for the user to confirm the transfer, check again
	// later.
	return reserveRepo.UpdateReserve(
		ctx, reservePub,
		func(r *domain.Reserve) (*domain.Reserve, error) {
			if len(status.ConfirmTransferURL) > 0 {
				r.SetConfirmURL(status.ConfirmTransferURL)
			}
			r.RetryInfo = r.RetryInfo.Increment(s.now())
			return r, nil
		},
	)
}

func (s *reserveService) registerReserveWithBank(
	ctx context.Context, reserve *domain.Reserve,
) error {
	selectedExchange := reserve.BankInfo.ExchangePaytoURI
	if len(selectedExchange) <= 0 {
		selectedExchange = reserve.ExchangeBaseURL
	}

	if err := s.bank.RegisterWithdrawalOperation(
		ctx, reserve.BankInfo.StatusURL, ports.BankRegistrationRequest{
			ReservePub:       reserve.ReservePub,
			SelectedExchange: selectedExchange,
		},
		reserve.RetryInfo.RequestTimeout(),
	); err != nil {
		return err
	}

	return s.repo.ReserveRepository().UpdateReserve(
		ctx, reserve.ReservePub,
		func(r *domain.Reserve) (*domain.Reserve, error) {
			if _, err := r.RegisteredWithBank(s.now()); err != nil {
				return nil, err
			}
			return r, nil
		},
	)
}

// updateReserve queries the exchange for the history of the reserve and
// withdraws whatever is left after the withdrawals already accounted for.
func (s *reserveService) updateReserve(
	ctx context.Context, reservePub string,
) error {
	reserveRepo := s.repo.ReserveRepository()
	reserve, err := reserveRepo.GetReserve(ctx, reservePub)
	if err != nil {
		return err
	}
	if reserve == nil || reserve.ReserveStatus != domain.ReserveQueryingStatus {
		return nil
	}

	status, err := s.exchange.GetReserveStatus(
		ctx, reserve.ExchangeBaseURL, reservePub,
		reserve.RetryInfo.RequestTimeout(),
	)
	if err != nil {
		if domain.IsHTTPStatus(err, http.StatusNotFound) {
			// The exchange didn't get the wire transfer yet.
			log.WithField("reserve", reservePub).Debug("reserve not known yet")
			return s.incrementReserveRetry(ctx, reservePub, nil)
		}
		return err
	}

	remaining, err := s.reserveRemainingAmount(ctx, reserve, status.History)
	if err != nil {
		return err
	}
	denoms, err := s.exchanges.GetCandidateWithdrawalDenoms(
		ctx, reserve.ExchangeBaseURL,
	)
	if err != nil {
		return err
	}
	now := s.now()
	sel := domain.SelectWithdrawalDenominations(remaining, denoms, now)

	res, err := s.repo.RunTransaction(
		ctx, false, func(ctx context.Context) (interface{}, error) {
			var group *domain.WithdrawalGroup
			if err := reserveRepo.UpdateReserve(
				ctx, reservePub,
				func(r *domain.Reserve) (*domain.Reserve, error) {
					if err := r.MarkDormant(now); err != nil {
						return nil, err
					}
					if sel.NumCoins() > 0 {
						seed, err := s.crypto.RandomBytes(32)
						if err != nil {
							return nil, err
						}
						group = &domain.WithdrawalGroup{
							WithdrawalGroupID:   r.NextWithdrawalGroupID(uuid.New().String()),
							ExchangeBaseURL:     r.ExchangeBaseURL,
							ReservePub:          r.ReservePub,
							RawWithdrawalAmount: remaining,
							DenomsSel:           sel.ToState(),
							SecretSeed:          crock.Encode(seed),
							TimestampStart:      now,
							RetryInfo:           domain.NewRetryInfo(now),
						}
					}
					return r, nil
				},
			); err != nil {
				return nil, err
			}

			if group != nil {
				if err := s.repo.WithdrawalGroupRepository().AddWithdrawalGroup(
					ctx, group,
				); err != nil {
					return nil, err
				}
			}
			return group, nil
		},
	)
	if err != nil {
		return err
	}

	group, _ := res.(*domain.WithdrawalGroup)
	if group == nil {
		log.WithField("reserve", reservePub).Debug("nothing left to withdraw")
		return nil
	}

	log.WithFields(log.Fields{
		"reserve":          reservePub,
		"withdrawal_group": group.WithdrawalGroupID,
		"amount":           sel.TotalWithdrawCost.String(),
		"coins":            sel.NumCoins(),
	}).Info("withdrawal group created")

	// The group records its own failures and is retried on its own, the
	// reserve is done either way.
	if err := s.withdrawals.ProcessWithdrawalGroup(
		ctx, group.WithdrawalGroupID, false,
	); err != nil {
		if isInvariantViolation(err) {
			return err
		}
		log.WithError(err).Debugf(
			"withdrawal group %s not completed yet", group.WithdrawalGroupID,
		)
	}
	return nil
}

// reserveRemainingAmount returns the amount of the reserve not claimed yet
// by any withdrawal group. Withdrawals the wallet doesn't know of and
// closings are subtracted from the credits.
func (s *reserveService) reserveRemainingAmount(
	ctx context.Context, reserve *domain.Reserve,
	history []ports.ReserveTransaction,
) (domain.Amount, error) {
	credits := domain.ZeroAmount(reserve.Currency)
	debits := domain.ZeroAmount(reserve.Currency)

	for _, tx := range history {
		var err error
		switch tx.Type {
		case ports.ReserveTransactionCredit, ports.ReserveTransactionRecoup:
			credits, err = credits.Add(tx.Amount)
		case ports.ReserveTransactionClosing:
			debits, err = debits.Add(tx.Amount)
		case ports.ReserveTransactionWithdraw:
			var known bool
			known, err = s.isKnownCoinEnvelope(ctx, tx.HCoinEnvelope)
			if err == nil && !known {
				debits, err = debits.Add(tx.Amount)
			}
		default:
			log.Warnf(
				"reserve %s: unknown transaction type %q in history",
				reserve.ReservePub, tx.Type,
			)
		}
		if err != nil {
			return domain.Amount{}, malformedReserveHistory(reserve, err)
		}
	}

	groups, err := s.repo.WithdrawalGroupRepository().
		GetWithdrawalGroupsForReserve(ctx, reserve.ReservePub)
	if err != nil {
		return domain.Amount{}, err
	}
	for _, g := range groups {
		if debits, err = debits.Add(g.DenomsSel.TotalWithdrawCost); err != nil {
			return domain.Amount{}, malformedReserveHistory(reserve, err)
		}
	}

	remaining, _ := credits.Sub(debits)
	return remaining, nil
}

func (s *reserveService) isKnownCoinEnvelope(
	ctx context.Context, coinEvHash string,
) (bool, error) {
	if len(coinEvHash) <= 0 {
		return false, nil
	}
	planchet, err := s.repo.PlanchetRepository().
		GetPlanchetByCoinEvHash(ctx, coinEvHash)
	if err != nil {
		return false, err
	}
	if planchet != nil {
		return true, nil
	}
	coin, err := s.repo.CoinRepository().GetCoinByCoinEvHash(ctx, coinEvHash)
	if err != nil {
		return false, err
	}
	return coin != nil, nil
}

func malformedReserveHistory(reserve *domain.Reserve, err error) error {
	return domain.NewOperationError(
		domain.CodeReceivedMalformedResponse,
		fmt.Sprintf("invalid reserve history: %s", err),
		map[string]interface{}{"reservePub": reserve.ReservePub},
	)
}

func (s *reserveService) incrementReserveRetry(
	ctx context.Context, reservePub string, detail *domain.ErrorDetail,
) error {
	return s.repo.ReserveRepository().UpdateReserve(
		ctx, reservePub,
		func(r *domain.Reserve) (*domain.Reserve, error) {
			r.RetryInfo = r.RetryInfo.Increment(s.now())
			if detail != nil {
				r.LastError = detail
			}
			return r, nil
		},
	)
}

func (s *reserveService) ForceQueryReserve(
	ctx context.Context, reservePub string,
) error {
	err := s.repo.ReserveRepository().UpdateReserve(
		ctx, reservePub,
		func(r *domain.Reserve) (*domain.Reserve, error) {
			r.ForceQuery(s.now())
			return r, nil
		},
	)
	if errors.Is(err, domain.ErrRecordNotFound) {
		return ErrUnknownReserve
	}
	if err != nil {
		return err
	}
	return s.ProcessReserve(ctx, reservePub, true)
}

func (s *reserveService) DeleteReserve(
	ctx context.Context, reservePub string,
) error {
	_, err := s.repo.RunTransaction(
		ctx, false, func(ctx context.Context) (interface{}, error) {
			if err := s.repo.ReserveRepository().DeleteReserve(
				ctx, reservePub,
			); err != nil {
				return nil, err
			}
			if err := s.deleteUnfinishedWithdrawals(ctx, reservePub); err != nil {
				return nil, err
			}
			return nil, s.repo.TombstoneRepository().AddTombstone(
				ctx, domain.NewTombstone(domain.TombstoneDeleteReserve, reservePub),
			)
		},
	)
	return err
}

// deleteUnfinishedWithdrawals drops the withdrawal groups of a deleted
// reserve that can't be completed anymore. Finished groups stay as the
// source of their coins.
func (s *reserveService) deleteUnfinishedWithdrawals(
	ctx context.Context, reservePub string,
) error {
	groupRepo := s.repo.WithdrawalGroupRepository()
	groups, err := groupRepo.GetWithdrawalGroupsForReserve(ctx, reservePub)
	if err != nil {
		return err
	}
	for _, g := range groups {
		if g.IsFinished() {
			continue
		}
		if err := groupRepo.DeleteWithdrawalGroup(ctx, g.WithdrawalGroupID); err != nil {
			return err
		}
		if err := s.repo.PlanchetRepository().DeletePlanchetsForWithdrawalGroup(
			ctx, g.WithdrawalGroupID,
		); err != nil {
			return err
		}
		if err := s.repo.TombstoneRepository().AddTombstone(
			ctx, domain.NewTombstone(
				domain.TombstoneDeleteWithdrawalGroup, g.WithdrawalGroupID,
			),
		); err != nil {
			return err
		}
		log.WithFields(log.Fields{
			"reserve":          reservePub,
			"withdrawal_group": g.WithdrawalGroupID,
		}).Debug("dropped unfinished withdrawal group of deleted reserve")
	}
	return nil
}

func (s *reserveService) AcceptBankIntegratedWithdrawal(
	ctx context.Context, talerWithdrawURI, exchangeBaseURL string,
) (*AcceptWithdrawalResponse, error) {
	uri, err := domain.ParseWithdrawURI(talerWithdrawURI)
	if err != nil {
		return nil, err
	}

	status, err := s.bank.GetWithdrawalOperationStatus(
		ctx, uri.StatusURL(), domain.MinRequestTimeout,
	)
	if err != nil {
		return nil, err
	}
	if status.Aborted {
		return nil, withdrawalAbortedByBank(uri.StatusURL())
	}
	if len(exchangeBaseURL) <= 0 {
		exchangeBaseURL = status.SuggestedExchange
	}

	created, err := s.CreateReserve(ctx, CreateReserveRequest{
		Amount:                status.Amount,
		ExchangeBaseURL:       exchangeBaseURL,
		SenderWire:            status.SenderWire,
		BankWithdrawStatusURL: uri.StatusURL(),
	})
	if err != nil {
		return nil, err
	}

	if err := s.ProcessReserve(ctx, created.ReservePub, true); err != nil {
		return nil, err
	}

	reserve, err := s.repo.ReserveRepository().GetReserve(ctx, created.ReservePub)
	if err != nil {
		return nil, err
	}
	if reserve == nil {
		return nil, ErrUnknownReserve
	}
	if reserve.ReserveStatus == domain.ReserveBankAborted {
		return nil, withdrawalAbortedByBank(uri.StatusURL())
	}

	confirmURL := status.ConfirmTransferURL
	if reserve.BankInfo != nil && len(reserve.BankInfo.ConfirmURL) > 0 {
		confirmURL = reserve.BankInfo.ConfirmURL
	}
	return &AcceptWithdrawalResponse{
		ReservePub:         reserve.ReservePub,
		ConfirmTransferURL: confirmURL,
	}, nil
}

func withdrawalAbortedByBank(statusURL string) error {
	return domain.NewOperationError(
		domain.CodeWithdrawalOperationAbortedByBank,
		"withdrawal operation aborted by bank",
		map[string]interface{}{"statusUrl": statusURL},
	)
}

func (s *reserveService) GetReserves(
	ctx context.Context,
) ([]*domain.Reserve, error) {
	return s.repo.ReserveRepository().GetAllReserves(ctx)
}
