package application

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/taler-go/walletd/internal/core/domain"
	"github.com/taler-go/walletd/internal/core/ports"
)

type ExchangeService interface {
	// UpdateExchangeFromURL fetches the keys of the exchange, unless they
	// were fetched recently and force is false, and updates the exchange
	// and its denominations.
	UpdateExchangeFromURL(
		ctx context.Context, baseURL string, force bool,
	) (*domain.Exchange, error)
	// GetCandidateWithdrawalDenoms returns the denominations of the exchange
	// whose signature is valid and that can be withdrawn now.
	GetCandidateWithdrawalDenoms(
		ctx context.Context, baseURL string,
	) ([]domain.Denomination, error)
	GetExchanges(ctx context.Context) ([]*domain.Exchange, error)
}

type exchangeService struct {
	*walletState
}

func (s *exchangeService) UpdateExchangeFromURL(
	ctx context.Context, baseURL string, force bool,
) (*domain.Exchange, error) {
	baseURL = domain.CanonicalizeBaseURL(baseURL)

	var exchange *domain.Exchange
	err := s.coalesce("exchange:"+baseURL, func() error {
		var err error
		exchange, err = s.updateExchange(ctx, baseURL, force)
		return err
	})
	if err != nil {
		return nil, err
	}
	if exchange == nil {
		// Coalesced into another update, read its outcome.
		return s.repo.ExchangeRepository().GetExchange(ctx, baseURL)
	}
	return exchange, nil
}

func (s *exchangeService) updateExchange(
	ctx context.Context, baseURL string, force bool,
) (*domain.Exchange, error) {
	exchange, err := s.repo.ExchangeRepository().GetExchange(ctx, baseURL)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if exchange != nil && !force &&
		!exchange.NeedsUpdate(now, s.exchangeUpdateInterval) {
		return exchange, nil
	}

	timeout := domain.MinRequestTimeout
	if exchange != nil {
		timeout = exchange.RetryInfo.RequestTimeout()
	}

	var keys *ports.ExchangeKeys
	err = s.guardOperation(
		ctx, string(PendingExchangeUpdate),
		func() error {
			var err error
			keys, err = s.exchange.GetKeys(ctx, baseURL, timeout)
			if err != nil {
				return err
			}
			if exchange != nil && exchange.Currency != keys.Currency {
				return domain.NewOperationError(
					domain.CodeExchangeCurrencyMismatch,
					fmt.Sprintf(
						"exchange currency changed from %s to %s",
						exchange.Currency, keys.Currency,
					),
					map[string]interface{}{"exchangeBaseUrl": baseURL},
				)
			}
			return nil
		},
		func(ctx context.Context, detail *domain.ErrorDetail) error {
			if exchange == nil {
				return nil
			}
			return s.repo.ExchangeRepository().UpdateExchange(
				ctx, baseURL,
				func(e *domain.Exchange) (*domain.Exchange, error) {
					e.RetryInfo = e.RetryInfo.Increment(s.now())
					e.LastError = detail
					return e, nil
				},
			)
		},
	)
	if err != nil {
		return nil, err
	}

	res, err := s.repo.RunTransaction(
		ctx, false, func(ctx context.Context) (interface{}, error) {
			return s.storeKeys(ctx, baseURL, keys)
		},
	)
	if err != nil {
		return nil, err
	}

	log.WithField("exchange", baseURL).Debug("exchange keys updated")
	return res.(*domain.Exchange), nil
}

func (s *exchangeService) storeKeys(
	ctx context.Context, baseURL string, keys *ports.ExchangeKeys,
) (*domain.Exchange, error) {
	now := s.now()
	exchangeRepo := s.repo.ExchangeRepository()
	denomRepo := s.repo.DenominationRepository()

	exchange, err := exchangeRepo.GetExchange(ctx, baseURL)
	if err != nil {
		return nil, err
	}
	if exchange == nil {
		exchange = &domain.Exchange{
			BaseURL:          baseURL,
			NextRefreshCheck: now,
		}
	}
	exchange.MasterPublicKey = keys.MasterPublicKey
	exchange.Currency = keys.Currency
	exchange.LastUpdate = now
	exchange.LastError = nil
	exchange.RetryInfo = domain.NewRetryInfo(now)
	exchange.RetryInfo.Active = false
	if err := exchangeRepo.AddOrUpdateExchange(ctx, exchange); err != nil {
		return nil, err
	}

	stored, err := denomRepo.GetDenominationsForExchange(ctx, baseURL)
	if err != nil {
		return nil, err
	}
	storedByHash := make(map[string]*domain.Denomination, len(stored))
	for _, d := range stored {
		storedByHash[d.DenomPubHash] = d
	}

	revoked := make(map[string]bool, len(keys.Recoup))
	for _, r := range keys.Recoup {
		revoked[r.HDenomPub] = true
	}

	offered := make(map[string]bool, len(keys.Denoms))
	for _, kd := range keys.Denoms {
		hash, err := s.crypto.HashDenomPub(kd.DenomPub)
		if err != nil {
			log.WithError(err).Warnf(
				"exchange %s: skipping malformed denomination", baseURL,
			)
			continue
		}
		offered[hash] = true

		denom, ok := storedByHash[hash]
		if !ok {
			denom = &domain.Denomination{
				ExchangeBaseURL:     baseURL,
				DenomPub:            kd.DenomPub,
				DenomPubHash:        hash,
				Value:               kd.Value,
				FeeWithdraw:         kd.FeeWithdraw,
				FeeDeposit:          kd.FeeDeposit,
				FeeRefresh:          kd.FeeRefresh,
				FeeRefund:           kd.FeeRefund,
				StampStart:          kd.StampStart.Time,
				StampExpireWithdraw: kd.StampExpireWithdraw.Time,
				StampExpireDeposit:  kd.StampExpireDeposit.Time,
				StampExpireLegal:    kd.StampExpireLegal.Time,
				MasterSig:           kd.MasterSig,
			}
			storedByHash[hash] = denom
		}
		denom.IsOffered = true
	}

	for hash, denom := range storedByHash {
		if !offered[hash] {
			denom.IsOffered = false
		}
		if revoked[hash] {
			denom.Revoke()
		}
		if denom.VerificationStatus == domain.DenominationUnverified {
			valid, err := s.crypto.IsValidDenom(denom, exchange.MasterPublicKey)
			if err != nil {
				log.WithError(err).Warnf(
					"exchange %s: failed to verify denomination %s",
					baseURL, hash,
				)
			}
			if err := denom.Verify(valid); err != nil {
				return nil, err
			}
			if !valid {
				log.Warnf(
					"exchange %s: invalid master signature for denomination %s",
					baseURL, hash,
				)
			}
		}
		if err := denomRepo.AddOrUpdateDenomination(ctx, denom); err != nil {
			return nil, err
		}
	}

	return exchange, nil
}

func (s *exchangeService) GetCandidateWithdrawalDenoms(
	ctx context.Context, baseURL string,
) ([]domain.Denomination, error) {
	denoms, err := s.repo.DenominationRepository().GetDenominationsForExchange(
		ctx, domain.CanonicalizeBaseURL(baseURL),
	)
	if err != nil {
		return nil, err
	}

	now := s.now()
	candidates := make([]domain.Denomination, 0, len(denoms))
	for _, d := range denoms {
		if d.VerificationStatus == domain.DenominationVerifiedGood &&
			d.IsWithdrawable(now) {
			candidates = append(candidates, *d)
		}
	}
	return candidates, nil
}

func (s *exchangeService) GetExchanges(
	ctx context.Context,
) ([]*domain.Exchange, error) {
	return s.repo.ExchangeRepository().GetAllExchanges(ctx)
}
