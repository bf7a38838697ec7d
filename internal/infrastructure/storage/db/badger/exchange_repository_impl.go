package dbbadger

import (
	"context"

	"github.com/dgraph-io/badger/v3"
	"github.com/taler-go/walletd/internal/core/domain"
	"github.com/timshannon/badgerhold/v4"
)

type exchangeRepositoryImpl struct {
	store *badgerhold.Store
}

// NewExchangeRepositoryImpl initialize a badger implementation of the
// domain.ExchangeRepository
func NewExchangeRepositoryImpl(store *badgerhold.Store) domain.ExchangeRepository {
	return exchangeRepositoryImpl{store}
}

func (r exchangeRepositoryImpl) GetExchange(
	ctx context.Context, baseURL string,
) (*domain.Exchange, error) {
	var exchange *domain.Exchange
	err := view(ctx, r.store, func(tx *badger.Txn) (err error) {
		exchange, err = r.getExchange(tx, baseURL)
		return
	})
	return exchange, err
}

func (r exchangeRepositoryImpl) GetAllExchanges(
	ctx context.Context,
) ([]*domain.Exchange, error) {
	var exchanges []domain.Exchange
	if err := view(ctx, r.store, func(tx *badger.Txn) error {
		return r.store.TxFind(tx, &exchanges, nil)
	}); err != nil {
		return nil, err
	}

	res := make([]*domain.Exchange, 0, len(exchanges))
	for i := range exchanges {
		res = append(res, &exchanges[i])
	}
	return res, nil
}

func (r exchangeRepositoryImpl) AddOrUpdateExchange(
	ctx context.Context, exchange *domain.Exchange,
) error {
	return update(ctx, r.store, func(tx *badger.Txn) error {
		return r.store.TxUpsert(tx, exchange.BaseURL, *exchange)
	})
}

func (r exchangeRepositoryImpl) UpdateExchange(
	ctx context.Context, baseURL string,
	updateFn func(e *domain.Exchange) (*domain.Exchange, error),
) error {
	return update(ctx, r.store, func(tx *badger.Txn) error {
		exchange, err := r.getExchange(tx, baseURL)
		if err != nil {
			return err
		}
		if exchange == nil {
			return domain.ErrRecordNotFound
		}

		updatedExchange, err := updateFn(exchange)
		if err != nil {
			return err
		}
		return r.store.TxUpdate(tx, baseURL, *updatedExchange)
	})
}

func (r exchangeRepositoryImpl) getExchange(
	tx *badger.Txn, baseURL string,
) (*domain.Exchange, error) {
	var exchange domain.Exchange
	if err := r.store.TxGet(tx, baseURL, &exchange); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &exchange, nil
}

type denominationRepositoryImpl struct {
	store *badgerhold.Store
}

// NewDenominationRepositoryImpl initialize a badger implementation of the
// domain.DenominationRepository
func NewDenominationRepositoryImpl(
	store *badgerhold.Store,
) domain.DenominationRepository {
	return denominationRepositoryImpl{store}
}

func (r denominationRepositoryImpl) GetDenomination(
	ctx context.Context, exchangeBaseURL, denomPubHash string,
) (*domain.Denomination, error) {
	var denom domain.Denomination
	key := domain.DenominationKey(exchangeBaseURL, denomPubHash)
	if err := view(ctx, r.store, func(tx *badger.Txn) error {
		return r.store.TxGet(tx, key, &denom)
	}); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &denom, nil
}

func (r denominationRepositoryImpl) GetDenominationsForExchange(
	ctx context.Context, exchangeBaseURL string,
) ([]*domain.Denomination, error) {
	query := badgerhold.Where("ExchangeBaseURL").Eq(exchangeBaseURL).
		Index("ExchangeBaseURL")
	return r.findDenominations(ctx, query)
}

func (r denominationRepositoryImpl) GetAllDenominations(
	ctx context.Context,
) ([]*domain.Denomination, error) {
	return r.findDenominations(ctx, nil)
}

func (r denominationRepositoryImpl) AddOrUpdateDenomination(
	ctx context.Context, denom *domain.Denomination,
) error {
	return update(ctx, r.store, func(tx *badger.Txn) error {
		return r.store.TxUpsert(tx, denom.Key(), *denom)
	})
}

func (r denominationRepositoryImpl) findDenominations(
	ctx context.Context, query *badgerhold.Query,
) ([]*domain.Denomination, error) {
	var denoms []domain.Denomination
	if err := view(ctx, r.store, func(tx *badger.Txn) error {
		return r.store.TxFind(tx, &denoms, query)
	}); err != nil {
		return nil, err
	}

	res := make([]*domain.Denomination, 0, len(denoms))
	for i := range denoms {
		res = append(res, &denoms[i])
	}
	return res, nil
}
