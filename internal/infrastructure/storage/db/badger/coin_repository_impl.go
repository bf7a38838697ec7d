package dbbadger

import (
	"context"

	"github.com/dgraph-io/badger/v3"
	"github.com/taler-go/walletd/internal/core/domain"
	"github.com/timshannon/badgerhold/v4"
)

type coinRepositoryImpl struct {
	store *badgerhold.Store
}

// NewCoinRepositoryImpl initialize a badger implementation of the
// domain.CoinRepository
func NewCoinRepositoryImpl(store *badgerhold.Store) domain.CoinRepository {
	return coinRepositoryImpl{store}
}

func (r coinRepositoryImpl) GetCoin(
	ctx context.Context, coinPub string,
) (*domain.Coin, error) {
	var coin *domain.Coin
	err := view(ctx, r.store, func(tx *badger.Txn) (err error) {
		coin, err = r.getCoin(tx, coinPub)
		return
	})
	return coin, err
}

func (r coinRepositoryImpl) GetCoinByCoinEvHash(
	ctx context.Context, coinEvHash string,
) (*domain.Coin, error) {
	query := badgerhold.Where("CoinEvHash").Eq(coinEvHash).Index("CoinEvHash")
	coins, err := r.findCoins(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(coins) == 0 {
		return nil, nil
	}
	return coins[0], nil
}

func (r coinRepositoryImpl) GetCoinsForExchange(
	ctx context.Context, exchangeBaseURL string,
) ([]*domain.Coin, error) {
	query := badgerhold.Where("ExchangeBaseURL").Eq(exchangeBaseURL).
		Index("ExchangeBaseURL")
	return r.findCoins(ctx, query)
}

func (r coinRepositoryImpl) GetAllCoins(
	ctx context.Context,
) ([]*domain.Coin, error) {
	return r.findCoins(ctx, nil)
}

func (r coinRepositoryImpl) AddCoin(
	ctx context.Context, coin *domain.Coin,
) error {
	return update(ctx, r.store, func(tx *badger.Txn) error {
		if err := r.store.TxInsert(tx, coin.CoinPub, *coin); err != nil {
			if err == badgerhold.ErrKeyExists {
				return domain.ErrRecordAlreadyExists
			}
			return err
		}
		return nil
	})
}

func (r coinRepositoryImpl) UpdateCoin(
	ctx context.Context, coinPub string,
	updateFn func(c *domain.Coin) (*domain.Coin, error),
) error {
	return update(ctx, r.store, func(tx *badger.Txn) error {
		coin, err := r.getCoin(tx, coinPub)
		if err != nil {
			return err
		}
		if coin == nil {
			return domain.ErrRecordNotFound
		}

		updatedCoin, err := updateFn(coin)
		if err != nil {
			return err
		}
		return r.store.TxUpdate(tx, coinPub, *updatedCoin)
	})
}

func (r coinRepositoryImpl) getCoin(
	tx *badger.Txn, coinPub string,
) (*domain.Coin, error) {
	var coin domain.Coin
	if err := r.store.TxGet(tx, coinPub, &coin); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &coin, nil
}

func (r coinRepositoryImpl) findCoins(
	ctx context.Context, query *badgerhold.Query,
) ([]*domain.Coin, error) {
	var coins []domain.Coin
	if err := view(ctx, r.store, func(tx *badger.Txn) error {
		return r.store.TxFind(tx, &coins, query)
	}); err != nil {
		return nil, err
	}

	res := make([]*domain.Coin, 0, len(coins))
	for i := range coins {
		res = append(res, &coins[i])
	}
	return res, nil
}
