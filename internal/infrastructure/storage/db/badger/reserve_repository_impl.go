package dbbadger

import (
	"context"

	"github.com/dgraph-io/badger/v3"
	"github.com/taler-go/walletd/internal/core/domain"
	"github.com/timshannon/badgerhold/v4"
)

type reserveRepositoryImpl struct {
	store *badgerhold.Store
}

// NewReserveRepositoryImpl initialize a badger implementation of the
// domain.ReserveRepository
func NewReserveRepositoryImpl(store *badgerhold.Store) domain.ReserveRepository {
	return reserveRepositoryImpl{store}
}

func (r reserveRepositoryImpl) GetReserve(
	ctx context.Context, reservePub string,
) (*domain.Reserve, error) {
	var reserve *domain.Reserve
	err := view(ctx, r.store, func(tx *badger.Txn) (err error) {
		reserve, err = r.getReserve(tx, reservePub)
		return
	})
	return reserve, err
}

func (r reserveRepositoryImpl) GetReserveByBankStatusURL(
	ctx context.Context, statusURL string,
) (*domain.Reserve, error) {
	if statusURL == "" {
		return nil, nil
	}

	query := badgerhold.Where("BankStatusURL").Eq(statusURL).
		Index("BankStatusURL")
	reserves, err := r.findReserves(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(reserves) == 0 {
		return nil, nil
	}
	return reserves[0], nil
}

func (r reserveRepositoryImpl) GetAllReserves(
	ctx context.Context,
) ([]*domain.Reserve, error) {
	return r.findReserves(ctx, nil)
}

func (r reserveRepositoryImpl) AddReserve(
	ctx context.Context, reserve *domain.Reserve,
) error {
	return update(ctx, r.store, func(tx *badger.Txn) error {
		if err := r.store.TxInsert(tx, reserve.ReservePub, *reserve); err != nil {
			if err == badgerhold.ErrKeyExists {
				return domain.ErrRecordAlreadyExists
			}
			return err
		}
		return nil
	})
}

func (r reserveRepositoryImpl) UpdateReserve(
	ctx context.Context, reservePub string,
	updateFn func(r *domain.Reserve) (*domain.Reserve, error),
) error {
	return update(ctx, r.store, func(tx *badger.Txn) error {
		reserve, err := r.getReserve(tx, reservePub)
		if err != nil {
			return err
		}
		if reserve == nil {
			return domain.ErrRecordNotFound
		}

		updatedReserve, err := updateFn(reserve)
		if err != nil {
			return err
		}
		return r.store.TxUpdate(tx, reservePub, *updatedReserve)
	})
}

func (r reserveRepositoryImpl) DeleteReserve(
	ctx context.Context, reservePub string,
) error {
	return update(ctx, r.store, func(tx *badger.Txn) error {
		err := r.store.TxDelete(tx, reservePub, domain.Reserve{})
		if err == badgerhold.ErrNotFound {
			return nil
		}
		return err
	})
}

func (r reserveRepositoryImpl) getReserve(
	tx *badger.Txn, reservePub string,
) (*domain.Reserve, error) {
	var reserve domain.Reserve
	if err := r.store.TxGet(tx, reservePub, &reserve); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &reserve, nil
}

func (r reserveRepositoryImpl) findReserves(
	ctx context.Context, query *badgerhold.Query,
) ([]*domain.Reserve, error) {
	var reserves []domain.Reserve
	if err := view(ctx, r.store, func(tx *badger.Txn) error {
		return r.store.TxFind(tx, &reserves, query)
	}); err != nil {
		return nil, err
	}

	res := make([]*domain.Reserve, 0, len(reserves))
	for i := range reserves {
		res = append(res, &reserves[i])
	}
	return res, nil
}
