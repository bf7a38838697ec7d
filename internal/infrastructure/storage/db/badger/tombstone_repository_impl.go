package dbbadger

import (
	"context"

	"github.com/dgraph-io/badger/v3"
	"github.com/taler-go/walletd/internal/core/domain"
	"github.com/timshannon/badgerhold/v4"
)

type tombstoneRepositoryImpl struct {
	store *badgerhold.Store
}

// NewTombstoneRepositoryImpl initialize a badger implementation of the
// domain.TombstoneRepository
func NewTombstoneRepositoryImpl(store *badgerhold.Store) domain.TombstoneRepository {
	return tombstoneRepositoryImpl{store}
}

func (r tombstoneRepositoryImpl) AddTombstone(
	ctx context.Context, tombstone domain.Tombstone,
) error {
	return update(ctx, r.store, func(tx *badger.Txn) error {
		return r.store.TxUpsert(tx, tombstone.ID, tombstone)
	})
}

func (r tombstoneRepositoryImpl) HasTombstone(
	ctx context.Context, id string,
) (bool, error) {
	var tombstone domain.Tombstone
	if err := view(ctx, r.store, func(tx *badger.Txn) error {
		return r.store.TxGet(tx, id, &tombstone)
	}); err != nil {
		if err == badgerhold.ErrNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r tombstoneRepositoryImpl) GetAllTombstones(
	ctx context.Context,
) ([]domain.Tombstone, error) {
	var tombstones []domain.Tombstone
	if err := view(ctx, r.store, func(tx *badger.Txn) error {
		return r.store.TxFind(tx, &tombstones, nil)
	}); err != nil {
		return nil, err
	}
	return tombstones, nil
}
