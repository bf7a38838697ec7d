package dbbadger

import (
	"context"

	"github.com/dgraph-io/badger/v3"
	"github.com/taler-go/walletd/internal/core/domain"
	"github.com/timshannon/badgerhold/v4"
)

type purchaseRepositoryImpl struct {
	store *badgerhold.Store
}

// NewPurchaseRepositoryImpl initialize a badger implementation of the
// domain.PurchaseRepository
func NewPurchaseRepositoryImpl(store *badgerhold.Store) domain.PurchaseRepository {
	return purchaseRepositoryImpl{store}
}

func (r purchaseRepositoryImpl) GetPurchase(
	ctx context.Context, proposalID string,
) (*domain.Purchase, error) {
	var purchase domain.Purchase
	if err := view(ctx, r.store, func(tx *badger.Txn) error {
		return r.store.TxGet(tx, proposalID, &purchase)
	}); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &purchase, nil
}

func (r purchaseRepositoryImpl) GetAllPurchases(
	ctx context.Context,
) ([]*domain.Purchase, error) {
	var purchases []domain.Purchase
	if err := view(ctx, r.store, func(tx *badger.Txn) error {
		return r.store.TxFind(tx, &purchases, nil)
	}); err != nil {
		return nil, err
	}

	res := make([]*domain.Purchase, 0, len(purchases))
	for i := range purchases {
		res = append(res, &purchases[i])
	}
	return res, nil
}

func (r purchaseRepositoryImpl) AddOrUpdatePurchase(
	ctx context.Context, purchase *domain.Purchase,
) error {
	return update(ctx, r.store, func(tx *badger.Txn) error {
		return r.store.TxUpsert(tx, purchase.ProposalID, *purchase)
	})
}

func (r purchaseRepositoryImpl) DeletePurchase(
	ctx context.Context, proposalID string,
) error {
	return update(ctx, r.store, func(tx *badger.Txn) error {
		err := r.store.TxDelete(tx, proposalID, domain.Purchase{})
		if err == badgerhold.ErrNotFound {
			return nil
		}
		return err
	})
}
