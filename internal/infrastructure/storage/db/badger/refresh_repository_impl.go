package dbbadger

import (
	"context"

	"github.com/dgraph-io/badger/v3"
	"github.com/taler-go/walletd/internal/core/domain"
	"github.com/timshannon/badgerhold/v4"
)

type refreshGroupRepositoryImpl struct {
	store *badgerhold.Store
}

// NewRefreshGroupRepositoryImpl initialize a badger implementation of the
// domain.RefreshGroupRepository
func NewRefreshGroupRepositoryImpl(
	store *badgerhold.Store,
) domain.RefreshGroupRepository {
	return refreshGroupRepositoryImpl{store}
}

func (r refreshGroupRepositoryImpl) GetRefreshGroup(
	ctx context.Context, id string,
) (*domain.RefreshGroup, error) {
	var group *domain.RefreshGroup
	err := view(ctx, r.store, func(tx *badger.Txn) (err error) {
		group, err = r.getGroup(tx, id)
		return
	})
	return group, err
}

func (r refreshGroupRepositoryImpl) GetAllRefreshGroups(
	ctx context.Context,
) ([]*domain.RefreshGroup, error) {
	var groups []domain.RefreshGroup
	if err := view(ctx, r.store, func(tx *badger.Txn) error {
		return r.store.TxFind(tx, &groups, nil)
	}); err != nil {
		return nil, err
	}

	res := make([]*domain.RefreshGroup, 0, len(groups))
	for i := range groups {
		res = append(res, &groups[i])
	}
	return res, nil
}

func (r refreshGroupRepositoryImpl) AddRefreshGroup(
	ctx context.Context, group *domain.RefreshGroup,
) error {
	return update(ctx, r.store, func(tx *badger.Txn) error {
		err := r.store.TxInsert(tx, group.RefreshGroupID, *group)
		if err == badgerhold.ErrKeyExists {
			return domain.ErrRecordAlreadyExists
		}
		return err
	})
}

func (r refreshGroupRepositoryImpl) UpdateRefreshGroup(
	ctx context.Context, id string,
	updateFn func(g *domain.RefreshGroup) (*domain.RefreshGroup, error),
) error {
	return update(ctx, r.store, func(tx *badger.Txn) error {
		group, err := r.getGroup(tx, id)
		if err != nil {
			return err
		}
		if group == nil {
			return domain.ErrRecordNotFound
		}

		updatedGroup, err := updateFn(group)
		if err != nil {
			return err
		}
		return r.store.TxUpdate(tx, id, *updatedGroup)
	})
}

func (r refreshGroupRepositoryImpl) DeleteRefreshGroup(
	ctx context.Context, id string,
) error {
	return update(ctx, r.store, func(tx *badger.Txn) error {
		err := r.store.TxDelete(tx, id, domain.RefreshGroup{})
		if err == badgerhold.ErrNotFound {
			return nil
		}
		return err
	})
}

func (r refreshGroupRepositoryImpl) getGroup(
	tx *badger.Txn, id string,
) (*domain.RefreshGroup, error) {
	var group domain.RefreshGroup
	if err := r.store.TxGet(tx, id, &group); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &group, nil
}
