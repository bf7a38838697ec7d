package dbbadger

import (
	"context"
	"sort"

	"github.com/dgraph-io/badger/v3"
	"github.com/taler-go/walletd/internal/core/domain"
	"github.com/timshannon/badgerhold/v4"
)

type withdrawalGroupRepositoryImpl struct {
	store *badgerhold.Store
}

// NewWithdrawalGroupRepositoryImpl initialize a badger implementation of the
// domain.WithdrawalGroupRepository
func NewWithdrawalGroupRepositoryImpl(
	store *badgerhold.Store,
) domain.WithdrawalGroupRepository {
	return withdrawalGroupRepositoryImpl{store}
}

func (r withdrawalGroupRepositoryImpl) GetWithdrawalGroup(
	ctx context.Context, id string,
) (*domain.WithdrawalGroup, error) {
	var group *domain.WithdrawalGroup
	err := view(ctx, r.store, func(tx *badger.Txn) (err error) {
		group, err = r.getGroup(tx, id)
		return
	})
	return group, err
}

func (r withdrawalGroupRepositoryImpl) GetWithdrawalGroupsForReserve(
	ctx context.Context, reservePub string,
) ([]*domain.WithdrawalGroup, error) {
	query := badgerhold.Where("ReservePub").Eq(reservePub).Index("ReservePub")
	return r.findGroups(ctx, query)
}

func (r withdrawalGroupRepositoryImpl) GetAllWithdrawalGroups(
	ctx context.Context,
) ([]*domain.WithdrawalGroup, error) {
	return r.findGroups(ctx, nil)
}

func (r withdrawalGroupRepositoryImpl) AddWithdrawalGroup(
	ctx context.Context, group *domain.WithdrawalGroup,
) error {
	return update(ctx, r.store, func(tx *badger.Txn) error {
		err := r.store.TxInsert(tx, group.WithdrawalGroupID, *group)
		if err == badgerhold.ErrKeyExists {
			return domain.ErrRecordAlreadyExists
		}
		return err
	})
}

func (r withdrawalGroupRepositoryImpl) UpdateWithdrawalGroup(
	ctx context.Context, id string,
	updateFn func(g *domain.WithdrawalGroup) (*domain.WithdrawalGroup, error),
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

func (r withdrawalGroupRepositoryImpl) DeleteWithdrawalGroup(
	ctx context.Context, id string,
) error {
	return update(ctx, r.store, func(tx *badger.Txn) error {
		err := r.store.TxDelete(tx, id, domain.WithdrawalGroup{})
		if err == badgerhold.ErrNotFound {
			return nil
		}
		return err
	})
}

func (r withdrawalGroupRepositoryImpl) getGroup(
	tx *badger.Txn, id string,
) (*domain.WithdrawalGroup, error) {
	var group domain.WithdrawalGroup
	if err := r.store.TxGet(tx, id, &group); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &group, nil
}

func (r withdrawalGroupRepositoryImpl) findGroups(
	ctx context.Context, query *badgerhold.Query,
) ([]*domain.WithdrawalGroup, error) {
	var groups []domain.WithdrawalGroup
	if err := view(ctx, r.store, func(tx *badger.Txn) error {
		return r.store.TxFind(tx, &groups, query)
	}); err != nil {
		return nil, err
	}

	res := make([]*domain.WithdrawalGroup, 0, len(groups))
	for i := range groups {
		res = append(res, &groups[i])
	}
	return res, nil
}

type planchetRepositoryImpl struct {
	store *badgerhold.Store
}

// NewPlanchetRepositoryImpl initialize a badger implementation of the
// domain.PlanchetRepository
func NewPlanchetRepositoryImpl(store *badgerhold.Store) domain.PlanchetRepository {
	return planchetRepositoryImpl{store}
}

func (r planchetRepositoryImpl) GetPlanchet(
	ctx context.Context, withdrawalGroupID string, coinIndex int,
) (*domain.Planchet, error) {
	var planchet *domain.Planchet
	key := domain.PlanchetKey(withdrawalGroupID, coinIndex)
	err := view(ctx, r.store, func(tx *badger.Txn) (err error) {
		planchet, err = r.getPlanchet(tx, key)
		return
	})
	return planchet, err
}

func (r planchetRepositoryImpl) GetPlanchetByCoinEvHash(
	ctx context.Context, coinEvHash string,
) (*domain.Planchet, error) {
	query := badgerhold.Where("CoinEvHash").Eq(coinEvHash).Index("CoinEvHash")
	planchets, err := r.findPlanchets(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(planchets) == 0 {
		return nil, nil
	}
	return planchets[0], nil
}

// GetPlanchetsForWithdrawalGroup returns the planchets sorted by coin
// index.
func (r planchetRepositoryImpl) GetPlanchetsForWithdrawalGroup(
	ctx context.Context, withdrawalGroupID string,
) ([]*domain.Planchet, error) {
	query := badgerhold.Where("WithdrawalGroupID").Eq(withdrawalGroupID).
		Index("WithdrawalGroupID")
	planchets, err := r.findPlanchets(ctx, query)
	if err != nil {
		return nil, err
	}
	sort.Slice(planchets, func(i, j int) bool {
		return planchets[i].CoinIndex < planchets[j].CoinIndex
	})
	return planchets, nil
}

func (r planchetRepositoryImpl) AddPlanchet(
	ctx context.Context, planchet *domain.Planchet,
) error {
	return update(ctx, r.store, func(tx *badger.Txn) error {
		err := r.store.TxInsert(tx, planchet.Key(), *planchet)
		if err == badgerhold.ErrKeyExists {
			return domain.ErrRecordAlreadyExists
		}
		return err
	})
}

func (r planchetRepositoryImpl) UpdatePlanchet(
	ctx context.Context, withdrawalGroupID string, coinIndex int,
	updateFn func(p *domain.Planchet) (*domain.Planchet, error),
) error {
	key := domain.PlanchetKey(withdrawalGroupID, coinIndex)
	return update(ctx, r.store, func(tx *badger.Txn) error {
		planchet, err := r.getPlanchet(tx, key)
		if err != nil {
			return err
		}
		if planchet == nil {
			return domain.ErrRecordNotFound
		}

		updatedPlanchet, err := updateFn(planchet)
		if err != nil {
			return err
		}
		return r.store.TxUpdate(tx, key, *updatedPlanchet)
	})
}

func (r planchetRepositoryImpl) DeletePlanchetsForWithdrawalGroup(
	ctx context.Context, withdrawalGroupID string,
) error {
	query := badgerhold.Where("WithdrawalGroupID").Eq(withdrawalGroupID).
		Index("WithdrawalGroupID")
	return update(ctx, r.store, func(tx *badger.Txn) error {
		return r.store.TxDeleteMatching(tx, domain.Planchet{}, query)
	})
}

func (r planchetRepositoryImpl) getPlanchet(
	tx *badger.Txn, key string,
) (*domain.Planchet, error) {
	var planchet domain.Planchet
	if err := r.store.TxGet(tx, key, &planchet); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &planchet, nil
}

func (r planchetRepositoryImpl) findPlanchets(
	ctx context.Context, query *badgerhold.Query,
) ([]*domain.Planchet, error) {
	var planchets []domain.Planchet
	if err := view(ctx, r.store, func(tx *badger.Txn) error {
		return r.store.TxFind(tx, &planchets, query)
	}); err != nil {
		return nil, err
	}

	res := make([]*domain.Planchet, 0, len(planchets))
	for i := range planchets {
		res = append(res, &planchets[i])
	}
	return res, nil
}
