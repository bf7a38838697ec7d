package dbbadger

import (
	"context"

	"github.com/dgraph-io/badger/v3"
	"github.com/taler-go/walletd/internal/core/domain"
	"github.com/timshannon/badgerhold/v4"
)

type backupProviderRepositoryImpl struct {
	store *badgerhold.Store
}

// NewBackupProviderRepositoryImpl initialize a badger implementation of the
// domain.BackupProviderRepository
func NewBackupProviderRepositoryImpl(
	store *badgerhold.Store,
) domain.BackupProviderRepository {
	return backupProviderRepositoryImpl{store}
}

func (r backupProviderRepositoryImpl) GetBackupProvider(
	ctx context.Context, baseURL string,
) (*domain.BackupProvider, error) {
	var provider *domain.BackupProvider
	err := view(ctx, r.store, func(tx *badger.Txn) (err error) {
		provider, err = r.getProvider(tx, baseURL)
		return
	})
	return provider, err
}

func (r backupProviderRepositoryImpl) GetAllBackupProviders(
	ctx context.Context,
) ([]*domain.BackupProvider, error) {
	var providers []domain.BackupProvider
	if err := view(ctx, r.store, func(tx *badger.Txn) error {
		return r.store.TxFind(tx, &providers, nil)
	}); err != nil {
		return nil, err
	}

	res := make([]*domain.BackupProvider, 0, len(providers))
	for i := range providers {
		res = append(res, &providers[i])
	}
	return res, nil
}

func (r backupProviderRepositoryImpl) AddOrUpdateBackupProvider(
	ctx context.Context, provider *domain.BackupProvider,
) error {
	return update(ctx, r.store, func(tx *badger.Txn) error {
		return r.store.TxUpsert(tx, provider.BaseURL, *provider)
	})
}

func (r backupProviderRepositoryImpl) UpdateBackupProvider(
	ctx context.Context, baseURL string,
	updateFn func(p *domain.BackupProvider) (*domain.BackupProvider, error),
) error {
	return update(ctx, r.store, func(tx *badger.Txn) error {
		provider, err := r.getProvider(tx, baseURL)
		if err != nil {
			return err
		}
		if provider == nil {
			return domain.ErrRecordNotFound
		}

		updatedProvider, err := updateFn(provider)
		if err != nil {
			return err
		}
		return r.store.TxUpdate(tx, baseURL, *updatedProvider)
	})
}

func (r backupProviderRepositoryImpl) DeleteBackupProvider(
	ctx context.Context, baseURL string,
) error {
	return update(ctx, r.store, func(tx *badger.Txn) error {
		err := r.store.TxDelete(tx, baseURL, domain.BackupProvider{})
		if err == badgerhold.ErrNotFound {
			return nil
		}
		return err
	})
}

func (r backupProviderRepositoryImpl) getProvider(
	tx *badger.Txn, baseURL string,
) (*domain.BackupProvider, error) {
	var provider domain.BackupProvider
	if err := r.store.TxGet(tx, baseURL, &provider); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &provider, nil
}

type backupConfigRepositoryImpl struct {
	store *badgerhold.Store
}

// NewBackupConfigRepositoryImpl initialize a badger implementation of the
// domain.BackupConfigRepository
func NewBackupConfigRepositoryImpl(
	store *badgerhold.Store,
) domain.BackupConfigRepository {
	return backupConfigRepositoryImpl{store}
}

func (r backupConfigRepositoryImpl) GetBackupConfig(
	ctx context.Context,
) (*domain.BackupConfig, error) {
	var config domain.BackupConfig
	if err := view(ctx, r.store, func(tx *badger.Txn) error {
		return r.store.TxGet(tx, domain.BackupConfigKey, &config)
	}); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &config, nil
}

func (r backupConfigRepositoryImpl) SaveBackupConfig(
	ctx context.Context, config *domain.BackupConfig,
) error {
	return update(ctx, r.store, func(tx *badger.Txn) error {
		return r.store.TxUpsert(tx, domain.BackupConfigKey, *config)
	})
}
