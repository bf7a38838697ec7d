package dbbadger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/dgraph-io/badger/v3/options"
	log "github.com/sirupsen/logrus"
	"github.com/taler-go/walletd/internal/core/domain"
	"github.com/taler-go/walletd/internal/core/ports"
	"github.com/timshannon/badgerhold/v4"
)

const (
	walletDbDir = "wallet"

	maxConflictRetries = 10
	conflictBackoff    = 5 * time.Millisecond
)

type txKey struct{}

// repoManager holds all the repositories of the wallet, sharing a single
// badgerhold store.
type repoManager struct {
	store *badgerhold.Store

	exchangeRepository        domain.ExchangeRepository
	denominationRepository    domain.DenominationRepository
	coinRepository            domain.CoinRepository
	reserveRepository         domain.ReserveRepository
	withdrawalGroupRepository domain.WithdrawalGroupRepository
	planchetRepository        domain.PlanchetRepository
	refreshGroupRepository    domain.RefreshGroupRepository
	backupProviderRepository  domain.BackupProviderRepository
	backupConfigRepository    domain.BackupConfigRepository
	purchaseRepository        domain.PurchaseRepository
	tombstoneRepository       domain.TombstoneRepository
}

// NewRepoManager opens (or creates if not exists) the badger store on disk.
// It expects a base data dir and an optional logger. If the data dir is
// empty the store is kept in memory.
func NewRepoManager(baseDbDir string, logger badger.Logger) (ports.RepoManager, error) {
	var dbDir string
	if len(baseDbDir) > 0 {
		dbDir = filepath.Join(baseDbDir, walletDbDir)
	}

	store, err := createDb(dbDir, logger)
	if err != nil {
		return nil, fmt.Errorf("opening wallet db: %w", err)
	}

	return &repoManager{
		store:                     store,
		exchangeRepository:        NewExchangeRepositoryImpl(store),
		denominationRepository:    NewDenominationRepositoryImpl(store),
		coinRepository:            NewCoinRepositoryImpl(store),
		reserveRepository:         NewReserveRepositoryImpl(store),
		withdrawalGroupRepository: NewWithdrawalGroupRepositoryImpl(store),
		planchetRepository:        NewPlanchetRepositoryImpl(store),
		refreshGroupRepository:    NewRefreshGroupRepositoryImpl(store),
		backupProviderRepository:  NewBackupProviderRepositoryImpl(store),
		backupConfigRepository:    NewBackupConfigRepositoryImpl(store),
		purchaseRepository:        NewPurchaseRepositoryImpl(store),
		tombstoneRepository:       NewTombstoneRepositoryImpl(store),
	}, nil
}

// NewLogger returns a badger logger writing through logrus.
func NewLogger() badger.Logger {
	return log.WithField("component", "badger")
}

func (r *repoManager) ExchangeRepository() domain.ExchangeRepository {
	return r.exchangeRepository
}

func (r *repoManager) DenominationRepository() domain.DenominationRepository {
	return r.denominationRepository
}

func (r *repoManager) CoinRepository() domain.CoinRepository {
	return r.coinRepository
}

func (r *repoManager) ReserveRepository() domain.ReserveRepository {
	return r.reserveRepository
}

func (r *repoManager) WithdrawalGroupRepository() domain.WithdrawalGroupRepository {
	return r.withdrawalGroupRepository
}

func (r *repoManager) PlanchetRepository() domain.PlanchetRepository {
	return r.planchetRepository
}

func (r *repoManager) RefreshGroupRepository() domain.RefreshGroupRepository {
	return r.refreshGroupRepository
}

func (r *repoManager) BackupProviderRepository() domain.BackupProviderRepository {
	return r.backupProviderRepository
}

func (r *repoManager) BackupConfigRepository() domain.BackupConfigRepository {
	return r.backupConfigRepository
}

func (r *repoManager) PurchaseRepository() domain.PurchaseRepository {
	return r.purchaseRepository
}

func (r *repoManager) TombstoneRepository() domain.TombstoneRepository {
	return r.tombstoneRepository
}

func (r *repoManager) Close() {
	if err := r.store.Close(); err != nil {
		log.WithError(err).Warn("failed to close wallet db")
	}
}

func (r *repoManager) RunTransaction(
	ctx context.Context,
	readOnly bool,
	handler func(ctx context.Context) (interface{}, error),
) (interface{}, error) {
	if txFromContext(ctx) != nil {
		return handler(ctx)
	}

	var result interface{}
	err := handleConflictWithBackoff(func() error {
		tx := r.store.Badger().NewTransaction(!readOnly)
		defer tx.Discard()

		res, err := handler(context.WithValue(ctx, txKey{}, tx))
		if err != nil {
			return err
		}
		if !readOnly {
			if err := tx.Commit(); err != nil {
				return err
			}
		}
		result = res
		return nil
	})
	return result, err
}

// JSONEncode is a custom JSON based encoder for badger
func JSONEncode(value interface{}) ([]byte, error) {
	var buff bytes.Buffer

	en := json.NewEncoder(&buff)

	err := en.Encode(value)
	if err != nil {
		return nil, err
	}

	return buff.Bytes(), nil
}

// JSONDecode is a custom JSON based decoder for badger
func JSONDecode(data []byte, value interface{}) error {
	return json.NewDecoder(bytes.NewReader(data)).Decode(value)
}

func createDb(dbDir string, logger badger.Logger) (*badgerhold.Store, error) {
	isInMemory := len(dbDir) <= 0

	opts := badger.DefaultOptions(dbDir)
	opts.Logger = logger

	if isInMemory {
		opts.InMemory = true
	} else {
		opts.Compression = options.ZSTD
	}

	db, err := badgerhold.Open(badgerhold.Options{
		Encoder:          JSONEncode,
		Decoder:          JSONDecode,
		SequenceBandwith: 100,
		Options:          opts,
	})
	if err != nil {
		return nil, err
	}

	if !isInMemory {
		ticker := time.NewTicker(30 * time.Minute)

		go func() {
			for {
				<-ticker.C
				if err := db.Badger().RunValueLogGC(0.5); err != nil &&
					err != badger.ErrNoRewrite {
					if errors.Is(err, badger.ErrRejected) {
						ticker.Stop()
						return
					}
					log.Error(err)
				}
			}
		}()
	}

	return db, nil
}

func txFromContext(ctx context.Context) *badger.Txn {
	if tx, ok := ctx.Value(txKey{}).(*badger.Txn); ok {
		return tx
	}
	return nil
}

// view runs fn in the transaction carried by ctx, if any, or in a new
// read-only one.
func view(
	ctx context.Context, store *badgerhold.Store, fn func(tx *badger.Txn) error,
) error {
	if tx := txFromContext(ctx); tx != nil {
		return fn(tx)
	}
	return store.Badger().View(fn)
}

// update runs fn in the transaction carried by ctx, if any, or in a new
// read-write one retried on conflicts.
func update(
	ctx context.Context, store *badgerhold.Store, fn func(tx *badger.Txn) error,
) error {
	if tx := txFromContext(ctx); tx != nil {
		return fn(tx)
	}
	return handleConflictWithBackoff(func() error {
		return store.Badger().Update(fn)
	})
}

func handleConflictWithBackoff(fn func() error) (err error) {
	sleepTime := conflictBackoff

	for i := 0; i < maxConflictRetries; i++ {
		err = fn()
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		time.Sleep(sleepTime)
		sleepTime *= 2
	}

	return err
}
