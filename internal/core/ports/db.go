package ports

import (
	"context"

	"github.com/taler-go/walletd/internal/core/domain"
)

// RepoManager interface defines the methods to access the repositories of
// the wallet and to run transactions spanning over them.
type RepoManager interface {
	ExchangeRepository() domain.ExchangeRepository
	DenominationRepository() domain.DenominationRepository
	CoinRepository() domain.CoinRepository
	ReserveRepository() domain.ReserveRepository
	WithdrawalGroupRepository() domain.WithdrawalGroupRepository
	PlanchetRepository() domain.PlanchetRepository
	RefreshGroupRepository() domain.RefreshGroupRepository
	BackupProviderRepository() domain.BackupProviderRepository
	BackupConfigRepository() domain.BackupConfigRepository
	PurchaseRepository() domain.PurchaseRepository
	TombstoneRepository() domain.TombstoneRepository

	Close()

	// RunTransaction runs the handler within a transaction that is committed
	// if the handler returns no error, and discarded otherwise. When ctx
	// already carries a transaction, the handler joins it instead.
	RunTransaction(
		ctx context.Context,
		readOnly bool,
		handler func(ctx context.Context) (interface{}, error),
	) (interface{}, error)
}
