package domain

import "context"

// WithdrawalGroupRepository is the abstraction for any kind of database
// intended to persist withdrawal groups.
type WithdrawalGroupRepository interface {
	GetWithdrawalGroup(ctx context.Context, id string) (*WithdrawalGroup, error)
	GetWithdrawalGroupsForReserve(
		ctx context.Context, reservePub string,
	) ([]*WithdrawalGroup, error)
	GetAllWithdrawalGroups(ctx context.Context) ([]*WithdrawalGroup, error)
	AddWithdrawalGroup(ctx context.Context, group *WithdrawalGroup) error
	UpdateWithdrawalGroup(
		ctx context.Context, id string,
		updateFn func(g *WithdrawalGroup) (*WithdrawalGroup, error),
	) error
	DeleteWithdrawalGroup(ctx context.Context, id string) error
}

// PlanchetRepository is the abstraction for any kind of database intended
// to persist planchets.
type PlanchetRepository interface {
	GetPlanchet(
		ctx context.Context, withdrawalGroupID string, coinIndex int,
	) (*Planchet, error)
	GetPlanchetByCoinEvHash(ctx context.Context, coinEvHash string) (*Planchet, error)
	GetPlanchetsForWithdrawalGroup(
		ctx context.Context, withdrawalGroupID string,
	) ([]*Planchet, error)
	// AddPlanchet stores a new planchet. It returns ErrRecordAlreadyExists if
	// one with the same group id and index is already stored.
	AddPlanchet(ctx context.Context, planchet *Planchet) error
	UpdatePlanchet(
		ctx context.Context, withdrawalGroupID string, coinIndex int,
		updateFn func(p *Planchet) (*Planchet, error),
	) error
	DeletePlanchetsForWithdrawalGroup(ctx context.Context, withdrawalGroupID string) error
}
