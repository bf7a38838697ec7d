package domain

import "context"

// ReserveRepository is the abstraction for any kind of database intended
// to persist reserves.
type ReserveRepository interface {
	// GetReserve returns the reserve with the given public key, or nil if
	// not known.
	GetReserve(ctx context.Context, reservePub string) (*Reserve, error)
	// GetReserveByBankStatusURL returns the reserve created for the given
	// bank withdrawal operation, if any.
	GetReserveByBankStatusURL(ctx context.Context, statusURL string) (*Reserve, error)
	GetAllReserves(ctx context.Context) ([]*Reserve, error)
	AddReserve(ctx context.Context, reserve *Reserve) error
	// UpdateReserve allows to commit multiple changes to the same reserve
	// in a transactional way.
	UpdateReserve(
		ctx context.Context, reservePub string,
		updateFn func(r *Reserve) (*Reserve, error),
	) error
	DeleteReserve(ctx context.Context, reservePub string) error
}
