package domain

import "context"

// RefreshGroupRepository is the abstraction for any kind of database
// intended to persist refresh groups.
type RefreshGroupRepository interface {
	GetRefreshGroup(ctx context.Context, id string) (*RefreshGroup, error)
	GetAllRefreshGroups(ctx context.Context) ([]*RefreshGroup, error)
	AddRefreshGroup(ctx context.Context, group *RefreshGroup) error
	UpdateRefreshGroup(
		ctx context.Context, id string,
		updateFn func(g *RefreshGroup) (*RefreshGroup, error),
	) error
	DeleteRefreshGroup(ctx context.Context, id string) error
}
