package domain

import "context"

// TombstoneRepository persists the deletions of entities.
type TombstoneRepository interface {
	AddTombstone(ctx context.Context, tombstone Tombstone) error
	HasTombstone(ctx context.Context, id string) (bool, error)
	GetAllTombstones(ctx context.Context) ([]Tombstone, error)
}
