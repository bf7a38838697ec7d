package domain

import "context"

// PurchaseRepository is the abstraction for any kind of database intended
// to persist purchases.
type PurchaseRepository interface {
	GetPurchase(ctx context.Context, proposalID string) (*Purchase, error)
	GetAllPurchases(ctx context.Context) ([]*Purchase, error)
	AddOrUpdatePurchase(ctx context.Context, purchase *Purchase) error
	DeletePurchase(ctx context.Context, proposalID string) error
}
