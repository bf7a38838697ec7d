package domain

import "context"

// ExchangeRepository is the abstraction for any kind of database intended
// to persist exchanges and their denominations.
type ExchangeRepository interface {
	// GetExchange returns the exchange with the given base url, or nil if
	// not known.
	GetExchange(ctx context.Context, baseURL string) (*Exchange, error)
	GetAllExchanges(ctx context.Context) ([]*Exchange, error)
	// AddOrUpdateExchange stores the given exchange, replacing any previous
	// version.
	AddOrUpdateExchange(ctx context.Context, exchange *Exchange) error
	UpdateExchange(
		ctx context.Context, baseURL string,
		updateFn func(e *Exchange) (*Exchange, error),
	) error
}

// DenominationRepository is the abstraction for any kind of database
// intended to persist denominations.
type DenominationRepository interface {
	GetDenomination(
		ctx context.Context, exchangeBaseURL, denomPubHash string,
	) (*Denomination, error)
	GetDenominationsForExchange(
		ctx context.Context, exchangeBaseURL string,
	) ([]*Denomination, error)
	GetAllDenominations(ctx context.Context) ([]*Denomination, error)
	AddOrUpdateDenomination(ctx context.Context, denom *Denomination) error
}
