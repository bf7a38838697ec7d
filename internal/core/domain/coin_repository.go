package domain

import "context"

// CoinRepository is the abstraction for any kind of database intended to
// persist coins.
type CoinRepository interface {
	// GetCoin returns the coin with the given public key, or nil if not
	// known.
	GetCoin(ctx context.Context, coinPub string) (*Coin, error)
	GetCoinByCoinEvHash(ctx context.Context, coinEvHash string) (*Coin, error)
	GetCoinsForExchange(ctx context.Context, exchangeBaseURL string) ([]*Coin, error)
	GetAllCoins(ctx context.Context) ([]*Coin, error)
	// AddCoin stores a new coin. It returns ErrRecordAlreadyExists if a coin
	// with the same public key is already stored.
	AddCoin(ctx context.Context, coin *Coin) error
	// UpdateCoin allows to commit multiple changes to the same coin in a
	// transactional way.
	UpdateCoin(
		ctx context.Context, coinPub string,
		updateFn func(c *Coin) (*Coin, error),
	) error
}
