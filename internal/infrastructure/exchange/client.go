// Package exchange implements ports.ExchangeClient over the exchange's
// HTTP API.
package exchange

import (
	"context"
	"time"

	"github.com/taler-go/walletd/internal/core/ports"
	"github.com/taler-go/walletd/internal/infrastructure/transport"
)

type client struct {
	transport *transport.Client
}

// NewClient returns an exchange client sending requests through the given
// transport.
func NewClient(t *transport.Client) ports.ExchangeClient {
	return &client{t}
}

func (c *client) GetKeys(
	ctx context.Context, baseURL string, timeout time.Duration,
) (*ports.ExchangeKeys, error) {
	keys := &ports.ExchangeKeys{}
	url := transport.JoinURL(baseURL, "keys")
	if err := c.transport.GetJSON(ctx, url, timeout, keys); err != nil {
		return nil, err
	}
	return keys, nil
}

func (c *client) GetReserveStatus(
	ctx context.Context, baseURL, reservePub string, timeout time.Duration,
) (*ports.ReserveStatus, error) {
	status := &ports.ReserveStatus{}
	url := transport.JoinURL(baseURL, "reserves", reservePub)
	if err := c.transport.GetJSON(ctx, url, timeout, status); err != nil {
		return nil, err
	}
	return status, nil
}

func (c *client) Withdraw(
	ctx context.Context, baseURL string, req ports.WithdrawRequest,
	timeout time.Duration,
) (*ports.WithdrawResponse, error) {
	res := &ports.WithdrawResponse{}
	url := transport.JoinURL(baseURL, "reserves", req.ReservePub, "withdraw")
	if err := c.transport.PostJSON(ctx, url, req, timeout, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *client) Melt(
	ctx context.Context, baseURL string, req ports.MeltRequest,
	timeout time.Duration,
) (*ports.MeltResponse, error) {
	res := &ports.MeltResponse{}
	url := transport.JoinURL(baseURL, "coins", req.CoinPub, "melt")
	if err := c.transport.PostJSON(ctx, url, req, timeout, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *client) Reveal(
	ctx context.Context, baseURL string, req ports.RevealRequest,
	timeout time.Duration,
) (*ports.RevealResponse, error) {
	res := &ports.RevealResponse{}
	url := transport.JoinURL(baseURL, "refreshes", req.Rc, "reveal")
	if err := c.transport.PostJSON(ctx, url, req, timeout, res); err != nil {
		return nil, err
	}
	return res, nil
}
