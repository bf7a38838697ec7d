// Package bank implements ports.BankClient over the bank integration API.
package bank

import (
	"context"
	"time"

	"github.com/taler-go/walletd/internal/core/ports"
	"github.com/taler-go/walletd/internal/infrastructure/transport"
)

type client struct {
	transport *transport.Client
}

func NewClient(t *transport.Client) ports.BankClient {
	return &client{t}
}

func (c *client) GetConfig(
	ctx context.Context, configURL string, timeout time.Duration,
) (*ports.BankConfig, error) {
	cfg := &ports.BankConfig{}
	if err := c.transport.GetJSON(ctx, configURL, timeout, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *client) GetWithdrawalOperationStatus(
	ctx context.Context, statusURL string, timeout time.Duration,
) (*ports.BankWithdrawalOperationStatus, error) {
	status := &ports.BankWithdrawalOperationStatus{}
	if err := c.transport.GetJSON(ctx, statusURL, timeout, status); err != nil {
		return nil, err
	}
	return status, nil
}

func (c *client) RegisterWithdrawalOperation(
	ctx context.Context, statusURL string, req ports.BankRegistrationRequest,
	timeout time.Duration,
) error {
	return c.transport.PostJSON(ctx, statusURL, req, timeout, nil)
}
