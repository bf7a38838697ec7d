package payflow_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/taler-go/walletd/internal/core/ports"
	"github.com/taler-go/walletd/internal/infrastructure/payflow"
)

func TestPreparePay(t *testing.T) {
	ctx := context.Background()
	flow := payflow.NewLogOnly()

	res, err := flow.PreparePay(ctx, "taler://pay/merchant.test/order-1/")
	require.NoError(t, err)
	require.Equal(t, ports.PreparePayInsufficientBalance, res.Status)
	require.NotEmpty(t, res.ProposalID)

	again, err := flow.PreparePay(ctx, "taler://pay/merchant.test/order-1/")
	require.NoError(t, err)
	require.Equal(t, res.ProposalID, again.ProposalID)

	for _, uri := range []string{"https://merchant.test", "taler://withdraw/x"} {
		_, err := flow.PreparePay(ctx, uri)
		require.ErrorIs(t, err, payflow.ErrInvalidPayURI)
	}

	err = flow.ConfirmPay(ctx, res.ProposalID)
	require.ErrorIs(t, err, payflow.ErrPaymentUnsupported)
}
