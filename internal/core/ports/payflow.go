package ports

import "context"

type PreparePayStatus string

const (
	PreparePayPaymentPossible     PreparePayStatus = "payment-possible"
	PreparePayInsufficientBalance PreparePayStatus = "insufficient-balance"
	PreparePayAlreadyConfirmed    PreparePayStatus = "already-confirmed"
)

type PreparePayResult struct {
	Status     PreparePayStatus
	ProposalID string
}

// PayFlow is the entry point of the payment logic, which lives outside of
// the wallet core.
type PayFlow interface {
	PreparePay(ctx context.Context, talerPayURI string) (*PreparePayResult, error)
	ConfirmPay(ctx context.Context, proposalID string) error
}
