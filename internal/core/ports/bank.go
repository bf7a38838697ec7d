package ports

import (
	"context"
	"time"

	"github.com/taler-go/walletd/internal/core/domain"
)

type BankConfig struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// BankWithdrawalOperationStatus is the state of a withdrawal operation as
// reported by the bank integration API.
type BankWithdrawalOperationStatus struct {
	SelectionDone      bool          `json:"selection_done"`
	TransferDone       bool          `json:"transfer_done"`
	Aborted            bool          `json:"aborted"`
	ConfirmTransferURL string        `json:"confirm_transfer_url,omitempty"`
	SenderWire         string        `json:"sender_wire,omitempty"`
	WireTypes          []string      `json:"wire_types"`
	Amount             domain.Amount `json:"amount"`
	SuggestedExchange  string        `json:"suggested_exchange,omitempty"`
}

type BankRegistrationRequest struct {
	ReservePub       string `json:"reserve_pub"`
	SelectedExchange string `json:"selected_exchange"`
}

type BankClient interface {
	GetConfig(
		ctx context.Context, configURL string, timeout time.Duration,
	) (*BankConfig, error)
	GetWithdrawalOperationStatus(
		ctx context.Context, statusURL string, timeout time.Duration,
	) (*BankWithdrawalOperationStatus, error)
	RegisterWithdrawalOperation(
		ctx context.Context, statusURL string, req BankRegistrationRequest,
		timeout time.Duration,
	) error
}
