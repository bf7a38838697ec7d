package ports

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/taler-go/walletd/internal/core/domain"
)

// Timestamp is the JSON wire form of a point in time, in milliseconds.
// The zero value is encoded as "never", while a decoded "never" becomes
// Never so that it compares after any real time.
type Timestamp struct {
	time.Time
}

// Never is the latest time that survives a JSON round trip of time.Time.
var Never = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)

func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{t.Truncate(time.Millisecond)}
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte(`{"t_ms":"never"}`), nil
	}
	return []byte(fmt.Sprintf(`{"t_ms":%d}`, t.UnixMilli())), nil
}

func (t *Timestamp) UnmarshalJSON(buf []byte) error {
	var raw struct {
		TMs json.RawMessage `json:"t_ms"`
	}
	if err := json.Unmarshal(buf, &raw); err != nil {
		return err
	}
	if string(raw.TMs) == `"never"` {
		t.Time = Never
		return nil
	}
	var ms int64
	if err := json.Unmarshal(raw.TMs, &ms); err != nil {
		return fmt.Errorf("invalid timestamp: %w", err)
	}
	t.Time = time.UnixMilli(ms).UTC()
	return nil
}

type ExchangeDenomination struct {
	DenomPub            string        `json:"denom_pub"`
	Value               domain.Amount `json:"value"`
	FeeWithdraw         domain.Amount `json:"fee_withdraw"`
	FeeDeposit          domain.Amount `json:"fee_deposit"`
	FeeRefresh          domain.Amount `json:"fee_refresh"`
	FeeRefund           domain.Amount `json:"fee_refund"`
	StampStart          Timestamp     `json:"stamp_start"`
	StampExpireWithdraw Timestamp     `json:"stamp_expire_withdraw"`
	StampExpireDeposit  Timestamp     `json:"stamp_expire_deposit"`
	StampExpireLegal    Timestamp     `json:"stamp_expire_legal"`
	MasterSig           string        `json:"master_sig"`
}

type ExchangeRecoup struct {
	HDenomPub string `json:"h_denom_pub"`
}

// ExchangeKeys is the response of GET /keys.
type ExchangeKeys struct {
	Version         string                 `json:"version"`
	Currency        string                 `json:"currency"`
	MasterPublicKey string                 `json:"master_public_key"`
	Denoms          []ExchangeDenomination `json:"denoms"`
	Recoup          []ExchangeRecoup       `json:"recoup"`
	ListIssueDate   Timestamp              `json:"list_issue_date"`
}

const (
	ReserveTransactionCredit   = "CREDIT"
	ReserveTransactionWithdraw = "WITHDRAW"
	ReserveTransactionClosing  = "CLOSING"
	ReserveTransactionRecoup   = "RECOUP"
)

type ReserveTransaction struct {
	Type          string        `json:"type"`
	Amount        domain.Amount `json:"amount"`
	HCoinEnvelope string        `json:"h_coin_envelope,omitempty"`
	WireReference string        `json:"wire_reference,omitempty"`
	Timestamp     *Timestamp    `json:"timestamp,omitempty"`
}

// ReserveStatus is the response of GET /reserves/<pub>.
type ReserveStatus struct {
	Balance domain.Amount        `json:"balance"`
	History []ReserveTransaction `json:"history"`
}

type WithdrawRequest struct {
	ReservePub   string `json:"reserve_pub"`
	ReserveSig   string `json:"reserve_sig"`
	DenomPubHash string `json:"denom_pub_hash"`
	CoinEv       string `json:"coin_ev"`
}

type WithdrawResponse struct {
	EvSig string `json:"ev_sig"`
}

type MeltRequest struct {
	CoinPub      string        `json:"coin_pub"`
	ConfirmSig   string        `json:"confirm_sig"`
	DenomPubHash string        `json:"denom_pub_hash"`
	DenomSig     string        `json:"denom_sig"`
	Rc           string        `json:"rc"`
	ValueWithFee domain.Amount `json:"value_with_fee"`
}

type MeltResponse struct {
	NorevealIndex int    `json:"noreveal_index"`
	ExchangePub   string `json:"exchange_pub,omitempty"`
	ExchangeSig   string `json:"exchange_sig,omitempty"`
}

type RevealRequest struct {
	CoinEvs       []string `json:"coin_evs"`
	NewDenomsH    []string `json:"new_denoms_h"`
	Rc            string   `json:"rc"`
	TransferPrivs []string `json:"transfer_privs"`
	TransferPub   string   `json:"transfer_pub"`
	LinkSigs      []string `json:"link_sigs"`
}

type RevealedSig struct {
	EvSig string `json:"ev_sig"`
}

type RevealResponse struct {
	EvSigs []RevealedSig `json:"ev_sigs"`
}

// ExchangeClient talks to the exchange HTTP API. Failures are returned as
// *domain.OperationError carrying the status of the response, if any.
type ExchangeClient interface {
	GetKeys(
		ctx context.Context, baseURL string, timeout time.Duration,
	) (*ExchangeKeys, error)
	GetReserveStatus(
		ctx context.Context, baseURL, reservePub string, timeout time.Duration,
	) (*ReserveStatus, error)
	Withdraw(
		ctx context.Context, baseURL string, req WithdrawRequest,
		timeout time.Duration,
	) (*WithdrawResponse, error)
	Melt(
		ctx context.Context, baseURL string, req MeltRequest,
		timeout time.Duration,
	) (*MeltResponse, error)
	Reveal(
		ctx context.Context, baseURL string, req RevealRequest,
		timeout time.Duration,
	) (*RevealResponse, error)
}
