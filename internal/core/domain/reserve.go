package domain

import (
	"time"
)

// ReserveStatus is the state of a reserve in its lifecycle.
type ReserveStatus int

const (
	// ReserveRegisteringBank: the reserve must be registered with the bank
	// for a bank-integrated withdrawal.
	ReserveRegisteringBank ReserveStatus = iota
	// ReserveWaitConfirmBank: registered, the user must confirm the
	// transfer with the bank.
	ReserveWaitConfirmBank
	// ReserveQueryingStatus: waiting for the exchange to report the funds.
	ReserveQueryingStatus
	// ReserveDormant: the reserve is not actively queried.
	ReserveDormant
	// ReserveBankAborted: the bank aborted the withdrawal operation.
	ReserveBankAborted
)

func (s ReserveStatus) String() string {
	switch s {
	case ReserveRegisteringBank:
		return "REGISTERING_BANK"
	case ReserveWaitConfirmBank:
		return "WAIT_CONFIRM_BANK"
	case ReserveQueryingStatus:
		return "QUERYING_STATUS"
	case ReserveDormant:
		return "DORMANT"
	case ReserveBankAborted:
		return "BANK_ABORTED"
	default:
		return "UNKNOWN"
	}
}

// ReserveBankInfo holds the info about a bank-integrated withdrawal.
type ReserveBankInfo struct {
	StatusURL        string
	ExchangePaytoURI string
	ConfirmURL       string
}

// Reserve is a funded account at an exchange, from which coins are
// withdrawn.
type Reserve struct {
	ReservePub               string
	ReservePriv              string
	ExchangeBaseURL          string
	Currency                 string
	InstructedAmount         Amount
	ReserveStatus            ReserveStatus
	BankInfo                 *ReserveBankInfo
	BankStatusURL            string `badgerhold:"index"`
	SenderWire               string
	InitialWithdrawalGroupID string
	InitialWithdrawalStarted bool
	InitialDenomSel          DenomSelectionState
	TimestampCreated         time.Time
	TimestampBankConfirmed   time.Time
	TimestampInfoPosted      time.Time
	LastSuccessfulQuery      time.Time
	RequestedQuery           bool
	RetryInfo                RetryInfo
	LastError                *ErrorDetail
}

// NewReserve returns a reserve in its initial status, which depends on
// whether it comes with bank info.
func NewReserve(
	pub, priv, exchangeBaseURL string, amount Amount,
	bankInfo *ReserveBankInfo, senderWire, initialWithdrawalGroupID string,
	initialDenomSel DenomSelectionState, now time.Time,
) *Reserve {
	status := ReserveQueryingStatus
	statusURL := ""
	if bankInfo != nil {
		status = ReserveRegisteringBank
		statusURL = bankInfo.StatusURL
	}
	return &Reserve{
		ReservePub:               pub,
		ReservePriv:              priv,
		ExchangeBaseURL:          exchangeBaseURL,
		Currency:                 amount.Currency,
		InstructedAmount:         amount,
		ReserveStatus:            status,
		BankInfo:                 bankInfo,
		BankStatusURL:            statusURL,
		SenderWire:               senderWire,
		InitialWithdrawalGroupID: initialWithdrawalGroupID,
		InitialDenomSel:          initialDenomSel,
		TimestampCreated:         now,
		RetryInfo:                NewRetryInfo(now),
	}
}

// IsBankPending returns whether the reserve still waits for the bank.
func (r *Reserve) IsBankPending() bool {
	return r.ReserveStatus == ReserveRegisteringBank ||
		r.ReserveStatus == ReserveWaitConfirmBank
}

// RegisteredWithBank brings the reserve to WAIT_CONFIRM_BANK once the bank
// accepted the registration. It returns false if the reserve is not in a
// bank state anymore.
func (r *Reserve) RegisteredWithBank(now time.Time) (bool, error) {
	if !r.IsBankPending() {
		return false, nil
	}
	if r.BankInfo == nil {
		return false, ErrReserveBankInfoMissing
	}
	r.TimestampInfoPosted = now
	r.ReserveStatus = ReserveWaitConfirmBank
	r.RetryInfo = NewRetryInfo(now)
	return true, nil
}

// ConfirmedByBank moves the reserve to QUERYING_STATUS once the bank
// reports the transfer done.
func (r *Reserve) ConfirmedByBank(now time.Time) bool {
	if !r.IsBankPending() {
		return false
	}
	r.TimestampBankConfirmed = now
	r.ReserveStatus = ReserveQueryingStatus
	r.RetryInfo = NewRetryInfo(now)
	return true
}

// AbortedByBank moves the reserve to the terminal BANK_ABORTED status.
func (r *Reserve) AbortedByBank(now time.Time) bool {
	if !r.IsBankPending() {
		return false
	}
	r.TimestampBankConfirmed = now
	r.ReserveStatus = ReserveBankAborted
	r.RetryInfo = NewRetryInfo(now)
	return true
}

// SetConfirmURL stores the url where the user confirms the transfer.
func (r *Reserve) SetConfirmURL(url string) bool {
	if r.ReserveStatus != ReserveWaitConfirmBank || r.BankInfo == nil {
		return false
	}
	r.BankInfo.ConfirmURL = url
	return true
}

// MarkDormant is called when the funds of the reserve have been claimed by
// withdrawal groups.
func (r *Reserve) MarkDormant(now time.Time) error {
	if r.ReserveStatus != ReserveQueryingStatus {
		return ErrReserveInvalidTransition
	}
	r.ReserveStatus = ReserveDormant
	r.LastSuccessfulQuery = now
	r.RequestedQuery = false
	r.LastError = nil
	r.RetryInfo = NewRetryInfo(now)
	return nil
}

// ForceQuery resets a dormant reserve to QUERYING_STATUS. In other states
// the query is only recorded as requested.
func (r *Reserve) ForceQuery(now time.Time) {
	if r.ReserveStatus == ReserveDormant {
		r.ReserveStatus = ReserveQueryingStatus
	} else {
		r.RequestedQuery = true
	}
	r.RetryInfo = NewRetryInfo(now)
}

// NextWithdrawalGroupID returns the pre-allocated id for the first
// withdrawal group of the reserve, or the given fresh one for any later
// group.
func (r *Reserve) NextWithdrawalGroupID(freshID string) string {
	if !r.InitialWithdrawalStarted {
		r.InitialWithdrawalStarted = true
		return r.InitialWithdrawalGroupID
	}
	return freshID
}
