package domain

import (
	"time"
)

// WithdrawSafetyMargin is the time before the end of the withdrawal period
// after which a denomination is not used for withdrawing anymore.
const WithdrawSafetyMargin = 5 * time.Minute

// DenominationVerificationStatus tells whether the exchange's master
// signature over a denomination has been checked.
type DenominationVerificationStatus int

const (
	DenominationUnverified DenominationVerificationStatus = iota
	DenominationVerifiedGood
	DenominationVerifiedBad
)

func (s DenominationVerificationStatus) String() string {
	switch s {
	case DenominationVerifiedGood:
		return "VerifiedGood"
	case DenominationVerifiedBad:
		return "VerifiedBad"
	default:
		return "Unverified"
	}
}

// Denomination is a (value, fees, validity) tuple announced by an exchange,
// coins are issued against.
type Denomination struct {
	ExchangeBaseURL     string `badgerhold:"index"`
	DenomPub            string
	DenomPubHash        string
	Value               Amount
	FeeWithdraw         Amount
	FeeDeposit          Amount
	FeeRefresh          Amount
	FeeRefund           Amount
	StampStart          time.Time
	StampExpireWithdraw time.Time
	StampExpireDeposit  time.Time
	StampExpireLegal    time.Time
	MasterSig           string
	IsOffered           bool
	IsRevoked           bool
	VerificationStatus  DenominationVerificationStatus
}

// Key returns the key of the denomination, unique across exchanges.
func (d Denomination) Key() string {
	return DenominationKey(d.ExchangeBaseURL, d.DenomPubHash)
}

// DenominationKey ...
func DenominationKey(exchangeBaseURL, denomPubHash string) string {
	return exchangeBaseURL + "#" + denomPubHash
}

// IsWithdrawable returns whether a coin of this denomination can be
// withdrawn at the given time.
func (d Denomination) IsWithdrawable(now time.Time) bool {
	if now.Before(d.StampStart) {
		return false
	}
	if d.IsRevoked || !d.IsOffered {
		return false
	}
	lastPossibleWithdraw := d.StampExpireWithdraw.Add(-WithdrawSafetyMargin)
	return now.Before(lastPossibleWithdraw)
}

// Verify records the outcome of the master signature check. Once verified,
// the denomination can't change status anymore.
func (d *Denomination) Verify(valid bool) error {
	if d.VerificationStatus != DenominationUnverified {
		return ErrDenominationVerified
	}
	if valid {
		d.VerificationStatus = DenominationVerifiedGood
	} else {
		d.VerificationStatus = DenominationVerifiedBad
	}
	return nil
}

// Revoke is the only mutation allowed to a verified denomination.
func (d *Denomination) Revoke() {
	d.IsRevoked = true
}

// WithdrawCost returns the cost of withdrawing one coin, fee included.
func (d Denomination) WithdrawCost() Amount {
	cost, _ := d.Value.Add(d.FeeWithdraw)
	return cost
}

// AutoRefreshThresholds returns the time after which a coin of this
// denomination should be refreshed and the time at which it should be
// checked again. Both are computed as a fraction of the span between the
// end of the withdrawal period and the end of the deposit period.
func (d Denomination) AutoRefreshThresholds() (execute, check time.Time) {
	span := d.StampExpireDeposit.Sub(d.StampExpireWithdraw)
	execute = d.StampExpireWithdraw.Add(span / 2)
	check = d.StampExpireWithdraw.Add(span * 3 / 4)
	return
}
