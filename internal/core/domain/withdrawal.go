package domain

import (
	"strconv"
	"time"
)

// WithdrawalGroup turns a denomination selection into coins, withdrawn
// from a reserve.
type WithdrawalGroup struct {
	WithdrawalGroupID   string
	ExchangeBaseURL     string
	ReservePub          string `badgerhold:"index"`
	RawWithdrawalAmount Amount
	DenomsSel           DenomSelectionState
	SecretSeed          string
	TimestampStart      time.Time
	TimestampFinish     time.Time
	RetryInfo           RetryInfo
	LastError           *ErrorDetail
}

// IsFinished ...
func (g *WithdrawalGroup) IsFinished() bool {
	return !g.TimestampFinish.IsZero()
}

// Finish marks the group as finished the first time all its planchets are
// withdrawn. It returns false if the group was already finished.
func (g *WithdrawalGroup) Finish(now time.Time) bool {
	if g.IsFinished() {
		return false
	}
	g.TimestampFinish = now
	g.LastError = nil
	g.RetryInfo = NewRetryInfo(now)
	g.RetryInfo.Active = false
	return true
}

// DenomPubHashForIndex returns the hash of the denomination of the coin
// with the given index, according to the order of the selection.
func (g *WithdrawalGroup) DenomPubHashForIndex(coinIndex int) (string, error) {
	idx := coinIndex
	for _, sd := range g.DenomsSel.SelectedDenoms {
		if idx < sd.Count {
			return sd.DenomPubHash, nil
		}
		idx -= sd.Count
	}
	return "", ErrPlanchetIndexOutOfRange
}

// Planchet is the blinded candidate of a coin of a withdrawal group.
type Planchet struct {
	WithdrawalGroupID string `badgerhold:"index"`
	CoinIndex         int
	CoinPub           string
	CoinPriv          string
	BlindingKey       string
	CoinEv            string
	CoinEvHash        string `badgerhold:"index"`
	DenomPub          string
	DenomPubHash      string
	CoinValue         Amount
	ReservePub        string
	WithdrawSig       string
	WithdrawalDone    bool
	LastError         *ErrorDetail
}

// Key returns the key of the planchet.
func (p Planchet) Key() string {
	return PlanchetKey(p.WithdrawalGroupID, p.CoinIndex)
}

// PlanchetKey ...
func PlanchetKey(withdrawalGroupID string, coinIndex int) string {
	return withdrawalGroupID + "#" + strconv.Itoa(coinIndex)
}

// MarkWithdrawn flags the planchet as done. It returns false if it was
// already done, in which case no coin must be created for it.
func (p *Planchet) MarkWithdrawn() bool {
	if p.WithdrawalDone {
		return false
	}
	p.WithdrawalDone = true
	p.LastError = nil
	return true
}
