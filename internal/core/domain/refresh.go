package domain

import (
	"time"
)

// Kappa is the cut-and-choose security parameter of the refresh protocol.
const Kappa = 3

// RefreshReason tells why coins are refreshed.
type RefreshReason string

const (
	RefreshReasonManual    RefreshReason = "manual"
	RefreshReasonPay       RefreshReason = "pay"
	RefreshReasonRefund    RefreshReason = "refund"
	RefreshReasonAbortPay  RefreshReason = "abort-pay"
	RefreshReasonRecoup    RefreshReason = "recoup"
	RefreshReasonScheduled RefreshReason = "scheduled"
)

// RefreshCoinStatus is the status of a single old coin of a refresh group.
type RefreshCoinStatus int

const (
	RefreshCoinPending RefreshCoinStatus = iota
	RefreshCoinFinished
	// RefreshCoinFrozen coins can't be refreshed anymore, their value is
	// lost.
	RefreshCoinFrozen
)

func (s RefreshCoinStatus) String() string {
	switch s {
	case RefreshCoinFinished:
		return "Finished"
	case RefreshCoinFrozen:
		return "Frozen"
	default:
		return "Pending"
	}
}

// RefreshSession is the melt/reveal session of one old coin.
type RefreshSession struct {
	SessionSecretSeed   string
	NewDenoms           []DenomSelectionItem
	AmountRefreshOutput Amount
	NorevealIndex       *int
}

// RefreshGroup refreshes a set of old coins into new ones.
type RefreshGroup struct {
	RefreshGroupID         string
	Reason                 RefreshReason
	OldCoinPubs            []string
	InputPerCoin           []Amount
	EstimatedOutputPerCoin []Amount
	StatusPerCoin          []RefreshCoinStatus
	SessionPerCoin         []*RefreshSession
	LastErrorPerCoin       map[int]*ErrorDetail
	Frozen                 bool
	TimestampCreated       time.Time
	TimestampFinished      time.Time
	RetryInfo              RetryInfo
	LastError              *ErrorDetail
}

// NewRefreshGroup returns a group for the given old coins. A group with no
// coins is finished right away.
func NewRefreshGroup(
	id string, reason RefreshReason, oldCoinPubs []string,
	inputPerCoin, estimatedOutputPerCoin []Amount, now time.Time,
) *RefreshGroup {
	g := &RefreshGroup{
		RefreshGroupID:         id,
		Reason:                 reason,
		OldCoinPubs:            oldCoinPubs,
		InputPerCoin:           inputPerCoin,
		EstimatedOutputPerCoin: estimatedOutputPerCoin,
		StatusPerCoin:          make([]RefreshCoinStatus, len(oldCoinPubs)),
		SessionPerCoin:         make([]*RefreshSession, len(oldCoinPubs)),
		LastErrorPerCoin:       make(map[int]*ErrorDetail),
		TimestampCreated:       now,
		RetryInfo:              NewRetryInfo(now),
	}
	if len(oldCoinPubs) == 0 {
		g.TimestampFinished = now
		g.RetryInfo.Active = false
	}
	return g
}

// IsFinished returns whether the group reached a terminal state.
func (g *RefreshGroup) IsFinished() bool {
	return !g.TimestampFinished.IsZero() || g.Frozen
}

// FinishCoin marks the coin at the given index as refreshed.
func (g *RefreshGroup) FinishCoin(coinIndex int) error {
	if coinIndex < 0 || coinIndex >= len(g.StatusPerCoin) {
		return ErrRefreshCoinIndexOutOfRange
	}
	g.StatusPerCoin[coinIndex] = RefreshCoinFinished
	return nil
}

// FreezeCoin marks the coin at the given index as impossible to refresh.
func (g *RefreshGroup) FreezeCoin(coinIndex int, detail *ErrorDetail) error {
	if coinIndex < 0 || coinIndex >= len(g.StatusPerCoin) {
		return ErrRefreshCoinIndexOutOfRange
	}
	g.StatusPerCoin[coinIndex] = RefreshCoinFrozen
	if g.LastErrorPerCoin == nil {
		g.LastErrorPerCoin = make(map[int]*ErrorDetail)
	}
	g.LastErrorPerCoin[coinIndex] = detail
	return nil
}

// UpdateStatus checks whether every coin reached a terminal status and, in
// that case, terminates the group. A group with any frozen coin ends up
// frozen rather than finished. It returns whether the group terminated.
func (g *RefreshGroup) UpdateStatus(now time.Time) bool {
	if g.IsFinished() {
		return false
	}
	allDone := true
	anyFrozen := false
	for _, s := range g.StatusPerCoin {
		switch s {
		case RefreshCoinPending:
			allDone = false
		case RefreshCoinFrozen:
			anyFrozen = true
		}
	}
	if !allDone {
		return false
	}
	if anyFrozen {
		g.Frozen = true
	} else {
		g.TimestampFinished = now
	}
	g.RetryInfo = NewRetryInfo(now)
	g.RetryInfo.Active = false
	return true
}
