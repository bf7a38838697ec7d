package domain

import (
	"time"
)

// Purchase is a payment accepted by the wallet. Purchases are written by
// the pay flow and only carried along in backups by the wallet core.
type Purchase struct {
	ProposalID        string
	NoncePriv         string
	NoncePub          string
	ContractTermsRaw  string
	ContractTermsHash string
	Paid              bool
	TimestampAccepted time.Time
}
