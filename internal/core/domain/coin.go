package domain

// CoinStatus tells whether a coin can be spent.
type CoinStatus int

const (
	// CoinFresh coins can be used for payments.
	CoinFresh CoinStatus = iota
	// CoinDormant coins are withdrawn but can't be used, for example because
	// they are being refreshed.
	CoinDormant
)

func (s CoinStatus) String() string {
	if s == CoinDormant {
		return "Dormant"
	}
	return "Fresh"
}

// CoinSourceType is the tag of the CoinSource sum type.
type CoinSourceType string

const (
	CoinSourceWithdraw CoinSourceType = "withdraw"
	CoinSourceRefresh  CoinSourceType = "refresh"
	CoinSourceTip      CoinSourceType = "tip"
)

// CoinSource tells how a coin entered the wallet. Exactly one of the
// payloads matches the Type.
type CoinSource struct {
	Type     CoinSourceType
	Withdraw *WithdrawCoinSource `json:",omitempty"`
	Refresh  *RefreshCoinSource  `json:",omitempty"`
	Tip      *TipCoinSource      `json:",omitempty"`
}

type WithdrawCoinSource struct {
	WithdrawalGroupID string
	ReservePub        string
	CoinIndex         int
}

type RefreshCoinSource struct {
	OldCoinPub string
}

type TipCoinSource struct {
	WalletTipID string
	CoinIndex   int
}

// NewWithdrawCoinSource ...
func NewWithdrawCoinSource(
	withdrawalGroupID, reservePub string, coinIndex int,
) CoinSource {
	return CoinSource{
		Type: CoinSourceWithdraw,
		Withdraw: &WithdrawCoinSource{
			WithdrawalGroupID: withdrawalGroupID,
			ReservePub:        reservePub,
			CoinIndex:         coinIndex,
		},
	}
}

// NewRefreshCoinSource ...
func NewRefreshCoinSource(oldCoinPub string) CoinSource {
	return CoinSource{
		Type:    CoinSourceRefresh,
		Refresh: &RefreshCoinSource{OldCoinPub: oldCoinPub},
	}
}

// NewTipCoinSource ...
func NewTipCoinSource(walletTipID string, coinIndex int) CoinSource {
	return CoinSource{
		Type: CoinSourceTip,
		Tip:  &TipCoinSource{WalletTipID: walletTipID, CoinIndex: coinIndex},
	}
}

// Coin is a blind-signed coin owned by the wallet.
type Coin struct {
	CoinPub         string
	CoinPriv        string
	BlindingKey     string
	DenomPub        string
	DenomPubHash    string
	DenomSig        string
	ExchangeBaseURL string `badgerhold:"index"`
	CoinEvHash      string `badgerhold:"index"`
	CurrentAmount   Amount
	Status          CoinStatus
	CoinSource      CoinSource
	Suspended       bool
}

// ZeroForRefresh empties the coin and makes it unusable, since its value
// is being moved to a refresh session. It returns the amount the coin had.
func (c *Coin) ZeroForRefresh() Amount {
	amountLeft := c.CurrentAmount
	c.CurrentAmount = ZeroAmount(c.CurrentAmount.Currency)
	c.Status = CoinDormant
	return amountLeft
}

// IsSpendable ...
func (c *Coin) IsSpendable() bool {
	return c.Status == CoinFresh && !c.Suspended && !c.CurrentAmount.IsZero()
}
