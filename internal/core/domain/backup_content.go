package domain

import (
	"time"
)

const (
	BackupSchemaID      = "gnu-taler-wallet-backup-content"
	BackupSchemaVersion = 1
)

// WalletBackupContent is the plain snapshot of the wallet that is
// encrypted and uploaded to backup providers. Derived values, like public
// keys and hashes, are not part of it and are recomputed on import.
type WalletBackupContent struct {
	SchemaID        string                 `json:"schema_id"`
	SchemaVersion   int                    `json:"schema_version"`
	WalletRootPub   string                 `json:"wallet_root_pub"`
	CurrentDeviceID string                 `json:"current_device_id"`
	Clocks          map[string]int         `json:"clocks"`
	Timestamp       time.Time              `json:"timestamp"`
	Exchanges       []BackupExchange       `json:"exchanges"`
	Reserves        []BackupReserve        `json:"reserves"`
	RefreshGroups   []BackupRefreshGroup   `json:"refresh_groups"`
	Purchases       []BackupPurchase       `json:"purchases"`
	BackupProviders []BackupBackupProvider `json:"backup_providers"`
	Tombstones      []string               `json:"tombstones"`
}

type BackupExchange struct {
	BaseURL         string               `json:"base_url"`
	MasterPublicKey string               `json:"master_public_key"`
	Currency        string               `json:"currency"`
	Denominations   []BackupDenomination `json:"denominations"`
}

type BackupDenomination struct {
	DenomPub            string       `json:"denom_pub"`
	Value               Amount       `json:"value"`
	FeeWithdraw         Amount       `json:"fee_withdraw"`
	FeeDeposit          Amount       `json:"fee_deposit"`
	FeeRefresh          Amount       `json:"fee_refresh"`
	FeeRefund           Amount       `json:"fee_refund"`
	StampStart          time.Time    `json:"stamp_start"`
	StampExpireWithdraw time.Time    `json:"stamp_expire_withdraw"`
	StampExpireDeposit  time.Time    `json:"stamp_expire_deposit"`
	StampExpireLegal    time.Time    `json:"stamp_expire_legal"`
	MasterSig           string       `json:"master_sig"`
	IsOffered           bool         `json:"is_offered"`
	IsRevoked           bool         `json:"is_revoked"`
	Coins               []BackupCoin `json:"coins"`
}

type BackupCoin struct {
	CoinPriv      string           `json:"coin_priv"`
	BlindingKey   string           `json:"blinding_key"`
	DenomSig      string           `json:"denom_sig"`
	CurrentAmount Amount           `json:"current_amount"`
	Fresh         bool             `json:"fresh"`
	CoinSource    BackupCoinSource `json:"coin_source"`
}

type BackupCoinSource struct {
	Type              CoinSourceType `json:"type"`
	WithdrawalGroupID string         `json:"withdrawal_group_id,omitempty"`
	ReservePub        string         `json:"reserve_pub,omitempty"`
	CoinIndex         int            `json:"coin_index"`
	OldCoinPub        string         `json:"old_coin_pub,omitempty"`
	WalletTipID       string         `json:"wallet_tip_id,omitempty"`
}

type BackupDenomSel struct {
	DenomPubHash string `json:"denom_pub_hash"`
	Count        int    `json:"count"`
}

type BackupReserveBankInfo struct {
	StatusURL        string `json:"status_url"`
	ExchangePaytoURI string `json:"exchange_payto_uri"`
	ConfirmURL       string `json:"confirm_url,omitempty"`
}

type BackupReserve struct {
	ReservePriv              string                  `json:"reserve_priv"`
	ExchangeBaseURL          string                  `json:"exchange_base_url"`
	InstructedAmount         Amount                  `json:"instructed_amount"`
	BankInfo                 *BackupReserveBankInfo  `json:"bank_info,omitempty"`
	SenderWire               string                  `json:"sender_wire,omitempty"`
	InitialWithdrawalGroupID string                  `json:"initial_withdrawal_group_id"`
	InitialWithdrawalStarted bool                    `json:"initial_withdrawal_started"`
	InitialSelectedDenoms    []BackupDenomSel        `json:"initial_selected_denoms"`
	TimestampCreated         time.Time               `json:"timestamp_created"`
	WithdrawalGroups         []BackupWithdrawalGroup `json:"withdrawal_groups"`
}

type BackupWithdrawalGroup struct {
	WithdrawalGroupID   string           `json:"withdrawal_group_id"`
	SecretSeed          string           `json:"secret_seed"`
	RawWithdrawalAmount Amount           `json:"raw_withdrawal_amount"`
	SelectedDenoms      []BackupDenomSel `json:"selected_denoms"`
	TimestampCreated    time.Time        `json:"timestamp_created"`
	TimestampFinish     time.Time        `json:"timestamp_finish"`
}

type BackupRefreshSession struct {
	SessionSecretSeed string           `json:"session_secret_seed"`
	NewDenoms         []BackupDenomSel `json:"new_denoms"`
	NorevealIndex     *int             `json:"noreveal_index,omitempty"`
}

type BackupRefreshOldCoin struct {
	CoinPub               string                `json:"coin_pub"`
	InputAmount           Amount                `json:"input_amount"`
	EstimatedOutputAmount Amount                `json:"estimated_output_amount"`
	Finished              bool                  `json:"finished"`
	Frozen                bool                  `json:"frozen"`
	RefreshSession        *BackupRefreshSession `json:"refresh_session,omitempty"`
}

type BackupRefreshGroup struct {
	RefreshGroupID   string                 `json:"refresh_group_id"`
	Reason           RefreshReason          `json:"reason"`
	OldCoins         []BackupRefreshOldCoin `json:"old_coins"`
	TimestampCreated time.Time              `json:"timestamp_created"`
	TimestampFinish  time.Time              `json:"timestamp_finish"`
	Frozen           bool                   `json:"frozen"`
}

type BackupPurchase struct {
	ProposalID        string    `json:"proposal_id"`
	NoncePriv         string    `json:"nonce_priv"`
	ContractTermsRaw  string    `json:"contract_terms_raw"`
	Paid              bool      `json:"paid"`
	TimestampAccepted time.Time `json:"timestamp_accept"`
}

type BackupProviderTermsContent struct {
	SupportedProtocolVersion string `json:"supported_protocol_version"`
	AnnualFee                Amount `json:"annual_fee"`
	StorageLimitInMegabytes  int    `json:"storage_limit_in_megabytes"`
}

type BackupBackupProvider struct {
	BaseURL        string                      `json:"base_url"`
	Name           string                      `json:"name"`
	Terms          *BackupProviderTermsContent `json:"terms,omitempty"`
	PayProposalIDs []string                    `json:"pay_proposal_ids"`
	UIDs           []string                    `json:"uids"`
}

// BackupCryptoData holds the values derived from the secrets of a backup
// that are needed to import it.
type BackupCryptoData struct {
	CoinPrivToCompletedCoin       map[string]CompletedCoin
	DenomPubToHash                map[string]string
	ReservePrivToPub              map[string]string
	ProposalNoncePrivToPub        map[string]string
	ProposalIDToContractTermsHash map[string]string
}

// CompletedCoin ...
type CompletedCoin struct {
	CoinPub    string
	CoinEvHash string
}

// NewBackupCryptoData ...
func NewBackupCryptoData() *BackupCryptoData {
	return &BackupCryptoData{
		CoinPrivToCompletedCoin:       make(map[string]CompletedCoin),
		DenomPubToHash:                make(map[string]string),
		ReservePrivToPub:              make(map[string]string),
		ProposalNoncePrivToPub:        make(map[string]string),
		ProposalIDToContractTermsHash: make(map[string]string),
	}
}

// BackupRecoveryStrategy tells how to merge a recovery document with the
// local wallet.
type BackupRecoveryStrategy string

const (
	// RecoveryStrategyTheirs adopts the root key and providers of the
	// recovered wallet.
	RecoveryStrategyTheirs BackupRecoveryStrategy = "theirs"
	// RecoveryStrategyOurs keeps the local root key. Not supported.
	RecoveryStrategyOurs BackupRecoveryStrategy = "ours"
)

// BackupRecovery is the secret material needed to recover a wallet from
// its backups.
type BackupRecovery struct {
	WalletRootPriv string                   `json:"walletRootPriv"`
	Providers      []BackupRecoveryProvider `json:"providers"`
}

type BackupRecoveryProvider struct {
	URL string `json:"url"`
}
