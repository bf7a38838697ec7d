package domain

import (
	"time"
)

// BackupInterval is the delay between 2 backup cycles of a provider.
const BackupInterval = 5 * time.Minute

// BackupProviderStateTag is the tag of the BackupProviderState sum type.
type BackupProviderStateTag string

const (
	// BackupProviderProvisional providers are known but not used until
	// activated.
	BackupProviderProvisional BackupProviderStateTag = "provisional"
	BackupProviderReady       BackupProviderStateTag = "ready"
	BackupProviderRetrying    BackupProviderStateTag = "retrying"
)

// BackupProviderState is the state of a backup provider. The payload
// matching the Tag is the only one set.
type BackupProviderState struct {
	Tag      BackupProviderStateTag
	Ready    *ReadyBackupState    `json:",omitempty"`
	Retrying *RetryingBackupState `json:",omitempty"`
}

type ReadyBackupState struct {
	NextBackupTimestamp time.Time
}

type RetryingBackupState struct {
	RetryInfo RetryInfo
	LastError *ErrorDetail
}

// NewProvisionalBackupState ...
func NewProvisionalBackupState() BackupProviderState {
	return BackupProviderState{Tag: BackupProviderProvisional}
}

// NewReadyBackupState returns the state of a provider whose next backup is
// due at the given time.
func NewReadyBackupState(next time.Time) BackupProviderState {
	return BackupProviderState{
		Tag:   BackupProviderReady,
		Ready: &ReadyBackupState{NextBackupTimestamp: next},
	}
}

// NewRetryingBackupState ...
func NewRetryingBackupState(
	retryInfo RetryInfo, lastError *ErrorDetail,
) BackupProviderState {
	return BackupProviderState{
		Tag: BackupProviderRetrying,
		Retrying: &RetryingBackupState{
			RetryInfo: retryInfo,
			LastError: lastError,
		},
	}
}

// BackupProviderTerms are the terms of service of a sync provider.
type BackupProviderTerms struct {
	SupportedProtocolVersion string
	AnnualFee                Amount
	StorageLimitInMegabytes  int
}

// BackupProvider is a sync service storing the encrypted backups of the
// wallet.
type BackupProvider struct {
	BaseURL                  string
	Name                     string
	Terms                    *BackupProviderTerms
	State                    BackupProviderState
	LastBackupHash           string
	LastBackupCycleTimestamp time.Time
	PaymentProposalIDs       []string
	CurrentPaymentProposalID string
	UIDs                     []string
}

// NextBackup returns when the provider has to be processed next and whether
// it has to be processed at all.
func (p *BackupProvider) NextBackup() (time.Time, bool) {
	switch p.State.Tag {
	case BackupProviderReady:
		return p.State.Ready.NextBackupTimestamp, true
	case BackupProviderRetrying:
		return p.State.Retrying.RetryInfo.NextRetry, true
	default:
		return time.Time{}, false
	}
}

// RetryInfo returns the retry info of the provider, which is meaningful
// only while retrying.
func (p *BackupProvider) RetryInfo() RetryInfo {
	if p.State.Tag == BackupProviderRetrying {
		return p.State.Retrying.RetryInfo
	}
	return RetryInfo{}
}

// LastError ...
func (p *BackupProvider) LastError() *ErrorDetail {
	if p.State.Tag == BackupProviderRetrying {
		return p.State.Retrying.LastError
	}
	return nil
}

// BackupSucceeded records a successful cycle, either upload or no-op.
func (p *BackupProvider) BackupSucceeded(hash string, now time.Time) {
	if hash != "" {
		p.LastBackupHash = hash
	}
	p.LastBackupCycleTimestamp = now
	p.State = NewReadyBackupState(now.Add(BackupInterval))
}

// BackupFailed moves the provider to the retrying state with an updated
// backoff.
func (p *BackupProvider) BackupFailed(detail *ErrorDetail, now time.Time) {
	ri := p.RetryInfo()
	if p.State.Tag != BackupProviderRetrying {
		ri = NewRetryInfo(now)
	}
	p.State = NewRetryingBackupState(ri.Increment(now), detail)
}

// AddPaymentProposal records the id of the proposal of a payment made to
// the provider.
func (p *BackupProvider) AddPaymentProposal(proposalID string) {
	p.CurrentPaymentProposalID = proposalID
	for _, id := range p.PaymentProposalIDs {
		if id == proposalID {
			return
		}
	}
	p.PaymentProposalIDs = append(p.PaymentProposalIDs, proposalID)
}

// BackupConfig is the backup state of the wallet.
type BackupConfig struct {
	WalletRootPub            string
	WalletRootPriv           string
	DeviceID                 string
	Clocks                   map[string]int
	LastBackupPlainHash      string
	LastBackupNonce          string
	LastBackupTimestamp      time.Time
	LastBackupCheckTimestamp time.Time
}

// BackupConfigKey is the key of the only backup config record.
const BackupConfigKey = "walletBackupState"
