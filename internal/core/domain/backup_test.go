package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/taler-go/walletd/internal/core/domain"
)

func TestBackupProviderState(t *testing.T) {
	p := &domain.BackupProvider{
		BaseURL: "https://sync.test/",
		State:   domain.NewProvisionalBackupState(),
	}
	_, ok := p.NextBackup()
	require.False(t, ok)

	detail := domain.NewErrorDetail(domain.CodeNetworkError, "offline", nil)
	p.BackupFailed(detail, now)
	require.Equal(t, domain.BackupProviderRetrying, p.State.Tag)
	require.Equal(t, 1, p.RetryInfo().RetryCounter)
	require.Equal(t, detail, p.LastError())

	p.BackupFailed(detail, now)
	require.Equal(t, 2, p.RetryInfo().RetryCounter)

	p.BackupSucceeded("hash", now)
	require.Equal(t, domain.BackupProviderReady, p.State.Tag)
	require.Equal(t, "hash", p.LastBackupHash)
	next, ok := p.NextBackup()
	require.True(t, ok)
	require.Equal(t, now.Add(5*time.Minute), next)
	require.Nil(t, p.LastError())

	p.AddPaymentProposal("p1")
	p.AddPaymentProposal("p1")
	require.Equal(t, []string{"p1"}, p.PaymentProposalIDs)
	require.Equal(t, "p1", p.CurrentPaymentProposalID)
}
