package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/taler-go/walletd/internal/core/domain"
)

func TestRefreshGroupUpdateStatus(t *testing.T) {
	later := now.Add(time.Minute)
	detail := domain.NewErrorDetail(domain.CodeUnexpectedRequestError, "gone", nil)

	tests := []struct {
		name           string
		statuses       []domain.RefreshCoinStatus
		expectDone     bool
		expectFrozen   bool
		expectFinished bool
	}{
		{
			name:     "pending",
			statuses: []domain.RefreshCoinStatus{domain.RefreshCoinFinished, domain.RefreshCoinPending},
		},
		{
			name:           "all_finished",
			statuses:       []domain.RefreshCoinStatus{domain.RefreshCoinFinished, domain.RefreshCoinFinished},
			expectDone:     true,
			expectFinished: true,
		},
		{
			name:         "some_frozen",
			statuses:     []domain.RefreshCoinStatus{domain.RefreshCoinFinished, domain.RefreshCoinFrozen},
			expectDone:   true,
			expectFrozen: true,
		},
		{
			name:     "frozen_and_pending",
			statuses: []domain.RefreshCoinStatus{domain.RefreshCoinFrozen, domain.RefreshCoinPending},
		},
	}

	for i := range tests {
		tt := tests[i]
		t.Run(tt.name, func(t *testing.T) {
			g := domain.NewRefreshGroup(
				"id", domain.RefreshReasonManual, []string{"c1", "c2"},
				nil, nil, now,
			)
			for i, s := range tt.statuses {
				switch s {
				case domain.RefreshCoinFinished:
					require.NoError(t, g.FinishCoin(i))
				case domain.RefreshCoinFrozen:
					require.NoError(t, g.FreezeCoin(i, detail))
				}
			}

			require.Equal(t, tt.expectDone, g.UpdateStatus(later))
			require.Equal(t, tt.expectFrozen, g.Frozen)
			require.Equal(t, tt.expectFinished, !g.TimestampFinished.IsZero())
			require.Equal(t, tt.expectDone, g.IsFinished())
		})
	}
}

func TestEmptyRefreshGroup(t *testing.T) {
	g := domain.NewRefreshGroup("id", domain.RefreshReasonManual, nil, nil, nil, now)
	require.True(t, g.IsFinished())
	require.False(t, g.UpdateStatus(now))
}

func TestRefreshGroupCoinIndexOutOfRange(t *testing.T) {
	g := domain.NewRefreshGroup(
		"id", domain.RefreshReasonManual, []string{"c1"}, nil, nil, now,
	)
	require.ErrorIs(t, g.FinishCoin(1), domain.ErrInvariantViolated)
	require.ErrorIs(t, g.FreezeCoin(-1, nil), domain.ErrInvariantViolated)
}
