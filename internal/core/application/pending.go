package application

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/taler-go/walletd/internal/core/domain"
	"github.com/taler-go/walletd/pkg/stats"
)

type PendingOperationType string

const (
	PendingExchangeUpdate      PendingOperationType = "exchange-update"
	PendingExchangeAutoRefresh PendingOperationType = "exchange-auto-refresh"
	PendingReserve             PendingOperationType = "reserve"
	PendingWithdraw            PendingOperationType = "withdraw"
	PendingRefresh             PendingOperationType = "refresh"
	PendingBackup              PendingOperationType = "backup"
)

// PendingOperation is an entity that still has work to do. Given tells
// whether the work is due now.
type PendingOperation struct {
	Type      PendingOperationType
	ID        string
	Given     bool
	NextRetry time.Time
	LastError *domain.ErrorDetail
}

type PendingService interface {
	// GetPendingOperations lists the entities that are not in a terminal
	// state, due or not.
	GetPendingOperations(
		ctx context.Context, now time.Time,
	) ([]PendingOperation, error)
	// GetWalletSnapshot summarizes the pending operations and the
	// spendable coins of the wallet.
	GetWalletSnapshot(ctx context.Context) (*stats.WalletSnapshot, error)
}

type pendingService struct {
	*walletState
}

func (s *pendingService) GetPendingOperations(
	ctx context.Context, now time.Time,
) ([]PendingOperation, error) {
	collectors := []func(context.Context, time.Time) ([]PendingOperation, error){
		s.pendingExchanges,
		s.pendingReserves,
		s.pendingWithdrawals,
		s.pendingRefreshes,
		s.pendingBackups,
	}

	ops := make([]PendingOperation, 0)
	for _, collect := range collectors {
		found, err := collect(ctx, now)
		if err != nil {
			return nil, err
		}
		ops = append(ops, found...)
	}

	sort.SliceStable(ops, func(i, j int) bool {
		return ops[i].NextRetry.Before(ops[j].NextRetry)
	})
	return ops, nil
}

func (s *pendingService) GetWalletSnapshot(
	ctx context.Context,
) (*stats.WalletSnapshot, error) {
	ops, err := s.GetPendingOperations(ctx, s.now())
	if err != nil {
		return nil, err
	}
	coins, err := s.repo.CoinRepository().GetAllCoins(ctx)
	if err != nil {
		return nil, err
	}

	snapshot := &stats.WalletSnapshot{
		PendingOperations: make(map[string]int),
		Balances:          make(map[string]decimal.Decimal),
	}
	for _, op := range ops {
		snapshot.PendingOperations[string(op.Type)]++
		if op.Given {
			snapshot.DueOperations++
		}
	}
	for _, c := range coins {
		if !c.IsSpendable() {
			continue
		}
		snapshot.SpendableCoins++
		currency := c.CurrentAmount.Currency
		snapshot.Balances[currency] = snapshot.Balances[currency].Add(
			c.CurrentAmount.Value,
		)
	}
	return snapshot, nil
}

func (s *pendingService) pendingExchanges(
	ctx context.Context, now time.Time,
) ([]PendingOperation, error) {
	exchanges, err := s.repo.ExchangeRepository().GetAllExchanges(ctx)
	if err != nil {
		return nil, err
	}

	ops := make([]PendingOperation, 0)
	for _, e := range exchanges {
		if e.NeedsUpdate(now, s.exchangeUpdateInterval) || e.LastError != nil {
			next := e.LastUpdate.Add(s.exchangeUpdateInterval)
			if e.LastError != nil {
				next = e.RetryInfo.NextRetry
			}
			ops = append(ops, PendingOperation{
				Type:      PendingExchangeUpdate,
				ID:        e.BaseURL,
				Given:     !now.Before(next),
				NextRetry: next,
				LastError: e.LastError,
			})
			// Coins aren't checked against outdated keys.
			continue
		}
		ops = append(ops, PendingOperation{
			Type:      PendingExchangeAutoRefresh,
			ID:        e.BaseURL,
			Given:     !now.Before(e.NextRefreshCheck),
			NextRetry: e.NextRefreshCheck,
		})
	}
	return ops, nil
}

func (s *pendingService) pendingReserves(
	ctx context.Context, now time.Time,
) ([]PendingOperation, error) {
	reserves, err := s.repo.ReserveRepository().GetAllReserves(ctx)
	if err != nil {
		return nil, err
	}

	ops := make([]PendingOperation, 0)
	for _, r := range reserves {
		if r.ReserveStatus == domain.ReserveDormant ||
			r.ReserveStatus == domain.ReserveBankAborted {
			continue
		}
		ops = append(ops, PendingOperation{
			Type:      PendingReserve,
			ID:        r.ReservePub,
			Given:     r.RetryInfo.IsDue(now),
			NextRetry: r.RetryInfo.NextRetry,
			LastError: r.LastError,
		})
	}
	return ops, nil
}

func (s *pendingService) pendingWithdrawals(
	ctx context.Context, now time.Time,
) ([]PendingOperation, error) {
	groups, err := s.repo.WithdrawalGroupRepository().GetAllWithdrawalGroups(ctx)
	if err != nil {
		return nil, err
	}

	ops := make([]PendingOperation, 0)
	for _, g := range groups {
		if g.IsFinished() {
			continue
		}
		ops = append(ops, PendingOperation{
			Type:      PendingWithdraw,
			ID:        g.WithdrawalGroupID,
			Given:     g.RetryInfo.IsDue(now),
			NextRetry: g.RetryInfo.NextRetry,
			LastError: g.LastError,
		})
	}
	return ops, nil
}

func (s *pendingService) pendingRefreshes(
	ctx context.Context, now time.Time,
) ([]PendingOperation, error) {
	groups, err := s.repo.RefreshGroupRepository().GetAllRefreshGroups(ctx)
	if err != nil {
		return nil, err
	}

	ops := make([]PendingOperation, 0)
	for _, g := range groups {
		if g.IsFinished() {
			continue
		}
		ops = append(ops, PendingOperation{
			Type:      PendingRefresh,
			ID:        g.RefreshGroupID,
			Given:     g.RetryInfo.IsDue(now),
			NextRetry: g.RetryInfo.NextRetry,
			LastError: g.LastError,
		})
	}
	return ops, nil
}

func (s *pendingService) pendingBackups(
	ctx context.Context, now time.Time,
) ([]PendingOperation, error) {
	providers, err := s.repo.BackupProviderRepository().GetAllBackupProviders(ctx)
	if err != nil {
		return nil, err
	}

	ops := make([]PendingOperation, 0)
	for _, p := range providers {
		next, ok := p.NextBackup()
		if !ok {
			continue
		}
		ops = append(ops, PendingOperation{
			Type:      PendingBackup,
			ID:        p.BaseURL,
			Given:     !now.Before(next),
			NextRetry: next,
			LastError: p.LastError(),
		})
	}
	return ops, nil
}
