package application

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Scheduler drives the wallet by processing the due pending operations.
type Scheduler interface {
	// Run processes the due operations every SchedulerInterval until ctx is
	// canceled.
	Run(ctx context.Context)
	// RunOnce processes the operations that are due now and waits for them.
	RunOnce(ctx context.Context) error
}

type scheduler struct {
	*walletState
}

func (s *scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.schedulerInterval)
	defer ticker.Stop()

	log.Infof("scheduler started, interval %s", s.schedulerInterval)
	for {
		if err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			log.WithError(err).Warn("scheduler: failed to list pending operations")
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			log.Info("scheduler stopped")
			return
		}
	}
}

func (s *scheduler) RunOnce(ctx context.Context) error {
	ops, err := s.pending.GetPendingOperations(ctx, s.now())
	if err != nil {
		return err
	}

	eg := &errgroup.Group{}
	eg.SetLimit(s.maxParallelOps)
	for _, op := range ops {
		if !op.Given {
			continue
		}
		op := op
		eg.Go(func() error {
			if err := s.dispatch(ctx, op); err != nil {
				logOperationError(string(op.Type)+" "+op.ID, err)
			}
			// Failures are recorded on the entities, never stop the others.
			return nil
		})
	}
	return eg.Wait()
}

func (s *scheduler) dispatch(ctx context.Context, op PendingOperation) error {
	log.Debugf("scheduler: processing %s %s", op.Type, op.ID)

	switch op.Type {
	case PendingExchangeUpdate:
		// A failed update is retried even if the stored keys are recent.
		_, err := s.exchanges.UpdateExchangeFromURL(ctx, op.ID, op.LastError != nil)
		return err
	case PendingExchangeAutoRefresh:
		return s.refreshes.AutoRefresh(ctx, op.ID)
	case PendingReserve:
		return s.reserves.ProcessReserve(ctx, op.ID, false)
	case PendingWithdraw:
		return s.withdrawals.ProcessWithdrawalGroup(ctx, op.ID, false)
	case PendingRefresh:
		return s.refreshes.ProcessRefreshGroup(ctx, op.ID, false)
	case PendingBackup:
		return s.backups.ProcessBackupForProvider(ctx, op.ID)
	default:
		log.Warnf("scheduler: unknown operation type %s", op.Type)
		return nil
	}
}
