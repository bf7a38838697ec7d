package application

import (
	"context"

	log "github.com/sirupsen/logrus"
	"github.com/taler-go/walletd/internal/core/domain"
)

// guardOperation runs op on behalf of an entity. A failure is recorded on
// the entity through onErr, which is expected to bump its retry counter,
// and then returned as *domain.OperationError. Invariant violations are
// returned untouched and never recorded, same as errors due to ctx being
// done.
func (s *walletState) guardOperation(
	ctx context.Context, opType string,
	op func() error,
	onErr func(ctx context.Context, detail *domain.ErrorDetail) error,
) error {
	err := op()
	if err == nil {
		return nil
	}
	if isInvariantViolation(err) || ctx.Err() != nil {
		return err
	}

	opErr := operationError(err)
	operationErrors.WithLabelValues(opType).Inc()
	if recordErr := onErr(ctx, opErr.Detail); recordErr != nil {
		log.WithError(recordErr).Warnf("%s: failed to record error", opType)
	}
	return opErr
}
