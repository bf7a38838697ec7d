package application

import (
	"errors"
	"fmt"

	"github.com/taler-go/walletd/internal/core/domain"
)

var (
	// ErrUnknownCoin is returned when a coin to refresh is not in the
	// wallet.
	ErrUnknownCoin = fmt.Errorf("%w: unknown coin", domain.ErrInvariantViolated)
	// ErrUnknownDenomination is returned when a record refers to a
	// denomination that is not in the wallet.
	ErrUnknownDenomination = fmt.Errorf(
		"%w: unknown denomination", domain.ErrInvariantViolated,
	)
	// ErrUnknownReserve ...
	ErrUnknownReserve = errors.New("reserve not found")
	// ErrUnknownBackupProvider ...
	ErrUnknownBackupProvider = errors.New("backup provider not found")
	// ErrMalformedBackup is returned when a backup holds invalid keys.
	ErrMalformedBackup = errors.New("malformed backup")
	// ErrBackupConfigMissing is returned when the backup config is needed
	// but the wallet has never been backed up.
	ErrBackupConfigMissing = errors.New("backup config not initialized")

	errPlanchetAlreadyWithdrawn = errors.New("planchet already withdrawn")
	errTooManyBackupConflicts   = errors.New("too many backup conflicts")
)

func isInvariantViolation(err error) bool {
	return errors.Is(err, domain.ErrInvariantViolated)
}

// operationError returns err as an operation error, mapping any error that
// isn't one to an unexpected exception.
func operationError(err error) *domain.OperationError {
	if opErr, ok := domain.AsOperationError(err); ok {
		return opErr
	}
	return domain.NewOperationError(
		domain.CodeUnexpectedException, err.Error(), nil,
	)
}
