package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedAmount is returned when parsing an invalid amount string.
	ErrMalformedAmount = errors.New("malformed amount")
	// ErrCurrencyMismatch is returned when combining amounts of different
	// currencies.
	ErrCurrencyMismatch = errors.New("currency mismatch")
	// ErrRecordNotFound is returned by repositories when the record to update
	// does not exist (anymore).
	ErrRecordNotFound = errors.New("record not found")
	// ErrRecordAlreadyExists ...
	ErrRecordAlreadyExists = errors.New("record already exists")
	// ErrInvariantViolated is the root of all the errors that denote a bug
	// rather than a failed operation. They are never retried.
	ErrInvariantViolated = errors.New("invariant violated")
	// ErrReserveInvalidTransition is returned when moving a reserve to a state
	// not reachable from the current one.
	ErrReserveInvalidTransition = fmt.Errorf(
		"%w: invalid reserve status transition", ErrInvariantViolated,
	)
	// ErrReserveBankInfoMissing ...
	ErrReserveBankInfoMissing = fmt.Errorf(
		"%w: reserve has no bank info", ErrInvariantViolated,
	)
	// ErrPlanchetIndexOutOfRange ...
	ErrPlanchetIndexOutOfRange = fmt.Errorf(
		"%w: planchet index out of range", ErrInvariantViolated,
	)
	// ErrRefreshCoinIndexOutOfRange ...
	ErrRefreshCoinIndexOutOfRange = fmt.Errorf(
		"%w: refresh coin index out of range", ErrInvariantViolated,
	)
	// ErrDenominationVerified is returned when trying to mutate a verified
	// denomination.
	ErrDenominationVerified = errors.New("denomination is already verified")
	// ErrMalformedWithdrawURI ...
	ErrMalformedWithdrawURI = errors.New("malformed taler://withdraw URI")
)

// ErrorCode is the numeric code of a wallet error, shared with the rest of
// the payment system.
type ErrorCode int

const (
	CodeGenericDBInvariantFailure               ErrorCode = 56
	CodeExchangeReservesGetStatusUnknown        ErrorCode = 1250
	CodeProtocolVersionIncompatible             ErrorCode = 7000
	CodeUnexpectedException                     ErrorCode = 7001
	CodeReceivedMalformedResponse               ErrorCode = 7002
	CodeNetworkError                            ErrorCode = 7003
	CodeHTTPRequestThrottled                    ErrorCode = 7004
	CodeUnexpectedRequestError                  ErrorCode = 7005
	CodeExchangeDenominationsInsufficient       ErrorCode = 7006
	CodeExchangeCoinSignatureInvalid            ErrorCode = 7009
	CodeExchangeWithdrawReserveUnknown          ErrorCode = 7010
	CodeWithdrawalOperationAbortedByBank        ErrorCode = 7012
	CodeHTTPRequestGenericTimeout               ErrorCode = 7013
	CodeWithdrawalGroupIncomplete               ErrorCode = 7015
	CodeBankIntegrationProtocolVersionMismatch  ErrorCode = 7017
	CodeBackupRecoveryStrategyUnsupported       ErrorCode = 7501
	CodeBackupRecoveryStrategyRequired          ErrorCode = 7502
	CodeBackupProviderUnexpectedResponseStatus  ErrorCode = 7503
	CodeBackupDecryptionFailed                  ErrorCode = 7504
	CodeExchangeMasterSignatureInvalid          ErrorCode = 7505
	CodeExchangeCurrencyMismatch                ErrorCode = 7506
)

var errorCodeNames = map[ErrorCode]string{
	CodeGenericDBInvariantFailure:              "GENERIC_DB_INVARIANT_FAILURE",
	CodeExchangeReservesGetStatusUnknown:       "EXCHANGE_RESERVES_GET_STATUS_UNKNOWN",
	CodeProtocolVersionIncompatible:            "WALLET_EXCHANGE_PROTOCOL_VERSION_INCOMPATIBLE",
	CodeUnexpectedException:                    "WALLET_UNEXPECTED_EXCEPTION",
	CodeReceivedMalformedResponse:              "WALLET_RECEIVED_MALFORMED_RESPONSE",
	CodeNetworkError:                           "WALLET_NETWORK_ERROR",
	CodeHTTPRequestThrottled:                   "WALLET_HTTP_REQUEST_THROTTLED",
	CodeUnexpectedRequestError:                 "WALLET_UNEXPECTED_REQUEST_ERROR",
	CodeExchangeDenominationsInsufficient:      "WALLET_EXCHANGE_DENOMINATIONS_INSUFFICIENT",
	CodeExchangeCoinSignatureInvalid:           "WALLET_EXCHANGE_COIN_SIGNATURE_INVALID",
	CodeExchangeWithdrawReserveUnknown:         "WALLET_EXCHANGE_WITHDRAW_RESERVE_UNKNOWN_AT_EXCHANGE",
	CodeWithdrawalOperationAbortedByBank:       "WALLET_WITHDRAWAL_OPERATION_ABORTED_BY_BANK",
	CodeHTTPRequestGenericTimeout:              "WALLET_HTTP_REQUEST_GENERIC_TIMEOUT",
	CodeWithdrawalGroupIncomplete:              "WALLET_WITHDRAWAL_GROUP_INCOMPLETE",
	CodeBankIntegrationProtocolVersionMismatch: "WALLET_BANK_INTEGRATION_PROTOCOL_VERSION_INCOMPATIBLE",
	CodeBackupRecoveryStrategyUnsupported:      "WALLET_BACKUP_RECOVERY_STRATEGY_UNSUPPORTED",
	CodeBackupRecoveryStrategyRequired:         "WALLET_BACKUP_RECOVERY_STRATEGY_REQUIRED",
	CodeBackupProviderUnexpectedResponseStatus: "WALLET_BACKUP_PROVIDER_UNEXPECTED_RESPONSE_STATUS",
	CodeBackupDecryptionFailed:                 "WALLET_BACKUP_DECRYPTION_FAILED",
	CodeExchangeMasterSignatureInvalid:         "WALLET_EXCHANGE_MASTER_SIGNATURE_INVALID",
	CodeExchangeCurrencyMismatch:               "WALLET_EXCHANGE_CURRENCY_MISMATCH",
}

func (c ErrorCode) String() string {
	if name, ok := errorCodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN_%d", int(c))
}

// ErrorDetail is the structured description of a failure that is attached
// to the record it refers to.
type ErrorDetail struct {
	Code    ErrorCode              `json:"code"`
	Hint    string                 `json:"hint,omitempty"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// NewErrorDetail returns a detail for the given code and human message.
func NewErrorDetail(
	code ErrorCode, message string, details map[string]interface{},
) *ErrorDetail {
	return &ErrorDetail{
		Code:    code,
		Hint:    code.String(),
		Message: message,
		Details: details,
	}
}

// OperationError is the error returned by an operation that failed in a way
// that is reported to the user and possibly retried later.
type OperationError struct {
	Detail *ErrorDetail
	// HTTPStatus is the status of the response that caused the failure, if
	// any.
	HTTPStatus int
}

// NewOperationError ...
func NewOperationError(
	code ErrorCode, message string, details map[string]interface{},
) *OperationError {
	return &OperationError{Detail: NewErrorDetail(code, message, details)}
}

func (e *OperationError) Error() string {
	if e.HTTPStatus > 0 {
		return fmt.Sprintf(
			"%s (%d, http status %d): %s",
			e.Detail.Code, e.Detail.Code, e.HTTPStatus, e.Detail.Message,
		)
	}
	return fmt.Sprintf("%s (%d): %s", e.Detail.Code, e.Detail.Code, e.Detail.Message)
}

// AsOperationError extracts the operation error from the chain, if any.
func AsOperationError(err error) (*OperationError, bool) {
	var opErr *OperationError
	if errors.As(err, &opErr) {
		return opErr, true
	}
	return nil, false
}

// IsHTTPStatus returns whether the error was caused by a response with the
// given status.
func IsHTTPStatus(err error, status int) bool {
	opErr, ok := AsOperationError(err)
	return ok && opErr.HTTPStatus == status
}
