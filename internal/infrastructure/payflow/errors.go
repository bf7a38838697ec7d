package payflow

import "errors"

var (
	// ErrInvalidPayURI ...
	ErrInvalidPayURI = errors.New("invalid taler://pay URI")
	// ErrPaymentUnsupported is returned when asked to confirm a payment.
	ErrPaymentUnsupported = errors.New("payments are not supported")
)
