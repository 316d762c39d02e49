package ledger

import "errors"

// Error kinds surfaced by the billing ledger. Callers branch with errors.Is,
// never by matching message text; the HTTP layer maps each kind to a stable
// status and code.
var (
	// ErrNotFound indicates the invoice or payment does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState indicates the operation conflicts with the current
	// entity state: paying a void invoice, refunding an already-refunded
	// payment, or acting on an incomplete gateway capture.
	ErrInvalidState = errors.New("invalid state")

	// ErrValidation indicates bad input: non-positive amount, unknown
	// method, missing required field.
	ErrValidation = errors.New("validation failed")

	// ErrTxConflict indicates a store-level abort after the bounded
	// optimistic-concurrency retries were exhausted.
	ErrTxConflict = errors.New("transaction conflict")

	// ErrGateway indicates a timeout or malformed response from the
	// external payment processor. Absence of a response is a failure,
	// never a success.
	ErrGateway = errors.New("payment gateway error")
)
