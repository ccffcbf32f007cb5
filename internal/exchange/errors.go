package exchange

import "errors"

var (
	// ErrConcurrentTransaction rejects a buy/sell while the user already has
	// a non-terminal transaction. Requests are rejected, never queued.
	ErrConcurrentTransaction = errors.New("transaction already in progress")

	// ErrNotLinked means the user has no verified casino account.
	ErrNotLinked = errors.New("casino account not linked")

	// ErrInsufficientChips is the user-facing form of a casino-side balance
	// rejection on sell.
	ErrInsufficientChips = errors.New("insufficient casino balance")

	// ErrNotFound means no transaction with that ID exists.
	ErrNotFound = errors.New("transaction not found")

	// ErrNotResolvable rejects admin resolution of a transaction that is not
	// waiting for an operator.
	ErrNotResolvable = errors.New("transaction does not require manual resolution")

	// ErrUnknownDecision rejects an unrecognized resolution decision.
	ErrUnknownDecision = errors.New("unknown resolution decision")
)
