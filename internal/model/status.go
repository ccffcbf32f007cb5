package model

// Status is the lifecycle state of a CasinoTransaction. Status values only
// move forward through the transition table below; every write goes through
// CanTransition so an illegal jump is a validation error, not a surprise.
type Status string

const (
	StatusInitiated        Status = "initiated"
	StatusEscrowDebited    Status = "escrow_debited"
	StatusCasinoDebited    Status = "casino_debited"
	StatusPayoutPending    Status = "payout_pending"
	StatusRefundPending    Status = "refund_pending"
	StatusRedepositPending Status = "redeposit_pending"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
	StatusManualRequired   Status = "manual_required"
)

var transitions = map[Status][]Status{
	StatusInitiated:        {StatusEscrowDebited, StatusCasinoDebited, StatusFailed, StatusManualRequired},
	StatusEscrowDebited:    {StatusCasinoDebited, StatusRefundPending, StatusManualRequired},
	StatusCasinoDebited:    {StatusCompleted, StatusPayoutPending},
	StatusPayoutPending:    {StatusCompleted, StatusRedepositPending, StatusManualRequired},
	StatusRefundPending:    {StatusFailed, StatusManualRequired},
	StatusRedepositPending: {StatusFailed, StatusManualRequired},
	// manual_required exits only through operator resolution.
	StatusManualRequired: {StatusCompleted, StatusFailed},
	StatusCompleted:      {},
	StatusFailed:         {},
}

// Terminal reports whether no further automated or manual action may touch
// the transaction.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether moving from s to next is a legal step.
func (s Status) CanTransition(next Status) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Valid reports whether s is one of the known status values.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}
