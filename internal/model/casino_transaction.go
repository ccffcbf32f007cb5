package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction types.
const (
	TypeBuy  = "buy"  // PHPT -> casino chips
	TypeSell = "sell" // casino chips -> PHPT
)

// Failure steps, naming the leg that failed.
const (
	StepEscrowTransfer = "escrow_transfer"
	StepCasinoCredit   = "casino_credit"
	StepCasinoDebit    = "casino_debit"
	StepPayout         = "payout"
	StepRefund         = "refund"
	StepRedeposit      = "redeposit"
)

// CasinoTransaction is the unit of work for one chip buy or sell. Both legs
// (escrow ledger, remote casino) persist their progress here so a crashed or
// retried operation resumes from its recorded status instead of starting over.
type CasinoTransaction struct {
	ID     uint64          `gorm:"primaryKey"`
	UserID uint64          `gorm:"not null;index"`
	Type   string          `gorm:"size:8;not null"`
	Amount decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	Status Status          `gorm:"size:24;not null;index"`

	// TransactionID is the externally visible idempotency key, fixed at
	// creation before any external call is made.
	TransactionID string `gorm:"size:64;uniqueIndex;not null"`

	// EscrowTxID references the user-side ledger entry of the escrow leg.
	EscrowTxID *uint64

	// CasinoNonce is sent to the casino API on every attempt of the same
	// leg; the remote deduplicates on it.
	CasinoNonce      string  `gorm:"size:64;not null"`
	CasinoResponseID *string `gorm:"size:64"`

	RollbackAttempts int
	RollbackTxID     *string `gorm:"size:64"`
	LastRollbackAt   *time.Time

	RetryCount  int
	MaxRetries  int `gorm:"not null;default:3"`
	NextRetryAt *time.Time `gorm:"index"`

	FailureReason *string
	FailureStep   *string `gorm:"size:32"`

	AdminAlertSent bool
	ResolvedBy     *string `gorm:"size:64"`
	ResolvedAt     *time.Time
	ResolutionNote *string

	// ActiveKey holds the user ID while the transaction is non-terminal and
	// is cleared on terminal transition. The unique index makes "at most one
	// in-flight transaction per user" a database constraint rather than a
	// check-then-act race.
	ActiveKey *string `gorm:"size:32;uniqueIndex"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (CasinoTransaction) TableName() string { return "casino_transaction" }
