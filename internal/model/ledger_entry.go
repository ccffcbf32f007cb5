package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Ledger entry types.
const (
	EntryEscrowDebit  = "ESCROW_DEBIT"  // user wallet -> escrow
	EntryEscrowCredit = "ESCROW_CREDIT" // escrow -> user wallet
)

// LedgerEntry records one side of an escrow movement. Every escrow operation
// writes a pair of entries, one per wallet touched, carrying the same
// idempotency key.
type LedgerEntry struct {
	ID              uint64          `gorm:"primaryKey"`
	WalletID        uint64          `gorm:"not null;index"`
	Type            string          `gorm:"size:32;not null"`
	Amount          decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	BalanceBefore   decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	BalanceAfter    decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	RelatedWalletID *uint64
	IdempotencyKey  *string   `gorm:"size:80;index"`
	CreatedAt       time.Time `gorm:"autoCreateTime"`
}

func (LedgerEntry) TableName() string { return "ledger_entry" }
