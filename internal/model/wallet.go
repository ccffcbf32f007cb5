package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet holds a user's PHPT balance. The house escrow account is a reserved
// wallet ID (config: exchange.escrow_wallet_id). Version implements
// optimistic locking; balance updates must carry the version they read.
type Wallet struct {
	ID        uint64          `gorm:"primaryKey;column:id"`
	Balance   decimal.Decimal `gorm:"type:numeric(20,8);not null;default:'0'"`
	Version   uint64          `gorm:"not null;default:0"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime"`
}

func (Wallet) TableName() string { return "wallet" }
