package model

import "time"

// CasinoLink maps a user to their verified 747Live identity and upstream
// agent. Created by the OTP linking flow; the exchange coordinator only
// reads it.
type CasinoLink struct {
	ID             uint64    `gorm:"primaryKey"`
	UserID         uint64    `gorm:"not null;uniqueIndex"`
	CasinoUsername string    `gorm:"size:64;not null"`
	AgentUsername  string    `gorm:"size:64;not null"`
	VerifiedAt     time.Time `gorm:"not null"`
	CreatedAt      time.Time `gorm:"autoCreateTime"`
}

func (CasinoLink) TableName() string { return "casino_link" }
