package models

import "time"

// Wallet is a per-identity token balance. Created on first grant request,
// mutated by grants and debits, never deleted. Balance must never be
// observably negative as a result of this engine's own operations.
type Wallet struct {
	ID            uint        `gorm:"primaryKey" json:"id"`
	UserID        string      `gorm:"size:191;not null;uniqueIndex:idx_wallets_subject" json:"user_id"`
	UserType      SubjectType `gorm:"type:varchar(16);not null;uniqueIndex:idx_wallets_subject" json:"user_type"`
	Balance       int64       `gorm:"not null;default:0" json:"balance"`
	LastAwardedAt *time.Time  `json:"last_awarded_at"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// TableName specifies the table name for GORM.
func (Wallet) TableName() string {
	return "wallets"
}

// Entitlement is a purchased one-way feature flag. A row's existence means the
// subject owns the feature; rows are never deleted.
type Entitlement struct {
	ID          uint        `gorm:"primaryKey" json:"id"`
	SubjectType SubjectType `gorm:"type:varchar(16);not null;uniqueIndex:idx_entitlements_subject_feature" json:"subject_type"`
	SubjectID   string      `gorm:"size:191;not null;uniqueIndex:idx_entitlements_subject_feature" json:"subject_id"`
	Feature     string      `gorm:"size:64;not null;uniqueIndex:idx_entitlements_subject_feature" json:"feature"`
	CreatedAt   time.Time   `json:"created_at"`
}

// TableName specifies the table name for GORM.
func (Entitlement) TableName() string {
	return "entitlements"
}
