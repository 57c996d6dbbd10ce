package models

import "time"

// RestrictionAction defines the kind of access restriction placed on a subject.
type RestrictionAction string

const (
	// RestrictionBan permanently locks a subject out until revoked.
	RestrictionBan RestrictionAction = "ban"
	// RestrictionTerminate suspends a subject, optionally until an expiry.
	RestrictionTerminate RestrictionAction = "terminate"
)

// Valid reports whether a is a known restriction action.
func (a RestrictionAction) Valid() bool {
	return a == RestrictionBan || a == RestrictionTerminate
}

// Restriction is one administrative restriction record. Rows are never
// physically deleted: a revoke flips Active to false, and a terminate past its
// expiry is simply excluded from effective-set computation at read time
// without any write-back.
type Restriction struct {
	ID          uint              `gorm:"primaryKey" json:"id"`
	SubjectType SubjectType       `gorm:"type:varchar(16);not null;index:idx_restrictions_subject" json:"subject_type"`
	SubjectID   string            `gorm:"size:191;not null;index:idx_restrictions_subject" json:"subject_id"`
	Action      RestrictionAction `gorm:"type:varchar(16);not null" json:"action"`
	Reason      string            `gorm:"type:text" json:"reason"`
	CreatedBy   string            `gorm:"size:191" json:"created_by"`
	ExpiresAt   *time.Time        `json:"expires_at"`
	Active      bool              `gorm:"not null;default:true;index" json:"active"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// TableName specifies the table name for GORM.
func (Restriction) TableName() string {
	return "restrictions"
}

// EffectiveAt reports whether the record participates in decisions at the
// given instant: it must be active and either have no expiry or one still in
// the future.
func (r Restriction) EffectiveAt(now time.Time) bool {
	if !r.Active {
		return false
	}
	if r.ExpiresAt == nil {
		return true
	}
	return now.Before(*r.ExpiresAt)
}

// IPBan is a permanent address-level ban. Created once per IP, never updated;
// banning an already-banned address is a no-op success.
type IPBan struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	IPAddress   string    `gorm:"size:64;not null;uniqueIndex" json:"ip_address"`
	Reason      string    `gorm:"type:text" json:"reason"`
	BannedBy    string    `gorm:"size:191" json:"banned_by"`
	IsPermanent bool      `gorm:"not null;default:true" json:"is_permanent"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName specifies the table name for GORM.
func (IPBan) TableName() string {
	return "ip_bans"
}

// Decision is the single effective restriction derived for a caller. Absence
// of any restriction is encoded as the zero value rather than an error.
type Decision struct {
	Banned          bool       `json:"banned"`
	TerminatedUntil *time.Time `json:"terminatedUntil"`
}

// Clear reports whether the decision allows the caller through.
func (d Decision) Clear() bool {
	return !d.Banned && d.TerminatedUntil == nil
}
