package models

import (
	"encoding/json"
	"time"
)

// Audit actions. Restriction applications log the upper-cased action name;
// every revoke logs UNSUSPEND regardless of the action being revoked.
const (
	AuditActionUnsuspend = "UNSUSPEND"
	AuditActionIPBan     = "IP_BAN"
)

// AuditEntry is one append-only record of a restriction mutation. Entries are
// never updated or deleted and are never consulted for authorization
// decisions; the trail is strictly forensic.
type AuditEntry struct {
	ID          uint        `gorm:"primaryKey" json:"id"`
	ActorID     string      `gorm:"size:191;not null;index" json:"actor_id"`
	ActorEmail  string      `gorm:"size:255" json:"actor_email"`
	Action      string      `gorm:"size:32;not null" json:"action"`
	SubjectType SubjectType `gorm:"type:varchar(16)" json:"subject_type"`
	SubjectID   string      `gorm:"size:191;index" json:"subject_id"`
	Meta        string      `gorm:"type:text" json:"meta"`
	CreatedAt   time.Time   `json:"created_at"`
}

// TableName specifies the table name for GORM.
func (AuditEntry) TableName() string {
	return "audit_entries"
}

// SetMeta marshals free-form context into the Meta column.
func (e *AuditEntry) SetMeta(meta map[string]any) {
	if len(meta) == 0 {
		e.Meta = ""
		return
	}
	b, err := json.Marshal(meta)
	if err != nil {
		// Meta is advisory context; a marshal failure must not block the entry.
		e.Meta = ""
		return
	}
	e.Meta = string(b)
}

// MetaMap unmarshals the Meta column back into a map, returning nil when empty.
func (e *AuditEntry) MetaMap() map[string]any {
	if e.Meta == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(e.Meta), &m); err != nil {
		return nil
	}
	return m
}
