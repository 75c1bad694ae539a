package models

import (
	"time"

	"gorm.io/datatypes"
)

// AuditLog is the append-only trail of admin decisions and config mutations.
type AuditLog struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"`

	Actor      string `gorm:"type:varchar(100);not null;index"`
	Action     string `gorm:"type:varchar(80);not null;index"`
	EntityType string `gorm:"type:varchar(40);not null;index"`
	EntityID   string `gorm:"type:varchar(100);index"`

	Details datatypes.JSON `gorm:"type:jsonb"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
}

func (AuditLog) TableName() string {
	return "audit_logs"
}
