package models

import (
	"time"
)

// Dispute contests a pending-finalization resolution. At most one
// non-terminal dispute may exist per resolution at a time.
type Dispute struct {
	ID           uint64 `gorm:"primaryKey;autoIncrement"`
	ResolutionID uint64 `gorm:"not null;index"`

	Status      string  `gorm:"type:varchar(16);not null;index"`
	Reason      string  `gorm:"type:text"`
	NewResult   *string `gorm:"type:varchar(3)"`
	AdminReview *string `gorm:"type:text"`

	Disputant string `gorm:"type:varchar(100);index"`

	CreatedAt  time.Time  `gorm:"type:timestamptz;autoCreateTime;index"`
	ResolvedAt *time.Time `gorm:"type:timestamptz"`
}

func (Dispute) TableName() string {
	return "disputes"
}
