package models

import (
	"time"

	"gorm.io/datatypes"
)

// Resolution is the outcome record for one market. One per market; dispute
// adjudication may replace FinalResult before finalization.
type Resolution struct {
	ID       uint64 `gorm:"primaryKey;autoIncrement"`
	MarketID uint64 `gorm:"not null;uniqueIndex"`

	FinalResult string `gorm:"type:varchar(3);not null"`
	Status      string `gorm:"type:varchar(16);not null;index"`

	EvidenceHash        string         `gorm:"type:varchar(128)"`
	EvidenceRaw         string         `gorm:"type:text"`
	MustMeetAllResults  datatypes.JSON `gorm:"type:jsonb"`
	MustNotCountResults datatypes.JSON `gorm:"type:jsonb"`
	ResolutionSource    string         `gorm:"type:varchar(200)"`

	CreatedAt   time.Time  `gorm:"type:timestamptz;autoCreateTime;index"`
	FinalizedAt *time.Time `gorm:"type:timestamptz"`
}

func (Resolution) TableName() string {
	return "resolutions"
}
