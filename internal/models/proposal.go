package models

import (
	"time"
)

// Proposal is a candidate market awaiting drafting/validation/review.
// Rows are never deleted; review outcomes are recorded alongside an audit entry.
type Proposal struct {
	ID           uint64  `gorm:"primaryKey;autoIncrement"`
	ProposalText string  `gorm:"type:text;not null"`
	CategoryHint *string `gorm:"type:varchar(50)"`

	Status          string  `gorm:"type:varchar(20);not null;index"`
	DraftMarketID   *uint64 `gorm:"index"`
	RejectionReason *string `gorm:"type:text"`

	// Submitter is empty for news-ingested proposals.
	Submitter string `gorm:"type:varchar(100);index"`

	CreatedAt   time.Time  `gorm:"type:timestamptz;autoCreateTime;index"`
	ProcessedAt *time.Time `gorm:"type:timestamptz"`
}

func (Proposal) TableName() string {
	return "proposals"
}
