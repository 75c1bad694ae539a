package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Market is the AI-authored metadata record for one prediction market.
// SourceProposalID == nil marks it AI-originated and subject to the
// auto-publish rate limit. MarketAddress is written back after the on-chain
// program creates the market.
type Market struct {
	ID            uint64  `gorm:"primaryKey;autoIncrement"`
	ChainID       int64   `gorm:"not null"`
	MarketAddress *string `gorm:"type:varchar(100);uniqueIndex"`

	Title       string `gorm:"type:text;not null"`
	Description string `gorm:"type:text"`
	Category    string `gorm:"type:varchar(50);index"`

	Resolution      datatypes.JSON  `gorm:"type:jsonb;not null"`
	ConfidenceScore decimal.Decimal `gorm:"type:numeric(5,4);not null;default:0"`

	Status           string  `gorm:"type:varchar(20);not null;index"`
	SourceProposalID *uint64 `gorm:"index"`

	// ExpiresAt mirrors Resolution rules' expiry so the resolver can scan
	// without unpacking jsonb.
	ExpiresAt *time.Time `gorm:"type:timestamptz;index"`

	CreatedAt   time.Time  `gorm:"type:timestamptz;autoCreateTime"`
	PublishedAt *time.Time `gorm:"type:timestamptz;index"`
	ResolvedAt  *time.Time `gorm:"type:timestamptz"`
	FinalizedAt *time.Time `gorm:"type:timestamptz"`
}

func (Market) TableName() string {
	return "markets"
}

// ResolutionRules is the immutable-once-active rule set stored in
// Market.Resolution as jsonb. Admin modification is allowed only during
// proposal review.
type ResolutionRules struct {
	ExactQuestion  string    `json:"exact_question"`
	MustMeetAll    []string  `json:"must_meet_all"`
	MustNotCount   []string  `json:"must_not_count"`
	AllowedSources []string  `json:"allowed_sources"`
	Expiry         time.Time `json:"expiry"`
}
