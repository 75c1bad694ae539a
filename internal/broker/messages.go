package broker

import "time"

// Message contracts for the pipeline queues. Every payload carries enough
// identifiers to be reprocessed idempotently; handlers re-fetch current
// state from the store before acting, so no payload is ever the sole
// source of truth.

// NewsRawMessage is published by the external ingestion step.
type NewsRawMessage struct {
	SourceURL   string    `json:"source_url"`
	Headline    string    `json:"headline"`
	Body        string    `json:"body"`
	Category    string    `json:"category,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

// CandidateMessage carries a user-submitted proposal into drafting.
type CandidateMessage struct {
	ProposalID uint64 `json:"proposal_id"`
}

// DraftValidateMessage asks the validator to score a drafted market.
type DraftValidateMessage struct {
	DraftMarketID uint64  `json:"draft_market_id"`
	ProposalID    *uint64 `json:"proposal_id,omitempty"`
}

// MarketPublishMessage asks the publisher to create the market on-chain.
type MarketPublishMessage struct {
	DraftMarketID uint64 `json:"draft_market_id"`
	ValidationID  string `json:"validation_id"`
}

// MarketResolveMessage asks the resolver to settle an expired market.
type MarketResolveMessage struct {
	MarketID uint64 `json:"market_id"`
}

// DisputeMessage routes a newly opened dispute to the dispute worker.
type DisputeMessage struct {
	DisputeID    uint64 `json:"dispute_id"`
	ResolutionID uint64 `json:"resolution_id"`
}

// ConfigRefreshMessage broadcasts cache invalidation after a config mutation.
type ConfigRefreshMessage struct {
	UpdatedKeys []string  `json:"updated_keys"`
	UpdatedAt   time.Time `json:"updated_at"`
}
