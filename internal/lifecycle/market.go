package lifecycle

// MarketStatus is the closed set of states a market record moves through.
// Transitions are monotonic forward except the disputed → finalized path.
type MarketStatus string

const (
	MarketDraft         MarketStatus = "draft"
	MarketPendingReview MarketStatus = "pending_review"
	MarketActive        MarketStatus = "active"
	MarketResolving     MarketStatus = "resolving"
	MarketResolved      MarketStatus = "resolved"
	MarketFinalized     MarketStatus = "finalized"
	MarketDisputed      MarketStatus = "disputed"
	MarketCanceled      MarketStatus = "canceled"
)

var marketTransitions = map[MarketStatus][]MarketStatus{
	MarketDraft:         {MarketPendingReview, MarketActive, MarketCanceled},
	MarketPendingReview: {MarketActive, MarketCanceled},
	MarketActive:        {MarketResolving},
	MarketResolving:     {MarketResolved, MarketDisputed},
	MarketResolved:      {MarketFinalized, MarketDisputed},
	MarketDisputed:      {MarketFinalized},
	MarketFinalized:     nil,
	MarketCanceled:      nil,
}

func (s MarketStatus) Valid() bool {
	_, ok := marketTransitions[s]
	return ok
}

func (s MarketStatus) Terminal() bool {
	return s == MarketFinalized || s == MarketCanceled
}

// CanTransition reports whether from → to is an allowed market transition.
// No transition may skip states.
func (s MarketStatus) CanTransition(to MarketStatus) bool {
	for _, next := range marketTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

func ParseMarketStatus(raw string) (MarketStatus, bool) {
	s := MarketStatus(raw)
	return s, s.Valid()
}
