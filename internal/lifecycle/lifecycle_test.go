package lifecycle

import "testing"

func TestMarketTransitions(t *testing.T) {
	cases := []struct {
		from MarketStatus
		to   MarketStatus
		ok   bool
	}{
		{MarketDraft, MarketPendingReview, true},
		{MarketDraft, MarketActive, true},
		{MarketDraft, MarketCanceled, true},
		{MarketPendingReview, MarketActive, true},
		{MarketPendingReview, MarketCanceled, true},
		{MarketActive, MarketResolving, true},
		{MarketResolving, MarketResolved, true},
		{MarketResolving, MarketDisputed, true},
		{MarketResolved, MarketFinalized, true},
		{MarketResolved, MarketDisputed, true},
		{MarketDisputed, MarketFinalized, true},

		// No skipping states.
		{MarketDraft, MarketResolved, false},
		{MarketActive, MarketResolved, false},
		{MarketActive, MarketFinalized, false},
		{MarketPendingReview, MarketResolving, false},

		// No moving backwards or out of terminal states.
		{MarketActive, MarketDraft, false},
		{MarketFinalized, MarketDisputed, false},
		{MarketCanceled, MarketActive, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.ok {
			t.Errorf("%s -> %s: got %v want %v", tc.from, tc.to, got, tc.ok)
		}
	}
}

func TestMarketTerminal(t *testing.T) {
	for _, s := range []MarketStatus{MarketFinalized, MarketCanceled} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
		if len(marketTransitions[s]) != 0 {
			t.Errorf("%s has outgoing transitions", s)
		}
	}
	for _, s := range []MarketStatus{MarketDraft, MarketActive, MarketDisputed} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestProposalReviewable(t *testing.T) {
	if !ProposalNeedsHuman.Reviewable() {
		t.Fatalf("needs_human must be reviewable")
	}
	for _, s := range []ProposalStatus{ProposalPending, ProposalApproved, ProposalRejected} {
		if s.Reviewable() {
			t.Errorf("%s should not be reviewable", s)
		}
	}
}

func TestDisputeReviewable(t *testing.T) {
	for _, s := range []DisputeStatus{DisputePending, DisputeEscalated, DisputeReviewing} {
		if !s.Reviewable() {
			t.Errorf("%s should be reviewable", s)
		}
	}
	for _, s := range []DisputeStatus{DisputeUpheld, DisputeOverturned} {
		if s.Reviewable() {
			t.Errorf("terminal dispute %s should not be reviewable", s)
		}
	}
}

func TestParseMarketStatus(t *testing.T) {
	if _, ok := ParseMarketStatus("active"); !ok {
		t.Fatalf("active should parse")
	}
	if _, ok := ParseMarketStatus("limbo"); ok {
		t.Fatalf("limbo should not parse")
	}
}

func TestWorkerStatusActive(t *testing.T) {
	for _, s := range []WorkerStatus{WorkerRunning, WorkerIdle} {
		if !s.Active() {
			t.Errorf("%s should count as active", s)
		}
	}
	for _, s := range []WorkerStatus{WorkerStarting, WorkerError, WorkerStopped} {
		if s.Active() {
			t.Errorf("%s should not count as active", s)
		}
	}
}
