package lifecycle

// ProposalStatus tracks human-in-the-loop review of drafted markets.
type ProposalStatus string

const (
	ProposalPending    ProposalStatus = "pending"
	ProposalNeedsHuman ProposalStatus = "needs_human"
	ProposalApproved   ProposalStatus = "approved"
	ProposalRejected   ProposalStatus = "rejected"
)

var proposalTransitions = map[ProposalStatus][]ProposalStatus{
	ProposalPending:    {ProposalNeedsHuman, ProposalApproved, ProposalRejected},
	ProposalNeedsHuman: {ProposalApproved, ProposalRejected},
	ProposalApproved:   nil,
	ProposalRejected:   nil,
}

func (s ProposalStatus) Valid() bool {
	_, ok := proposalTransitions[s]
	return ok
}

func (s ProposalStatus) Terminal() bool {
	return s == ProposalApproved || s == ProposalRejected
}

func (s ProposalStatus) CanTransition(to ProposalStatus) bool {
	for _, next := range proposalTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Reviewable reports whether an admin decision is accepted in this state.
// Only needs_human proposals are reviewable.
func (s ProposalStatus) Reviewable() bool {
	return s == ProposalNeedsHuman
}

func ParseProposalStatus(raw string) (ProposalStatus, bool) {
	s := ProposalStatus(raw)
	return s, s.Valid()
}
