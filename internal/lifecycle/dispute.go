package lifecycle

// DisputeStatus tracks a contested resolution from filing to adjudication.
type DisputeStatus string

const (
	DisputePending    DisputeStatus = "pending"
	DisputeEscalated  DisputeStatus = "escalated"
	DisputeReviewing  DisputeStatus = "reviewing"
	DisputeUpheld     DisputeStatus = "upheld"
	DisputeOverturned DisputeStatus = "overturned"
)

var disputeTransitions = map[DisputeStatus][]DisputeStatus{
	DisputePending:    {DisputeEscalated, DisputeReviewing, DisputeUpheld, DisputeOverturned},
	DisputeEscalated:  {DisputeReviewing, DisputeUpheld, DisputeOverturned},
	DisputeReviewing:  {DisputeUpheld, DisputeOverturned},
	DisputeUpheld:     nil,
	DisputeOverturned: nil,
}

func (s DisputeStatus) Valid() bool {
	_, ok := disputeTransitions[s]
	return ok
}

func (s DisputeStatus) Terminal() bool {
	return s == DisputeUpheld || s == DisputeOverturned
}

func (s DisputeStatus) CanTransition(to DisputeStatus) bool {
	for _, next := range disputeTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Reviewable reports whether an admin adjudication is accepted in this state.
func (s DisputeStatus) Reviewable() bool {
	switch s {
	case DisputePending, DisputeEscalated, DisputeReviewing:
		return true
	default:
		return false
	}
}

func ParseDisputeStatus(raw string) (DisputeStatus, bool) {
	s := DisputeStatus(raw)
	return s, s.Valid()
}
