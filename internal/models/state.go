package models

// ProposalState is the lifecycle state of a proposal
type ProposalState string

const (
	StateNew          ProposalState = "new"
	StateEdit         ProposalState = "edit"
	StateLocked       ProposalState = "locked"
	StateChecked      ProposalState = "checked"
	StateRejected     ProposalState = "rejected"
	StateCancelled    ProposalState = "cancelled"
	StateAnonymised   ProposalState = "anonymised"
	StateAnonBlocked  ProposalState = "anon-blocked"
	StateReviewed     ProposalState = "reviewed"
	StateManualReview ProposalState = "manual-review"
	StateAccepted     ProposalState = "accepted"
	StateFinished     ProposalState = "finished"
	StateFinalised    ProposalState = "finalised"
	StateWithdrawn    ProposalState = "withdrawn"
)

// AllStates lists every declared proposal state in listing order
var AllStates = []ProposalState{
	StateNew, StateEdit, StateLocked, StateChecked, StateRejected, StateCancelled, StateAnonymised, StateAnonBlocked,
	StateReviewed, StateManualReview, StateAccepted, StateFinished, StateFinalised, StateWithdrawn,
}

// transitions holds the legal (non-forced) state transitions. States without an entry are terminal.
var transitions = map[ProposalState][]ProposalState{
	StateNew:          {StateChecked, StateRejected, StateEdit, StateLocked, StateWithdrawn},
	StateEdit:         {StateNew, StateWithdrawn},
	StateLocked:       {StateNew, StateEdit, StateWithdrawn},
	StateChecked:      {StateAnonymised, StateAnonBlocked, StateManualReview, StateRejected, StateEdit, StateWithdrawn},
	StateAnonBlocked:  {StateChecked, StateManualReview, StateRejected, StateWithdrawn},
	StateAnonymised:   {StateReviewed, StateWithdrawn},
	StateReviewed:     {StateAccepted, StateRejected, StateWithdrawn},
	StateManualReview: {StateAccepted, StateRejected, StateWithdrawn},
	StateAccepted:     {StateFinalised, StateCancelled, StateWithdrawn},
	StateFinalised:    {StateFinished, StateCancelled, StateWithdrawn},
}

// Valid checks if the state is one of the declared states
func (s ProposalState) Valid() bool {
	for _, st := range AllStates {
		if st == s {
			return true
		}
	}
	return false
}

// CanTransition checks if moving from one state to the other is a legal transition
func CanTransition(from, to ProposalState) bool {
	for _, st := range transitions[from] {
		if st == to {
			return true
		}
	}
	return false
}

// NextStates returns the states reachable from the given one by a legal transition
func NextStates(from ProposalState) []ProposalState {
	return append([]ProposalState(nil), transitions[from]...)
}

// IsTerminal is true for states that have no legal way out
func (s ProposalState) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// IsAccepted is the single predicate for "this proposal has been accepted". It includes finalised and finished
// proposals.
func (s ProposalState) IsAccepted() bool {
	return s == StateAccepted || s == StateFinalised || s == StateFinished
}

// IsEditableByAuthor reports whether the author may still change the core fields
func (s ProposalState) IsEditableByAuthor() bool {
	return s == StateNew || s == StateEdit || s == StateManualReview
}
