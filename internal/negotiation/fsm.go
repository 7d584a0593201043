// Package negotiation implements the change-request lifecycle: a proposal
// embedded in team chat moves from pending to approved or rejected, and
// recipients acknowledge the outcome.
package negotiation

import "teamplan/internal/models"

// Decision is the resolver's verdict on a pending request.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// State returns the terminal state a decision leads to.
func (d Decision) State() models.RequestState {
	if d == DecisionApprove {
		return models.RequestApproved
	}
	return models.RequestRejected
}

// Valid reports whether the decision is one of the known verdicts.
func (d Decision) Valid() bool {
	return d == DecisionApprove || d == DecisionReject
}

// FSM manages state transitions for a change request. Approved and
// rejected are absorbing: no transition leaves them.
type FSM struct {
	transitions map[models.RequestState][]models.RequestState
}

// NewFSM creates the FSM with the request lifecycle transitions.
func NewFSM() *FSM {
	return &FSM{
		transitions: map[models.RequestState][]models.RequestState{
			models.RequestPending: {models.RequestApproved, models.RequestRejected},
		},
	}
}

// CanTransition checks if transition is allowed.
func (f *FSM) CanTransition(from, to models.RequestState) bool {
	allowed, ok := f.transitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves the state.
func (f *FSM) Terminal(s models.RequestState) bool {
	return len(f.transitions[s]) == 0
}
