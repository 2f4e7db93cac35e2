package changecontrol

import "github.com/reqboard/reqboard/pkg/apperrors"

// Transition defines an allowed workflow transition.
type Transition struct {
	From Status
	To   Status
}

// DefaultTransitions defines the change request workflow. Cancellation is
// open to the requester while the request is still pending; once a decision
// is recorded the request can only move forward to implemented or stop.
var DefaultTransitions = []Transition{
	{From: StatusProposed, To: StatusUnderReview},
	{From: StatusProposed, To: StatusCancelled},
	{From: StatusUnderReview, To: StatusApproved},
	{From: StatusUnderReview, To: StatusRejected},
	{From: StatusUnderReview, To: StatusCancelled},
	{From: StatusApproved, To: StatusImplemented},
}

// WorkflowMachine validates change request workflow transitions.
type WorkflowMachine struct {
	transitions []Transition
}

// NewWorkflowMachine creates a machine with the default rules.
func NewWorkflowMachine() *WorkflowMachine {
	return &WorkflowMachine{transitions: DefaultTransitions}
}

// ValidateTransition checks if a transition from->to is allowed. Terminal
// states accept nothing, not even a same-state repeat; for pending states a
// same-state call is a no-op. Everything outside the table is an
// InvalidTransitionError carrying both states.
func (m *WorkflowMachine) ValidateTransition(from, to Status) error {
	if Terminal(from) {
		return apperrors.InvalidTransition(string(from), string(to))
	}
	if from == to {
		return nil
	}
	for _, t := range m.transitions {
		if t.From == from && t.To == to {
			return nil
		}
	}
	return apperrors.InvalidTransition(string(from), string(to))
}

// AllowedTransitions returns all valid target states from the given state.
func (m *WorkflowMachine) AllowedTransitions(from Status) []Status {
	var allowed []Status
	for _, t := range m.transitions {
		if t.From == from {
			allowed = append(allowed, t.To)
		}
	}
	return allowed
}
