package requirements

import "github.com/reqboard/reqboard/pkg/apperrors"

// Transition defines an allowed lifecycle transition.
type Transition struct {
	From Status
	To   Status
}

// DefaultTransitions defines the allowed lifecycle state transitions:
// forward one step along the canonical order, plus the single backward
// exception review -> draft (sent back for rework). Closed is terminal.
var DefaultTransitions = []Transition{
	{From: StatusDraft, To: StatusReview},
	{From: StatusReview, To: StatusApproved},
	{From: StatusReview, To: StatusDraft},
	{From: StatusApproved, To: StatusImplemented},
	{From: StatusImplemented, To: StatusVerified},
	{From: StatusVerified, To: StatusClosed},
}

// LifecycleMachine validates requirement lifecycle transitions.
type LifecycleMachine struct {
	transitions []Transition
}

// NewLifecycleMachine creates a machine with the default rules.
func NewLifecycleMachine() *LifecycleMachine {
	return &LifecycleMachine{transitions: DefaultTransitions}
}

// ValidateTransition checks if a transition from->to is allowed.
// Same-state is a no-op and allowed; everything outside the table is an
// InvalidTransitionError carrying both states.
func (m *LifecycleMachine) ValidateTransition(from, to Status) error {
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
func (m *LifecycleMachine) AllowedTransitions(from Status) []Status {
	var allowed []Status
	for _, t := range m.transitions {
		if t.From == from {
			allowed = append(allowed, t.To)
		}
	}
	return allowed
}
