package requirements

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reqboard/reqboard/pkg/apperrors"
)

func TestLifecycleMachine_AllowedTransitions(t *testing.T) {
	m := NewLifecycleMachine()

	allowed := []struct{ from, to Status }{
		{StatusDraft, StatusReview},
		{StatusReview, StatusApproved},
		{StatusReview, StatusDraft}, // sent back for rework
		{StatusApproved, StatusImplemented},
		{StatusImplemented, StatusVerified},
		{StatusVerified, StatusClosed},
	}
	for _, tc := range allowed {
		assert.NoError(t, m.ValidateTransition(tc.from, tc.to), "%s -> %s should be allowed", tc.from, tc.to)
	}
}

func TestLifecycleMachine_RejectedTransitions(t *testing.T) {
	m := NewLifecycleMachine()

	rejected := []struct{ from, to Status }{
		{StatusDraft, StatusApproved},     // skipping review
		{StatusDraft, StatusClosed},       // skipping everything
		{StatusApproved, StatusDraft},     // backward outside the exception
		{StatusApproved, StatusReview},    // backward outside the exception
		{StatusImplemented, StatusReview}, // backward outside the exception
		{StatusClosed, StatusDraft},       // out of terminal
		{StatusClosed, StatusVerified},    // out of terminal
	}
	for _, tc := range rejected {
		err := m.ValidateTransition(tc.from, tc.to)
		require.Error(t, err, "%s -> %s should be rejected", tc.from, tc.to)

		var it *apperrors.InvalidTransitionError
		require.True(t, errors.As(err, &it))
		assert.Equal(t, string(tc.from), it.From)
		assert.Equal(t, string(tc.to), it.To)
	}
}

func TestLifecycleMachine_SameStateIsNoOp(t *testing.T) {
	m := NewLifecycleMachine()
	assert.NoError(t, m.ValidateTransition(StatusDraft, StatusDraft))
	assert.NoError(t, m.ValidateTransition(StatusClosed, StatusClosed))
}

func TestLifecycleMachine_AllowedTargets(t *testing.T) {
	m := NewLifecycleMachine()

	assert.ElementsMatch(t, []Status{StatusApproved, StatusDraft}, m.AllowedTransitions(StatusReview))
	assert.ElementsMatch(t, []Status{StatusReview}, m.AllowedTransitions(StatusDraft))
	assert.Empty(t, m.AllowedTransitions(StatusClosed))
}
