package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransitions(t *testing.T) {
	assert.True(t, CanTransition(StateNew, StateChecked))
	assert.True(t, CanTransition(StateChecked, StateManualReview))
	assert.True(t, CanTransition(StateReviewed, StateAccepted))
	assert.True(t, CanTransition(StateAccepted, StateWithdrawn))
	assert.False(t, CanTransition(StateNew, StateAccepted))
	assert.False(t, CanTransition(StateAnonymised, StateAnonymised))
	assert.False(t, CanTransition(StateWithdrawn, StateNew))
	assert.False(t, CanTransition("bogus", StateNew))
}

func TestStatePredicates(t *testing.T) {
	for _, s := range []ProposalState{StateWithdrawn, StateRejected, StateCancelled, StateFinished} {
		assert.True(t, s.IsTerminal(), s)
	}
	assert.False(t, StateAccepted.IsTerminal())
	assert.True(t, StateFinalised.IsAccepted())
	assert.False(t, StateReviewed.IsAccepted())
	assert.True(t, StateManualReview.IsEditableByAuthor())
	assert.False(t, StateChecked.IsEditableByAuthor())
	assert.True(t, StateAnonBlocked.Valid())
	assert.False(t, ProposalState("imported").Valid())
}
