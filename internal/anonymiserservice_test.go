package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/derWhity/cfpdesk/internal/models"
)

func TestAnonymiserQueue(t *testing.T) {
	env := newTestEnv(t)
	anon := env.user(t, "anon", models.PermCFPAnonymiser)
	author := env.user(t, "author")
	var ids []uint
	for _, title := range []string{"One", "Two", "Three"} {
		p := env.proposal(t, author, models.Proposal{Type: models.TypeTalk, State: models.StateChecked, Title: title})
		ids = append(ids, p.ID)
	}
	env.proposal(t, author, models.Proposal{Type: models.TypeTalk, State: models.StateNew, Title: "Unchecked"})

	_, err := env.Anonymiser.ListPending(env.as(author), "")
	assertErrorCode(t, ErrCodeForbidden, err)
	pending, err := env.Anonymiser.ListPending(env.as(anon), "")
	require.NoError(t, err)
	assert.ElementsMatch(t, ids, proposalIDs(pending))

	first, err := env.Anonymiser.Next(env.as(anon), 0)
	require.NoError(t, err)
	require.NotNil(t, first)
	second, err := env.Anonymiser.Next(env.as(anon), first.ID)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.NotEqual(t, first.ID, second.ID)

	assertErrorCode(t, ErrCodeInvalidField, env.Anonymiser.Anonymise(env.as(anon), first.ID, " ", "text"))
	require.NoError(t, env.Anonymiser.Anonymise(env.as(anon), first.ID, "A talk about rockets", "Anonymous text"))
	done := env.get(t, first.ID)
	assert.Equal(t, models.StateAnonymised, done.State)
	assert.Equal(t, "A talk about rockets", done.Title)
	require.NotNil(t, done.AnonymiserID)
	assert.Equal(t, anon.ID, *done.AnonymiserID)

	require.NoError(t, env.Anonymiser.Block(env.as(anon), second.ID))
	assert.Equal(t, models.StateAnonBlocked, env.get(t, second.ID).State)

	// Both have left the queue
	pending, err = env.Anonymiser.ListPending(env.as(anon), "")
	require.NoError(t, err)
	assert.Len(t, pending, 1)
	next, err := env.Anonymiser.Next(env.as(anon), first.ID)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, pending[0].ID, next.ID)
	last, err := env.Anonymiser.Next(env.as(anon), next.ID)
	require.NoError(t, err)
	assert.Nil(t, last)

	err = env.Anonymiser.Anonymise(env.as(anon), first.ID, "Again", "")
	assertErrorCode(t, ErrCodeIllegalTransition, err)
}
