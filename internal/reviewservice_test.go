package internal

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/derWhity/cfpdesk/internal/models"
)

func proposalIDs(list []models.Proposal) []uint {
	ret := []uint{}
	for _, p := range list {
		ret = append(ret, p.ID)
	}
	return ret
}

func TestWorkingSetLeavesOutOwnAndVotedProposals(t *testing.T) {
	env := newTestEnv(t)
	crew := newReviewCrew(t, env)
	reviewer := crew.reviewers[0]
	own := submitForReview(t, env, crew, reviewer, "My own talk")
	first := submitForReview(t, env, crew, env.user(t, "a1"), "First")
	second := submitForReview(t, env, crew, env.user(t, "a2"), "Second")

	set, err := env.Reviews.WorkingSet(env.as(reviewer))
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint{first, second}, proposalIDs(set))
	assert.NotContains(t, proposalIDs(set), own)

	_, err = env.Reviews.Vote(env.as(reviewer), &VoteRequest{ProposalID: own, Vote: 2})
	assertErrorCode(t, ErrCodeNotReviewable, err)
	_, err = env.Reviews.Vote(env.as(reviewer), &VoteRequest{ProposalID: first, Vote: 3})
	assertErrorCode(t, ErrCodeInvalidField, err)
	_, err = env.Reviews.Vote(env.as(reviewer), &VoteRequest{ProposalID: first, Vote: 1})
	require.NoError(t, err)

	set, err = env.Reviews.WorkingSet(env.as(reviewer))
	require.NoError(t, err)
	assert.Equal(t, []uint{second}, proposalIDs(set))
}

func TestStaleVotesComeBack(t *testing.T) {
	env := newTestEnv(t)
	crew := newReviewCrew(t, env)
	reviewer := crew.reviewers[0]
	id := submitForReview(t, env, crew, env.user(t, "author"), "Changing talk")

	v, err := env.Reviews.Vote(env.as(reviewer), &VoteRequest{ProposalID: id, Vote: 2, Note: "Lovely"})
	require.NoError(t, err)
	assert.Equal(t, models.VoteVoted, v.State)
	set, err := env.Reviews.WorkingSet(env.as(reviewer))
	require.NoError(t, err)
	assert.Empty(t, set)

	_, err = env.Reviews.MarkStale(env.as(reviewer), id)
	assertErrorCode(t, ErrCodeForbidden, err)
	n, err := env.Reviews.MarkStale(env.as(crew.admin), id)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	set, err = env.Reviews.WorkingSet(env.as(reviewer))
	require.NoError(t, err)
	assert.Equal(t, []uint{id}, proposalIDs(set))

	notes, err := env.Reviews.ListNotes(env.as(crew.admin), true)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	read, err := env.Reviews.MarkAllRead(env.as(crew.admin))
	require.NoError(t, err)
	assert.Equal(t, int64(1), read)
	notes, err = env.Reviews.ListNotes(env.as(crew.admin), true)
	require.NoError(t, err)
	assert.Empty(t, notes)
}

func TestBlockNeedsNote(t *testing.T) {
	env := newTestEnv(t)
	crew := newReviewCrew(t, env)
	id := submitForReview(t, env, crew, env.user(t, "author"), "Questionable")

	_, err := env.Reviews.Block(env.as(crew.reviewers[1]), id, "  ")
	assertErrorCode(t, ErrCodeRequiredFieldMissing, err)
	v, err := env.Reviews.Block(env.as(crew.reviewers[1]), id, "Mentions the author's company")
	require.NoError(t, err)
	assert.Equal(t, models.VoteBlocked, v.State)
	assert.Nil(t, v.Vote)

	v, err = env.Reviews.Reopen(env.as(crew.reviewers[1]), id)
	require.NoError(t, err)
	assert.Equal(t, models.VoteResolved, v.State)
}

func TestBuildWorkingSet(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	again := []uint{1, 2}
	fresh := []uint{10, 11, 12, 13}
	old := []uint{20, 21, 22, 23}

	set := buildWorkingSet(rnd, again, fresh, old, 6)
	require.Len(t, set, 6)
	assert.ElementsMatch(t, []uint{1, 2}, set[:2])
	nNew, nOld := 0, 0
	for _, id := range set[2:] {
		if id >= 20 {
			nOld++
		} else {
			nNew++
		}
	}
	assert.Equal(t, 2, nNew)
	assert.Equal(t, 2, nOld)

	// Proposals to look at again always make it in
	set = buildWorkingSet(rnd, []uint{1, 2, 3}, fresh, old, 2)
	assert.ElementsMatch(t, []uint{1, 2, 3}, set)

	// Missing old proposals are filled up with new ones
	set = buildWorkingSet(rnd, nil, []uint{10, 11, 12}, []uint{20}, 4)
	assert.ElementsMatch(t, []uint{10, 11, 12, 20}, set)
}
