package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/derWhity/cfpdesk/internal/bus"
	"github.com/derWhity/cfpdesk/internal/models"
)

type reviewCrew struct {
	admin      *models.User
	anonymiser *models.User
	reviewers  []*models.User
}

func newReviewCrew(t *testing.T, env *testEnv) reviewCrew {
	return reviewCrew{
		admin:      env.user(t, "admin", models.PermCFPAdmin),
		anonymiser: env.user(t, "anon", models.PermCFPAnonymiser),
		reviewers: []*models.User{
			env.user(t, "rev1", models.PermCFPReviewer),
			env.user(t, "rev2", models.PermCFPReviewer),
			env.user(t, "rev3", models.PermCFPReviewer),
		},
	}
}

// submitForReview takes a new talk through checking and anonymisation
func submitForReview(t *testing.T, env *testEnv, crew reviewCrew, author *models.User, title string) uint {
	p, err := env.Proposals.Create(env.as(author), &models.Proposal{
		Type:        models.TypeTalk,
		Title:       title,
		Description: "Written by " + author.Name,
		Length:      "25-45 mins",
	})
	require.NoError(t, err)
	require.NoError(t, env.Proposals.Check(env.as(crew.admin), p.ID))
	require.NoError(t, env.Anonymiser.Anonymise(env.as(crew.anonymiser), p.ID, title, "Anonymised description"))
	assert.Equal(t, models.StateAnonymised, env.get(t, p.ID).State)
	return p.ID
}

func TestReviewRoundAcceptsWellScoredTalk(t *testing.T) {
	env := newTestEnv(t)
	crew := newReviewCrew(t, env)
	author := env.user(t, "author")
	id := submitForReview(t, env, crew, author, "Soldering for beginners")

	for i, v := range []int{2, 2, 1} {
		_, err := env.Reviews.Vote(env.as(crew.reviewers[i]), &VoteRequest{ProposalID: id, Vote: v})
		require.NoError(t, err)
	}

	preview, err := env.Rounds.PreviewClose(env.as(crew.admin), 4)
	require.NoError(t, err)
	assert.Empty(t, preview)

	closed, err := env.Rounds.Close(env.as(crew.admin), 3)
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, 3, closed[0].Votes)
	assert.Equal(t, models.StateReviewed, env.get(t, id).State)

	ranking, err := env.Rounds.Ranking(env.as(crew.admin))
	require.NoError(t, err)
	require.Len(t, ranking, 1)
	assert.InDelta(t, 0.88, ranking[0].Score, 0.01)

	res, err := env.Rounds.Accept(env.as(crew.admin), &AcceptRequest{MinScore: 0.5, Mode: AcceptModeAccepted})
	require.NoError(t, err)
	assert.Equal(t, []uint{id}, res.Accepted)
	assert.Equal(t, models.StateAccepted, env.get(t, id).State)
	assert.Equal(t, []string{models.MailAccepted}, env.outboxKinds(t, crew.admin, id))

	sent, failed, err := env.Notifications.Flush(env.as(crew.admin))
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Equal(t, 0, failed)
	mails := env.mailer.Sent()
	require.Len(t, mails, 1)
	assert.Equal(t, author.Email, mails[0].To)
	assert.Contains(t, mails[0].Subject, "Soldering for beginners")

	// Nothing is left to send
	sent, _, err = env.Notifications.Flush(env.as(crew.admin))
	require.NoError(t, err)
	assert.Zero(t, sent)
}

func TestClosingAgainKeepsReviewedProposals(t *testing.T) {
	env := newTestEnv(t)
	crew := newReviewCrew(t, env)
	id := submitForReview(t, env, crew, env.user(t, "author"), "Mesh networks")
	pending := submitForReview(t, env, crew, env.user(t, "other"), "Late votes")
	for _, r := range crew.reviewers {
		_, err := env.Reviews.Vote(env.as(r), &VoteRequest{ProposalID: id, Vote: 1})
		require.NoError(t, err)
	}
	_, err := env.Reviews.Vote(env.as(crew.reviewers[0]), &VoteRequest{ProposalID: pending, Vote: 2})
	require.NoError(t, err)

	closed, err := env.Rounds.Close(env.as(crew.admin), 3)
	require.NoError(t, err)
	require.Len(t, closed, 1)

	preview, err := env.Rounds.PreviewClose(env.as(crew.admin), 3)
	require.NoError(t, err)
	require.Len(t, preview, 1)
	assert.Equal(t, id, preview[0].Proposal.ID)
	assert.Equal(t, models.StateReviewed, preview[0].Proposal.State)

	closed, err = env.Rounds.Close(env.as(crew.admin), 3)
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, id, closed[0].Proposal.ID)
	assert.Equal(t, 3, closed[0].Votes)
	assert.Equal(t, models.StateReviewed, env.get(t, id).State)
	assert.Equal(t, models.StateAnonymised, env.get(t, pending).State)
}

func TestRecusedVotesDoNotCount(t *testing.T) {
	env := newTestEnv(t)
	crew := newReviewCrew(t, env)
	id := submitForReview(t, env, crew, env.user(t, "author"), "Knitting robots")

	_, err := env.Reviews.Recuse(env.as(crew.reviewers[0]), id, "")
	assertErrorCode(t, ErrCodeRequiredFieldMissing, err)
	_, err = env.Reviews.Recuse(env.as(crew.reviewers[0]), id, "I know the author")
	require.NoError(t, err)
	for i, v := range []int{1, 2} {
		_, err := env.Reviews.Vote(env.as(crew.reviewers[i+1]), &VoteRequest{ProposalID: id, Vote: v})
		require.NoError(t, err)
	}

	closed, err := env.Rounds.Close(env.as(crew.admin), 3)
	require.NoError(t, err)
	assert.Empty(t, closed)
	closed, err = env.Rounds.Close(env.as(crew.admin), 2)
	require.NoError(t, err)
	require.Len(t, closed, 1)

	ranking, err := env.Rounds.Ranking(env.as(crew.admin))
	require.NoError(t, err)
	require.Len(t, ranking, 1)
	assert.Equal(t, 2, ranking[0].Votes)
	assert.InDelta(t, 5.0/8.0, ranking[0].Score, 1e-9)

	res, err := env.Rounds.Accept(env.as(crew.admin), &AcceptRequest{MinScore: 0.3, Mode: AcceptModeNobody})
	require.NoError(t, err)
	assert.Equal(t, []uint{id}, res.Accepted)
	assert.Empty(t, env.outboxKinds(t, crew.admin, id))
}

func TestAcceptRejectsBelowThreshold(t *testing.T) {
	env := newTestEnv(t)
	crew := newReviewCrew(t, env)
	good := submitForReview(t, env, crew, env.user(t, "good"), "Good talk")
	weak := submitForReview(t, env, crew, env.user(t, "weak"), "Weak talk")
	for _, r := range crew.reviewers {
		_, err := env.Reviews.Vote(env.as(r), &VoteRequest{ProposalID: good, Vote: 2})
		require.NoError(t, err)
		_, err = env.Reviews.Vote(env.as(r), &VoteRequest{ProposalID: weak, Vote: 0})
		require.NoError(t, err)
	}
	_, err := env.Rounds.Close(env.as(crew.admin), 3)
	require.NoError(t, err)

	_, err = env.Rounds.Accept(env.as(crew.admin), &AcceptRequest{MinScore: 0.5, Mode: "everyone"})
	assertErrorCode(t, ErrCodeInvalidField, err)

	res, err := env.Rounds.Accept(env.as(crew.admin), &AcceptRequest{MinScore: 0.5, Mode: AcceptModeAcceptedReject})
	require.NoError(t, err)
	assert.Equal(t, []uint{good}, res.Accepted)
	assert.Equal(t, []uint{weak}, res.Rejected)
	assert.Equal(t, models.StateRejected, env.get(t, weak).State)
	assert.Equal(t, []string{models.MailRejected}, env.outboxKinds(t, crew.admin, weak))
}

func TestCheckSendsUnreviewedTypesToManualReview(t *testing.T) {
	env := newTestEnv(t)
	admin := env.user(t, "admin", models.PermCFPAdmin)
	author := env.user(t, "author")
	p, err := env.Proposals.Create(env.as(author), &models.Proposal{
		Type:  models.TypeInstallation,
		Title: "Giant light sculpture",
		Size:  "3m x 3m",
	})
	require.NoError(t, err)
	assert.Len(t, env.bus.Messages(bus.TopicHeralds), 1)

	require.NoError(t, env.Proposals.Check(env.as(admin), p.ID))
	assert.Equal(t, models.StateManualReview, env.get(t, p.ID).State)

	err = env.Proposals.Transition(env.as(admin), p.ID, models.StateFinished, false)
	assertErrorCode(t, ErrCodeIllegalTransition, err)
	require.NoError(t, env.Proposals.Transition(env.as(admin), p.ID, models.StateAccepted, false))

	versions, err := env.Proposals.Versions(env.as(admin), p.ID)
	require.NoError(t, err)
	var states []string
	for _, v := range versions {
		if v.Field == "state" && v.After != nil {
			states = append(states, *v.After)
		}
	}
	assert.Equal(t, []string{"new", "checked", "manual-review", "accepted"}, states)
}
