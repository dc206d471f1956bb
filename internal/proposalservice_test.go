package internal

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/derWhity/cfpdesk/internal/bus"
	"github.com/derWhity/cfpdesk/internal/models"
)

func TestCreateValidatesPerType(t *testing.T) {
	env := newTestEnv(t)
	ctx := env.as(env.user(t, "author"))

	_, err := env.Proposals.Create(ctx, &models.Proposal{Type: "keynote", Title: "Big"})
	assertErrorCode(t, ErrCodeInvalidField, err)
	_, err = env.Proposals.Create(ctx, &models.Proposal{Type: models.TypeWorkshop, Title: "No seats"})
	assertErrorCode(t, ErrCodeInvalidField, err)
	_, err = env.Proposals.Create(ctx, &models.Proposal{
		Type: models.TypeYouthWorkshop, Title: "No ages", Attendees: models.IntPtr(10),
	})
	assertErrorCode(t, ErrCodeInvalidField, err)
	_, err = env.Proposals.Create(ctx, &models.Proposal{Type: models.TypeLightning, Title: "No slides"})
	assertErrorCode(t, ErrCodeInvalidField, err)

	p, err := env.Proposals.Create(ctx, &models.Proposal{
		Type:      models.TypeYouthWorkshop,
		Title:     "  Paper circuits ",
		Attendees: models.IntPtr(12),
		AgeRange:  "8-12",
		Tags:      []string{"Electronics", "kids"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.StateNew, p.State)
	assert.Equal(t, "Paper circuits", p.Title)
}

func TestAuthorEditsUntilCheckedAndAdminReverts(t *testing.T) {
	env := newTestEnv(t)
	admin := env.user(t, "admin", models.PermCFPAdmin)
	author := env.user(t, "author")
	p, err := env.Proposals.Create(env.as(author), &models.Proposal{Type: models.TypeTalk, Title: "First title"})
	require.NoError(t, err)

	p.Title = "Second title"
	require.NoError(t, env.Proposals.Update(env.as(author), p))
	assert.Equal(t, "Second title", env.get(t, p.ID).Title)

	err = env.Proposals.Update(env.as(env.user(t, "stranger")), p)
	assertErrorCode(t, ErrCodeForbidden, err)

	require.NoError(t, env.Proposals.Check(env.as(admin), p.ID))
	p.Title = "Too late"
	assertErrorCode(t, ErrCodeForbidden, env.Proposals.Update(env.as(author), p))

	versions, err := env.Proposals.Versions(env.as(admin), p.ID)
	require.NoError(t, err)
	var txID string
	for _, v := range versions {
		if v.Field == "title" && v.After != nil && *v.After == "Second title" {
			txID = v.TxID
		}
	}
	require.NotEmpty(t, txID)
	require.NoError(t, env.Proposals.Revert(env.as(admin), p.ID, txID))
	reverted := env.get(t, p.ID)
	assert.Equal(t, "First title", reverted.Title)
	assert.Equal(t, models.StateChecked, reverted.State)

	versions, err = env.Proposals.Versions(env.as(admin), p.ID)
	require.NoError(t, err)
	last := versions[len(versions)-1]
	require.NotNil(t, last.RevertedFrom)
	assert.Equal(t, txID, *last.RevertedFrom)

	assertErrorCode(t, ErrCodeNotFound, env.Proposals.Revert(env.as(admin), p.ID, "no-such-tx"))
}

func TestListShowsAuthorsOnlyTheirOwn(t *testing.T) {
	env := newTestEnv(t)
	admin := env.user(t, "admin", models.PermCFPAdmin)
	alice := env.user(t, "alice")
	bob := env.user(t, "bob")
	mine, err := env.Proposals.Create(env.as(alice), &models.Proposal{Type: models.TypeTalk, Title: "Alice's"})
	require.NoError(t, err)
	_, err = env.Proposals.Create(env.as(bob), &models.Proposal{Type: models.TypeTalk, Title: "Bob's"})
	require.NoError(t, err)

	list, _, err := env.Proposals.List(env.as(alice), &ProposalSearch{})
	require.NoError(t, err)
	assert.Equal(t, []uint{mine.ID}, proposalIDs(list))
	_, err = env.Proposals.Get(env.as(bob), mine.ID)
	assertErrorCode(t, ErrCodeForbidden, err)

	list, _, err = env.Proposals.List(env.as(admin), &ProposalSearch{})
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestMessagesBetweenAuthorAndAdmins(t *testing.T) {
	env := newTestEnv(t)
	admin := env.user(t, "admin", models.PermCFPAdmin)
	author := env.user(t, "author")
	p, err := env.Proposals.Create(env.as(author), &models.Proposal{Type: models.TypeTalk, Title: "Questions"})
	require.NoError(t, err)

	_, err = env.Proposals.SendMessage(env.as(author), p.ID, "   ")
	assertErrorCode(t, ErrCodeRequiredFieldMissing, err)
	msg, err := env.Proposals.SendMessage(env.as(author), p.ID, "Can I bring a projector?")
	require.NoError(t, err)
	assert.True(t, msg.ToAdmin)
	reply, err := env.Proposals.SendMessage(env.as(admin), p.ID, "Sure")
	require.NoError(t, err)
	assert.False(t, reply.ToAdmin)

	list, err := env.Proposals.ListMessages(env.as(author), p.ID)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	n, err := env.Proposals.MarkMessagesRead(env.as(admin), p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestWithdrawnProposalLeavesTheSchedule(t *testing.T) {
	env := newTestEnv(t)
	admin := env.user(t, "admin", models.PermCFPAdmin)
	stage := createStage(t, env, admin, "Stage A")
	loc := defaultConfig(t).Event.Location()
	scheduled := func(title string, hour int) models.Proposal {
		p := acceptedTalk(title, 30, "")
		p.ScheduledVenueID = models.UintPtr(stage.ID)
		p.ScheduledTime = models.TimePtr(time.Date(2024, 6, 1, hour, 0, 0, 0, loc))
		return p
	}
	author := env.user(t, "author")
	staying := env.proposal(t, env.user(t, "other"), scheduled("Staying talk", 11))
	leaving := env.proposal(t, author, scheduled("Leaving talk", 14))

	sched, err := env.Export.Schedule(env.as(nil))
	require.NoError(t, err)
	assert.Len(t, sched.Events, 2)

	assertErrorCode(t, ErrCodeForbidden, env.Proposals.Withdraw(env.as(env.user(t, "stranger")), leaving.ID, ""))
	require.NoError(t, env.Proposals.Withdraw(env.as(author), leaving.ID, "Cannot travel"))
	assert.Equal(t, models.StateWithdrawn, env.get(t, leaving.ID).State)
	assert.Equal(t, []string{models.MailWithdrawn}, env.outboxKinds(t, admin, leaving.ID))
	assert.Len(t, env.bus.Messages(bus.TopicHeralds), 1)

	msgs, err := env.Proposals.ListMessages(env.as(admin), leaving.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Cannot travel", msgs[0].Body)

	sched, err = env.Export.Schedule(env.as(nil))
	require.NoError(t, err)
	require.Len(t, sched.Events, 1)
	assert.Equal(t, staying.ID, sched.Events[0].ID)

	var buf bytes.Buffer
	require.NoError(t, env.Export.Write(env.as(nil), FormatJSON, &buf))
	assert.Contains(t, buf.String(), "Staying talk")
	assert.NotContains(t, buf.String(), "Leaving talk")

	assertErrorCode(t, ErrCodeIllegalTransition, env.Proposals.Withdraw(env.as(author), leaving.ID, ""))
}

func TestWithdrawCancelsSeats(t *testing.T) {
	env := newTestEnv(t)
	host := env.user(t, "host")
	p := env.proposal(t, host, workshop("Felting", 5))
	guest := env.user(t, "guest")
	setSignupState(t, env, models.SignupIssueEventTickets)
	ticket, err := env.Lottery.Issue(env.as(guest), p.ID, 2)
	require.NoError(t, err)

	require.NoError(t, env.Proposals.Withdraw(env.as(host), p.ID, ""))
	stored, err := env.store.Repos().Tickets.GetByID(ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketCancelled, stored.State)
}
