package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/derWhity/cfpdesk/internal/bus"
	"github.com/derWhity/cfpdesk/internal/models"
)

func validForm() *FinaliseForm {
	return &FinaliseForm{
		Names:           "Ada <b>Lovelace</b>",
		Pronouns:        "she/her",
		Description:     "<script>alert(1)</script>Engines that compute",
		FamilyFriendly:  true,
		ArrivalPeriod:   "Thu PM",
		DeparturePeriod: "sun am",
		MayRecord:       true,
		Availability:    []string{"sat_13_16", "fri_10_13", "fri_10_13"},
	}
}

func TestFinaliseStoresSanitisedForm(t *testing.T) {
	env := newTestEnv(t)
	author := env.user(t, "author")
	p := env.proposal(t, author, models.Proposal{
		Type:  models.TypeTalk,
		State: models.StateAccepted,
		Title: "Analytical engines",
	})

	_, err := env.Finalise.Finalise(env.as(env.user(t, "stranger")), p.ID, validForm())
	assertErrorCode(t, ErrCodeForbidden, err)

	done, err := env.Finalise.Finalise(env.as(author), p.ID, validForm())
	require.NoError(t, err)
	assert.Equal(t, models.StateFinalised, done.State)
	assert.Equal(t, "Ada Lovelace", done.PublishedNames)
	assert.Equal(t, "Analytical engines", done.PublishedTitle)
	assert.Equal(t, "Engines that compute", done.PublishedDescription)
	assert.Equal(t, "thu pm", done.ArrivalPeriod)
	assert.Equal(t, "sun am", done.DeparturePeriod)
	assert.Equal(t, "fri_10_13,sat_13_16", done.Availability)
	assert.Equal(t, models.StateFinalised, env.get(t, p.ID).State)
	assert.Len(t, env.bus.Messages(bus.TopicGreenroom), 1)

}

func TestFinaliseAcceptsCorrections(t *testing.T) {
	env := newTestEnv(t)
	author := env.user(t, "author")
	p := env.proposal(t, author, models.Proposal{Type: models.TypeTalk, State: models.StateAccepted, Title: "T"})
	ctx := env.as(author)

	form := validForm()
	form.TelephoneNumber = "0123 4567"
	_, err := env.Finalise.Finalise(ctx, p.ID, form)
	require.NoError(t, err)

	form.TelephoneNumber = " 0123 45678 "
	form.Pronouns = "they/them"
	done, err := env.Finalise.Finalise(ctx, p.ID, form)
	require.NoError(t, err)
	assert.Equal(t, models.StateFinalised, done.State)
	stored := env.get(t, p.ID)
	assert.Equal(t, models.StateFinalised, stored.State)
	assert.Equal(t, "0123 45678", stored.TelephoneNumber)
	assert.Equal(t, "they/them", stored.PublishedPronouns)
	assert.Len(t, env.bus.Messages(bus.TopicGreenroom), 2)

	finished := env.proposal(t, author, models.Proposal{Type: models.TypeTalk, State: models.StateFinished, Title: "F"})
	_, err = env.Finalise.Finalise(ctx, finished.ID, validForm())
	assertErrorCode(t, ErrCodeIllegalTransition, err)
}

func TestFinaliseValidation(t *testing.T) {
	env := newTestEnv(t)
	author := env.user(t, "author")
	p := env.proposal(t, author, models.Proposal{Type: models.TypeTalk, State: models.StateAccepted, Title: "T"})
	ctx := env.as(author)

	form := validForm()
	form.ArrivalPeriod = "someday"
	_, err := env.Finalise.Finalise(ctx, p.ID, form)
	assertErrorCode(t, ErrCodeInvalidField, err)

	form = validForm()
	form.DeparturePeriod = "thu pm"
	_, err = env.Finalise.Finalise(ctx, p.ID, form)
	assertErrorCode(t, ErrCodeInvalidField, err)

	form = validForm()
	form.Availability = []string{"fri_10_13", "mon_01_02"}
	_, err = env.Finalise.Finalise(ctx, p.ID, form)
	assertErrorCode(t, ErrCodeInvalidField, err)

	form = validForm()
	form.Names = "<i></i>"
	_, err = env.Finalise.Finalise(ctx, p.ID, form)
	assertErrorCode(t, ErrCodeInvalidField, err)

	assert.Equal(t, models.StateAccepted, env.get(t, p.ID).State)

	rejected := env.proposal(t, author, models.Proposal{Type: models.TypeTalk, State: models.StateRejected, Title: "R"})
	_, err = env.Finalise.Finalise(ctx, rejected.ID, validForm())
	assertErrorCode(t, ErrCodeIllegalTransition, err)
}
