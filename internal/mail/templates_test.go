package mail

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/derWhity/cfpdesk/internal/models"
)

func TestRenderAccepted(t *testing.T) {
	p := &models.Proposal{Title: "Soldering for beginners", Type: models.TypeWorkshop}
	subject, body, err := Render(models.MailAccepted, Data{EventTitle: "EMF 2024", Name: "Ada", Proposal: p})
	require.NoError(t, err)
	assert.Equal(t, `Your EMF 2024 proposal "Soldering for beginners" has been accepted`, subject)
	assert.Contains(t, body, "Hi Ada,")
	assert.Contains(t, body, "your workshop")
}

func TestRenderLotteryWon(t *testing.T) {
	when := time.Date(2024, 6, 1, 14, 0, 0, 0, time.UTC)
	p := &models.Proposal{Title: "t", PublishedTitle: "Knitting"}
	_, body, err := Render(models.MailLotteryWon, Data{Proposal: p, Time: &when, Venue: "Workshop 1",
		Codes: []string{"a", "b"}})
	require.NoError(t, err)
	assert.Contains(t, body, `"Knitting", Saturday 14:00 in Workshop 1`)
	assert.Contains(t, body, "Your ticket codes: a, b")
}

func TestEveryKindRenders(t *testing.T) {
	p := &models.Proposal{Title: "x"}
	for _, kind := range []string{
		models.MailAccepted, models.MailStillConsidered, models.MailRejected, models.MailScheduled, models.MailMoved,
		models.MailLotteryWon, models.MailLotteryLost, models.MailCheckDetails, models.MailFinalise,
		models.MailReserve, models.MailWithdrawn,
	} {
		_, _, err := Render(kind, Data{Proposal: p})
		assert.NoError(t, err, kind)
	}
	_, _, err := Render("nope", Data{})
	assert.Error(t, err)
}
