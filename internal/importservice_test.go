package internal

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/derWhity/cfpdesk/internal/models"
)

const proposalCSV = `title,description,type,length,one_day,need_finance,attendees,size
Mesh networking,How to build one,talk,25-45 mins,yes,no,,
Pottery,Hands on,workshop,2 hours,no,yes,8,
Broken,Nope,keynote,,,,,
Bad flag,Oops,talk,,maybe,,,
`

func TestImportCSV(t *testing.T) {
	env := newTestEnv(t)
	admin := env.user(t, "admin", models.PermCFPAdmin)

	_, err := env.Import.ImportCSV(env.as(env.user(t, "author")), strings.NewReader(proposalCSV), models.StateChecked)
	assertErrorCode(t, ErrCodeForbidden, err)
	_, err = env.Import.ImportCSV(env.as(admin), strings.NewReader(proposalCSV), "imported")
	assertErrorCode(t, ErrCodeInvalidField, err)
	_, err = env.Import.ImportCSV(env.as(admin), strings.NewReader("title,type\nA,talk\n"), models.StateChecked)
	assertErrorCode(t, ErrCodeRequiredFieldMissing, err)

	res, err := env.Import.ImportCSV(env.as(admin), strings.NewReader(proposalCSV), models.StateChecked)
	require.NoError(t, err)
	require.Len(t, res.Imported, 2)
	require.Len(t, res.Failed, 2)
	assert.Equal(t, 4, res.Failed[0].Line)
	assert.Equal(t, 5, res.Failed[1].Line)

	talk := env.get(t, res.Imported[0])
	assert.Equal(t, models.StateChecked, talk.State)
	assert.Equal(t, "Mesh networking", talk.Title)
	assert.True(t, talk.OneDay)
	assert.False(t, talk.NeedFinance)

	ws := env.get(t, res.Imported[1])
	assert.Equal(t, models.TypeWorkshop, ws.Type)
	require.NotNil(t, ws.Attendees)
	assert.Equal(t, 8, *ws.Attendees)
	assert.True(t, ws.RequiresTicket)
	assert.NotEqual(t, talk.UserID, ws.UserID)

	author, err := env.store.Repos().Users.GetByID(ws.UserID)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(author.Email, "@cfpdesk.invalid"))
}

func TestCSVBool(t *testing.T) {
	for text, want := range map[string]bool{"": false, "No": false, "0": false, "YES": true, "1": true, "true": true} {
		got, err := csvBool(text)
		require.NoError(t, err, text)
		assert.Equal(t, want, got, text)
	}
	_, err := csvBool("perhaps")
	assert.Error(t, err)
}
