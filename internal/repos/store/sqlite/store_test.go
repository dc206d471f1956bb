package sqlite

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/context"

	"github.com/derWhity/cfpdesk/internal/models"
	"github.com/derWhity/cfpdesk/internal/repos"
)

func newStore(t *testing.T) *Store {
	logger := logrus.NewEntry(logrus.New())
	db, err := Open(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db, logger)
}

func TestInTxCommits(t *testing.T) {
	s := newStore(t)
	var txID string
	err := s.InTx(context.Background(), func(r repos.Repos) error {
		txID = r.TxID
		return r.Users.Create(&models.User{Email: "a@example.com", Name: "A"})
	})
	require.NoError(t, err)
	assert.NotEmpty(t, txID)
	u, err := s.Repos().Users.GetByEmail("a@example.com")
	require.NoError(t, err)
	assert.Equal(t, "A", u.Name)
}

func TestInTxDryRunRollsBack(t *testing.T) {
	s := newStore(t)
	err := s.InTx(context.Background(), func(r repos.Repos) error {
		if err := r.Users.Create(&models.User{Email: "b@example.com", Name: "B"}); err != nil {
			return err
		}
		return repos.ErrDryRun
	})
	assert.Equal(t, repos.ErrDryRun, err)
	_, err = s.Repos().Users.GetByEmail("b@example.com")
	assert.Equal(t, repos.ErrEntityNotExisting, err)
}

func TestSignupStateSeeded(t *testing.T) {
	s := newStore(t)
	state, err := s.Repos().SiteState.Get(models.SiteStateSignup)
	require.NoError(t, err)
	assert.Equal(t, models.SignupClosed, state)
}
