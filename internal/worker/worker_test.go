package worker

import (
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/context"

	"github.com/derWhity/cfpdesk/internal/models"
	"github.com/derWhity/cfpdesk/internal/repos"
	storerepo "github.com/derWhity/cfpdesk/internal/repos/store/sqlite"
)

func newStore(t *testing.T) *storerepo.Store {
	logger := logrus.NewEntry(logrus.New())
	db, err := storerepo.Open(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return storerepo.New(db, logger)
}

func TestRunOnceRecordsRun(t *testing.T) {
	store := newStore(t)
	r := NewRunner(store, logrus.NewEntry(logrus.New()))

	job := Job{Name: "flush", Interval: time.Hour, Run: func(ctx context.Context, run *models.TaskRun) (int, int, error) {
		return 3, 1, fmt.Errorf("one failed")
	}}
	run, err := r.RunOnce(context.Background(), job)
	assert.EqualError(t, err, "one failed")
	require.NotNil(t, run)
	assert.Equal(t, 3, run.Success)

	last, err := store.Repos().Tasks.Last("flush")
	require.NoError(t, err)
	assert.Equal(t, run.ID, last.ID)
	assert.Equal(t, 3, last.Success)
	assert.Equal(t, 1, last.Failed)
	assert.NotNil(t, last.FinishedAt)
}

func TestClaimRunsInsideTheStartTransaction(t *testing.T) {
	store := newStore(t)
	r := NewRunner(store, logrus.NewEntry(logrus.New()))
	require.NoError(t, store.Repos().Outbox.Enqueue(&models.OutboxMail{Kind: models.MailFinalise, Recipient: "a@example.com"}))

	var claimTx string
	var claimed []models.OutboxMail
	job := Job{
		Name: "flush",
		Claim: func(tx repos.Repos, run *models.TaskRun) error {
			claimTx = tx.TxID
			var err error
			claimed, err = tx.Outbox.Claim(run.ID, 10, 5, time.Hour)
			return err
		},
		Run: func(ctx context.Context, run *models.TaskRun) (int, int, error) {
			list, err := store.Repos().Outbox.Claimed(run.ID)
			return len(list), 0, err
		},
	}
	run, err := r.RunOnce(context.Background(), job)
	require.NoError(t, err)
	assert.NotEmpty(t, claimTx)
	require.Len(t, claimed, 1)
	require.NotNil(t, claimed[0].ClaimedBy)
	assert.Equal(t, run.ID, *claimed[0].ClaimedBy)
	assert.Equal(t, 1, run.Success)

	// A second run must not see the mail while the claim is fresh
	again, err := r.RunOnce(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Success)
}

func TestFailedClaimDoesNotRun(t *testing.T) {
	store := newStore(t)
	r := NewRunner(store, logrus.NewEntry(logrus.New()))
	ran := false
	_, err := r.RunOnce(context.Background(), Job{
		Name:  "broken",
		Claim: func(tx repos.Repos, run *models.TaskRun) error { return fmt.Errorf("no work") },
		Run: func(ctx context.Context, run *models.TaskRun) (int, int, error) {
			ran = true
			return 0, 0, nil
		},
	})
	assert.EqualError(t, err, "no work")
	assert.False(t, ran)
	_, err = store.Repos().Tasks.Last("broken")
	assert.Equal(t, repos.ErrEntityNotExisting, err)
}

func TestStartStopsWithContext(t *testing.T) {
	r := NewRunner(newStore(t), logrus.NewEntry(logrus.New()))

	ran := make(chan struct{}, 10)
	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx, Job{Name: "tick", Interval: 5 * time.Millisecond,
		Run: func(ctx context.Context, run *models.TaskRun) (int, int, error) {
			ran <- struct{}{}
			return 1, 0, nil
		}})
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run")
	}
	cancel()
	r.Wait()
}
