package internal

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/context"

	"github.com/derWhity/cfpdesk/internal/bus"
	"github.com/derWhity/cfpdesk/internal/mail"
	"github.com/derWhity/cfpdesk/internal/models"
	"github.com/derWhity/cfpdesk/internal/repos"
	storerepo "github.com/derWhity/cfpdesk/internal/repos/store/sqlite"
)

func TestBulkEmail(t *testing.T) {
	env := newTestEnv(t)
	admin := env.user(t, "admin", models.PermCFPAdmin)
	accepted := env.proposal(t, env.user(t, "a1"), models.Proposal{
		Type: models.TypeTalk, State: models.StateAccepted, Title: "Accepted",
	})
	finalised := env.proposal(t, env.user(t, "a2"), models.Proposal{
		Type: models.TypeTalk, State: models.StateFinalised, Title: "Finalised",
	})
	reviewed := env.proposal(t, env.user(t, "a3"), models.Proposal{
		Type: models.TypeTalk, State: models.StateReviewed, Title: "Reviewed",
	})

	_, err := env.Notifications.BulkEmail(env.as(admin), models.MailAccepted)
	assertErrorCode(t, ErrCodeInvalidField, err)

	n, err := env.Notifications.BulkEmail(env.as(admin), models.MailCheckDetails)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = env.Notifications.BulkEmail(env.as(admin), models.MailFinalise)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = env.Notifications.BulkEmail(env.as(admin), models.MailReserve)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, []string{models.MailCheckDetails, models.MailFinalise}, env.outboxKinds(t, admin, accepted.ID))
	assert.Equal(t, []string{models.MailCheckDetails}, env.outboxKinds(t, admin, finalised.ID))
	assert.Equal(t, []string{models.MailReserve}, env.outboxKinds(t, admin, reviewed.ID))
}

func TestFlushRetriesFailedMails(t *testing.T) {
	env := newTestEnv(t)
	admin := env.user(t, "admin", models.PermCFPAdmin)
	env.proposal(t, env.user(t, "a1"), models.Proposal{
		Type: models.TypeTalk, State: models.StateAccepted, Title: "Accepted",
	})
	_, err := env.Notifications.BulkEmail(env.as(admin), models.MailFinalise)
	require.NoError(t, err)

	env.mailer.Err = errors.New("relay down")
	sent, failed, err := env.Notifications.Flush(env.as(admin))
	require.NoError(t, err)
	assert.Equal(t, 0, sent)
	assert.Equal(t, 1, failed)

	env.mailer.Err = nil
	sent, failed, err = env.Notifications.Flush(env.as(admin))
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Equal(t, 0, failed)
	require.Len(t, env.mailer.Sent(), 1)
	assert.Equal(t, models.MailFinalise, env.mailer.Sent()[0].Kind)
}

func TestVenues(t *testing.T) {
	env := newTestEnv(t)
	admin := env.user(t, "admin", models.PermCFPAdmin)

	_, err := env.Venues.Create(env.as(admin), &models.Venue{Name: " "})
	assertErrorCode(t, ErrCodeInvalidField, err)
	_, err = env.Venues.Create(env.as(admin), &models.Venue{
		Name: "Tent", AllowedTypes: []models.ProposalType{"circus"},
	})
	assertErrorCode(t, ErrCodeInvalidVenue, err)

	created, err := env.Venues.CreateDefaults(env.as(admin))
	require.NoError(t, err)
	assert.NotEmpty(t, created)
	again, err := env.Venues.CreateDefaults(env.as(admin))
	require.NoError(t, err)
	assert.Empty(t, again)

	_, err = env.Venues.Create(env.as(admin), &models.Venue{Name: "Stage A"})
	assertErrorCode(t, ErrCodeInvalidVenue, err)

	list, err := env.Venues.List(env.as(admin))
	require.NoError(t, err)
	require.Len(t, list, len(created))
	assert.Equal(t, "Stage A", list[0].Name)
	assert.True(t, list[0].Allows(models.TypeTalk))
}

// slowMailer counts the mails it is given and takes its time for each
type slowMailer struct {
	sync.Mutex
	delay time.Duration
	sent  map[string]int
}

func (m *slowMailer) Send(ctx context.Context, msg mail.Message) error {
	time.Sleep(m.delay)
	m.Lock()
	defer m.Unlock()
	m.sent[msg.To]++
	return nil
}

func (m *slowMailer) Close() error {
	return nil
}

func TestConcurrentFlushesSendEachMailOnce(t *testing.T) {
	l := logrus.New()
	l.SetLevel(logrus.WarnLevel)
	logger := logrus.NewEntry(l)
	path := filepath.Join(t.TempDir(), "cfp.db")
	mailer := &slowMailer{delay: 300 * time.Millisecond, sent: map[string]int{}}

	// Two server processes sharing one database file
	var services []NotificationService
	var stores []*storerepo.Store
	for i := 0; i < 2; i++ {
		db, err := storerepo.Open(path, logger)
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })
		store := storerepo.New(db, logger)
		stores = append(stores, store)
		cs := NewStaticConfigService(*defaultConfig(t))
		services = append(services, NewNotificationService(store, mailer, bus.NewMemoryBus(), cs, logger))
	}
	require.NoError(t, stores[0].Repos().Outbox.Enqueue(&models.OutboxMail{
		Kind: models.MailFinalise, Recipient: "ada@example.com", Subject: "Finalise your proposal",
	}))

	sent := make([]int, len(services))
	var wg sync.WaitGroup
	for i, ns := range services {
		wg.Add(1)
		go func(i int, ns NotificationService) {
			defer wg.Done()
			n, _, err := ns.Flush(context.Background())
			assert.NoError(t, err)
			sent[i] = n
		}(i, ns)
	}
	wg.Wait()

	assert.Equal(t, 1, mailer.sent["ada@example.com"])
	assert.Equal(t, 1, sent[0]+sent[1])

	pending, err := stores[1].Repos().Outbox.Pending(10, 5)
	require.NoError(t, err)
	assert.Empty(t, pending)
	runs, err := stores[1].Repos().Tasks.Last("mail-flush")
	require.NoError(t, err)
	assert.NotNil(t, runs.FinishedAt)
}

func TestStaleClaimsAreHandedOutAgain(t *testing.T) {
	env := newTestEnv(t)
	admin := env.user(t, "admin", models.PermCFPAdmin)
	outbox := env.store.Repos().Outbox
	require.NoError(t, outbox.Enqueue(&models.OutboxMail{Kind: models.MailFinalise, Recipient: "a@example.com"}))

	// A run that crashed after claiming the mail
	require.NoError(t, env.store.InTx(context.Background(), func(r repos.Repos) error {
		run, err := r.Tasks.Start("mail-flush")
		if err != nil {
			return err
		}
		claimed, err := r.Outbox.Claim(run.ID, 10, 5, time.Hour)
		require.Len(t, claimed, 1)
		return err
	}))
	sent, _, err := env.Notifications.Flush(env.as(admin))
	require.NoError(t, err)
	assert.Equal(t, 0, sent)

	var reclaimed []models.OutboxMail
	require.NoError(t, env.store.InTx(context.Background(), func(r repos.Repos) error {
		run, err := r.Tasks.Start("mail-flush")
		if err != nil {
			return err
		}
		reclaimed, err = r.Outbox.Claim(run.ID, 10, 5, 0)
		return err
	}))
	assert.Len(t, reclaimed, 1)
}
