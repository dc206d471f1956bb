package internal

import (
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"

	"github.com/derWhity/cfpdesk/internal/bus"
	"github.com/derWhity/cfpdesk/internal/log"
	"github.com/derWhity/cfpdesk/internal/mail"
	"github.com/derWhity/cfpdesk/internal/models"
	"github.com/derWhity/cfpdesk/internal/repos"
	"github.com/derWhity/cfpdesk/internal/worker"
)

// NotificationService queues mails in the outbox, flushes the outbox to the mailer and announces events on the
// admin message bus
type NotificationService interface {
	// Notify renders a mail of the given kind about the proposal and queues it for the user
	Notify(ctx context.Context, kind string, userID uint, p *models.Proposal, data mail.Data) error
	// Announce publishes a notice on the admin message bus. Failures are logged only.
	Announce(ctx context.Context, topic string, text string, proposalID uint)
	// BulkEmail queues a mail of the given kind to the authors of every proposal it applies to: "check" for
	// accepted proposals, "finalise" for accepted but not finalised ones and "reserve" for reviewed ones
	BulkEmail(ctx context.Context, kind string) (int, error)
	// Flush hands pending outbox mails to the mailer and returns the number of sent and failed mails
	Flush(ctx context.Context) (int, int, error)
	// MailJob returns the periodic job that flushes the outbox
	MailJob(interval time.Duration) worker.Job
	// Outbox returns all mails regarding a proposal
	Outbox(ctx context.Context, proposalID uint) ([]models.OutboxMail, error)
}

// -- NotificationService implementation -------------------------------------------------------------------------------

// mailClaimTimeout is the time after which mails claimed by a crashed run are handed out again
const mailClaimTimeout = 10 * time.Minute

type notificationService struct {
	store     repos.Store
	runner    *worker.Runner
	mailer    mail.Mailer
	publisher bus.Publisher
	cs        ConfigService
	logger    *logrus.Entry
}

// NewNotificationService creates a new notification service instance
func NewNotificationService(
	store repos.Store,
	mailer mail.Mailer,
	publisher bus.Publisher,
	cs ConfigService,
	logger *logrus.Entry,
) NotificationService {
	return &notificationService{
		store:     store,
		runner:    worker.NewRunner(store, logger),
		mailer:    mailer,
		publisher: publisher,
		cs:        cs,
		logger:    logger,
	}
}

// bulkStates are the proposal states each bulk mail kind goes to
var bulkStates = map[string][]models.ProposalState{
	models.MailCheckDetails: {models.StateAccepted, models.StateFinalised},
	models.MailFinalise:     {models.StateAccepted},
	models.MailReserve:      {models.StateReviewed},
}

// Notify renders a mail of the given kind about the proposal and queues it for the user
func (s *notificationService) Notify(ctx context.Context, kind string, userID uint, p *models.Proposal,
	data mail.Data) error {
	r := s.store.Repos()
	u, err := r.Users.GetByID(userID)
	if err != nil {
		return mapRepoError(err, "User", userID)
	}
	conf := s.cs.GetConfig(ctx)
	data.EventTitle = conf.Event.Title
	data.Name = u.Name
	data.Proposal = p
	subject, body, err := mail.Render(kind, data)
	if err != nil {
		return MakeErrorWithData(http.StatusInternalServerError, ErrCodeMailFailure, "Cannot render mail", err)
	}
	m := models.OutboxMail{
		Kind:      kind,
		UserID:    u.ID,
		Recipient: u.Email,
		Subject:   subject,
		Body:      body,
	}
	if p != nil {
		m.ProposalID = models.UintPtr(p.ID)
	}
	if err := r.Outbox.Enqueue(&m); err != nil {
		return MakeErrorWithData(http.StatusInternalServerError, ErrCodeMailFailure, "Cannot queue mail", err)
	}
	s.logger.WithFields(logrus.Fields{log.FldMail: kind, log.FldUser: u.ID}).Debug("Mail queued")
	return nil
}

// Announce publishes a notice on the admin message bus. Failures are logged only.
func (s *notificationService) Announce(ctx context.Context, topic string, text string, proposalID uint) {
	msg := bus.Message{Text: text, ProposalID: proposalID}
	if proposalID != 0 {
		msg.Key = fmt.Sprintf("%d", proposalID)
	}
	if err := s.publisher.Publish(ctx, topic, msg); err != nil {
		s.logger.WithError(err).WithField(log.FldTopic, topic).Warn("Cannot publish notice")
	}
}

// BulkEmail queues a mail of the given kind to the authors of every proposal it applies to
func (s *notificationService) BulkEmail(ctx context.Context, kind string) (int, error) {
	if _, err := requirePermission(ctx, models.PermCFPAdmin); err != nil {
		return 0, err
	}
	states, ok := bulkStates[kind]
	if !ok {
		return 0, errInvalidField("kind", fmt.Sprintf("'%s' cannot be sent in bulk", kind))
	}
	proposals, err := findAll(s.store.Repos(), repos.ProposalFilter{States: states})
	if err != nil {
		return 0, errRepo("Error while searching proposals", err)
	}
	count := 0
	for i := range proposals {
		p := &proposals[i]
		if err := s.Notify(ctx, kind, p.UserID, p, mail.Data{}); err != nil {
			s.logger.WithError(err).WithField(log.FldProposal, p.ID).Error("Cannot queue mail")
			continue
		}
		count++
	}
	s.logger.WithFields(logrus.Fields{log.FldMail: kind, "queued": count}).Info("Bulk mail queued")
	return count, nil
}

// Flush hands pending outbox mails to the mailer and returns the number of sent and failed mails
func (s *notificationService) Flush(ctx context.Context) (int, int, error) {
	run, err := s.runner.RunOnce(ctx, s.MailJob(0))
	if err != nil {
		if run == nil {
			return 0, 0, errRepo("Cannot claim outbox mails", err)
		}
		return run.Success, run.Failed, err
	}
	return run.Success, run.Failed, nil
}

// MailJob returns the periodic job that flushes the outbox. Each run claims its batch of mails in the transaction
// that records the run, sends them without holding the database and releases every mail as sent or failed.
func (s *notificationService) MailJob(interval time.Duration) worker.Job {
	return worker.Job{
		Name:     "mail-flush",
		Interval: interval,
		Claim: func(r repos.Repos, run *models.TaskRun) error {
			conf := s.cs.GetConfig(context.Background())
			_, err := r.Outbox.Claim(run.ID, uint(conf.Mail.BatchSize), conf.Mail.MaxAttempts, mailClaimTimeout)
			return err
		},
		Run: s.sendClaimed,
	}
}

// sendClaimed hands the mails claimed by the run to the mailer
func (s *notificationService) sendClaimed(ctx context.Context, run *models.TaskRun) (int, int, error) {
	conf := s.cs.GetConfig(ctx)
	outbox := s.store.Repos().Outbox
	claimed, err := outbox.Claimed(run.ID)
	if err != nil {
		return 0, 0, errRepo("Cannot read outbox", err)
	}
	sent, failed := 0, 0
	for _, m := range claimed {
		logger := s.logger.WithFields(logrus.Fields{log.FldID: m.ID, log.FldRun: run.ID})
		err := s.mailer.Send(ctx, mail.Message{
			From:    conf.Mail.From,
			To:      m.Recipient,
			Subject: m.Subject,
			Body:    m.Body,
			Kind:    m.Kind,
		})
		if err != nil {
			failed++
			logger.WithError(err).Warn("Mail could not be sent")
			if err := outbox.MarkFailed(m.ID, err.Error()); err != nil {
				logger.WithError(err).Error("Cannot record failed mail")
			}
			continue
		}
		if err := outbox.MarkSent(m.ID); err != nil {
			logger.WithError(err).Error("Cannot mark mail as sent")
		}
		sent++
	}
	if len(claimed) > 0 {
		s.logger.WithFields(logrus.Fields{log.FldRun: run.ID, "sent": sent, "failed": failed}).Info("Outbox flushed")
	}
	return sent, failed, nil
}

// Outbox returns all mails regarding a proposal
func (s *notificationService) Outbox(ctx context.Context, proposalID uint) ([]models.OutboxMail, error) {
	if _, err := requirePermission(ctx, models.PermCFPAdmin); err != nil {
		return nil, err
	}
	list, err := s.store.Repos().Outbox.ListForProposal(proposalID)
	if err != nil {
		return nil, errRepo("Cannot read outbox", err)
	}
	return list, nil
}

// findAll pages through all proposals matching the filter
func findAll(r repos.Repos, filter repos.ProposalFilter) ([]models.Proposal, error) {
	const page = 500
	var ret []models.Proposal
	filter.Limit = page
	for {
		list, _, err := r.Proposals.Find(filter)
		if err != nil {
			return nil, err
		}
		ret = append(ret, list...)
		if len(list) < page {
			return ret, nil
		}
		filter.Offset += page
	}
}
