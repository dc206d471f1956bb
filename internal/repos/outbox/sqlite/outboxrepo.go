// Package sqlite provides the mail outbox inside a SQLite database
package sqlite

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/derWhity/cfpdesk/internal/log"
	"github.com/derWhity/cfpdesk/internal/models"
	"github.com/derWhity/cfpdesk/internal/repos"
)

const (
	outboxFields = `id, kind, proposalId, userId, recipient, subject, body, attempts, lastError, sentAt, claimedBy,
        claimedAt, createdAt`
)

// OutboxRepo is a repository that stores queued mails inside a SQLite database
type OutboxRepo struct {
	db     repos.Queryer
	logger *logrus.Entry
}

// New creates a new outbox repository instance with the given database handle and logger
func New(db repos.Queryer, logger *logrus.Entry) *OutboxRepo {
	return &OutboxRepo{
		db:     db,
		logger: logger,
	}
}

// Enqueue adds a mail to the outbox
func (r *OutboxRepo) Enqueue(m *models.OutboxMail) error {
	r.logger.WithFields(logrus.Fields{log.FldMail: m.Kind, log.FldUser: m.UserID}).Debug("Queueing mail")
	query := `INSERT INTO Outbox(kind, proposalId, userId, recipient, subject, body, createdAt)
        VALUES(?, ?, ?, ?, ?, ?, datetime('now'))`
	res, err := r.db.Exec(query, m.Kind, m.ProposalID, m.UserID, m.Recipient, m.Subject, m.Body)
	if err != nil {
		return errors.Wrap(err, "Enqueue: insert failed")
	}
	id, err := res.LastInsertId()
	if err == nil {
		m.ID = uint(id)
	}
	return err
}

// Pending returns up to limit unsent mails that have been tried less than maxAttempts times
func (r *OutboxRepo) Pending(limit uint, maxAttempts int) ([]models.OutboxMail, error) {
	ret := []models.OutboxMail{}
	query := fmt.Sprintf("SELECT %s FROM Outbox WHERE sentAt IS NULL AND attempts < ? ORDER BY id LIMIT ?", outboxFields)
	if err := r.db.Select(&ret, query, maxAttempts, limit); err != nil {
		return nil, err
	}
	return ret, nil
}

// Claim reserves up to limit unsent mails for the given job run and returns them. Mails claimed by another run
// are skipped unless the claim is older than staleAfter. Must be called inside a write transaction.
func (r *OutboxRepo) Claim(
	runID uint,
	limit uint,
	maxAttempts int,
	staleAfter time.Duration,
) ([]models.OutboxMail, error) {
	r.logger.WithField(log.FldRun, runID).Debug("Claiming outbox mails")
	query := `UPDATE Outbox SET claimedBy = ?, claimedAt = datetime('now')
        WHERE id IN (
            SELECT id FROM Outbox
            WHERE sentAt IS NULL AND attempts < ? AND (claimedBy IS NULL OR claimedAt <= datetime('now', ?))
            ORDER BY id LIMIT ?
        )`
	stale := fmt.Sprintf("-%d seconds", int64(staleAfter/time.Second))
	if _, err := r.db.Exec(query, runID, maxAttempts, stale, limit); err != nil {
		return nil, errors.Wrap(err, "Claim: update failed")
	}
	return r.Claimed(runID)
}

// Claimed returns the unsent mails claimed by the given job run
func (r *OutboxRepo) Claimed(runID uint) ([]models.OutboxMail, error) {
	ret := []models.OutboxMail{}
	query := fmt.Sprintf("SELECT %s FROM Outbox WHERE claimedBy = ? AND sentAt IS NULL ORDER BY id", outboxFields)
	if err := r.db.Select(&ret, query, runID); err != nil {
		return nil, err
	}
	return ret, nil
}

// MarkSent marks a mail as delivered to the mailer and releases its claim
func (r *OutboxRepo) MarkSent(id uint) error {
	query := `UPDATE Outbox SET sentAt = datetime('now'), attempts = attempts + 1, claimedBy = NULL, claimedAt = NULL
        WHERE id = ?`
	res, err := r.db.Exec(query, id)
	if err != nil {
		return err
	}
	if num, err := res.RowsAffected(); err != nil {
		return err
	} else if num == 0 {
		return repos.ErrEntityNotExisting
	}
	return nil
}

// MarkFailed records a failed delivery attempt and releases the claim
func (r *OutboxRepo) MarkFailed(id uint, reason string) error {
	query := `UPDATE Outbox SET attempts = attempts + 1, lastError = ?, claimedBy = NULL, claimedAt = NULL
        WHERE id = ?`
	_, err := r.db.Exec(query, reason, id)
	return err
}

// ListForProposal returns all mails regarding a proposal
func (r *OutboxRepo) ListForProposal(proposalID uint) ([]models.OutboxMail, error) {
	ret := []models.OutboxMail{}
	query := fmt.Sprintf("SELECT %s FROM Outbox WHERE proposalId = ? ORDER BY id", outboxFields)
	if err := r.db.Select(&ret, query, proposalID); err != nil {
		return nil, err
	}
	return ret, nil
}
