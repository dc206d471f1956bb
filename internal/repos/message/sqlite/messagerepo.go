// Package sqlite provides a CFP message repository that stores its data inside a SQLite database
package sqlite

import (
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/derWhity/cfpdesk/internal/log"
	"github.com/derWhity/cfpdesk/internal/models"
	"github.com/derWhity/cfpdesk/internal/repos"
)

// MessageRepo is a repository that stores CFP messages inside a SQLite database
type MessageRepo struct {
	db     repos.Queryer
	logger *logrus.Entry
}

// New creates a new message repository instance with the given database handle and logger
func New(db repos.Queryer, logger *logrus.Entry) *MessageRepo {
	return &MessageRepo{
		db:     db,
		logger: logger,
	}
}

// Create creates a new message
func (r *MessageRepo) Create(m *models.Message) error {
	r.logger.WithField(log.FldProposal, m.ProposalID).Debug("Adding CFP message")
	query := `INSERT INTO Messages(proposalId, fromUserId, toAdmin, body, hasBeenRead, createdAt)
        VALUES(?, ?, ?, ?, ?, datetime('now'))`
	res, err := r.db.Exec(query, m.ProposalID, m.FromUserID, m.ToAdmin, m.Body, m.HasBeenRead)
	if err != nil {
		return errors.Wrap(err, "Create: insert failed")
	}
	m.CreatedAt = time.Now()
	id, err := res.LastInsertId()
	if err == nil {
		m.ID = uint(id)
	}
	return err
}

// ListForProposal returns all messages of a proposal in order of creation
func (r *MessageRepo) ListForProposal(proposalID uint) ([]models.Message, error) {
	query := `SELECT id, proposalId, fromUserId, toAdmin, body, hasBeenRead, createdAt FROM Messages
        WHERE proposalId = ? ORDER BY id`
	ret := []models.Message{}
	if err := r.db.Select(&ret, query, proposalID); err != nil {
		return nil, err
	}
	return ret, nil
}

// MarkRead marks all messages of a proposal in the given direction as read
func (r *MessageRepo) MarkRead(proposalID uint, toAdmin bool) (int64, error) {
	res, err := r.db.Exec("UPDATE Messages SET hasBeenRead = 1 WHERE proposalId = ? AND toAdmin = ? AND hasBeenRead = 0",
		proposalID, toAdmin)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
