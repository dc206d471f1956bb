// Package sqlite provides a vote repository that stores its data inside a SQLite database
package sqlite

import (
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/derWhity/cfpdesk/internal/log"
	"github.com/derWhity/cfpdesk/internal/models"
	"github.com/derWhity/cfpdesk/internal/repos"
)

const (
	voteFields = `id, userId, proposalId, state, vote, note, hasBeenRead, createdAt, updatedAt`
)

// VoteRepo is a repository that stores votes inside a SQLite database
type VoteRepo struct {
	db     repos.Queryer
	logger *logrus.Entry
}

// New creates a new vote repository instance with the given database handle and logger
func New(db repos.Queryer, logger *logrus.Entry) *VoteRepo {
	return &VoteRepo{
		db:     db,
		logger: logger,
	}
}

// Create creates a new vote
func (r *VoteRepo) Create(v *models.Vote) error {
	r.logger.WithFields(logrus.Fields{log.FldUser: v.UserID, log.FldProposal: v.ProposalID}).Debug("Adding new vote")
	query := `INSERT INTO Votes(userId, proposalId, state, vote, note, hasBeenRead, createdAt, updatedAt)
        VALUES(?, ?, ?, ?, ?, ?, datetime('now'), datetime('now'))`
	res, err := r.db.Exec(query, v.UserID, v.ProposalID, v.State, v.Vote, v.Note, v.HasBeenRead)
	if err != nil {
		return errors.Wrap(err, "Create: insert failed")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	v.ID = uint(id)
	return nil
}

// Update updates state, value, note and read flag of a vote
func (r *VoteRepo) Update(v *models.Vote) error {
	r.logger.WithField(log.FldVote, v.ID).Debug("Updating vote")
	query := `UPDATE Votes SET state = ?, vote = ?, note = ?, hasBeenRead = ?, updatedAt = datetime('now')
        WHERE id = ?`
	res, err := r.db.Exec(query, v.State, v.Vote, v.Note, v.HasBeenRead, v.ID)
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

// GetFor returns the vote of the reviewer on the proposal
func (r *VoteRepo) GetFor(userID uint, proposalID uint) (*models.Vote, error) {
	query := fmt.Sprintf("SELECT %s FROM Votes WHERE userId = ? AND proposalId = ?", voteFields)
	var v models.Vote
	if err := r.db.Get(&v, query, userID, proposalID); err != nil {
		if err == sql.ErrNoRows {
			return nil, repos.ErrEntityNotExisting
		}
		return nil, err
	}
	return &v, nil
}

// ListForProposal returns all votes on a proposal
func (r *VoteRepo) ListForProposal(proposalID uint) ([]models.Vote, error) {
	query := fmt.Sprintf("SELECT %s FROM Votes WHERE proposalId = ? ORDER BY id", voteFields)
	ret := []models.Vote{}
	if err := r.db.Select(&ret, query, proposalID); err != nil {
		return nil, err
	}
	return ret, nil
}

// ListForUser returns all votes of a reviewer
func (r *VoteRepo) ListForUser(userID uint) ([]models.Vote, error) {
	query := fmt.Sprintf("SELECT %s FROM Votes WHERE userId = ? ORDER BY id", voteFields)
	ret := []models.Vote{}
	if err := r.db.Select(&ret, query, userID); err != nil {
		return nil, err
	}
	return ret, nil
}

// VotedCounts returns the number of votes in state "voted" per proposal for proposals in the given states
func (r *VoteRepo) VotedCounts(states []models.ProposalState) (map[uint]int, error) {
	query, args, err := sqlx.In(`SELECT p.id AS proposalId, COUNT(v.id) AS num FROM Proposals p
        LEFT JOIN Votes v ON v.proposalId = p.id AND v.state = ?
        WHERE p.state IN (?) GROUP BY p.id`, models.VoteVoted, states)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		ProposalID uint `db:"proposalId"`
		Num        int  `db:"num"`
	}
	if err := r.db.Select(&rows, r.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	ret := make(map[uint]int, len(rows))
	for _, row := range rows {
		ret[row.ProposalID] = row.Num
	}
	return ret, nil
}

// ListNotes returns the votes carrying a note, optionally only the unread ones
func (r *VoteRepo) ListNotes(unreadOnly bool) ([]models.VoteNote, error) {
	query := `SELECT v.id, v.userId, v.proposalId, v.state, v.vote, v.note, v.hasBeenRead, v.createdAt, v.updatedAt,
        p.title AS proposalTitle, u.name AS reviewerName
        FROM Votes v JOIN Proposals p ON p.id = v.proposalId JOIN Users u ON u.id = v.userId
        WHERE v.note <> ''`
	if unreadOnly {
		query += " AND v.hasBeenRead = 0"
	}
	query += " ORDER BY v.updatedAt DESC, v.id DESC"
	ret := []models.VoteNote{}
	if err := r.db.Select(&ret, query); err != nil {
		return nil, err
	}
	return ret, nil
}

// MarkAllRead sets the read flag on all votes carrying a note and returns the number of changed votes
func (r *VoteRepo) MarkAllRead() (int64, error) {
	res, err := r.db.Exec("UPDATE Votes SET hasBeenRead = 1 WHERE note <> '' AND hasBeenRead = 0")
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
