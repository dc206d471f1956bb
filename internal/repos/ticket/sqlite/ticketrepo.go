// Package sqlite provides an event ticket repository that stores its data inside a SQLite database
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
	ticketFields = `id, userId, proposalId, state, ticketCount, rank, ticketCodes, createdAt, updatedAt`
)

// TicketRepo is a repository that stores event tickets inside a SQLite database
type TicketRepo struct {
	db     repos.Queryer
	logger *logrus.Entry
}

// New creates a new ticket repository instance with the given database handle and logger
func New(db repos.Queryer, logger *logrus.Entry) *TicketRepo {
	return &TicketRepo{
		db:     db,
		logger: logger,
	}
}

// Create creates a new ticket
func (r *TicketRepo) Create(t *models.EventTicket) error {
	r.logger.WithFields(logrus.Fields{
		log.FldUser:     t.UserID,
		log.FldProposal: t.ProposalID,
		log.FldState:    t.State,
	}).Debug("Adding event ticket")
	query := `INSERT INTO EventTickets(userId, proposalId, state, ticketCount, rank, ticketCodes, createdAt, updatedAt)
        VALUES(?, ?, ?, ?, ?, ?, datetime('now'), datetime('now'))`
	res, err := r.db.Exec(query, t.UserID, t.ProposalID, t.State, t.TicketCount, t.Rank, t.TicketCodes)
	if err != nil {
		return errors.Wrap(err, "Create: insert failed")
	}
	id, err := res.LastInsertId()
	if err == nil {
		t.ID = uint(id)
	}
	return err
}

// Update updates state and codes of a ticket
func (r *TicketRepo) Update(t *models.EventTicket) error {
	r.logger.WithFields(logrus.Fields{log.FldTicket: t.ID, log.FldState: t.State}).Debug("Updating event ticket")
	query := `UPDATE EventTickets SET state = ?, ticketCount = ?, rank = ?, ticketCodes = ?, updatedAt = datetime('now')
        WHERE id = ?`
	res, err := r.db.Exec(query, t.State, t.TicketCount, t.Rank, t.TicketCodes, t.ID)
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

// GetByID returns the ticket with the given ID
func (r *TicketRepo) GetByID(id uint) (*models.EventTicket, error) {
	var t models.EventTicket
	if err := r.db.Get(&t, fmt.Sprintf("SELECT %s FROM EventTickets WHERE id = ?", ticketFields), id); err != nil {
		if err == sql.ErrNoRows {
			return nil, repos.ErrEntityNotExisting
		}
		return nil, err
	}
	return &t, nil
}

// ListForUser returns all tickets of a user
func (r *TicketRepo) ListForUser(userID uint) ([]models.EventTicket, error) {
	ret := []models.EventTicket{}
	query := fmt.Sprintf("SELECT %s FROM EventTickets WHERE userId = ? ORDER BY rank, id", ticketFields)
	if err := r.db.Select(&ret, query, userID); err != nil {
		return nil, err
	}
	return ret, nil
}

// ListForProposal returns the tickets of a proposal, optionally limited to some states
func (r *TicketRepo) ListForProposal(proposalID uint, states ...models.TicketState) ([]models.EventTicket, error) {
	ret := []models.EventTicket{}
	if len(states) == 0 {
		query := fmt.Sprintf("SELECT %s FROM EventTickets WHERE proposalId = ? ORDER BY id", ticketFields)
		if err := r.db.Select(&ret, query, proposalID); err != nil {
			return nil, err
		}
		return ret, nil
	}
	query, args, err := sqlx.In(
		fmt.Sprintf("SELECT %s FROM EventTickets WHERE proposalId = ? AND state IN (?) ORDER BY id", ticketFields),
		proposalID, states,
	)
	if err != nil {
		return nil, err
	}
	if err := r.db.Select(&ret, r.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	return ret, nil
}

// ListByState returns all tickets in the given state
func (r *TicketRepo) ListByState(state models.TicketState) ([]models.EventTicket, error) {
	ret := []models.EventTicket{}
	query := fmt.Sprintf("SELECT %s FROM EventTickets WHERE state = ? ORDER BY proposalId, id", ticketFields)
	if err := r.db.Select(&ret, query, state); err != nil {
		return nil, err
	}
	return ret, nil
}

// IssuedSeats returns the number of seats of issued tickets of a proposal
func (r *TicketRepo) IssuedSeats(proposalID uint) (int, error) {
	var num int
	query := "SELECT COALESCE(SUM(ticketCount), 0) FROM EventTickets WHERE proposalId = ? AND state = ?"
	if err := r.db.Get(&num, query, proposalID, models.TicketIssued); err != nil {
		return 0, err
	}
	return num, nil
}
