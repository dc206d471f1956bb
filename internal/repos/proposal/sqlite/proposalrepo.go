// Package sqlite provides a proposal repository that stores its data inside a SQLite database
package sqlite

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/derWhity/cfpdesk/internal/log"
	"github.com/derWhity/cfpdesk/internal/models"
	"github.com/derWhity/cfpdesk/internal/repos"
)

const defaultLimit = 1000

var (
	proposalColumns = append([]string{"id"}, append(models.ProposalColumns, "favouriteCount", "createdAt", "updatedAt")...)
	proposalFields  = strings.Join(proposalColumns, ", ")
	versioned       = map[string]bool{}
)

func init() {
	for _, col := range models.ProposalColumns {
		versioned[col] = true
	}
}

// ProposalRepo is a repository that stores proposals inside a SQLite database
type ProposalRepo struct {
	db     repos.Queryer
	logger *logrus.Entry
}

// New creates a new proposal repository instance with the given database handle and logger
func New(db repos.Queryer, logger *logrus.Entry) *ProposalRepo {
	return &ProposalRepo{
		db:     db,
		logger: logger,
	}
}

// Create creates a new proposal including its tags
func (r *ProposalRepo) Create(p *models.Proposal) error {
	r.logger.WithField(log.FldType, p.Type).Debug("Adding new proposal")
	names := make([]string, 0, len(models.ProposalColumns))
	for _, col := range models.ProposalColumns {
		names = append(names, ":"+col)
	}
	query := fmt.Sprintf(
		"INSERT INTO Proposals(%s, createdAt, updatedAt) VALUES(%s, datetime('now'), datetime('now'))",
		strings.Join(models.ProposalColumns, ", "),
		strings.Join(names, ", "),
	)
	res, err := sqlx.NamedExec(r.db, query, p)
	if err != nil {
		return errors.Wrap(err, "Create: insert failed")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	p.ID = uint(id)
	if err := r.SetTags(p.ID, p.Tags); err != nil {
		return err
	}
	if len(p.AllowedVenueIDs) > 0 {
		if err := r.SetAllowedVenues(p.ID, p.AllowedVenueIDs); err != nil {
			return err
		}
	}
	return r.reloadTimestamps(p)
}

// Update updates all columns of an existing proposal
func (r *ProposalRepo) Update(p *models.Proposal) error {
	r.logger.WithField(log.FldProposal, p.ID).Debug("Updating proposal")
	sets := make([]string, 0, len(models.ProposalColumns))
	for _, col := range models.ProposalColumns {
		sets = append(sets, fmt.Sprintf("%s = :%s", col, col))
	}
	query := fmt.Sprintf("UPDATE Proposals SET %s, updatedAt = datetime('now') WHERE id = :id", strings.Join(sets, ", "))
	res, err := sqlx.NamedExec(r.db, query, p)
	if err != nil {
		return errors.Wrapf(err, "Update: update of proposal %d failed", p.ID)
	}
	if num, err := res.RowsAffected(); err != nil {
		return err
	} else if num == 0 {
		return repos.ErrEntityNotExisting
	}
	return r.reloadTimestamps(p)
}

func (r *ProposalRepo) reloadTimestamps(p *models.Proposal) error {
	var ts struct {
		CreatedAt sql.NullTime `db:"createdAt"`
		UpdatedAt sql.NullTime `db:"updatedAt"`
	}
	if err := r.db.Get(&ts, "SELECT createdAt, updatedAt FROM Proposals WHERE id = ?", p.ID); err != nil {
		return err
	}
	p.CreatedAt = ts.CreatedAt.Time
	p.UpdatedAt = ts.UpdatedAt.Time
	return nil
}

// GetByID returns the proposal with the given ID including its tags and allowed venues
func (r *ProposalRepo) GetByID(id uint) (*models.Proposal, error) {
	query := fmt.Sprintf("SELECT %s FROM Proposals WHERE id = ?", proposalFields)
	var p models.Proposal
	if err := r.db.Get(&p, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, repos.ErrEntityNotExisting
		}
		return nil, err
	}
	list := []models.Proposal{p}
	if err := r.loadRelations(list); err != nil {
		return nil, err
	}
	return &list[0], nil
}

// Find searches for proposals matching the filter - supports pagination
func (r *ProposalRepo) Find(filter repos.ProposalFilter) ([]models.Proposal, uint, error) {
	if filter.Limit == 0 {
		filter.Limit = defaultLimit
	}
	r.logger.WithFields(logrus.Fields{
		log.FldState:  filter.States,
		log.FldType:   filter.Types,
		log.FldSearch: filter.Search,
		log.FldOffset: filter.Offset,
		log.FldLimit:  filter.Limit,
	}).Debug("Searching for proposals")
	where := []string{"1 = 1"}
	args := []interface{}{}
	if len(filter.States) > 0 {
		where = append(where, "state IN (?)")
		args = append(args, filter.States)
	}
	if len(filter.Types) > 0 {
		where = append(where, "type IN (?)")
		args = append(args, filter.Types)
	}
	if filter.UserID != nil {
		where = append(where, "userId = ?")
		args = append(args, *filter.UserID)
	}
	if filter.NotUserID != nil {
		where = append(where, "userId <> ?")
		args = append(args, *filter.NotUserID)
	}
	if filter.Tag != "" {
		where = append(where, `id IN (SELECT pt.proposalId FROM ProposalTags pt
            JOIN Tags t ON t.id = pt.tagId WHERE t.tag = ?)`)
		args = append(args, strings.ToLower(filter.Tag))
	}
	if filter.Search != "" {
		where = append(where, "(title LIKE ? OR description LIKE ? OR publishedTitle LIKE ?)")
		search := "%" + filter.Search + "%"
		args = append(args, search, search, search)
	}
	order := "id ASC"
	if filter.ByUpdated {
		order = "updatedAt ASC, id ASC"
	} else if filter.ByFavourites {
		order = "favouriteCount DESC, id ASC"
	}
	cond := strings.Join(where, " AND ")

	countQuery, countArgs, err := sqlx.In("SELECT COUNT(*) FROM Proposals WHERE "+cond, args...)
	if err != nil {
		return nil, 0, err
	}
	var numRows uint
	if err := r.db.Get(&numRows, r.db.Rebind(countQuery), countArgs...); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf("SELECT %s FROM Proposals WHERE %s ORDER BY %s LIMIT ? OFFSET ?", proposalFields, cond, order)
	query, qArgs, err := sqlx.In(query, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	ret := []models.Proposal{}
	if err := r.db.Select(&ret, r.db.Rebind(query), qArgs...); err != nil {
		return nil, 0, err
	}
	if err := r.loadRelations(ret); err != nil {
		return nil, 0, err
	}
	return ret, numRows, nil
}

// loadRelations fills tags and allowed venues of the given proposals with one query each
func (r *ProposalRepo) loadRelations(list []models.Proposal) error {
	if len(list) == 0 {
		return nil
	}
	ids := make([]uint, len(list))
	idx := make(map[uint]int, len(list))
	for i := range list {
		ids[i] = list[i].ID
		idx[list[i].ID] = i
		list[i].Tags = []string{}
		list[i].AllowedVenueIDs = nil
	}
	var tags []struct {
		ProposalID uint   `db:"proposalId"`
		Tag        string `db:"tag"`
	}
	query, args, err := sqlx.In(`SELECT pt.proposalId, t.tag FROM ProposalTags pt JOIN Tags t ON t.id = pt.tagId
        WHERE pt.proposalId IN (?) ORDER BY t.tag`, ids)
	if err != nil {
		return err
	}
	if err := r.db.Select(&tags, r.db.Rebind(query), args...); err != nil {
		return errors.Wrap(err, "loadRelations: loading tags failed")
	}
	for _, t := range tags {
		list[idx[t.ProposalID]].Tags = append(list[idx[t.ProposalID]].Tags, t.Tag)
	}
	var venues []struct {
		ProposalID uint `db:"proposalId"`
		VenueID    uint `db:"venueId"`
	}
	query, args, err = sqlx.In(`SELECT proposalId, venueId FROM ProposalVenues WHERE proposalId IN (?)
        ORDER BY venueId`, ids)
	if err != nil {
		return err
	}
	if err := r.db.Select(&venues, r.db.Rebind(query), args...); err != nil {
		return errors.Wrap(err, "loadRelations: loading allowed venues failed")
	}
	for _, v := range venues {
		p := &list[idx[v.ProposalID]]
		p.AllowedVenueIDs = append(p.AllowedVenueIDs, v.VenueID)
	}
	return nil
}

// SetColumn writes a single versioned column from its snapshot representation
func (r *ProposalRepo) SetColumn(id uint, column string, value *string) error {
	if !versioned[column] {
		return fmt.Errorf("SetColumn: column '%s' is not versioned", column)
	}
	r.logger.WithFields(logrus.Fields{log.FldProposal: id, "column": column}).Debug("Restoring proposal column")
	var v interface{}
	if value != nil {
		v = *value
	}
	// The column name comes from the whitelist above
	query := fmt.Sprintf("UPDATE Proposals SET %s = ?, updatedAt = datetime('now') WHERE id = ?", column)
	res, err := r.db.Exec(query, v, id)
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

// SetTags replaces the proposal's tags, creating unknown tags on first sight
func (r *ProposalRepo) SetTags(id uint, tags []string) error {
	if _, err := r.db.Exec("DELETE FROM ProposalTags WHERE proposalId = ?", id); err != nil {
		return err
	}
	for _, tag := range tags {
		tagID, err := EnsureTag(r.db, tag)
		if err != nil {
			return err
		}
		if _, err := r.db.Exec("INSERT OR IGNORE INTO ProposalTags(proposalId, tagId) VALUES(?, ?)", id, tagID); err != nil {
			return err
		}
	}
	return nil
}

// EnsureTag returns the ID of the given tag, creating it if it is not known yet
func EnsureTag(db repos.Queryer, tag string) (uint, error) {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if _, err := db.Exec("INSERT OR IGNORE INTO Tags(tag) VALUES(?)", tag); err != nil {
		return 0, errors.Wrapf(err, "EnsureTag: cannot create tag '%s'", tag)
	}
	var id uint
	if err := db.Get(&id, "SELECT id FROM Tags WHERE tag = ?", tag); err != nil {
		return 0, err
	}
	return id, nil
}

// SetAllowedVenues replaces the list of venues the proposal may be scheduled in
func (r *ProposalRepo) SetAllowedVenues(id uint, venueIDs []uint) error {
	if _, err := r.db.Exec("DELETE FROM ProposalVenues WHERE proposalId = ?", id); err != nil {
		return err
	}
	for _, venueID := range venueIDs {
		query := "INSERT OR IGNORE INTO ProposalVenues(proposalId, venueId) VALUES(?, ?)"
		if _, err := r.db.Exec(query, id, venueID); err != nil {
			return err
		}
	}
	return nil
}

// AddFavourite marks the proposal as a favourite of the user. Returns false if it already was one.
func (r *ProposalRepo) AddFavourite(userID uint, id uint) (bool, error) {
	res, err := r.db.Exec("INSERT OR IGNORE INTO Favourites(userId, proposalId) VALUES(?, ?)", userID, id)
	if err != nil {
		return false, err
	}
	if num, err := res.RowsAffected(); err != nil || num == 0 {
		return false, err
	}
	_, err = r.db.Exec("UPDATE Proposals SET favouriteCount = favouriteCount + 1 WHERE id = ?", id)
	return err == nil, err
}

// RemoveFavourite removes a favourite mark. Returns false if there was none.
func (r *ProposalRepo) RemoveFavourite(userID uint, id uint) (bool, error) {
	res, err := r.db.Exec("DELETE FROM Favourites WHERE userId = ? AND proposalId = ?", userID, id)
	if err != nil {
		return false, err
	}
	if num, err := res.RowsAffected(); err != nil || num == 0 {
		return false, err
	}
	_, err = r.db.Exec("UPDATE Proposals SET favouriteCount = MAX(favouriteCount - 1, 0) WHERE id = ?", id)
	return err == nil, err
}

// Delete removes a proposal administratively
func (r *ProposalRepo) Delete(id uint) error {
	r.logger.WithField(log.FldProposal, id).Info("Deleting proposal")
	res, err := r.db.Exec("DELETE FROM Proposals WHERE id = ?", id)
	if err != nil {
		return err
	}
	if num, err := res.RowsAffected(); err != nil {
		return err
	} else if num == 0 {
		return repos.ErrEntityNotExisting
	}
	for _, query := range []string{
		"DELETE FROM ProposalTags WHERE proposalId = ?",
		"DELETE FROM ProposalVenues WHERE proposalId = ?",
		"DELETE FROM Favourites WHERE proposalId = ?",
	} {
		if _, err := r.db.Exec(query, id); err != nil {
			return err
		}
	}
	return nil
}
