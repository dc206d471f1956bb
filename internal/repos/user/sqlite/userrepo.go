// Package sqlite provides a user repository that stores its data inside a SQLite database
package sqlite

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/derWhity/cfpdesk/internal/log"
	"github.com/derWhity/cfpdesk/internal/models"
	"github.com/derWhity/cfpdesk/internal/repos"
	proposalrepo "github.com/derWhity/cfpdesk/internal/repos/proposal/sqlite"
)

const (
	userFields = `id, email, name, passwordHash, permissions, reviewTypes`
)

// UserRepo is a repository that stores users inside a SQLite database
type UserRepo struct {
	db     repos.Queryer
	logger *logrus.Entry
}

// New creates a new user repository instance with the given database handle and logger
func New(db repos.Queryer, logger *logrus.Entry) *UserRepo {
	return &UserRepo{
		db:     db,
		logger: logger,
	}
}

// Create creates a new user
func (r *UserRepo) Create(u *models.User) error {
	r.logger.WithField("email", u.Email).Debug("Adding new user")
	query := `INSERT INTO Users(email, name, passwordHash, permissions, reviewTypes, createdAt, updatedAt)
        VALUES(?, ?, ?, ?, ?, datetime('now'), datetime('now'))`
	res, err := r.db.Exec(query, strings.ToLower(u.Email), u.Name, u.PasswordHash, u.PermissionsText, u.ReviewTypesText)
	if err != nil {
		return errors.Wrapf(err, "Create: cannot create user '%s'", u.Email)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	u.ID = uint(id)
	if len(u.Tags) > 0 {
		return r.SetTags(u.ID, u.Tags)
	}
	return nil
}

// Update updates an existing user
func (r *UserRepo) Update(u *models.User) error {
	r.logger.WithField(log.FldUser, u.ID).Debug("Updating user")
	query := `UPDATE Users SET email = ?, name = ?, passwordHash = ?, permissions = ?, reviewTypes = ?,
        updatedAt = datetime('now') WHERE id = ?`
	res, err := r.db.Exec(query, strings.ToLower(u.Email), u.Name, u.PasswordHash, u.PermissionsText,
		u.ReviewTypesText, u.ID)
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

func (r *UserRepo) getOne(query string, arg interface{}) (*models.User, error) {
	var u models.User
	if err := r.db.Get(&u, query, arg); err != nil {
		if err == sql.ErrNoRows {
			return nil, repos.ErrEntityNotExisting
		}
		return nil, err
	}
	u.Tags = []string{}
	tagQuery := "SELECT t.tag FROM UserTags ut JOIN Tags t ON t.id = ut.tagId WHERE ut.userId = ? ORDER BY t.tag"
	if err := r.db.Select(&u.Tags, tagQuery, u.ID); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetByID returns the user with the given ID
func (r *UserRepo) GetByID(id uint) (*models.User, error) {
	return r.getOne(fmt.Sprintf("SELECT %s FROM Users WHERE id = ?", userFields), id)
}

// GetByEmail returns the user with the given e-mail address
func (r *UserRepo) GetByEmail(email string) (*models.User, error) {
	return r.getOne(fmt.Sprintf("SELECT %s FROM Users WHERE email = ?", userFields), strings.ToLower(email))
}

// GetByCredentials returns the user which has the given e-mail and password - this is used for login
func (r *UserRepo) GetByCredentials(email string, password string) (*models.User, error) {
	u, err := r.GetByEmail(email)
	if err != nil {
		return nil, err
	}
	if err := u.CheckPassword(password); err != nil {
		return nil, repos.ErrEntityNotExisting
	}
	return u, nil
}

// Find searches for users matching the given search string - supports pagination
func (r *UserRepo) Find(search string, offset uint, limit uint) ([]models.User, uint, error) {
	if limit == 0 {
		limit = 50
	}
	r.logger.WithFields(logrus.Fields{
		log.FldSearch: search,
		log.FldOffset: offset,
		log.FldLimit:  limit,
	}).Debug("Searching for users")
	search = "%" + search + "%"
	query := fmt.Sprintf(`SELECT %s FROM Users WHERE email LIKE $1 OR name LIKE $1 ORDER BY id
        LIMIT $2 OFFSET $3`, userFields)
	ret := []models.User{}
	if err := r.db.Select(&ret, query, search, limit, offset); err != nil {
		return nil, 0, err
	}
	var numRows uint
	if err := r.db.Get(&numRows, `SELECT COUNT(*) FROM Users WHERE email LIKE $1 OR name LIKE $1`, search); err != nil {
		return nil, 0, err
	}
	return ret, numRows, nil
}

// SetTags replaces the tags a user is interested in
func (r *UserRepo) SetTags(id uint, tags []string) error {
	if _, err := r.db.Exec("DELETE FROM UserTags WHERE userId = ?", id); err != nil {
		return err
	}
	for _, tag := range tags {
		tagID, err := proposalrepo.EnsureTag(r.db, tag)
		if err != nil {
			return err
		}
		if _, err := r.db.Exec("INSERT OR IGNORE INTO UserTags(userId, tagId) VALUES(?, ?)", id, tagID); err != nil {
			return err
		}
	}
	return nil
}
