// Package sqlite stores global site switches inside a SQLite database
package sqlite

import (
	"database/sql"

	"github.com/sirupsen/logrus"

	"github.com/derWhity/cfpdesk/internal/log"
	"github.com/derWhity/cfpdesk/internal/repos"
)

// SiteStateRepo is a repository that stores site states inside a SQLite database
type SiteStateRepo struct {
	db     repos.Queryer
	logger *logrus.Entry
}

// New creates a new site state repository instance with the given database handle and logger
func New(db repos.Queryer, logger *logrus.Entry) *SiteStateRepo {
	return &SiteStateRepo{
		db:     db,
		logger: logger,
	}
}

// Get returns the state of the named switch
func (r *SiteStateRepo) Get(name string) (string, error) {
	var state string
	if err := r.db.Get(&state, "SELECT state FROM SiteStates WHERE name = ?", name); err != nil {
		if err == sql.ErrNoRows {
			return "", repos.ErrEntityNotExisting
		}
		return "", err
	}
	return state, nil
}

// Set sets the state of the named switch, creating it if needed
func (r *SiteStateRepo) Set(name string, state string) error {
	r.logger.WithFields(logrus.Fields{"name": name, log.FldState: state}).Info("Setting site state")
	_, err := r.db.Exec("REPLACE INTO SiteStates(name, state, updatedAt) VALUES(?, ?, datetime('now'))", name, state)
	return err
}
