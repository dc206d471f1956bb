// Package sqlite provides a venue repository that stores its data inside a SQLite database
package sqlite

import (
	"database/sql"
	"fmt"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/derWhity/cfpdesk/internal/log"
	"github.com/derWhity/cfpdesk/internal/models"
	"github.com/derWhity/cfpdesk/internal/repos"
)

const (
	venueFields = `id, name, priority, capacity, allowedTypes, defaultForTypes, latitude, longitude, scheduledContentOnly`
)

// VenueRepo is a repository that stores venues inside a SQLite database
type VenueRepo struct {
	db     repos.Queryer
	logger *logrus.Entry
}

// New creates a new venue repository instance with the given database handle and logger
func New(db repos.Queryer, logger *logrus.Entry) *VenueRepo {
	return &VenueRepo{
		db:     db,
		logger: logger,
	}
}

// Create creates a new venue
func (r *VenueRepo) Create(v *models.Venue) error {
	r.logger.WithField("name", v.Name).Debug("Adding new venue")
	v.JoinTypes()
	query := `INSERT INTO Venues(name, priority, capacity, allowedTypes, defaultForTypes, latitude, longitude,
        scheduledContentOnly) VALUES(?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.Exec(query, v.Name, v.Priority, v.Capacity, v.AllowedTypesText, v.DefaultForTypesText,
		v.Latitude, v.Longitude, v.ScheduledContentOnly)
	if err != nil {
		return errors.Wrapf(err, "Create: cannot create venue '%s'", v.Name)
	}
	id, err := res.LastInsertId()
	if err == nil {
		v.ID = uint(id)
	}
	return err
}

// Update updates a venue
func (r *VenueRepo) Update(v *models.Venue) error {
	r.logger.WithField(log.FldVenue, v.ID).Debug("Updating venue")
	v.JoinTypes()
	query := `UPDATE Venues SET name = ?, priority = ?, capacity = ?, allowedTypes = ?, defaultForTypes = ?,
        latitude = ?, longitude = ?, scheduledContentOnly = ? WHERE id = ?`
	res, err := r.db.Exec(query, v.Name, v.Priority, v.Capacity, v.AllowedTypesText, v.DefaultForTypesText,
		v.Latitude, v.Longitude, v.ScheduledContentOnly, v.ID)
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

func (r *VenueRepo) getOne(query string, arg interface{}) (*models.Venue, error) {
	var v models.Venue
	if err := r.db.Get(&v, query, arg); err != nil {
		if err == sql.ErrNoRows {
			return nil, repos.ErrEntityNotExisting
		}
		return nil, err
	}
	v.SplitTypes()
	return &v, nil
}

// GetByID returns the venue with the given ID
func (r *VenueRepo) GetByID(id uint) (*models.Venue, error) {
	return r.getOne(fmt.Sprintf("SELECT %s FROM Venues WHERE id = ?", venueFields), id)
}

// GetByName returns the venue with the given name
func (r *VenueRepo) GetByName(name string) (*models.Venue, error) {
	return r.getOne(fmt.Sprintf("SELECT %s FROM Venues WHERE name = ?", venueFields), name)
}

// List returns all venues, highest priority first
func (r *VenueRepo) List() ([]models.Venue, error) {
	ret := []models.Venue{}
	query := fmt.Sprintf("SELECT %s FROM Venues ORDER BY priority DESC, id ASC", venueFields)
	if err := r.db.Select(&ret, query); err != nil {
		return nil, err
	}
	for i := range ret {
		ret[i].SplitTypes()
	}
	return ret, nil
}
