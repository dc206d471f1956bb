// Package sqlite provides the append-only version log inside a SQLite database
package sqlite

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/derWhity/cfpdesk/internal/log"
	"github.com/derWhity/cfpdesk/internal/models"
	"github.com/derWhity/cfpdesk/internal/repos"
)

const (
	versionFields = `id, entityType, entityId, txId, userId, field, valueBefore, valueAfter, revertedFrom, createdAt`
)

// VersionRepo is a repository that stores version records inside a SQLite database
type VersionRepo struct {
	db     repos.Queryer
	logger *logrus.Entry
}

// New creates a new version repository instance with the given database handle and logger
func New(db repos.Queryer, logger *logrus.Entry) *VersionRepo {
	return &VersionRepo{
		db:     db,
		logger: logger,
	}
}

// Create appends a version record
func (r *VersionRepo) Create(v *models.Version) error {
	r.logger.WithFields(logrus.Fields{
		log.FldID: v.EntityID,
		log.FldTx: v.TxID,
		"field":   v.Field,
	}).Debug("Recording version")
	query := `INSERT INTO Versions(entityType, entityId, txId, userId, field, valueBefore, valueAfter, revertedFrom,
        createdAt) VALUES(?, ?, ?, ?, ?, ?, ?, ?, datetime('now'))`
	res, err := r.db.Exec(query, v.EntityType, v.EntityID, v.TxID, v.UserID, v.Field, v.Before, v.After, v.RevertedFrom)
	if err != nil {
		return errors.Wrap(err, "Create: insert failed")
	}
	id, err := res.LastInsertId()
	if err == nil {
		v.ID = uint(id)
	}
	return err
}

// ListFor returns the history of an entity, oldest first
func (r *VersionRepo) ListFor(entityType string, entityID uint) ([]models.Version, error) {
	ret := []models.Version{}
	query := fmt.Sprintf("SELECT %s FROM Versions WHERE entityType = ? AND entityId = ? ORDER BY id", versionFields)
	if err := r.db.Select(&ret, query, entityType, entityID); err != nil {
		return nil, err
	}
	return ret, nil
}

// ListByTx returns the records of one transaction for one entity
func (r *VersionRepo) ListByTx(entityType string, entityID uint, txID string) ([]models.Version, error) {
	ret := []models.Version{}
	query := fmt.Sprintf("SELECT %s FROM Versions WHERE entityType = ? AND entityId = ? AND txId = ? ORDER BY id",
		versionFields)
	if err := r.db.Select(&ret, query, entityType, entityID, txID); err != nil {
		return nil, err
	}
	return ret, nil
}
