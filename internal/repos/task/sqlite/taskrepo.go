// Package sqlite records periodic job runs inside a SQLite database
package sqlite

import (
	"database/sql"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/derWhity/cfpdesk/internal/log"
	"github.com/derWhity/cfpdesk/internal/models"
	"github.com/derWhity/cfpdesk/internal/repos"
)

// TaskRepo is a repository that stores job runs inside a SQLite database
type TaskRepo struct {
	db     repos.Queryer
	logger *logrus.Entry
}

// New creates a new task repository instance with the given database handle and logger
func New(db repos.Queryer, logger *logrus.Entry) *TaskRepo {
	return &TaskRepo{
		db:     db,
		logger: logger,
	}
}

// Start records the start of a job run
func (r *TaskRepo) Start(name string) (*models.TaskRun, error) {
	r.logger.WithField(log.FldJob, name).Debug("Starting job run")
	res, err := r.db.Exec("INSERT INTO TaskRuns(name, startedAt) VALUES(?, datetime('now'))", name)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &models.TaskRun{ID: uint(id), Name: name, StartedAt: time.Now()}, nil
}

// Finish records the end of a job run
func (r *TaskRepo) Finish(run *models.TaskRun) error {
	res, err := r.db.Exec("UPDATE TaskRuns SET finishedAt = datetime('now'), success = ?, failed = ? WHERE id = ?",
		run.Success, run.Failed, run.ID)
	if err != nil {
		return err
	}
	if num, err := res.RowsAffected(); err != nil {
		return err
	} else if num == 0 {
		return repos.ErrEntityNotExisting
	}
	now := time.Now()
	run.FinishedAt = &now
	return nil
}

// Last returns the most recent run of a job
func (r *TaskRepo) Last(name string) (*models.TaskRun, error) {
	var run models.TaskRun
	query := "SELECT id, name, startedAt, finishedAt, success, failed FROM TaskRuns " +
		"WHERE name = ? ORDER BY id DESC LIMIT 1"
	if err := r.db.Get(&run, query, name); err != nil {
		if err == sql.ErrNoRows {
			return nil, repos.ErrEntityNotExisting
		}
		return nil, err
	}
	return &run, nil
}
