// Package worker runs periodic jobs and records their runs
package worker

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"

	"github.com/derWhity/cfpdesk/internal/log"
	"github.com/derWhity/cfpdesk/internal/models"
	"github.com/derWhity/cfpdesk/internal/repos"
)

// Job is a named piece of work that is run periodically
type Job struct {
	Name     string
	Interval time.Duration
	// Claim reserves the work of a run. It is called inside the write transaction that records the start of the
	// run, so two runners never claim the same work. Optional.
	Claim func(r repos.Repos, run *models.TaskRun) error
	// Run does the claimed work and returns the number of handled and failed items
	Run func(ctx context.Context, run *models.TaskRun) (int, int, error)
}

// Runner runs jobs until its context is cancelled
type Runner struct {
	store  repos.Store
	logger *logrus.Entry
	wg     sync.WaitGroup
}

// NewRunner creates a runner that records the job runs in the store
func NewRunner(store repos.Store, logger *logrus.Entry) *Runner {
	return &Runner{store: store, logger: logger}
}

// Start starts a goroutine for the job
func (r *Runner) Start(ctx context.Context, job Job) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.loop(ctx, job)
	}()
}

// Wait blocks until all started jobs have stopped
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) loop(ctx context.Context, job Job) {
	logger := r.logger.WithField(log.FldJob, job.Name)
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()
	logger.Info("Job started")
	for {
		select {
		case <-ctx.Done():
			logger.Info("Job stopped")
			return
		case <-ticker.C:
			if _, err := r.RunOnce(ctx, job); err != nil {
				logger.WithError(err).Error("Job run failed")
			}
		}
	}
}

// RunOnce runs the job a single time and records the run. The returned run carries the counts of the job.
func (r *Runner) RunOnce(ctx context.Context, job Job) (*models.TaskRun, error) {
	var run *models.TaskRun
	err := r.store.InTx(ctx, func(tx repos.Repos) error {
		var err error
		if run, err = tx.Tasks.Start(job.Name); err != nil {
			return err
		}
		if job.Claim != nil {
			return job.Claim(tx, run)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger := r.logger.WithFields(logrus.Fields{log.FldJob: job.Name, log.FldRun: run.ID})
	success, failed, jobErr := job.Run(ctx, run)
	run.Success = success
	run.Failed = failed
	if err := r.store.Repos().Tasks.Finish(run); err != nil {
		logger.WithError(err).Warn("Cannot record job run")
	}
	if failed > 0 {
		logger.WithField("failed", failed).Warn("Job run had failures")
	}
	return run, jobErr
}
