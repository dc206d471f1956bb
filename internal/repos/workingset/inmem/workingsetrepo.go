// Package inmem provides a working set repository that keeps the reviewers' working sets in memory
package inmem

import (
	"sync"

	"golang.org/x/net/context"

	"github.com/derWhity/cfpdesk/internal/models"
	"github.com/derWhity/cfpdesk/internal/repos"
)

// WorkingSetRepo keeps working sets in a map; they are lost on restart
type WorkingSetRepo struct {
	sync.RWMutex
	sets map[uint]models.WorkingSet
}

// New creates a new in-memory working set repository
func New() *WorkingSetRepo {
	return &WorkingSetRepo{
		sets: make(map[uint]models.WorkingSet),
	}
}

// Get returns the working set of the reviewer or ErrEntityNotExisting
func (r *WorkingSetRepo) Get(ctx context.Context, userID uint) (*models.WorkingSet, error) {
	r.RLock()
	defer r.RUnlock()
	ws, ok := r.sets[userID]
	if !ok {
		return nil, repos.ErrEntityNotExisting
	}
	ws.ProposalIDs = append([]uint(nil), ws.ProposalIDs...)
	return &ws, nil
}

// Save stores the working set of a reviewer
func (r *WorkingSetRepo) Save(ctx context.Context, ws *models.WorkingSet) error {
	r.Lock()
	defer r.Unlock()
	stored := *ws
	stored.ProposalIDs = append([]uint(nil), ws.ProposalIDs...)
	r.sets[ws.UserID] = stored
	return nil
}

// Delete forgets the working set of a reviewer
func (r *WorkingSetRepo) Delete(ctx context.Context, userID uint) error {
	r.Lock()
	defer r.Unlock()
	delete(r.sets, userID)
	return nil
}
