package models

import "time"

// WorkingSet is the remembered review order of one reviewer
type WorkingSet struct {
	UserID      uint      `json:"userId"`
	ProposalIDs []uint    `json:"proposalIds"`
	LastVisit   time.Time `json:"lastVisit"`
}

// Covers checks if every one of the given IDs is part of the working set
func (w *WorkingSet) Covers(ids []uint) bool {
	known := make(map[uint]bool, len(w.ProposalIDs))
	for _, id := range w.ProposalIDs {
		known[id] = true
	}
	for _, id := range ids {
		if !known[id] {
			return false
		}
	}
	return true
}
