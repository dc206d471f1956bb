package models

import "time"

// Entity types recorded in the version log
const (
	EntityProposal = "proposal"
	EntityVote     = "vote"
)

// Version is one field change of a versioned entity. All changes made by one write share a TxID.
type Version struct {
	ID         uint    `db:"id" json:"id"`
	EntityType string  `db:"entityType" json:"entityType"`
	EntityID   uint    `db:"entityId" json:"entityId"`
	TxID       string  `db:"txId" json:"txId"`
	UserID     uint    `db:"userId" json:"userId"`
	Field      string  `db:"field" json:"field"`
	Before     *string `db:"valueBefore" json:"before"`
	After      *string `db:"valueAfter" json:"after"`
	// The transaction this one reverted, if any
	RevertedFrom *string   `db:"revertedFrom" json:"revertedFrom,omitempty"`
	CreatedAt    time.Time `db:"createdAt" json:"createdAt"`
}

// Diff compares two snapshots and returns the changed fields in the order of the given column list
func Diff(columns []string, before, after map[string]*string) []Version {
	var ret []Version
	for _, col := range columns {
		b, a := before[col], after[col]
		if equalStrPtr(b, a) {
			continue
		}
		ret = append(ret, Version{Field: col, Before: b, After: a})
	}
	return ret
}

func equalStrPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
