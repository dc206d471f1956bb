package models

import "time"

// VoteState is the state of a reviewer's opinion on a proposal
type VoteState string

const (
	VoteNew      VoteState = "new"
	VoteVoted    VoteState = "voted"
	VoteRecused  VoteState = "recused"
	VoteBlocked  VoteState = "blocked"
	VoteResolved VoteState = "resolved"
	VoteStale    VoteState = "stale"
)

// Vote values
const (
	VoteValueLow  = 0
	VoteValueMid  = 1
	VoteValueHigh = 2
)

// Vote is one reviewer's opinion on one proposal. There is at most one vote per (reviewer, proposal).
type Vote struct {
	ID         uint      `db:"id" json:"id"`
	UserID     uint      `db:"userId" json:"userId"`
	ProposalID uint      `db:"proposalId" json:"proposalId"`
	State      VoteState `db:"state" json:"state"`
	// Only set when State is VoteVoted
	Vote        *int      `db:"vote" json:"vote,omitempty"`
	Note        string    `db:"note" json:"note,omitempty"`
	HasBeenRead bool      `db:"hasBeenRead" json:"hasBeenRead"`
	CreatedAt   time.Time `db:"createdAt" json:"createdAt"`
	UpdatedAt   time.Time `db:"updatedAt" json:"updatedAt"`
}

// Consistent checks that a value is present exactly when the vote has been cast
func (v *Vote) Consistent() bool {
	return (v.Vote != nil) == (v.State == VoteVoted)
}

// NeedsAnotherLook is true for votes that put the proposal back into the reviewer's "again" pile
func (v *Vote) NeedsAnotherLook() bool {
	return v.State == VoteNew || v.State == VoteResolved || v.State == VoteStale
}

// VoteColumns are the versioned columns of the Votes table
var VoteColumns = []string{"state", "vote", "note", "hasBeenRead"}

// Snapshot returns the versioned vote columns as strings
func (v *Vote) Snapshot() map[string]*string {
	return map[string]*string{
		"state":       strPtr(string(v.State)),
		"vote":        intPtrStr(v.Vote),
		"note":        strPtr(v.Note),
		"hasBeenRead": boolStr(v.HasBeenRead),
	}
}

// VoteNote is a vote note as listed for admin triage
type VoteNote struct {
	Vote
	ProposalTitle string `db:"proposalTitle" json:"proposalTitle"`
	ReviewerName  string `db:"reviewerName" json:"reviewerName"`
}
