package models

import "time"

// Message is one entry of the dialogue between a proposal's author and the CFP admins
type Message struct {
	ID         uint `db:"id" json:"id"`
	ProposalID uint `db:"proposalId" json:"proposalId"`
	FromUserID uint `db:"fromUserId" json:"fromUserId"`
	// ToAdmin is true for author -> admin messages, false for admin -> author
	ToAdmin     bool      `db:"toAdmin" json:"toAdmin"`
	Body        string    `db:"body" json:"body"`
	HasBeenRead bool      `db:"hasBeenRead" json:"hasBeenRead"`
	CreatedAt   time.Time `db:"createdAt" json:"createdAt"`
}
