package models

import "time"

// Mail kinds queued by the CFP pipeline
const (
	MailAccepted        = "accepted"
	MailStillConsidered = "still-considered"
	MailRejected        = "rejected"
	MailScheduled       = "scheduled"
	MailMoved           = "moved"
	MailLotteryWon      = "lottery_won"
	MailLotteryLost     = "lottery_lost"
	MailCheckDetails    = "check"
	MailFinalise        = "finalise"
	MailReserve         = "reserve"
	MailWithdrawn       = "withdrawn"
)

// OutboxMail is a rendered mail waiting in the outbox for the mail worker
type OutboxMail struct {
	ID         uint       `db:"id" json:"id"`
	Kind       string     `db:"kind" json:"kind"`
	ProposalID *uint      `db:"proposalId" json:"proposalId,omitempty"`
	UserID     uint       `db:"userId" json:"userId"`
	Recipient  string     `db:"recipient" json:"recipient"`
	Subject    string     `db:"subject" json:"subject"`
	Body       string     `db:"body" json:"body"`
	Attempts   int        `db:"attempts" json:"attempts"`
	LastError  string     `db:"lastError" json:"lastError,omitempty"`
	SentAt     *time.Time `db:"sentAt" json:"sentAt,omitempty"`
	// ClaimedBy is the ID of the job run that is currently delivering the mail
	ClaimedBy *uint      `db:"claimedBy" json:"claimedBy,omitempty"`
	ClaimedAt *time.Time `db:"claimedAt" json:"claimedAt,omitempty"`
	CreatedAt time.Time  `db:"createdAt" json:"createdAt"`
}
