package models

import (
	"strings"
	"time"
)

// TicketState is the state of an event ticket or lottery entry
type TicketState string

const (
	TicketEnteredLottery TicketState = "entered-lottery"
	TicketIssued         TicketState = "ticket"
	TicketLostLottery    TicketState = "lost-lottery"
	TicketCancelled      TicketState = "cancelled"
)

// EventTicket is a seat (or group of seats) for a capped proposal, or an entry into its lottery
type EventTicket struct {
	ID         uint        `db:"id" json:"id"`
	UserID     uint        `db:"userId" json:"userId"`
	ProposalID uint        `db:"proposalId" json:"proposalId"`
	State      TicketState `db:"state" json:"state"`
	// Number of seats this ticket covers
	TicketCount int `db:"ticketCount" json:"ticketCount"`
	// Preference rank of a lottery entry. 0 is the most wanted.
	Rank *int `db:"rank" json:"rank,omitempty"`
	// Comma separated seat codes, set once on conversion to a ticket
	TicketCodes string    `db:"ticketCodes" json:"ticketCodes,omitempty"`
	CreatedAt   time.Time `db:"createdAt" json:"createdAt"`
	UpdatedAt   time.Time `db:"updatedAt" json:"updatedAt"`
}

// Codes returns the seat codes of the ticket
func (t *EventTicket) Codes() []string {
	if t.TicketCodes == "" {
		return nil
	}
	return strings.Split(t.TicketCodes, ",")
}

// Signup states stored in the site state under SiteStateSignup
const (
	SiteStateSignup = "signup_state"

	SignupClosed              = "closed"
	SignupIssueLotteryTickets = "issue-lottery-tickets"
	SignupRunLottery          = "run-lottery"
	SignupPendingTickets      = "pending-tickets"
	SignupIssueEventTickets   = "issue-event-tickets"
)
