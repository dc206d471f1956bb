package internal

import (
	"github.com/derWhity/cfpdesk/internal/models"
)

// -- Request data -----------------------------------------------------------------------------------------------------

// Pagination describes a request that uses paging data to retrieve only a subset of the full result
type Pagination struct {
	// Position in the resultset to start the returned result at
	Offset uint
	// Number of items to return
	Limit uint
}

// Search describes a typical search request with a search term and pagination information
type Search struct {
	Pagination
	// The string to search for
	Search string
}

// ProposalSearch narrows down a proposal listing
type ProposalSearch struct {
	Search
	State models.ProposalState
	Type  models.ProposalType
	Tag   string
	// Only the proposals of the current user
	Mine bool
}

// FinaliseForm is what an author submits to finalise an accepted proposal
type FinaliseForm struct {
	Names           string `json:"names"`
	Pronouns        string `json:"pronouns"`
	Title           string `json:"title"`
	Description     string `json:"description"`
	FamilyFriendly  bool   `json:"familyFriendly"`
	ContentNote     string `json:"contentNote"`
	ArrivalPeriod   string `json:"arrivalPeriod"`
	DeparturePeriod string `json:"departurePeriod"`
	TelephoneNumber string `json:"telephoneNumber"`
	MayRecord       bool   `json:"mayRecord"`
	Equipment       string `json:"equipment"`
	// Availability slot keys like "fri_10_13" the author is available in
	Availability []string `json:"availability"`
}

// VoteRequest carries a reviewer's opinion
type VoteRequest struct {
	ProposalID uint   `json:"-"`
	Vote       int    `json:"vote"`
	Note       string `json:"note"`
}

// ScheduleRun controls a scheduler run
type ScheduleRun struct {
	Types []models.ProposalType `json:"types"`
	// Write the results to the potential slots; otherwise the changes are rolled back
	Persist bool `json:"persist"`
	// Do not warm-start from the potential slots
	IgnorePotential bool `json:"ignorePotential"`
}

// AcceptRequest controls the acceptance of ranked proposals
type AcceptRequest struct {
	MinScore float64 `json:"minScore"`
	Mode     string  `json:"mode"`
}

// LotteryEntry enters the current user into the lottery of a proposal
type LotteryEntry struct {
	ProposalID  uint `json:"proposalId"`
	TicketCount int  `json:"ticketCount"`
	Rank        int  `json:"rank"`
}

// LotteryRun controls a lottery run
type LotteryRun struct {
	DryRun       bool `json:"dryRun"`
	NotifyLosers bool `json:"notifyLosers"`
}
