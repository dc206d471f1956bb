// Package repos contains the repository interfaces needed by the CFP services
// It exists to prevent circular dependencies between the services and the repo implementations
package repos

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"golang.org/x/net/context"

	"github.com/derWhity/cfpdesk/internal/models"
)

var (
	// ErrEntityNotExisting is fired by a repository when an entity that is updated or deleted does not exist
	ErrEntityNotExisting = fmt.Errorf("cannot update: Entity does not exist")
	// ErrDryRun is returned from a transaction function to roll back all of its changes on purpose
	ErrDryRun = fmt.Errorf("dry run: changes rolled back")
)

// Queryer is the part of sqlx shared by databases and transactions that the SQL repositories need
type Queryer interface {
	sqlx.Ext
	Get(dest interface{}, query string, args ...interface{}) error
	Select(dest interface{}, query string, args ...interface{}) error
}

// ProposalFilter narrows down a proposal search
type ProposalFilter struct {
	States []models.ProposalState
	Types  []models.ProposalType
	// Only proposals of this author
	UserID *uint
	// Exclude proposals of this author
	NotUserID *uint
	Tag       string
	Search    string
	// Order by modification time instead of ID
	ByUpdated bool
	// Order by favourite count, most wanted first
	ByFavourites bool
	Offset       uint
	Limit        uint
}

// ProposalRepo defines a repository that handles storing and querying proposals
type ProposalRepo interface {
	// Create creates a new proposal including its tags
	Create(p *models.Proposal) error
	// Update updates all columns of an existing proposal
	Update(p *models.Proposal) error
	// GetByID returns the proposal with the given ID including its tags and allowed venues
	GetByID(id uint) (*models.Proposal, error)
	// Find searches for proposals matching the filter - supports pagination
	Find(filter ProposalFilter) ([]models.Proposal, uint, error)
	// SetColumn writes a single versioned column from its snapshot representation
	SetColumn(id uint, column string, value *string) error
	// SetTags replaces the proposal's tags, creating unknown tags on first sight
	SetTags(id uint, tags []string) error
	// SetAllowedVenues replaces the list of venues the proposal may be scheduled in
	SetAllowedVenues(id uint, venueIDs []uint) error
	// AddFavourite marks the proposal as a favourite of the user. Returns false if it already was one.
	AddFavourite(userID uint, id uint) (bool, error)
	// RemoveFavourite removes a favourite mark. Returns false if there was none.
	RemoveFavourite(userID uint, id uint) (bool, error)
	// Delete removes a proposal administratively
	Delete(id uint) error
}

// VoteRepo stores the reviewers' votes
type VoteRepo interface {
	// Create creates a new vote
	Create(v *models.Vote) error
	// Update updates state, value, note and read flag of a vote
	Update(v *models.Vote) error
	// GetFor returns the vote of the reviewer on the proposal
	GetFor(userID uint, proposalID uint) (*models.Vote, error)
	// ListForProposal returns all votes on a proposal
	ListForProposal(proposalID uint) ([]models.Vote, error)
	// ListForUser returns all votes of a reviewer
	ListForUser(userID uint) ([]models.Vote, error)
	// VotedCounts returns the number of votes in state "voted" per proposal for proposals in the given states
	VotedCounts(states []models.ProposalState) (map[uint]int, error)
	// ListNotes returns the votes carrying a note, optionally only the unread ones
	ListNotes(unreadOnly bool) ([]models.VoteNote, error)
	// MarkAllRead sets the read flag on all votes carrying a note and returns the number of changed votes
	MarkAllRead() (int64, error)
}

// MessageRepo stores the dialogue between authors and admins
type MessageRepo interface {
	// Create creates a new message
	Create(m *models.Message) error
	// ListForProposal returns all messages of a proposal in order of creation
	ListForProposal(proposalID uint) ([]models.Message, error)
	// MarkRead marks all messages of a proposal in the given direction as read
	MarkRead(proposalID uint, toAdmin bool) (int64, error)
}

// VenueRepo stores the schedulable venues
type VenueRepo interface {
	// Create creates a new venue
	Create(v *models.Venue) error
	// Update updates a venue
	Update(v *models.Venue) error
	// GetByID returns the venue with the given ID
	GetByID(id uint) (*models.Venue, error)
	// GetByName returns the venue with the given name
	GetByName(name string) (*models.Venue, error)
	// List returns all venues, highest priority first
	List() ([]models.Venue, error)
}

// TicketRepo stores event tickets and lottery entries
type TicketRepo interface {
	// Create creates a new ticket
	Create(t *models.EventTicket) error
	// Update updates state and codes of a ticket
	Update(t *models.EventTicket) error
	// GetByID returns the ticket with the given ID
	GetByID(id uint) (*models.EventTicket, error)
	// ListForUser returns all tickets of a user
	ListForUser(userID uint) ([]models.EventTicket, error)
	// ListForProposal returns the tickets of a proposal, optionally limited to some states
	ListForProposal(proposalID uint, states ...models.TicketState) ([]models.EventTicket, error)
	// ListByState returns all tickets in the given state
	ListByState(state models.TicketState) ([]models.EventTicket, error)
	// IssuedSeats returns the number of seats of issued tickets of a proposal
	IssuedSeats(proposalID uint) (int, error)
}

// UserRepo defines a repository that is able to store and query users
type UserRepo interface {
	// Create creates a new user
	Create(u *models.User) error
	// Update updates an existing user
	Update(u *models.User) error
	// GetByID returns the user with the given ID
	GetByID(id uint) (*models.User, error)
	// GetByEmail returns the user with the given e-mail address
	GetByEmail(email string) (*models.User, error)
	// GetByCredentials returns the user which has the given e-mail and password - this is used for login
	GetByCredentials(email string, password string) (*models.User, error)
	// Find searches for users matching the given search string - supports pagination
	Find(search string, offset uint, limit uint) ([]models.User, uint, error)
	// SetTags replaces the tags a user is interested in
	SetTags(id uint, tags []string) error
}

// VersionRepo is the append-only log of field changes
type VersionRepo interface {
	// Create appends a version record
	Create(v *models.Version) error
	// ListFor returns the history of an entity, oldest first
	ListFor(entityType string, entityID uint) ([]models.Version, error)
	// ListByTx returns the records of one transaction for one entity
	ListByTx(entityType string, entityID uint, txID string) ([]models.Version, error)
}

// SiteStateRepo stores global switches
type SiteStateRepo interface {
	// Get returns the state of the named switch
	Get(name string) (string, error)
	// Set sets the state of the named switch, creating it if needed
	Set(name string, state string) error
}

// OutboxRepo is the queue of rendered mails waiting for delivery
type OutboxRepo interface {
	// Enqueue adds a mail to the outbox
	Enqueue(m *models.OutboxMail) error
	// Pending returns up to limit unsent mails that have been tried less than maxAttempts times
	Pending(limit uint, maxAttempts int) ([]models.OutboxMail, error)
	// Claim reserves up to limit unsent mails for the given job run and returns them. Mails claimed by another run
	// are skipped unless the claim is older than staleAfter. Must be called inside a write transaction.
	Claim(runID uint, limit uint, maxAttempts int, staleAfter time.Duration) ([]models.OutboxMail, error)
	// Claimed returns the unsent mails claimed by the given job run
	Claimed(runID uint) ([]models.OutboxMail, error)
	// MarkSent marks a mail as delivered to the mailer and releases its claim
	MarkSent(id uint) error
	// MarkFailed records a failed delivery attempt and releases the claim
	MarkFailed(id uint, reason string) error
	// ListForProposal returns all mails regarding a proposal
	ListForProposal(proposalID uint) ([]models.OutboxMail, error)
}

// TaskRepo records runs of periodic jobs
type TaskRepo interface {
	// Start records the start of a job run
	Start(name string) (*models.TaskRun, error)
	// Finish records the end of a job run
	Finish(run *models.TaskRun) error
	// Last returns the most recent run of a job
	Last(name string) (*models.TaskRun, error)
}

// Repos bundles all SQL repositories bound to the same database handle or transaction
type Repos struct {
	Proposals ProposalRepo
	Votes     VoteRepo
	Messages  MessageRepo
	Venues    VenueRepo
	Tickets   TicketRepo
	Users     UserRepo
	Versions  VersionRepo
	SiteState SiteStateRepo
	Outbox    OutboxRepo
	Tasks     TaskRepo
	// TxID identifies the transaction the repos are bound to. Empty outside of transactions.
	TxID string
}

// Store hands out repositories, either bound to the database or to a fresh transaction
type Store interface {
	// Repos returns repositories working directly on the database
	Repos() Repos
	// InTx runs fn inside a write transaction. The transaction is committed if fn returns nil and rolled back
	// otherwise; the error of fn is returned unchanged.
	InTx(ctx context.Context, fn func(r Repos) error) error
}

// SessionRepo stores information about active API sessions
type SessionRepo interface {
	// CreateFor creates a new session for the given user ID
	CreateFor(userID uint) (*models.Session, error)
	// GetByID returns the session associated with the given session ID and extends it's expiry if requested
	GetByID(sessionID string, extend bool) (*models.Session, error)
	// Delete removes a session from the session storage
	Delete(sessionID string) error
}

// WorkingSetRepo remembers the review order of each reviewer. Losing entries is harmless.
type WorkingSetRepo interface {
	// Get returns the working set of the reviewer or ErrEntityNotExisting
	Get(ctx context.Context, userID uint) (*models.WorkingSet, error)
	// Save stores the working set of a reviewer
	Save(ctx context.Context, ws *models.WorkingSet) error
	// Delete forgets the working set of a reviewer
	Delete(ctx context.Context, userID uint) error
}

// -- Helpers for SQLX repos -------------------------------------------------------------------------------------------

// DoRollback rolls back a transaction and catches any error resulting from it while appending the original error
func DoRollback(tx *sqlx.Tx, originalError error) error {
	if err := tx.Rollback(); err != nil {
		return fmt.Errorf("doRollback: Transaction rollback failed: %v; Recent error: %v", err, originalError)
	}
	return originalError
}
