package internal

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"

	"github.com/derWhity/cfpdesk/internal/bus"
	"github.com/derWhity/cfpdesk/internal/log"
	"github.com/derWhity/cfpdesk/internal/mail"
	"github.com/derWhity/cfpdesk/internal/models"
	"github.com/derWhity/cfpdesk/internal/repos"
)

// ProposalService provides service functions for working with proposals and their lifecycle
type ProposalService interface {
	// Create creates a new proposal authored by the current user
	Create(ctx context.Context, p *models.Proposal) (*models.Proposal, error)
	// Get returns the proposal with the given ID
	Get(ctx context.Context, id uint) (*models.Proposal, error)
	// List searches for proposals. Users without CFP permissions only see their own.
	List(ctx context.Context, search *ProposalSearch) ([]models.Proposal, uint, error)
	// Update updates a proposal. Authors may change the core fields while the proposal is editable, admins may
	// change everything but the state.
	Update(ctx context.Context, p *models.Proposal) error
	// Delete removes a proposal
	Delete(ctx context.Context, id uint) error
	// Versions returns the change history of a proposal, oldest first
	Versions(ctx context.Context, id uint) ([]models.Version, error)
	// Revert restores the values a transaction has overwritten
	Revert(ctx context.Context, id uint, txID string) error
	// Transition moves a proposal to another state. Force skips the transition table.
	Transition(ctx context.Context, id uint, to models.ProposalState, force bool) error
	// Check marks a new proposal as checked, sending types that are not anonymised straight to manual review
	Check(ctx context.Context, id uint) error
	// Withdraw withdraws the proposal on behalf of its author
	Withdraw(ctx context.Context, id uint, reason string) error
	// AddFavourite marks an accepted proposal as a favourite of the current user
	AddFavourite(ctx context.Context, id uint) error
	// RemoveFavourite removes the favourite mark of the current user
	RemoveFavourite(ctx context.Context, id uint) error
	// SendMessage adds a message to the dialogue between author and admins
	SendMessage(ctx context.Context, id uint, body string) (*models.Message, error)
	// ListMessages returns the dialogue of a proposal
	ListMessages(ctx context.Context, id uint) ([]models.Message, error)
	// MarkMessagesRead marks the messages sent to the current user's side as read
	MarkMessagesRead(ctx context.Context, id uint) (int64, error)
}

// -- ProposalService implementation -----------------------------------------------------------------------------------

type proposalService struct {
	store  repos.Store
	ns     NotificationService
	cs     ConfigService
	logger *logrus.Entry
}

// NewProposalService creates a new proposal service instance
func NewProposalService(
	store repos.Store,
	ns NotificationService,
	cs ConfigService,
	logger *logrus.Entry,
) ProposalService {
	return &proposalService{
		store:  store,
		ns:     ns,
		cs:     cs,
		logger: logger,
	}
}

// hasCFPRole reports whether the user takes part in running the CFP
func hasCFPRole(u *models.User) bool {
	return u.HasPermission(models.PermCFPAdmin) || u.HasPermission(models.PermCFPReviewer) ||
		u.HasPermission(models.PermCFPAnonymiser) || u.HasPermission(models.PermCFPSchedule)
}

// Create creates a new proposal authored by the current user
func (s *proposalService) Create(ctx context.Context, p *models.Proposal) (*models.Proposal, error) {
	user, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}
	conf := s.cs.GetConfig(ctx)
	created := models.Proposal{
		UserID: user.ID,
		Type:   p.Type,
		State:  models.StateNew,
		Tags:   models.ParseTags(strings.Join(p.Tags, ",")),
	}
	copyCoreFields(&created, p)
	if err := validateProposal(&created, conf.Event.Location()); err != nil {
		return nil, err
	}
	err = s.store.InTx(ctx, func(r repos.Repos) error {
		if err := r.Proposals.Create(&created); err != nil {
			return err
		}
		return recordVersions(r, models.EntityProposal, created.ID, user.ID,
			models.Diff(models.ProposalColumns, map[string]*string{}, created.Snapshot()), nil)
	})
	if err != nil {
		return nil, errRepo("Failed to create proposal", err)
	}
	s.logger.WithFields(logrus.Fields{log.FldProposal: created.ID, log.FldType: created.Type}).Info("Proposal created")
	s.ns.Announce(ctx, bus.TopicHeralds, fmt.Sprintf("New %s proposal #%d", created.Type, created.ID), created.ID)
	return &created, nil
}

// Get returns the proposal with the given ID
func (s *proposalService) Get(ctx context.Context, id uint) (*models.Proposal, error) {
	user, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}
	p, err := s.store.Repos().Proposals.GetByID(id)
	if err != nil {
		return nil, mapRepoError(err, "Proposal", id)
	}
	if p.UserID != user.ID && !hasCFPRole(user) {
		return nil, errForbidden("This proposal belongs to someone else")
	}
	return p, nil
}

// List searches for proposals. Users without CFP permissions only see their own.
func (s *proposalService) List(ctx context.Context, search *ProposalSearch) ([]models.Proposal, uint, error) {
	user, err := currentUser(ctx)
	if err != nil {
		return nil, 0, err
	}
	filter := repos.ProposalFilter{
		Tag:    search.Tag,
		Search: search.Search.Search,
		Offset: search.Offset,
		Limit:  search.Limit,
	}
	if search.State != "" {
		filter.States = []models.ProposalState{search.State}
	}
	if search.Type != "" {
		filter.Types = []models.ProposalType{search.Type}
	}
	if search.Mine || !hasCFPRole(user) {
		filter.UserID = models.UintPtr(user.ID)
	}
	list, numRows, err := s.store.Repos().Proposals.Find(filter)
	if err != nil {
		return nil, 0, errRepo("Error while searching proposals", err)
	}
	return list, numRows, nil
}

// Update updates a proposal
func (s *proposalService) Update(ctx context.Context, p *models.Proposal) error {
	user, err := currentUser(ctx)
	if err != nil {
		return err
	}
	isAdmin := user.HasPermission(models.PermCFPAdmin)
	loc := s.cs.GetConfig(ctx).Event.Location()
	err = s.store.InTx(ctx, func(r repos.Repos) error {
		orig, err := r.Proposals.GetByID(p.ID)
		if err != nil {
			return mapRepoError(err, "Proposal", p.ID)
		}
		if !isAdmin {
			if orig.UserID != user.ID {
				return errForbidden("This proposal belongs to someone else")
			}
			if !orig.State.IsEditableByAuthor() {
				return errForbidden(fmt.Sprintf("A proposal in state '%s' cannot be changed any more", orig.State))
			}
		}
		updated := *orig
		copyCoreFields(&updated, p)
		if isAdmin {
			copyAdminFields(&updated, p)
		}
		if err := validateProposal(&updated, loc); err != nil {
			return err
		}
		if isAdmin && p.AllowedVenueIDs != nil {
			if err := checkVenues(r, updated.Type, p.AllowedVenueIDs); err != nil {
				return err
			}
			if err := r.Proposals.SetAllowedVenues(p.ID, p.AllowedVenueIDs); err != nil {
				return err
			}
		}
		if isAdmin && updated.ScheduledVenueID != nil && !equalUintPtr(updated.ScheduledVenueID, orig.ScheduledVenueID) {
			if err := checkVenues(r, updated.Type, []uint{*updated.ScheduledVenueID}); err != nil {
				return err
			}
		}
		if p.Tags != nil {
			if err := r.Proposals.SetTags(p.ID, models.ParseTags(strings.Join(p.Tags, ","))); err != nil {
				return err
			}
		}
		return saveProposal(r, orig, &updated, user.ID)
	})
	return mapRepoError(err, "Proposal", p.ID)
}

// Delete removes a proposal
func (s *proposalService) Delete(ctx context.Context, id uint) error {
	user, err := requirePermission(ctx, models.PermCFPAdmin)
	if err != nil {
		return err
	}
	err = s.store.InTx(ctx, func(r repos.Repos) error {
		return r.Proposals.Delete(id)
	})
	if err != nil {
		return mapRepoError(err, "Proposal", id)
	}
	s.logger.WithFields(logrus.Fields{log.FldProposal: id, log.FldUser: user.ID}).Warn("Proposal deleted")
	return nil
}

// Versions returns the change history of a proposal, oldest first
func (s *proposalService) Versions(ctx context.Context, id uint) ([]models.Version, error) {
	if _, err := requirePermission(ctx, models.PermCFPAdmin); err != nil {
		return nil, err
	}
	r := s.store.Repos()
	if _, err := r.Proposals.GetByID(id); err != nil {
		return nil, mapRepoError(err, "Proposal", id)
	}
	list, err := r.Versions.ListFor(models.EntityProposal, id)
	if err != nil {
		return nil, errRepo("Cannot read version history", err)
	}
	return list, nil
}

// Revert restores the values the transaction has overwritten. The reversion is itself recorded as a new
// transaction pointing at the reverted one.
func (s *proposalService) Revert(ctx context.Context, id uint, txID string) error {
	user, err := requirePermission(ctx, models.PermCFPAdmin)
	if err != nil {
		return err
	}
	err = s.store.InTx(ctx, func(r repos.Repos) error {
		before, err := r.Proposals.GetByID(id)
		if err != nil {
			return err
		}
		versions, err := r.Versions.ListByTx(models.EntityProposal, id, txID)
		if err != nil {
			return err
		}
		if len(versions) == 0 {
			return MakeError(http.StatusNotFound, ErrCodeNotFound,
				fmt.Sprintf("Transaction '%s' did not change proposal #%d", txID, id))
		}
		for _, v := range versions {
			if err := r.Proposals.SetColumn(id, v.Field, v.Before); err != nil {
				return err
			}
		}
		after, err := r.Proposals.GetByID(id)
		if err != nil {
			return err
		}
		if !after.State.Valid() || !after.ScheduleConsistent() {
			return MakeError(http.StatusConflict, ErrCodeIllegalTransition,
				fmt.Sprintf("Reverting '%s' would leave proposal #%d inconsistent", txID, id))
		}
		return recordVersions(r, models.EntityProposal, id, user.ID,
			models.Diff(models.ProposalColumns, before.Snapshot(), after.Snapshot()), &txID)
	})
	if err != nil {
		return mapRepoError(err, "Proposal", id)
	}
	s.logger.WithFields(logrus.Fields{log.FldProposal: id, log.FldTx: txID}).Info("Transaction reverted")
	return nil
}

// Transition moves a proposal to another state
func (s *proposalService) Transition(ctx context.Context, id uint, to models.ProposalState, force bool) error {
	user, err := requirePermission(ctx, models.PermCFPAdmin)
	if err != nil {
		return err
	}
	err = s.store.InTx(ctx, func(r repos.Repos) error {
		p, err := r.Proposals.GetByID(id)
		if err != nil {
			return err
		}
		return transition(r, p, to, user.ID, force)
	})
	return mapRepoError(err, "Proposal", id)
}

// Check marks a new proposal as checked. Types that are not anonymised go on to manual review.
func (s *proposalService) Check(ctx context.Context, id uint) error {
	user, err := requirePermission(ctx, models.PermCFPAdmin)
	if err != nil {
		return err
	}
	conf := s.cs.GetConfig(ctx)
	err = s.store.InTx(ctx, func(r repos.Repos) error {
		p, err := r.Proposals.GetByID(id)
		if err != nil {
			return err
		}
		if err := transition(r, p, models.StateChecked, user.ID, false); err != nil {
			return err
		}
		if conf.CFP.IsReviewable(p.Type) {
			return nil
		}
		return transition(r, p, models.StateManualReview, user.ID, false)
	})
	return mapRepoError(err, "Proposal", id)
}

// Withdraw withdraws the proposal on behalf of its author. The reason is kept as a message to the admins and any
// seats handed out for the proposal are cancelled.
func (s *proposalService) Withdraw(ctx context.Context, id uint, reason string) error {
	user, err := currentUser(ctx)
	if err != nil {
		return err
	}
	var p *models.Proposal
	err = s.store.InTx(ctx, func(r repos.Repos) error {
		if p, err = r.Proposals.GetByID(id); err != nil {
			return err
		}
		if p.UserID != user.ID && !user.HasPermission(models.PermCFPAdmin) {
			return errForbidden("Only the author can withdraw a proposal")
		}
		if err := transition(r, p, models.StateWithdrawn, user.ID, false); err != nil {
			return err
		}
		body := strings.TrimSpace(reason)
		if body == "" {
			body = "Proposal withdrawn"
		}
		if err := r.Messages.Create(&models.Message{
			ProposalID: id,
			FromUserID: user.ID,
			ToAdmin:    true,
			Body:       body,
		}); err != nil {
			return err
		}
		tickets, err := r.Tickets.ListForProposal(id, models.TicketEnteredLottery, models.TicketIssued)
		if err != nil {
			return err
		}
		for i := range tickets {
			tickets[i].State = models.TicketCancelled
			if err := r.Tickets.Update(&tickets[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return mapRepoError(err, "Proposal", id)
	}
	s.logger.WithField(log.FldProposal, id).Info("Proposal withdrawn")
	if err := s.ns.Notify(ctx, models.MailWithdrawn, p.UserID, p, mail.Data{Reason: reason}); err != nil {
		s.logger.WithError(err).WithField(log.FldProposal, id).Error("Cannot queue withdrawal mail")
	}
	s.ns.Announce(ctx, bus.TopicHeralds, fmt.Sprintf("\"%s\" (#%d) has been withdrawn", p.DisplayTitle(), id), id)
	return nil
}

// AddFavourite marks an accepted proposal as a favourite of the current user
func (s *proposalService) AddFavourite(ctx context.Context, id uint) error {
	user, err := currentUser(ctx)
	if err != nil {
		return err
	}
	return mapRepoError(s.store.InTx(ctx, func(r repos.Repos) error {
		p, err := r.Proposals.GetByID(id)
		if err != nil {
			return err
		}
		if !p.IsAccepted() || p.HideFromSchedule {
			return errNotFound("Proposal", id)
		}
		_, err = r.Proposals.AddFavourite(user.ID, id)
		return err
	}), "Proposal", id)
}

// RemoveFavourite removes the favourite mark of the current user
func (s *proposalService) RemoveFavourite(ctx context.Context, id uint) error {
	user, err := currentUser(ctx)
	if err != nil {
		return err
	}
	return mapRepoError(s.store.InTx(ctx, func(r repos.Repos) error {
		_, err := r.Proposals.RemoveFavourite(user.ID, id)
		return err
	}), "Proposal", id)
}

// SendMessage adds a message to the dialogue between author and admins
func (s *proposalService) SendMessage(ctx context.Context, id uint, body string) (*models.Message, error) {
	user, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, MakeErrorWithData(http.StatusBadRequest, ErrCodeRequiredFieldMissing, "Message body missing",
			map[string]string{"field": "body"})
	}
	p, err := s.store.Repos().Proposals.GetByID(id)
	if err != nil {
		return nil, mapRepoError(err, "Proposal", id)
	}
	isAdmin := user.HasPermission(models.PermCFPAdmin)
	if p.UserID != user.ID && !isAdmin {
		return nil, errForbidden("This proposal belongs to someone else")
	}
	msg := models.Message{
		ProposalID: id,
		FromUserID: user.ID,
		ToAdmin:    p.UserID == user.ID,
		Body:       body,
	}
	if err := s.store.Repos().Messages.Create(&msg); err != nil {
		return nil, errRepo("Failed to store message", err)
	}
	return &msg, nil
}

// ListMessages returns the dialogue of a proposal
func (s *proposalService) ListMessages(ctx context.Context, id uint) ([]models.Message, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	list, err := s.store.Repos().Messages.ListForProposal(id)
	if err != nil {
		return nil, errRepo("Failed to read messages", err)
	}
	return list, nil
}

// MarkMessagesRead marks the messages sent to the current user's side as read
func (s *proposalService) MarkMessagesRead(ctx context.Context, id uint) (int64, error) {
	user, err := currentUser(ctx)
	if err != nil {
		return 0, err
	}
	p, err := s.store.Repos().Proposals.GetByID(id)
	if err != nil {
		return 0, mapRepoError(err, "Proposal", id)
	}
	var toAdmin bool
	switch {
	case user.HasPermission(models.PermCFPAdmin):
		toAdmin = true
	case p.UserID == user.ID:
		toAdmin = false
	default:
		return 0, errForbidden("This proposal belongs to someone else")
	}
	num, err := s.store.Repos().Messages.MarkRead(id, toAdmin)
	if err != nil {
		return 0, errRepo("Failed to mark messages as read", err)
	}
	return num, nil
}

// -- Helpers shared by the proposal handling services -----------------------------------------------------------------

// copyCoreFields copies the fields an author may edit
func copyCoreFields(dst, src *models.Proposal) {
	dst.Title = strings.TrimSpace(src.Title)
	dst.Description = strings.TrimSpace(src.Description)
	dst.Length = src.Length
	dst.Attendees = src.Attendees
	dst.AgeRange = src.AgeRange
	dst.Size = src.Size
	dst.SlideLink = src.SlideLink
	dst.Session = src.Session
	dst.OneDay = src.OneDay
	dst.NeedFinance = src.NeedFinance
}

// copyAdminFields copies the fields only admins may edit. The state is left alone.
func copyAdminFields(dst, src *models.Proposal) {
	if src.Type != "" {
		dst.Type = src.Type
	}
	dst.Notes = src.Notes
	dst.RequiresTicket = src.RequiresTicket
	dst.PublishedTitle = src.PublishedTitle
	dst.PublishedDescription = src.PublishedDescription
	dst.PublishedNames = src.PublishedNames
	dst.PublishedPronouns = src.PublishedPronouns
	dst.FamilyFriendly = src.FamilyFriendly
	dst.ContentNote = src.ContentNote
	dst.Equipment = src.Equipment
	dst.Availability = src.Availability
	dst.ArrivalPeriod = src.ArrivalPeriod
	dst.DeparturePeriod = src.DeparturePeriod
	dst.TelephoneNumber = src.TelephoneNumber
	dst.MayRecord = src.MayRecord
	dst.ScheduledVenueID = src.ScheduledVenueID
	dst.ScheduledTime = src.ScheduledTime
	dst.ScheduledDuration = src.ScheduledDuration
	dst.PotentialVenueID = src.PotentialVenueID
	dst.PotentialTime = src.PotentialTime
	dst.AllowedTimes = src.AllowedTimes
	dst.UserScheduled = src.UserScheduled
	dst.ManuallyScheduled = src.ManuallyScheduled
	dst.HideFromSchedule = src.HideFromSchedule
}

// validateProposal checks the fields required by the proposal's type and the format of the allowed times
func validateProposal(p *models.Proposal, loc *time.Location) error {
	if !p.Type.Valid() {
		return errInvalidField("type", fmt.Sprintf("'%s' is no valid proposal type", p.Type))
	}
	if p.Title == "" {
		return errInvalidField("title", "The title must not be empty")
	}
	switch p.Type {
	case models.TypeWorkshop, models.TypeYouthWorkshop:
		if p.Attendees == nil || *p.Attendees <= 0 {
			return errInvalidField("attendees", "Workshops need the number of attendees")
		}
		if p.Type == models.TypeYouthWorkshop && strings.TrimSpace(p.AgeRange) == "" {
			return errInvalidField("ageRange", "Youth workshops need an age range")
		}
	case models.TypeLightning:
		if strings.TrimSpace(p.SlideLink) == "" {
			return errInvalidField("slideLink", "Lightning talks need a link to the slides")
		}
		if strings.TrimSpace(p.Session) == "" {
			return errInvalidField("session", "Lightning talks need a session")
		}
	case models.TypeInstallation:
		if strings.TrimSpace(p.Size) == "" {
			return errInvalidField("size", "Installations need a size")
		}
	}
	if _, err := models.ParsePeriods(p.AllowedTimes, loc); err != nil {
		return errInvalidField("allowedTimes", err.Error())
	}
	if p.ScheduledDuration != nil && *p.ScheduledDuration <= 0 {
		return errInvalidField("scheduledDuration", "The duration must be positive")
	}
	if !p.ScheduleConsistent() {
		return errInvalidField("scheduledTime", "A scheduled time needs a venue and a duration")
	}
	return nil
}

// checkVenues makes sure the venues exist and allow the type
func checkVenues(r repos.Repos, t models.ProposalType, ids []uint) error {
	for _, id := range ids {
		v, err := r.Venues.GetByID(id)
		if err == repos.ErrEntityNotExisting {
			return MakeError(http.StatusBadRequest, ErrCodeInvalidVenue, fmt.Sprintf("Venue #%d does not exist", id))
		} else if err != nil {
			return err
		}
		if !v.Allows(t) {
			return MakeError(http.StatusBadRequest, ErrCodeInvalidVenue,
				fmt.Sprintf("Venue '%s' does not allow %s proposals", v.Name, t))
		}
	}
	return nil
}

// transition moves p to another state inside the transaction of r and records the change
func transition(r repos.Repos, p *models.Proposal, to models.ProposalState, userID uint, force bool) error {
	if !to.Valid() {
		return errInvalidField("state", fmt.Sprintf("'%s' is no valid proposal state", to))
	}
	if !force && !models.CanTransition(p.State, to) {
		return errIllegalTransition(p, to)
	}
	before := *p
	p.State = to
	if err := saveProposal(r, &before, p, userID); err != nil {
		*p = before
		return err
	}
	return nil
}

// saveProposal writes the proposal and records a version for every changed column
func saveProposal(r repos.Repos, before, after *models.Proposal, userID uint) error {
	if !after.ScheduleConsistent() {
		return errInvalidField("scheduledTime", "A scheduled time needs a venue and a duration")
	}
	if err := r.Proposals.Update(after); err != nil {
		return err
	}
	return recordVersions(r, models.EntityProposal, after.ID, userID,
		models.Diff(models.ProposalColumns, before.Snapshot(), after.Snapshot()), nil)
}

// recordVersions stores the changes under the transaction of r
func recordVersions(r repos.Repos, entity string, id uint, userID uint, versions []models.Version,
	revertedFrom *string) error {
	for i := range versions {
		v := &versions[i]
		v.EntityType = entity
		v.EntityID = id
		v.TxID = r.TxID
		v.UserID = userID
		v.RevertedFrom = revertedFrom
		if err := r.Versions.Create(v); err != nil {
			return err
		}
	}
	return nil
}

func equalUintPtr(a, b *uint) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
