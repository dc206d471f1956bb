package internal

import (
	"fmt"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"

	"github.com/derWhity/cfpdesk/internal/bus"
	"github.com/derWhity/cfpdesk/internal/log"
	"github.com/derWhity/cfpdesk/internal/models"
	"github.com/derWhity/cfpdesk/internal/repos"
)

// FinaliseService collects the details of accepted proposals needed to publish and run them
type FinaliseService interface {
	// Finalise stores the finalisation form of an accepted proposal and marks it as finalised
	Finalise(ctx context.Context, id uint, form *FinaliseForm) (*models.Proposal, error)
}

// -- FinaliseService implementation -----------------------------------------------------------------------------------

type finaliseService struct {
	store  repos.Store
	ns     NotificationService
	policy *bluemonday.Policy
	logger *logrus.Entry
}

// NewFinaliseService creates a new finalisation service instance
func NewFinaliseService(store repos.Store, ns NotificationService, logger *logrus.Entry) FinaliseService {
	return &finaliseService{
		store:  store,
		ns:     ns,
		policy: bluemonday.StrictPolicy(),
		logger: logger,
	}
}

// sanitise strips all markup from text that ends up on the public schedule
func (s *finaliseService) sanitise(text string) string {
	return strings.TrimSpace(s.policy.Sanitize(text))
}

// Finalise stores the finalisation form of an accepted proposal and marks it as finalised
func (s *finaliseService) Finalise(ctx context.Context, id uint, form *FinaliseForm) (*models.Proposal, error) {
	user, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}
	arrival, departure := models.PeriodIndex(form.ArrivalPeriod), models.PeriodIndex(form.DeparturePeriod)
	switch {
	case arrival < 0:
		return nil, errInvalidField("arrivalPeriod", fmt.Sprintf("'%s' is no known arrival period", form.ArrivalPeriod))
	case departure < 0:
		return nil, errInvalidField("departurePeriod",
			fmt.Sprintf("'%s' is no known departure period", form.DeparturePeriod))
	case departure <= arrival:
		return nil, errInvalidField("departurePeriod", "Departure has to be after arrival")
	}
	availability, unknown := models.NormaliseAvailability(form.Availability)
	if len(unknown) > 0 {
		return nil, errInvalidField("availability", fmt.Sprintf("Unknown availability slots: %s",
			strings.Join(unknown, ", ")))
	}
	names := s.sanitise(form.Names)
	if names == "" {
		return nil, errInvalidField("names", "Please tell us the names to publish")
	}

	var p *models.Proposal
	resubmitted := false
	err = s.store.InTx(ctx, func(r repos.Repos) error {
		if p, err = r.Proposals.GetByID(id); err != nil {
			return err
		}
		if p.UserID != user.ID && !user.HasPermission(models.PermCFPAdmin) {
			return errForbidden("Only the author can finalise a proposal")
		}
		// Finalised proposals take corrections until they are finished
		resubmitted = p.State == models.StateFinalised
		if !resubmitted && !models.CanTransition(p.State, models.StateFinalised) {
			return errIllegalTransition(p, models.StateFinalised)
		}
		before := *p
		p.PublishedNames = names
		p.PublishedPronouns = s.sanitise(form.Pronouns)
		p.PublishedTitle = s.sanitise(form.Title)
		if p.PublishedTitle == "" {
			p.PublishedTitle = before.Title
		}
		p.PublishedDescription = s.sanitise(form.Description)
		if p.PublishedDescription == "" {
			p.PublishedDescription = before.Description
		}
		p.FamilyFriendly = form.FamilyFriendly
		p.ContentNote = s.sanitise(form.ContentNote)
		p.ArrivalPeriod = models.OnSitePeriods[arrival]
		p.DeparturePeriod = models.OnSitePeriods[departure]
		p.TelephoneNumber = strings.TrimSpace(form.TelephoneNumber)
		p.MayRecord = form.MayRecord
		p.Equipment = strings.TrimSpace(form.Equipment)
		p.Availability = strings.Join(availability, ",")
		p.State = models.StateFinalised
		return saveProposal(r, &before, p, user.ID)
	})
	if err != nil {
		return nil, mapRepoError(err, "Proposal", id)
	}
	logger := s.logger.WithFields(logrus.Fields{log.FldProposal: id, log.FldUser: user.ID})
	if resubmitted {
		logger.Info("Finalisation details corrected")
		s.ns.Announce(ctx, bus.TopicGreenroom,
			fmt.Sprintf("\"%s\" (#%d) has corrected its finalisation details", p.DisplayTitle(), id), id)
		return p, nil
	}
	logger.Info("Proposal finalised")
	s.ns.Announce(ctx, bus.TopicGreenroom, fmt.Sprintf("\"%s\" (#%d) has been finalised", p.DisplayTitle(), id), id)
	return p, nil
}
