package internal

import (
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"

	"github.com/derWhity/cfpdesk/internal/log"
	"github.com/derWhity/cfpdesk/internal/models"
	"github.com/derWhity/cfpdesk/internal/repos"
)

// AnonymiserService routes checked proposals to the anonymisers
type AnonymiserService interface {
	// ListPending returns the checked proposals waiting for anonymisation, optionally only those with the tag
	ListPending(ctx context.Context, tag string) ([]models.Proposal, error)
	// Next returns the pending proposal following the given one in modification order. Zero starts at the front.
	Next(ctx context.Context, afterID uint) (*models.Proposal, error)
	// Anonymise replaces title and description and marks the proposal as anonymised
	Anonymise(ctx context.Context, id uint, title string, description string) error
	// Block marks the proposal as impossible to anonymise
	Block(ctx context.Context, id uint) error
}

// -- AnonymiserService implementation ---------------------------------------------------------------------------------

type anonymiserService struct {
	store  repos.Store
	logger *logrus.Entry
}

// NewAnonymiserService creates a new anonymiser service instance
func NewAnonymiserService(store repos.Store, logger *logrus.Entry) AnonymiserService {
	return &anonymiserService{
		store:  store,
		logger: logger,
	}
}

func (s *anonymiserService) pending(tag string) ([]models.Proposal, error) {
	list, err := findAll(s.store.Repos(), repos.ProposalFilter{
		States:    []models.ProposalState{models.StateChecked},
		Tag:       tag,
		ByUpdated: true,
	})
	if err != nil {
		return nil, errRepo("Error while searching pending proposals", err)
	}
	return list, nil
}

// ListPending returns the checked proposals waiting for anonymisation
func (s *anonymiserService) ListPending(ctx context.Context, tag string) ([]models.Proposal, error) {
	if _, err := requirePermission(ctx, models.PermCFPAnonymiser); err != nil {
		return nil, err
	}
	list, err := s.pending(tag)
	if list == nil && err == nil {
		list = []models.Proposal{}
	}
	return list, err
}

// Next returns the pending proposal following the given one. The queue is ordered by modification time and then by
// ID, so concurrent anonymisers paging through it see the same sequence. If the given proposal has left the queue,
// the front of the queue is returned.
func (s *anonymiserService) Next(ctx context.Context, afterID uint) (*models.Proposal, error) {
	if _, err := requirePermission(ctx, models.PermCFPAnonymiser); err != nil {
		return nil, err
	}
	list, err := s.pending("")
	if err != nil {
		return nil, err
	}
	for i := range list {
		if list[i].ID != afterID {
			continue
		}
		if i+1 < len(list) {
			return &list[i+1], nil
		}
		return nil, nil
	}
	if len(list) == 0 {
		return nil, nil
	}
	return &list[0], nil
}

// Anonymise replaces title and description and marks the proposal as anonymised
func (s *anonymiserService) Anonymise(ctx context.Context, id uint, title string, description string) error {
	user, err := requirePermission(ctx, models.PermCFPAnonymiser)
	if err != nil {
		return err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return errInvalidField("title", "The anonymised title must not be empty")
	}
	err = s.store.InTx(ctx, func(r repos.Repos) error {
		p, err := r.Proposals.GetByID(id)
		if err != nil {
			return err
		}
		if !models.CanTransition(p.State, models.StateAnonymised) {
			return errIllegalTransition(p, models.StateAnonymised)
		}
		before := *p
		p.Title = title
		p.Description = strings.TrimSpace(description)
		p.AnonymiserID = models.UintPtr(user.ID)
		p.State = models.StateAnonymised
		return saveProposal(r, &before, p, user.ID)
	})
	if err != nil {
		return mapRepoError(err, "Proposal", id)
	}
	s.logger.WithFields(logrus.Fields{log.FldProposal: id, log.FldUser: user.ID}).Info("Proposal anonymised")
	return nil
}

// Block marks the proposal as impossible to anonymise
func (s *anonymiserService) Block(ctx context.Context, id uint) error {
	user, err := requirePermission(ctx, models.PermCFPAnonymiser)
	if err != nil {
		return err
	}
	err = s.store.InTx(ctx, func(r repos.Repos) error {
		p, err := r.Proposals.GetByID(id)
		if err != nil {
			return err
		}
		if !models.CanTransition(p.State, models.StateAnonBlocked) {
			return errIllegalTransition(p, models.StateAnonBlocked)
		}
		before := *p
		p.State = models.StateAnonBlocked
		if p.AnonymiserID == nil {
			p.AnonymiserID = models.UintPtr(user.ID)
		}
		return saveProposal(r, &before, p, user.ID)
	})
	return mapRepoError(err, "Proposal", id)
}
