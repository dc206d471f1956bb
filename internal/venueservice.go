package internal

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"

	"github.com/derWhity/cfpdesk/internal/log"
	"github.com/derWhity/cfpdesk/internal/models"
	"github.com/derWhity/cfpdesk/internal/repos"
)

// VenueService manages the venues proposals are scheduled in
type VenueService interface {
	// List returns all venues, highest priority first
	List(ctx context.Context) ([]models.Venue, error)
	// Create creates a new venue
	Create(ctx context.Context, v *models.Venue) (*models.Venue, error)
	// CreateDefaults creates the festival's standard venues that do not exist yet and returns the created ones
	CreateDefaults(ctx context.Context) ([]models.Venue, error)
}

// -- VenueService implementation --------------------------------------------------------------------------------------

type venueService struct {
	store  repos.Store
	logger *logrus.Entry
}

// NewVenueService creates a new venue service instance
func NewVenueService(store repos.Store, logger *logrus.Entry) VenueService {
	return &venueService{
		store:  store,
		logger: logger,
	}
}

// defaultVenueSet is created by CreateDefaults
var defaultVenueSet = []models.Venue{
	{Name: "Stage A", Priority: 100, Capacity: models.IntPtr(1000),
		AllowedTypes:    []models.ProposalType{models.TypeTalk, models.TypePerformance},
		DefaultForTypes: []models.ProposalType{models.TypeTalk}},
	{Name: "Stage B", Priority: 99, Capacity: models.IntPtr(600),
		AllowedTypes:    []models.ProposalType{models.TypeTalk, models.TypePerformance},
		DefaultForTypes: []models.ProposalType{models.TypeTalk}},
	{Name: "Stage C", Priority: 98, Capacity: models.IntPtr(450),
		AllowedTypes:    []models.ProposalType{models.TypeTalk, models.TypePerformance, models.TypeLightning},
		DefaultForTypes: []models.ProposalType{models.TypeTalk}},
	{Name: "Workshop 1", Priority: 97, Capacity: models.IntPtr(30),
		AllowedTypes:    []models.ProposalType{models.TypeWorkshop},
		DefaultForTypes: []models.ProposalType{models.TypeWorkshop}},
	{Name: "Workshop 2", Priority: 96, Capacity: models.IntPtr(30),
		AllowedTypes:    []models.ProposalType{models.TypeWorkshop},
		DefaultForTypes: []models.ProposalType{models.TypeWorkshop}},
	{Name: "Workshop 3", Priority: 95, Capacity: models.IntPtr(30),
		AllowedTypes:    []models.ProposalType{models.TypeWorkshop},
		DefaultForTypes: []models.ProposalType{models.TypeWorkshop}},
	{Name: "Youth Workshop", Priority: 94, Capacity: models.IntPtr(30),
		AllowedTypes:    []models.ProposalType{models.TypeYouthWorkshop},
		DefaultForTypes: []models.ProposalType{models.TypeYouthWorkshop}},
	{Name: "Null Sector", Priority: 80, Capacity: models.IntPtr(300),
		AllowedTypes:    []models.ProposalType{models.TypePerformance},
		DefaultForTypes: []models.ProposalType{models.TypePerformance}},
	{Name: "Installations", Priority: 0,
		AllowedTypes:    []models.ProposalType{models.TypeInstallation},
		DefaultForTypes: []models.ProposalType{models.TypeInstallation}},
}

// List returns all venues, highest priority first
func (s *venueService) List(ctx context.Context) ([]models.Venue, error) {
	list, err := s.store.Repos().Venues.List()
	if err != nil {
		return nil, errRepo("Error while reading venues", err)
	}
	return list, nil
}

// Create creates a new venue
func (s *venueService) Create(ctx context.Context, v *models.Venue) (*models.Venue, error) {
	if _, err := requirePermission(ctx, models.PermCFPAdmin); err != nil {
		return nil, err
	}
	created := *v
	created.ID = 0
	created.Name = strings.TrimSpace(created.Name)
	if created.Name == "" {
		return nil, errInvalidField("name", "A venue needs a name")
	}
	for _, t := range append(append([]models.ProposalType{}, created.AllowedTypes...), created.DefaultForTypes...) {
		if !t.Valid() {
			return nil, MakeErrorWithData(http.StatusBadRequest, ErrCodeInvalidVenue,
				fmt.Sprintf("'%s' is no valid proposal type", t), map[string]string{"field": "allowedTypes"})
		}
	}
	err := s.store.InTx(ctx, func(r repos.Repos) error {
		if _, err := r.Venues.GetByName(created.Name); err == nil {
			return MakeError(http.StatusConflict, ErrCodeInvalidVenue,
				fmt.Sprintf("There already is a venue named '%s'", created.Name))
		} else if err != repos.ErrEntityNotExisting {
			return err
		}
		return r.Venues.Create(&created)
	})
	if err != nil {
		return nil, mapRepoError(err, "Venue", 0)
	}
	s.logger.WithFields(logrus.Fields{log.FldVenue: created.ID, "name": created.Name}).Info("Venue created")
	return &created, nil
}

// CreateDefaults creates the festival's standard venues that do not exist yet
func (s *venueService) CreateDefaults(ctx context.Context) ([]models.Venue, error) {
	if _, err := requirePermission(ctx, models.PermCFPAdmin); err != nil {
		return nil, err
	}
	created := []models.Venue{}
	err := s.store.InTx(ctx, func(r repos.Repos) error {
		for _, v := range defaultVenueSet {
			if _, err := r.Venues.GetByName(v.Name); err == nil {
				continue
			} else if err != repos.ErrEntityNotExisting {
				return err
			}
			if err := r.Venues.Create(&v); err != nil {
				return err
			}
			created = append(created, v)
		}
		return nil
	})
	if err != nil {
		return nil, errRepo("Failed to create the default venues", err)
	}
	s.logger.WithField("created", len(created)).Info("Default venues created")
	return created, nil
}
