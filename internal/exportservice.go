package internal

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"

	"github.com/derWhity/cfpdesk/internal/export"
	"github.com/derWhity/cfpdesk/internal/log"
	"github.com/derWhity/cfpdesk/internal/models"
	"github.com/derWhity/cfpdesk/internal/repos"
)

// Export formats
const (
	FormatICal     = "ical"
	FormatFrabXML  = "frab.xml"
	FormatFrabJSON = "frab.json"
	FormatJSON     = "json"
)

// ExportFormats maps every export format to its content type
var ExportFormats = map[string]string{
	FormatICal:     "text/calendar; charset=utf-8",
	FormatFrabXML:  "application/xml; charset=utf-8",
	FormatFrabJSON: "application/json; charset=utf-8",
	FormatJSON:     "application/json; charset=utf-8",
}

// ExportService renders the public schedule
type ExportService interface {
	// Schedule collects every accepted and scheduled proposal that is not hidden
	Schedule(ctx context.Context) (*export.Schedule, error)
	// Write renders the public schedule in the given format
	Write(ctx context.Context, format string, w io.Writer) error
}

// -- ExportService implementation -------------------------------------------------------------------------------------

type exportService struct {
	store  repos.Store
	cs     ConfigService
	logger *logrus.Entry
}

// NewExportService creates a new export service instance
func NewExportService(store repos.Store, cs ConfigService, logger *logrus.Entry) ExportService {
	return &exportService{
		store:  store,
		cs:     cs,
		logger: logger,
	}
}

// Schedule collects every accepted and scheduled proposal that is not hidden
func (s *exportService) Schedule(ctx context.Context) (*export.Schedule, error) {
	conf := s.cs.GetConfig(ctx)
	period, err := conf.Event.Period()
	if err != nil {
		return nil, errInvalidField("event", "The event period is not configured correctly")
	}
	r := s.store.Repos()
	venues, err := r.Venues.List()
	if err != nil {
		return nil, errRepo("Error while reading venues", err)
	}
	venueNames := make(map[uint]string, len(venues))
	for _, v := range venues {
		venueNames[v.ID] = v.Name
	}
	list, err := findAll(r, repos.ProposalFilter{
		States: []models.ProposalState{models.StateAccepted, models.StateFinalised, models.StateFinished},
	})
	if err != nil {
		return nil, errRepo("Error while searching scheduled proposals", err)
	}

	sched := &export.Schedule{
		Title:       conf.Event.Title,
		Acronym:     fmt.Sprintf("%s%d", conf.Event.UIDPrefix, conf.Event.Year),
		Start:       period.Start,
		End:         period.End,
		Location:    conf.Event.Location(),
		Generated:   time.Now(),
		SlotMinutes: conf.Schedule.SlotMinutes,
		Events:      []export.Event{},
	}
	names := map[uint]string{}
	for i := range list {
		p := &list[i]
		if !p.IsAccepted() || p.HideFromSchedule || p.ScheduledTime == nil || p.ScheduledVenueID == nil ||
			p.ScheduledDuration == nil {
			continue
		}
		speakers := p.PublishedNames
		if speakers == "" {
			if _, ok := names[p.UserID]; !ok {
				if u, err := r.Users.GetByID(p.UserID); err == nil {
					names[p.UserID] = u.Name
				} else {
					s.logger.WithError(err).WithField(log.FldUser, p.UserID).Warn("Cannot read author")
					names[p.UserID] = ""
				}
			}
			speakers = names[p.UserID]
		}
		title := p.DisplayTitle()
		start := p.ScheduledTime.In(sched.Location)
		e := export.Event{
			ID:             p.ID,
			UID:            export.UID(conf.Event.UIDPrefix, conf.Event.Year, p.ID, title),
			Slug:           export.Slug(title),
			Type:           string(p.Type),
			Title:          title,
			Description:    p.DisplayDescription(),
			Speakers:       speakers,
			Pronouns:       p.PublishedPronouns,
			Venue:          venueNames[*p.ScheduledVenueID],
			Start:          start,
			End:            start.Add(time.Duration(*p.ScheduledDuration) * time.Minute),
			Duration:       *p.ScheduledDuration,
			FamilyFriendly: p.FamilyFriendly,
			ContentNote:    p.ContentNote,
			MayRecord:      p.MayRecord,
			Tags:           p.Tags,
		}
		if e.Tags == nil {
			e.Tags = []string{}
		}
		if conf.Event.URL != "" {
			e.URL = fmt.Sprintf("%s/%d-%s", conf.Event.URL, p.ID, e.Slug)
		}
		sched.Events = append(sched.Events, e)
	}
	sched.Sort()
	return sched, nil
}

// Write renders the public schedule in the given format
func (s *exportService) Write(ctx context.Context, format string, w io.Writer) error {
	var render func(io.Writer, *export.Schedule) error
	switch format {
	case FormatICal:
		render = export.ICal
	case FormatFrabXML:
		render = export.FrabXML
	case FormatFrabJSON:
		render = export.FrabJSON
	case FormatJSON:
		render = export.JSON
	default:
		return MakeErrorWithData(http.StatusNotFound, ErrCodeNotFound,
			fmt.Sprintf("Unknown export format '%s'", format),
			map[string]interface{}{"formats": []string{FormatICal, FormatFrabXML, FormatFrabJSON, FormatJSON}})
	}
	sched, err := s.Schedule(ctx)
	if err != nil {
		return err
	}
	if err := render(w, sched); err != nil {
		s.logger.WithError(err).WithField("format", format).Error("Cannot render schedule")
		return MakeErrorWithData(http.StatusInternalServerError, ErrCodeUnknown, "Cannot render schedule", err)
	}
	return nil
}
