package internal

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"

	"github.com/derWhity/cfpdesk/internal/bus"
	"github.com/derWhity/cfpdesk/internal/log"
	"github.com/derWhity/cfpdesk/internal/mail"
	"github.com/derWhity/cfpdesk/internal/models"
	"github.com/derWhity/cfpdesk/internal/repos"
	"github.com/derWhity/cfpdesk/internal/solver"
)

// Sense check alert codes
const (
	AlertNoTimeOrDuration  = "no_time_or_duration"
	AlertTimeWithoutVenue  = "time_without_venue"
	AlertVenueDisallows    = "venue_disallows_type"
	AlertStartsAfterEnd    = "starts_after_end"
	AlertTooLong           = "too_long"
	AlertBeforeEvent       = "before_event"
	AlertAfterEvent        = "after_event"
	AlertQuietTime         = "quiet_time"
	AlertUnparsableWindows = "unparsable_windows"
)

// PreparedSchedule is the input of a solver run
type PreparedSchedule struct {
	Records []solver.Record `json:"records"`
	// Scheduled proposals the run must work around
	Fixed []solver.Record `json:"fixed"`
}

// ScheduleChange is one proposal the scheduler moved
type ScheduleChange struct {
	ProposalID uint       `json:"proposalId"`
	Title      string     `json:"title"`
	OldVenueID *uint      `json:"oldVenueId,omitempty"`
	OldTime    *time.Time `json:"oldTime,omitempty"`
	VenueID    uint       `json:"venueId"`
	Time       time.Time  `json:"time"`
}

// ScheduleResult is the outcome of a scheduler run
type ScheduleResult struct {
	Changes []ScheduleChange `json:"changes"`
	// Proposals no slot was found for
	Unsolved []uint `json:"unsolved"`
	// False if the changes have been rolled back
	Persisted bool `json:"persisted"`
}

// SenseAlert is one anomaly found by the sense check
type SenseAlert struct {
	ProposalID uint   `json:"proposalId"`
	Title      string `json:"title"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	// Warnings point at things worth a look that are not necessarily wrong
	Warning bool `json:"warning"`
}

// ScheduleService places accepted proposals into venues and times
type ScheduleService interface {
	// SetRoughDurations gives every accepted proposal of a scheduled type a duration derived from its length hint
	SetRoughDurations(ctx context.Context) (int, error)
	// Prepare builds the solver input for the given proposal types
	Prepare(ctx context.Context, types []models.ProposalType, ignorePotential bool) (*PreparedSchedule, error)
	// Run solves the schedule and writes the result into the potential slots of the proposals
	Run(ctx context.Context, req *ScheduleRun) (*ScheduleResult, error)
	// ApplyPotential promotes the potential slots of the given type (all types if empty) to scheduled slots
	ApplyPotential(ctx context.Context, t models.ProposalType, email bool) (int, error)
	// SenseCheck reports anomalies of the current schedule without changing anything
	SenseCheck(ctx context.Context) ([]SenseAlert, error)
}

// -- ScheduleService implementation -----------------------------------------------------------------------------------

type scheduleService struct {
	store  repos.Store
	ns     NotificationService
	cs     ConfigService
	logger *logrus.Entry
}

// NewScheduleService creates a new schedule service instance
func NewScheduleService(
	store repos.Store,
	ns NotificationService,
	cs ConfigService,
	logger *logrus.Entry,
) ScheduleService {
	return &scheduleService{
		store:  store,
		ns:     ns,
		cs:     cs,
		logger: logger,
	}
}

var schedulableStates = []models.ProposalState{models.StateAccepted, models.StateFinalised}

// SetRoughDurations gives every accepted proposal of a scheduled type a duration derived from its length hint
func (s *scheduleService) SetRoughDurations(ctx context.Context) (int, error) {
	user, err := requirePermission(ctx, models.PermCFPSchedule)
	if err != nil {
		return 0, err
	}
	conf := s.cs.GetConfig(ctx)
	count := 0
	err = s.store.InTx(ctx, func(r repos.Repos) error {
		list, err := findAll(r, repos.ProposalFilter{States: schedulableStates, Types: models.ScheduledTypes})
		if err != nil {
			return err
		}
		for i := range list {
			p := &list[i]
			if p.ScheduledDuration != nil {
				continue
			}
			d, ok := conf.Schedule.RoughDuration(p.Type, p.Length)
			if !ok {
				s.logger.WithFields(logrus.Fields{log.FldProposal: p.ID, "length": p.Length}).
					Warn("No duration known for length")
				continue
			}
			before := *p
			p.ScheduledDuration = models.IntPtr(d)
			if err := saveProposal(r, &before, p, user.ID); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, errRepo("Failed to set rough durations", err)
	}
	s.logger.WithField("success", count).Info("Rough durations set")
	return count, nil
}

// Prepare builds the solver input for the given proposal types
func (s *scheduleService) Prepare(ctx context.Context, types []models.ProposalType,
	ignorePotential bool) (*PreparedSchedule, error) {
	if _, err := requirePermission(ctx, models.PermCFPSchedule); err != nil {
		return nil, err
	}
	return s.prepare(ctx, types, ignorePotential)
}

func (s *scheduleService) prepare(ctx context.Context, types []models.ProposalType,
	ignorePotential bool) (*PreparedSchedule, error) {
	if len(types) == 0 {
		types = models.ScheduledTypes
	}
	for _, t := range types {
		if !t.Valid() {
			return nil, errInvalidField("types", fmt.Sprintf("'%s' is no valid proposal type", t))
		}
	}
	conf := s.cs.GetConfig(ctx)
	loc := conf.Event.Location()
	event, err := conf.Event.Period()
	if err != nil {
		return nil, errInvalidField("event", "The event period is not configured correctly")
	}
	r := s.store.Repos()
	venues, err := r.Venues.List()
	if err != nil {
		return nil, errRepo("Error while reading venues", err)
	}
	all, err := findAll(r, repos.ProposalFilter{States: schedulableStates, ByFavourites: true})
	if err != nil {
		return nil, errRepo("Error while searching accepted proposals", err)
	}
	wanted := map[models.ProposalType]bool{}
	for _, t := range types {
		wanted[t] = true
	}

	ret := &PreparedSchedule{Records: []solver.Record{}, Fixed: []solver.Record{}}
	byType := map[models.ProposalType][]*models.Proposal{}
	for i := range all {
		p := &all[i]
		candidate := wanted[p.Type] && p.ScheduledDuration != nil && !p.UserScheduled && !p.ManuallyScheduled
		if !candidate {
			if p.ScheduledTime != nil && p.ScheduledVenueID != nil && p.ScheduledDuration != nil {
				ret.Fixed = append(ret.Fixed, solver.Record{
					ID:           p.ID,
					Duration:     time.Duration(*p.ScheduledDuration) * time.Minute,
					SpeakerIDs:   []uint{p.UserID},
					SpacingSlots: conf.Schedule.Spacing(p.Type),
					CurrentVenue: *p.ScheduledVenueID,
					CurrentTime:  p.ScheduledTime,
				})
			}
			continue
		}
		byType[p.Type] = append(byType[p.Type], p)
	}

	for _, t := range types {
		list := byType[t]
		defaults := defaultVenues(venues, t)
		preferred := preferredVenues(list, defaults)
		for _, p := range list {
			rec, err := s.record(p, conf.Schedule, defaults, loc, event)
			if err != nil {
				s.logger.WithError(err).WithField(log.FldProposal, p.ID).Warn("Proposal skipped")
				continue
			}
			rec.PreferredVenue = preferred[p.ID]
			if p.ScheduledTime != nil && p.ScheduledVenueID != nil {
				rec.CurrentVenue, rec.CurrentTime = *p.ScheduledVenueID, p.ScheduledTime
			} else if !ignorePotential && p.PotentialTime != nil && p.PotentialVenueID != nil {
				rec.CurrentVenue, rec.CurrentTime = *p.PotentialVenueID, p.PotentialTime
			}
			ret.Records = append(ret.Records, rec)
		}
	}
	return ret, nil
}

// defaultVenues returns the centrally scheduled venues defaulting to the type, largest first
func defaultVenues(venues []models.Venue, t models.ProposalType) []models.Venue {
	var ret []models.Venue
	for _, v := range venues {
		if v.IsDefaultFor(t) && !v.ScheduledContentOnly {
			ret = append(ret, v)
		}
	}
	sort.SliceStable(ret, func(i, j int) bool {
		return ret[i].CapacityOrZero() > ret[j].CapacityOrZero()
	})
	return ret
}

// preferredVenues zips the proposals, most favourited first, against the venues in equally sized buckets
func preferredVenues(proposals []*models.Proposal, venues []models.Venue) map[uint]uint {
	ret := make(map[uint]uint, len(proposals))
	if len(venues) == 0 || len(proposals) == 0 {
		return ret
	}
	bucket := (len(proposals) + len(venues) - 1) / len(venues)
	for i, p := range proposals {
		ret[p.ID] = venues[i/bucket].ID
	}
	return ret
}

// record builds the solver record of a candidate proposal
func (s *scheduleService) record(p *models.Proposal, conf models.ScheduleConfig, defaults []models.Venue,
	loc *time.Location, event models.TimePeriod) (solver.Record, error) {
	rec := solver.Record{
		ID:           p.ID,
		Duration:     time.Duration(*p.ScheduledDuration) * time.Minute,
		SpeakerIDs:   []uint{p.UserID},
		SpacingSlots: conf.Spacing(p.Type),
	}
	if len(p.AllowedVenueIDs) > 0 {
		rec.ValidVenues = append(rec.ValidVenues, p.AllowedVenueIDs...)
	} else {
		for _, v := range defaults {
			rec.ValidVenues = append(rec.ValidVenues, v.ID)
		}
	}
	windows := p.AllowedTimes
	if strings.TrimSpace(windows) == "" {
		windows = conf.DefaultPeriods[string(p.Type)]
	}
	ranges, err := models.ParsePeriods(windows, loc)
	if err != nil {
		return rec, err
	}
	rec.TimeRanges = ranges
	if p.Availability != "" {
		rec.PreferredRanges = models.AvailabilityPeriods(strings.Split(p.Availability, ","), event)
	}
	if p.Type == models.TypeTalk && len(ranges) > 0 && allOffPeak(ranges, conf) {
		rec.SpacingSlots = 0
	}
	return rec, nil
}

// allOffPeak checks if every window lies outside the day: it either ends by the early hour of the day it starts
// on or starts at or after the late hour
func allOffPeak(ranges []models.TimePeriod, conf models.ScheduleConfig) bool {
	for _, tr := range ranges {
		if tr.Start.Hour() >= conf.LateHour {
			continue
		}
		y, m, d := tr.Start.Date()
		early := time.Date(y, m, d, conf.EarlyHour, 0, 0, 0, tr.Start.Location())
		if tr.End.After(early) {
			return false
		}
	}
	return true
}

// Run solves the schedule and writes the result into the potential slots. The solver works without an open
// transaction; the results are written in one transaction afterwards which is rolled back unless persisting.
func (s *scheduleService) Run(ctx context.Context, req *ScheduleRun) (*ScheduleResult, error) {
	user, err := requirePermission(ctx, models.PermCFPSchedule)
	if err != nil {
		return nil, err
	}
	prepared, err := s.prepare(ctx, req.Types, req.IgnorePotential)
	if err != nil {
		return nil, err
	}
	conf := s.cs.GetConfig(ctx)
	slv := solver.New(solver.Config{
		Slot:         time.Duration(conf.Schedule.SlotMinutes) * time.Minute,
		RepairBudget: conf.Schedule.RepairBudget,
	}, s.logger)
	solved := slv.Solve(prepared.Records, prepared.Fixed)

	res := &ScheduleResult{Changes: []ScheduleChange{}, Unsolved: solved.Unsolved, Persisted: req.Persist}
	err = s.store.InTx(ctx, func(r repos.Repos) error {
		for _, a := range solved.Assignments {
			p, err := r.Proposals.GetByID(a.ID)
			if err != nil {
				return err
			}
			if !p.IsAccepted() || p.ManuallyScheduled || p.UserScheduled {
				s.logger.WithField(log.FldProposal, p.ID).Info("Proposal changed during the run, skipped")
				continue
			}
			if sameSlot(p.PotentialVenueID, p.PotentialTime, a) ||
				(p.PotentialTime == nil && sameSlot(p.ScheduledVenueID, p.ScheduledTime, a)) {
				continue
			}
			change := ScheduleChange{
				ProposalID: p.ID,
				Title:      p.DisplayTitle(),
				OldVenueID: p.ScheduledVenueID,
				OldTime:    p.ScheduledTime,
				VenueID:    a.Venue,
				Time:       a.Time,
			}
			before := *p
			p.PotentialVenueID = models.UintPtr(a.Venue)
			p.PotentialTime = models.TimePtr(a.Time)
			if err := saveProposal(r, &before, p, user.ID); err != nil {
				return err
			}
			res.Changes = append(res.Changes, change)
			s.logger.WithFields(logrus.Fields{
				log.FldProposal: p.ID,
				log.FldVenue:    a.Venue,
				"time":          a.Time,
			}).Debug("Potential slot changed")
		}
		if !req.Persist {
			return repos.ErrDryRun
		}
		return nil
	})
	if err != nil && err != repos.ErrDryRun {
		return nil, errRepo("Failed to write the schedule", err)
	}
	s.logger.WithFields(logrus.Fields{
		"changed":  len(res.Changes),
		"unsolved": len(res.Unsolved),
		"persist":  req.Persist,
	}).Info("Scheduler run finished")
	if len(prepared.Records) > 0 && len(solved.Assignments) == 0 {
		return res, MakeErrorWithData(http.StatusUnprocessableEntity, ErrCodeSchedulerInfeasible,
			"No proposal could be placed", res)
	}
	return res, nil
}

func sameSlot(venue *uint, t *time.Time, a solver.Assignment) bool {
	return venue != nil && t != nil && *venue == a.Venue && t.Equal(a.Time)
}

// ApplyPotential promotes the potential slots to scheduled slots and tells the authors about their new slots
func (s *scheduleService) ApplyPotential(ctx context.Context, t models.ProposalType, email bool) (int, error) {
	user, err := requirePermission(ctx, models.PermCFPSchedule)
	if err != nil {
		return 0, err
	}
	filter := repos.ProposalFilter{States: schedulableStates}
	if t != "" {
		if !t.Valid() {
			return 0, errInvalidField("type", fmt.Sprintf("'%s' is no valid proposal type", t))
		}
		filter.Types = []models.ProposalType{t}
	}
	r := s.store.Repos()
	list, err := findAll(r, filter)
	if err != nil {
		return 0, errRepo("Error while searching proposals", err)
	}
	venueNames, err := s.venueNames(r)
	if err != nil {
		return 0, err
	}
	loc := s.cs.GetConfig(ctx).Event.Location()
	applied, failed := 0, 0
	for i := range list {
		if list[i].PotentialTime == nil || list[i].PotentialVenueID == nil {
			continue
		}
		var before, p *models.Proposal
		err := s.store.InTx(ctx, func(r repos.Repos) error {
			var err error
			if p, err = r.Proposals.GetByID(list[i].ID); err != nil {
				return err
			}
			if p.PotentialTime == nil || p.PotentialVenueID == nil {
				return errInvalidField("potentialTime", "The potential slot has gone")
			}
			orig := *p
			before = &orig
			p.ScheduledVenueID = p.PotentialVenueID
			p.ScheduledTime = p.PotentialTime
			p.PotentialVenueID = nil
			p.PotentialTime = nil
			return saveProposal(r, before, p, user.ID)
		})
		if err != nil {
			failed++
			s.logger.WithError(err).WithField(log.FldProposal, list[i].ID).Warn("Cannot apply potential slot")
			continue
		}
		applied++
		data := mail.Data{
			Venue: venueNames[*p.ScheduledVenueID],
			Time:  models.TimePtr(p.ScheduledTime.In(loc)),
		}
		kind := models.MailScheduled
		text := fmt.Sprintf("\"%s\" (#%d) is scheduled for %s in %s", p.DisplayTitle(), p.ID,
			data.Time.Format("Mon 15:04"), data.Venue)
		if before.ScheduledTime != nil {
			kind = models.MailMoved
			data.OldTime = models.TimePtr(before.ScheduledTime.In(loc))
			if before.ScheduledVenueID != nil {
				data.OldVenue = venueNames[*before.ScheduledVenueID]
			}
			text = fmt.Sprintf("\"%s\" (#%d) moved from %s in %s to %s in %s", p.DisplayTitle(), p.ID,
				data.OldTime.Format("Mon 15:04"), data.OldVenue, data.Time.Format("Mon 15:04"), data.Venue)
		}
		s.ns.Announce(ctx, bus.TopicHeralds, text, p.ID)
		if !email {
			continue
		}
		if err := s.ns.Notify(ctx, kind, p.UserID, p, data); err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{log.FldProposal: p.ID, log.FldMail: kind}).
				Error("Cannot queue mail")
		}
	}
	s.logger.WithFields(logrus.Fields{"success": applied, "failed": failed, log.FldType: t}).
		Info("Potential schedule applied")
	return applied, nil
}

func (s *scheduleService) venueNames(r repos.Repos) (map[uint]string, error) {
	venues, err := r.Venues.List()
	if err != nil {
		return nil, errRepo("Error while reading venues", err)
	}
	ret := make(map[uint]string, len(venues))
	for _, v := range venues {
		ret[v.ID] = v.Name
	}
	return ret, nil
}

// SenseCheck reports anomalies of the current schedule without changing anything
func (s *scheduleService) SenseCheck(ctx context.Context) ([]SenseAlert, error) {
	if _, err := requirePermission(ctx, models.PermCFPSchedule); err != nil {
		return nil, err
	}
	conf := s.cs.GetConfig(ctx)
	loc := conf.Event.Location()
	event, err := conf.Event.Period()
	if err != nil {
		return nil, errInvalidField("event", "The event period is not configured correctly")
	}
	r := s.store.Repos()
	venues, err := r.Venues.List()
	if err != nil {
		return nil, errRepo("Error while reading venues", err)
	}
	byID := make(map[uint]*models.Venue, len(venues))
	for i := range venues {
		byID[venues[i].ID] = &venues[i]
	}
	list, err := findAll(r, repos.ProposalFilter{States: schedulableStates})
	if err != nil {
		return nil, errRepo("Error while searching accepted proposals", err)
	}
	alerts := []SenseAlert{}
	for i := range list {
		alerts = append(alerts, senseCheck(&list[i], conf.Schedule, byID, event, loc)...)
	}
	s.logger.WithField("alerts", len(alerts)).Info("Sense check finished")
	return alerts, nil
}

// senseCheck returns the alerts for one proposal
func senseCheck(p *models.Proposal, conf models.ScheduleConfig, venues map[uint]*models.Venue,
	event models.TimePeriod, loc *time.Location) []SenseAlert {
	var ret []SenseAlert
	add := func(code string, warning bool, format string, args ...interface{}) {
		ret = append(ret, SenseAlert{
			ProposalID: p.ID,
			Title:      p.DisplayTitle(),
			Code:       code,
			Message:    fmt.Sprintf(format, args...),
			Warning:    warning,
		})
	}
	scheduledType := false
	for _, t := range models.ScheduledTypes {
		scheduledType = scheduledType || t == p.Type
	}
	if scheduledType && !p.UserScheduled && (p.ScheduledTime == nil || p.ScheduledDuration == nil) {
		add(AlertNoTimeOrDuration, false, "Proposal has no scheduled time or no duration")
	}
	if p.ScheduledTime != nil && p.ScheduledVenueID == nil {
		add(AlertTimeWithoutVenue, false, "Scheduled time without a venue")
	}
	if p.PotentialTime != nil && p.PotentialVenueID == nil {
		add(AlertTimeWithoutVenue, false, "Potential time without a venue")
	}
	for _, id := range []*uint{p.ScheduledVenueID, p.PotentialVenueID} {
		if id == nil {
			continue
		}
		if v, ok := venues[*id]; ok && !v.Allows(p.Type) {
			add(AlertVenueDisallows, true, "Venue '%s' does not allow proposals of type '%s'", v.Name, p.Type)
		}
	}

	windows, err := models.ParsePeriods(p.AllowedTimes, loc)
	if err != nil {
		add(AlertUnparsableWindows, false, "Allowed times cannot be read: %v", err)
	}
	maxWindow := time.Duration(conf.MaxWindowHours) * time.Hour
	for _, w := range windows {
		switch {
		case !w.Start.Before(w.End):
			add(AlertStartsAfterEnd, false, "Window %s starts after it ends", w)
		case w.Duration() > maxWindow || coversQuietPeriod(w, conf, loc):
			add(AlertTooLong, false, "Window %s is too long", w)
		case overlapsQuietPeriod(w, conf, loc):
			add(AlertQuietTime, false, "Window %s overlaps the quiet period", w)
		}
	}

	duration := time.Duration(0)
	if p.ScheduledDuration != nil {
		duration = time.Duration(*p.ScheduledDuration) * time.Minute
	}
	for _, slot := range []struct {
		name string
		t    *time.Time
	}{{"Scheduled", p.ScheduledTime}, {"Potential", p.PotentialTime}} {
		if slot.t == nil {
			continue
		}
		span := models.TimePeriod{Start: slot.t.In(loc), End: slot.t.In(loc).Add(duration)}
		at := span.Start.Format(models.PeriodLayout)
		switch {
		case span.Start.Before(event.Start):
			add(AlertBeforeEvent, false, "%s time %s is before the event starts", slot.name, at)
		case span.End.After(event.End):
			add(AlertAfterEvent, false, "%s time %s is after the event ends", slot.name, at)
		case overlapsQuietPeriod(span, conf, loc):
			add(AlertQuietTime, false, "%s time %s falls into the quiet period", slot.name, at)
		}
	}
	return ret
}

// quietPeriods returns the nightly quiet periods touching the given period
func quietPeriods(p models.TimePeriod, conf models.ScheduleConfig, loc *time.Location) []models.TimePeriod {
	var ret []models.TimePeriod
	y, m, d := p.Start.In(loc).Date()
	for day := time.Date(y, m, d-1, 0, 0, 0, 0, loc); !day.After(p.End); day = day.AddDate(0, 0, 1) {
		start := time.Date(day.Year(), day.Month(), day.Day(), conf.QuietStartHour, 0, 0, 0, loc)
		end := time.Date(day.Year(), day.Month(), day.Day(), conf.QuietEndHour, 0, 0, 0, loc)
		if !end.After(start) {
			end = end.AddDate(0, 0, 1)
		}
		ret = append(ret, models.TimePeriod{Start: start, End: end})
	}
	return ret
}

func overlapsQuietPeriod(p models.TimePeriod, conf models.ScheduleConfig, loc *time.Location) bool {
	for _, q := range quietPeriods(p, conf, loc) {
		if p.Overlaps(q) {
			return true
		}
	}
	return false
}

func coversQuietPeriod(p models.TimePeriod, conf models.ScheduleConfig, loc *time.Location) bool {
	for _, q := range quietPeriods(p, conf, loc) {
		if p.Contains(q.Start, q.Duration()) {
			return true
		}
	}
	return false
}
