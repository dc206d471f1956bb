// Package solver assigns venues and start times to schedule records.
//
// Placement is greedy, most constrained record first, warm-started from the records' current assignments. When a
// record cannot be placed, a bounded bump-and-retry repair evicts movable records that block one of its options
// and requeues them. Records that still cannot be placed are reported as unsolved.
package solver

import (
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/derWhity/cfpdesk/internal/log"
	"github.com/derWhity/cfpdesk/internal/models"
)

// Soft constraint weights
const (
	weightPreferredVenue = 10
	weightPreferredTime  = 5
	weightKeepCurrent    = 3
)

// maxBumpConflicts is the most records one repair step may evict
const maxBumpConflicts = 2

// Record is the scheduler's view of one proposal
type Record struct {
	ID       uint
	Duration time.Duration
	// Speakers may not be in two places at once
	SpeakerIDs  []uint
	ValidVenues []uint
	// Zero means no preference
	PreferredVenue  uint
	TimeRanges      []models.TimePeriod
	PreferredRanges []models.TimePeriod
	// Minimum number of empty slots between this and any other record in the same venue
	SpacingSlots int
	// Current assignment, used for warm starting. Both or neither are set.
	CurrentVenue uint
	CurrentTime  *time.Time
}

// Assignment is the solution for one record
type Assignment struct {
	ID    uint      `json:"id"`
	Venue uint      `json:"venue"`
	Time  time.Time `json:"time"`
}

// Config tunes the solver
type Config struct {
	Slot time.Duration
	// Upper bound of repair steps for the whole run
	RepairBudget int
}

// Result is the outcome of a solver run
type Result struct {
	Assignments []Assignment
	// Records no valid placement was found for
	Unsolved []uint
}

type placement struct {
	rec   *Record
	venue uint
	start time.Time
	fixed bool
}

func (p *placement) end() time.Time {
	return p.start.Add(p.rec.Duration)
}

type option struct {
	venue uint
	start time.Time
	score int
}

// Solver holds the state of one run
type Solver struct {
	cfg    Config
	logger *logrus.Entry
	placed map[uint]*placement
	byVen  map[uint][]*placement
}

// New creates a solver with the given configuration
func New(cfg Config, logger *logrus.Entry) *Solver {
	if cfg.Slot <= 0 {
		cfg.Slot = 10 * time.Minute
	}
	return &Solver{cfg: cfg, logger: logger}
}

// Solve places the records. Fixed records keep their current assignment and only block time; they are not part of
// the result.
func (s *Solver) Solve(records []Record, fixed []Record) Result {
	s.placed = map[uint]*placement{}
	s.byVen = map[uint][]*placement{}
	for i := range fixed {
		f := &fixed[i]
		if f.CurrentTime == nil || f.CurrentVenue == 0 {
			continue
		}
		s.add(&placement{rec: f, venue: f.CurrentVenue, start: *f.CurrentTime, fixed: true})
	}

	recs := make([]*Record, len(records))
	for i := range records {
		recs[i] = &records[i]
	}
	// Keep valid current assignments first
	for _, r := range recs {
		if r.CurrentTime == nil || r.CurrentVenue == 0 {
			continue
		}
		if s.valid(r, r.CurrentVenue, *r.CurrentTime) && len(s.conflicts(r, r.CurrentVenue, *r.CurrentTime)) == 0 {
			s.add(&placement{rec: r, venue: r.CurrentVenue, start: *r.CurrentTime})
		}
	}

	// Most constrained first: fewest options, then longest, then by ID
	numOptions := make(map[uint]int, len(recs))
	for _, r := range recs {
		numOptions[r.ID] = len(s.options(r))
	}
	queue := make([]*Record, 0, len(recs))
	for _, r := range recs {
		if _, ok := s.placed[r.ID]; !ok {
			queue = append(queue, r)
		}
	}
	sort.SliceStable(queue, func(i, j int) bool {
		a, b := queue[i], queue[j]
		if numOptions[a.ID] != numOptions[b.ID] {
			return numOptions[a.ID] < numOptions[b.ID]
		}
		if a.Duration != b.Duration {
			return a.Duration > b.Duration
		}
		return a.ID < b.ID
	})

	budget := s.cfg.RepairBudget
	for len(queue) > 0 {
		r := queue[0]
		queue = queue[1:]
		if opt, ok := s.best(r); ok {
			s.add(&placement{rec: r, venue: opt.venue, start: opt.start})
			continue
		}
		if budget <= 0 {
			continue
		}
		budget--
		bumped, ok := s.repair(r)
		if !ok {
			s.logger.WithField(log.FldProposal, r.ID).Debug("No placement found")
			continue
		}
		queue = append(queue, bumped...)
	}

	res := Result{Assignments: []Assignment{}, Unsolved: []uint{}}
	for _, r := range recs {
		if p, ok := s.placed[r.ID]; ok {
			res.Assignments = append(res.Assignments, Assignment{ID: r.ID, Venue: p.venue, Time: p.start})
		} else {
			res.Unsolved = append(res.Unsolved, r.ID)
		}
	}
	s.logger.WithFields(logrus.Fields{
		"assigned": len(res.Assignments),
		"unsolved": len(res.Unsolved),
		"repairs":  s.cfg.RepairBudget - budget,
	}).Info("Solver finished")
	return res
}

func (s *Solver) add(p *placement) {
	s.placed[p.rec.ID] = p
	s.byVen[p.venue] = append(s.byVen[p.venue], p)
}

func (s *Solver) remove(id uint) {
	p, ok := s.placed[id]
	if !ok {
		return
	}
	delete(s.placed, id)
	list := s.byVen[p.venue]
	for i, other := range list {
		if other == p {
			s.byVen[p.venue] = append(list[:i], list[i+1:]...)
			break
		}
	}
}

// valid checks the hard constraints that do not depend on other records
func (s *Solver) valid(r *Record, venue uint, start time.Time) bool {
	venueOK := false
	for _, v := range r.ValidVenues {
		if v == venue {
			venueOK = true
			break
		}
	}
	if !venueOK {
		return false
	}
	for _, tr := range r.TimeRanges {
		if tr.Contains(start, r.Duration) {
			return true
		}
	}
	return false
}

// Separated checks that two records in the same venue start far enough apart: the distance between their starts
// must be at least the longer duration plus the larger spacing
func Separated(aStart time.Time, aDur time.Duration, aSpacing int, bStart time.Time, bDur time.Duration, bSpacing int,
	slot time.Duration) bool {
	dist := aStart.Sub(bStart)
	if dist < 0 {
		dist = -dist
	}
	longer := aDur
	if bDur > longer {
		longer = bDur
	}
	spacing := aSpacing
	if bSpacing > spacing {
		spacing = bSpacing
	}
	return dist >= longer+time.Duration(spacing)*slot
}

// conflicts returns the placed records that prevent placing r at (venue, start)
func (s *Solver) conflicts(r *Record, venue uint, start time.Time) []*placement {
	var ret []*placement
	for _, p := range s.byVen[venue] {
		if p.rec.ID == r.ID {
			continue
		}
		if !Separated(start, r.Duration, r.SpacingSlots, p.start, p.rec.Duration, p.rec.SpacingSlots, s.cfg.Slot) {
			ret = append(ret, p)
		}
	}
	if len(r.SpeakerIDs) == 0 {
		return ret
	}
	end := start.Add(r.Duration)
	for _, p := range s.placed {
		if p.rec.ID == r.ID || p.venue == venue || !sharesSpeaker(r, p.rec) {
			continue
		}
		if start.Before(p.end()) && p.start.Before(end) {
			ret = append(ret, p)
		}
	}
	return ret
}

func sharesSpeaker(a, b *Record) bool {
	for _, x := range a.SpeakerIDs {
		for _, y := range b.SpeakerIDs {
			if x == y {
				return true
			}
		}
	}
	return false
}

// options enumerates every slot aligned start in every valid venue, ignoring other records
func (s *Solver) options(r *Record) []option {
	var ret []option
	for _, venue := range r.ValidVenues {
		for _, tr := range r.TimeRanges {
			for start := tr.Start; !start.Add(r.Duration).After(tr.End); start = start.Add(s.cfg.Slot) {
				ret = append(ret, option{venue: venue, start: start, score: s.score(r, venue, start)})
			}
		}
	}
	return ret
}

func (s *Solver) score(r *Record, venue uint, start time.Time) int {
	score := 0
	if r.PreferredVenue != 0 && venue == r.PreferredVenue {
		score += weightPreferredVenue
	}
	for _, pr := range r.PreferredRanges {
		if pr.Contains(start, r.Duration) {
			score += weightPreferredTime
			break
		}
	}
	if r.CurrentTime != nil && venue == r.CurrentVenue && start.Equal(*r.CurrentTime) {
		score += weightKeepCurrent
	}
	return score
}

// better orders options by score, then earliest start, then venue
func better(a, b option) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	if !a.start.Equal(b.start) {
		return a.start.Before(b.start)
	}
	return a.venue < b.venue
}

func (s *Solver) best(r *Record) (option, bool) {
	var ret option
	found := false
	for _, o := range s.options(r) {
		if len(s.conflicts(r, o.venue, o.start)) > 0 {
			continue
		}
		if !found || better(o, ret) {
			ret, found = o, true
		}
	}
	return ret, found
}

// repair places r on the option blocked by the fewest movable records, evicting them. The evicted records are
// returned for requeueing.
func (s *Solver) repair(r *Record) ([]*Record, bool) {
	var (
		chosen   option
		evict    []*placement
		found    bool
		minCount int
	)
	for _, o := range s.options(r) {
		blockers := s.conflicts(r, o.venue, o.start)
		if len(blockers) == 0 || len(blockers) > maxBumpConflicts {
			continue
		}
		movable := true
		for _, b := range blockers {
			movable = movable && !b.fixed
		}
		if !movable {
			continue
		}
		if !found || len(blockers) < minCount || (len(blockers) == minCount && better(o, chosen)) {
			chosen, evict, minCount, found = o, blockers, len(blockers), true
		}
	}
	if !found {
		return nil, false
	}
	bumped := make([]*Record, 0, len(evict))
	for _, b := range evict {
		s.remove(b.rec.ID)
		bumped = append(bumped, b.rec)
	}
	s.add(&placement{rec: r, venue: chosen.venue, start: chosen.start})
	return bumped, true
}

// Verify checks assignments against the hard constraints and returns the IDs of violating records
func Verify(records []Record, assignments []Assignment, slot time.Duration) []uint {
	byID := make(map[uint]*Record, len(records))
	for i := range records {
		byID[records[i].ID] = &records[i]
	}
	s := New(Config{Slot: slot}, logrus.NewEntry(logrus.StandardLogger()))
	s.placed = map[uint]*placement{}
	s.byVen = map[uint][]*placement{}
	var bad []uint
	for _, a := range assignments {
		r, ok := byID[a.ID]
		if !ok || !s.valid(r, a.Venue, a.Time) || len(s.conflicts(r, a.Venue, a.Time)) > 0 {
			bad = append(bad, a.ID)
			continue
		}
		s.add(&placement{rec: r, venue: a.Venue, start: a.Time})
	}
	return bad
}
