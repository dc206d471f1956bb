package internal

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/derWhity/cfpdesk/internal/bus"
	"github.com/derWhity/cfpdesk/internal/models"
	"github.com/derWhity/cfpdesk/internal/solver"
)

func createStage(t *testing.T, env *testEnv, admin *models.User, name string) *models.Venue {
	v, err := env.Venues.Create(env.as(admin), &models.Venue{
		Name:            name,
		Capacity:        models.IntPtr(200),
		AllowedTypes:    []models.ProposalType{models.TypeTalk, models.TypePerformance},
		DefaultForTypes: []models.ProposalType{models.TypeTalk},
	})
	require.NoError(t, err)
	return v
}

func acceptedTalk(title string, minutes int, windows string) models.Proposal {
	return models.Proposal{
		Type:              models.TypeTalk,
		State:             models.StateAccepted,
		Title:             title,
		ScheduledDuration: models.IntPtr(minutes),
		AllowedTimes:      windows,
	}
}

func TestScheduleRunAndApply(t *testing.T) {
	env := newTestEnv(t)
	admin := env.user(t, "admin", models.PermCFPAdmin)
	stage := createStage(t, env, admin, "Stage A")
	const morning = "2024-05-31 10:00 > 2024-05-31 12:00"
	first := env.proposal(t, env.user(t, "s1"), acceptedTalk("Rockets", 30, morning))
	second := env.proposal(t, env.user(t, "s2"), acceptedTalk("Bees", 30, morning))

	dry, err := env.Schedule.Run(env.as(admin), &ScheduleRun{Types: []models.ProposalType{models.TypeTalk}})
	require.NoError(t, err)
	assert.Len(t, dry.Changes, 2)
	assert.False(t, dry.Persisted)
	assert.Nil(t, env.get(t, first.ID).PotentialTime)

	res, err := env.Schedule.Run(env.as(admin), &ScheduleRun{
		Types:   []models.ProposalType{models.TypeTalk},
		Persist: true,
	})
	require.NoError(t, err)
	require.Len(t, res.Changes, 2)
	assert.Empty(t, res.Unsolved)

	loc := defaultConfig(t).Event.Location()
	windowStart := time.Date(2024, 5, 31, 10, 0, 0, 0, loc)
	windowEnd := time.Date(2024, 5, 31, 12, 0, 0, 0, loc)
	var starts []time.Time
	for _, id := range []uint{first.ID, second.ID} {
		p := env.get(t, id)
		require.NotNil(t, p.PotentialTime)
		require.NotNil(t, p.PotentialVenueID)
		assert.Equal(t, stage.ID, *p.PotentialVenueID)
		assert.Nil(t, p.ScheduledTime)
		assert.False(t, p.PotentialTime.Before(windowStart))
		assert.False(t, p.PotentialTime.Add(30*time.Minute).After(windowEnd))
		starts = append(starts, *p.PotentialTime)
	}
	gap := starts[0].Sub(starts[1])
	if gap < 0 {
		gap = -gap
	}
	assert.True(t, gap >= 40*time.Minute, "talks %v apart", gap)

	// A second run has nothing left to change
	again, err := env.Schedule.Run(env.as(admin), &ScheduleRun{Types: []models.ProposalType{models.TypeTalk}})
	require.NoError(t, err)
	assert.Empty(t, again.Changes)

	n, err := env.Schedule.ApplyPotential(env.as(admin), models.TypeTalk, true)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	for _, id := range []uint{first.ID, second.ID} {
		p := env.get(t, id)
		assert.NotNil(t, p.ScheduledTime)
		assert.Nil(t, p.PotentialTime)
		assert.Equal(t, []string{models.MailScheduled}, env.outboxKinds(t, admin, id))
	}
	assert.Len(t, env.bus.Messages(bus.TopicHeralds), 2)

	alerts, err := env.Schedule.SenseCheck(env.as(admin))
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestScheduleRunWithoutSlotIsInfeasible(t *testing.T) {
	env := newTestEnv(t)
	admin := env.user(t, "admin", models.PermCFPAdmin)
	createStage(t, env, admin, "Stage A")
	env.proposal(t, env.user(t, "s1"), acceptedTalk("Too long", 180, "2024-05-31 10:00 > 2024-05-31 11:00"))

	_, err := env.Schedule.Run(env.as(admin), &ScheduleRun{Types: []models.ProposalType{models.TypeTalk}})
	assertErrorCode(t, ErrCodeSchedulerInfeasible, err)
}

func TestSetRoughDurations(t *testing.T) {
	env := newTestEnv(t)
	admin := env.user(t, "admin", models.PermCFPAdmin)
	author := env.user(t, "author")
	short := env.proposal(t, author, models.Proposal{
		Type: models.TypeTalk, State: models.StateAccepted, Title: "Short", Length: "10-25 mins",
	})
	unknown := env.proposal(t, author, models.Proposal{
		Type: models.TypeTalk, State: models.StateAccepted, Title: "Unknown", Length: "forever",
	})
	fixed := env.proposal(t, author, acceptedTalk("Fixed", 90, ""))

	n, err := env.Schedule.SetRoughDurations(env.as(admin))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 25, *env.get(t, short.ID).ScheduledDuration)
	assert.Equal(t, 30, *env.get(t, unknown.ID).ScheduledDuration)
	assert.Equal(t, 90, *env.get(t, fixed.ID).ScheduledDuration)
}

func TestSenseCheckFlagsLongWindows(t *testing.T) {
	env := newTestEnv(t)
	admin := env.user(t, "admin", models.PermCFPAdmin)
	p := env.proposal(t, env.user(t, "s1"), acceptedTalk("All day", 30, "2024-05-31 08:00 > 2024-06-01 08:00"))

	alerts, err := env.Schedule.SenseCheck(env.as(admin))
	require.NoError(t, err)
	codes := map[string]bool{}
	for _, a := range alerts {
		assert.Equal(t, p.ID, a.ProposalID)
		codes[a.Code] = true
	}
	assert.True(t, codes[AlertTooLong])
	assert.True(t, codes[AlertNoTimeOrDuration])
}

func TestSenseCheckAlerts(t *testing.T) {
	conf := models.DefaultScheduleConfig()
	loc := defaultConfig(t).Event.Location()
	event := models.TimePeriod{
		Start: time.Date(2024, 5, 29, 12, 0, 0, 0, loc),
		End:   time.Date(2024, 6, 3, 2, 0, 0, 0, loc),
	}
	venue := &models.Venue{ID: 1, Name: "Workshop tent", AllowedTypes: []models.ProposalType{models.TypeWorkshop}}
	venues := map[uint]*models.Venue{1: venue}
	codes := func(p *models.Proposal) []string {
		ret := []string{}
		for _, a := range senseCheck(p, conf, venues, event, loc) {
			ret = append(ret, a.Code)
		}
		return ret
	}

	late := time.Date(2024, 6, 1, 3, 0, 0, 0, loc)
	p := &models.Proposal{
		Type:              models.TypeTalk,
		ScheduledVenueID:  models.UintPtr(1),
		ScheduledTime:     &late,
		ScheduledDuration: models.IntPtr(30),
	}
	assert.ElementsMatch(t, []string{AlertVenueDisallows, AlertQuietTime}, codes(p))

	early := time.Date(2024, 5, 28, 12, 0, 0, 0, loc)
	p = &models.Proposal{
		Type:              models.TypeWorkshop,
		ScheduledVenueID:  models.UintPtr(1),
		ScheduledTime:     &early,
		ScheduledDuration: models.IntPtr(60),
		AllowedTimes:      "2024-05-31 12:00 > 2024-05-31 10:00\n2024-05-31 22:00 > 2024-06-01 04:00",
	}
	assert.ElementsMatch(t, []string{AlertStartsAfterEnd, AlertQuietTime, AlertBeforeEvent}, codes(p))

	p = &models.Proposal{Type: models.TypeInstallation, AllowedTimes: "whenever"}
	assert.Equal(t, []string{AlertUnparsableWindows}, codes(p))
}

func recordsByID(records []solver.Record) map[uint]solver.Record {
	ret := make(map[uint]solver.Record, len(records))
	for _, r := range records {
		ret[r.ID] = r
	}
	return ret
}

func TestPrepareBucketsVenuesByFavourites(t *testing.T) {
	env := newTestEnv(t)
	admin := env.user(t, "admin", models.PermCFPAdmin)
	big := createStage(t, env, admin, "Big Stage")
	small, err := env.Venues.Create(env.as(admin), &models.Venue{
		Name:            "Small Stage",
		Capacity:        models.IntPtr(50),
		AllowedTypes:    []models.ProposalType{models.TypeTalk},
		DefaultForTypes: []models.ProposalType{models.TypeTalk},
	})
	require.NoError(t, err)

	const day = "2024-05-31 10:00 > 2024-05-31 18:00"
	var talks []*models.Proposal
	for _, title := range []string{"One", "Two", "Three", "Four", "Five"} {
		talks = append(talks, env.proposal(t, env.user(t, "speaker-"+title), acceptedTalk(title, 30, day)))
	}
	favourites := map[int]int{2: 3, 4: 2, 0: 1}
	for idx, n := range favourites {
		for i := 0; i < n; i++ {
			fan := env.user(t, fmt.Sprintf("fan-%d-%d", idx, i))
			require.NoError(t, env.Proposals.AddFavourite(env.as(fan), talks[idx].ID))
		}
	}
	slot := time.Date(2024, 5, 31, 14, 0, 0, 0, defaultConfig(t).Event.Location())
	pinned := acceptedTalk("Pinned by the speaker", 30, day)
	pinned.UserScheduled = true
	pinned.ScheduledVenueID = models.UintPtr(small.ID)
	pinned.ScheduledTime = models.TimePtr(slot)
	userPinned := env.proposal(t, env.user(t, "pinner"), pinned)
	manual := acceptedTalk("Placed by hand", 30, day)
	manual.ManuallyScheduled = true
	manual.ScheduledVenueID = models.UintPtr(big.ID)
	manual.ScheduledTime = models.TimePtr(slot)
	handPlaced := env.proposal(t, env.user(t, "placer"), manual)

	_, err = env.Schedule.Prepare(env.as(env.user(t, "nosy")), nil, false)
	assertErrorCode(t, ErrCodeForbidden, err)

	prepared, err := env.Schedule.Prepare(env.as(admin), []models.ProposalType{models.TypeTalk}, false)
	require.NoError(t, err)
	records := recordsByID(prepared.Records)
	require.Len(t, records, 5)
	// Three (3 favourites), Five (2) and One (1) fill the first bucket of three
	for idx, want := range []uint{big.ID, small.ID, big.ID, small.ID, big.ID} {
		rec := records[talks[idx].ID]
		assert.Equal(t, want, rec.PreferredVenue, "talk %s", talks[idx].Title)
		assert.Equal(t, []uint{big.ID, small.ID}, rec.ValidVenues)
		assert.Equal(t, 1, rec.SpacingSlots)
	}

	fixed := recordsByID(prepared.Fixed)
	require.Len(t, fixed, 2)
	assert.Equal(t, small.ID, fixed[userPinned.ID].CurrentVenue)
	assert.Equal(t, big.ID, fixed[handPlaced.ID].CurrentVenue)
	require.NotNil(t, fixed[handPlaced.ID].CurrentTime)
	assert.True(t, slot.Equal(*fixed[handPlaced.ID].CurrentTime))
}

func TestPrepareSpacingForOffPeakTalks(t *testing.T) {
	env := newTestEnv(t)
	admin := env.user(t, "admin", models.PermCFPAdmin)
	createStage(t, env, admin, "Stage A")

	tests := []struct {
		name    string
		windows string
		spacing int
	}{
		{"daytime", "2024-05-31 10:00 > 2024-05-31 12:00", 1},
		{"starts early but runs through the day", "2024-05-31 08:00 > 2024-05-31 18:00", 1},
		{"ends with the early hour", "2024-05-31 07:00 > 2024-05-31 09:00", 0},
		{"late evening", "2024-05-31 20:00 > 2024-06-01 01:00", 0},
		{"starts just before the late hour", "2024-05-31 19:50 > 2024-05-31 22:00", 1},
		{"early and evening", "2024-05-31 07:00 > 2024-05-31 09:00\n2024-05-31 19:00 > 2024-05-31 21:00", 1},
		{"early and late", "2024-05-31 06:00 > 2024-05-31 08:30\n2024-06-01 21:00 > 2024-06-01 23:00", 0},
	}
	ids := map[string]uint{}
	for i, tc := range tests {
		p := env.proposal(t, env.user(t, fmt.Sprintf("speaker-%d", i)), acceptedTalk(tc.name, 20, tc.windows))
		ids[tc.name] = p.ID
	}

	prepared, err := env.Schedule.Prepare(env.as(admin), []models.ProposalType{models.TypeTalk}, false)
	require.NoError(t, err)
	records := recordsByID(prepared.Records)
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec, ok := records[ids[tc.name]]
			require.True(t, ok)
			assert.Equal(t, tc.spacing, rec.SpacingSlots)
		})
	}
}

func TestPrepareWarmStartAndDefaults(t *testing.T) {
	env := newTestEnv(t)
	admin := env.user(t, "admin", models.PermCFPAdmin)
	stageA := createStage(t, env, admin, "Stage A")
	stageB := createStage(t, env, admin, "Stage B")
	loc := defaultConfig(t).Event.Location()
	scheduledAt := time.Date(2024, 5, 31, 11, 0, 0, 0, loc)
	potentialAt := time.Date(2024, 6, 1, 15, 0, 0, 0, loc)

	sched := acceptedTalk("Already scheduled", 30, "")
	sched.ScheduledVenueID = models.UintPtr(stageB.ID)
	sched.ScheduledTime = models.TimePtr(scheduledAt)
	scheduled := env.proposal(t, env.user(t, "s1"), sched)

	pot := acceptedTalk("Potential only", 30, "")
	pot.PotentialVenueID = models.UintPtr(stageA.ID)
	pot.PotentialTime = models.TimePtr(potentialAt)
	pot.AllowedVenueIDs = []uint{stageA.ID}
	potential := env.proposal(t, env.user(t, "s2"), pot)

	env.proposal(t, env.user(t, "s3"), models.Proposal{
		Type: models.TypeWorkshop, State: models.StateAccepted, Title: "Unscheduled workshop",
		ScheduledDuration: models.IntPtr(60),
	})
	noDuration := acceptedTalk("No duration yet", 30, "")
	noDuration.ScheduledDuration = nil
	env.proposal(t, env.user(t, "s4"), noDuration)

	prepared, err := env.Schedule.Prepare(env.as(admin), []models.ProposalType{models.TypeTalk}, false)
	require.NoError(t, err)
	assert.Empty(t, prepared.Fixed)
	records := recordsByID(prepared.Records)
	require.Len(t, records, 2)

	rec := records[scheduled.ID]
	assert.Equal(t, stageB.ID, rec.CurrentVenue)
	require.NotNil(t, rec.CurrentTime)
	assert.True(t, scheduledAt.Equal(*rec.CurrentTime))
	// No windows of its own: the default periods of talks apply
	assert.Len(t, rec.TimeRanges, 3)

	rec = records[potential.ID]
	assert.Equal(t, []uint{stageA.ID}, rec.ValidVenues)
	assert.Equal(t, stageA.ID, rec.CurrentVenue)
	require.NotNil(t, rec.CurrentTime)
	assert.True(t, potentialAt.Equal(*rec.CurrentTime))

	prepared, err = env.Schedule.Prepare(env.as(admin), []models.ProposalType{models.TypeTalk}, true)
	require.NoError(t, err)
	records = recordsByID(prepared.Records)
	assert.Nil(t, records[potential.ID].CurrentTime)
	assert.Equal(t, stageB.ID, records[scheduled.ID].CurrentVenue)

	_, err = env.Schedule.Prepare(env.as(admin), []models.ProposalType{"circus"}, false)
	assertErrorCode(t, ErrCodeInvalidField, err)
}
