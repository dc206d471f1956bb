package solver

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/derWhity/cfpdesk/internal/models"
)

var testLogger = logrus.NewEntry(logrus.New())

func at(hour, min int) time.Time {
	return time.Date(2024, 6, 1, hour, min, 0, 0, time.UTC)
}

func window(fromH, fromM, toH, toM int) []models.TimePeriod {
	return []models.TimePeriod{{Start: at(fromH, fromM), End: at(toH, toM)}}
}

func talk(id uint, minutes int, ranges []models.TimePeriod) Record {
	return Record{
		ID:           id,
		Duration:     time.Duration(minutes) * time.Minute,
		ValidVenues:  []uint{1},
		TimeRanges:   ranges,
		SpacingSlots: 1,
	}
}

func assertValid(t *testing.T, records []Record, res Result) {
	t.Helper()
	assert.Empty(t, Verify(records, res.Assignments, 10*time.Minute))
	byID := map[uint]Record{}
	for _, r := range records {
		byID[r.ID] = r
	}
	for i, a := range res.Assignments {
		for _, b := range res.Assignments[i+1:] {
			if a.Venue != b.Venue {
				continue
			}
			ra, rb := byID[a.ID], byID[b.ID]
			dist := a.Time.Sub(b.Time)
			if dist < 0 {
				dist = -dist
			}
			longer := ra.Duration
			if rb.Duration > longer {
				longer = rb.Duration
			}
			spacing := ra.SpacingSlots
			if rb.SpacingSlots > spacing {
				spacing = rb.SpacingSlots
			}
			assert.True(t, dist >= longer+time.Duration(spacing)*10*time.Minute, "%d and %d too close", a.ID, b.ID)
		}
	}
}

func TestThreeTalksInOneMorning(t *testing.T) {
	records := []Record{
		talk(1, 60, window(9, 0, 12, 0)),
		talk(2, 45, window(9, 0, 12, 0)),
		talk(3, 30, window(9, 0, 12, 0)),
	}
	res := New(Config{Slot: 10 * time.Minute, RepairBudget: 100}, testLogger).Solve(records, nil)
	require.Len(t, res.Assignments, 3)
	assert.Empty(t, res.Unsolved)
	assertValid(t, records, res)
	for _, a := range res.Assignments {
		r := records[a.ID-1]
		assert.False(t, a.Time.Before(at(9, 0)))
		assert.False(t, a.Time.Add(r.Duration).After(at(12, 0)))
	}
}

func TestInfeasibleRecordIsReportedUnsolved(t *testing.T) {
	records := []Record{
		talk(1, 60, window(9, 0, 10, 0)),
		talk(2, 60, window(9, 0, 10, 0)),
	}
	res := New(Config{Slot: 10 * time.Minute, RepairBudget: 10}, testLogger).Solve(records, nil)
	assert.Len(t, res.Assignments, 1)
	assert.Len(t, res.Unsolved, 1)
	assertValid(t, records, res)
}

func TestFixedRecordsBlockTime(t *testing.T) {
	fixed := []Record{{
		ID:           99,
		Duration:     time.Hour,
		ValidVenues:  []uint{1},
		CurrentVenue: 1,
		CurrentTime:  models.TimePtr(at(9, 0)),
	}}
	records := []Record{talk(1, 30, window(9, 0, 11, 0))}
	res := New(Config{Slot: 10 * time.Minute, RepairBudget: 10}, testLogger).Solve(records, fixed)
	require.Len(t, res.Assignments, 1)
	assert.Equal(t, at(10, 10), res.Assignments[0].Time)
}

func TestSpeakerNotInTwoPlaces(t *testing.T) {
	a := talk(1, 60, window(9, 0, 10, 0))
	a.SpeakerIDs = []uint{7}
	b := talk(2, 60, window(9, 0, 11, 0))
	b.SpeakerIDs = []uint{7}
	b.ValidVenues = []uint{2}
	records := []Record{a, b}
	res := New(Config{Slot: 10 * time.Minute, RepairBudget: 10}, testLogger).Solve(records, nil)
	require.Len(t, res.Assignments, 2)
	times := map[uint]time.Time{}
	for _, as := range res.Assignments {
		times[as.ID] = as.Time
	}
	assert.Equal(t, at(9, 0), times[1])
	assert.Equal(t, at(10, 0), times[2])
}

func TestPreferredVenueWins(t *testing.T) {
	r := talk(1, 30, window(9, 0, 12, 0))
	r.ValidVenues = []uint{1, 2}
	r.PreferredVenue = 2
	res := New(Config{Slot: 10 * time.Minute}, testLogger).Solve([]Record{r}, nil)
	require.Len(t, res.Assignments, 1)
	assert.Equal(t, uint(2), res.Assignments[0].Venue)
	assert.Equal(t, at(9, 0), res.Assignments[0].Time)
}

func TestPreferredWindowWins(t *testing.T) {
	r := talk(1, 30, window(9, 0, 18, 0))
	r.PreferredRanges = window(14, 0, 16, 0)
	res := New(Config{Slot: 10 * time.Minute}, testLogger).Solve([]Record{r}, nil)
	require.Len(t, res.Assignments, 1)
	assert.Equal(t, at(14, 0), res.Assignments[0].Time)
}

func TestWarmStartKeepsValidAssignment(t *testing.T) {
	r := talk(1, 30, window(9, 0, 12, 0))
	r.CurrentVenue = 1
	r.CurrentTime = models.TimePtr(at(11, 0))
	res := New(Config{Slot: 10 * time.Minute}, testLogger).Solve([]Record{r}, nil)
	require.Len(t, res.Assignments, 1)
	assert.Equal(t, at(11, 0), res.Assignments[0].Time)
}

func TestRepairMovesFlexibleRecord(t *testing.T) {
	// The flexible record starts where the tight one must go
	flexible := talk(1, 60, window(9, 0, 12, 0))
	flexible.CurrentVenue = 1
	flexible.CurrentTime = models.TimePtr(at(9, 0))
	tight := talk(2, 60, window(9, 0, 10, 0))
	records := []Record{flexible, tight}
	res := New(Config{Slot: 10 * time.Minute, RepairBudget: 10}, testLogger).Solve(records, nil)
	require.Len(t, res.Assignments, 2)
	assert.Empty(t, res.Unsolved)
	assertValid(t, records, res)
}

func TestZeroSpacingAllowsBackToBack(t *testing.T) {
	a := talk(1, 60, window(22, 0, 23, 0))
	a.SpacingSlots = 0
	b := Record{
		ID:          2,
		Duration:    time.Hour,
		ValidVenues: []uint{1},
		TimeRanges:  []models.TimePeriod{{Start: at(22, 0), End: at(23, 0).Add(time.Hour)}},
	}
	res := New(Config{Slot: 10 * time.Minute}, testLogger).Solve([]Record{a, b}, nil)
	require.Len(t, res.Assignments, 2)
	assertValid(t, []Record{a, b}, res)
}

func TestSeparated(t *testing.T) {
	slot := 10 * time.Minute
	assert.True(t, Separated(at(9, 0), time.Hour, 1, at(10, 10), 45*time.Minute, 1, slot))
	assert.False(t, Separated(at(9, 0), time.Hour, 1, at(10, 0), 45*time.Minute, 1, slot))
	assert.True(t, Separated(at(9, 0), time.Hour, 0, at(10, 0), time.Hour, 0, slot))
	// The longer duration counts, whichever comes first
	assert.False(t, Separated(at(9, 0), 30*time.Minute, 1, at(9, 40), time.Hour, 1, slot))
}
