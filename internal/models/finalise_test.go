package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeriodIndex(t *testing.T) {
	assert.Equal(t, 0, PeriodIndex("thu am"))
	assert.Equal(t, 3, PeriodIndex(" Fri PM "))
	assert.Equal(t, -1, PeriodIndex("tue am"))
}

func TestNormaliseAvailability(t *testing.T) {
	slots, unknown := NormaliseAvailability([]string{"sun_20_22", "FRI_10_13", "fri_10_13", "wed_10_13"})
	assert.Equal(t, []string{"fri_10_13", "sun_20_22"}, slots)
	assert.Equal(t, []string{"wed_10_13"}, unknown)

	slots, unknown = NormaliseAvailability(nil)
	assert.Empty(t, slots)
	assert.Empty(t, unknown)
}

func TestAvailabilityPeriods(t *testing.T) {
	loc, err := time.LoadLocation("Europe/London")
	require.NoError(t, err)
	event := TimePeriod{
		Start: time.Date(2024, 5, 29, 12, 0, 0, 0, loc),
		End:   time.Date(2024, 6, 3, 2, 0, 0, 0, loc),
	}
	periods := AvailabilityPeriods([]string{"fri_10_13", "sun_20_22", "bogus", "sat_13_10"}, event)
	require.Len(t, periods, 2)
	assert.Equal(t, time.Date(2024, 5, 31, 10, 0, 0, 0, loc), periods[0].Start)
	assert.Equal(t, time.Date(2024, 5, 31, 13, 0, 0, 0, loc), periods[0].End)
	assert.Equal(t, time.Date(2024, 6, 2, 20, 0, 0, 0, loc), periods[1].Start)
}
