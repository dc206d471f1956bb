package models

import (
	"strconv"
	"strings"
	"time"
)

// OnSitePeriods are the half days an author can arrive or leave in, in chronological order
var OnSitePeriods = []string{
	"thu am", "thu pm", "fri am", "fri pm", "sat am", "sat pm", "sun am", "sun pm", "mon am", "mon pm",
}

// AvailabilitySlots are the keys of the availability grid of the finalisation form, in chronological order
var AvailabilitySlots = []string{
	"thu_13_16", "thu_16_20", "thu_20_22",
	"fri_10_13", "fri_13_16", "fri_16_20", "fri_20_22",
	"sat_10_13", "sat_13_16", "sat_16_20", "sat_20_22",
	"sun_10_13", "sun_13_16", "sun_16_20", "sun_20_22",
}

// PeriodIndex returns the position of a half day in OnSitePeriods or -1 for unknown periods
func PeriodIndex(period string) int {
	period = strings.ToLower(strings.TrimSpace(period))
	for i, p := range OnSitePeriods {
		if p == period {
			return i
		}
	}
	return -1
}

// NormaliseAvailability orders the given availability keys chronologically and drops duplicates. The second
// return value lists the keys that are no known slot.
func NormaliseAvailability(keys []string) ([]string, []string) {
	wanted := map[string]bool{}
	for _, k := range keys {
		wanted[strings.ToLower(strings.TrimSpace(k))] = true
	}
	var ret []string
	for _, slot := range AvailabilitySlots {
		if wanted[slot] {
			ret = append(ret, slot)
			delete(wanted, slot)
		}
	}
	var unknown []string
	for _, k := range keys {
		k = strings.ToLower(strings.TrimSpace(k))
		if wanted[k] {
			unknown = append(unknown, k)
			delete(wanted, k)
		}
	}
	return ret, unknown
}

var slotDays = map[string]time.Weekday{
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday, "sun": time.Sunday, "mon": time.Monday,
}

// AvailabilityPeriods turns availability keys into the periods they stand for during the event. The first day of
// the event with the matching weekday is used. Malformed keys are skipped.
func AvailabilityPeriods(keys []string, event TimePeriod) []TimePeriod {
	var ret []TimePeriod
	for _, key := range keys {
		parts := strings.Split(strings.TrimSpace(key), "_")
		if len(parts) != 3 {
			continue
		}
		weekday, ok := slotDays[parts[0]]
		from, errFrom := strconv.Atoi(parts[1])
		to, errTo := strconv.Atoi(parts[2])
		if !ok || errFrom != nil || errTo != nil || to <= from {
			continue
		}
		loc := event.Start.Location()
		y, m, d := event.Start.Date()
		for day := time.Date(y, m, d, 0, 0, 0, 0, loc); day.Before(event.End); day = day.AddDate(0, 0, 1) {
			if day.Weekday() != weekday {
				continue
			}
			ret = append(ret, TimePeriod{
				Start: time.Date(day.Year(), day.Month(), day.Day(), from, 0, 0, 0, loc),
				End:   time.Date(day.Year(), day.Month(), day.Day(), to, 0, 0, 0, loc),
			})
			break
		}
	}
	return ret
}
