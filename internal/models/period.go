package models

import (
	"fmt"
	"strings"
	"time"
)

// PeriodLayout is the layout used for both ends of a serialised time period
const PeriodLayout = "2006-01-02 15:04"

// TimePeriod is a closed-open period of time [Start, End)
type TimePeriod struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Duration returns the length of the period
func (p TimePeriod) Duration() time.Duration {
	return p.End.Sub(p.Start)
}

// Contains checks if the span [start, start+d) lies completely inside the period
func (p TimePeriod) Contains(start time.Time, d time.Duration) bool {
	return !start.Before(p.Start) && !start.Add(d).After(p.End)
}

// Overlaps checks if two periods share at least one instant
func (p TimePeriod) Overlaps(o TimePeriod) bool {
	return p.Start.Before(o.End) && o.Start.Before(p.End)
}

// String formats the period in its "start > end" form
func (p TimePeriod) String() string {
	return fmt.Sprintf("%s > %s", p.Start.Format(PeriodLayout), p.End.Format(PeriodLayout))
}

// ParsePeriod parses a single "YYYY-MM-DD HH:MM > YYYY-MM-DD HH:MM" line in the given location. The result is not
// checked for start < end; the sense check reports such periods.
func ParsePeriod(line string, loc *time.Location) (TimePeriod, error) {
	parts := strings.Split(line, ">")
	if len(parts) != 2 {
		return TimePeriod{}, fmt.Errorf("period %q is not of the form 'start > end'", line)
	}
	start, err := time.ParseInLocation(PeriodLayout, strings.TrimSpace(parts[0]), loc)
	if err != nil {
		return TimePeriod{}, fmt.Errorf("invalid period start in %q: %v", line, err)
	}
	end, err := time.ParseInLocation(PeriodLayout, strings.TrimSpace(parts[1]), loc)
	if err != nil {
		return TimePeriod{}, fmt.Errorf("invalid period end in %q: %v", line, err)
	}
	return TimePeriod{Start: start, End: end}, nil
}

// ParsePeriods parses a newline separated list of periods. Blank lines are ignored.
func ParsePeriods(text string, loc *time.Location) ([]TimePeriod, error) {
	var ret []TimePeriod
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		p, err := ParsePeriod(line, loc)
		if err != nil {
			return nil, err
		}
		ret = append(ret, p)
	}
	return ret, nil
}

// FormatPeriods serialises periods into the newline separated form read by ParsePeriods
func FormatPeriods(periods []TimePeriod) string {
	lines := make([]string, 0, len(periods))
	for _, p := range periods {
		lines = append(lines, p.String())
	}
	return strings.Join(lines, "\n")
}
