package export

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"time"
)

const frabVersion = "1.0"

type frabPerson struct {
	ID   uint   `xml:"id,attr" json:"id"`
	Name string `xml:",chardata" json:"public_name"`
}

type frabEvent struct {
	ID          uint         `xml:"id,attr" json:"id"`
	GUID        string       `xml:"guid,attr" json:"guid"`
	Date        string       `xml:"date" json:"date"`
	Start       string       `xml:"start" json:"start"`
	Duration    string       `xml:"duration" json:"duration"`
	Room        string       `xml:"room" json:"room"`
	Slug        string       `xml:"slug" json:"slug"`
	URL         string       `xml:"url,omitempty" json:"url,omitempty"`
	Title       string       `xml:"title" json:"title"`
	Subtitle    string       `xml:"subtitle" json:"subtitle"`
	Track       string       `xml:"track" json:"track"`
	Type        string       `xml:"type" json:"type"`
	Language    string       `xml:"language" json:"language"`
	Abstract    string       `xml:"abstract" json:"abstract"`
	Description string       `xml:"description" json:"description"`
	Persons     []frabPerson `xml:"persons>person" json:"persons"`
	DoNotRecord bool         `xml:"-" json:"do_not_record"`
}

type frabRoom struct {
	Name   string      `xml:"name,attr"`
	Events []frabEvent `xml:"event"`
}

type frabDay struct {
	Index    int        `xml:"index,attr"`
	Date     string     `xml:"date,attr"`
	DayStart string     `xml:"start,attr"`
	DayEnd   string     `xml:"end,attr"`
	Rooms    []frabRoom `xml:"room"`
}

type frabConference struct {
	Acronym          string `xml:"acronym"`
	Title            string `xml:"title"`
	Start            string `xml:"start"`
	End              string `xml:"end"`
	Days             int    `xml:"days"`
	TimeslotDuration string `xml:"timeslot_duration"`
}

type frabSchedule struct {
	XMLName    xml.Name       `xml:"schedule"`
	Version    string         `xml:"version"`
	Conference frabConference `xml:"conference"`
	Days       []frabDay      `xml:"day"`
}

// buildFrab groups the events into days and rooms. A festival day runs from 04:00 to 04:00 local time so that late
// night events belong to the evening they started in.
func buildFrab(s *Schedule) frabSchedule {
	loc := s.Location
	if loc == nil {
		loc = time.UTC
	}
	dayOf := func(t time.Time) time.Time {
		l := t.In(loc).Add(-4 * time.Hour)
		return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, loc)
	}
	first, last := dayOf(s.Start), dayOf(s.End)
	numDays := int(last.Sub(first).Hours()/24) + 1
	if numDays < 1 {
		numDays = 1
	}
	days := make([]frabDay, numDays)
	rooms := make([]map[string][]frabEvent, numDays)
	for i := range days {
		d := first.AddDate(0, 0, i)
		days[i] = frabDay{
			Index:    i + 1,
			Date:     d.Format("2006-01-02"),
			DayStart: d.Add(4 * time.Hour).Format(time.RFC3339),
			DayEnd:   d.AddDate(0, 0, 1).Add(4 * time.Hour).Format(time.RFC3339),
		}
		rooms[i] = map[string][]frabEvent{}
	}
	for _, e := range s.Events {
		idx := int(dayOf(e.Start).Sub(first).Hours() / 24)
		if idx < 0 || idx >= numDays {
			continue
		}
		fe := frabEvent{
			ID:          e.ID,
			GUID:        e.UID,
			Date:        e.Start.In(loc).Format(time.RFC3339),
			Start:       e.Start.In(loc).Format("15:04"),
			Duration:    Duration(e.Duration),
			Room:        e.Venue,
			Slug:        e.UID,
			URL:         e.URL,
			Title:       e.Title,
			Track:       e.Type,
			Type:        e.Type,
			Language:    "en",
			Abstract:    e.Description,
			Description: e.Description,
			Persons:     []frabPerson{{ID: e.ID, Name: e.Speakers}},
			DoNotRecord: !e.MayRecord,
		}
		rooms[idx][e.Venue] = append(rooms[idx][e.Venue], fe)
	}
	for i := range days {
		names := make([]string, 0, len(rooms[i]))
		for name := range rooms[i] {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			days[i].Rooms = append(days[i].Rooms, frabRoom{Name: name, Events: rooms[i][name]})
		}
	}
	return frabSchedule{
		Version: frabVersion,
		Conference: frabConference{
			Acronym:          s.Acronym,
			Title:            s.Title,
			Start:            s.Start.In(loc).Format("2006-01-02"),
			End:              s.End.In(loc).Format("2006-01-02"),
			Days:             numDays,
			TimeslotDuration: Duration(s.SlotMinutes),
		},
		Days: days,
	}
}

// FrabXML writes the schedule in the frab conference schedule XML format
func FrabXML(w io.Writer, s *Schedule) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(buildFrab(s)); err != nil {
		return fmt.Errorf("FrabXML: encoding failed: %v", err)
	}
	return enc.Flush()
}

// FrabJSON writes the same data as FrabXML in the frab JSON layout
func FrabJSON(w io.Writer, s *Schedule) error {
	fs := buildFrab(s)
	type jsonDay struct {
		Index    int                    `json:"index"`
		Date     string                 `json:"date"`
		DayStart string                 `json:"day_start"`
		DayEnd   string                 `json:"day_end"`
		Rooms    map[string][]frabEvent `json:"rooms"`
	}
	days := make([]jsonDay, 0, len(fs.Days))
	for _, d := range fs.Days {
		jd := jsonDay{Index: d.Index, Date: d.Date, DayStart: d.DayStart, DayEnd: d.DayEnd, Rooms: map[string][]frabEvent{}}
		for _, r := range d.Rooms {
			jd.Rooms[r.Name] = r.Events
		}
		days = append(days, jd)
	}
	doc := map[string]interface{}{
		"schedule": map[string]interface{}{
			"version": fs.Version,
			"conference": map[string]interface{}{
				"acronym":           fs.Conference.Acronym,
				"title":             fs.Conference.Title,
				"start":             fs.Conference.Start,
				"end":               fs.Conference.End,
				"daysCount":         fs.Conference.Days,
				"timeslot_duration": fs.Conference.TimeslotDuration,
				"days":              days,
			},
		},
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// JSON writes the flat event list used by the festival's own apps
func JSON(w io.Writer, s *Schedule) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	events := s.Events
	if events == nil {
		events = []Event{}
	}
	return enc.Encode(events)
}
