package export

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchedule(t *testing.T) *Schedule {
	loc, err := time.LoadLocation("Europe/London")
	require.NoError(t, err)
	start := time.Date(2024, 5, 31, 10, 0, 0, 0, loc)
	late := time.Date(2024, 6, 1, 0, 30, 0, 0, loc)
	return &Schedule{
		Title:       "Electromagnetic Field 2024",
		Acronym:     "emf2024",
		Start:       time.Date(2024, 5, 29, 12, 0, 0, 0, loc),
		End:         time.Date(2024, 6, 3, 2, 0, 0, 0, loc),
		Location:    loc,
		Generated:   time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		SlotMinutes: 10,
		Events: []Event{
			{
				ID: 12, UID: UID("emf", 2024, 12, "Café, Soldering; & More"), Type: "talk",
				Title: "Café, Soldering; & More", Description: "Line one\nLine two", Speakers: "Ada",
				Venue: "Stage A", Start: start, End: start.Add(30 * time.Minute), Duration: 30,
				Tags: []string{"hardware"}, MayRecord: true,
			},
			{
				ID: 13, UID: UID("emf", 2024, 13, "Late show"), Type: "performance", Title: "Late show",
				Venue: "Null Sector", Start: late, End: late.Add(time.Hour), Duration: 60,
			},
		},
	}
}

func TestSlug(t *testing.T) {
	tests := map[string]string{
		"Hello World":               "hello-world",
		"Café, Soldering; & More":   "cafe-soldering-more",
		"  --Leading and trailing!": "leading-and-trailing",
		"Ünïcödé":                   "unicode",
		"":                          "",
		strings.Repeat("long ", 20): "long-long-long-long-long-long-long-long-long-long",
	}
	for in, want := range tests {
		assert.Equal(t, want, Slug(in), in)
	}
}

func TestUID(t *testing.T) {
	assert.Equal(t, "emf2024-12-hello-world", UID("emf", 2024, 12, "Hello World"))
}

func TestICal(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, ICal(&buf, testSchedule(t)))
	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "BEGIN:VCALENDAR\r\n"))
	assert.True(t, strings.HasSuffix(out, "END:VCALENDAR\r\n"))
	assert.Contains(t, out, "UID:emf2024-12-cafe-soldering-more\r\n")
	assert.Contains(t, out, `SUMMARY:Café\, Soldering\; & More`)
	assert.Contains(t, out, `DESCRIPTION:Line one\nLine two`)
	// 10:00 BST is 09:00 UTC
	assert.Contains(t, out, "DTSTART:20240531T090000Z\r\n")
	assert.Equal(t, 2, strings.Count(out, "BEGIN:VEVENT"))
	for _, l := range strings.Split(out, "\r\n") {
		assert.LessOrEqual(t, len(l), 75)
	}
}

func TestICalFoldsLongLines(t *testing.T) {
	s := testSchedule(t)
	s.Events[0].Description = strings.Repeat("äbc ", 60)
	var buf bytes.Buffer
	require.NoError(t, ICal(&buf, s))
	unfolded := strings.ReplaceAll(buf.String(), "\r\n ", "")
	assert.Contains(t, unfolded, "DESCRIPTION:"+strings.Repeat("äbc ", 60))
}

func TestFrabXML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, FrabXML(&buf, testSchedule(t)))
	var doc frabSchedule
	require.NoError(t, xml.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, "emf2024", doc.Conference.Acronym)
	assert.Equal(t, "00:10", doc.Conference.TimeslotDuration)
	require.Len(t, doc.Days, 5)
	// Friday holds both events: the one at 00:30 still belongs to the Friday night
	friday := doc.Days[2]
	assert.Equal(t, "2024-05-31", friday.Date)
	require.Len(t, friday.Rooms, 2)
	assert.Equal(t, "Null Sector", friday.Rooms[0].Name)
	assert.Equal(t, "00:30", friday.Rooms[0].Events[0].Start)
	assert.Equal(t, "01:00", friday.Rooms[0].Events[0].Duration)
	assert.Equal(t, "emf2024-12-cafe-soldering-more", friday.Rooms[1].Events[0].GUID)
}

func TestFrabJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, FrabJSON(&buf, testSchedule(t)))
	var doc struct {
		Schedule struct {
			Conference struct {
				Title string `json:"title"`
				Days  []struct {
					Date  string                       `json:"date"`
					Rooms map[string][]json.RawMessage `json:"rooms"`
				} `json:"days"`
			} `json:"conference"`
		} `json:"schedule"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, "Electromagnetic Field 2024", doc.Schedule.Conference.Title)
	require.Len(t, doc.Schedule.Conference.Days, 5)
	assert.Len(t, doc.Schedule.Conference.Days[2].Rooms["Stage A"], 1)
}

func TestJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, JSON(&buf, &Schedule{}))
	assert.Equal(t, "[]\n", buf.String())

	buf.Reset()
	require.NoError(t, JSON(&buf, testSchedule(t)))
	var events []Event
	require.NoError(t, json.Unmarshal(buf.Bytes(), &events))
	require.Len(t, events, 2)
	assert.Equal(t, "emf2024-13-late-show", events[1].UID)
}
