package export

import (
	"bufio"
	"io"
	"strings"
	"time"
)

const (
	icalTimeLayout = "20060102T150405Z"
	icalLineLength = 75
)

var icalEscaper = strings.NewReplacer(`\`, `\\`, ";", `\;`, ",", `\,`, "\r\n", `\n`, "\n", `\n`)

// ICal writes the schedule as an iCalendar (RFC 5545) document
func ICal(w io.Writer, s *Schedule) error {
	bw := bufio.NewWriter(w)
	line := func(name, value string) {
		writeFolded(bw, name+":"+value)
	}
	text := func(name, value string) {
		line(name, icalEscaper.Replace(value))
	}
	stamp := s.Generated.UTC().Format(icalTimeLayout)

	line("BEGIN", "VCALENDAR")
	line("VERSION", "2.0")
	line("PRODID", "-//cfpdesk//schedule//EN")
	line("CALSCALE", "GREGORIAN")
	text("X-WR-CALNAME", s.Title)
	if s.Location != nil {
		line("X-WR-TIMEZONE", s.Location.String())
	}
	for _, e := range s.Events {
		line("BEGIN", "VEVENT")
		line("UID", e.UID)
		line("DTSTAMP", stamp)
		line("DTSTART", e.Start.UTC().Format(icalTimeLayout))
		line("DTEND", e.End.UTC().Format(icalTimeLayout))
		text("SUMMARY", e.Title)
		text("DESCRIPTION", e.Description)
		text("LOCATION", e.Venue)
		if e.Speakers != "" {
			text("X-SPEAKERS", e.Speakers)
		}
		if len(e.Tags) > 0 {
			text("CATEGORIES", strings.Join(e.Tags, ","))
		}
		if e.URL != "" {
			line("URL", e.URL)
		}
		line("END", "VEVENT")
	}
	line("END", "VCALENDAR")
	return bw.Flush()
}

// writeFolded writes a content line, folding it into continuation lines of at most 75 octets without splitting
// UTF-8 sequences
func writeFolded(w *bufio.Writer, l string) {
	limit := icalLineLength
	for len(l) > limit {
		cut := limit
		for cut > 0 && !isRuneStart(l[cut]) {
			cut--
		}
		w.WriteString(l[:cut])
		w.WriteString("\r\n ")
		l = l[cut:]
		// The leading space of a continuation line counts towards its length
		limit = icalLineLength - 1
	}
	w.WriteString(l)
	w.WriteString("\r\n")
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

// Duration formats minutes as HH:MM
func Duration(minutes int) string {
	d := time.Duration(minutes) * time.Minute
	return time.Time{}.Add(d).Format("15:04")
}
