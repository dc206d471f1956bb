// Package export renders the public schedule in the formats consumed by calendar clients and schedule apps
package export

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const maxSlugLength = 50

// Event is one scheduled proposal as it appears in exports
type Event struct {
	ID          uint      `json:"id"`
	UID         string    `json:"uid"`
	Slug        string    `json:"slug"`
	Type        string    `json:"type"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Speakers    string    `json:"speaker"`
	Pronouns    string    `json:"pronouns,omitempty"`
	Venue       string    `json:"venue"`
	Start       time.Time `json:"start_date"`
	End         time.Time `json:"end_date"`
	// Minutes
	Duration       int      `json:"duration"`
	FamilyFriendly bool     `json:"is_family_friendly"`
	ContentNote    string   `json:"content_note,omitempty"`
	MayRecord      bool     `json:"may_record"`
	Tags           []string `json:"tags"`
	URL            string   `json:"link,omitempty"`
}

// Schedule is the complete data of one export
type Schedule struct {
	Title     string
	Acronym   string
	Start     time.Time
	End       time.Time
	Location  *time.Location
	Generated time.Time
	// Minutes per slot
	SlotMinutes int
	Events      []Event
}

// Sort orders the events by start, venue and ID
func (s *Schedule) Sort() {
	sort.SliceStable(s.Events, func(i, j int) bool {
		a, b := s.Events[i], s.Events[j]
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		if a.Venue != b.Venue {
			return a.Venue < b.Venue
		}
		return a.ID < b.ID
	})
}

// Slug turns a title into a lowercase ASCII identifier
func Slug(title string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	plain, _, err := transform.String(t, title)
	if err != nil {
		plain = title
	}
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(plain) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteRune('-')
			dash = true
		}
	}
	slug := strings.TrimRight(b.String(), "-")
	if len(slug) > maxSlugLength {
		slug = strings.TrimRight(slug[:maxSlugLength], "-")
	}
	return slug
}

// UID returns the stable calendar UID of a proposal
func UID(prefix string, year int, id uint, title string) string {
	return fmt.Sprintf("%s%d-%d-%s", prefix, year, id, Slug(title))
}
