package models

import (
	"strconv"
	"strings"
	"time"
)

// ProposalType is the kind of content a proposal describes
type ProposalType string

const (
	TypeTalk          ProposalType = "talk"
	TypeWorkshop      ProposalType = "workshop"
	TypeYouthWorkshop ProposalType = "youthworkshop"
	TypePerformance   ProposalType = "performance"
	TypeInstallation  ProposalType = "installation"
	TypeLightning     ProposalType = "lightning"
)

// AllTypes lists every proposal type
var AllTypes = []ProposalType{
	TypeTalk, TypeWorkshop, TypeYouthWorkshop, TypePerformance, TypeInstallation, TypeLightning,
}

// ScheduledTypes are the types the automatic scheduler works on
var ScheduledTypes = []ProposalType{TypeTalk, TypeWorkshop, TypeYouthWorkshop, TypePerformance}

// Valid checks if the type is a known proposal type
func (t ProposalType) Valid() bool {
	for _, pt := range AllTypes {
		if pt == t {
			return true
		}
	}
	return false
}

// HasTickets is true for capped types whose seats are handed out by ticket or lottery
func (t ProposalType) HasTickets() bool {
	return t == TypeWorkshop || t == TypeYouthWorkshop
}

// Proposal is one piece of submitted content travelling through the CFP pipeline
type Proposal struct {
	ID     uint          `db:"id" json:"id"`
	UserID uint          `db:"userId" json:"userId"`
	Type   ProposalType  `db:"type" json:"type"`
	State  ProposalState `db:"state" json:"state"`
	// Title and description as submitted (or as rewritten by the anonymiser)
	Title       string `db:"title" json:"title"`
	Description string `db:"description" json:"description"`
	// Private admin notes
	Notes string `db:"notes" json:"notes,omitempty"`

	// Per-type attributes
	Length      string `db:"length" json:"length,omitempty"`
	Attendees   *int   `db:"attendees" json:"attendees,omitempty"`
	AgeRange    string `db:"ageRange" json:"ageRange,omitempty"`
	Size        string `db:"size" json:"size,omitempty"`
	SlideLink   string `db:"slideLink" json:"slideLink,omitempty"`
	Session     string `db:"session" json:"session,omitempty"`
	OneDay      bool   `db:"oneDay" json:"oneDay"`
	NeedFinance bool   `db:"needFinance" json:"needFinance"`
	// RequiresTicket marks capped proposals whose seats are allocated by lottery
	RequiresTicket bool `db:"requiresTicket" json:"requiresTicket"`

	// Filled in on finalisation
	PublishedTitle       string `db:"publishedTitle" json:"publishedTitle,omitempty"`
	PublishedDescription string `db:"publishedDescription" json:"publishedDescription,omitempty"`
	PublishedNames       string `db:"publishedNames" json:"publishedNames,omitempty"`
	PublishedPronouns    string `db:"publishedPronouns" json:"publishedPronouns,omitempty"`
	FamilyFriendly       bool   `db:"familyFriendly" json:"familyFriendly"`
	ContentNote          string `db:"contentNote" json:"contentNote,omitempty"`
	Equipment            string `db:"equipment" json:"equipment,omitempty"`
	Availability         string `db:"availability" json:"availability,omitempty"`
	ArrivalPeriod        string `db:"arrivalPeriod" json:"arrivalPeriod,omitempty"`
	DeparturePeriod      string `db:"departurePeriod" json:"departurePeriod,omitempty"`
	TelephoneNumber      string `db:"telephoneNumber" json:"telephoneNumber,omitempty"`
	MayRecord            bool   `db:"mayRecord" json:"mayRecord"`

	// Scheduling
	ScheduledVenueID  *uint      `db:"scheduledVenueId" json:"scheduledVenueId,omitempty"`
	ScheduledTime     *time.Time `db:"scheduledTime" json:"scheduledTime,omitempty"`
	ScheduledDuration *int       `db:"scheduledDuration" json:"scheduledDuration,omitempty"`
	PotentialVenueID  *uint      `db:"potentialVenueId" json:"potentialVenueId,omitempty"`
	PotentialTime     *time.Time `db:"potentialTime" json:"potentialTime,omitempty"`
	// Newline separated "start > end" periods
	AllowedTimes      string `db:"allowedTimes" json:"allowedTimes,omitempty"`
	UserScheduled     bool   `db:"userScheduled" json:"userScheduled"`
	ManuallyScheduled bool   `db:"manuallyScheduled" json:"manuallyScheduled"`
	HideFromSchedule  bool   `db:"hideFromSchedule" json:"hideFromSchedule"`

	FavouriteCount int   `db:"favouriteCount" json:"favouriteCount"`
	AnonymiserID   *uint `db:"anonymiserId" json:"anonymiserId,omitempty"`

	CreatedAt time.Time `db:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `db:"updatedAt" json:"updatedAt"`

	// Loaded from the join tables
	Tags            []string `db:"-" json:"tags"`
	AllowedVenueIDs []uint   `db:"-" json:"allowedVenueIds,omitempty"`
}

// IsAccepted reports whether the proposal is accepted (or later)
func (p *Proposal) IsAccepted() bool {
	return p.State.IsAccepted()
}

// ScheduleConsistent checks the invariant that a scheduled time always comes with a venue and a duration
func (p *Proposal) ScheduleConsistent() bool {
	if p.ScheduledTime == nil {
		return true
	}
	return p.ScheduledVenueID != nil && p.ScheduledDuration != nil
}

// DisplayTitle is the published title if there is one, the submitted title otherwise
func (p *Proposal) DisplayTitle() string {
	if p.PublishedTitle != "" {
		return p.PublishedTitle
	}
	return p.Title
}

// DisplayDescription is the published description if there is one, the submitted description otherwise
func (p *Proposal) DisplayDescription() string {
	if p.PublishedDescription != "" {
		return p.PublishedDescription
	}
	return p.Description
}

// ProposalColumns are the versioned columns of the Proposals table in snapshot order
var ProposalColumns = []string{
	"userId", "type", "state", "title", "description", "notes", "length", "attendees", "ageRange", "size",
	"slideLink", "session", "oneDay", "needFinance", "requiresTicket", "publishedTitle", "publishedDescription",
	"publishedNames", "publishedPronouns", "familyFriendly", "contentNote", "equipment", "availability",
	"arrivalPeriod", "departurePeriod", "telephoneNumber", "mayRecord", "scheduledVenueId", "scheduledTime",
	"scheduledDuration", "potentialVenueId", "potentialTime", "allowedTimes", "userScheduled", "manuallyScheduled",
	"hideFromSchedule", "anonymiserId",
}

// SnapshotTimeLayout is how timestamps are stored in version records
const SnapshotTimeLayout = "2006-01-02 15:04:05"

// Snapshot returns the versioned columns as strings; NULL columns map to nil
func (p *Proposal) Snapshot() map[string]*string {
	return map[string]*string{
		"userId":               strPtr(strconv.FormatUint(uint64(p.UserID), 10)),
		"type":                 strPtr(string(p.Type)),
		"state":                strPtr(string(p.State)),
		"title":                strPtr(p.Title),
		"description":          strPtr(p.Description),
		"notes":                strPtr(p.Notes),
		"length":               strPtr(p.Length),
		"attendees":            intPtrStr(p.Attendees),
		"ageRange":             strPtr(p.AgeRange),
		"size":                 strPtr(p.Size),
		"slideLink":            strPtr(p.SlideLink),
		"session":              strPtr(p.Session),
		"oneDay":               boolStr(p.OneDay),
		"needFinance":          boolStr(p.NeedFinance),
		"requiresTicket":       boolStr(p.RequiresTicket),
		"publishedTitle":       strPtr(p.PublishedTitle),
		"publishedDescription": strPtr(p.PublishedDescription),
		"publishedNames":       strPtr(p.PublishedNames),
		"publishedPronouns":    strPtr(p.PublishedPronouns),
		"familyFriendly":       boolStr(p.FamilyFriendly),
		"contentNote":          strPtr(p.ContentNote),
		"equipment":            strPtr(p.Equipment),
		"availability":         strPtr(p.Availability),
		"arrivalPeriod":        strPtr(p.ArrivalPeriod),
		"departurePeriod":      strPtr(p.DeparturePeriod),
		"telephoneNumber":      strPtr(p.TelephoneNumber),
		"mayRecord":            boolStr(p.MayRecord),
		"scheduledVenueId":     uintPtrStr(p.ScheduledVenueID),
		"scheduledTime":        timePtrStr(p.ScheduledTime),
		"scheduledDuration":    intPtrStr(p.ScheduledDuration),
		"potentialVenueId":     uintPtrStr(p.PotentialVenueID),
		"potentialTime":        timePtrStr(p.PotentialTime),
		"allowedTimes":         strPtr(p.AllowedTimes),
		"userScheduled":        boolStr(p.UserScheduled),
		"manuallyScheduled":    boolStr(p.ManuallyScheduled),
		"hideFromSchedule":     boolStr(p.HideFromSchedule),
		"anonymiserId":         uintPtrStr(p.AnonymiserID),
	}
}

// ParseTags splits comma or newline separated tag text into lowercase, de-duplicated tags
func ParseTags(text string) []string {
	seen := map[string]bool{}
	ret := []string{}
	for _, tag := range strings.FieldsFunc(text, func(r rune) bool { return r == ',' || r == '\n' }) {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		ret = append(ret, tag)
	}
	return ret
}

func strPtr(s string) *string {
	return &s
}

func boolStr(b bool) *string {
	if b {
		return strPtr("1")
	}
	return strPtr("0")
}

func intPtrStr(i *int) *string {
	if i == nil {
		return nil
	}
	return strPtr(strconv.Itoa(*i))
}

func uintPtrStr(i *uint) *string {
	if i == nil {
		return nil
	}
	return strPtr(strconv.FormatUint(uint64(*i), 10))
}

func timePtrStr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	return strPtr(t.UTC().Format(SnapshotTimeLayout))
}

// IntPtr returns a pointer to the given int
func IntPtr(i int) *int {
	return &i
}

// UintPtr returns a pointer to the given uint
func UintPtr(i uint) *uint {
	return &i
}

// TimePtr returns a pointer to the given time
func TimePtr(t time.Time) *time.Time {
	return &t
}
