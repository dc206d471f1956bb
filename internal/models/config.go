package models

import (
	"path"
	"strings"
	"time"

	"github.com/kardianos/osext"
)

// AppConfig is the application's main configuration structure
type AppConfig struct {
	// The directory where CFPDesk stores its database - defaults to the /data subdirectory of the folder the
	// executable resides in
	DataDir string `json:"dataDir" mapstructure:"dataDir"`
	// The credentials for the admin account that is created on startup
	DefaultUser *DefaultUserConfig `json:"defaultUser" mapstructure:"defaultUser"`
	// The IP address to listen at - including the port number
	ListenAddress string         `json:"listenAddress" mapstructure:"listenAddress"`
	Event         EventConfig    `json:"event" mapstructure:"event"`
	CFP           CFPConfig      `json:"cfp" mapstructure:"cfp"`
	Schedule      ScheduleConfig `json:"schedule" mapstructure:"schedule"`
	Redis         RedisConfig    `json:"redis" mapstructure:"redis"`
	Kafka         KafkaConfig    `json:"kafka" mapstructure:"kafka"`
	AMQP          AMQPConfig     `json:"amqp" mapstructure:"amqp"`
	Mail          MailConfig     `json:"mail" mapstructure:"mail"`
}

// The DefaultUserConfig struct configures the admin user that is created if missing
type DefaultUserConfig struct {
	Email    string `json:"email" mapstructure:"email"`
	Name     string `json:"name" mapstructure:"name"`
	Password string `json:"password" mapstructure:"password"`
}

// EventConfig describes the festival the CFP is run for
type EventConfig struct {
	Year  int    `json:"year" mapstructure:"year"`
	Title string `json:"title" mapstructure:"title"`
	// Prefix of exported event UIDs, followed by the year
	UIDPrefix string `json:"uidPrefix" mapstructure:"uidPrefix"`
	// Start and end in PeriodLayout, local to Timezone
	Start    string `json:"start" mapstructure:"start"`
	End      string `json:"end" mapstructure:"end"`
	Timezone string `json:"timezone" mapstructure:"timezone"`
	// Base URL of the public schedule, used for links in exports
	URL string `json:"url" mapstructure:"url"`
}

// Location returns the event's time zone, falling back to UTC for unknown zones
func (c EventConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Period returns the event's start and end
func (c EventConfig) Period() (TimePeriod, error) {
	return ParsePeriod(c.Start+" > "+c.End, c.Location())
}

// CFPConfig configures the review part of the pipeline
type CFPConfig struct {
	// Types that go through anonymisation and peer review; all others bypass to manual review
	ReviewableTypes []ProposalType `json:"reviewableTypes" mapstructure:"reviewableTypes"`
	WorkingSetSize  int            `json:"workingSetSize" mapstructure:"workingSetSize"`
	// Minutes a reviewer has to be away before new proposals reshuffle the working set
	AwayMinutes int `json:"awayMinutes" mapstructure:"awayMinutes"`
}

// IsReviewable checks if proposals of the given type are anonymised and peer reviewed
func (c CFPConfig) IsReviewable(t ProposalType) bool {
	for _, rt := range c.ReviewableTypes {
		if rt == t {
			return true
		}
	}
	return false
}

// ScheduleConfig configures the scheduler and the sense check
type ScheduleConfig struct {
	SlotMinutes int `json:"slotMinutes" mapstructure:"slotMinutes"`
	// Minimum number of empty slots between two events of this type in the same venue
	SpacingSlots map[string]int `json:"spacingSlots" mapstructure:"spacingSlots"`
	// Rough durations in minutes per proposal type and length hint. The "default" key is the
	// fallback. Keys are lowercase.
	Durations map[string]map[string]int `json:"durations" mapstructure:"durations"`
	// Newline separated default periods per proposal type
	DefaultPeriods map[string]string `json:"defaultPeriods" mapstructure:"defaultPeriods"`
	// The nightly quiet period, as hours of the day
	QuietStartHour int `json:"quietStartHour" mapstructure:"quietStartHour"`
	QuietEndHour   int `json:"quietEndHour" mapstructure:"quietEndHour"`
	// Talks whose windows lie before this hour or at/after LateHour may be programmed back to back
	EarlyHour int `json:"earlyHour" mapstructure:"earlyHour"`
	LateHour  int `json:"lateHour" mapstructure:"lateHour"`
	// Allowed windows longer than this are reported by the sense check
	MaxWindowHours int `json:"maxWindowHours" mapstructure:"maxWindowHours"`
	// Upper bound of bump-and-retry repairs the solver makes
	RepairBudget int `json:"repairBudget" mapstructure:"repairBudget"`
}

// RedisConfig configures the working set store. An empty address keeps working sets in memory.
type RedisConfig struct {
	Addr       string `json:"addr" mapstructure:"addr"`
	Password   string `json:"password" mapstructure:"password"`
	DB         int    `json:"db" mapstructure:"db"`
	TTLMinutes int    `json:"ttlMinutes" mapstructure:"ttlMinutes"`
}

// KafkaConfig configures the admin message bus. Without brokers, messages are kept in memory.
type KafkaConfig struct {
	Brokers []string `json:"brokers" mapstructure:"brokers"`
}

// AMQPConfig configures the hand-off to the mail delivery service. Without URL, mails are only logged.
type AMQPConfig struct {
	URL   string `json:"url" mapstructure:"url"`
	Queue string `json:"queue" mapstructure:"queue"`
}

// MailConfig configures the outbox worker
type MailConfig struct {
	From                 string `json:"from" mapstructure:"from"`
	FlushIntervalSeconds int    `json:"flushIntervalSeconds" mapstructure:"flushIntervalSeconds"`
	BatchSize            int    `json:"batchSize" mapstructure:"batchSize"`
	MaxAttempts          int    `json:"maxAttempts" mapstructure:"maxAttempts"`
}

// RoughDuration maps the length hint of a proposal of the given type to a duration in minutes
func (c ScheduleConfig) RoughDuration(t ProposalType, length string) (int, bool) {
	table, ok := c.Durations[string(t)]
	if !ok {
		return 0, false
	}
	if d, ok := table[strings.ToLower(strings.TrimSpace(length))]; ok {
		return d, true
	}
	d, ok := table["default"]
	return d, ok
}

// Spacing returns the spacing slots of the given type
func (c ScheduleConfig) Spacing(t ProposalType) int {
	return c.SpacingSlots[string(t)]
}

// DefaultScheduleConfig returns the scheduler settings of the festival
func DefaultScheduleConfig() ScheduleConfig {
	return ScheduleConfig{
		SlotMinutes: 10,
		SpacingSlots: map[string]int{
			string(TypeTalk):          1,
			string(TypeWorkshop):      2,
			string(TypeYouthWorkshop): 2,
			string(TypePerformance):   1,
		},
		Durations: map[string]map[string]int{
			string(TypeTalk): {
				"< 10 mins": 10, "10-25 mins": 25, "25-45 mins": 45, "> 45 mins": 60, "default": 30,
			},
			string(TypePerformance): {
				"< 10 mins": 10, "10-25 mins": 25, "25-45 mins": 45, "> 45 mins": 60, "default": 30,
			},
			string(TypeWorkshop): {
				"1 hour": 60, "2 hours": 120, "3 hours": 180, "half day": 240, "default": 60,
			},
			string(TypeYouthWorkshop): {
				"1 hour": 60, "2 hours": 120, "3 hours": 180, "half day": 240, "default": 60,
			},
		},
		DefaultPeriods: map[string]string{
			string(TypeTalk): "2024-05-31 10:00 > 2024-05-31 20:00\n" +
				"2024-06-01 10:00 > 2024-06-01 20:00\n2024-06-02 10:00 > 2024-06-02 20:00",
			string(TypeWorkshop): "2024-05-30 14:00 > 2024-05-30 22:00\n2024-05-31 10:00 > 2024-05-31 22:00\n" +
				"2024-06-01 10:00 > 2024-06-01 22:00\n2024-06-02 10:00 > 2024-06-02 22:00",
			string(TypeYouthWorkshop): "2024-05-31 09:00 > 2024-05-31 19:00\n" +
				"2024-06-01 09:00 > 2024-06-01 19:00\n2024-06-02 09:00 > 2024-06-02 19:00",
			string(TypePerformance): "2024-05-31 20:00 > 2024-06-01 02:00\n2024-06-01 20:00 > 2024-06-02 02:00",
		},
		QuietStartHour: 2,
		QuietEndHour:   9,
		EarlyHour:      9,
		LateHour:       20,
		MaxWindowHours: 17,
		RepairBudget:   2000,
	}
}

// GetDefaultConfig returns the default configuration values for the application
func GetDefaultConfig() (*AppConfig, error) {
	execDir, err := osext.ExecutableFolder()
	if err != nil {
		return nil, err
	}
	return &AppConfig{
		DataDir: path.Join(execDir, "data"),
		DefaultUser: &DefaultUserConfig{
			Email:    "admin@localhost",
			Name:     "admin",
			Password: "changeme",
		},
		ListenAddress: ":3000",
		Event: EventConfig{
			Year:      2024,
			Title:     "Electromagnetic Field 2024",
			UIDPrefix: "emf",
			Start:     "2024-05-29 12:00",
			End:       "2024-06-03 02:00",
			Timezone:  "Europe/London",
			URL:       "https://www.emfcamp.org/schedule/2024",
		},
		CFP: CFPConfig{
			ReviewableTypes: []ProposalType{TypeTalk, TypeWorkshop},
			WorkingSetSize:  30,
			AwayMinutes:     60,
		},
		Schedule: DefaultScheduleConfig(),
		Redis:    RedisConfig{TTLMinutes: 24 * 60},
		AMQP:     AMQPConfig{Queue: "cfpdesk.mail"},
		Mail: MailConfig{
			From:                 "content@emfcamp.org",
			FlushIntervalSeconds: 30,
			BatchSize:            50,
			MaxAttempts:          5,
		},
	}, nil
}
