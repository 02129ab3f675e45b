// Package preference holds per-user alert preferences and the pure decision
// logic built on them: quiet-hours suppression and the real-time send gate.
package preference

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lalithlochan/herdwatch/internal/alert"
)

// Frequency of delivery on a channel or for a digest.
type Frequency string

const (
	FrequencyImmediate Frequency = "immediate"
	FrequencyHourly    Frequency = "hourly"
	FrequencyDaily     Frequency = "daily"
	FrequencyWeekly    Frequency = "weekly"
)

func (f Frequency) Valid() bool {
	switch f {
	case FrequencyImmediate, FrequencyHourly, FrequencyDaily, FrequencyWeekly:
		return true
	}
	return false
}

// Weekdays in lower case, Sunday first to match time.Weekday.
var Weekdays = []string{"sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday"}

// WeekdayName returns the lower-case name used in preference day lists.
func WeekdayName(d time.Weekday) string { return Weekdays[d] }

// ParseWeekday maps a lower- or mixed-case day name onto time.Weekday.
func ParseWeekday(s string) (time.Weekday, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range Weekdays {
		if name == s {
			return time.Weekday(i), true
		}
	}
	return 0, false
}

type ChannelConfig struct {
	Enabled   bool      `json:"enabled"`
	Address   string    `json:"address,omitempty"`
	Frequency Frequency `json:"frequency"`
}

type QuietHours struct {
	Enabled       bool     `json:"enabled"`
	StartTime     string   `json:"start_time"`
	EndTime       string   `json:"end_time"`
	Timezone      string   `json:"timezone"`
	Days          []string `json:"days"`
	AllowCritical bool     `json:"allow_critical"`
}

// DigestSettings configures the weekly digest. Its inclusion maps are
// independent of the real-time toggles.
type DigestSettings struct {
	Enabled         bool                    `json:"enabled"`
	Frequency       Frequency               `json:"frequency"`
	Day             string                  `json:"day"`
	Time            string                  `json:"time"`
	IncludeRead     bool                    `json:"include_read"`
	Severities      map[alert.Severity]bool `json:"severities"`
	Categories      map[alert.Category]bool `json:"categories"`
	Types           map[alert.Type]bool     `json:"types"`
	MaxItems        int                     `json:"max_items"`
	GroupByType     bool                    `json:"group_by_type"`
	GroupByCategory bool                    `json:"group_by_category"`
}

type RateLimits struct {
	MaxPerDay  int `json:"max_per_day"`
	MaxPerHour int `json:"max_per_hour"`
}

// Preference is one user's alert configuration. Decision functions take it
// by value and never modify it.
type Preference struct {
	Owner      string                             `json:"owner"`
	Enabled    bool                               `json:"enabled"`
	Channels   map[alert.Channel]ChannelConfig    `json:"channels"`
	Severities map[alert.Severity]bool            `json:"severities"`
	Categories map[alert.Category]bool            `json:"categories"`
	Types      map[alert.Type]bool                `json:"types"`
	QuietHours QuietHours                         `json:"quiet_hours"`
	Digest     DigestSettings                     `json:"digest"`
	RateLimits RateLimits                         `json:"rate_limits"`
	Routing    map[alert.Severity][]alert.Channel `json:"routing"`
	Language   string                             `json:"language"`
	CreatedAt  time.Time                          `json:"created_at"`
	UpdatedAt  time.Time                          `json:"updated_at"`
}

const (
	DefaultMaxPerDay  = 50
	DefaultMaxPerHour = 10
	DefaultMaxItems   = 50
	MaxDigestItems    = 500
	DefaultLanguage   = "en"
)

// Defaults returns a fully populated preference for owner.
func Defaults(owner string) Preference {
	p := Preference{
		Owner:      owner,
		Enabled:    true,
		Channels:   make(map[alert.Channel]ChannelConfig, len(alert.Channels)),
		Severities: make(map[alert.Severity]bool, len(alert.Severities)),
		Categories: make(map[alert.Category]bool, len(alert.Categories)),
		Types:      make(map[alert.Type]bool, len(alert.Types)),
		QuietHours: QuietHours{
			StartTime:     "22:00",
			EndTime:       "08:00",
			Timezone:      "UTC",
			Days:          append([]string(nil), Weekdays...),
			AllowCritical: true,
		},
		Digest: DigestSettings{
			Enabled:    true,
			Frequency:  FrequencyWeekly,
			Day:        "monday",
			Time:       "09:00",
			Severities: make(map[alert.Severity]bool, len(alert.Severities)),
			Categories: make(map[alert.Category]bool, len(alert.Categories)),
			Types:      make(map[alert.Type]bool, len(alert.Types)),
			MaxItems:   DefaultMaxItems,
		},
		RateLimits: RateLimits{MaxPerDay: DefaultMaxPerDay, MaxPerHour: DefaultMaxPerHour},
		Routing:    defaultRouting(),
		Language:   DefaultLanguage,
	}
	for _, c := range alert.Channels {
		p.Channels[c] = ChannelConfig{Enabled: c == alert.ChannelApp, Frequency: FrequencyImmediate}
	}
	for _, s := range alert.Severities {
		p.Severities[s] = true
		p.Digest.Severities[s] = true
	}
	for _, c := range alert.Categories {
		p.Categories[c] = true
		p.Digest.Categories[c] = true
	}
	for _, t := range alert.Types {
		p.Types[t] = true
		p.Digest.Types[t] = true
	}
	return p
}

func defaultRouting() map[alert.Severity][]alert.Channel {
	return map[alert.Severity][]alert.Channel{
		alert.SeverityCritical: {alert.ChannelApp, alert.ChannelEmail, alert.ChannelSMS, alert.ChannelPush},
		alert.SeverityHigh:     {alert.ChannelApp, alert.ChannelEmail, alert.ChannelPush},
		alert.SeverityMedium:   {alert.ChannelApp, alert.ChannelEmail},
		alert.SeverityLow:      {alert.ChannelApp},
	}
}

// Clone returns a deep copy, safe to decode a partial update into.
func (p Preference) Clone() Preference {
	c := p
	c.Channels = copyMap(p.Channels)
	c.Severities = copyMap(p.Severities)
	c.Categories = copyMap(p.Categories)
	c.Types = copyMap(p.Types)
	if p.QuietHours.Days != nil {
		c.QuietHours.Days = make([]string, len(p.QuietHours.Days))
		copy(c.QuietHours.Days, p.QuietHours.Days)
	}
	c.Digest.Severities = copyMap(p.Digest.Severities)
	c.Digest.Categories = copyMap(p.Digest.Categories)
	c.Digest.Types = copyMap(p.Digest.Types)
	if p.Routing != nil {
		c.Routing = make(map[alert.Severity][]alert.Channel, len(p.Routing))
		for k, v := range p.Routing {
			c.Routing[k] = append([]alert.Channel(nil), v...)
		}
	}
	return c
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	if m == nil {
		return nil
	}
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Normalize fills every unset field of p from the defaults and returns the
// result. p itself is not modified.
func Normalize(p Preference) Preference {
	d := Defaults(p.Owner)
	n := p.Clone()

	if n.Channels == nil {
		n.Channels = map[alert.Channel]ChannelConfig{}
	}
	for _, c := range alert.Channels {
		cfg, ok := n.Channels[c]
		if !ok {
			n.Channels[c] = d.Channels[c]
			continue
		}
		if !cfg.Frequency.Valid() {
			cfg.Frequency = FrequencyImmediate
		}
		n.Channels[c] = cfg
	}
	for c := range n.Channels {
		if !c.Valid() {
			delete(n.Channels, c)
		}
	}

	n.Severities = fillBools(n.Severities, alert.Severities)
	n.Categories = fillBools(n.Categories, alert.Categories)
	n.Types = fillBools(n.Types, alert.Types)

	q := &n.QuietHours
	if q.StartTime == "" {
		q.StartTime = d.QuietHours.StartTime
	}
	if q.EndTime == "" {
		q.EndTime = d.QuietHours.EndTime
	}
	if q.Timezone == "" {
		q.Timezone = d.QuietHours.Timezone
	}
	if q.Days == nil {
		q.Days = d.QuietHours.Days
	}

	g := &n.Digest
	if !g.Frequency.Valid() {
		g.Frequency = d.Digest.Frequency
	}
	if g.Day == "" {
		g.Day = d.Digest.Day
	}
	if g.Time == "" {
		g.Time = d.Digest.Time
	}
	if g.MaxItems <= 0 {
		g.MaxItems = d.Digest.MaxItems
	}
	g.Severities = fillBools(g.Severities, alert.Severities)
	g.Categories = fillBools(g.Categories, alert.Categories)
	g.Types = fillBools(g.Types, alert.Types)

	if n.RateLimits.MaxPerDay <= 0 {
		n.RateLimits.MaxPerDay = d.RateLimits.MaxPerDay
	}
	if n.RateLimits.MaxPerHour <= 0 {
		n.RateLimits.MaxPerHour = d.RateLimits.MaxPerHour
	}

	if n.Routing == nil {
		n.Routing = map[alert.Severity][]alert.Channel{}
	}
	for _, s := range alert.Severities {
		if _, ok := n.Routing[s]; !ok {
			n.Routing[s] = d.Routing[s]
		}
	}
	for s, chans := range n.Routing {
		if !s.Valid() {
			delete(n.Routing, s)
			continue
		}
		kept := chans[:0:0]
		for _, c := range chans {
			if c.Valid() {
				kept = append(kept, c)
			}
		}
		n.Routing[s] = kept
	}

	if strings.TrimSpace(n.Language) == "" {
		n.Language = d.Language
	}
	return n
}

func fillBools[K comparable](m map[K]bool, keys []K) map[K]bool {
	if m == nil {
		m = make(map[K]bool, len(keys))
	}
	for _, k := range keys {
		if _, ok := m[k]; !ok {
			m[k] = true
		}
	}
	return m
}

// Validate rejects values Normalize cannot repair.
func Validate(p Preference) error {
	var errs []error
	if _, err := ParseClock(p.QuietHours.StartTime); err != nil {
		errs = append(errs, fmt.Errorf("quiet_hours.start_time: %w", err))
	}
	if _, err := ParseClock(p.QuietHours.EndTime); err != nil {
		errs = append(errs, fmt.Errorf("quiet_hours.end_time: %w", err))
	}
	if _, err := time.LoadLocation(p.QuietHours.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("quiet_hours.timezone: unknown zone %q", p.QuietHours.Timezone))
	}
	for _, day := range p.QuietHours.Days {
		if _, ok := ParseWeekday(day); !ok {
			errs = append(errs, fmt.Errorf("quiet_hours.days: unknown day %q", day))
		}
	}
	if _, ok := ParseWeekday(p.Digest.Day); !ok {
		errs = append(errs, fmt.Errorf("digest.day: unknown day %q", p.Digest.Day))
	}
	if _, err := ParseClock(p.Digest.Time); err != nil {
		errs = append(errs, fmt.Errorf("digest.time: %w", err))
	}
	if p.Digest.Enabled && p.Digest.Frequency != FrequencyWeekly {
		errs = append(errs, fmt.Errorf("digest.frequency: only %q is supported", FrequencyWeekly))
	}
	if p.Digest.MaxItems > MaxDigestItems {
		errs = append(errs, fmt.Errorf("digest.max_items: must be at most %d", MaxDigestItems))
	}
	return errors.Join(errs...)
}

// ParseClock parses "HH:MM" into minutes after midnight.
func ParseClock(s string) (int, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err := strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return hour*60 + minute, nil
}

// Location loads the named zone, falling back to UTC.
func Location(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}
