// Package alert holds the notification domain: the persisted Notification,
// the candidate events collectors emit, and the stage classifier.
package alert

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by stores when a record does not exist.
var ErrNotFound = errors.New("not found")

// Type is the domain concern a notification was raised for.
type Type string

const (
	TypeTreatment   Type = "Treatment"
	TypeVaccine     Type = "Vaccine"
	TypeVaccineDose Type = "VaccineDose"
	TypeWeight      Type = "Weight"
)

// Types lists every notification type in display order.
var Types = []Type{TypeTreatment, TypeVaccine, TypeVaccineDose, TypeWeight}

// Valid reports whether t is a known type.
func (t Type) Valid() bool {
	for _, known := range Types {
		if t == known {
			return true
		}
	}
	return false
}

// DualPoint reports whether the type emits a pre-reminder and a due alert
// for the same item. Those notifications are linked as siblings.
func (t Type) DualPoint() bool {
	return t == TypeVaccineDose || t == TypeWeight
}

// Severity of a notification, ordered low to critical.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Severities lists every severity from lowest to highest.
var Severities = []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

// Rank orders severities; unknown values rank below low.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

func (s Severity) Valid() bool { return s.Rank() > 0 }

// Stage is the coarse urgency bucket derived from days until due.
type Stage string

const (
	StageMonth   Stage = "month"
	StageWeek    Stage = "week"
	StageExpired Stage = "expired"
)

// Category groups types for filtering.
type Category string

const (
	CategoryMedical Category = "medical"
	CategoryRoutine Category = "routine"
)

// Categories lists every category.
var Categories = []Category{CategoryMedical, CategoryRoutine}

func (c Category) Valid() bool {
	return c == CategoryMedical || c == CategoryRoutine
}

// Channel is a delivery channel.
type Channel string

const (
	ChannelApp   Channel = "app"
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
)

// Channels lists every channel in routing order.
var Channels = []Channel{ChannelApp, ChannelEmail, ChannelSMS, ChannelPush}

func (c Channel) Valid() bool {
	for _, known := range Channels {
		if c == known {
			return true
		}
	}
	return false
}

// Key is the identity tuple of a logical notification. Two writes with the
// same key address the same record.
type Key struct {
	Owner   string
	Type    Type
	ItemID  string
	DueDate *time.Time
	Subtype string
}

// String renders the key for logs and lock names.
func (k Key) String() string {
	due := "-"
	if k.DueDate != nil {
		due = k.DueDate.UTC().Format("2006-01-02")
	}
	sub := k.Subtype
	if sub == "" {
		sub = "-"
	}
	return k.Owner + "|" + string(k.Type) + "|" + k.ItemID + "|" + due + "|" + sub
}

// HistoryEntry records the content of a notification at one point in time.
type HistoryEntry struct {
	Stage     Stage     `json:"stage"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Notification is the persisted, deduplicated alert.
type Notification struct {
	ID       uuid.UUID      `json:"id"`
	Owner    string         `json:"owner"`
	Type     Type           `json:"type"`
	ItemID   string         `json:"item_id"`
	DueDate  *time.Time     `json:"due_date,omitempty"`
	Subtype  string         `json:"subtype,omitempty"`
	Message  string         `json:"message"`
	Severity Severity       `json:"severity"`
	Stage    Stage          `json:"stage"`
	Category Category       `json:"category,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`

	IsRead               bool           `json:"is_read"`
	ReadAt               *time.Time     `json:"read_at,omitempty"`
	IsDelivered          bool           `json:"is_delivered"`
	DeliveredAt          *time.Time     `json:"delivered_at,omitempty"`
	DeliveryChannels     []Channel      `json:"delivery_channels"`
	RelatedNotifications []uuid.UUID    `json:"related_notifications"`
	History              []HistoryEntry `json:"history"`
	DigestID             *uuid.UUID     `json:"digest_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Key returns the identity tuple of the notification.
func (n *Notification) Key() Key {
	return Key{Owner: n.Owner, Type: n.Type, ItemID: n.ItemID, DueDate: n.DueDate, Subtype: n.Subtype}
}

// Clone returns a deep copy so stores never hand out shared slices or maps.
func (n *Notification) Clone() *Notification {
	if n == nil {
		return nil
	}
	c := *n
	if n.DueDate != nil {
		d := *n.DueDate
		c.DueDate = &d
	}
	if n.ReadAt != nil {
		r := *n.ReadAt
		c.ReadAt = &r
	}
	if n.DeliveredAt != nil {
		d := *n.DeliveredAt
		c.DeliveredAt = &d
	}
	if n.DigestID != nil {
		id := *n.DigestID
		c.DigestID = &id
	}
	if n.Metadata != nil {
		c.Metadata = make(map[string]any, len(n.Metadata))
		for k, v := range n.Metadata {
			c.Metadata[k] = v
		}
	}
	c.DeliveryChannels = append([]Channel(nil), n.DeliveryChannels...)
	c.RelatedNotifications = append([]uuid.UUID(nil), n.RelatedNotifications...)
	c.History = append([]HistoryEntry(nil), n.History...)
	return &c
}

// ListFilter narrows a notification listing. Nil/empty fields match all.
type ListFilter struct {
	Read     *bool
	Type     Type
	Severity Severity
	Category Category
	Limit    int
	Offset   int
}

// Matches reports whether n passes the filter (pagination excluded).
func (f ListFilter) Matches(n *Notification) bool {
	if f.Read != nil && n.IsRead != *f.Read {
		return false
	}
	if f.Type != "" && n.Type != f.Type {
		return false
	}
	if f.Severity != "" && n.Severity != f.Severity {
		return false
	}
	if f.Category != "" && n.Category != f.Category {
		return false
	}
	return true
}

// Stats summarises a user's notifications.
type Stats struct {
	Total      int              `json:"total"`
	Unread     int              `json:"unread"`
	BySeverity map[Severity]int `json:"by_severity"`
	ByType     map[Type]int     `json:"by_type"`
	ByStage    map[Stage]int    `json:"by_stage"`
}

// NewStats returns a Stats with initialised maps.
func NewStats() *Stats {
	return &Stats{
		BySeverity: make(map[Severity]int),
		ByType:     make(map[Type]int),
		ByStage:    make(map[Stage]int),
	}
}

// Add counts n into the stats.
func (s *Stats) Add(n *Notification) {
	s.Total++
	if !n.IsRead {
		s.Unread++
	}
	s.BySeverity[n.Severity]++
	s.ByType[n.Type]++
	s.ByStage[n.Stage]++
}
