package digest

import (
	"time"

	"github.com/google/uuid"

	"github.com/lalithlochan/herdwatch/internal/alert"
)

// Status is the delivery state of a digest.
//
//	pending -> scheduled -> sent
//	pending|scheduled -> failed -> (retry) -> sent
//	any -> cancelled
type Status string

const (
	StatusPending   Status = "pending"
	StatusScheduled Status = "scheduled"
	StatusSent      Status = "sent"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Period identifies the ISO week a digest covers.
type Period struct {
	Year      int       `json:"year"`
	Week      int       `json:"week_number"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
}

type Summary struct {
	Total        int                    `json:"total"`
	Unread       int                    `json:"unread"`
	HighPriority int                    `json:"high_priority"`
	Critical     int                    `json:"critical"`
	ByType       map[alert.Type]int     `json:"by_type"`
	ByCategory   map[alert.Category]int `json:"by_category"`
	BySeverity   map[alert.Severity]int `json:"by_severity"`
}

type Highlight struct {
	NotificationID uuid.UUID      `json:"notification_id"`
	Type           alert.Type     `json:"type"`
	Severity       alert.Severity `json:"severity"`
	Headline       string         `json:"headline"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Digest is the weekly batch summary of one user's notifications.
type Digest struct {
	ID            uuid.UUID   `json:"id"`
	Owner         string      `json:"owner"`
	Period        Period      `json:"period"`
	Summary       Summary     `json:"summary"`
	Notifications []uuid.UUID `json:"notifications"`
	Highlights    []Highlight `json:"highlights"`
	Subject       string      `json:"subject"`
	Body          string      `json:"body"`

	Status              Status        `json:"status"`
	DeliveryChannel     alert.Channel `json:"delivery_channel,omitempty"`
	DeliveryAttempts    int           `json:"delivery_attempts"`
	LastDeliveryAttempt *time.Time    `json:"last_delivery_attempt,omitempty"`
	DeliveryError       string        `json:"delivery_error,omitempty"`
	ScheduledFor        time.Time     `json:"scheduled_for"`
	SentAt              *time.Time    `json:"sent_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy.
func (d *Digest) Clone() *Digest {
	if d == nil {
		return nil
	}
	c := *d
	c.Notifications = append([]uuid.UUID(nil), d.Notifications...)
	c.Highlights = append([]Highlight(nil), d.Highlights...)
	c.Summary.ByType = copyCounts(d.Summary.ByType)
	c.Summary.ByCategory = copyCounts(d.Summary.ByCategory)
	c.Summary.BySeverity = copyCounts(d.Summary.BySeverity)
	if d.LastDeliveryAttempt != nil {
		t := *d.LastDeliveryAttempt
		c.LastDeliveryAttempt = &t
	}
	if d.SentAt != nil {
		t := *d.SentAt
		c.SentAt = &t
	}
	return &c
}

func copyCounts[K comparable](m map[K]int) map[K]int {
	if m == nil {
		return nil
	}
	out := make(map[K]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// DeliveryUpdate records the outcome of a delivery attempt. CountAttempt is
// false when a queued attempt, already counted, completes.
type DeliveryUpdate struct {
	Status       Status
	Channel      alert.Channel
	Error        string
	Attempted    time.Time
	CountAttempt bool
}
