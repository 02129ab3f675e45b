// Package digest builds and delivers the weekly per-user notification digest.
package digest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/herdwatch/internal/alert"
	"github.com/lalithlochan/herdwatch/internal/events"
	"github.com/lalithlochan/herdwatch/internal/metrics"
	"github.com/lalithlochan/herdwatch/internal/preference"
	"github.com/lalithlochan/herdwatch/internal/worker"
)

const (
	// MaxHighlights bounds the highlight list.
	MaxHighlights = 5
	// HeadlineLength bounds a highlight headline in characters.
	HeadlineLength = 80
	// DefaultMaxAttempts is the delivery retry limit for a digest.
	DefaultMaxAttempts = 3
)

// Store is the persistence the generator needs.
type Store interface {
	GetDigest(ctx context.Context, owner string, year, week int) (*Digest, error)
	CreateDigest(ctx context.Context, d *Digest) (*Digest, bool, error)
	NotificationsForDigest(ctx context.Context, owner string, from, to time.Time, includeRead bool) ([]*alert.Notification, error)
	ListDueDigests(ctx context.Context, now time.Time, maxAttempts int) ([]*Digest, error)
	UpdateDigestDelivery(ctx context.Context, id uuid.UUID, u DeliveryUpdate) (*Digest, error)
	ListOwners(ctx context.Context) ([]string, error)
}

// Preferences resolves a user's normalized preference.
type Preferences interface {
	Get(ctx context.Context, owner string) (preference.Preference, error)
}

// Dispatcher hands a rendered digest to a delivery channel.
type Dispatcher interface {
	Deliver(ctx context.Context, d worker.Delivery) worker.Result
}

type Config struct {
	MaxAttempts int
}

// Generator creates weekly digests and delivers the due ones.
type Generator struct {
	store      Store
	prefs      Preferences
	dispatcher Dispatcher
	events     events.Publisher
	localizer  *alert.Localizer
	config     Config
	logger     *zap.Logger
	now        func() time.Time
}

func NewGenerator(store Store, prefs Preferences, dispatcher Dispatcher, publisher events.Publisher, localizer *alert.Localizer, cfg Config, logger *zap.Logger) *Generator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Generator{
		store:      store,
		prefs:      prefs,
		dispatcher: dispatcher,
		events:     publisher,
		localizer:  localizer,
		config:     cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// WithClock replaces the generator's time source.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// CreateWeeklyDigest returns the digest for owner's ISO week, creating it if
// needed. It returns nil when the owner has digests disabled and none exists.
func (g *Generator) CreateWeeklyDigest(ctx context.Context, owner string, year, week int) (*Digest, error) {
	if !ValidWeek(year, week) {
		return nil, fmt.Errorf("invalid iso week %d-W%02d", year, week)
	}

	existing, err := g.store.GetDigest(ctx, owner, year, week)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, alert.ErrNotFound) {
		return nil, fmt.Errorf("lookup digest: %w", err)
	}

	pref, err := g.prefs.Get(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("load preference: %w", err)
	}
	if !pref.Digest.Enabled {
		return nil, nil
	}

	loc := preference.Location(pref.QuietHours.Timezone)
	start := StartOfISOWeek(year, week, loc)
	end := EndOfISOWeek(year, week, loc)

	found, err := g.store.NotificationsForDigest(ctx, owner, start, end, pref.Digest.IncludeRead)
	if err != nil {
		return nil, fmt.Errorf("load notifications: %w", err)
	}
	included := selectNotifications(found, pref.Digest)

	now := g.now()
	d := &Digest{
		ID:    uuid.New(),
		Owner: owner,
		Period: Period{
			Year:      year,
			Week:      week,
			StartDate: start,
			EndDate:   end,
		},
		Summary:       summarize(included),
		Notifications: make([]uuid.UUID, 0, len(included)),
		Highlights:    highlights(included),
		Status:        StatusPending,
		ScheduledFor:  start.AddDate(0, 0, 7),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	for _, n := range included {
		d.Notifications = append(d.Notifications, n.ID)
	}

	d.Subject, d.Body, err = render(g.localizer.Printer(pref.Language), d, pref.Digest)
	if err != nil {
		return nil, fmt.Errorf("render digest: %w", err)
	}

	saved, created, err := g.store.CreateDigest(ctx, d)
	if err != nil {
		return nil, fmt.Errorf("save digest: %w", err)
	}
	if created {
		metrics.RecordDigest("created")
		g.publish(ctx, events.DigestCreated, saved, map[string]any{
			"year":  year,
			"week":  week,
			"total": saved.Summary.Total,
		})
		g.logger.Info("digest created",
			zap.String("owner", owner),
			zap.String("digest_id", saved.ID.String()),
			zap.Int("year", year),
			zap.Int("week", week),
			zap.Int("notifications", len(saved.Notifications)),
		)
	}
	return saved, nil
}

// selectNotifications applies the digest inclusion maps and the item cap.
// The input is newest first.
func selectNotifications(ns []*alert.Notification, s preference.DigestSettings) []*alert.Notification {
	out := make([]*alert.Notification, 0, len(ns))
	for _, n := range ns {
		if !s.Includes(n) {
			continue
		}
		out = append(out, n)
		if s.MaxItems > 0 && len(out) == s.MaxItems {
			break
		}
	}
	return out
}

func summarize(ns []*alert.Notification) Summary {
	s := Summary{
		ByType:     make(map[alert.Type]int),
		ByCategory: make(map[alert.Category]int),
		BySeverity: make(map[alert.Severity]int),
	}
	for _, n := range ns {
		s.Total++
		if !n.IsRead {
			s.Unread++
		}
		switch n.Severity {
		case alert.SeverityHigh:
			s.HighPriority++
		case alert.SeverityCritical:
			s.Critical++
		}
		s.ByType[n.Type]++
		if n.Category != "" {
			s.ByCategory[n.Category]++
		}
		s.BySeverity[n.Severity]++
	}
	return s
}

// highlights picks up to MaxHighlights critical and high notifications,
// critical first, newest first within a severity.
func highlights(ns []*alert.Notification) []Highlight {
	picked := make([]*alert.Notification, 0, len(ns))
	for _, n := range ns {
		if n.Severity == alert.SeverityCritical || n.Severity == alert.SeverityHigh {
			picked = append(picked, n)
		}
	}
	sort.SliceStable(picked, func(i, j int) bool {
		ri, rj := picked[i].Severity.Rank(), picked[j].Severity.Rank()
		if ri != rj {
			return ri > rj
		}
		return picked[i].CreatedAt.After(picked[j].CreatedAt)
	})
	if len(picked) > MaxHighlights {
		picked = picked[:MaxHighlights]
	}

	out := make([]Highlight, 0, len(picked))
	for _, n := range picked {
		out = append(out, Highlight{
			NotificationID: n.ID,
			Type:           n.Type,
			Severity:       n.Severity,
			Headline:       headline(n.Message),
			CreatedAt:      n.CreatedAt,
		})
	}
	return out
}

func headline(msg string) string {
	r := []rune(msg)
	if len(r) <= HeadlineLength {
		return msg
	}
	return string(r[:HeadlineLength-1]) + "…"
}

func (g *Generator) publish(ctx context.Context, eventType string, d *Digest, data map[string]any) {
	e := events.New(eventType, d.Owner, d.ID, g.now(), data)
	if err := g.events.Publish(ctx, e); err != nil {
		g.logger.Warn("failed to publish digest event",
			zap.String("type", eventType),
			zap.String("digest_id", d.ID.String()),
			zap.Error(err),
		)
	}
}
