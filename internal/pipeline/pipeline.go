// Package pipeline holds the bodies of the scheduled jobs: the expiry check
// that turns collected candidates into notifications and real-time
// deliveries, digest processing, and retention cleanup.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/herdwatch/internal/alert"
	"github.com/lalithlochan/herdwatch/internal/collector"
	"github.com/lalithlochan/herdwatch/internal/digest"
	"github.com/lalithlochan/herdwatch/internal/engine"
	"github.com/lalithlochan/herdwatch/internal/events"
	"github.com/lalithlochan/herdwatch/internal/metrics"
	"github.com/lalithlochan/herdwatch/internal/preference"
	"github.com/lalithlochan/herdwatch/internal/redis"
	"github.com/lalithlochan/herdwatch/internal/scheduler"
	"github.com/lalithlochan/herdwatch/internal/worker"
)

const (
	DefaultNotificationRetention = 90 * 24 * time.Hour
	DefaultDigestRetention       = 365 * 24 * time.Hour
)

// Store is the persistence the jobs use directly.
type Store interface {
	GetPreference(ctx context.Context, owner string) (*preference.Preference, error)
	MarkDelivered(ctx context.Context, id uuid.UUID, channels []alert.Channel, at time.Time) error
	DeleteNotificationsBefore(ctx context.Context, owner string, cutoff time.Time) (int64, error)
	TouchNotifications(ctx context.Context, keys []alert.Key, at time.Time) (int64, error)
	DeleteDigestsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Collector gathers the candidates due in a window.
type Collector interface {
	Collect(ctx context.Context, w collector.Window) []alert.Candidate
}

// Upserter merges a candidate into the notification store.
type Upserter interface {
	Upsert(ctx context.Context, c alert.Candidate) (engine.Result, error)
}

// Limiter enforces per-user real-time delivery limits.
type Limiter interface {
	AllowDelivery(ctx context.Context, owner string, maxPerHour, maxPerDay int) (*redis.RateLimitResult, error)
}

// Dispatcher hands a delivery to a channel.
type Dispatcher interface {
	Deliver(ctx context.Context, d worker.Delivery) worker.Result
}

// Digests creates and delivers weekly digests.
type Digests interface {
	ProcessDue(ctx context.Context, now time.Time) (digest.Report, error)
	RecordQueuedOutcome(ctx context.Context, d worker.Delivery, sendErr error) error
}

type Config struct {
	NotificationRetention time.Duration
	DigestRetention       time.Duration
}

// Options collects the pipeline's collaborators. Limiter and Events are
// optional.
type Options struct {
	Store      Store
	Collector  Collector
	Engine     Upserter
	Dispatcher Dispatcher
	Digests    Digests
	Limiter    Limiter
	Events     events.Publisher
	Localizer  *alert.Localizer
}

// Pipeline runs the job bodies.
type Pipeline struct {
	store      Store
	collector  Collector
	engine     Upserter
	dispatcher Dispatcher
	digests    Digests
	limiter    Limiter
	events     events.Publisher
	localizer  *alert.Localizer
	config     Config
	logger     *zap.Logger
	now        func() time.Time
}

func New(opts Options, cfg Config, logger *zap.Logger) *Pipeline {
	if cfg.NotificationRetention <= 0 {
		cfg.NotificationRetention = DefaultNotificationRetention
	}
	if cfg.DigestRetention <= 0 {
		cfg.DigestRetention = DefaultDigestRetention
	}
	publisher := opts.Events
	if publisher == nil {
		publisher = events.Nop{}
	}
	localizer := opts.Localizer
	if localizer == nil {
		localizer = alert.NewLocalizer(preference.DefaultLanguage)
	}
	return &Pipeline{
		store:      opts.Store,
		collector:  opts.Collector,
		engine:     opts.Engine,
		dispatcher: opts.Dispatcher,
		digests:    opts.Digests,
		limiter:    opts.Limiter,
		events:     publisher,
		localizer:  localizer,
		config:     cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// WithClock replaces the time source used when a run has no start time.
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

// CheckStats counts what one expiry check did.
type CheckStats struct {
	Candidates   int
	Created      int
	StageChanged int
	Updated      int
	Unchanged    int
	Delivered    int
	Withheld     int
	Errors       int
}

func (s CheckStats) String() string {
	return fmt.Sprintf("candidates=%d created=%d stage_changed=%d updated=%d unchanged=%d delivered=%d withheld=%d errors=%d",
		s.Candidates, s.Created, s.StageChanged, s.Updated, s.Unchanged, s.Delivered, s.Withheld, s.Errors)
}

// CheckExpiry collects the candidates due since the last successful run,
// upserts each one and delivers the notifications that are new or changed
// stage. Per-candidate failures are logged and skipped.
func (p *Pipeline) CheckExpiry(ctx context.Context, inv scheduler.Invocation) (string, error) {
	stats, err := p.checkExpiry(ctx, p.runTime(inv), inv.LastSuccess)
	return stats.String(), err
}

func (p *Pipeline) checkExpiry(ctx context.Context, now, last time.Time) (CheckStats, error) {
	var stats CheckStats
	window := collector.NewWindow(last, now)

	candidates := p.collector.Collect(ctx, window)
	stats.Candidates = len(candidates)

	prefs := make(map[string]*preference.Preference)
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		pref, err := p.preference(ctx, c.Owner, prefs)
		if err != nil {
			p.logger.Warn("failed to load preference, using defaults",
				zap.String("owner", c.Owner),
				zap.Error(err),
			)
		}
		lang := ""
		if pref != nil {
			lang = pref.Language
		}
		c.Message = p.localizer.Message(c, lang)

		res, err := p.engine.Upsert(ctx, c)
		if err != nil {
			stats.Errors++
			metrics.RecordUpsert(string(c.Type()), "error")
			p.logger.Error("failed to upsert candidate",
				zap.String("owner", c.Owner),
				zap.String("item_id", c.ItemID),
				zap.String("type", string(c.Type())),
				zap.Error(err),
			)
			continue
		}

		n := res.Notification
		switch {
		case res.Created:
			stats.Created++
			metrics.RecordUpsert(string(n.Type), "created")
			p.publish(ctx, events.NotificationCreated, n, now)
		case res.StageChanged:
			stats.StageChanged++
			metrics.RecordUpsert(string(n.Type), "stage_changed")
			p.publish(ctx, events.NotificationStageChanged, n, now)
		case res.ContentChanged:
			stats.Updated++
			metrics.RecordUpsert(string(n.Type), "updated")
			continue
		default:
			stats.Unchanged++
			metrics.RecordUpsert(string(n.Type), "unchanged")
			continue
		}

		if p.notify(ctx, pref, n, now) {
			stats.Delivered++
		} else {
			stats.Withheld++
		}
	}

	p.logger.Info("expiry check complete",
		zap.Time("since", window.Since),
		zap.Time("now", window.Now),
		zap.Int("candidates", stats.Candidates),
		zap.Int("created", stats.Created),
		zap.Int("stage_changed", stats.StageChanged),
		zap.Int("delivered", stats.Delivered),
		zap.Int("errors", stats.Errors),
	)
	return stats, nil
}

// preference returns the owner's normalized preference, or nil when none
// is stored. Results are cached for the run.
func (p *Pipeline) preference(ctx context.Context, owner string, cache map[string]*preference.Preference) (*preference.Preference, error) {
	if pref, ok := cache[owner]; ok {
		return pref, nil
	}
	stored, err := p.store.GetPreference(ctx, owner)
	if err != nil {
		if errors.Is(err, alert.ErrNotFound) {
			cache[owner] = nil
			return nil, nil
		}
		return nil, err
	}
	norm := preference.Normalize(*stored)
	cache[owner] = &norm
	return &norm, nil
}

// notify gates n and hands it to each routed channel. It reports whether
// at least one channel accepted the delivery.
func (p *Pipeline) notify(ctx context.Context, pref *preference.Preference, n *alert.Notification, now time.Time) bool {
	decision := preference.Decide(pref, n, now)
	metrics.RecordGateDecision(decision.Reason)
	if !decision.Send {
		p.logger.Debug("delivery withheld by preference",
			zap.String("notification_id", n.ID.String()),
			zap.String("reason", decision.Reason),
		)
		return false
	}

	if p.limiter != nil {
		limits := preference.Defaults(n.Owner).RateLimits
		if pref != nil {
			limits = pref.RateLimits
		}
		res, err := p.limiter.AllowDelivery(ctx, n.Owner, limits.MaxPerHour, limits.MaxPerDay)
		switch {
		case err != nil:
			p.logger.Warn("rate limit check failed, delivering anyway",
				zap.String("owner", n.Owner),
				zap.Error(err),
			)
		case !res.Allowed:
			metrics.RecordRateLimitRejection(res.Window)
			p.logger.Info("delivery withheld by rate limit",
				zap.String("owner", n.Owner),
				zap.String("notification_id", n.ID.String()),
				zap.String("window", res.Window),
			)
			return false
		}
	}

	id := n.ID
	var delivered []alert.Channel
	accepted := false
	for _, channel := range decision.Channels {
		address := ""
		if pref != nil {
			address = pref.Channels[channel].Address
		}
		if channel != alert.ChannelApp && address == "" {
			p.logger.Debug("skipping channel without address",
				zap.String("owner", n.Owner),
				zap.String("channel", string(channel)),
			)
			continue
		}

		res := p.dispatcher.Deliver(ctx, worker.Delivery{
			Owner:          n.Owner,
			Channel:        channel,
			Address:        address,
			Body:           n.Message,
			Severity:       n.Severity,
			NotificationID: &id,
		})
		if res.Err != nil {
			continue
		}
		accepted = true
		if res.Delivered {
			delivered = append(delivered, channel)
		}
	}

	if len(delivered) > 0 {
		if err := p.store.MarkDelivered(ctx, n.ID, delivered, now); err != nil {
			p.logger.Error("failed to mark notification delivered",
				zap.String("notification_id", n.ID.String()),
				zap.Error(err),
			)
		}
	}
	return accepted
}

// RecordOutcome finalises a delivery that went through the hand-off queue.
// It is registered as the queue consumer's outcome hook.
func (p *Pipeline) RecordOutcome(ctx context.Context, d worker.Delivery, sendErr error) {
	switch {
	case d.DigestID != nil:
		if err := p.digests.RecordQueuedOutcome(ctx, d, sendErr); err != nil {
			p.logger.Error("failed to record digest outcome",
				zap.String("digest_id", d.DigestID.String()),
				zap.Error(err),
			)
		}
	case d.NotificationID != nil && sendErr == nil:
		if err := p.store.MarkDelivered(ctx, *d.NotificationID, []alert.Channel{d.Channel}, p.now()); err != nil {
			p.logger.Error("failed to mark notification delivered",
				zap.String("notification_id", d.NotificationID.String()),
				zap.Error(err),
			)
		}
	case d.NotificationID != nil:
		p.logger.Warn("queued notification delivery failed",
			zap.String("notification_id", d.NotificationID.String()),
			zap.String("channel", string(d.Channel)),
			zap.Error(sendErr),
		)
	}
}

// ProcessDigests creates and delivers the digests due at the run time.
func (p *Pipeline) ProcessDigests(ctx context.Context, inv scheduler.Invocation) (string, error) {
	report, err := p.digests.ProcessDue(ctx, p.runTime(inv))
	summary := fmt.Sprintf("created=%d sent=%d scheduled=%d failed=%d errors=%d",
		report.Created, report.Sent, report.Scheduled, report.Failed, report.Errors)
	if err != nil {
		return summary, fmt.Errorf("process digests: %w", err)
	}
	return summary, nil
}

// Cleanup deletes notifications and digests past their retention.
// Notifications the collectors still emit are refreshed first so an alert
// that is still live is never deleted and then re-created as new.
func (p *Pipeline) Cleanup(ctx context.Context, inv scheduler.Invocation) (string, error) {
	now := p.runTime(inv)

	live := p.collector.Collect(ctx, collector.NewWindow(time.Time{}, now))
	keys := make([]alert.Key, 0, len(live))
	for _, c := range live {
		keys = append(keys, c.Key())
	}
	if _, err := p.store.TouchNotifications(ctx, keys, now); err != nil {
		return "", fmt.Errorf("refresh live notifications: %w", err)
	}

	notifications, err := p.store.DeleteNotificationsBefore(ctx, "", now.Add(-p.config.NotificationRetention))
	if err != nil {
		return "", fmt.Errorf("cleanup notifications: %w", err)
	}
	digests, err := p.store.DeleteDigestsBefore(ctx, now.Add(-p.config.DigestRetention))
	if err != nil {
		return "", fmt.Errorf("cleanup digests: %w", err)
	}

	p.logger.Info("retention cleanup complete",
		zap.Int64("notifications_deleted", notifications),
		zap.Int64("digests_deleted", digests),
	)
	return fmt.Sprintf("notifications_deleted=%d digests_deleted=%d", notifications, digests), nil
}

func (p *Pipeline) runTime(inv scheduler.Invocation) time.Time {
	if !inv.StartedAt.IsZero() {
		return inv.StartedAt
	}
	return p.now()
}

func (p *Pipeline) publish(ctx context.Context, eventType string, n *alert.Notification, now time.Time) {
	e := events.New(eventType, n.Owner, n.ID, now, map[string]any{
		"type":     string(n.Type),
		"item_id":  n.ItemID,
		"stage":    string(n.Stage),
		"severity": string(n.Severity),
	})
	if err := p.events.Publish(ctx, e); err != nil {
		p.logger.Warn("failed to publish notification event",
			zap.String("type", eventType),
			zap.String("notification_id", n.ID.String()),
			zap.Error(err),
		)
	}
}
