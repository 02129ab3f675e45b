package digest

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/herdwatch/internal/alert"
	"github.com/lalithlochan/herdwatch/internal/events"
	"github.com/lalithlochan/herdwatch/internal/metrics"
	"github.com/lalithlochan/herdwatch/internal/preference"
	"github.com/lalithlochan/herdwatch/internal/worker"
)

// Report summarises one ProcessDue pass.
type Report struct {
	Created   int `json:"created"`
	Sent      int `json:"sent"`
	Scheduled int `json:"scheduled"`
	Failed    int `json:"failed"`
	Errors    int `json:"errors"`
}

// ProcessDue creates the digest each opted-in user is owed as of now and
// delivers every due digest. Per-user failures are logged and counted; the
// pass continues with the next user.
func (g *Generator) ProcessDue(ctx context.Context, now time.Time) (Report, error) {
	var report Report

	owners, err := g.store.ListOwners(ctx)
	if err != nil {
		return report, fmt.Errorf("list owners: %w", err)
	}

	for _, owner := range owners {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		created, err := g.createDue(ctx, owner, now)
		if err != nil {
			report.Errors++
			g.logger.Error("failed to create digest", zap.String("owner", owner), zap.Error(err))
			continue
		}
		if created {
			report.Created++
		}
	}

	due, err := g.store.ListDueDigests(ctx, now, g.config.MaxAttempts)
	if err != nil {
		return report, fmt.Errorf("list due digests: %w", err)
	}
	for _, d := range due {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		switch g.deliver(ctx, d, now) {
		case StatusSent:
			report.Sent++
		case StatusScheduled:
			report.Scheduled++
		case StatusFailed:
			report.Failed++
		default:
			report.Errors++
		}
	}

	g.logger.Info("digest pass complete",
		zap.Int("created", report.Created),
		zap.Int("sent", report.Sent),
		zap.Int("scheduled", report.Scheduled),
		zap.Int("failed", report.Failed),
		zap.Int("errors", report.Errors),
	)
	return report, nil
}

// createDue creates the digest for the last complete week before the
// owner's most recent digest moment. It reports whether a new digest was
// written.
func (g *Generator) createDue(ctx context.Context, owner string, now time.Time) (bool, error) {
	pref, err := g.prefs.Get(ctx, owner)
	if err != nil {
		return false, err
	}
	if !pref.Digest.Enabled {
		return false, nil
	}

	loc := preference.Location(pref.QuietHours.Timezone)
	moment, ok := lastMoment(pref.Digest, now.In(loc))
	if !ok {
		return false, fmt.Errorf("invalid digest schedule %q %q", pref.Digest.Day, pref.Digest.Time)
	}
	year, week := PreviousWeek(moment)

	if _, err := g.store.GetDigest(ctx, owner, year, week); err == nil {
		return false, nil
	}
	d, err := g.CreateWeeklyDigest(ctx, owner, year, week)
	if err != nil {
		return false, err
	}
	return d != nil, nil
}

// lastMoment returns the latest configured digest day and time at or before
// local.
func lastMoment(s preference.DigestSettings, local time.Time) (time.Time, bool) {
	day, ok := preference.ParseWeekday(s.Day)
	if !ok {
		return time.Time{}, false
	}
	minutes, err := preference.ParseClock(s.Time)
	if err != nil {
		return time.Time{}, false
	}

	today := time.Date(local.Year(), local.Month(), local.Day(), minutes/60, minutes%60, 0, 0, local.Location())
	for i := 0; i <= 7; i++ {
		c := today.AddDate(0, 0, -i)
		if c.Weekday() == day && !c.After(local) {
			return c, true
		}
	}
	return time.Time{}, false
}

// deliver sends one digest and records the outcome on it.
func (g *Generator) deliver(ctx context.Context, d *Digest, now time.Time) Status {
	pref, err := g.prefs.Get(ctx, d.Owner)
	if err != nil {
		g.logger.Error("failed to load preference for digest delivery",
			zap.String("digest_id", d.ID.String()),
			zap.Error(err),
		)
		return ""
	}

	channel, address := alert.ChannelApp, ""
	if email := pref.Channels[alert.ChannelEmail]; email.Enabled && email.Address != "" {
		channel, address = alert.ChannelEmail, email.Address
	}

	id := d.ID
	res := g.dispatcher.Deliver(ctx, worker.Delivery{
		Owner:    d.Owner,
		Channel:  channel,
		Address:  address,
		Subject:  d.Subject,
		Body:     d.Body,
		DigestID: &id,
	})

	update := DeliveryUpdate{
		Channel:      channel,
		Attempted:    now,
		CountAttempt: true,
	}
	var eventType string
	switch {
	case res.Err != nil:
		update.Status = StatusFailed
		update.Error = res.Err.Error()
		eventType = events.DigestFailed
	case res.Queued:
		update.Status = StatusScheduled
	default:
		update.Status = StatusSent
		eventType = events.DigestSent
	}

	saved, err := g.store.UpdateDigestDelivery(ctx, d.ID, update)
	if err != nil {
		g.logger.Error("failed to record digest delivery",
			zap.String("digest_id", d.ID.String()),
			zap.Error(err),
		)
		return ""
	}

	metrics.RecordDigest(string(update.Status))
	if eventType != "" {
		g.publish(ctx, eventType, saved, map[string]any{
			"channel":  string(channel),
			"attempts": saved.DeliveryAttempts,
			"error":    update.Error,
		})
	}
	return update.Status
}

// RecordQueuedOutcome finalises a digest whose delivery went through the
// queue. It does not count another attempt.
func (g *Generator) RecordQueuedOutcome(ctx context.Context, d worker.Delivery, sendErr error) error {
	if d.DigestID == nil {
		return nil
	}
	update := DeliveryUpdate{
		Status:    StatusSent,
		Channel:   d.Channel,
		Attempted: g.now(),
	}
	eventType := events.DigestSent
	if sendErr != nil {
		update.Status = StatusFailed
		update.Error = sendErr.Error()
		eventType = events.DigestFailed
	}

	saved, err := g.store.UpdateDigestDelivery(ctx, *d.DigestID, update)
	if err != nil {
		return fmt.Errorf("record digest outcome: %w", err)
	}
	metrics.RecordDigest(string(update.Status))
	g.publish(ctx, eventType, saved, map[string]any{"channel": string(d.Channel)})
	return nil
}
