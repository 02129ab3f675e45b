// Package engine is the notification write path: it merges collector
// candidates into stored notifications under their identity key.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/herdwatch/internal/alert"
)

// Store is the persistence the engine needs. UpsertNotification must run
// merge and the write atomically per key.
type Store interface {
	UpsertNotification(ctx context.Context, key alert.Key, merge func(existing *alert.Notification) (*alert.Notification, error)) (*alert.Notification, error)
	LinkSiblings(ctx context.Context, id uuid.UUID) (*alert.Notification, error)
}

// Result describes what an upsert did.
type Result struct {
	Notification   *alert.Notification
	Created        bool
	StageChanged   bool
	ContentChanged bool
}

// Engine upserts candidates.
type Engine struct {
	store     Store
	localizer *alert.Localizer
	logger    *zap.Logger
	now       func() time.Time
}

// New creates an engine. Candidates without a message are rendered with
// localizer's default language.
func New(store Store, localizer *alert.Localizer, logger *zap.Logger) *Engine {
	return &Engine{
		store:     store,
		localizer: localizer,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock overrides the time source.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Upsert creates or updates the notification identified by c.Key().
func (e *Engine) Upsert(ctx context.Context, c alert.Candidate) (Result, error) {
	if c.Subject == nil {
		return Result{}, fmt.Errorf("candidate %s has no subject", c.ItemID)
	}
	msg := c.Message
	if msg == "" {
		msg = e.localizer.Message(c, "")
	}
	now := e.now().UTC()
	key := c.Key()

	var res Result
	merge := func(existing *alert.Notification) (*alert.Notification, error) {
		res = Result{}
		entry := alert.HistoryEntry{Stage: c.Stage, Severity: c.Severity, Message: msg, Timestamp: now}

		if existing == nil {
			res.Created, res.ContentChanged = true, true
			return &alert.Notification{
				ID:                   uuid.New(),
				Owner:                key.Owner,
				Type:                 key.Type,
				ItemID:               key.ItemID,
				DueDate:              key.DueDate,
				Subtype:              key.Subtype,
				Message:              msg,
				Severity:             c.Severity,
				Stage:                c.Stage,
				Category:             c.Category(),
				Metadata:             c.Subject.Metadata(),
				DeliveryChannels:     []alert.Channel{},
				RelatedNotifications: []uuid.UUID{},
				History:              alert.AppendHistory(nil, entry),
				CreatedAt:            now,
				UpdatedAt:            now,
			}, nil
		}

		n := existing.Clone()
		res.StageChanged = n.Stage != c.Stage
		res.ContentChanged = res.StageChanged || n.Severity != c.Severity || n.Message != msg

		n.Message = msg
		n.Severity = c.Severity
		n.Stage = c.Stage
		n.Category = c.Category()
		n.Metadata = c.Subject.Metadata()

		if res.StageChanged {
			// A new stage is a new alert for the user.
			n.IsRead, n.ReadAt = false, nil
			n.IsDelivered, n.DeliveredAt = false, nil
			n.DeliveryChannels = []alert.Channel{}
		}
		if res.ContentChanged {
			n.History = alert.AppendHistory(n.History, entry)
		}
		// Every observation refreshes updated_at; retention keys off it.
		n.UpdatedAt = now
		return n, nil
	}

	saved, err := e.store.UpsertNotification(ctx, key, merge)
	if err != nil {
		return Result{}, fmt.Errorf("upsert %s: %w", key, err)
	}

	if key.Type.DualPoint() {
		saved, err = e.store.LinkSiblings(ctx, saved.ID)
		if err != nil {
			return Result{}, fmt.Errorf("link siblings of %s: %w", key, err)
		}
	}
	res.Notification = saved

	if res.ContentChanged {
		e.logger.Debug("notification upserted",
			zap.String("notification_id", saved.ID.String()),
			zap.String("owner", key.Owner),
			zap.String("type", string(key.Type)),
			zap.String("stage", string(saved.Stage)),
			zap.Bool("created", res.Created),
			zap.Bool("stage_changed", res.StageChanged),
		)
	}
	return res, nil
}
