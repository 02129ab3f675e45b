package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/lalithlochan/herdwatch/internal/alert"
)

// Repository is the Postgres store for notifications, preferences, digests
// and the read-only source tables.
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new repository
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Health checks the underlying pool.
func (r *Repository) Health(ctx context.Context) error {
	return r.db.Health(ctx)
}

const notificationColumns = `
	id, owner, type, item_id, due_date, subtype, message, severity, stage,
	category, metadata, is_read, read_at, is_delivered, delivered_at,
	delivery_channels, related_notifications::text[], history, digest_id,
	created_at, updated_at`

func scanNotification(row pgx.Row) (*alert.Notification, error) {
	var (
		n                              alert.Notification
		typ, severity, stage, category string
		metadata, history              []byte
		channels, related              []string
	)
	err := row.Scan(
		&n.ID, &n.Owner, &typ, &n.ItemID, &n.DueDate, &n.Subtype, &n.Message,
		&severity, &stage, &category, &metadata, &n.IsRead, &n.ReadAt,
		&n.IsDelivered, &n.DeliveredAt, &channels, &related, &history,
		&n.DigestID, &n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	n.Type = alert.Type(typ)
	n.Severity = alert.Severity(severity)
	n.Stage = alert.Stage(stage)
	n.Category = alert.Category(category)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &n.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &n.History); err != nil {
			return nil, fmt.Errorf("decode history: %w", err)
		}
	}
	n.DeliveryChannels = make([]alert.Channel, 0, len(channels))
	for _, c := range channels {
		n.DeliveryChannels = append(n.DeliveryChannels, alert.Channel(c))
	}
	n.RelatedNotifications = make([]uuid.UUID, 0, len(related))
	for _, s := range related {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("decode related id: %w", err)
		}
		n.RelatedNotifications = append(n.RelatedNotifications, id)
	}
	return &n, nil
}

func channelStrings(cs []alert.Channel) []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, string(c))
	}
	return out
}

func idStrings(ids []uuid.UUID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}

func notificationArgs(n *alert.Notification) ([]any, error) {
	metadata, err := json.Marshal(n.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	if n.Metadata == nil {
		metadata = []byte("{}")
	}
	history, err := json.Marshal(n.History)
	if err != nil {
		return nil, fmt.Errorf("encode history: %w", err)
	}
	if n.History == nil {
		history = []byte("[]")
	}
	return []any{
		n.ID, n.Owner, string(n.Type), n.ItemID, n.DueDate, n.Subtype, n.Message,
		string(n.Severity), string(n.Stage), string(n.Category), json.RawMessage(metadata),
		n.IsRead, n.ReadAt, n.IsDelivered, n.DeliveredAt,
		channelStrings(n.DeliveryChannels), idStrings(n.RelatedNotifications),
		json.RawMessage(history), n.DigestID, n.CreatedAt, n.UpdatedAt,
	}, nil
}

// UpsertNotification runs merge against the current record for key (nil when
// absent) and writes the result, all under a per-key transaction lock.
func (r *Repository) UpsertNotification(
	ctx context.Context,
	key alert.Key,
	merge func(existing *alert.Notification) (*alert.Notification, error),
) (*alert.Notification, error) {
	var saved *alert.Notification

	err := r.db.InTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key.String()); err != nil {
			return fmt.Errorf("lock key: %w", err)
		}

		existing, err := scanNotification(tx.QueryRow(ctx, `
			SELECT `+notificationColumns+`
			FROM notifications
			WHERE owner = $1 AND type = $2 AND item_id = $3
			  AND due_date IS NOT DISTINCT FROM $4 AND subtype = $5
			FOR UPDATE`,
			key.Owner, string(key.Type), key.ItemID, key.DueDate, key.Subtype,
		))
		if errors.Is(err, pgx.ErrNoRows) {
			existing = nil
		} else if err != nil {
			return fmt.Errorf("select notification: %w", err)
		}

		next, err := merge(existing)
		if err != nil {
			return err
		}
		args, err := notificationArgs(next)
		if err != nil {
			return err
		}

		if existing == nil {
			saved, err = scanNotification(tx.QueryRow(ctx, `
				INSERT INTO notifications (
					id, owner, type, item_id, due_date, subtype, message, severity, stage,
					category, metadata, is_read, read_at, is_delivered, delivered_at,
					delivery_channels, related_notifications, history, digest_id,
					created_at, updated_at
				) VALUES (
					$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
					$16, $17::uuid[], $18, $19, $20, $21
				)
				RETURNING `+notificationColumns, args...))
		} else {
			saved, err = scanNotification(tx.QueryRow(ctx, `
				UPDATE notifications SET
					message = $7, severity = $8, stage = $9, category = $10, metadata = $11,
					is_read = $12, read_at = $13, is_delivered = $14, delivered_at = $15,
					delivery_channels = $16, related_notifications = $17::uuid[],
					history = $18, digest_id = $19, created_at = $20, updated_at = $21
				WHERE id = $1 AND owner = $2 AND type = $3 AND item_id = $4
				  AND due_date IS NOT DISTINCT FROM $5 AND subtype = $6
				RETURNING `+notificationColumns, args...))
		}
		if err != nil {
			return fmt.Errorf("write notification: %w", err)
		}
		return nil
	})
	if err != nil {
		r.logger.Error("failed to upsert notification",
			zap.Error(err),
			zap.String("key", key.String()),
		)
		return nil, fmt.Errorf("upsert notification: %w", err)
	}
	return saved, nil
}

// LinkSiblings sets relatedNotifications on every notification sharing
// (owner, type, item_id) with id to the ids of the others, and returns the
// refreshed notification.
func (r *Repository) LinkSiblings(ctx context.Context, id uuid.UUID) (*alert.Notification, error) {
	query := `
		WITH target AS (
			SELECT owner, type, item_id FROM notifications WHERE id = $1
		), grp AS (
			SELECT n.id FROM notifications n, target t
			WHERE n.owner = t.owner AND n.type = t.type AND n.item_id = t.item_id
		)
		UPDATE notifications n SET related_notifications = COALESCE((
			SELECT array_agg(g.id ORDER BY g.id) FROM grp g WHERE g.id <> n.id
		), '{}')
		WHERE n.id IN (SELECT id FROM grp)
	`
	if _, err := r.db.Pool().Exec(ctx, query, id); err != nil {
		r.logger.Error("failed to link siblings",
			zap.Error(err),
			zap.String("notification_id", id.String()),
		)
		return nil, fmt.Errorf("link siblings: %w", err)
	}

	n, err := scanNotification(r.db.Pool().QueryRow(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query notification: %w", err)
	}
	return n, nil
}

// GetNotification retrieves one of owner's notifications.
func (r *Repository) GetNotification(ctx context.Context, owner string, id uuid.UUID) (*alert.Notification, error) {
	n, err := scanNotification(r.db.Pool().QueryRow(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE id = $1 AND owner = $2`, id, owner))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		r.logger.Error("failed to get notification",
			zap.Error(err),
			zap.String("notification_id", id.String()),
		)
		return nil, fmt.Errorf("query notification: %w", err)
	}
	return n, nil
}

func filterClause(owner string, f alert.ListFilter) (string, []any) {
	conds := []string{"owner = $1"}
	args := []any{owner}
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.Read != nil {
		add("is_read = $%d", *f.Read)
	}
	if f.Type != "" {
		add("type = $%d", string(f.Type))
	}
	if f.Severity != "" {
		add("severity = $%d", string(f.Severity))
	}
	if f.Category != "" {
		add("category = $%d", string(f.Category))
	}
	return strings.Join(conds, " AND "), args
}

// ListNotifications returns a page of owner's notifications, newest first,
// and the total number matching the filter.
func (r *Repository) ListNotifications(ctx context.Context, owner string, f alert.ListFilter) ([]*alert.Notification, int, error) {
	where, args := filterClause(owner, f)

	var total int
	if err := r.db.Pool().QueryRow(ctx, `SELECT count(*) FROM notifications WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}

	args = append(args, f.Limit, f.Offset)
	query := fmt.Sprintf(`SELECT %s FROM notifications WHERE %s
		ORDER BY created_at DESC, id
		LIMIT $%d OFFSET $%d`, notificationColumns, where, len(args)-1, len(args))

	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	var out []*alert.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate rows: %w", err)
	}
	return out, total, nil
}

// NotificationStats counts owner's notifications.
func (r *Repository) NotificationStats(ctx context.Context, owner string) (*alert.Stats, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT type, severity, stage, is_read, count(*)
		FROM notifications WHERE owner = $1
		GROUP BY type, severity, stage, is_read`, owner)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	stats := alert.NewStats()
	for rows.Next() {
		var (
			typ, severity, stage string
			read                 bool
			count                int
		)
		if err := rows.Scan(&typ, &severity, &stage, &read, &count); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		stats.Total += count
		if !read {
			stats.Unread += count
		}
		stats.ByType[alert.Type(typ)] += count
		stats.BySeverity[alert.Severity(severity)] += count
		stats.ByStage[alert.Stage(stage)] += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return stats, nil
}

// MarkRead marks one notification read and returns it.
func (r *Repository) MarkRead(ctx context.Context, owner string, id uuid.UUID, at time.Time) (*alert.Notification, error) {
	n, err := scanNotification(r.db.Pool().QueryRow(ctx, `
		UPDATE notifications
		SET is_read = true, read_at = COALESCE(read_at, $3), updated_at = $3
		WHERE id = $1 AND owner = $2
		RETURNING `+notificationColumns, id, owner, at))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		r.logger.Error("failed to mark notification read",
			zap.Error(err),
			zap.String("notification_id", id.String()),
		)
		return nil, fmt.Errorf("mark read: %w", err)
	}
	return n, nil
}

// MarkAllRead marks every unread notification of owner read.
func (r *Repository) MarkAllRead(ctx context.Context, owner string, at time.Time) (int64, error) {
	tag, err := r.db.Pool().Exec(ctx, `
		UPDATE notifications SET is_read = true, read_at = $2, updated_at = $2
		WHERE owner = $1 AND NOT is_read`, owner, at)
	if err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteNotification removes one of owner's notifications.
func (r *Repository) DeleteNotification(ctx context.Context, owner string, id uuid.UUID) error {
	tag, err := r.db.Pool().Exec(ctx, `DELETE FROM notifications WHERE id = $1 AND owner = $2`, id, owner)
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteNotificationsBefore removes notifications last refreshed before
// cutoff. Notifications a collector still emits are refreshed on every check
// and survive. An empty owner applies to every user.
func (r *Repository) DeleteNotificationsBefore(ctx context.Context, owner string, cutoff time.Time) (int64, error) {
	tag, err := r.db.Pool().Exec(ctx, `
		DELETE FROM notifications
		WHERE updated_at < $1 AND ($2 = '' OR owner = $2)`, cutoff, owner)
	if err != nil {
		return 0, fmt.Errorf("delete old notifications: %w", err)
	}
	return tag.RowsAffected(), nil
}

// TouchNotifications refreshes updated_at of the notifications identified
// by keys. Missing keys are ignored.
func (r *Repository) TouchNotifications(ctx context.Context, keys []alert.Key, at time.Time) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	batch := &pgx.Batch{}
	for _, k := range keys {
		batch.Queue(`
			UPDATE notifications SET updated_at = GREATEST(updated_at, $6)
			WHERE owner = $1 AND type = $2 AND item_id = $3
			  AND due_date IS NOT DISTINCT FROM $4 AND subtype = $5`,
			k.Owner, string(k.Type), k.ItemID, k.DueDate, k.Subtype, at)
	}

	results := r.db.Pool().SendBatch(ctx, batch)
	defer results.Close()

	var touched int64
	for range keys {
		tag, err := results.Exec()
		if err != nil {
			return touched, fmt.Errorf("touch notifications: %w", err)
		}
		touched += tag.RowsAffected()
	}
	return touched, nil
}

// MarkDelivered records channels that delivered the notification.
func (r *Repository) MarkDelivered(ctx context.Context, id uuid.UUID, channels []alert.Channel, at time.Time) error {
	tag, err := r.db.Pool().Exec(ctx, `
		UPDATE notifications SET
			is_delivered = true,
			delivered_at = $3,
			delivery_channels = ARRAY(
				SELECT DISTINCT c FROM unnest(delivery_channels || $2::text[]) AS c ORDER BY c
			),
			updated_at = $3
		WHERE id = $1`, id, channelStrings(channels), at)
	if err != nil {
		r.logger.Error("failed to mark notification delivered",
			zap.Error(err),
			zap.String("notification_id", id.String()),
		)
		return fmt.Errorf("mark delivered: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// NotificationsForDigest returns owner's notifications created in
// [from, to], newest first.
func (r *Repository) NotificationsForDigest(ctx context.Context, owner string, from, to time.Time, includeRead bool) ([]*alert.Notification, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE owner = $1 AND created_at >= $2 AND created_at <= $3 AND ($4 OR NOT is_read)
		ORDER BY created_at DESC, id`, owner, from, to, includeRead)
	if err != nil {
		return nil, fmt.Errorf("query digest notifications: %w", err)
	}
	defer rows.Close()

	var out []*alert.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// ListOwners returns every owner with notifications or a stored preference.
func (r *Repository) ListOwners(ctx context.Context) ([]string, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT owner FROM notifications
		UNION
		SELECT owner FROM user_alert_preferences
		ORDER BY owner`)
	if err != nil {
		return nil, fmt.Errorf("query owners: %w", err)
	}
	defer rows.Close()

	var owners []string
	for rows.Next() {
		var o string
		if err := rows.Scan(&o); err != nil {
			return nil, fmt.Errorf("scan owner: %w", err)
		}
		owners = append(owners, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return owners, nil
}
