package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/lalithlochan/herdwatch/internal/alert"
	"github.com/lalithlochan/herdwatch/internal/digest"
)

const digestColumns = `
	id, owner, year, week, start_date, end_date, summary, notifications::text[],
	highlights, subject, body, status, delivery_channel, delivery_attempts,
	last_delivery_attempt, delivery_error, scheduled_for, sent_at, created_at, updated_at`

func scanDigest(row pgx.Row) (*digest.Digest, error) {
	var (
		d                   digest.Digest
		summary, highlights []byte
		ids                 []string
		status, channel     string
	)
	err := row.Scan(
		&d.ID, &d.Owner, &d.Period.Year, &d.Period.Week, &d.Period.StartDate, &d.Period.EndDate,
		&summary, &ids, &highlights, &d.Subject, &d.Body, &status, &channel,
		&d.DeliveryAttempts, &d.LastDeliveryAttempt, &d.DeliveryError, &d.ScheduledFor,
		&d.SentAt, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.Status = digest.Status(status)
	d.DeliveryChannel = alert.Channel(channel)
	if err := json.Unmarshal(summary, &d.Summary); err != nil {
		return nil, fmt.Errorf("decode summary: %w", err)
	}
	if err := json.Unmarshal(highlights, &d.Highlights); err != nil {
		return nil, fmt.Errorf("decode highlights: %w", err)
	}
	d.Notifications = make([]uuid.UUID, 0, len(ids))
	for _, s := range ids {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("decode notification id: %w", err)
		}
		d.Notifications = append(d.Notifications, id)
	}
	return &d, nil
}

// CreateDigest inserts d and back-links its notifications in one
// transaction. When a digest for (owner, year, week) already exists it is
// returned unchanged with created=false.
func (r *Repository) CreateDigest(ctx context.Context, d *digest.Digest) (*digest.Digest, bool, error) {
	summary, err := json.Marshal(d.Summary)
	if err != nil {
		return nil, false, fmt.Errorf("encode summary: %w", err)
	}
	highlights, err := json.Marshal(d.Highlights)
	if err != nil {
		return nil, false, fmt.Errorf("encode highlights: %w", err)
	}
	if d.Highlights == nil {
		highlights = []byte("[]")
	}

	var (
		saved   *digest.Digest
		created bool
	)
	err = r.db.InTx(ctx, func(tx pgx.Tx) error {
		saved, err = scanDigest(tx.QueryRow(ctx, `
			INSERT INTO notification_digests (
				id, owner, year, week, start_date, end_date, summary, notifications,
				highlights, subject, body, status, delivery_channel, delivery_attempts,
				scheduled_for, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8::uuid[], $9, $10, $11, $12, $13, 0, $14, $15, $15)
			ON CONFLICT (owner, year, week) DO NOTHING
			RETURNING `+digestColumns,
			d.ID, d.Owner, d.Period.Year, d.Period.Week, d.Period.StartDate, d.Period.EndDate,
			json.RawMessage(summary), idStrings(d.Notifications), json.RawMessage(highlights),
			d.Subject, d.Body, string(d.Status), string(d.DeliveryChannel), d.ScheduledFor, d.CreatedAt,
		))
		if errors.Is(err, pgx.ErrNoRows) {
			saved, err = scanDigest(tx.QueryRow(ctx, `
				SELECT `+digestColumns+` FROM notification_digests
				WHERE owner = $1 AND year = $2 AND week = $3`,
				d.Owner, d.Period.Year, d.Period.Week))
			if err != nil {
				return fmt.Errorf("select existing digest: %w", err)
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("insert digest: %w", err)
		}

		if len(d.Notifications) > 0 {
			if _, err := tx.Exec(ctx, `
				UPDATE notifications SET digest_id = $1
				WHERE owner = $2 AND id = ANY($3::uuid[])`,
				saved.ID, d.Owner, idStrings(d.Notifications)); err != nil {
				return fmt.Errorf("link notifications: %w", err)
			}
		}
		created = true
		return nil
	})
	if err != nil {
		r.logger.Error("failed to create digest",
			zap.Error(err),
			zap.String("owner", d.Owner),
			zap.Int("year", d.Period.Year),
			zap.Int("week", d.Period.Week),
		)
		return nil, false, fmt.Errorf("create digest: %w", err)
	}
	return saved, created, nil
}

// GetDigest returns owner's digest for the ISO week.
func (r *Repository) GetDigest(ctx context.Context, owner string, year, week int) (*digest.Digest, error) {
	d, err := scanDigest(r.db.Pool().QueryRow(ctx, `
		SELECT `+digestColumns+` FROM notification_digests
		WHERE owner = $1 AND year = $2 AND week = $3`, owner, year, week))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query digest: %w", err)
	}
	return d, nil
}

// ListDueDigests returns pending or failed digests scheduled at or before
// now with fewer than maxAttempts attempts.
func (r *Repository) ListDueDigests(ctx context.Context, now time.Time, maxAttempts int) ([]*digest.Digest, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT `+digestColumns+` FROM notification_digests
		WHERE status IN ('pending', 'failed')
		  AND scheduled_for <= $1 AND delivery_attempts < $2
		ORDER BY scheduled_for, id`, now, maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("query due digests: %w", err)
	}
	defer rows.Close()

	var out []*digest.Digest
	for rows.Next() {
		d, err := scanDigest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan digest: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// UpdateDigestDelivery records one delivery attempt.
func (r *Repository) UpdateDigestDelivery(ctx context.Context, id uuid.UUID, u digest.DeliveryUpdate) (*digest.Digest, error) {
	d, err := scanDigest(r.db.Pool().QueryRow(ctx, `
		UPDATE notification_digests SET
			status = $2,
			delivery_channel = $3,
			delivery_error = $4,
			delivery_attempts = delivery_attempts + CASE WHEN $6 THEN 1 ELSE 0 END,
			last_delivery_attempt = $5,
			sent_at = CASE WHEN $2 = 'sent' THEN $5 ELSE sent_at END,
			updated_at = $5
		WHERE id = $1
		RETURNING `+digestColumns, id, string(u.Status), string(u.Channel), u.Error, u.Attempted, u.CountAttempt))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		r.logger.Error("failed to update digest delivery", zap.Error(err), zap.String("digest_id", id.String()))
		return nil, fmt.Errorf("update digest delivery: %w", err)
	}
	return d, nil
}

// DeleteDigestsBefore purges digests created before cutoff.
func (r *Repository) DeleteDigestsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Pool().Exec(ctx, `DELETE FROM notification_digests WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old digests: %w", err)
	}
	return tag.RowsAffected(), nil
}
