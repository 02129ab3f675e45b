package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/lalithlochan/herdwatch/internal/preference"
)

// GetPreference returns owner's stored preference document.
func (r *Repository) GetPreference(ctx context.Context, owner string) (*preference.Preference, error) {
	var (
		doc []byte
		p   preference.Preference
	)
	err := r.db.Pool().QueryRow(ctx, `
		SELECT document, created_at, updated_at
		FROM user_alert_preferences WHERE owner = $1`, owner,
	).Scan(&doc, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		r.logger.Error("failed to get preference", zap.Error(err), zap.String("owner", owner))
		return nil, fmt.Errorf("query preference: %w", err)
	}

	created, updated := p.CreatedAt, p.UpdatedAt
	if err := json.Unmarshal(doc, &p); err != nil {
		return nil, fmt.Errorf("decode preference: %w", err)
	}
	p.Owner, p.CreatedAt, p.UpdatedAt = owner, created, updated
	return &p, nil
}

// SavePreference inserts or replaces owner's document.
func (r *Repository) SavePreference(ctx context.Context, p preference.Preference) (*preference.Preference, error) {
	doc, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode preference: %w", err)
	}

	err = r.db.Pool().QueryRow(ctx, `
		INSERT INTO user_alert_preferences (owner, document, created_at, updated_at)
		VALUES ($1, $2, now(), now())
		ON CONFLICT (owner) DO UPDATE SET document = EXCLUDED.document, updated_at = now()
		RETURNING created_at, updated_at`, p.Owner, json.RawMessage(doc),
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		r.logger.Error("failed to save preference", zap.Error(err), zap.String("owner", p.Owner))
		return nil, fmt.Errorf("save preference: %w", err)
	}
	return &p, nil
}
