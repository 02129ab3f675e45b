package preference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/lalithlochan/herdwatch/internal/alert"
)

// ErrInvalid wraps validation and decoding failures of a preference update.
var ErrInvalid = errors.New("invalid preference")

// Store persists one preference document per owner.
type Store interface {
	GetPreference(ctx context.Context, owner string) (*Preference, error)
	SavePreference(ctx context.Context, p Preference) (*Preference, error)
}

// Service reads and updates preferences, creating the default document on
// first access.
type Service struct {
	store  Store
	logger *zap.Logger
}

func NewService(store Store, logger *zap.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// Get returns owner's normalized preference, persisting defaults if none
// exist yet.
func (s *Service) Get(ctx context.Context, owner string) (Preference, error) {
	p, err := s.store.GetPreference(ctx, owner)
	if errors.Is(err, alert.ErrNotFound) {
		saved, err := s.store.SavePreference(ctx, Defaults(owner))
		if err != nil {
			return Preference{}, fmt.Errorf("create default preference: %w", err)
		}
		s.logger.Info("created default preference", zap.String("owner", owner))
		return Normalize(*saved), nil
	}
	if err != nil {
		return Preference{}, err
	}
	return Normalize(*p), nil
}

// Update merges a partial JSON document onto owner's current preference,
// normalizes and validates the result, and stores it.
func (s *Service) Update(ctx context.Context, owner string, patch []byte) (Preference, error) {
	current, err := s.Get(ctx, owner)
	if err != nil {
		return Preference{}, err
	}

	merged := current.Clone()
	if err := json.Unmarshal(patch, &merged); err != nil {
		return Preference{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	merged.Owner = owner
	merged.CreatedAt = current.CreatedAt

	merged = Normalize(merged)
	if err := Validate(merged); err != nil {
		return Preference{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	saved, err := s.store.SavePreference(ctx, merged)
	if err != nil {
		return Preference{}, err
	}
	s.logger.Info("preference updated", zap.String("owner", owner))
	return *saved, nil
}
