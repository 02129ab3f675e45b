package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/lalithlochan/herdwatch/internal/alert"
	"github.com/lalithlochan/herdwatch/internal/db"
)

// ExpirySource reads batches with an expiry date.
type ExpirySource interface {
	ExpiringTreatments(ctx context.Context, until time.Time) ([]db.Treatment, error)
	ExpiringVaccines(ctx context.Context, until time.Time) ([]db.Vaccine, error)
}

// Expiry reports treatment and vaccine batches expiring within 30 days or
// already expired.
type Expiry struct {
	source ExpirySource
}

func NewExpiry(source ExpirySource) *Expiry { return &Expiry{source: source} }

func (*Expiry) Name() string { return "expiry" }

func (e *Expiry) Collect(ctx context.Context, w Window) ([]alert.Candidate, error) {
	until := w.Now.AddDate(0, 0, alert.MonthThreshold)

	treatments, err := e.source.ExpiringTreatments(ctx, until)
	if err != nil {
		return nil, fmt.Errorf("load treatments: %w", err)
	}
	vaccines, err := e.source.ExpiringVaccines(ctx, until)
	if err != nil {
		return nil, fmt.Errorf("load vaccines: %w", err)
	}

	var out []alert.Candidate
	for _, t := range treatments {
		delta := alert.DaysUntil(t.ExpiryDate, w.Now)
		if delta > alert.MonthThreshold {
			continue
		}
		out = append(out, alert.NewCandidate(t.Owner, t.ID, nil, "", delta, alert.TreatmentExpiry{
			TreatmentID: t.ID,
			Name:        t.Name,
			Expiry:      t.ExpiryDate,
		}))
	}
	for _, v := range vaccines {
		delta := alert.DaysUntil(v.ExpiryDate, w.Now)
		if delta > alert.MonthThreshold {
			continue
		}
		out = append(out, alert.NewCandidate(v.Owner, v.ID, nil, "", delta, alert.VaccineExpiry{
			VaccineID:   v.ID,
			Name:        v.Name,
			BatchNumber: v.BatchNumber,
			Expiry:      v.ExpiryDate,
		}))
	}
	return out, nil
}
