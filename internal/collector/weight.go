package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/lalithlochan/herdwatch/internal/alert"
	"github.com/lalithlochan/herdwatch/internal/db"
)

// WeighingSource reads planned offspring weighings.
type WeighingSource interface {
	PlannedWeighings(ctx context.Context, from, to time.Time) ([]db.Weighing, error)
}

// Weight emits a pre-reminder seven days before each planned weighing and a
// due alert from the planned day on.
type Weight struct {
	source WeighingSource
}

func NewWeight(source WeighingSource) *Weight { return &Weight{source: source} }

func (*Weight) Name() string { return "weight" }

func (c *Weight) Collect(ctx context.Context, w Window) ([]alert.Candidate, error) {
	from := alert.Midnight(w.Now.Add(-MaxCatchUp))
	to := alert.Midnight(w.Now).AddDate(0, 0, PreReminderDays+1)

	weighings, err := c.source.PlannedWeighings(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("load weighings: %w", err)
	}

	var out []alert.Candidate
	for _, wg := range weighings {
		due := alert.Midnight(wg.PlannedDate)
		subject := alert.WeightDue{OffspringID: wg.OffspringID, Tag: wg.Tag, Due: due}
		delta := alert.CalendarDays(w.Now, due)

		if pre := due.AddDate(0, 0, -PreReminderDays); w.Covers(pre) && delta > 0 {
			out = append(out, alert.NewCandidate(wg.Owner, wg.ID, datePtr(pre), "", delta, subject))
		}
		if delta <= 0 {
			out = append(out, alert.NewCandidate(wg.Owner, wg.ID, datePtr(due), "", delta, subject))
		}
	}
	return out, nil
}
