// Package collector scans the read-only livestock records for approaching
// or passed dates and emits candidates for the engine. Collectors never
// write.
package collector

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lalithlochan/herdwatch/internal/alert"
	"github.com/lalithlochan/herdwatch/internal/metrics"
)

const (
	// MaxCatchUp bounds how far back a window reaches after missed runs.
	MaxCatchUp = 30 * 24 * time.Hour
	// PreReminderDays is the lead of the first dual-point alert.
	PreReminderDays = 7
)

// Window is the span of time a run is responsible for. Exact-day points
// whose UTC date falls in (Since, Now] are emitted by this run.
type Window struct {
	Since time.Time
	Now   time.Time
}

// NewWindow builds the window for a run at now following a successful run
// at last. A zero last means no previous run: the window covers one day.
func NewWindow(last, now time.Time) Window {
	since := last
	if since.IsZero() || !since.Before(now) {
		since = now.Add(-24 * time.Hour)
	}
	if now.Sub(since) > MaxCatchUp {
		since = now.Add(-MaxCatchUp)
	}
	return Window{Since: since, Now: now}
}

// Covers reports whether the calendar day of point is inside the window.
func (w Window) Covers(point time.Time) bool {
	return alert.CalendarDays(w.Since, point) > 0 && alert.CalendarDays(point, w.Now) >= 0
}

// Collector emits candidates for one domain concern.
type Collector interface {
	Name() string
	Collect(ctx context.Context, w Window) ([]alert.Candidate, error)
}

// Runner runs collectors concurrently, each isolated from the others.
type Runner struct {
	collectors []Collector
	logger     *zap.Logger
}

func NewRunner(logger *zap.Logger, collectors ...Collector) *Runner {
	return &Runner{collectors: collectors, logger: logger}
}

// Collect returns the candidates of every collector that succeeded, in
// collector order. A failing or panicking collector contributes nothing.
func (r *Runner) Collect(ctx context.Context, w Window) []alert.Candidate {
	results := make([][]alert.Candidate, len(r.collectors))

	var g errgroup.Group
	for i, c := range r.collectors {
		g.Go(func() error {
			start := time.Now()
			out, err := r.safeCollect(ctx, c, w)
			metrics.RecordCollectorRun(c.Name(), len(out), time.Since(start), err)
			if err != nil {
				r.logger.Error("collector failed",
					zap.String("collector", c.Name()),
					zap.Error(err),
				)
				return nil
			}
			results[i] = out
			return nil
		})
	}
	_ = g.Wait()

	var all []alert.Candidate
	for _, out := range results {
		all = append(all, out...)
	}
	return all
}

func (r *Runner) safeCollect(ctx context.Context, c Collector, w Window) (out []alert.Candidate, err error) {
	defer func() {
		if p := recover(); p != nil {
			out, err = nil, fmt.Errorf("panic: %v", p)
		}
	}()
	return c.Collect(ctx, w)
}

func datePtr(t time.Time) *time.Time {
	d := alert.Midnight(t)
	return &d
}
