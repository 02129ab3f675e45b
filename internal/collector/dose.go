package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/lalithlochan/herdwatch/internal/alert"
	"github.com/lalithlochan/herdwatch/internal/db"
)

// VaccinationSource reads vaccinations with follow-up intervals.
type VaccinationSource interface {
	Vaccinations(ctx context.Context) ([]db.Vaccination, error)
}

// Dose emits booster and annual follow-up reminders: one seven days before
// the dose is due and one on the due day.
type Dose struct {
	source VaccinationSource
}

func NewDose(source VaccinationSource) *Dose { return &Dose{source: source} }

func (*Dose) Name() string { return "vaccine-dose" }

func (c *Dose) Collect(ctx context.Context, w Window) ([]alert.Candidate, error) {
	vaccinations, err := c.source.Vaccinations(ctx)
	if err != nil {
		return nil, fmt.Errorf("load vaccinations: %w", err)
	}

	var out []alert.Candidate
	for _, v := range vaccinations {
		given := alert.Midnight(v.AdministeredAt)
		if v.BoosterIntervalDays != nil && *v.BoosterIntervalDays > 0 {
			out = append(out, c.points(v, alert.SubtypeBooster, given.AddDate(0, 0, *v.BoosterIntervalDays), w)...)
		}
		if v.AnnualIntervalMonths != nil && *v.AnnualIntervalMonths > 0 {
			out = append(out, c.points(v, alert.SubtypeAnnual, given.AddDate(0, *v.AnnualIntervalMonths, 0), w)...)
		}
	}
	return out, nil
}

func (c *Dose) points(v db.Vaccination, subtype string, due time.Time, w Window) []alert.Candidate {
	subject := alert.VaccineDose{
		VaccinationID:  v.ID,
		VaccineName:    v.VaccineName,
		AnimalID:       v.AnimalID,
		Subtype:        subtype,
		AdministeredAt: v.AdministeredAt,
		Due:            due,
	}
	delta := alert.CalendarDays(w.Now, due)

	var out []alert.Candidate
	if pre := due.AddDate(0, 0, -PreReminderDays); w.Covers(pre) && delta > 0 {
		out = append(out, alert.NewCandidate(v.Owner, v.ID, datePtr(pre), subtype, delta, subject))
	}
	if w.Covers(due) {
		out = append(out, alert.NewCandidate(v.Owner, v.ID, datePtr(due), subtype, delta, subject))
	}
	return out
}
