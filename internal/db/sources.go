package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// The source tables belong to the livestock records service; this service
// only reads them.

// ExpiringTreatments returns treatments with an expiry at or before until.
func (r *Repository) ExpiringTreatments(ctx context.Context, until time.Time) ([]Treatment, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT id, owner, name, expiry_date FROM treatments
		WHERE expiry_date IS NOT NULL AND expiry_date <= $1
		ORDER BY owner, id`, until)
	if err != nil {
		return nil, fmt.Errorf("query treatments: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Treatment, error) {
		var t Treatment
		err := row.Scan(&t.ID, &t.Owner, &t.Name, &t.ExpiryDate)
		return t, err
	})
}

// ExpiringVaccines returns vaccine batches with an expiry at or before until.
func (r *Repository) ExpiringVaccines(ctx context.Context, until time.Time) ([]Vaccine, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT id, owner, name, COALESCE(batch_number, ''), expiry_date FROM vaccines
		WHERE expiry_date IS NOT NULL AND expiry_date <= $1
		ORDER BY owner, id`, until)
	if err != nil {
		return nil, fmt.Errorf("query vaccines: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Vaccine, error) {
		var v Vaccine
		err := row.Scan(&v.ID, &v.Owner, &v.Name, &v.BatchNumber, &v.ExpiryDate)
		return v, err
	})
}

// PlannedWeighings returns weighings planned in [from, to].
func (r *Repository) PlannedWeighings(ctx context.Context, from, to time.Time) ([]Weighing, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT id, owner, offspring_id, COALESCE(tag, ''), planned_date FROM offspring_weighings
		WHERE planned_date >= $1 AND planned_date <= $2
		ORDER BY owner, id`, from, to)
	if err != nil {
		return nil, fmt.Errorf("query weighings: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Weighing, error) {
		var w Weighing
		err := row.Scan(&w.ID, &w.Owner, &w.OffspringID, &w.Tag, &w.PlannedDate)
		return w, err
	})
}

// Vaccinations returns doses that schedule a booster or annual follow-up.
func (r *Repository) Vaccinations(ctx context.Context) ([]Vaccination, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT id, owner, animal_id, vaccine_name, administered_at,
		       booster_interval_days, annual_interval_months
		FROM vaccinations
		WHERE booster_interval_days IS NOT NULL OR annual_interval_months IS NOT NULL
		ORDER BY owner, id`)
	if err != nil {
		return nil, fmt.Errorf("query vaccinations: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Vaccination, error) {
		var v Vaccination
		err := row.Scan(&v.ID, &v.Owner, &v.AnimalID, &v.VaccineName, &v.AdministeredAt,
			&v.BoosterIntervalDays, &v.AnnualIntervalMonths)
		return v, err
	})
}
