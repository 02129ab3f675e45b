package db

import "time"

// Treatment is a medication batch from the treatments table.
type Treatment struct {
	ID         string
	Owner      string
	Name       string
	ExpiryDate time.Time
}

// Vaccine is a vaccine batch from the vaccines table.
type Vaccine struct {
	ID          string
	Owner       string
	Name        string
	BatchNumber string
	ExpiryDate  time.Time
}

// Weighing is one planned weighing of an offspring.
type Weighing struct {
	ID          string
	Owner       string
	OffspringID string
	Tag         string
	PlannedDate time.Time
}

// Vaccination is one administered dose with its follow-up intervals.
type Vaccination struct {
	ID                   string
	Owner                string
	AnimalID             string
	VaccineName          string
	AdministeredAt       time.Time
	BoosterIntervalDays  *int
	AnnualIntervalMonths *int
}
