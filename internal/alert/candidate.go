package alert

import (
	"time"

	"golang.org/x/text/message"
)

// Subtypes of a vaccine dose.
const (
	SubtypeBooster = "booster"
	SubtypeAnnual  = "annual"
)

// Subject is the domain fact a candidate was raised for. One variant per
// notification type; each carries only the fields it needs.
type Subject interface {
	Type() Type
	// Describe renders the human message for deltaDays until due.
	Describe(p *message.Printer, deltaDays int) string
	// Metadata is stored alongside the notification.
	Metadata() map[string]any
}

// TreatmentExpiry is a medication batch approaching its expiry date.
type TreatmentExpiry struct {
	TreatmentID string
	Name        string
	Expiry      time.Time
}

func (TreatmentExpiry) Type() Type { return TypeTreatment }

func (s TreatmentExpiry) Describe(p *message.Printer, delta int) string {
	switch {
	case delta == 0:
		return p.Sprintf(msgTreatmentToday, s.Name)
	case delta < 0:
		return p.Sprintf(msgTreatmentExpired, s.Name, -delta)
	default:
		return p.Sprintf(msgTreatmentExpiring, s.Name, delta)
	}
}

func (s TreatmentExpiry) Metadata() map[string]any {
	return map[string]any{"name": s.Name, "expiry": s.Expiry.UTC().Format(time.RFC3339)}
}

// VaccineExpiry is a vaccine batch approaching its expiry date.
type VaccineExpiry struct {
	VaccineID   string
	Name        string
	BatchNumber string
	Expiry      time.Time
}

func (VaccineExpiry) Type() Type { return TypeVaccine }

func (s VaccineExpiry) Describe(p *message.Printer, delta int) string {
	switch {
	case delta == 0:
		return p.Sprintf(msgVaccineToday, s.Name)
	case delta < 0:
		return p.Sprintf(msgVaccineExpired, s.Name, -delta)
	default:
		return p.Sprintf(msgVaccineExpiring, s.Name, delta)
	}
}

func (s VaccineExpiry) Metadata() map[string]any {
	m := map[string]any{"name": s.Name, "expiry": s.Expiry.UTC().Format(time.RFC3339)}
	if s.BatchNumber != "" {
		m["batch_number"] = s.BatchNumber
	}
	return m
}

// VaccineDose is a booster or annual dose that falls due after a vaccination.
type VaccineDose struct {
	VaccinationID  string
	VaccineName    string
	AnimalID       string
	Subtype        string
	AdministeredAt time.Time
	Due            time.Time
}

func (VaccineDose) Type() Type { return TypeVaccineDose }

func (s VaccineDose) Describe(p *message.Printer, delta int) string {
	label := p.Sprintf(msgBooster)
	if s.Subtype == SubtypeAnnual {
		label = p.Sprintf(msgAnnual)
	}
	switch {
	case delta == 0:
		return p.Sprintf(msgDoseToday, label, s.VaccineName, s.AnimalID)
	case delta < 0:
		return p.Sprintf(msgDoseOverdue, label, s.VaccineName, s.AnimalID, -delta)
	default:
		return p.Sprintf(msgDoseDue, label, s.VaccineName, s.AnimalID, delta)
	}
}

func (s VaccineDose) Metadata() map[string]any {
	return map[string]any{
		"vaccine":         s.VaccineName,
		"animal_id":       s.AnimalID,
		"administered_at": s.AdministeredAt.UTC().Format(time.RFC3339),
		"due":             s.Due.UTC().Format(time.RFC3339),
	}
}

// WeightDue is a planned weighing of an offspring.
type WeightDue struct {
	OffspringID string
	Tag         string
	Due         time.Time
}

func (WeightDue) Type() Type { return TypeWeight }

func (s WeightDue) Describe(p *message.Printer, delta int) string {
	name := s.Tag
	if name == "" {
		name = s.OffspringID
	}
	switch {
	case delta == 0:
		return p.Sprintf(msgWeightToday, name)
	case delta < 0:
		return p.Sprintf(msgWeightOverdue, name, -delta)
	default:
		return p.Sprintf(msgWeightDue, name, delta)
	}
}

func (s WeightDue) Metadata() map[string]any {
	return map[string]any{"tag": s.Tag, "due": s.Due.UTC().Format(time.RFC3339)}
}

// Candidate is an emitted, not yet persisted notification.
type Candidate struct {
	Owner     string
	ItemID    string
	DueDate   *time.Time
	Subtype   string
	DeltaDays int
	Stage     Stage
	Severity  Severity
	Subject   Subject

	// Message is the rendered text; empty until localized.
	Message string
}

// NewCandidate classifies deltaDays and fills stage and severity.
func NewCandidate(owner, itemID string, due *time.Time, subtype string, delta int, s Subject) Candidate {
	stage, sev := Classify(delta)
	return Candidate{
		Owner:     owner,
		ItemID:    itemID,
		DueDate:   due,
		Subtype:   subtype,
		DeltaDays: delta,
		Stage:     stage,
		Severity:  sev,
		Subject:   s,
	}
}

func (c Candidate) Type() Type { return c.Subject.Type() }

// Category is derived from the type.
func (c Candidate) Category() Category { return CategoryOf(c.Type()) }

func (c Candidate) Key() Key {
	return Key{Owner: c.Owner, Type: c.Type(), ItemID: c.ItemID, DueDate: c.DueDate, Subtype: c.Subtype}
}

// CategoryOf maps a type onto its category.
func CategoryOf(t Type) Category {
	if t == TypeWeight {
		return CategoryRoutine
	}
	return CategoryMedical
}
