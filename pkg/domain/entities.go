// Package domain defines the persistent entities, value types, and rule
// evaluation primitives used by the herdcore reproductive lifecycle engine.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityAnimal identifies an animal record with its reproductive state.
	EntityAnimal EntityType = "animal"
	// EntityEvent identifies an append-only reproductive event.
	EntityEvent EntityType = "reproductive_event"
)

// EventType enumerates the reproductive events the engine accepts.
type EventType string

// Canonical reproductive event types.
const (
	EventHeatDetection      EventType = "heat_detection"
	EventInsemination       EventType = "insemination"
	EventNaturalMating      EventType = "natural_mating"
	EventPregnancyCheck     EventType = "pregnancy_check"
	EventBirth              EventType = "birth"
	EventWeaning            EventType = "weaning"
	EventBreedingEvaluation EventType = "breeding_evaluation"
	EventSynchronization    EventType = "synchronization"
)

// EventTypes lists every supported event type in a stable order.
func EventTypes() []EventType {
	return []EventType{
		EventHeatDetection,
		EventInsemination,
		EventNaturalMating,
		EventPregnancyCheck,
		EventBirth,
		EventWeaning,
		EventBreedingEvaluation,
		EventSynchronization,
	}
}

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	for _, known := range EventTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// IsBreeding reports whether the event is a service (insemination or natural mating).
func (t EventType) IsBreeding() bool {
	return t == EventInsemination || t == EventNaturalMating
}

// ReproductiveStatus is the projected reproductive state of an animal.
type ReproductiveStatus string

// Reproductive statuses. Animals enter the breeding program as StatusOpen.
const (
	StatusOpen      ReproductiveStatus = "open"
	StatusBred      ReproductiveStatus = "bred"
	StatusPregnant  ReproductiveStatus = "pregnant"
	StatusLactating ReproductiveStatus = "lactating"
)

// Valid reports whether s is one of the four reproductive statuses.
func (s ReproductiveStatus) Valid() bool {
	switch s {
	case StatusOpen, StatusBred, StatusPregnant, StatusLactating:
		return true
	default:
		return false
	}
}

// Sex of an animal.
type Sex string

// Supported sexes.
const (
	SexFemale Sex = "female"
	SexMale   Sex = "male"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Base contains common fields for all domain records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Animal is an individual enrolled in the breeding program.
type Animal struct {
	Base
	Tag          string                  `json:"tag"`
	Name         string                  `json:"name,omitempty"`
	Species      string                  `json:"species"`
	Sex          Sex                     `json:"sex"`
	BirthDate    time.Time               `json:"birth_date"`
	DamID        *string                 `json:"dam_id,omitempty"`
	SireID       *string                 `json:"sire_id,omitempty"`
	Reproduction AnimalReproductiveState `json:"reproduction"`
}

// AnimalReproductiveState is the mutable projection the engine maintains per animal.
type AnimalReproductiveState struct {
	AnimalID               string             `json:"animal_id"`
	Status                 ReproductiveStatus `json:"status"`
	LastHeatDate           *time.Time         `json:"last_heat_date,omitempty"`
	LastInseminationDate   *time.Time         `json:"last_insemination_date,omitempty"`
	LastPregnancyCheckDate *time.Time         `json:"last_pregnancy_check_date,omitempty"`
	LastCalvingDate        *time.Time         `json:"last_calving_date,omitempty"`
	ExpectedCalvingDate    *time.Time         `json:"expected_calving_date,omitempty"`
	TotalCalves            int                `json:"total_calves"`
	ServicesSinceCalving   int                `json:"services_since_calving"`
}

// Cost is an optional expense attached to an event.
type Cost struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Category string          `json:"category,omitempty"`
}

// ReproductiveEvent is an immutable record of one biological event.
type ReproductiveEvent struct {
	ID           string       `json:"id"`
	AnimalID     string       `json:"animal_id"`
	Type         EventType    `json:"type"`
	EventDate    time.Time    `json:"event_date"`
	Planned      bool         `json:"planned,omitempty"`
	Location     *string      `json:"location,omitempty"`
	Notes        *string      `json:"notes,omitempty"`
	Details      EventDetails `json:"-"`
	DerivedDates DerivedDates `json:"derived_dates,omitempty"`
	Cost         *Cost        `json:"cost,omitempty"`
	RecordedBy   string       `json:"recorded_by"`
	CreatedAt    time.Time    `json:"created_at"`
}

// DerivedDateKey names a date computed when an event is recorded.
type DerivedDateKey string

// Derived date keys produced by the lifecycle engine.
const (
	DateNextHeat                   DerivedDateKey = "next_heat_date"
	DateOptimalBreedingWindowStart DerivedDateKey = "optimal_breeding_window_start"
	DateOptimalBreedingWindowEnd   DerivedDateKey = "optimal_breeding_window_end"
	DatePregnancyCheck             DerivedDateKey = "pregnancy_check_date"
	DateExpectedCalving            DerivedDateKey = "expected_calving_date"
	DateDryOff                     DerivedDateKey = "dry_off_date"
	DateNextCheck                  DerivedDateKey = "next_check_date"
	DateBreedingEligible           DerivedDateKey = "breeding_eligible_date"
	DateWeaning                    DerivedDateKey = "weaning_date"
)

// DerivedDates maps named future dates computed at recording time.
type DerivedDates map[DerivedDateKey]time.Time

// Get returns the date for key when present.
func (d DerivedDates) Get(key DerivedDateKey) (time.Time, bool) {
	if d == nil {
		return time.Time{}, false
	}
	v, ok := d[key]
	return v, ok
}

// Clone returns an independent copy.
func (d DerivedDates) Clone() DerivedDates {
	if d == nil {
		return nil
	}
	out := make(DerivedDates, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions. Events only ever produce ActionCreate.
const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// Warnings returns the non-blocking violations.
func (r Result) Warnings() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity != SeverityBlock {
			out = append(out, v)
		}
	}
	return out
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	return "transaction blocked by rules"
}
