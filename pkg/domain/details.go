package domain

import (
	"encoding/json"
	"fmt"
)

// EventDetails is the type-specific payload of a ReproductiveEvent. The set of
// implementations is closed: one struct per EventType.
type EventDetails interface {
	EventType() EventType
	isEventDetails()
}

// HeatIntensity grades observed estrus behaviour.
type HeatIntensity string

// Heat intensities.
const (
	HeatWeak   HeatIntensity = "weak"
	HeatNormal HeatIntensity = "normal"
	HeatStrong HeatIntensity = "strong"
)

// HeatDetectionDetails records an observed heat.
type HeatDetectionDetails struct {
	Intensity       HeatIntensity `json:"intensity,omitempty"`
	Signs           []string      `json:"signs,omitempty"`
	DetectionMethod string        `json:"detection_method,omitempty"`
}

// InseminationDetails records an artificial insemination.
type InseminationDetails struct {
	SireID     string `json:"sire_id,omitempty"`
	SemenBatch string `json:"semen_batch,omitempty"`
	Technician string `json:"technician,omitempty"`
	Method     string `json:"method,omitempty"`
}

// NaturalMatingDetails records exposure to a bull.
type NaturalMatingDetails struct {
	SireID       string `json:"sire_id,omitempty"`
	ExposureDays int    `json:"exposure_days,omitempty"`
}

// PregnancyStatus is the outcome of a pregnancy check.
type PregnancyStatus string

// Pregnancy check outcomes.
const (
	PregnancyConfirmed PregnancyStatus = "CONFIRMED"
	PregnancyNegative  PregnancyStatus = "NEGATIVE"
	PregnancyUncertain PregnancyStatus = "UNCERTAIN"
)

// Valid reports whether s is a known check outcome.
func (s PregnancyStatus) Valid() bool {
	switch s {
	case PregnancyConfirmed, PregnancyNegative, PregnancyUncertain:
		return true
	default:
		return false
	}
}

// PregnancyCheckDetails records a pregnancy diagnosis.
type PregnancyCheckDetails struct {
	Status        PregnancyStatus `json:"status"`
	GestationDays int             `json:"gestation_days,omitempty"`
	Method        string          `json:"method,omitempty"`
}

// CalvingType classifies a birth.
type CalvingType string

// Calving types.
const (
	CalvingNormal     CalvingType = "normal"
	CalvingAssisted   CalvingType = "assisted"
	CalvingCaesarean  CalvingType = "caesarean"
	CalvingStillbirth CalvingType = "stillbirth"
)

// CalfDetails describes one calf born in a Birth event.
type CalfDetails struct {
	Tag           string  `json:"tag,omitempty"`
	Sex           Sex     `json:"sex,omitempty"`
	BirthWeightKg float64 `json:"birth_weight_kg,omitempty"`
	Alive         bool    `json:"alive"`
}

// BirthDetails records a calving.
type BirthDetails struct {
	CalvingType    CalvingType   `json:"calving_type,omitempty"`
	SireID         string        `json:"sire_id,omitempty"`
	Calves         []CalfDetails `json:"calves,omitempty"`
	RegisterCalves bool          `json:"register_calves,omitempty"`
}

// WeaningDetails records a calf weaned from the dam.
type WeaningDetails struct {
	CalfID          string  `json:"calf_id,omitempty"`
	WeaningWeightKg float64 `json:"weaning_weight_kg,omitempty"`
}

// BreedingEvaluationDetails records a breeding soundness evaluation.
type BreedingEvaluationDetails struct {
	Score     int    `json:"score,omitempty"`
	Evaluator string `json:"evaluator,omitempty"`
	Findings  string `json:"findings,omitempty"`
}

// SynchronizationDetails records a step of an estrus synchronization protocol.
type SynchronizationDetails struct {
	Protocol string `json:"protocol"`
	Step     string `json:"step,omitempty"`
}

func (HeatDetectionDetails) EventType() EventType      { return EventHeatDetection }
func (InseminationDetails) EventType() EventType       { return EventInsemination }
func (NaturalMatingDetails) EventType() EventType      { return EventNaturalMating }
func (PregnancyCheckDetails) EventType() EventType     { return EventPregnancyCheck }
func (BirthDetails) EventType() EventType              { return EventBirth }
func (WeaningDetails) EventType() EventType            { return EventWeaning }
func (BreedingEvaluationDetails) EventType() EventType { return EventBreedingEvaluation }
func (SynchronizationDetails) EventType() EventType    { return EventSynchronization }

func (HeatDetectionDetails) isEventDetails()      {}
func (InseminationDetails) isEventDetails()       {}
func (NaturalMatingDetails) isEventDetails()      {}
func (PregnancyCheckDetails) isEventDetails()     {}
func (BirthDetails) isEventDetails()              {}
func (WeaningDetails) isEventDetails()            {}
func (BreedingEvaluationDetails) isEventDetails() {}
func (SynchronizationDetails) isEventDetails()    {}

// EmptyDetails returns the zero payload for t, or nil for unknown types.
func EmptyDetails(t EventType) EventDetails {
	switch t {
	case EventHeatDetection:
		return HeatDetectionDetails{}
	case EventInsemination:
		return InseminationDetails{}
	case EventNaturalMating:
		return NaturalMatingDetails{}
	case EventPregnancyCheck:
		return PregnancyCheckDetails{}
	case EventBirth:
		return BirthDetails{}
	case EventWeaning:
		return WeaningDetails{}
	case EventBreedingEvaluation:
		return BreedingEvaluationDetails{}
	case EventSynchronization:
		return SynchronizationDetails{}
	default:
		return nil
	}
}

// PregnancyCheck returns the pregnancy check payload when the event carries one.
func (e ReproductiveEvent) PregnancyCheck() (PregnancyCheckDetails, bool) {
	d, ok := e.Details.(PregnancyCheckDetails)
	return d, ok
}

// Birth returns the birth payload when the event carries one.
func (e ReproductiveEvent) Birth() (BirthDetails, bool) {
	d, ok := e.Details.(BirthDetails)
	return d, ok
}

// Clone returns a deep copy of the event.
func (e ReproductiveEvent) Clone() ReproductiveEvent {
	cp := e
	cp.DerivedDates = e.DerivedDates.Clone()
	if e.Location != nil {
		v := *e.Location
		cp.Location = &v
	}
	if e.Notes != nil {
		v := *e.Notes
		cp.Notes = &v
	}
	if e.Cost != nil {
		c := *e.Cost
		cp.Cost = &c
	}
	switch d := e.Details.(type) {
	case HeatDetectionDetails:
		d.Signs = append([]string(nil), d.Signs...)
		cp.Details = d
	case BirthDetails:
		d.Calves = append([]CalfDetails(nil), d.Calves...)
		cp.Details = d
	}
	return cp
}

type reproductiveEventAlias ReproductiveEvent

// MarshalJSON serialises the details payload next to the event fields; the
// event type doubles as the union discriminator.
func (e ReproductiveEvent) MarshalJSON() ([]byte, error) {
	type payload struct {
		reproductiveEventAlias
		Details json.RawMessage `json:"details,omitempty"`
	}
	out := payload{reproductiveEventAlias: reproductiveEventAlias(e)}
	if e.Details != nil {
		raw, err := json.Marshal(e.Details)
		if err != nil {
			return nil, err
		}
		out.Details = raw
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the details payload into the struct matching the event type.
func (e *ReproductiveEvent) UnmarshalJSON(data []byte) error {
	type payload struct {
		reproductiveEventAlias
		Details json.RawMessage `json:"details"`
	}
	var aux payload
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*e = ReproductiveEvent(aux.reproductiveEventAlias)
	if len(aux.Details) == 0 || string(aux.Details) == "null" {
		e.Details = nil
		return nil
	}
	details, err := decodeDetails(e.Type, aux.Details)
	if err != nil {
		return err
	}
	e.Details = details
	return nil
}

func decodeDetails(t EventType, raw json.RawMessage) (EventDetails, error) {
	switch t {
	case EventHeatDetection:
		return decodeInto[HeatDetectionDetails](raw)
	case EventInsemination:
		return decodeInto[InseminationDetails](raw)
	case EventNaturalMating:
		return decodeInto[NaturalMatingDetails](raw)
	case EventPregnancyCheck:
		return decodeInto[PregnancyCheckDetails](raw)
	case EventBirth:
		return decodeInto[BirthDetails](raw)
	case EventWeaning:
		return decodeInto[WeaningDetails](raw)
	case EventBreedingEvaluation:
		return decodeInto[BreedingEvaluationDetails](raw)
	case EventSynchronization:
		return decodeInto[SynchronizationDetails](raw)
	default:
		return nil, fmt.Errorf("unknown event type %q", t)
	}
}

func decodeInto[T EventDetails](raw json.RawMessage) (EventDetails, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}
