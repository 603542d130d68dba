package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestReproductiveEventJSONKeepsDetailsVariant(t *testing.T) {
	loc := "north paddock"
	event := ReproductiveEvent{
		ID:        "evt-1",
		AnimalID:  "cow-1",
		Type:      EventBirth,
		EventDate: day(2024, time.October, 12),
		Location:  &loc,
		Details: BirthDetails{
			CalvingType:    CalvingAssisted,
			Calves:         []CalfDetails{{Tag: "C-1", Sex: SexFemale, BirthWeightKg: 38.5, Alive: true}},
			RegisterCalves: true,
		},
		DerivedDates: DerivedDates{DateWeaning: day(2025, time.May, 10)},
		Cost:         &Cost{Amount: decimal.RequireFromString("120.50"), Currency: "EUR", Category: "veterinary"},
	}

	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded ReproductiveEvent
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	birth, ok := decoded.Birth()
	if !ok {
		t.Fatalf("expected birth details, got %T", decoded.Details)
	}
	if birth.CalvingType != CalvingAssisted || len(birth.Calves) != 1 || birth.Calves[0].Tag != "C-1" || !birth.RegisterCalves {
		t.Fatalf("unexpected birth details %+v", birth)
	}
	if got, _ := decoded.DerivedDates.Get(DateWeaning); !got.Equal(day(2025, time.May, 10)) {
		t.Fatalf("weaning date lost: %s", got)
	}
	if decoded.Cost == nil || !decoded.Cost.Amount.Equal(decimal.RequireFromString("120.5")) {
		t.Fatalf("cost lost: %+v", decoded.Cost)
	}
}

func TestReproductiveEventJSONWithoutDetails(t *testing.T) {
	data, err := json.Marshal(ReproductiveEvent{ID: "evt", Type: EventWeaning})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded ReproductiveEvent
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Details != nil {
		t.Fatalf("expected nil details, got %#v", decoded.Details)
	}
}

func TestReproductiveEventJSONRejectsUnknownType(t *testing.T) {
	raw := []byte(`{"id":"x","type":"castration","details":{"foo":1}}`)
	var decoded ReproductiveEvent
	if err := json.Unmarshal(raw, &decoded); err == nil {
		t.Fatalf("expected error for unknown event type")
	}
}

func TestEmptyDetailsMatchesEveryType(t *testing.T) {
	for _, et := range EventTypes() {
		d := EmptyDetails(et)
		if d == nil {
			t.Fatalf("no details for %s", et)
		}
		if d.EventType() != et {
			t.Fatalf("details for %s report %s", et, d.EventType())
		}
	}
	if EmptyDetails("unknown") != nil {
		t.Fatalf("expected nil for unknown type")
	}
}

func TestEventCloneIsIndependent(t *testing.T) {
	notes := "first"
	event := ReproductiveEvent{
		Notes:        &notes,
		Details:      HeatDetectionDetails{Signs: []string{"mounting"}},
		DerivedDates: DerivedDates{DateNextHeat: day(2024, time.May, 22)},
	}
	cp := event.Clone()
	*cp.Notes = "changed"
	cp.DerivedDates[DateNextHeat] = time.Time{}
	cp.Details.(HeatDetectionDetails).Signs[0] = "bellowing"

	if *event.Notes != "first" {
		t.Fatalf("notes aliased")
	}
	if event.DerivedDates[DateNextHeat].IsZero() {
		t.Fatalf("derived dates aliased")
	}
	if event.Details.(HeatDetectionDetails).Signs[0] != "mounting" {
		t.Fatalf("signs aliased")
	}
}

func TestValidationErrorMatchesByCode(t *testing.T) {
	err := fmt.Errorf("record: %w", ValidationError{Code: CodeDuplicateEvent, Message: "dup"})
	if !errors.Is(err, ValidationError{Code: CodeDuplicateEvent}) {
		t.Fatalf("expected code match")
	}
	if !errors.Is(err, ValidationError{}) {
		t.Fatalf("expected wildcard match")
	}
	if errors.Is(err, ValidationError{Code: CodeAnimalTooYoung}) {
		t.Fatalf("unexpected match on different code")
	}
	infra := InfrastructureError{Op: "commit", Err: errors.New("disk full")}
	if errors.Unwrap(infra) == nil {
		t.Fatalf("infrastructure error should unwrap")
	}
}

func TestResultWarningsAndBlocking(t *testing.T) {
	var res Result
	res.Merge(Result{Violations: []Violation{{Rule: "a", Severity: SeverityWarn}}})
	if res.HasBlocking() {
		t.Fatalf("warn should not block")
	}
	res.Merge(Result{Violations: []Violation{{Rule: "b", Severity: SeverityBlock}}})
	if !res.HasBlocking() {
		t.Fatalf("expected blocking")
	}
	if got := len(res.Warnings()); got != 1 {
		t.Fatalf("expected 1 warning, got %d", got)
	}
}
