package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestResultMergeAndBlocking(t *testing.T) {
	var result Result
	result.Merge(Result{Violations: []Violation{{Rule: "warn", Severity: SeverityWarn}}})
	if result.HasBlocking() {
		t.Fatalf("expected no blocking violations")
	}
	result.Merge(Result{Violations: []Violation{{Rule: "block", Severity: SeverityBlock}}})
	if !result.HasBlocking() {
		t.Fatalf("expected blocking violation")
	}
	if w := result.Warnings(); len(w) != 1 || w[0].Rule != "warn" {
		t.Fatalf("expected only the warning, got %+v", w)
	}
	err := RuleViolationError{Result: result}
	if err.Error() == "" {
		t.Fatalf("expected error string")
	}
}

func TestResultMergeEmptyInput(t *testing.T) {
	original := Result{Violations: []Violation{{Rule: "existing", Severity: SeverityWarn}}}
	original.Merge(Result{})
	if len(original.Violations) != 1 || original.Violations[0].Rule != "existing" {
		t.Fatalf("expected original violations to remain, got %+v", original.Violations)
	}
}

type staticRule struct{ name string }

func (r staticRule) Name() string { return r.name }

func (r staticRule) Evaluate(context.Context, RuleView, []Change) (Result, error) {
	return Result{Violations: []Violation{{Rule: r.name, Severity: SeverityWarn}}}, nil
}

type emptyView struct{}

func (emptyView) ListAnimals() []Animal                      { return nil }
func (emptyView) FindAnimal(string) (Animal, bool)           { return Animal{}, false }
func (emptyView) ListEvents(EventFilter) []ReproductiveEvent { return nil }

func TestRulesEngineEvaluate(t *testing.T) {
	engine := NewRulesEngine()
	engine.Register(staticRule{"first"})
	engine.Register(staticRule{"second"})
	res, err := engine.Evaluate(context.Background(), emptyView{}, nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(res.Violations) != 2 || res.Violations[0].Rule != "first" {
		t.Fatalf("expected violations in registration order, got %+v", res.Violations)
	}
}

type errorRule struct{}

func (errorRule) Name() string { return "error" }

func (errorRule) Evaluate(context.Context, RuleView, []Change) (Result, error) {
	return Result{}, fmt.Errorf("boom")
}

func TestRulesEngineEvaluateError(t *testing.T) {
	engine := NewRulesEngine()
	engine.Register(errorRule{})
	if _, err := engine.Evaluate(context.Background(), emptyView{}, nil); err == nil {
		t.Fatalf("expected evaluation error")
	}
}

func TestValidationErrorMatching(t *testing.T) {
	err := fmt.Errorf("record: %w", ValidationError{Code: CodeDuplicateEvent, Field: "event_date", Message: "already recorded"})
	if !errors.Is(err, ValidationError{Code: CodeDuplicateEvent}) {
		t.Fatalf("expected code match")
	}
	if !errors.Is(err, ValidationError{}) {
		t.Fatalf("empty code should match any validation error")
	}
	if errors.Is(err, ValidationError{Code: CodeFutureEventDate}) {
		t.Fatalf("different code must not match")
	}

	cause := errors.New("connection reset")
	infra := InfrastructureError{Op: "record event", Err: cause}
	if !errors.Is(infra, cause) || infra.Error() != "record event: connection reset" {
		t.Fatalf("unexpected infrastructure error %v", infra)
	}
	sched := SchedulingFailure{AnimalID: "a1", Kind: ReminderNextHeatWatch, Err: cause}
	if !errors.Is(sched, cause) {
		t.Fatalf("scheduling failure should unwrap")
	}
	if (NotFoundError{Entity: EntityAnimal, ID: "a1"}).Error() != "animal a1 not found" {
		t.Fatalf("unexpected not found message")
	}
}
