package core

import (
	"context"
	"testing"

	"herdcore/internal/infra/persistence/memory"
	"herdcore/pkg/domain"
)

func animalWith(id string, status domain.ReproductiveStatus) domain.Animal {
	a := domain.Animal{Tag: id, Species: "cattle", Sex: domain.SexFemale}
	a.ID = id
	a.Reproduction.Status = status
	return a
}

func TestStatusTransitionRule(t *testing.T) {
	ctx := context.Background()
	rule := StatusTransitionRule()
	if rule.Name() != "status_transition" {
		t.Fatalf("unexpected rule name %q", rule.Name())
	}

	cases := []struct {
		name   string
		change domain.Change
		block  bool
	}{
		{"create open", domain.Change{Entity: domain.EntityAnimal, Action: domain.ActionCreate, After: animalWith("a", domain.StatusOpen)}, false},
		{"create pregnant", domain.Change{Entity: domain.EntityAnimal, Action: domain.ActionCreate, After: animalWith("a", domain.StatusPregnant)}, true},
		{"invalid status", domain.Change{Entity: domain.EntityAnimal, Action: domain.ActionUpdate, Before: animalWith("a", domain.StatusOpen), After: animalWith("a", "dry")}, true},
		{"open to bred", domain.Change{Entity: domain.EntityAnimal, Action: domain.ActionUpdate, Before: animalWith("a", domain.StatusOpen), After: animalWith("a", domain.StatusBred)}, false},
		{"lactating to bred", domain.Change{Entity: domain.EntityAnimal, Action: domain.ActionUpdate, Before: animalWith("a", domain.StatusLactating), After: animalWith("a", domain.StatusBred)}, false},
		{"open to pregnant", domain.Change{Entity: domain.EntityAnimal, Action: domain.ActionUpdate, Before: animalWith("a", domain.StatusOpen), After: animalWith("a", domain.StatusPregnant)}, true},
		{"pregnant to open", domain.Change{Entity: domain.EntityAnimal, Action: domain.ActionUpdate, Before: animalWith("a", domain.StatusPregnant), After: animalWith("a", domain.StatusOpen)}, true},
		{"unchanged status", domain.Change{Entity: domain.EntityAnimal, Action: domain.ActionUpdate, Before: animalWith("a", domain.StatusBred), After: animalWith("a", domain.StatusBred)}, false},
		{"event ignored", domain.Change{Entity: domain.EntityEvent, Action: domain.ActionCreate, After: Event{Type: domain.EventBirth}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := rule.Evaluate(ctx, nil, []domain.Change{tc.change})
			if err != nil {
				t.Fatalf("evaluate: %v", err)
			}
			if res.HasBlocking() != tc.block {
				t.Fatalf("expected blocking=%v, got %+v", tc.block, res.Violations)
			}
		})
	}
}

func TestPostPartumIntervalRule(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(nil)
	cow := animalWith("", domain.StatusLactating)
	var animalID string
	_, err := store.RunInTransaction(ctx, func(tx Transaction) error {
		created, err := tx.CreateAnimal(cow)
		if err != nil {
			return err
		}
		animalID = created.ID
		if _, err := tx.CreateEvent(Event{AnimalID: animalID, Type: domain.EventBirth, EventDate: day(2024, 3, 1)}); err != nil {
			return err
		}
		planned := Event{AnimalID: animalID, Type: domain.EventBirth, EventDate: day(2024, 4, 1), Planned: true}
		_, err = tx.CreateEvent(planned)
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	rule := PostPartumIntervalRule()
	evaluate := func(ev Event) domain.Result {
		t.Helper()
		var res domain.Result
		_ = store.View(ctx, func(v TransactionView) error {
			var err error
			res, err = rule.Evaluate(ctx, v, []domain.Change{{Entity: domain.EntityEvent, Action: domain.ActionCreate, After: ev}})
			if err != nil {
				t.Fatalf("evaluate: %v", err)
			}
			return nil
		})
		return res
	}

	early := evaluate(Event{ID: "e1", AnimalID: animalID, Type: domain.EventInsemination, EventDate: day(2024, 4, 15)})
	if len(early.Violations) != 1 || early.Violations[0].Severity != domain.SeverityWarn || early.HasBlocking() {
		t.Fatalf("expected a single warning measured from the actual birth, got %+v", early.Violations)
	}
	if early.Violations[0].EntityID != "e1" {
		t.Fatalf("warning should name the event, got %q", early.Violations[0].EntityID)
	}

	if res := evaluate(Event{AnimalID: animalID, Type: domain.EventNaturalMating, EventDate: day(2024, 4, 30)}); len(res.Violations) != 0 {
		t.Fatalf("60 days elapsed, expected no warning, got %+v", res.Violations)
	}
	if res := evaluate(Event{AnimalID: animalID, Type: domain.EventHeatDetection, EventDate: day(2024, 3, 10)}); len(res.Violations) != 0 {
		t.Fatalf("heat is not a service, got %+v", res.Violations)
	}
	if res := evaluate(Event{AnimalID: animalID, Type: domain.EventInsemination, EventDate: day(2024, 3, 10), Planned: true}); len(res.Violations) != 0 {
		t.Fatalf("planned services are not checked, got %+v", res.Violations)
	}
}

func TestDefaultRulesEngineRegistersPolicies(t *testing.T) {
	engine := NewDefaultRulesEngine()
	before := animalWith("a", domain.StatusOpen)
	after := animalWith("a", domain.StatusLactating)
	res, err := engine.Evaluate(context.Background(), nil, []domain.Change{{Entity: domain.EntityAnimal, Action: domain.ActionUpdate, Before: before, After: after}})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !res.HasBlocking() {
		t.Fatalf("expected status transition rule to be registered")
	}
	if res, _ := NewRulesEngine().Evaluate(context.Background(), nil, nil); len(res.Violations) != 0 {
		t.Fatalf("empty engine produced violations")
	}
}
