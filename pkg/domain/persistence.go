package domain

import (
	"context"
	"time"
)

// EventFilter narrows event queries. Zero values leave a dimension unbounded;
// From and To are inclusive.
type EventFilter struct {
	AnimalID string
	Types    []EventType
	From     time.Time
	To       time.Time
}

// SameDayFilter matches events of type t recorded for animalID on day's UTC calendar day.
func SameDayFilter(animalID string, t EventType, day time.Time) EventFilter {
	start := StartOfDay(day)
	return EventFilter{
		AnimalID: animalID,
		Types:    []EventType{t},
		From:     start,
		To:       start.Add(24*time.Hour - time.Nanosecond),
	}
}

// Matches reports whether e satisfies the filter.
func (f EventFilter) Matches(e ReproductiveEvent) bool {
	if f.AnimalID != "" && e.AnimalID != f.AnimalID {
		return false
	}
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if e.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.From.IsZero() && e.EventDate.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.EventDate.After(f.To) {
		return false
	}
	return true
}

// EventStore is the append-only event log. Results are ordered by event date.
type EventStore interface {
	CreateEvent(ReproductiveEvent) (ReproductiveEvent, error)
	FindEventsByAnimal(animalID string, filter EventFilter) []ReproductiveEvent
	FindOneEvent(filter EventFilter) (ReproductiveEvent, bool)
}

// AnimalRegistry reads and mutates animals and their reproductive state.
type AnimalRegistry interface {
	GetAnimal(id string) (Animal, bool)
	UpdateAnimal(id string, mutator func(*Animal) error) (Animal, error)
	CreateAnimal(Animal) (Animal, error)
}

// Transaction exposes the event store and animal registry within one atomic scope.
type Transaction interface {
	EventStore
	AnimalRegistry
	Snapshot() TransactionView
}

// TransactionView provides read-only access to snapshot data.
type TransactionView interface {
	ListAnimals() []Animal
	FindAnimal(id string) (Animal, bool)
	ListEvents(filter EventFilter) []ReproductiveEvent
	FindOneEvent(filter EventFilter) (ReproductiveEvent, bool)
}

// PersistentStore is a minimal abstraction over durable backends.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetAnimal(id string) (Animal, bool)
	ListAnimals() []Animal
	ListEvents(filter EventFilter) []ReproductiveEvent
}
