package core

import (
	"fmt"
	"strings"
	"time"

	"herdcore/pkg/domain"
)

// duplicateGuarded lists event types limited to one per animal per calendar day.
var duplicateGuarded = map[domain.EventType]struct{}{
	domain.EventHeatDetection: {},
	domain.EventInsemination:  {},
	domain.EventBirth:         {},
}

// validateShape checks the fields that need no stored state and normalises the
// details payload. It runs before any lock or transaction is taken.
func validateShape(event *domain.ReproductiveEvent, now time.Time) error {
	switch {
	case strings.TrimSpace(event.AnimalID) == "":
		return missingField("animal_id")
	case event.Type == "":
		return missingField("type")
	case event.EventDate.IsZero():
		return missingField("event_date")
	}
	if !event.Type.Valid() {
		return domain.ValidationError{
			Code:    domain.CodeInvalidDetails,
			Field:   "type",
			Message: fmt.Sprintf("unknown event type %q", event.Type),
		}
	}
	if event.Details == nil {
		event.Details = domain.EmptyDetails(event.Type)
	}
	if got := event.Details.EventType(); got != event.Type {
		return domain.ValidationError{
			Code:    domain.CodeInvalidDetails,
			Field:   "details",
			Message: fmt.Sprintf("%s details attached to %s event", got, event.Type),
		}
	}
	if check, ok := event.PregnancyCheck(); ok {
		if err := validatePregnancyCheck(check); err != nil {
			return err
		}
	}
	if event.Cost != nil {
		if event.Cost.Amount.IsNegative() {
			return domain.ValidationError{Code: domain.CodeInvalidDetails, Field: "cost.amount", Message: "cost must not be negative"}
		}
		if event.Cost.Currency == "" {
			return missingField("cost.currency")
		}
	}
	if !event.Planned && event.EventDate.After(now) {
		return domain.ValidationError{
			Code:    domain.CodeFutureEventDate,
			Field:   "event_date",
			Message: fmt.Sprintf("event date %s is after %s", event.EventDate.Format(time.RFC3339), now.Format(time.RFC3339)),
		}
	}
	return nil
}

func validatePregnancyCheck(check domain.PregnancyCheckDetails) error {
	if !check.Status.Valid() {
		return domain.ValidationError{
			Code:    domain.CodeMismatchedConfirmation,
			Field:   "details.status",
			Message: fmt.Sprintf("unknown pregnancy check status %q", check.Status),
		}
	}
	if check.GestationDays < 0 {
		return domain.ValidationError{Code: domain.CodeInvalidDetails, Field: "details.gestation_days", Message: "gestation age must not be negative"}
	}
	if check.Status == domain.PregnancyNegative && check.GestationDays > 0 {
		return domain.ValidationError{
			Code:    domain.CodeMismatchedConfirmation,
			Field:   "details.gestation_days",
			Message: "negative check reports a gestation age",
		}
	}
	return nil
}

// validateAgainstState runs the checks that need the animal and its history.
func validateAgainstState(tx domain.Transaction, event domain.ReproductiveEvent) (domain.Animal, error) {
	if _, guarded := duplicateGuarded[event.Type]; guarded {
		for _, existing := range tx.FindEventsByAnimal(event.AnimalID, domain.SameDayFilter(event.AnimalID, event.Type, event.EventDate)) {
			// a planned entry does not collide with the recorded occurrence
			if existing.Planned != event.Planned {
				continue
			}
			return domain.Animal{}, domain.ValidationError{
				Code:    domain.CodeDuplicateEvent,
				Field:   "event_date",
				Message: fmt.Sprintf("%s already recorded for animal %s on %s (event %s)", event.Type, event.AnimalID, event.EventDate.UTC().Format(time.DateOnly), existing.ID),
			}
		}
	}
	animal, ok := tx.GetAnimal(event.AnimalID)
	if !ok {
		return domain.Animal{}, domain.NotFoundError{Entity: domain.EntityAnimal, ID: event.AnimalID}
	}
	if event.Type.IsBreeding() {
		if age := domain.AgeInMonths(animal.BirthDate, event.EventDate); age < domain.MinBreedingAgeMonths {
			return domain.Animal{}, domain.ValidationError{
				Code:    domain.CodeAnimalTooYoung,
				Field:   "animal_id",
				Message: fmt.Sprintf("animal %s is %d months old, minimum is %d", animal.ID, age, domain.MinBreedingAgeMonths),
			}
		}
	}
	// planned services skip the transition table, so the pregnancy guard is repeated here
	if event.Type == domain.EventInsemination && animal.Reproduction.Status == domain.StatusPregnant {
		return domain.Animal{}, domain.ValidationError{
			Code:    domain.CodePregnantInsemination,
			Field:   "type",
			Message: fmt.Sprintf("animal %s is pregnant and cannot be inseminated", animal.ID),
		}
	}
	return animal, nil
}

func validateAnimal(animal domain.Animal) error {
	switch {
	case strings.TrimSpace(animal.Tag) == "":
		return missingField("tag")
	case strings.TrimSpace(animal.Species) == "":
		return missingField("species")
	case animal.BirthDate.IsZero():
		return missingField("birth_date")
	}
	if animal.Sex != domain.SexFemale && animal.Sex != domain.SexMale {
		return domain.ValidationError{Code: domain.CodeInvalidDetails, Field: "sex", Message: fmt.Sprintf("unknown sex %q", animal.Sex)}
	}
	return nil
}

func missingField(field string) error {
	return domain.ValidationError{Code: domain.CodeMissingField, Field: field, Message: field + " is required"}
}
