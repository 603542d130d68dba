package core

import (
	"fmt"

	"herdcore/pkg/domain"
)

// Transition returns the status an animal moves to when event is accepted in
// status from. Combinations that are not listed leave the status unchanged; a
// service on a pregnant animal and a birth outside pregnancy are rejected.
func Transition(from domain.ReproductiveStatus, event domain.ReproductiveEvent) (domain.ReproductiveStatus, error) {
	switch event.Type {
	case domain.EventHeatDetection, domain.EventWeaning, domain.EventBreedingEvaluation, domain.EventSynchronization:
		return from, nil

	case domain.EventInsemination:
		if from == domain.StatusPregnant {
			return from, domain.ValidationError{
				Code:    domain.CodePregnantInsemination,
				Field:   "type",
				Message: "cannot inseminate a pregnant animal",
			}
		}
		return domain.StatusBred, nil

	case domain.EventNaturalMating:
		if from == domain.StatusPregnant {
			return from, nil
		}
		return domain.StatusBred, nil

	case domain.EventPregnancyCheck:
		if from != domain.StatusBred {
			return from, nil
		}
		check, _ := event.PregnancyCheck()
		switch check.Status {
		case domain.PregnancyConfirmed:
			return domain.StatusPregnant, nil
		case domain.PregnancyNegative:
			return domain.StatusOpen, nil
		default:
			return from, nil
		}

	case domain.EventBirth:
		if from != domain.StatusPregnant {
			return from, domain.ValidationError{
				Code:    domain.CodeInvalidTransition,
				Field:   "type",
				Message: fmt.Sprintf("birth recorded for animal in status %s", from),
			}
		}
		return domain.StatusLactating, nil

	default:
		return from, domain.ValidationError{
			Code:    domain.CodeInvalidTransition,
			Field:   "type",
			Message: fmt.Sprintf("unsupported event type %q", event.Type),
		}
	}
}

// applyEvent projects an accepted event onto the animal's reproductive state.
// Planned entries leave the state untouched.
func applyEvent(state *domain.AnimalReproductiveState, event domain.ReproductiveEvent, next domain.ReproductiveStatus) {
	if event.Planned {
		return
	}
	date := event.EventDate.UTC()
	prev := state.Status
	state.Status = next

	switch event.Type {
	case domain.EventHeatDetection:
		state.LastHeatDate = &date
	case domain.EventInsemination, domain.EventNaturalMating:
		state.LastInseminationDate = &date
		state.ServicesSinceCalving++
	case domain.EventPregnancyCheck:
		state.LastPregnancyCheckDate = &date
		switch {
		case prev == domain.StatusBred && next == domain.StatusPregnant:
			if expected, ok := event.DerivedDates.Get(domain.DateExpectedCalving); ok {
				state.ExpectedCalvingDate = &expected
			}
		case prev == domain.StatusBred && next == domain.StatusOpen:
			state.ExpectedCalvingDate = nil
		}
	case domain.EventBirth:
		state.LastCalvingDate = &date
		state.TotalCalves++
		state.ServicesSinceCalving = 0
		state.ExpectedCalvingDate = nil
	}
}
