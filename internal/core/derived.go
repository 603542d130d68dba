package core

import (
	"time"

	"herdcore/pkg/domain"
)

// DeriveDates computes the future dates implied by event. related is the
// insemination a pregnancy check confirms, if one was found; it is ignored for
// other event types. The result is nil for events that imply no dates.
func DeriveDates(event domain.ReproductiveEvent, related *domain.ReproductiveEvent) domain.DerivedDates {
	d := event.EventDate.UTC()
	switch event.Type {
	case domain.EventHeatDetection:
		return domain.DerivedDates{
			domain.DateNextHeat:                   domain.AddDays(d, domain.EstrusCycleDays),
			domain.DateOptimalBreedingWindowStart: d.Add(domain.BreedingWindowStart),
			domain.DateOptimalBreedingWindowEnd:   d.Add(domain.BreedingWindowEnd),
		}

	case domain.EventInsemination, domain.EventNaturalMating:
		expected := domain.AddDays(d, domain.GestationDays)
		return domain.DerivedDates{
			domain.DatePregnancyCheck:  domain.AddDays(d, domain.PregnancyCheckOffsetDays),
			domain.DateExpectedCalving: expected,
			domain.DateDryOff:          domain.AddDays(expected, -domain.DryOffLeadDays),
		}

	case domain.EventPregnancyCheck:
		check, _ := event.PregnancyCheck()
		out := domain.DerivedDates{}
		if check.Status != domain.PregnancyNegative {
			out[domain.DateExpectedCalving] = expectedCalvingFromCheck(d, related)
		}
		if check.GestationDays < domain.EarlyGestationDays {
			out[domain.DateNextCheck] = domain.AddDays(d, 30)
		} else {
			out[domain.DateNextCheck] = domain.AddDays(d, 60)
		}
		return out

	case domain.EventBirth:
		return domain.DerivedDates{
			domain.DateBreedingEligible: domain.AddDays(d, domain.PostPartumIntervalDays),
			domain.DateWeaning:          domain.AddDays(d, domain.WeaningOffsetDays),
		}

	default:
		return nil
	}
}

// expectedCalvingFromCheck uses the linked service when known; otherwise it
// assumes the check happens 30 days into gestation.
func expectedCalvingFromCheck(checkDate time.Time, related *domain.ReproductiveEvent) time.Time {
	if related != nil {
		return domain.AddDays(related.EventDate, domain.GestationDays)
	}
	return domain.AddDays(checkDate, domain.GestationDays-domain.PregnancyCheckOffsetDays)
}

// relatedInseminationFilter selects inseminations a check on date may confirm.
func relatedInseminationFilter(animalID string, date time.Time) domain.EventFilter {
	return domain.EventFilter{
		AnimalID: animalID,
		Types:    []domain.EventType{domain.EventInsemination},
		From:     domain.StartOfDay(domain.AddDays(date, -domain.RelatedInseminationLookbackDays)),
		To:       date,
	}
}
