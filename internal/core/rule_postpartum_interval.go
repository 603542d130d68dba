package core

import (
	"context"
	"fmt"

	"herdcore/pkg/domain"
)

const postPartumRuleName = "post_partum_interval"

// PostPartumIntervalRule warns when an animal is serviced before the
// post-partum interval since its latest birth has elapsed. It never blocks.
func PostPartumIntervalRule() domain.Rule {
	return postPartumIntervalRule{}
}

type postPartumIntervalRule struct{}

func (postPartumIntervalRule) Name() string { return postPartumRuleName }

func (postPartumIntervalRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityEvent || change.Action != domain.ActionCreate {
			continue
		}
		event, ok := change.After.(domain.ReproductiveEvent)
		if !ok || event.Planned || !event.Type.IsBreeding() {
			continue
		}
		births := view.ListEvents(domain.EventFilter{
			AnimalID: event.AnimalID,
			Types:    []domain.EventType{domain.EventBirth},
			To:       event.EventDate,
		})
		last, found := latestActual(births)
		if !found {
			continue
		}
		elapsed := domain.DaysBetween(last.EventDate, event.EventDate)
		if elapsed < domain.PostPartumIntervalDays {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     postPartumRuleName,
				Severity: domain.SeverityWarn,
				Message:  fmt.Sprintf("animal %s serviced %d days after calving (recommended %d)", event.AnimalID, elapsed, domain.PostPartumIntervalDays),
				Entity:   domain.EntityEvent,
				EntityID: event.ID,
			})
		}
	}
	return res, nil
}

func latestActual(events []domain.ReproductiveEvent) (domain.ReproductiveEvent, bool) {
	for i := len(events) - 1; i >= 0; i-- {
		if !events[i].Planned {
			return events[i], true
		}
	}
	return domain.ReproductiveEvent{}, false
}
