package core

import (
	"context"
	"fmt"

	"herdcore/pkg/domain"
)

const statusTransitionRuleName = "status_transition"

// StatusTransitionRule blocks animal writes that set an unknown status, enrol
// an animal outside open, or move between statuses the lifecycle does not allow.
func StatusTransitionRule() domain.Rule {
	return statusTransitionRule{}
}

type statusTransitionRule struct{}

var (
	validStatuses = toSet(
		string(domain.StatusOpen),
		string(domain.StatusBred),
		string(domain.StatusPregnant),
		string(domain.StatusLactating),
	)
	allowedTransitions = map[domain.ReproductiveStatus]map[string]struct{}{
		domain.StatusOpen:      toSet(string(domain.StatusBred)),
		domain.StatusBred:      toSet(string(domain.StatusPregnant), string(domain.StatusOpen)),
		domain.StatusPregnant:  toSet(string(domain.StatusLactating)),
		domain.StatusLactating: toSet(string(domain.StatusBred)),
	}
)

func (statusTransitionRule) Name() string { return statusTransitionRuleName }

func (statusTransitionRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityAnimal {
			continue
		}
		after, ok := change.After.(domain.Animal)
		if !ok {
			continue
		}
		status := after.Reproduction.Status
		if _, valid := validStatuses[string(status)]; !valid {
			res.Violations = append(res.Violations, blockAnimal(after.ID, fmt.Sprintf("animal %s is set to invalid status %q", after.ID, status)))
			continue
		}

		switch change.Action {
		case domain.ActionCreate:
			if status != domain.StatusOpen {
				res.Violations = append(res.Violations, blockAnimal(after.ID, fmt.Sprintf("animal %s must enter the program open, got %s", after.ID, status)))
			}
		case domain.ActionUpdate:
			before, ok := change.Before.(domain.Animal)
			if !ok || before.Reproduction.Status == status {
				continue
			}
			if _, allowed := allowedTransitions[before.Reproduction.Status][string(status)]; !allowed {
				res.Violations = append(res.Violations, blockAnimal(after.ID, fmt.Sprintf("cannot move animal %s from %s to %s", after.ID, before.Reproduction.Status, status)))
			}
		}
	}
	return res, nil
}

func blockAnimal(id, msg string) domain.Violation {
	return domain.Violation{
		Rule:     statusTransitionRuleName,
		Severity: domain.SeverityBlock,
		Message:  msg,
		Entity:   domain.EntityAnimal,
		EntityID: id,
	}
}

func toSet(values ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
