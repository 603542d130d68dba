package domain

import "fmt"

// ValidationCode distinguishes the business-rule failures the engine reports.
type ValidationCode string

// Validation codes, one per precondition.
const (
	CodeMissingField           ValidationCode = "missing_field"
	CodeInvalidDetails         ValidationCode = "invalid_details"
	CodeFutureEventDate        ValidationCode = "future_event_date"
	CodeDuplicateEvent         ValidationCode = "duplicate_event"
	CodeAnimalTooYoung         ValidationCode = "animal_too_young"
	CodePregnantInsemination   ValidationCode = "pregnant_insemination"
	CodeInvalidTransition      ValidationCode = "invalid_transition"
	CodeMismatchedConfirmation ValidationCode = "mismatched_confirmation_status"
	CodeRuleViolation          ValidationCode = "rule_violation"
)

// ValidationError reports malformed input or a violated business rule. It is
// always raised before anything is persisted.
type ValidationError struct {
	Code    ValidationCode
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed (%s) on %s: %s", e.Code, e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed (%s): %s", e.Code, e.Message)
}

// Is matches another ValidationError with the same code, or any code when the
// target leaves it empty.
func (e ValidationError) Is(target error) bool {
	t, ok := target.(ValidationError)
	if !ok {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// NotFoundError is returned when a referenced record does not exist.
type NotFoundError struct {
	Entity EntityType
	ID     string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// InfrastructureError wraps a store failure during the transactional write.
// Callers may retry the whole operation.
type InfrastructureError struct {
	Op  string
	Err error
}

func (e InfrastructureError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e InfrastructureError) Unwrap() error { return e.Err }

// SchedulingFailure wraps a notification gateway failure. It is logged and
// never returned from a write operation.
type SchedulingFailure struct {
	AnimalID string
	Kind     ReminderKind
	Err      error
}

func (e SchedulingFailure) Error() string {
	return fmt.Sprintf("schedule %s reminder for animal %s: %v", e.Kind, e.AnimalID, e.Err)
}

func (e SchedulingFailure) Unwrap() error { return e.Err }
