package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ReminderKind classifies a forward-looking reminder.
type ReminderKind string

// Reminder kinds emitted by the alert scheduler.
const (
	ReminderBreedingWindow   ReminderKind = "breeding_window"
	ReminderNextHeatWatch    ReminderKind = "next_heat_watch"
	ReminderPregnancyCheck   ReminderKind = "pregnancy_check"
	ReminderPregnancyRecheck ReminderKind = "pregnancy_recheck"
	ReminderPostPartumCheck  ReminderKind = "post_partum_check"
)

// Reminder is the payload handed to a NotificationGateway.
type Reminder struct {
	ID       string       `json:"id"`
	AnimalID string       `json:"animal_id"`
	EventID  string       `json:"event_id"`
	Kind     ReminderKind `json:"kind"`
	FireAt   time.Time    `json:"fire_at"`
	Message  string       `json:"message"`
}

// NotificationGateway delivers reminders immediately or at a later time.
// Delivery and retries are the gateway's responsibility.
type NotificationGateway interface {
	ScheduleNotification(ctx context.Context, reminder Reminder, fireAt time.Time) error
	NotifyNow(ctx context.Context, reminder Reminder) error
}

// ExpenseRecord is emitted when an event carries a cost.
type ExpenseRecord struct {
	ID         string          `json:"id"`
	AnimalID   string          `json:"animal_id"`
	EventID    string          `json:"event_id"`
	EventType  EventType       `json:"event_type"`
	Category   string          `json:"category"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	IncurredAt time.Time       `json:"incurred_at"`
	RecordedBy string          `json:"recorded_by"`
}

// FinancialLedger receives expense records.
type FinancialLedger interface {
	RecordExpense(ctx context.Context, record ExpenseRecord) error
}
