// Package memory keeps reminders in process memory. It backs tests and the
// CLI when no Redis is configured.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"herdcore/pkg/domain"
)

var _ domain.NotificationGateway = (*Gateway)(nil)

// Gateway records scheduled and immediate reminders.
type Gateway struct {
	mu        sync.Mutex
	scheduled map[string]domain.Reminder
	sent      []domain.Reminder
	fail      error
}

// New returns an empty gateway.
func New() *Gateway {
	return &Gateway{scheduled: make(map[string]domain.Reminder)}
}

// FailWith makes every subsequent call return err; nil restores success.
func (g *Gateway) FailWith(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fail = err
}

// ScheduleNotification stores the reminder keyed by ID.
func (g *Gateway) ScheduleNotification(_ context.Context, reminder domain.Reminder, fireAt time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fail != nil {
		return g.fail
	}
	reminder.FireAt = fireAt.UTC()
	g.scheduled[reminder.ID] = reminder
	return nil
}

// NotifyNow records an immediate delivery.
func (g *Gateway) NotifyNow(_ context.Context, reminder domain.Reminder) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fail != nil {
		return g.fail
	}
	g.sent = append(g.sent, reminder)
	return nil
}

// Scheduled returns deferred reminders ordered by fire time.
func (g *Gateway) Scheduled() []domain.Reminder {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]domain.Reminder, 0, len(g.scheduled))
	for _, r := range g.scheduled {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].FireAt.Equal(out[j].FireAt) {
			return out[i].FireAt.Before(out[j].FireAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Sent returns immediate deliveries in order.
func (g *Gateway) Sent() []domain.Reminder {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]domain.Reminder(nil), g.sent...)
}

// DispatchDue moves reminders due at or before now to the sent list.
func (g *Gateway) DispatchDue(_ context.Context, now time.Time) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var due []domain.Reminder
	for id, r := range g.scheduled {
		if !r.FireAt.After(now) {
			due = append(due, r)
			delete(g.scheduled, id)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].FireAt.Before(due[j].FireAt) })
	g.sent = append(g.sent, due...)
	return len(due), nil
}
