package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"herdcore/pkg/domain"
)

var reminderNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("herdcore/reminders"))

// reminderKinds maps the derived dates worth a reminder to their kind.
var reminderKinds = map[domain.DerivedDateKey]domain.ReminderKind{
	domain.DateOptimalBreedingWindowStart: domain.ReminderBreedingWindow,
	domain.DateNextHeat:                   domain.ReminderNextHeatWatch,
	domain.DatePregnancyCheck:             domain.ReminderPregnancyCheck,
	domain.DateNextCheck:                  domain.ReminderPregnancyCheck,
	domain.DateBreedingEligible:           domain.ReminderPostPartumCheck,
}

var reminderMessages = map[domain.ReminderKind]string{
	domain.ReminderBreedingWindow:   "optimal breeding window opens for animal %s",
	domain.ReminderNextHeatWatch:    "watch animal %s for the next heat",
	domain.ReminderPregnancyCheck:   "pregnancy check due for animal %s",
	domain.ReminderPregnancyRecheck: "pregnancy recheck due for animal %s",
	domain.ReminderPostPartumCheck:  "animal %s is past the post-partum interval",
}

// AlertScheduler turns an event's derived dates into reminders for a
// NotificationGateway. Reminders already due are sent immediately. Earlier
// reminders are never cancelled when a later event supersedes them.
type AlertScheduler struct {
	gateway domain.NotificationGateway
	clock   Clock
	logger  Logger
	metrics MetricsRecorder
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewAlertScheduler returns a scheduler for gateway using the engine defaults
// for anything opts leaves unset.
func NewAlertScheduler(gateway domain.NotificationGateway, opts ...Option) *AlertScheduler {
	o := defaultEngineOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return newAlertScheduler(gateway, o)
}

func newAlertScheduler(gateway domain.NotificationGateway, o engineOptions) *AlertScheduler {
	return &AlertScheduler{
		gateway: gateway,
		clock:   o.clock,
		logger:  o.logger,
		metrics: o.metrics,
		timeout: o.alertTimeout,
	}
}

// Reminders lists the reminders event warrants, ordered by fire time.
func Reminders(event domain.ReproductiveEvent) []domain.Reminder {
	var out []domain.Reminder
	for key, date := range event.DerivedDates {
		kind, ok := reminderKinds[key]
		if !ok {
			continue
		}
		out = append(out, newReminder(event, kind, date))
	}
	out = append(out, recheckReminders(event)...)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].FireAt.Equal(out[j].FireAt) {
			return out[i].FireAt.Before(out[j].FireAt)
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

// recheckReminders covers a confirmed pregnancy between the next check and
// the expected calving date.
func recheckReminders(event domain.ReproductiveEvent) []domain.Reminder {
	check, ok := event.PregnancyCheck()
	if !ok || check.Status != domain.PregnancyConfirmed {
		return nil
	}
	nextCheck, hasNext := event.DerivedDates.Get(domain.DateNextCheck)
	calving, hasCalving := event.DerivedDates.Get(domain.DateExpectedCalving)
	if !hasNext || !hasCalving {
		return nil
	}
	var out []domain.Reminder
	for _, offset := range domain.PregnancyRecheckOffsets() {
		at := domain.AddDays(event.EventDate, offset)
		if at.After(nextCheck) && at.Before(calving) {
			out = append(out, newReminder(event, domain.ReminderPregnancyRecheck, at))
		}
	}
	return out
}

func newReminder(event domain.ReproductiveEvent, kind domain.ReminderKind, fireAt time.Time) domain.Reminder {
	fireAt = fireAt.UTC()
	name := fmt.Sprintf("%s|%s|%s", event.ID, kind, fireAt.Format(time.RFC3339))
	return domain.Reminder{
		ID:       uuid.NewSHA1(reminderNamespace, []byte(name)).String(),
		AnimalID: event.AnimalID,
		EventID:  event.ID,
		Kind:     kind,
		FireAt:   fireAt,
		Message:  fmt.Sprintf(reminderMessages[kind], event.AnimalID),
	}
}

// ScheduleEventAlerts hands every reminder for event to the gateway. Each
// failure is logged and counted; the joined SchedulingFailures are returned
// for callers that want them.
func (s *AlertScheduler) ScheduleEventAlerts(ctx context.Context, event domain.ReproductiveEvent) error {
	if s == nil || s.gateway == nil {
		return nil
	}
	now := s.clock.Now()
	var errs []error
	for _, reminder := range Reminders(event) {
		var err error
		if !reminder.FireAt.After(now) {
			err = s.gateway.NotifyNow(ctx, reminder)
		} else {
			err = s.gateway.ScheduleNotification(ctx, reminder, reminder.FireAt)
		}
		if err != nil {
			failure := domain.SchedulingFailure{AnimalID: event.AnimalID, Kind: reminder.Kind, Err: err}
			s.logger.Warn("reminder scheduling failed", "animal_id", event.AnimalID, "event_id", event.ID, "kind", string(reminder.Kind), "error", err)
			if counter, ok := s.metrics.(AlertFailureRecorder); ok {
				counter.AlertFailed(ctx, string(reminder.Kind))
			}
			errs = append(errs, failure)
			continue
		}
		s.logger.Debug("reminder scheduled", "animal_id", event.AnimalID, "kind", string(reminder.Kind), "fire_at", reminder.FireAt)
	}
	return errors.Join(errs...)
}

// dispatch schedules in the background, detached from the caller's
// cancellation but bounded by the scheduler timeout.
func (s *AlertScheduler) dispatch(ctx context.Context, event domain.ReproductiveEvent) {
	if s == nil || s.gateway == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		_ = s.ScheduleEventAlerts(bg, event)
	}()
}

// Wait blocks until background scheduling started so far has finished.
func (s *AlertScheduler) Wait() {
	if s == nil {
		return
	}
	s.wg.Wait()
}
