package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"herdcore/internal/core"
	"herdcore/internal/fertility"
	"herdcore/pkg/domain"
)

func (a *app) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	return fs
}

func runEnroll(ctx context.Context, a *app, args []string) error {
	fs := a.flagSet("enroll")
	tag := fs.String("tag", "", "ear tag")
	name := fs.String("name", "", "display name")
	species := fs.String("species", "cattle", "species")
	sex := fs.String("sex", string(domain.SexFemale), "female or male")
	birth := fs.String("birth-date", "", "birth date (YYYY-MM-DD)")
	dam := fs.String("dam", "", "dam animal ID")
	sire := fs.String("sire", "", "sire animal ID")
	if err := fs.Parse(args); err != nil {
		return err
	}
	birthDate, err := parseDate(*birth)
	if err != nil {
		return err
	}
	animal := domain.Animal{Tag: *tag, Name: *name, Species: *species, Sex: domain.Sex(*sex), BirthDate: birthDate}
	if *dam != "" {
		animal.DamID = dam
	}
	if *sire != "" {
		animal.SireID = sire
	}
	created, _, err := a.engine.EnrollAnimal(ctx, animal)
	if err != nil {
		return err
	}
	return a.printJSON(created)
}

type recordOutput struct {
	Event     domain.ReproductiveEvent `json:"event"`
	Animal    *domain.Animal           `json:"animal,omitempty"`
	Warnings  []string                 `json:"warnings,omitempty"`
	Calves    []domain.Animal          `json:"calves,omitempty"`
	LinkedTo  string                   `json:"linked_insemination_id,omitempty"`
	Reminders []domain.Reminder        `json:"reminders,omitempty"`
}

// buildEvent routes the flags through the event JSON decoder so details are
// typed by the event type.
func buildEvent(animalID, typ, date string, planned bool, details string) (domain.ReproductiveEvent, error) {
	eventDate, err := parseDate(date)
	if err != nil {
		return domain.ReproductiveEvent{}, err
	}
	payload := map[string]any{
		"animal_id":  animalID,
		"type":       typ,
		"event_date": eventDate,
		"planned":    planned,
	}
	if details != "" {
		if !json.Valid([]byte(details)) {
			return domain.ReproductiveEvent{}, fmt.Errorf("details must be a JSON object")
		}
		payload["details"] = json.RawMessage(details)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return domain.ReproductiveEvent{}, err
	}
	var ev domain.ReproductiveEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return domain.ReproductiveEvent{}, fmt.Errorf("decode details: %w", err)
	}
	return ev, nil
}

func runRecord(ctx context.Context, a *app, args []string) error {
	fs := a.flagSet("record")
	animalID := fs.String("animal", "", "animal ID")
	typ := fs.String("type", "", "event type")
	date := fs.String("date", "", "event date (YYYY-MM-DD or RFC3339)")
	planned := fs.Bool("planned", false, "record a planned future event")
	details := fs.String("details", "", "type-specific details as JSON")
	actor := fs.String("actor", "herdctl", "who is recording the event")
	notes := fs.String("notes", "", "free-form notes")
	cost := fs.String("cost", "", "expense amount, e.g. 35.50")
	currency := fs.String("currency", "EUR", "expense currency")
	category := fs.String("category", "", "expense category (defaults to the event type)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ev, err := buildEvent(*animalID, *typ, *date, *planned, *details)
	if err != nil {
		return err
	}
	if *notes != "" {
		ev.Notes = notes
	}
	if *cost != "" {
		amount, err := decimal.NewFromString(*cost)
		if err != nil {
			return fmt.Errorf("invalid cost %q: %w", *cost, err)
		}
		ev.Cost = &domain.Cost{Amount: amount, Currency: *currency, Category: *category}
	}

	var out recordOutput
	var res domain.Result
	switch ev.Type {
	case domain.EventPregnancyCheck:
		confirmation, err := a.engine.ConfirmPregnancy(ctx, ev, *actor)
		if err != nil {
			return err
		}
		out.Event, res = confirmation.Event, confirmation.Result
		if confirmation.LinkedInsemination != nil {
			out.LinkedTo = confirmation.LinkedInsemination.ID
		}
	case domain.EventBirth:
		outcome, err := a.engine.RecordBirth(ctx, ev, *actor)
		if err != nil {
			return err
		}
		out.Event, res, out.Calves = outcome.Event, outcome.Result, outcome.Calves
	default:
		out.Event, res, err = a.engine.RecordEvent(ctx, ev, *actor)
		if err != nil {
			return err
		}
	}
	for _, w := range res.Warnings() {
		out.Warnings = append(out.Warnings, w.Message)
	}
	out.Reminders = core.Reminders(out.Event)
	if animal, err := a.engine.Animal(ctx, out.Event.AnimalID); err == nil {
		out.Animal = &animal
	}
	return a.printJSON(out)
}

func runAnimal(ctx context.Context, a *app, args []string) error {
	fs := a.flagSet("animal")
	id := fs.String("id", "", "animal ID")
	if err := fs.Parse(args); err != nil {
		return err
	}
	animal, err := a.engine.Animal(ctx, *id)
	if err != nil {
		return err
	}
	return a.printJSON(animal)
}

func runTimeline(ctx context.Context, a *app, args []string) error {
	fs := a.flagSet("timeline")
	id := fs.String("animal", "", "animal ID")
	if err := fs.Parse(args); err != nil {
		return err
	}
	events, err := a.engine.Timeline(ctx, *id)
	if err != nil {
		return err
	}
	if events == nil {
		events = []domain.ReproductiveEvent{}
	}
	return a.printJSON(events)
}

func runMetrics(ctx context.Context, a *app, args []string) error {
	fs := a.flagSet("metrics")
	id := fs.String("animal", "", "animal ID; empty summarises the herd")
	from := fs.String("from", "", "window start (YYYY-MM-DD)")
	to := fs.String("to", "", "window end (YYYY-MM-DD)")
	trend := fs.Bool("trend", false, "include the fertility trend")
	if err := fs.Parse(args); err != nil {
		return err
	}
	var window fertility.Window
	var err error
	if window.From, err = parseDate(*from); err != nil {
		return err
	}
	if window.To, err = parseDate(*to); err != nil {
		return err
	}
	window.IncludeFertility = *trend

	if *id == "" {
		summary, err := a.engine.HerdMetrics(ctx, window)
		if err != nil {
			return err
		}
		return a.printJSON(summary)
	}
	metrics, err := a.engine.Metrics(ctx, *id, window)
	if err != nil {
		return err
	}
	return a.printJSON(metrics)
}

func runDispatch(ctx context.Context, a *app, args []string) error {
	fs := a.flagSet("dispatch")
	at := fs.String("now", "", "dispatch reminders due at or before this time (default: now)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if a.notifier == nil {
		return errors.New("no notifier configured; set notifier.driver")
	}
	now, err := parseDate(*at)
	if err != nil {
		return err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	n, err := a.notifier.DispatchDue(ctx, now)
	if err != nil {
		return err
	}
	a.logger.WithField("dispatched", n).Info("reminders dispatched")
	return a.printJSON(map[string]int{"dispatched": n})
}
