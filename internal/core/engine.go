package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"herdcore/internal/fertility"
	"herdcore/internal/infra/persistence/memory"
	"herdcore/pkg/domain"
)

// Engine records reproductive events, keeps each animal's reproductive state
// consistent with its event history and triggers reminders and expenses for
// accepted events.
type Engine struct {
	store  PersistentStore
	opts   engineOptions
	locks  *keyLock
	alerts *AlertScheduler
	nowFn  func() time.Time
}

// PregnancyConfirmation is the outcome of ConfirmPregnancy.
type PregnancyConfirmation struct {
	Event               Event
	Status              domain.PregnancyStatus
	ExpectedCalvingDate *time.Time
	LinkedInsemination  *Event
	Result              Result
}

// BirthOutcome is the outcome of RecordBirth. Calves holds the animals
// registered for live calves, if any.
type BirthOutcome struct {
	Event  Event
	Dam    Animal
	Calves []Animal
	Result Result
}

type recordOutcome struct {
	event   Event
	animal  Animal
	related *Event
	result  Result
}

// NewEngine constructs an engine over store. A nil store is replaced by an
// in-memory store with the default rules.
func NewEngine(store PersistentStore, opts ...Option) *Engine {
	o := defaultEngineOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if store == nil {
		store = memory.NewStore(NewDefaultRulesEngine())
	}
	if o.clockSet {
		if setter, ok := store.(interface{ SetNowFunc(func() time.Time) }); ok {
			setter.SetNowFunc(o.clock.Now)
		}
	}
	return &Engine{
		store:  store,
		opts:   o,
		locks:  newKeyLock(),
		alerts: newAlertScheduler(o.notifier, o),
		nowFn:  selectNowFunc(store, o.clock),
	}
}

// NewInMemoryEngine creates an engine over a fresh in-memory store carrying
// the default rules.
func NewInMemoryEngine(opts ...Option) *Engine {
	return NewEngine(memory.NewStore(NewDefaultRulesEngine()), opts...)
}

// Store returns the underlying storage implementation.
func (e *Engine) Store() PersistentStore {
	return e.store
}

// RulesEngine returns the store's rules engine when it exposes one.
func (e *Engine) RulesEngine() *RulesEngine {
	return extractRulesEngine(e.store)
}

// Close waits for background reminder scheduling to finish.
func (e *Engine) Close() {
	e.alerts.Wait()
}

func extractRulesEngine(store PersistentStore) *RulesEngine {
	if provider, ok := store.(interface{ RulesEngine() *RulesEngine }); ok {
		return provider.RulesEngine()
	}
	return nil
}

func selectNowFunc(store PersistentStore, clock Clock) func() time.Time {
	if provider, ok := store.(interface{ NowFunc() func() time.Time }); ok {
		if fn := provider.NowFunc(); fn != nil {
			return func() time.Time { return fn().UTC() }
		}
	}
	if clock == nil {
		clock = ClockFunc(nil)
	}
	return clock.Now
}

func (e *Engine) now() time.Time {
	return e.nowFn()
}

func (e *Engine) run(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, span := e.opts.tracer.Start(ctx, op)
	start := time.Now()
	err := fn(ctx)
	e.opts.metrics.Observe(ctx, op, err == nil, time.Since(start))
	span.End(err)
	switch {
	case err == nil:
		e.opts.logger.Debug("operation completed", "operation", op, "duration", time.Since(start))
	case isCallerError(err):
		e.opts.logger.Warn("operation rejected", "operation", op, "error", err)
	default:
		e.opts.logger.Error("operation failed", "operation", op, "error", err)
	}
	return err
}

func isCallerError(err error) bool {
	var notFound domain.NotFoundError
	return errors.Is(err, domain.ValidationError{}) || errors.As(err, &notFound)
}

// RecordEvent validates event against the animal's state, derives its future
// dates and stores it together with the updated state in one transaction.
// Reminders and expense records follow the commit and never fail the call.
func (e *Engine) RecordEvent(ctx context.Context, event Event, actor string) (Event, Result, error) {
	var out recordOutcome
	err := e.run(ctx, "record_event", func(ctx context.Context) error {
		var err error
		out, err = e.record(ctx, event, actor, nil)
		return err
	})
	return out.event, out.result, err
}

// ConfirmPregnancy records a pregnancy check and reports the expected calving
// date resolved from the linked insemination, or the fallback estimate.
func (e *Engine) ConfirmPregnancy(ctx context.Context, check Event, actor string) (PregnancyConfirmation, error) {
	var confirmation PregnancyConfirmation
	err := e.run(ctx, "confirm_pregnancy", func(ctx context.Context) error {
		if check.Type != domain.EventPregnancyCheck {
			return domain.ValidationError{
				Code:    domain.CodeMismatchedConfirmation,
				Field:   "type",
				Message: fmt.Sprintf("expected %s event, got %q", domain.EventPregnancyCheck, check.Type),
			}
		}
		out, err := e.record(ctx, check, actor, nil)
		if err != nil {
			confirmation.Result = out.result
			return err
		}
		details, _ := out.event.PregnancyCheck()
		confirmation = PregnancyConfirmation{
			Event:              out.event,
			Status:             details.Status,
			LinkedInsemination: out.related,
			Result:             out.result,
		}
		if expected, ok := out.event.DerivedDates.Get(domain.DateExpectedCalving); ok {
			confirmation.ExpectedCalvingDate = &expected
		}
		return nil
	})
	return confirmation, err
}

// RecordBirth records a birth for the dam. When the details ask for it, one
// animal per live calf is registered in the same transaction.
func (e *Engine) RecordBirth(ctx context.Context, birth Event, actor string) (BirthOutcome, error) {
	var outcome BirthOutcome
	err := e.run(ctx, "record_birth", func(ctx context.Context) error {
		if birth.Type != domain.EventBirth {
			return domain.ValidationError{
				Code:    domain.CodeInvalidDetails,
				Field:   "type",
				Message: fmt.Sprintf("expected %s event, got %q", domain.EventBirth, birth.Type),
			}
		}
		details, _ := birth.Birth()
		register := details.RegisterCalves && !birth.Planned
		if register {
			if err := validateCalves(details.Calves); err != nil {
				return err
			}
		}
		var calves []Animal
		extra := func(tx Transaction, stored Event, dam Animal) error {
			if !register {
				return nil
			}
			var err error
			calves, err = registerCalves(tx, stored, dam)
			return err
		}
		out, err := e.record(ctx, birth, actor, extra)
		if err != nil {
			outcome.Result = out.result
			return err
		}
		outcome = BirthOutcome{Event: out.event, Dam: out.animal, Calves: calves, Result: out.result}
		return nil
	})
	return outcome, err
}

func validateCalves(calves []domain.CalfDetails) error {
	for i, calf := range calves {
		if !calf.Alive {
			continue
		}
		if strings.TrimSpace(calf.Tag) == "" {
			return missingField(fmt.Sprintf("details.calves[%d].tag", i))
		}
		if calf.Sex != domain.SexFemale && calf.Sex != domain.SexMale {
			return domain.ValidationError{
				Code:    domain.CodeInvalidDetails,
				Field:   fmt.Sprintf("details.calves[%d].sex", i),
				Message: fmt.Sprintf("unknown sex %q", calf.Sex),
			}
		}
	}
	return nil
}

func registerCalves(tx Transaction, birth Event, dam Animal) ([]Animal, error) {
	details, _ := birth.Birth()
	var out []Animal
	for _, calf := range details.Calves {
		if !calf.Alive {
			continue
		}
		damID := dam.ID
		animal := Animal{
			Tag:       calf.Tag,
			Species:   dam.Species,
			Sex:       calf.Sex,
			BirthDate: birth.EventDate.UTC(),
			DamID:     &damID,
			Reproduction: domain.AnimalReproductiveState{
				Status: domain.StatusOpen,
			},
		}
		if details.SireID != "" {
			sire := details.SireID
			animal.SireID = &sire
		}
		created, err := tx.CreateAnimal(animal)
		if err != nil {
			return nil, err
		}
		out = append(out, created)
	}
	return out, nil
}

// record runs the shared write path. extra, when set, runs inside the same
// transaction after the dam's state is updated.
func (e *Engine) record(ctx context.Context, event Event, actor string, extra func(Transaction, Event, Animal) error) (recordOutcome, error) {
	ev := event.Clone()
	ev.ID = ""
	now := e.now()
	if err := validateShape(&ev, now); err != nil {
		return recordOutcome{}, err
	}

	unlock, err := e.locks.Lock(ctx, ev.AnimalID)
	if err != nil {
		return recordOutcome{}, err
	}
	defer unlock()

	var out recordOutcome
	res, err := e.store.RunInTransaction(ctx, func(tx Transaction) error {
		animal, err := validateAgainstState(tx, ev)
		if err != nil {
			return err
		}
		next := animal.Reproduction.Status
		if !ev.Planned {
			if next, err = Transition(animal.Reproduction.Status, ev); err != nil {
				return err
			}
		}
		var related *Event
		if ev.Type == domain.EventPregnancyCheck {
			candidates := tx.FindEventsByAnimal(ev.AnimalID, relatedInseminationFilter(ev.AnimalID, ev.EventDate))
			if linked, ok := latestActual(candidates); ok {
				related = &linked
			}
		}
		ev.DerivedDates = DeriveDates(ev, related)
		ev.RecordedBy = actor
		ev.CreatedAt = now

		stored, err := tx.CreateEvent(ev)
		if err != nil {
			return err
		}
		if !stored.Planned {
			animal, err = tx.UpdateAnimal(animal.ID, func(a *Animal) error {
				applyEvent(&a.Reproduction, stored, next)
				return nil
			})
			if err != nil {
				return err
			}
		}
		if extra != nil {
			if err := extra(tx, stored, animal); err != nil {
				return err
			}
		}
		out = recordOutcome{event: stored, animal: animal, related: related}
		return nil
	})
	out.result = res
	if err != nil {
		return recordOutcome{result: res}, classifyStoreError("record event", err)
	}
	for _, w := range res.Warnings() {
		e.opts.logger.Warn("rule warning", "rule", w.Rule, "entity_id", w.EntityID, "message", w.Message)
	}

	e.alerts.dispatch(ctx, out.event)
	e.recordExpense(ctx, out.event)
	return out, nil
}

func (e *Engine) recordExpense(ctx context.Context, event Event) {
	if event.Cost == nil || e.opts.ledger == nil {
		return
	}
	category := event.Cost.Category
	if category == "" {
		category = string(event.Type)
	}
	record := domain.ExpenseRecord{
		ID:         uuid.NewSHA1(reminderNamespace, []byte("expense|"+event.ID)).String(),
		AnimalID:   event.AnimalID,
		EventID:    event.ID,
		EventType:  event.Type,
		Category:   category,
		Amount:     event.Cost.Amount,
		Currency:   event.Cost.Currency,
		IncurredAt: event.EventDate.UTC(),
		RecordedBy: event.RecordedBy,
	}
	if err := e.opts.ledger.RecordExpense(ctx, record); err != nil {
		e.opts.logger.Warn("expense recording failed", "event_id", event.ID, "error", err)
	}
}

// classifyStoreError keeps caller-facing and context errors intact and marks
// everything else as an infrastructure failure.
func classifyStoreError(op string, err error) error {
	var (
		violation domain.RuleViolationError
		notFound  domain.NotFoundError
		infra     domain.InfrastructureError
	)
	switch {
	case errors.As(err, &violation):
		msgs := make([]string, 0, len(violation.Result.Violations))
		for _, v := range violation.Result.Violations {
			if v.Severity == domain.SeverityBlock {
				msgs = append(msgs, v.Message)
			}
		}
		return domain.ValidationError{Code: domain.CodeRuleViolation, Message: strings.Join(msgs, "; ")}
	case errors.Is(err, domain.ValidationError{}), errors.As(err, &notFound), errors.As(err, &infra):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return domain.InfrastructureError{Op: op, Err: err}
	}
}

// EnrollAnimal enters an animal into the breeding program with status open.
func (e *Engine) EnrollAnimal(ctx context.Context, animal Animal) (Animal, Result, error) {
	var created Animal
	var res Result
	err := e.run(ctx, "enroll_animal", func(ctx context.Context) error {
		if err := validateAnimal(animal); err != nil {
			return err
		}
		animal.Reproduction = domain.AnimalReproductiveState{Status: domain.StatusOpen}
		var err error
		res, err = e.store.RunInTransaction(ctx, func(tx Transaction) error {
			if animal.DamID != nil {
				if _, ok := tx.GetAnimal(*animal.DamID); !ok {
					return domain.NotFoundError{Entity: domain.EntityAnimal, ID: *animal.DamID}
				}
			}
			var err error
			created, err = tx.CreateAnimal(animal)
			return err
		})
		if err != nil {
			return classifyStoreError("enroll animal", err)
		}
		return nil
	})
	return created, res, err
}

// Animal returns the animal with its current reproductive state.
func (e *Engine) Animal(ctx context.Context, id string) (Animal, error) {
	var animal Animal
	err := e.store.View(ctx, func(view TransactionView) error {
		found, ok := view.FindAnimal(id)
		if !ok {
			return domain.NotFoundError{Entity: domain.EntityAnimal, ID: id}
		}
		animal = found
		return nil
	})
	return animal, err
}

// Timeline lists an animal's events ordered by event date.
func (e *Engine) Timeline(ctx context.Context, id string) ([]Event, error) {
	var events []Event
	err := e.store.View(ctx, func(view TransactionView) error {
		if _, ok := view.FindAnimal(id); !ok {
			return domain.NotFoundError{Entity: domain.EntityAnimal, ID: id}
		}
		events = view.ListEvents(domain.EventFilter{AnimalID: id})
		return nil
	})
	return events, err
}

// Metrics computes reproduction metrics for one animal over window.
func (e *Engine) Metrics(ctx context.Context, id string, window fertility.Window) (fertility.ReproductionMetrics, error) {
	var metrics fertility.ReproductionMetrics
	err := e.run(ctx, "compute_metrics", func(ctx context.Context) error {
		events, err := e.Timeline(ctx, id)
		if err != nil {
			return err
		}
		metrics = fertility.ComputeMetrics(id, events, window)
		return nil
	})
	return metrics, err
}

// HerdMetrics summarises metrics across every female in the store.
func (e *Engine) HerdMetrics(ctx context.Context, window fertility.Window) (fertility.HerdSummary, error) {
	var summary fertility.HerdSummary
	err := e.run(ctx, "compute_herd_metrics", func(ctx context.Context) error {
		return e.store.View(ctx, func(view TransactionView) error {
			var all []fertility.ReproductionMetrics
			for _, animal := range view.ListAnimals() {
				if animal.Sex != domain.SexFemale {
					continue
				}
				events := view.ListEvents(domain.EventFilter{AnimalID: animal.ID})
				all = append(all, fertility.ComputeMetrics(animal.ID, events, window))
			}
			summary = fertility.Summarize(all...)
			return nil
		})
	})
	return summary, err
}
