// Package memory provides an in-memory implementation of the herd persistence
// store used for tests and ephemeral environments. The durable backends wrap it
// and write each commit through before it becomes visible.
package memory

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

var _ domain.PersistentStore = (*Store)(nil)

// Aliases keep the store's signatures short.
type (
	Animal          = domain.Animal
	Event           = domain.ReproductiveEvent
	Change          = domain.Change
	Result          = domain.Result
	RulesEngine     = domain.RulesEngine
	Transaction     = domain.Transaction
	TransactionView = domain.TransactionView
)

type herdState struct {
	animals map[string]Animal
	// events is append-only; byAnimal keeps per-animal event IDs in insertion order.
	events   map[string]Event
	byAnimal map[string][]string
	// versions counts committed writes per animal.
	versions map[string]uint64
}

// Snapshot is a detached copy of the herd, keyed by ID. The blob archive
// serialises it whole; row stores rebuild one from their tables on open.
type Snapshot struct {
	Animals map[string]Animal `json:"animals"`
	Events  map[string]Event  `json:"events"`
}

func newHerdState() herdState {
	return herdState{
		animals:  make(map[string]Animal),
		events:   make(map[string]Event),
		byAnimal: make(map[string][]string),
		versions: make(map[string]uint64),
	}
}

func (s herdState) snapshot() Snapshot {
	out := Snapshot{
		Animals: make(map[string]Animal, len(s.animals)),
		Events:  make(map[string]Event, len(s.events)),
	}
	for k, v := range s.animals {
		out.Animals[k] = cloneAnimal(v)
	}
	for k, v := range s.events {
		out.Events[k] = v.Clone()
	}
	return out
}

func restoreState(s Snapshot) herdState {
	state := newHerdState()
	for k, v := range s.Animals {
		state.animals[k] = cloneAnimal(v)
	}
	ordered := make([]Event, 0, len(s.Events))
	for k, v := range s.Events {
		if v.ID == "" {
			v.ID = k
		}
		ordered = append(ordered, v.Clone())
	}
	sort.Slice(ordered, func(i, j int) bool {
		if !ordered[i].CreatedAt.Equal(ordered[j].CreatedAt) {
			return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
		}
		return ordered[i].ID < ordered[j].ID
	})
	for _, e := range ordered {
		state.events[e.ID] = e
		state.byAnimal[e.AnimalID] = append(state.byAnimal[e.AnimalID], e.ID)
	}
	return state
}

// migrateSnapshot fills defaults for snapshots written by older builds and
// drops events whose animal no longer exists.
func migrateSnapshot(snapshot Snapshot) Snapshot {
	if snapshot.Animals == nil {
		snapshot.Animals = map[string]Animal{}
	}
	if snapshot.Events == nil {
		snapshot.Events = map[string]Event{}
	}
	for id, animal := range snapshot.Animals {
		if animal.ID == "" {
			animal.ID = id
		}
		animal.Reproduction.AnimalID = animal.ID
		if !animal.Reproduction.Status.Valid() {
			animal.Reproduction.Status = domain.StatusOpen
		}
		snapshot.Animals[id] = animal
	}
	for id, event := range snapshot.Events {
		if _, ok := snapshot.Animals[event.AnimalID]; !ok {
			delete(snapshot.Events, id)
		}
	}
	return snapshot
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneAnimal(a Animal) Animal {
	cp := a
	cp.DamID = cloneString(a.DamID)
	cp.SireID = cloneString(a.SireID)
	r := a.Reproduction
	cp.Reproduction.LastHeatDate = cloneTime(r.LastHeatDate)
	cp.Reproduction.LastInseminationDate = cloneTime(r.LastInseminationDate)
	cp.Reproduction.LastPregnancyCheckDate = cloneTime(r.LastPregnancyCheckDate)
	cp.Reproduction.LastCalvingDate = cloneTime(r.LastCalvingDate)
	cp.Reproduction.ExpectedCalvingDate = cloneTime(r.ExpectedCalvingDate)
	return cp
}

// ErrConflict reports that an animal read by a transaction was committed by
// another writer first. RunInTransaction retries such transactions.
var ErrConflict = errors.New("concurrent write conflict")

// maxAttempts bounds how often a conflicting transaction is re-run.
const maxAttempts = 3

// Store holds the herd in memory. Transactions stage their writes in an
// overlay and only take the state lock to read committed records and to
// merge on commit. Commits for any animal are ordered by commitMu, which is
// also held while the durable hook runs.
type Store struct {
	mu       sync.RWMutex
	commitMu sync.Mutex
	state    herdState
	engine   *RulesEngine
	nowFn    func() time.Time
}

// NewStore returns an empty store. A nil engine evaluates no rules.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newHerdState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) newID() string {
	return uuid.NewString()
}

// ExportState returns a copy of the committed herd.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.snapshot()
}

// ImportState replaces the committed herd with snapshot. Transactions that
// read an animal before the import conflict on commit.
func (s *Store) ImportState(snapshot Snapshot) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	next := restoreState(migrateSnapshot(snapshot))
	for id, v := range s.state.versions {
		next.versions[id] = v + 1
	}
	for id := range next.animals {
		if _, ok := next.versions[id]; !ok {
			next.versions[id] = 1
		}
	}
	s.state = next
}

// RulesEngine returns the engine evaluated on every commit.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// NowFunc returns the clock used to stamp records.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

// SetNowFunc overrides the clock used to stamp records.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn != nil {
		s.nowFn = fn
	}
}

// Committed-state reads. Each call takes the read lock on its own.

func (s *Store) committedAnimal(id string) (Animal, uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.state.animals[id]
	if !ok {
		return Animal{}, s.state.versions[id], false
	}
	return cloneAnimal(a), s.state.versions[id], true
}

func (s *Store) committedAnimals() map[string]Animal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Animal, len(s.state.animals))
	for id, a := range s.state.animals {
		out[id] = cloneAnimal(a)
	}
	return out
}

// committedEvents returns stored events, scoped to animalID when it is set,
// and the animal's version at the time of the read.
func (s *Store) committedEvents(animalID string) ([]Event, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if animalID != "" {
		ids := s.state.byAnimal[animalID]
		out := make([]Event, 0, len(ids))
		for _, id := range ids {
			out = append(out, s.state.events[id])
		}
		return out, s.state.versions[animalID]
	}
	out := make([]Event, 0, len(s.state.events))
	for _, e := range s.state.events {
		out = append(out, e)
	}
	return out, 0
}

func (s *Store) eventExists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.state.events[id]
	return ok
}

func listAnimals(animals map[string]Animal) []Animal {
	out := make([]Animal, 0, len(animals))
	for _, a := range animals {
		out = append(out, cloneAnimal(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// filterEvents clones the events matching filter, ordered by event date.
func filterEvents(events []Event, filter domain.EventFilter) []Event {
	out := make([]Event, 0, len(events))
	for _, e := range events {
		if filter.Matches(e) {
			out = append(out, e.Clone())
		}
	}
	sortEvents(out)
	return out
}

func lastEvent(events []Event) (Event, bool) {
	if len(events) == 0 {
		return Event{}, false
	}
	return events[len(events)-1], true
}

// sortEvents orders a timeline by event date, then by recording order.
func sortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].EventDate.Equal(events[j].EventDate) {
			return events[i].EventDate.Before(events[j].EventDate)
		}
		return events[i].CreatedAt.Before(events[j].CreatedAt)
	})
}

// committedView reads committed state without holding a lock between calls.
type committedView struct {
	store *Store
}

// ListAnimals returns all committed animals ordered by ID.
func (v committedView) ListAnimals() []Animal {
	return listAnimals(v.store.committedAnimals())
}

// FindAnimal retrieves a committed animal by ID.
func (v committedView) FindAnimal(id string) (Animal, bool) {
	a, _, ok := v.store.committedAnimal(id)
	return a, ok
}

// ListEvents returns committed events matching filter ordered by event date.
func (v committedView) ListEvents(filter domain.EventFilter) []Event {
	events, _ := v.store.committedEvents(filter.AnimalID)
	return filterEvents(events, filter)
}

// FindOneEvent returns the latest committed event matching filter.
func (v committedView) FindOneEvent(filter domain.EventFilter) (Event, bool) {
	return lastEvent(v.ListEvents(filter))
}

// RunInTransaction executes fn against a staged overlay of the store state.
// Nothing is applied when fn fails, the context is done, or a rule blocks.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	return s.RunInTransactionWithHook(ctx, fn, nil)
}

// RunInTransactionWithHook behaves like RunInTransaction and additionally calls
// beforeCommit with the staged writes once rules pass. A hook error aborts the
// commit, letting durable backends write through before memory is updated.
// fn may run again when a concurrent commit touched an animal it read.
func (s *Store) RunInTransactionWithHook(ctx context.Context, fn func(tx Transaction) error, beforeCommit func(context.Context, Commit) error) (Result, error) {
	for attempt := 1; ; attempt++ {
		res, err := s.runOnce(ctx, fn, beforeCommit)
		if !errors.Is(err, ErrConflict) || attempt == maxAttempts {
			return res, err
		}
	}
}

func (s *Store) runOnce(ctx context.Context, fn func(tx Transaction) error, beforeCommit func(context.Context, Commit) error) (Result, error) {
	tx := &transaction{
		store:    s,
		now:      s.NowFunc()(),
		animals:  make(map[string]Animal),
		eventIDs: make(map[string]struct{}),
		read:     make(map[string]uint64),
	}
	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if engine := s.RulesEngine(); engine != nil {
		res, err := engine.Evaluate(ctx, transactionView{tx: tx}, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if err := s.commit(ctx, tx, beforeCommit); err != nil {
		return Result{}, err
	}
	return result, nil
}

func (s *Store) commit(ctx context.Context, tx *transaction, beforeCommit func(context.Context, Commit) error) error {
	if len(tx.animals) == 0 && len(tx.events) == 0 {
		return nil
	}
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.validate(tx); err != nil {
		return err
	}
	if beforeCommit != nil {
		if err := beforeCommit(ctx, tx.commit()); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, a := range tx.animals {
		s.state.animals[id] = a
		s.state.versions[id]++
	}
	for _, e := range tx.events {
		s.state.events[e.ID] = e
		s.state.byAnimal[e.AnimalID] = append(s.state.byAnimal[e.AnimalID], e.ID)
	}
	return nil
}

// validate runs under commitMu, so the state it checks cannot change before
// the merge.
func (s *Store) validate(tx *transaction) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, seen := range tx.read {
		if s.state.versions[id] != seen {
			return fmt.Errorf("%w: animal %s", ErrConflict, id)
		}
	}
	for _, e := range tx.events {
		if _, exists := s.state.events[e.ID]; exists {
			return fmt.Errorf("event %q already exists", e.ID)
		}
	}
	return nil
}

// preview builds the full herd as it will look once tx is merged.
func (s *Store) preview(tx *transaction) Snapshot {
	s.mu.RLock()
	out := s.state.snapshot()
	s.mu.RUnlock()
	for id, a := range tx.animals {
		out.Animals[id] = cloneAnimal(a)
	}
	for _, e := range tx.events {
		out.Events[e.ID] = e.Clone()
	}
	return out
}

// View executes fn against the committed state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	return fn(committedView{store: s})
}

// Commit is the write set of a transaction that passed its rules. Durable
// backends persist it before it is merged into memory.
type Commit struct {
	// Animals holds every created or updated animal, ordered by ID.
	Animals []Animal
	// Events holds the appended events in recording order.
	Events []Event

	store *Store
	tx    *transaction
}

// Snapshot returns the full herd as it will be after the commit.
func (c Commit) Snapshot() Snapshot {
	return c.store.preview(c.tx)
}

type transaction struct {
	store    *Store
	now      time.Time
	animals  map[string]Animal
	events   []Event
	eventIDs map[string]struct{}
	// read maps each animal the transaction looked at to the version it saw.
	read    map[string]uint64
	changes []Change
}

func (tx *transaction) commit() Commit {
	c := Commit{store: tx.store, tx: tx, Events: make([]Event, 0, len(tx.events))}
	c.Animals = listAnimals(tx.animals)
	for _, e := range tx.events {
		c.Events = append(c.Events, e.Clone())
	}
	return c
}

func (tx *transaction) observe(id string, version uint64) {
	if _, seen := tx.read[id]; !seen {
		tx.read[id] = version
	}
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// animal resolves id against staged writes first, then committed state.
func (tx *transaction) animal(id string) (Animal, bool) {
	if a, ok := tx.animals[id]; ok {
		return cloneAnimal(a), true
	}
	a, version, ok := tx.store.committedAnimal(id)
	tx.observe(id, version)
	return a, ok
}

func (tx *transaction) eventsOf(animalID string) []Event {
	committed, version := tx.store.committedEvents(animalID)
	if animalID != "" {
		tx.observe(animalID, version)
	}
	for _, e := range tx.events {
		if animalID == "" || e.AnimalID == animalID {
			committed = append(committed, e)
		}
	}
	return committed
}

// Snapshot returns a read-only view over committed state plus staged writes.
func (tx *transaction) Snapshot() TransactionView {
	return transactionView{tx: tx}
}

// CreateEvent appends a reproductive event.
func (tx *transaction) CreateEvent(e Event) (Event, error) {
	if e.ID == "" {
		e.ID = tx.store.newID()
	}
	if _, staged := tx.eventIDs[e.ID]; staged || tx.store.eventExists(e.ID) {
		return Event{}, fmt.Errorf("event %q already exists", e.ID)
	}
	if _, ok := tx.animal(e.AnimalID); !ok {
		return Event{}, domain.NotFoundError{Entity: domain.EntityAnimal, ID: e.AnimalID}
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = tx.now
	}
	stored := e.Clone()
	tx.events = append(tx.events, stored)
	tx.eventIDs[e.ID] = struct{}{}
	tx.recordChange(Change{Entity: domain.EntityEvent, Action: domain.ActionCreate, After: stored.Clone()})
	return stored.Clone(), nil
}

// FindEventsByAnimal lists an animal's events matching filter.
func (tx *transaction) FindEventsByAnimal(animalID string, filter domain.EventFilter) []Event {
	filter.AnimalID = animalID
	return filterEvents(tx.eventsOf(animalID), filter)
}

// FindOneEvent returns the latest event matching filter.
func (tx *transaction) FindOneEvent(filter domain.EventFilter) (Event, bool) {
	return lastEvent(filterEvents(tx.eventsOf(filter.AnimalID), filter))
}

// GetAnimal looks up an animal within the transaction scope.
func (tx *transaction) GetAnimal(id string) (Animal, bool) {
	return tx.animal(id)
}

// CreateAnimal stores a new animal.
func (tx *transaction) CreateAnimal(a Animal) (Animal, error) {
	if a.ID == "" {
		a.ID = tx.store.newID()
	}
	if _, exists := tx.animal(a.ID); exists {
		return Animal{}, fmt.Errorf("animal %q already exists", a.ID)
	}
	a.CreatedAt = tx.now
	a.UpdatedAt = tx.now
	a.Reproduction.AnimalID = a.ID
	if a.Reproduction.Status == "" {
		a.Reproduction.Status = domain.StatusOpen
	}
	tx.animals[a.ID] = cloneAnimal(a)
	tx.recordChange(Change{Entity: domain.EntityAnimal, Action: domain.ActionCreate, After: cloneAnimal(a)})
	return cloneAnimal(a), nil
}

// UpdateAnimal mutates an animal using the provided mutator function.
func (tx *transaction) UpdateAnimal(id string, mutator func(*Animal) error) (Animal, error) {
	current, ok := tx.animal(id)
	if !ok {
		return Animal{}, domain.NotFoundError{Entity: domain.EntityAnimal, ID: id}
	}
	before := cloneAnimal(current)
	if err := mutator(&current); err != nil {
		return Animal{}, err
	}
	current.ID = id
	current.Reproduction.AnimalID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.animals[id] = cloneAnimal(current)
	tx.recordChange(Change{Entity: domain.EntityAnimal, Action: domain.ActionUpdate, Before: before, After: cloneAnimal(current)})
	return cloneAnimal(current), nil
}

// transactionView is what rules and Snapshot see. Its reads do not count
// towards conflict detection.
type transactionView struct {
	tx *transaction
}

// ListAnimals returns committed and staged animals ordered by ID.
func (v transactionView) ListAnimals() []Animal {
	animals := v.tx.store.committedAnimals()
	for id, a := range v.tx.animals {
		animals[id] = a
	}
	return listAnimals(animals)
}

// FindAnimal retrieves an animal by ID, preferring staged writes.
func (v transactionView) FindAnimal(id string) (Animal, bool) {
	if a, ok := v.tx.animals[id]; ok {
		return cloneAnimal(a), true
	}
	a, _, ok := v.tx.store.committedAnimal(id)
	return a, ok
}

// ListEvents returns the events matching filter ordered by event date.
func (v transactionView) ListEvents(filter domain.EventFilter) []Event {
	events, _ := v.tx.store.committedEvents(filter.AnimalID)
	for _, e := range v.tx.events {
		if filter.AnimalID == "" || e.AnimalID == filter.AnimalID {
			events = append(events, e)
		}
	}
	return filterEvents(events, filter)
}

// FindOneEvent returns the latest event matching filter.
func (v transactionView) FindOneEvent(filter domain.EventFilter) (Event, bool) {
	return lastEvent(v.ListEvents(filter))
}

// Read helpers ---------------------------------------------------------------

// GetAnimal retrieves an animal by ID from committed state.
func (s *Store) GetAnimal(id string) (Animal, bool) {
	a, _, ok := s.committedAnimal(id)
	return a, ok
}

// ListAnimals returns all committed animals ordered by ID.
func (s *Store) ListAnimals() []Animal {
	return committedView{store: s}.ListAnimals()
}

// ListEvents returns committed events matching filter ordered by event date.
func (s *Store) ListEvents(filter domain.EventFilter) []Event {
	return committedView{store: s}.ListEvents(filter)
}
