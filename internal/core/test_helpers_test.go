package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"herdcore/pkg/domain"
)

// today is the fixed "now" used by engine tests.
var today = time.Date(2025, time.January, 1, 9, 0, 0, 0, time.UTC)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type stubClock struct{ t time.Time }

func (s stubClock) Now() time.Time { return s.t }

type captureLogger struct {
	mu    sync.Mutex
	calls []string
}

func (c *captureLogger) add(entry string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, entry)
}

func (c *captureLogger) Debug(msg string, _ ...any) { c.add("d:" + msg) }
func (c *captureLogger) Info(msg string, _ ...any)  { c.add("i:" + msg) }
func (c *captureLogger) Warn(msg string, _ ...any)  { c.add("w:" + msg) }
func (c *captureLogger) Error(msg string, _ ...any) { c.add("e:" + msg) }

func (c *captureLogger) has(entry string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, call := range c.calls {
		if call == entry {
			return true
		}
	}
	return false
}

type metricsCall struct {
	op      string
	success bool
}

type captureMetricsRecorder struct {
	mu           sync.Mutex
	calls        []metricsCall
	alertsFailed map[string]int
}

func (c *captureMetricsRecorder) Observe(_ context.Context, op string, success bool, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, metricsCall{op: op, success: success})
}

func (c *captureMetricsRecorder) AlertFailed(_ context.Context, kind string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.alertsFailed == nil {
		c.alertsFailed = make(map[string]int)
	}
	c.alertsFailed[kind]++
}

func (c *captureMetricsRecorder) has(op string, success bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, call := range c.calls {
		if call.op == op && call.success == success {
			return true
		}
	}
	return false
}

type spanRecord struct {
	op  string
	err error
}

type captureTracer struct {
	mu    sync.Mutex
	ended []spanRecord
}

func (c *captureTracer) Start(ctx context.Context, op string) (context.Context, TraceSpan) {
	return ctx, &captureSpan{tracer: c, op: op}
}

type captureSpan struct {
	tracer *captureTracer
	op     string
}

func (s *captureSpan) End(err error) {
	s.tracer.mu.Lock()
	defer s.tracer.mu.Unlock()
	s.tracer.ended = append(s.tracer.ended, spanRecord{op: s.op, err: err})
}

func (c *captureTracer) has(op string, success bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.ended {
		if r.op == op && (r.err == nil) == success {
			return true
		}
	}
	return false
}

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithClock(stubClock{t: today})}, opts...)
	engine := NewInMemoryEngine(opts...)
	t.Cleanup(engine.Close)
	return engine
}

func enrollCow(t *testing.T, engine *Engine, tag string, birth time.Time) Animal {
	t.Helper()
	animal, _, err := engine.EnrollAnimal(context.Background(), Animal{
		Tag:       tag,
		Species:   "cattle",
		Sex:       domain.SexFemale,
		BirthDate: birth,
	})
	if err != nil {
		t.Fatalf("enroll %s: %v", tag, err)
	}
	return animal
}

func event(animalID string, typ domain.EventType, date time.Time, details domain.EventDetails) Event {
	return Event{AnimalID: animalID, Type: typ, EventDate: date, Details: details}
}

func confirmed(gestation int) domain.PregnancyCheckDetails {
	return domain.PregnancyCheckDetails{Status: domain.PregnancyConfirmed, GestationDays: gestation, Method: "ultrasound"}
}

func mustRecord(t *testing.T, engine *Engine, ev Event) Event {
	t.Helper()
	recorded, _, err := engine.RecordEvent(context.Background(), ev, "tester")
	if err != nil {
		t.Fatalf("record %s on %s: %v", ev.Type, ev.EventDate.Format(time.DateOnly), err)
	}
	return recorded
}

func expectCode(t *testing.T, err error, code domain.ValidationCode) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", code)
	}
	if !errors.Is(err, domain.ValidationError{Code: code}) {
		t.Fatalf("expected %s error, got %v", code, err)
	}
}
