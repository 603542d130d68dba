package core

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"herdcore/pkg/domain"
)

func TestPrometheusMetricsRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusMetricsRecorder(reg)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	ctx := context.Background()
	rec.Observe(ctx, "record_event", true, 5*time.Millisecond)
	rec.Observe(ctx, "record_event", true, 7*time.Millisecond)
	rec.Observe(ctx, "record_event", false, time.Millisecond)
	rec.Observe(ctx, "", true, time.Millisecond)
	rec.AlertFailed(ctx, string(domain.ReminderNextHeatWatch))

	if got := testutil.ToFloat64(rec.operations.WithLabelValues("record_event", "success")); got != 2 {
		t.Fatalf("expected 2 successes, got %v", got)
	}
	if got := testutil.ToFloat64(rec.operations.WithLabelValues("record_event", "error")); got != 1 {
		t.Fatalf("expected 1 error, got %v", got)
	}
	if got := testutil.ToFloat64(rec.alertsFailed.WithLabelValues("next_heat_watch")); got != 1 {
		t.Fatalf("expected 1 failed alert, got %v", got)
	}
	if n := testutil.CollectAndCount(rec.durations); n != 1 {
		t.Fatalf("expected one histogram series, got %d", n)
	}

	if _, err := NewPrometheusMetricsRecorder(reg); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
}

func TestPrometheusRecorderThroughEngine(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusMetricsRecorder(reg)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	engine := newTestEngine(t, WithMetricsRecorder(rec))
	cow := enrollCow(t, engine, "P-1", day(2022, 1, 1))
	mustRecord(t, engine, event(cow.ID, domain.EventHeatDetection, day(2024, 5, 1), nil))

	expected := `
# HELP herdcore_engine_operations_total Engine operations by name and result.
# TYPE herdcore_engine_operations_total counter
herdcore_engine_operations_total{operation="enroll_animal",result="success"} 1
herdcore_engine_operations_total{operation="record_event",result="success"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "herdcore_engine_operations_total"); err != nil {
		t.Fatalf("unexpected metrics: %v", err)
	}
}

func TestOTelTracerRecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	tracer := NewOTelTracer(provider.Tracer("herdcore-test"))

	_, span := tracer.Start(context.Background(), "record_event")
	span.End(nil)
	_, failed := tracer.Start(context.Background(), "record_birth")
	failed.End(errors.New("birth recorded for animal in status open"))

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].Name() != "herdcore.record_event" || spans[0].Status().Code != codes.Ok {
		t.Fatalf("unexpected first span %s %+v", spans[0].Name(), spans[0].Status())
	}
	if spans[1].Status().Code != codes.Error || len(spans[1].Events()) == 0 {
		t.Fatalf("expected error status with recorded exception, got %+v", spans[1].Status())
	}
	var found bool
	for _, attr := range spans[1].Attributes() {
		if string(attr.Key) == "herdcore.operation" && attr.Value.AsString() == "record_birth" {
			found = true
		}
	}
	if !found {
		t.Fatalf("operation attribute missing: %v", spans[1].Attributes())
	}
}

func TestLogrusLoggerFields(t *testing.T) {
	base, hook := test.NewNullLogger()
	base.SetLevel(log.DebugLevel)
	logger := NewLogrusLogger(base)

	logger.Warn("rule warning", "rule", "post_partum_interval", "error", errors.New("too soon"), "dangling")
	entry := hook.LastEntry()
	if entry == nil || entry.Level != log.WarnLevel || entry.Message != "rule warning" {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if entry.Data["rule"] != "post_partum_interval" || entry.Data["error"] != "too soon" || entry.Data["!BADKEY"] != "dangling" {
		t.Fatalf("unexpected fields %v", entry.Data)
	}

	logger.Debug("d")
	logger.Info("i", 7, "numeric key")
	logger.Error("e")
	if len(hook.AllEntries()) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(hook.AllEntries()))
	}
	if hook.AllEntries()[2].Data["7"] != "numeric key" {
		t.Fatalf("non-string keys should be stringified, got %v", hook.AllEntries()[2].Data)
	}
	if NewLogrusLogger(nil).logger != log.StandardLogger() {
		t.Fatalf("nil logger should fall back to the standard logger")
	}
}
