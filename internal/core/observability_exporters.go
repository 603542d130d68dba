package core

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// PrometheusMetricsRecorder exports engine operation counters and latencies.
// It also counts failed reminder deliveries by kind.
type PrometheusMetricsRecorder struct {
	operations   *prometheus.CounterVec
	durations    *prometheus.HistogramVec
	alertsFailed *prometheus.CounterVec
}

// NewPrometheusMetricsRecorder registers the engine collectors with reg. A nil
// registerer falls back to the default Prometheus registry.
func NewPrometheusMetricsRecorder(reg prometheus.Registerer) (*PrometheusMetricsRecorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	rec := &PrometheusMetricsRecorder{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "herdcore",
			Subsystem: "engine",
			Name:      "operations_total",
			Help:      "Engine operations by name and result.",
		}, []string{"operation", "result"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "herdcore",
			Subsystem: "engine",
			Name:      "operation_duration_seconds",
			Help:      "Engine operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		alertsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "herdcore",
			Name:      "alerts_failed_total",
			Help:      "Reminders the notification gateway rejected.",
		}, []string{"kind"}),
	}
	for _, c := range []prometheus.Collector{rec.operations, rec.durations, rec.alertsFailed} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return rec, nil
}

// Observe records a single operation outcome.
func (r *PrometheusMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	result := "error"
	if success {
		result = "success"
	}
	r.operations.WithLabelValues(operation, result).Inc()
	r.durations.WithLabelValues(operation).Observe(duration.Seconds())
}

// AlertFailed counts a reminder that could not be handed to the gateway.
func (r *PrometheusMetricsRecorder) AlertFailed(_ context.Context, kind string) {
	r.alertsFailed.WithLabelValues(kind).Inc()
}

// OTelTracer adapts an OpenTelemetry tracer to the engine Tracer interface.
type OTelTracer struct {
	tracer trace.Tracer
}

// NewOTelTracer wraps tracer. Spans are named "herdcore.<operation>".
func NewOTelTracer(tracer trace.Tracer) *OTelTracer {
	return &OTelTracer{tracer: tracer}
}

// Start implements Tracer.
func (t *OTelTracer) Start(ctx context.Context, operation string) (context.Context, TraceSpan) {
	ctx, span := t.tracer.Start(ctx, "herdcore."+operation,
		trace.WithAttributes(attribute.String("herdcore.operation", operation)))
	return ctx, otelSpan{span: span}
}

type otelSpan struct {
	span trace.Span
}

func (s otelSpan) End(err error) {
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	} else {
		s.span.SetStatus(codes.Ok, "")
	}
	s.span.End()
}

// LogrusLogger adapts a logrus logger to the engine Logger interface.
// Key/value arguments become log fields.
type LogrusLogger struct {
	logger *log.Logger
}

// NewLogrusLogger wraps logger; nil uses the logrus standard logger.
func NewLogrusLogger(logger *log.Logger) *LogrusLogger {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &LogrusLogger{logger: logger}
}

func (l *LogrusLogger) Debug(msg string, args ...any) { l.entry(args).Debug(msg) }
func (l *LogrusLogger) Info(msg string, args ...any)  { l.entry(args).Info(msg) }
func (l *LogrusLogger) Warn(msg string, args ...any)  { l.entry(args).Warn(msg) }
func (l *LogrusLogger) Error(msg string, args ...any) { l.entry(args).Error(msg) }

func (l *LogrusLogger) entry(args []any) *log.Entry {
	return l.logger.WithFields(fieldsFromArgs(args))
}

func fieldsFromArgs(args []any) log.Fields {
	fields := make(log.Fields, len(args)/2+1)
	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		if i+1 >= len(args) {
			fields["!BADKEY"] = key
			break
		}
		val := args[i+1]
		if err, isErr := val.(error); isErr {
			val = err.Error()
		}
		fields[key] = val
	}
	return fields
}
