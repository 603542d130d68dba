package core

import (
	"time"

	"herdcore/pkg/domain"
)

// DefaultAlertTimeout bounds a single background reminder scheduling pass.
const DefaultAlertTimeout = 10 * time.Second

// Option customises an Engine.
type Option func(*engineOptions)

type engineOptions struct {
	clock        Clock
	clockSet     bool
	logger       Logger
	metrics      MetricsRecorder
	tracer       Tracer
	notifier     domain.NotificationGateway
	ledger       domain.FinancialLedger
	alertTimeout time.Duration
}

func defaultEngineOptions() engineOptions {
	return engineOptions{
		clock:        ClockFunc(nil),
		logger:       noopLogger{},
		metrics:      noopMetricsRecorder{},
		tracer:       noopTracer{},
		alertTimeout: DefaultAlertTimeout,
	}
}

// WithClock overrides the clock used for future-date validation.
func WithClock(clock Clock) Option {
	return func(o *engineOptions) {
		if clock != nil {
			o.clock = clock
			o.clockSet = true
		}
	}
}

// WithLogger installs a structured logger.
func WithLogger(logger Logger) Option {
	return func(o *engineOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetricsRecorder installs an operation metrics recorder.
func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(o *engineOptions) {
		if recorder != nil {
			o.metrics = recorder
		}
	}
}

// WithTracer installs a tracer.
func WithTracer(tracer Tracer) Option {
	return func(o *engineOptions) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithNotificationGateway enables reminder scheduling after each accepted event.
func WithNotificationGateway(gateway domain.NotificationGateway) Option {
	return func(o *engineOptions) {
		o.notifier = gateway
	}
}

// WithFinancialLedger enables expense recording for events that carry a cost.
func WithFinancialLedger(ledger domain.FinancialLedger) Option {
	return func(o *engineOptions) {
		o.ledger = ledger
	}
}

// WithAlertTimeout bounds each background scheduling pass.
func WithAlertTimeout(d time.Duration) Option {
	return func(o *engineOptions) {
		if d > 0 {
			o.alertTimeout = d
		}
	}
}
