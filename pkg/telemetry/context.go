package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/rosiehq/rosie/pkg/engine"
)

// Telemetry combines logging, tracing, metrics and events.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  Config
}

// telemetryContextKey is the context key for telemetry instances.
type telemetryContextKey struct{}

// NewTelemetry creates a new telemetry instance from configuration.
// A nil configuration uses DefaultConfig.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	resolved := cfg.withDefaults()

	logger, err := NewLogger(resolved.Logging)
	if err != nil {
		return nil, err
	}
	return newTelemetry(resolved, logger)
}

// NewTelemetryWithLogger is NewTelemetry with an existing logger.
func NewTelemetryWithLogger(cfg *Config, logger *Logger) (*Telemetry, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return newTelemetry(cfg.withDefaults(), logger)
}

func newTelemetry(cfg Config, logger *Logger) (*Telemetry, error) {
	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	events := NewEventPublisher(cfg.Events)
	events.Subscribe(LogSubscriber(logger.NewComponentLogger("events")), nil)

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: NewMetrics(cfg.Metrics),
		Events:  events,
		Config:  cfg,
	}, nil
}

// Nop returns a telemetry instance that records nothing.
func Nop() *Telemetry {
	return &Telemetry{
		Logger:  NopLogger(),
		Tracer:  NopTracer(),
		Metrics: NewMetrics(MetricsConfig{}),
		Events:  NewEventPublisher(EventsConfig{}),
	}
}

// OrNop returns t, or Nop when t is nil.
func OrNop(t *Telemetry) *Telemetry {
	if t == nil {
		return Nop()
	}
	return t
}

// WithContext adds the telemetry instance and its logger to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	return t.Logger.WithContext(ctx)
}

// FromTelemetryContext retrieves the telemetry instance from the context.
// If no telemetry is found, it returns nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown gracefully shuts down all telemetry components.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if err := t.Events.Shutdown(ctx); err != nil {
		return err
	}
	return t.Tracer.Shutdown(ctx)
}

// RunScope instruments one evaluation or cleanup run.
type RunScope struct {
	Ctx    context.Context
	Logger *Logger

	tel   *Telemetry
	span  trace.Span
	phase engine.Phase
	timer *Timer
}

// StartRun opens a run span and a run scoped logger.
func (t *Telemetry) StartRun(ctx context.Context, runID string, phase engine.Phase, statusDate time.Time) *RunScope {
	spanCtx, span := t.Tracer.StartRunSpan(ctx, runID, phase, statusDate.Format(engine.DateLayout))

	logger := t.Logger.WithRun(runID, phase)
	if id := TraceID(spanCtx); id != "" {
		logger = logger.WithField("trace_id", id)
	}

	return &RunScope{
		Ctx:    logger.WithContext(spanCtx),
		Logger: logger,
		tel:    t,
		span:   span,
		phase:  phase,
		timer:  NewTimer(),
	}
}

// End records the run duration, publishes run_completed and closes the span.
func (s *RunScope) End(summary engine.RunSummary, err error) {
	s.tel.Metrics.RecordRunDuration(s.phase, s.timer.Duration())
	_ = s.tel.Events.PublishRunCompleted(summary)
	EndSpan(s.span, err)
}
