package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	otelTrace "go.opentelemetry.io/otel/trace"
	"goa.design/clue/log"
)

// ClueLogger delegates to goa.design/clue's structured logger, which itself
// writes through the standard library's slog under the hood.
type ClueLogger struct{}

func NewClueLogger() *ClueLogger { return &ClueLogger{} }

func (*ClueLogger) Debug(ctx context.Context, msg string, keyvals ...any) {
	log.Debug(ctx, msg, log.KV{K: "fields", V: keyvals})
}

func (*ClueLogger) Info(ctx context.Context, msg string, keyvals ...any) {
	log.Info(ctx, msg, log.KV{K: "fields", V: keyvals})
}

func (*ClueLogger) Warn(ctx context.Context, msg string, keyvals ...any) {
	log.Print(ctx, log.KV{K: "level", V: "warn"}, log.KV{K: "msg", V: msg}, log.KV{K: "fields", V: keyvals})
}

func (*ClueLogger) Error(ctx context.Context, msg string, keyvals ...any) {
	log.Error(ctx, nil, log.KV{K: "msg", V: msg}, log.KV{K: "fields", V: keyvals})
}

// ClueMetrics records counters, timers, and gauges against an OTEL meter.
type ClueMetrics struct {
	meter    metric.Meter
	counters map[string]metric.Float64Counter
	timers   map[string]metric.Float64Histogram
	gauges   map[string]metric.Float64Gauge
}

func NewClueMetrics(meter metric.Meter) *ClueMetrics {
	return &ClueMetrics{
		meter:    meter,
		counters: make(map[string]metric.Float64Counter),
		timers:   make(map[string]metric.Float64Histogram),
		gauges:   make(map[string]metric.Float64Gauge),
	}
}

func (m *ClueMetrics) IncCounter(name string, value float64, tags ...string) {
	c, ok := m.counters[name]
	if !ok {
		var err error
		c, err = m.meter.Float64Counter(name)
		if err != nil {
			return
		}
		m.counters[name] = c
	}
	c.Add(context.Background(), value)
	_ = tags
}

func (m *ClueMetrics) RecordTimer(name string, duration time.Duration, tags ...string) {
	h, ok := m.timers[name]
	if !ok {
		var err error
		h, err = m.meter.Float64Histogram(name)
		if err != nil {
			return
		}
		m.timers[name] = h
	}
	h.Record(context.Background(), duration.Seconds())
	_ = tags
}

func (m *ClueMetrics) RecordGauge(name string, value float64, tags ...string) {
	g, ok := m.gauges[name]
	if !ok {
		var err error
		g, err = m.meter.Float64Gauge(name)
		if err != nil {
			return
		}
		m.gauges[name] = g
	}
	g.Record(context.Background(), value)
	_ = tags
}

// ClueTracer wraps an OTEL tracer.
type ClueTracer struct {
	tracer otelTrace.Tracer
}

func NewClueTracer(tracer otelTrace.Tracer) *ClueTracer {
	return &ClueTracer{tracer: tracer}
}

func (t *ClueTracer) Start(ctx context.Context, name string, opts ...otelTrace.SpanStartOption) (context.Context, Span) {
	ctx, span := t.tracer.Start(ctx, name, opts...)
	return ctx, clueSpan{span: span}
}

func (t *ClueTracer) Span(ctx context.Context) Span {
	return clueSpan{span: otelTrace.SpanFromContext(ctx)}
}

type clueSpan struct {
	span otelTrace.Span
}

func (s clueSpan) End(opts ...otelTrace.SpanEndOption) { s.span.End(opts...) }

func (s clueSpan) AddEvent(name string, attrs ...any) {
	_ = attrs
	s.span.AddEvent(name)
}

func (s clueSpan) SetStatus(code codes.Code, description string) {
	s.span.SetStatus(code, description)
}

func (s clueSpan) RecordError(err error, opts ...otelTrace.EventOption) {
	s.span.RecordError(err, opts...)
}
