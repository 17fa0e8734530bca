package server

import (
	"log/slog"

	"cafepass/core/events"
	"cafepass/observability/metrics"
)

// LogEmitter writes every event to the structured log.
type LogEmitter struct {
	logger *slog.Logger
}

// NewLogEmitter constructs an emitter that logs events at info level.
func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEmitter{logger: logger}
}

// Emit implements the events.Emitter interface.
func (l *LogEmitter) Emit(event events.Event) {
	if l == nil || event == nil {
		return
	}
	l.logger.Info("event", "type", event.EventType(), "payload", event)
}

// MetricsEmitter feeds registry and ledger events into the metrics bundle.
type MetricsEmitter struct {
	bundle *metrics.CafepassMetrics
}

// NewMetricsEmitter constructs an emitter backed by the process-wide bundle.
func NewMetricsEmitter() *MetricsEmitter {
	return &MetricsEmitter{bundle: metrics.Cafepass()}
}

// Emit implements the events.Emitter interface.
func (m *MetricsEmitter) Emit(event events.Event) {
	if m == nil || event == nil {
		return
	}
	switch e := event.(type) {
	case events.CodeIssued:
		m.bundle.ObserveCodeIssued()
		m.bundle.ObserveCodeCollisions(e.Collisions)
	case events.CodeRetired:
		m.bundle.ObserveCodeRetired()
	}
}
