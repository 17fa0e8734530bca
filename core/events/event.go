package events

// Event represents a structured state change emitted by a registry.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (e.g. audit log, logs).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter satisfies the Emitter interface while discarding all events. It
// is the default when a component does not wire an emitter.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}
