package events

// Multi fans an event out to every configured emitter. Nil emitters are
// skipped so callers can pass optional sinks without guarding.
func Multi(emitters ...Emitter) Emitter {
	filtered := make([]Emitter, 0, len(emitters))
	for _, emitter := range emitters {
		if emitter == nil {
			continue
		}
		filtered = append(filtered, emitter)
	}
	if len(filtered) == 0 {
		return NoopEmitter{}
	}
	return multiEmitter(filtered)
}

type multiEmitter []Emitter

// Emit implements the Emitter interface.
func (m multiEmitter) Emit(event Event) {
	for _, emitter := range m {
		emitter.Emit(event)
	}
}
