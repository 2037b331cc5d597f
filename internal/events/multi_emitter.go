package events

// MultiEmitter fans one event out to several sinks.
type MultiEmitter struct {
	emitters []Emitter
}

// NewMultiEmitter combines sinks; nil entries are skipped.
func NewMultiEmitter(emitters ...Emitter) *MultiEmitter {
	out := make([]Emitter, 0, len(emitters))
	for _, e := range emitters {
		if e != nil {
			out = append(out, e)
		}
	}
	return &MultiEmitter{emitters: out}
}

// Emit forwards to every sink.
func (m *MultiEmitter) Emit(event *LookupEvent) {
	for _, e := range m.emitters {
		e.Emit(event)
	}
}

// Close closes every sink, returning the first error.
func (m *MultiEmitter) Close() error {
	var first error
	for _, e := range m.emitters {
		if err := e.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
