package events

// Emitter defines the interface for lookup event sinks.
// Implementations must be fire-and-forget, non-blocking.
type Emitter interface {
	// Emit sends an event. Errors are handled internally, never returned.
	Emit(event *LookupEvent)

	// Close gracefully shuts down the emitter.
	Close() error
}

// NoopEmitter is a no-op implementation for tests and disabled logging.
type NoopEmitter struct{}

// Emit does nothing.
func (n *NoopEmitter) Emit(event *LookupEvent) {}

// Close returns nil.
func (n *NoopEmitter) Close() error { return nil }
