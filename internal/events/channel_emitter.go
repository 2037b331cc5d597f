package events

import (
	"sync"
	"sync/atomic"
)

// ChannelEmitter publishes events to a buffered channel for a single
// subscriber. When the buffer is full the event is dropped rather than
// blocking the lookup; Dropped counts the losses.
type ChannelEmitter struct {
	ch      chan *LookupEvent
	dropped atomic.Int64
	closed  atomic.Bool
	mu      sync.Mutex
}

// NewChannelEmitter creates an emitter with the given buffer size.
func NewChannelEmitter(buffer int) *ChannelEmitter {
	if buffer < 1 {
		buffer = 64
	}
	return &ChannelEmitter{ch: make(chan *LookupEvent, buffer)}
}

// Events returns the subscriber channel. It is closed by Close.
func (c *ChannelEmitter) Events() <-chan *LookupEvent {
	return c.ch
}

// Emit enqueues the event, dropping it when the buffer is full.
func (c *ChannelEmitter) Emit(event *LookupEvent) {
	if c.closed.Load() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return
	}
	select {
	case c.ch <- event:
	default:
		c.dropped.Add(1)
	}
}

// Dropped returns how many events were lost to a slow subscriber.
func (c *ChannelEmitter) Dropped() int64 {
	return c.dropped.Load()
}

// Close closes the subscriber channel. Emit becomes a no-op.
func (c *ChannelEmitter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.CompareAndSwap(false, true) {
		close(c.ch)
	}
	return nil
}
