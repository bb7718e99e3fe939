// Package eventbus provides the fire-and-forget broadcast channel that the
// dispatch engine publishes state changes and alerts on. Connected clients
// attach through the HTTP event stream; delivery is best-effort and
// unordered across event types, so clients reconcile via a full-state
// refresh.
package eventbus

import "sync"

// Event is any typed payload published on the bus.
type Event interface{}

// Bus is the publish side injected into every engine component.
type Bus interface {
	Publish(Event)
}

// Fanout is the default Bus implementation using non-blocking channel
// fan-out. Slow subscribers drop events rather than stalling a sweep.
type Fanout struct {
	mu     sync.RWMutex
	subs   []chan Event
	closed bool
}

// NewFanout creates an empty Fanout bus.
func NewFanout() *Fanout { return &Fanout{} }

// Publish sends the event to all subscribers without blocking.
func (b *Fanout) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe registers a new subscriber and returns its channel.
func (b *Fanout) Subscribe() <-chan Event {
	ch := make(chan Event, 16)
	b.mu.Lock()
	if b.closed {
		close(ch)
	} else {
		b.subs = append(b.subs, ch)
	}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes the subscriber and closes its channel.
func (b *Fanout) Unsubscribe(sub <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, ch := range b.subs {
		if ch == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			if !b.closed {
				close(ch)
			}
			return
		}
	}
}

// Close closes all subscriber channels and clears the list.
func (b *Fanout) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}

// Nop is a Bus that discards everything. Used where no broadcast is wanted.
type Nop struct{}

func (Nop) Publish(Event) {}

// Recorder is a Bus that remembers published events, for tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}
