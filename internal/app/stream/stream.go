package stream

import "sync"

// Event is one delivery of a live query: either a snapshot or an error.
type Event[T any] struct {
	Snapshot T
	Err      error
}

// Subscription is a live query handle. Delivery is at-least-once. Close
// cancels the query and closes the Events channel; it is safe to call more
// than once and from any goroutine.
type Subscription[T any] interface {
	Events() <-chan Event[T]
	Close()
}

// Feed is a channel-backed Subscription used by store adapters. Publishing
// never blocks: when the buffer is full the oldest pending event is dropped,
// which is safe because snapshots are full views of the query result.
type Feed[T any] struct {
	mu     sync.Mutex
	closed bool
	events chan Event[T]
	done   chan struct{}
	onStop func()
}

// NewFeed returns an open feed. onStop runs once, when the feed is closed.
func NewFeed[T any](buffer int, onStop func()) *Feed[T] {
	if buffer <= 0 {
		buffer = 1
	}
	return &Feed[T]{
		events: make(chan Event[T], buffer),
		done:   make(chan struct{}),
		onStop: onStop,
	}
}

func (f *Feed[T]) Events() <-chan Event[T] { return f.events }

// Done is closed when the subscriber closes the feed. Producers select on it
// to stop their watch loops.
func (f *Feed[T]) Done() <-chan struct{} { return f.done }

// Publish enqueues ev. It reports false once the feed is closed.
func (f *Feed[T]) Publish(ev Event[T]) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	for {
		select {
		case f.events <- ev:
			return true
		default:
		}
		select {
		case <-f.events:
		default:
		}
	}
}

// Snapshot is shorthand for publishing a data event.
func (f *Feed[T]) Snapshot(v T) bool {
	return f.Publish(Event[T]{Snapshot: v})
}

// Fail is shorthand for publishing an error event.
func (f *Feed[T]) Fail(err error) bool {
	return f.Publish(Event[T]{Err: err})
}

func (f *Feed[T]) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	close(f.done)
	close(f.events)
	stop := f.onStop
	f.mu.Unlock()
	if stop != nil {
		stop()
	}
}

var _ Subscription[int] = (*Feed[int])(nil)
