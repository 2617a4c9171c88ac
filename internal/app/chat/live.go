package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"marketchat/internal/app/stream"
)

// State is the lifecycle state of a live view.
type State int

const (
	StateUnsubscribed State = iota
	StateSubscribing
	StateStreaming
	StateResubscribing
)

func (s State) String() string {
	switch s {
	case StateSubscribing:
		return "subscribing"
	case StateStreaming:
		return "streaming"
	case StateResubscribing:
		return "resubscribing"
	default:
		return "unsubscribed"
	}
}

// ErrNotSubscribed is returned by Refresh on a stopped view.
var ErrNotSubscribed = errors.New("chat: live view is not subscribed")

// DefaultBackoff spaces out reopen attempts after a subscription fails or ends.
var DefaultBackoff = []time.Duration{time.Second, 5 * time.Second, 30 * time.Second}

// live runs one subscription at a time on a pump goroutine. Every
// (re)subscribe bumps the generation; events from an older generation are
// dropped, and teardown waits for the pump so that nothing is delivered
// after Stop or Refresh return.
type live[S any] struct {
	opMu sync.Mutex

	mu     sync.Mutex
	state  State
	gen    uint64
	parent context.Context
	cancel context.CancelFunc
	done   chan struct{}

	backoff []time.Duration
	open    func(ctx context.Context) (stream.Subscription[S], error)
	// handle applies ev with mu held and returns the notification to run
	// once mu is released, or nil.
	handle func(ev stream.Event[S]) func()
}

func (l *live[S]) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *live[S]) subscribe(ctx context.Context) {
	l.opMu.Lock()
	defer l.opMu.Unlock()
	if l.State() != StateUnsubscribed {
		return
	}
	l.launch(ctx, StateSubscribing)
}

func (l *live[S]) resubscribe() error {
	l.opMu.Lock()
	defer l.opMu.Unlock()
	l.mu.Lock()
	parent := l.parent
	state := l.state
	l.mu.Unlock()
	if state == StateUnsubscribed {
		return ErrNotSubscribed
	}
	l.halt()
	l.launch(parent, StateResubscribing)
	return nil
}

func (l *live[S]) unsubscribe() bool {
	l.opMu.Lock()
	defer l.opMu.Unlock()
	was := l.State() != StateUnsubscribed
	l.halt()
	l.mu.Lock()
	l.state = StateUnsubscribed
	l.parent = nil
	l.mu.Unlock()
	return was
}

func (l *live[S]) launch(parent context.Context, next State) {
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	l.mu.Lock()
	l.gen++
	gen := l.gen
	l.state = next
	l.parent = parent
	l.cancel = cancel
	l.done = done
	l.mu.Unlock()
	go l.run(ctx, gen, done)
}

func (l *live[S]) halt() {
	l.mu.Lock()
	l.gen++
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (l *live[S]) run(ctx context.Context, gen uint64, done chan struct{}) {
	defer close(done)
	attempt := 0
	for {
		sub, err := l.open(ctx)
		if err != nil {
			if ctx.Err() != nil || !l.deliver(gen, stream.Event[S]{Err: err}) {
				return
			}
		} else {
			delivered := l.consume(ctx, gen, sub)
			sub.Close()
			if ctx.Err() != nil {
				return
			}
			if delivered {
				attempt = 0
			}
		}
		if !wait(ctx, l.delay(attempt)) {
			return
		}
		attempt++
	}
}

func (l *live[S]) consume(ctx context.Context, gen uint64, sub stream.Subscription[S]) (delivered bool) {
	for {
		select {
		case <-ctx.Done():
			return delivered
		case ev, ok := <-sub.Events():
			if !ok || ctx.Err() != nil {
				return delivered
			}
			if !l.deliver(gen, ev) {
				return delivered
			}
			if ev.Err == nil {
				delivered = true
			}
		}
	}
}

func (l *live[S]) deliver(gen uint64, ev stream.Event[S]) bool {
	l.mu.Lock()
	if gen != l.gen {
		l.mu.Unlock()
		return false
	}
	if ev.Err == nil && (l.state == StateSubscribing || l.state == StateResubscribing) {
		l.state = StateStreaming
	}
	notify := l.handle(ev)
	l.mu.Unlock()
	if notify != nil {
		notify()
	}
	return true
}

func (l *live[S]) delay(attempt int) time.Duration {
	backoff := l.backoff
	if len(backoff) == 0 {
		backoff = DefaultBackoff
	}
	if attempt < len(backoff) {
		return backoff[attempt]
	}
	return backoff[len(backoff)-1]
}

func wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
