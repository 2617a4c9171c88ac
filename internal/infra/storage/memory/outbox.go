package memory

import (
	"context"
	"sync"
	"time"

	appoutbox "marketchat/internal/app/outbox"
)

type outboxEntry struct {
	record   appoutbox.EventRecord
	attempts int
	next     time.Time
	claimed  bool
	sent     bool
	lastErr  string
}

// DefaultOutboxCapacity bounds the records kept by an Outbox.
const DefaultOutboxCapacity = 10000

// Outbox keeps event records in memory and serves them to the relay worker.
// Once capacity is reached, published records are evicted first, then the
// oldest pending ones.
type Outbox struct {
	mu       sync.Mutex
	entries  []*outboxEntry
	capacity int
	dropped  int
}

type OutboxOption func(*Outbox)

// WithCapacity overrides DefaultOutboxCapacity.
func WithCapacity(n int) OutboxOption {
	return func(o *Outbox) {
		if n > 0 {
			o.capacity = n
		}
	}
}

func NewOutbox(opts ...OutboxOption) *Outbox {
	o := &Outbox{capacity: DefaultOutboxCapacity}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Outbox) Add(ctx context.Context, record appoutbox.EventRecord) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.entries) >= o.capacity {
		o.evictLocked()
	}
	o.entries = append(o.entries, &outboxEntry{record: record, next: time.Now().UTC()})
	return nil
}

func (o *Outbox) evictLocked() {
	kept := o.entries[:0]
	for _, e := range o.entries {
		if !e.sent {
			kept = append(kept, e)
		}
	}
	for i := len(kept); i < len(o.entries); i++ {
		o.entries[i] = nil
	}
	o.entries = kept
	if len(o.entries) >= o.capacity {
		drop := len(o.entries) - o.capacity + 1
		o.dropped += drop
		o.entries = append(o.entries[:0:0], o.entries[drop:]...)
	}
}

// Dropped counts pending records evicted before they were published.
func (o *Outbox) Dropped() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dropped
}

// Records returns the records currently held, sent or not.
func (o *Outbox) Records() []appoutbox.EventRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]appoutbox.EventRecord, 0, len(o.entries))
	for _, e := range o.entries {
		out = append(out, e.record)
	}
	return out
}

func (o *Outbox) Claim(ctx context.Context, workerID string) (*appoutbox.Claimed, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	now := time.Now().UTC()
	for _, e := range o.entries {
		if e.sent || e.claimed || e.next.After(now) {
			continue
		}
		e.claimed = true
		return &appoutbox.Claimed{Record: e.record, Attempts: e.attempts}, nil
	}
	return nil, nil
}

func (o *Outbox) MarkSent(ctx context.Context, id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if e := o.find(id); e != nil {
		e.sent = true
		e.claimed = false
	}
	return nil
}

func (o *Outbox) MarkFailed(ctx context.Context, id string, next time.Time, errMsg string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if e := o.find(id); e != nil {
		e.claimed = false
		e.attempts++
		e.next = next
		e.lastErr = errMsg
	}
	return nil
}

// Pending counts records not yet published.
func (o *Outbox) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, e := range o.entries {
		if !e.sent {
			n++
		}
	}
	return n
}

func (o *Outbox) find(id string) *outboxEntry {
	for _, e := range o.entries {
		if e.record.ID == id {
			return e
		}
	}
	return nil
}

var _ appoutbox.Outbox = (*Outbox)(nil)
