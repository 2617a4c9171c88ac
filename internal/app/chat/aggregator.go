package chat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"marketchat/internal/app/stream"
	domainchat "marketchat/internal/domain/chat"
)

// Update is emitted after every delivery to a chat view. Messages is the
// full ordered log; Err is set when the delivery was a stream error, in
// which case Messages is the last known good state.
type Update struct {
	Messages       []domainchat.Message
	Added          int
	ScrollToLatest bool
	Err            error
}

type AggregatorOptions struct {
	Backoff []time.Duration
	Metrics Metrics
	Logger  *slog.Logger
}

// Aggregator keeps the duplicate-free, time-ordered message log of one
// conversation in sync with the store's live query.
type Aggregator struct {
	live[[]domainchat.Message]

	conversationID domainchat.ConversationID
	subscriber     Subscriber
	onUpdate       func(Update)
	metrics        Metrics
	logger         *slog.Logger

	messages  []domainchat.Message
	streamErr error
}

// NewAggregator builds a stopped view. onUpdate runs on the view's pump
// goroutine and must not call Stop or Refresh synchronously.
func NewAggregator(subscriber Subscriber, id domainchat.ConversationID, onUpdate func(Update), opts AggregatorOptions) *Aggregator {
	a := &Aggregator{
		conversationID: id,
		subscriber:     subscriber,
		onUpdate:       onUpdate,
		metrics:        metricsOrNop(opts.Metrics),
		logger:         opts.Logger,
	}
	a.live.backoff = opts.Backoff
	a.live.open = a.open
	a.live.handle = a.apply
	return a
}

func (a *Aggregator) ConversationID() domainchat.ConversationID { return a.conversationID }

// Start subscribes to the conversation's message log. Calling Start on a
// running view is a no-op.
func (a *Aggregator) Start(ctx context.Context) error {
	if _, err := requireUser(ctx); err != nil {
		return err
	}
	if a.State() == StateUnsubscribed {
		a.metrics.LiveViewOpened("chat")
	}
	a.live.subscribe(ctx)
	return nil
}

// Refresh replaces the subscription without clearing the local log.
func (a *Aggregator) Refresh() error {
	return a.live.resubscribe()
}

// Stop tears the subscription down. When Stop returns no further update is
// delivered.
func (a *Aggregator) Stop() {
	if a.live.unsubscribe() {
		a.metrics.LiveViewClosed("chat")
	}
}

// Messages returns a copy of the current log.
func (a *Aggregator) Messages() []domainchat.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domainchat.Message(nil), a.messages...)
}

// StreamErr returns the last stream error, cleared by the next snapshot.
func (a *Aggregator) StreamErr() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.streamErr
}

func (a *Aggregator) open(ctx context.Context) (stream.Subscription[[]domainchat.Message], error) {
	if a.subscriber == nil {
		return nil, fmt.Errorf("%w: subscriber not configured", domainchat.ErrStoreUnavailable)
	}
	return a.subscriber.SubscribeMessages(ctx, a.conversationID)
}

func (a *Aggregator) apply(ev stream.Event[[]domainchat.Message]) func() {
	var update Update
	if ev.Err != nil {
		a.streamErr = fmt.Errorf("%w: %w", domainchat.ErrStreamError, ev.Err)
		a.metrics.StreamError("chat")
		if a.logger != nil {
			a.logger.Warn("message stream error", "conversation_id", a.conversationID, "error", ev.Err)
		}
		update = Update{Messages: append([]domainchat.Message(nil), a.messages...), Err: a.streamErr}
	} else {
		merged, added := domainchat.MergeSnapshot(a.messages, ev.Snapshot)
		a.messages = merged
		a.streamErr = nil
		update = Update{
			Messages:       append([]domainchat.Message(nil), merged...),
			Added:          added,
			ScrollToLatest: added > 0,
		}
	}
	if a.onUpdate == nil {
		return nil
	}
	return func() { a.onUpdate(update) }
}
