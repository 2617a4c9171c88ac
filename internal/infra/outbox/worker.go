package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	appoutbox "marketchat/internal/app/outbox"
)

// Queue is the claim side of an outbox.
type Queue interface {
	Claim(ctx context.Context, workerID string) (*appoutbox.Claimed, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, next time.Time, errMsg string) error
}

type Producer interface {
	Publish(ctx context.Context, topic string, key string, payload []byte, headers map[string]string) error
}

// Worker relays chat events from the outbox to the broker as CloudEvents.
// Delivery is at least once; consumers dedupe on the record id carried in
// the event id.
type Worker struct {
	Queue       Queue
	Producer    Producer
	Interval    time.Duration
	TopicPrefix string
	Source      string
	ID          string
	Backoff     []time.Duration
	Logger      *slog.Logger
	// BatchSize caps the records relayed per tick.
	BatchSize int
}

func (w *Worker) Run(ctx context.Context) error {
	if w.Queue == nil || w.Producer == nil {
		return ErrWorkerNotConfigured
	}
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	ticker := time.NewTicker(w.interval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.Drain(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if w.Logger != nil {
					w.Logger.Warn("outbox claim failed", "worker_id", w.ID, "error", err)
				}
			}
		}
	}
}

// Drain relays up to BatchSize records and reports how many were claimed.
func (w *Worker) Drain(ctx context.Context) (int, error) {
	n := 0
	for n < w.batchSize() {
		claimed, err := w.processOnce(ctx)
		if err != nil {
			return n, err
		}
		if !claimed {
			return n, nil
		}
		n++
	}
	return n, nil
}

func (w *Worker) processOnce(ctx context.Context) (bool, error) {
	claimed, err := w.Queue.Claim(ctx, w.workerID())
	if err != nil || claimed == nil {
		return false, err
	}
	rec := claimed.Record
	topic := w.topicFor(rec.Name)
	payload, headers, err := w.formatPayload(rec)
	if err != nil {
		w.fail(ctx, claimed, err)
		return true, nil
	}
	if err := w.Producer.Publish(ctx, topic, rec.Aggregate, payload, headers); err != nil {
		w.fail(ctx, claimed, err)
		return true, nil
	}
	if err := w.Queue.MarkSent(ctx, rec.ID); err != nil {
		return true, err
	}
	return true, nil
}

func (w *Worker) fail(ctx context.Context, claimed *appoutbox.Claimed, cause error) {
	next := w.nextRetry(claimed.Attempts)
	if w.Logger != nil {
		w.Logger.Warn("outbox publish failed",
			"event_id", claimed.Record.ID,
			"event", claimed.Record.Name,
			"attempts", claimed.Attempts+1,
			"next_attempt_at", next,
			"error", cause,
		)
	}
	if err := w.Queue.MarkFailed(ctx, claimed.Record.ID, next, cause.Error()); err != nil && w.Logger != nil {
		w.Logger.Error("outbox mark failed", "event_id", claimed.Record.ID, "error", err)
	}
}

func (w *Worker) formatPayload(rec appoutbox.EventRecord) ([]byte, map[string]string, error) {
	data := map[string]any{}
	if err := json.Unmarshal(rec.Payload, &data); err != nil {
		return nil, nil, err
	}
	evt := map[string]any{
		"specversion":     "1.0",
		"id":              rec.ID,
		"type":            rec.Name + ".v1",
		"source":          w.source(),
		"subject":         rec.Aggregate,
		"time":            rec.OccurredAt,
		"datacontenttype": "application/json",
		"data":            data,
	}
	if trace, ok := rec.Headers["traceparent"]; ok {
		evt["traceparent"] = trace
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return nil, nil, err
	}
	headers := map[string]string{
		"content-type": "application/cloudevents+json",
	}
	for k, v := range rec.Headers {
		headers[k] = v
	}
	return payload, headers, nil
}

func (w *Worker) topicFor(name string) string {
	base := name
	if idx := strings.IndexRune(name, '.'); idx > 0 {
		base = name[:idx]
	}
	topic := base + ".events.v1"
	if w.TopicPrefix != "" {
		topic = w.TopicPrefix + topic
	}
	return topic
}

func (w *Worker) workerID() string {
	if w.ID != "" {
		return w.ID
	}
	return uuid.NewString()
}

func (w *Worker) interval() time.Duration {
	if w.Interval <= 0 {
		return 500 * time.Millisecond
	}
	return w.Interval
}

func (w *Worker) batchSize() int {
	if w.BatchSize <= 0 {
		return 100
	}
	return w.BatchSize
}

func (w *Worker) nextRetry(attempts int) time.Time {
	if attempts < len(w.Backoff) {
		return time.Now().Add(w.Backoff[attempts])
	}
	if len(w.Backoff) > 0 {
		return time.Now().Add(w.Backoff[len(w.Backoff)-1])
	}
	return time.Now().Add(5 * time.Second)
}

func (w *Worker) source() string {
	if w.Source != "" {
		return w.Source
	}
	return "app://marketchat"
}

var ErrWorkerNotConfigured = errors.New("outbox: worker missing dependencies")
