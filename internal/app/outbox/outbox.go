package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"marketchat/internal/domain/shared/events"
)

// EventRecord is a domain event serialized for the outbox table.
type EventRecord struct {
	ID         string
	Name       string
	Payload    []byte
	OccurredAt time.Time
	Aggregate  string
	Headers    map[string]string
}

type Outbox interface {
	Add(ctx context.Context, record EventRecord) error
}

type EventEncoder interface {
	Encode(ev events.DomainEvent) (EventRecord, error)
}

type JSONEventEncoder struct {
	IDGenerator func() string
}

func (e JSONEventEncoder) Encode(ev events.DomainEvent) (EventRecord, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return EventRecord{}, err
	}
	idGen := e.IDGenerator
	if idGen == nil {
		idGen = uuid.NewString
	}
	return EventRecord{
		ID:         idGen(),
		Name:       ev.EventName(),
		Payload:    payload,
		OccurredAt: ev.OccurredAt().UTC(),
		Aggregate:  ev.AggregateID(),
		Headers:    map[string]string{},
	}, nil
}

// HeaderFunc derives record headers from the request context, e.g. a
// request id to correlate published events with access logs.
type HeaderFunc func(ctx context.Context) map[string]string

// RecordDomainEvents encodes evs and adds them to box in order, stopping at
// the first failure. A nil box records nothing.
func RecordDomainEvents(ctx context.Context, box Outbox, encoder EventEncoder, headers HeaderFunc, evs ...events.DomainEvent) error {
	if box == nil || len(evs) == 0 {
		return nil
	}
	if encoder == nil {
		encoder = JSONEventEncoder{}
	}
	var extra map[string]string
	if headers != nil {
		extra = headers(ctx)
	}
	for _, ev := range evs {
		rec, err := encoder.Encode(ev)
		if err != nil {
			return err
		}
		if rec.Headers == nil && len(extra) > 0 {
			rec.Headers = make(map[string]string, len(extra))
		}
		for k, v := range extra {
			if v != "" {
				rec.Headers[k] = v
			}
		}
		if err := box.Add(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

// Claimed is a record leased to a relay worker.
type Claimed struct {
	Record   EventRecord
	Attempts int
}
