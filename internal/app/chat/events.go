package chat

import (
	"context"
	"log/slog"

	"marketchat/internal/app/outbox"
	"marketchat/internal/domain/shared/events"
)

// EventSink records chat events for downstream consumers such as the push
// sender. Recording is best effort; failures are logged and never fail the
// chat operation that produced the event.
type EventSink struct {
	Outbox  outbox.Outbox
	Encoder outbox.EventEncoder
	Headers outbox.HeaderFunc
	Logger  *slog.Logger
}

func (s *EventSink) record(ctx context.Context, evs ...events.DomainEvent) {
	if s == nil || s.Outbox == nil {
		return
	}
	if err := outbox.RecordDomainEvents(ctx, s.Outbox, s.Encoder, s.Headers, evs...); err != nil && s.Logger != nil {
		s.Logger.Warn("chat event not recorded", "error", err, "events", len(evs))
	}
}
