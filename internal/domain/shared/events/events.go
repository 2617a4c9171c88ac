package events

import "time"

// DomainEvent is anything the outbox can encode and publish.
type DomainEvent interface {
	EventName() string
	AggregateID() string
	OccurredAt() time.Time
}
