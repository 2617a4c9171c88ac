package chat_test

import (
	"context"
	"testing"
	"time"

	appchat "marketchat/internal/app/chat"
	domainchat "marketchat/internal/domain/chat"
	"marketchat/internal/infra/storage/memory"
)

const waitTimeout = 2 * time.Second

func as(id domainchat.UserID) context.Context {
	return appchat.ContextWithUser(context.Background(), id)
}

type harness struct {
	store    *memory.Store
	profiles *memory.Profiles
	listings *memory.Listings
	outbox   *memory.Outbox
	svc      *appchat.Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:    memory.NewStore(),
		profiles: memory.NewProfiles(),
		listings: memory.NewListings(),
		outbox:   memory.NewOutbox(),
	}
	h.svc = appchat.NewService(appchat.ServiceConfig{
		Store:    h.store,
		Profiles: h.profiles,
		Listings: h.listings,
		Events:   &appchat.EventSink{Outbox: h.outbox},
		Backoff:  []time.Duration{time.Millisecond},
	})
	return h
}

func (h *harness) conversation(t *testing.T, a, b domainchat.UserID, listing domainchat.ListingID) domainchat.ConversationID {
	t.Helper()
	id, err := h.svc.GetOrCreate(as(a), b, listing)
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	return id
}

func (h *harness) send(t *testing.T, from domainchat.UserID, id domainchat.ConversationID, text string) domainchat.Message {
	t.Helper()
	res, err := h.svc.Send(as(from), id, appchat.Outgoing{Text: text})
	if err != nil {
		t.Fatalf("send %q: %v", text, err)
	}
	if res.Warning != nil {
		t.Fatalf("send %q: unexpected warning %v", text, res.Warning)
	}
	return res.Message
}

func (h *harness) eventNames() []string {
	var names []string
	for _, rec := range h.outbox.Records() {
		names = append(names, rec.Name)
	}
	return names
}

// collector buffers updates pushed from a live view's pump goroutine.
type collector[T any] struct {
	ch chan T
}

func newCollector[T any]() *collector[T] {
	return &collector[T]{ch: make(chan T, 1024)}
}

func (c *collector[T]) push(v T) {
	select {
	case c.ch <- v:
	default:
	}
}

func (c *collector[T]) waitFor(t *testing.T, what string, pred func(T) bool) T {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case v := <-c.ch:
			if pred(v) {
				return v
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		}
	}
}

func messageIDs(messages []domainchat.Message) []domainchat.MessageID {
	out := make([]domainchat.MessageID, 0, len(messages))
	for _, m := range messages {
		out = append(out, m.ID)
	}
	return out
}
