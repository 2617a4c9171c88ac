package chat_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	appchat "marketchat/internal/app/chat"
	domainchat "marketchat/internal/domain/chat"
	"marketchat/internal/infra/storage/memory"
)

func TestChatViewReceivesReplyWithoutDuplicates(t *testing.T) {
	h := newHarness(t)
	c1 := h.conversation(t, "A", "B", "L17")
	m1 := h.send(t, "A", c1, "hello")

	updates := newCollector[appchat.Update]()
	agg, err := h.svc.OpenConversation(as("A"), c1, updates.push)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer agg.Stop()
	updates.waitFor(t, "initial snapshot", func(u appchat.Update) bool { return len(u.Messages) == 1 })
	if agg.State() != appchat.StateStreaming {
		t.Fatalf("expected streaming, got %s", agg.State())
	}

	m2 := h.send(t, "B", c1, "hi")
	got := updates.waitFor(t, "reply", func(u appchat.Update) bool { return len(u.Messages) == 2 })
	if !got.ScrollToLatest || got.Added == 0 {
		t.Fatalf("expected scroll to latest on new message: %+v", got)
	}

	h.store.Redeliver(c1)
	redelivered := updates.waitFor(t, "redelivery", func(u appchat.Update) bool { return u.Added == 0 })
	ids := messageIDs(redelivered.Messages)
	if len(ids) != 2 || ids[0] != m1.ID || ids[1] != m2.ID {
		t.Fatalf("expected [M1, M2], got %v", ids)
	}
	if redelivered.ScrollToLatest {
		t.Fatal("redelivery must not request a scroll")
	}
}

func TestChatViewStopIsSilentAndReleasesSubscription(t *testing.T) {
	h := newHarness(t)
	id := h.conversation(t, "A", "B", "")
	h.send(t, "A", id, "hello")

	var stopped atomic.Bool
	var late atomic.Int32
	updates := newCollector[appchat.Update]()
	agg, err := h.svc.OpenConversation(as("A"), id, func(u appchat.Update) {
		if stopped.Load() {
			late.Add(1)
		}
		updates.push(u)
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	updates.waitFor(t, "initial snapshot", func(u appchat.Update) bool { return len(u.Messages) == 1 })

	agg.Stop()
	stopped.Store(true)
	if agg.State() != appchat.StateUnsubscribed {
		t.Fatalf("expected unsubscribed, got %s", agg.State())
	}
	if n := h.store.Subscribers(); n != 0 {
		t.Fatalf("subscription leaked: %d open", n)
	}

	h.send(t, "B", id, "are you there?")
	h.store.Redeliver(id)
	time.Sleep(50 * time.Millisecond)
	if n := late.Load(); n != 0 {
		t.Fatalf("%d updates delivered after Stop", n)
	}
	agg.Stop()
}

func TestChatViewRefreshKeepsStateAndReplacesSubscription(t *testing.T) {
	h := newHarness(t)
	id := h.conversation(t, "A", "B", "")
	h.send(t, "A", id, "one")

	updates := newCollector[appchat.Update]()
	agg, err := h.svc.OpenConversation(as("A"), id, updates.push)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer agg.Stop()
	updates.waitFor(t, "initial snapshot", func(u appchat.Update) bool { return len(u.Messages) == 1 })

	if err := agg.Refresh(); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if len(agg.Messages()) != 1 {
		t.Fatal("refresh must not clear local state")
	}
	if n := h.store.Subscribers(); n > 1 {
		t.Fatalf("refresh layered subscriptions: %d open", n)
	}
	updates.waitFor(t, "resubscribed snapshot", func(u appchat.Update) bool { return len(u.Messages) == 1 && u.Added == 0 })
	if agg.State() != appchat.StateStreaming {
		t.Fatalf("expected streaming after refresh, got %s", agg.State())
	}

	h.send(t, "B", id, "two")
	updates.waitFor(t, "message after refresh", func(u appchat.Update) bool { return len(u.Messages) == 2 })
	if n := h.store.Subscribers(); n != 1 {
		t.Fatalf("expected one subscription, got %d", n)
	}

	agg.Stop()
	if err := agg.Refresh(); !errors.Is(err, appchat.ErrNotSubscribed) {
		t.Fatalf("refresh after stop: expected ErrNotSubscribed, got %v", err)
	}
}

func TestChatViewStreamErrorKeepsMessages(t *testing.T) {
	h := newHarness(t)
	id := h.conversation(t, "A", "B", "")
	h.send(t, "A", id, "hello")

	updates := newCollector[appchat.Update]()
	agg, err := h.svc.OpenConversation(as("A"), id, updates.push)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer agg.Stop()
	updates.waitFor(t, "initial snapshot", func(u appchat.Update) bool { return len(u.Messages) == 1 })

	h.store.EmitStreamError(errors.New("network down"))
	failed := updates.waitFor(t, "stream error", func(u appchat.Update) bool { return u.Err != nil })
	if !errors.Is(failed.Err, domainchat.ErrStreamError) {
		t.Fatalf("expected stream error, got %v", failed.Err)
	}
	if len(failed.Messages) != 1 {
		t.Fatalf("stream error must keep messages, got %d", len(failed.Messages))
	}
	if agg.State() != appchat.StateStreaming {
		t.Fatalf("stream error must not change state, got %s", agg.State())
	}
	if !errors.Is(agg.StreamErr(), domainchat.ErrStreamError) {
		t.Fatalf("stream error not exposed: %v", agg.StreamErr())
	}

	h.send(t, "B", id, "back")
	recovered := updates.waitFor(t, "recovery", func(u appchat.Update) bool { return u.Err == nil && len(u.Messages) == 2 })
	if recovered.Err != nil || agg.StreamErr() != nil {
		t.Fatal("successful snapshot should clear the stream error")
	}
}

func TestChatViewRecoversFromSubscribeFailure(t *testing.T) {
	h := newHarness(t)
	id := h.conversation(t, "A", "B", "")
	h.send(t, "A", id, "hello")
	h.store.Faults().Fail(memory.OpSubscribe, errors.New("unavailable"), 1)

	updates := newCollector[appchat.Update]()
	agg, err := h.svc.OpenConversation(as("A"), id, updates.push)
	if err != nil {
		t.Fatalf("open must not fail on subscribe errors: %v", err)
	}
	defer agg.Stop()
	updates.waitFor(t, "subscribe error", func(u appchat.Update) bool { return errors.Is(u.Err, domainchat.ErrStreamError) })
	updates.waitFor(t, "snapshot after retry", func(u appchat.Update) bool { return len(u.Messages) == 1 })
}

func TestOpenConversationChecksAccess(t *testing.T) {
	h := newHarness(t)
	id := h.conversation(t, "A", "B", "")
	if _, err := h.svc.OpenConversation(as("C"), id, nil); !errors.Is(err, domainchat.ErrNotParticipant) {
		t.Fatalf("expected not participant, got %v", err)
	}
	if _, err := h.svc.OpenConversation(context.Background(), id, nil); !errors.Is(err, domainchat.ErrPreconditionFailed) {
		t.Fatalf("expected precondition failure, got %v", err)
	}
	agg := appchat.NewAggregator(h.store, id, nil, appchat.AggregatorOptions{})
	if err := agg.Start(context.Background()); !errors.Is(err, domainchat.ErrIdentityRequired) {
		t.Fatalf("expected identity required, got %v", err)
	}
	if agg.State() != appchat.StateUnsubscribed {
		t.Fatalf("failed start must stay unsubscribed, got %s", agg.State())
	}
}
