package chat_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	appchat "marketchat/internal/app/chat"
	domainchat "marketchat/internal/domain/chat"
	"marketchat/internal/infra/storage/memory"
)

func TestSendUpdatesConversationMetadata(t *testing.T) {
	h := newHarness(t)
	id := h.conversation(t, "a", "b", "L17")

	res, err := h.svc.Send(as("a"), id, appchat.Outgoing{
		Text:         "  hello ",
		Sender:       domainchat.Sender{Name: "Alice"},
		ListingID:    "L17",
		ListingTitle: "Road bike",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.MessageID() == "" || res.Warning != nil || res.Fallback {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Message.Text != "hello" || res.Message.Sender.ID != "a" || res.Message.Sender.Name != "Alice" {
		t.Fatalf("unexpected message: %+v", res.Message)
	}

	conv, err := h.store.Conversation(context.Background(), id)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if conv.LastMessage == nil || conv.LastMessage.Text != "hello" || conv.LastMessage.Sender.ID != "a" {
		t.Fatalf("last message not cached: %+v", conv.LastMessage)
	}
	if !conv.UpdatedAt.Equal(res.Message.CreatedAt) || !conv.LastMessageTime.Equal(res.Message.CreatedAt) {
		t.Fatalf("timestamps not updated: %+v", conv)
	}
	if conv.ListingTitle != "Road bike" {
		t.Fatalf("listing title not cached: %q", conv.ListingTitle)
	}

	var sent bool
	for _, rec := range h.outbox.Records() {
		if rec.Name == "chat.message_sent" && rec.Aggregate == string(id) {
			sent = true
		}
	}
	if !sent {
		t.Fatalf("message_sent event missing: %v", h.eventNames())
	}
}

func TestSendSucceedsWhenMetadataUpdateFails(t *testing.T) {
	h := newHarness(t)
	id := h.conversation(t, "a", "b", "")
	h.store.Faults().Fail(memory.OpUpdateMeta, errors.New("write conflict"), 1)

	res, err := h.svc.Send(as("a"), id, appchat.Outgoing{Text: "hello"})
	if err != nil {
		t.Fatalf("metadata failure must not fail the send, got %v", err)
	}
	if res.MessageID() == "" {
		t.Fatal("expected message id")
	}
	if !errors.Is(res.Warning, domainchat.ErrMetadataUpdateFailed) {
		t.Fatalf("expected metadata warning, got %v", res.Warning)
	}
	messages, _ := h.store.Messages(context.Background(), id)
	if len(messages) != 1 {
		t.Fatalf("expected exactly one stored message, got %d", len(messages))
	}
	conv, _ := h.store.Conversation(context.Background(), id)
	if conv.LastMessage != nil {
		t.Fatalf("metadata should lag the log, got %+v", conv.LastMessage)
	}
}

func TestSendPreconditionsReportedBeforeAnyWrite(t *testing.T) {
	h := newHarness(t)
	id := h.conversation(t, "a", "b", "")

	cases := []struct {
		name  string
		ctx   context.Context
		conv  domainchat.ConversationID
		out   appchat.Outgoing
		cause error
	}{
		{name: "no identity", ctx: context.Background(), conv: id, out: appchat.Outgoing{Text: "x"}, cause: domainchat.ErrIdentityRequired},
		{name: "empty text", ctx: as("a"), conv: id, out: appchat.Outgoing{Text: "   "}, cause: domainchat.ErrTextRequired},
		{name: "unknown conversation", ctx: as("a"), conv: "missing", out: appchat.Outgoing{Text: "x"}, cause: domainchat.ErrConversationNotFound},
		{name: "not a participant", ctx: as("c"), conv: id, out: appchat.Outgoing{Text: "x"}, cause: domainchat.ErrNotParticipant},
		{name: "impersonation", ctx: as("a"), conv: id, out: appchat.Outgoing{Text: "x", Sender: domainchat.Sender{ID: "b"}}},
	}
	for _, tc := range cases {
		_, err := h.svc.Send(tc.ctx, tc.conv, tc.out)
		if !errors.Is(err, domainchat.ErrPreconditionFailed) {
			t.Fatalf("%s: expected precondition failure, got %v", tc.name, err)
		}
		if tc.cause != nil && !errors.Is(err, tc.cause) {
			t.Fatalf("%s: expected cause %v, got %v", tc.name, tc.cause, err)
		}
	}
	if calls := h.store.Faults().Calls(memory.OpAppend); calls != 0 {
		t.Fatalf("expected no append calls, got %d", calls)
	}
}

func TestSendFallsBackOnceOnTransientFailure(t *testing.T) {
	h := newHarness(t)
	id := h.conversation(t, "a", "b", "")
	transient := fmt.Errorf("%w: deadline exceeded", domainchat.ErrTransient)
	h.store.Faults().Fail(memory.OpAppend, transient, 1)

	res, err := h.svc.Send(as("a"), id, appchat.Outgoing{Text: "hello"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !res.Fallback {
		t.Fatal("expected fallback path")
	}
	if calls := h.store.Faults().Calls(memory.OpAppendDirect); calls != 1 {
		t.Fatalf("expected exactly one direct append, got %d", calls)
	}
	messages, _ := h.store.Messages(context.Background(), id)
	if len(messages) != 1 {
		t.Fatalf("expected one message, got %d", len(messages))
	}
}

func TestSendFallbackDoesNotDuplicateLandedWrite(t *testing.T) {
	h := newHarness(t)
	id := h.conversation(t, "a", "b", "")
	transient := fmt.Errorf("%w: response lost", domainchat.ErrTransient)
	h.store.Faults().FailAfterApply(memory.OpAppend, transient, 1)

	res, err := h.svc.Send(as("a"), id, appchat.Outgoing{Text: "hello"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	messages, _ := h.store.Messages(context.Background(), id)
	if len(messages) != 1 {
		t.Fatalf("expected one message after fallback, got %d", len(messages))
	}
	if messages[0].ID != res.MessageID() {
		t.Fatalf("fallback returned %q, stored %q", res.MessageID(), messages[0].ID)
	}
}

func TestSendFailsWithoutFallbackOnPermanentError(t *testing.T) {
	h := newHarness(t)
	id := h.conversation(t, "a", "b", "")
	h.store.Faults().Fail(memory.OpAppend, errors.New("permission denied"), 1)

	_, err := h.svc.Send(as("a"), id, appchat.Outgoing{Text: "hello"})
	if !errors.Is(err, domainchat.ErrSendFailed) || !errors.Is(err, domainchat.ErrStoreUnavailable) {
		t.Fatalf("expected send failure, got %v", err)
	}
	if calls := h.store.Faults().Calls(memory.OpAppendDirect); calls != 0 {
		t.Fatalf("permanent failures must not use the direct path, got %d calls", calls)
	}
}

func TestSendWithSameKeyReturnsOriginalMessage(t *testing.T) {
	h := newHarness(t)
	id := h.conversation(t, "a", "b", "")
	first, err := h.svc.Send(as("a"), id, appchat.Outgoing{Key: "k-1", Text: "hello"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	retry, err := h.svc.Send(as("a"), id, appchat.Outgoing{Key: "k-1", Text: "hello"})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if first.MessageID() != retry.MessageID() {
		t.Fatalf("retry created a new message: %q vs %q", first.MessageID(), retry.MessageID())
	}
	messages, _ := h.store.Messages(context.Background(), id)
	if len(messages) != 1 {
		t.Fatalf("expected one message, got %d", len(messages))
	}
}
