package chat_test

import (
	"context"
	"errors"
	"testing"

	appchat "marketchat/internal/app/chat"
	domainchat "marketchat/internal/domain/chat"
	"marketchat/internal/infra/storage/memory"
)

func TestGetOrCreateReusesConversation(t *testing.T) {
	h := newHarness(t)
	first := h.conversation(t, "u1", "u2", "")
	second := h.conversation(t, "u1", "u2", "")
	if first != second {
		t.Fatalf("expected same conversation, got %q and %q", first, second)
	}
	fromOtherSide := h.conversation(t, "u2", "u1", "")
	if fromOtherSide != first {
		t.Fatalf("expected the other participant to resolve the same conversation, got %q", fromOtherSide)
	}
	names := h.eventNames()
	if len(names) != 1 || names[0] != "chat.conversation_created" {
		t.Fatalf("expected a single creation event, got %v", names)
	}
}

func TestGetOrCreateMatchesOnParticipantsOnly(t *testing.T) {
	h := newHarness(t)
	aboutBike := h.conversation(t, "buyer", "seller", "bike")
	aboutLamp := h.conversation(t, "buyer", "seller", "lamp")
	if aboutBike != aboutLamp {
		t.Fatalf("a second listing between the same users must reuse the first conversation, got %q and %q", aboutBike, aboutLamp)
	}
	conv, err := h.store.Conversation(context.Background(), aboutBike)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if conv.ListingID != "bike" {
		t.Fatalf("listing of the reused conversation changed to %q", conv.ListingID)
	}
}

func TestGetOrCreateReturnsFirstOfDuplicates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	older, err := h.store.CreateConversation(ctx, domainchat.Conversation{Participants: []domainchat.UserID{"u1", "u2"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := h.store.CreateConversation(ctx, domainchat.Conversation{Participants: []domainchat.UserID{"u1", "u2"}}); err != nil {
		t.Fatalf("create: %v", err)
	}
	got := h.conversation(t, "u2", "u1", "")
	if got != older.ID {
		t.Fatalf("expected first stored conversation %q, got %q", older.ID, got)
	}
}

func TestGetOrCreatePreconditions(t *testing.T) {
	h := newHarness(t)
	cases := []struct {
		name  string
		ctx   context.Context
		other domainchat.UserID
		cause error
	}{
		{name: "no identity", ctx: context.Background(), other: "u2", cause: domainchat.ErrIdentityRequired},
		{name: "empty other", ctx: as("u1"), other: "  ", cause: domainchat.ErrParticipantsInvalid},
		{name: "self", ctx: as("u1"), other: "u1", cause: domainchat.ErrParticipantsInvalid},
	}
	for _, tc := range cases {
		_, err := h.svc.GetOrCreate(tc.ctx, tc.other, "")
		if !errors.Is(err, domainchat.ErrPreconditionFailed) || !errors.Is(err, tc.cause) {
			t.Fatalf("%s: expected precondition failure wrapping %v, got %v", tc.name, tc.cause, err)
		}
	}
	if calls := h.store.Faults().Calls(memory.OpListConversations); calls != 0 {
		t.Fatalf("preconditions must be checked before any store call, got %d calls", calls)
	}
}

func TestGetOrCreateStoreUnavailable(t *testing.T) {
	h := newHarness(t)
	h.store.Faults().Fail(memory.OpCreateConversation, errors.New("connection reset"), 1)

	_, err := h.svc.GetOrCreate(as("u1"), "u2", "")
	if !errors.Is(err, domainchat.ErrStoreUnavailable) {
		t.Fatalf("expected store unavailable, got %v", err)
	}
	convs, _ := h.store.ConversationsFor(context.Background(), "u1")
	if len(convs) != 0 {
		t.Fatalf("failed creation must not leave a document, got %d", len(convs))
	}

	h.store.Faults().Fail(memory.OpListConversations, errors.New("timeout"), 1)
	if _, err := h.svc.GetOrCreate(as("u1"), "u2", ""); !errors.Is(err, domainchat.ErrStoreUnavailable) {
		t.Fatalf("expected store unavailable on query failure, got %v", err)
	}
}

func TestUserFromContext(t *testing.T) {
	if _, ok := appchat.UserFromContext(context.Background()); ok {
		t.Fatal("expected no user")
	}
	if _, ok := appchat.UserFromContext(as(" ")); ok {
		t.Fatal("blank user must not count as authenticated")
	}
	if id, ok := appchat.UserFromContext(as("u1")); !ok || id != "u1" {
		t.Fatalf("unexpected user %q %v", id, ok)
	}
}
