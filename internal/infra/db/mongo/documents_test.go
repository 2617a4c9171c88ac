package mongo

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	domainchat "marketchat/internal/domain/chat"
)

func TestMessageDocumentOmitsUnsetOptionalFields(t *testing.T) {
	draft := domainchat.Draft{Key: "k1", Text: "hello", Sender: domainchat.Sender{ID: "u1", Name: "Alice"}}
	doc := newMessageDocument("m1", "c1", draft, time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC))
	raw, err := bson.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	stored := bson.Raw(raw)
	for _, key := range []string{"image", "system"} {
		if _, err := stored.LookupErr(key); err == nil {
			t.Fatalf("unset %s must be omitted", key)
		}
	}
	if _, err := stored.LookupErr("user", "avatar"); err == nil {
		t.Fatal("unset avatar must be omitted")
	}
	if key, ok := stored.Lookup("draft_key").StringValueOK(); !ok || key != "k1" {
		t.Fatalf("draft key not stored: %q", key)
	}
}

func TestConversationDocumentMapping(t *testing.T) {
	at := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	conv := domainchat.Conversation{
		ID:           "c1",
		Participants: []domainchat.UserID{"a", "b"},
		ListingID:    "L1",
		LastMessage:  &domainchat.LastMessage{Text: "hi", Sender: domainchat.Sender{ID: "a", Name: "Alice", Avatar: "https://img/a.png"}, CreatedAt: at},
		CreatedAt:    at,
		UpdatedAt:    at,
		Messages:     []domainchat.LegacyMessage{{SenderID: "b", Text: "old", CreatedAt: at}},
	}
	got := newConversationDocument(conv).toDomain()
	if got.ID != "c1" || len(got.Participants) != 2 || got.ListingID != "L1" {
		t.Fatalf("unexpected conversation %+v", got)
	}
	if got.LastMessage == nil || got.LastMessage.Sender.Avatar != "https://img/a.png" {
		t.Fatalf("last message lost: %+v", got.LastMessage)
	}
	if len(got.Messages) != 1 || got.Messages[0].SenderID != "b" {
		t.Fatalf("legacy messages lost: %+v", got.Messages)
	}

	raw, err := bson.Marshal(newConversationDocument(domainchat.Conversation{ID: "c2", Participants: []domainchat.UserID{"a", "b"}, CreatedAt: at, UpdatedAt: at}))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, key := range []string{"listing_id", "listing_title", "last_message", "last_message_time", "messages"} {
		if _, err := bson.Raw(raw).LookupErr(key); err == nil {
			t.Fatalf("unset %s must be omitted", key)
		}
	}
}

func TestUserDocumentProfile(t *testing.T) {
	cases := []struct {
		doc  userDocument
		want string
	}{
		{doc: userDocument{ID: "u1", FirstName: "Ada", LastName: "Lovelace"}, want: "Ada Lovelace"},
		{doc: userDocument{ID: "u2", DisplayName: "Grace", FirstName: "G"}, want: "Grace"},
		{doc: userDocument{ID: "u3"}, want: domainchat.UnknownUserName},
	}
	for _, tc := range cases {
		if got := tc.doc.profile().Name; got != tc.want {
			t.Fatalf("%s: expected %q, got %q", tc.doc.ID, tc.want, got)
		}
	}
}

func TestClassify(t *testing.T) {
	if classify(nil) != nil {
		t.Fatal("nil must stay nil")
	}
	timeout := fmt.Errorf("write: %w", context.DeadlineExceeded)
	if !domainchat.IsTransient(classify(timeout)) {
		t.Fatal("deadline must be transient")
	}
	if domainchat.IsTransient(classify(errors.New("unauthorized"))) {
		t.Fatal("auth failure must not be transient")
	}
}
