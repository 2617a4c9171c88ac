package chat

import (
	"sort"
	"strings"
	"time"
)

type ConversationID string
type UserID string
type ListingID string

// DirectScope is the dedupe-key suffix for conversations without a listing.
const DirectScope = "direct"

// UnknownUserName is shown when a display name cannot be resolved.
const UnknownUserName = "Unknown User"

// Sender identifies the author of a message. Avatar is empty when unset and
// must be omitted from wire representations in that case.
type Sender struct {
	ID     UserID
	Name   string
	Avatar string
}

// LastMessage is the denormalized copy of the newest message kept on the
// conversation document. It is a cache; the message log is authoritative.
type LastMessage struct {
	Text      string
	Sender    Sender
	CreatedAt time.Time
}

// LegacyMessage is an entry of the embedded message array older conversation
// documents still carry. Only the unread calculator reads it.
type LegacyMessage struct {
	SenderID  UserID
	Text      string
	CreatedAt time.Time
}

type Conversation struct {
	ID              ConversationID
	Participants    []UserID
	ListingID       ListingID
	ListingTitle    string
	LastMessage     *LastMessage
	LastMessageTime time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Messages        []LegacyMessage
}

type CreateConversationParams struct {
	Participants []UserID
	ListingID    ListingID
	Now          time.Time
}

// NewConversation validates the participant pair and returns an unsaved
// conversation. The store assigns the id.
func NewConversation(params CreateConversationParams) (Conversation, error) {
	participants := NormalizeParticipants(params.Participants)
	if len(participants) != 2 || len(params.Participants) != 2 {
		return Conversation{}, ErrParticipantsInvalid
	}
	now := params.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()
	return Conversation{
		Participants: participants,
		ListingID:    ListingID(strings.TrimSpace(string(params.ListingID))),
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// HasParticipant reports whether id is one of the conversation's participants.
func (c Conversation) HasParticipant(id UserID) bool {
	if id == "" {
		return false
	}
	for _, p := range c.Participants {
		if p == id {
			return true
		}
	}
	return false
}

// OtherParticipant returns the first participant that is not self.
func (c Conversation) OtherParticipant(self UserID) (UserID, bool) {
	for _, p := range c.Participants {
		if p != "" && p != self {
			return p, true
		}
	}
	return "", false
}

// MetaUpdate is the second step of a send: it refreshes the cached last
// message and the ordering timestamps.
type MetaUpdate struct {
	LastMessage     LastMessage
	LastMessageTime time.Time
	UpdatedAt       time.Time
	ListingID       ListingID
	ListingTitle    string
}

// Apply writes the update onto c. Listing fields are only overwritten when set.
func (c *Conversation) Apply(update MetaUpdate) {
	last := update.LastMessage
	c.LastMessage = &last
	c.LastMessageTime = update.LastMessageTime.UTC()
	c.UpdatedAt = update.UpdatedAt.UTC()
	if update.ListingID != "" {
		c.ListingID = update.ListingID
	}
	if update.ListingTitle != "" {
		c.ListingTitle = update.ListingTitle
	}
}

// Clone returns a deep copy safe to hand across goroutines.
func (c Conversation) Clone() Conversation {
	out := c
	out.Participants = append([]UserID(nil), c.Participants...)
	out.Messages = append([]LegacyMessage(nil), c.Messages...)
	if c.LastMessage != nil {
		last := *c.LastMessage
		out.LastMessage = &last
	}
	return out
}

// DedupeKey identifies a relationship: the sorted participant pair plus the
// listing scope. Used only for read-time reconciliation.
func DedupeKey(a, b UserID, listing ListingID) string {
	pair := []string{string(a), string(b)}
	sort.Strings(pair)
	scope := string(listing)
	if scope == "" {
		scope = DirectScope
	}
	return strings.Join(pair, "_") + "_" + scope
}

// NormalizeParticipants trims, drops empties and duplicates, and sorts.
func NormalizeParticipants(ids []UserID) []UserID {
	seen := make(map[UserID]struct{}, len(ids))
	out := make([]UserID, 0, len(ids))
	for _, id := range ids {
		id = UserID(strings.TrimSpace(string(id)))
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
