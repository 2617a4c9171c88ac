package chat

import "time"

// Profile is the display data of a user as returned by the profile lookup.
type Profile struct {
	ID     UserID
	Name   string
	Avatar string
}

// PlaceholderProfile is used when the profile lookup fails.
func PlaceholderProfile(id UserID) Profile {
	return Profile{ID: id, Name: UnknownUserName}
}

// Summary is the per-viewer projection of a conversation shown in the inbox.
// It is derived on every read and never persisted.
type Summary struct {
	ConversationID  ConversationID
	Other           Profile
	LastMessage     *LastMessage
	LastMessageTime time.Time
	ListingID       ListingID
	ListingTitle    string
	UnreadCount     int
	UpdatedAt       time.Time
	DedupeKey       string
}

// Newer orders summaries by UpdatedAt descending, ties broken by id.
func (s Summary) Newer(other Summary) bool {
	if !s.UpdatedAt.Equal(other.UpdatedAt) {
		return s.UpdatedAt.After(other.UpdatedAt)
	}
	return s.ConversationID < other.ConversationID
}
