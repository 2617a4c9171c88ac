package chat

import (
	"strconv"
	"time"
)

// UnreadWindow bounds the recency heuristic used for unread counting.
const UnreadWindow = 30 * 24 * time.Hour

// UnreadCount derives a coarse unread count for self. There is no persisted
// read marker: embedded messages from the other party newer than
// UnreadWindow are counted, and a last message from someone else always
// counts as at least one.
func UnreadCount(conv Conversation, self UserID, now time.Time) int {
	if now.IsZero() {
		now = time.Now()
	}
	count := 0
	for _, msg := range conv.Messages {
		if msg.SenderID == "" || msg.SenderID == self || msg.CreatedAt.IsZero() {
			continue
		}
		if now.Sub(msg.CreatedAt) < UnreadWindow {
			count++
		}
	}
	if conv.LastMessage != nil && conv.LastMessage.Sender.ID != self && count < 1 {
		count = 1
	}
	return count
}

// UnreadBadge renders a count for display, clamping at "99+".
func UnreadBadge(count int) string {
	switch {
	case count <= 0:
		return ""
	case count > 99:
		return "99+"
	default:
		return strconv.Itoa(count)
	}
}
