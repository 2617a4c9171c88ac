package chat

import "sort"

// DedupeBy keeps one entry per key. Each surviving entry sits at the position
// where its key first appeared; replace decides whether a later duplicate
// supersedes the entry kept so far. A nil replace keeps the first occurrence.
func DedupeBy[T any, K comparable](items []T, key func(T) K, replace func(kept, candidate T) bool) []T {
	index := make(map[K]int, len(items))
	out := make([]T, 0, len(items))
	for _, item := range items {
		k := key(item)
		pos, seen := index[k]
		if !seen {
			index[k] = len(out)
			out = append(out, item)
			continue
		}
		if replace != nil && replace(out[pos], item) {
			out[pos] = item
		}
	}
	return out
}

// SortMessages orders messages by (CreatedAt, ID) ascending.
func SortMessages(messages []Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Before(messages[j])
	})
}

// MergeSnapshot folds a delivered snapshot into the existing ordered log.
// Malformed records are dropped, ids repeated inside the snapshot are
// dropped, and the combined list keeps the first occurrence of every id.
// The result is duplicate-free and time-ordered regardless of how often the
// source redelivers. added counts ids that were not in existing.
func MergeSnapshot(existing, snapshot []Message) (merged []Message, added int) {
	valid := make([]Message, 0, len(snapshot))
	for _, msg := range snapshot {
		if msg.Valid() {
			valid = append(valid, msg)
		}
	}
	valid = DedupeBy(valid, messageKey, nil)
	SortMessages(valid)

	known := make(map[MessageID]struct{}, len(existing))
	for _, msg := range existing {
		known[msg.ID] = struct{}{}
	}
	combined := make([]Message, 0, len(existing)+len(valid))
	combined = append(combined, existing...)
	combined = append(combined, valid...)
	merged = DedupeBy(combined, messageKey, nil)
	SortMessages(merged)

	for _, msg := range valid {
		if _, ok := known[msg.ID]; !ok {
			added++
		}
	}
	return merged, added
}

func messageKey(m Message) MessageID {
	return m.ID
}
