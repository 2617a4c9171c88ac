package chat

import (
	"testing"
	"time"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func msg(id string, offset int) Message {
	return Message{
		ID:        MessageID(id),
		Text:      "text-" + id,
		Sender:    Sender{ID: "u1", Name: "One"},
		CreatedAt: base.Add(time.Duration(offset) * time.Second),
	}
}

func ids(messages []Message) []string {
	out := make([]string, 0, len(messages))
	for _, m := range messages {
		out = append(out, string(m.ID))
	}
	return out
}

func assertIDs(t *testing.T, got []Message, want ...string) {
	t.Helper()
	gotIDs := ids(got)
	if len(gotIDs) != len(want) {
		t.Fatalf("unexpected ids: got %v want %v", gotIDs, want)
	}
	for i := range want {
		if gotIDs[i] != want[i] {
			t.Fatalf("unexpected ids: got %v want %v", gotIDs, want)
		}
	}
}

func TestMergeSnapshotTotalOrderStability(t *testing.T) {
	a, b := msg("a", 1), msg("b", 2)
	splits := [][2][]Message{
		{{a}, {b, a}},
		{{a, b}, {a}},
		{{b}, {a, a}},
		{{a, a}, {b}},
		{{}, {a, b, a}},
		{{b, a, a}, {}},
	}
	for i, split := range splits {
		merged, _ := MergeSnapshot(nil, split[0])
		merged, _ = MergeSnapshot(merged, split[1])
		if len(merged) != 2 {
			t.Fatalf("split %d: expected 2 messages, got %v", i, ids(merged))
		}
		assertIDs(t, merged, "a", "b")
	}
}

func TestMergeSnapshotIsIdempotentAcrossSplits(t *testing.T) {
	s1 := []Message{msg("c", 3), msg("a", 1), msg("b", 2)}
	s2 := []Message{msg("b", 2), msg("d", 4), msg("a", 1), msg("e", 0)}

	stepwise, _ := MergeSnapshot(nil, s1)
	stepwise, _ = MergeSnapshot(stepwise, s2)

	combined, _ := MergeSnapshot(nil, append(append([]Message(nil), s1...), s2...))

	assertIDs(t, stepwise, "e", "a", "b", "c", "d")
	assertIDs(t, combined, "e", "a", "b", "c", "d")

	again, added := MergeSnapshot(stepwise, s2)
	if added != 0 {
		t.Fatalf("redelivery must not add messages, added=%d", added)
	}
	assertIDs(t, again, "e", "a", "b", "c", "d")
}

func TestMergeSnapshotDropsMalformedRecords(t *testing.T) {
	noText := msg("x", 1)
	noText.Text = ""
	noSender := msg("y", 2)
	noSender.Sender.ID = ""
	merged, added := MergeSnapshot(nil, []Message{noText, noSender, msg("ok", 3)})
	if added != 1 {
		t.Fatalf("expected 1 added, got %d", added)
	}
	assertIDs(t, merged, "ok")
}

func TestMergeSnapshotKeepsFirstOccurrence(t *testing.T) {
	original := msg("a", 1)
	redelivered := original
	redelivered.Text = "tampered"
	merged, _ := MergeSnapshot([]Message{original}, []Message{redelivered})
	if merged[0].Text != original.Text {
		t.Fatalf("existing message must win, got %q", merged[0].Text)
	}
}

func TestMergeSnapshotBreaksTiesByID(t *testing.T) {
	merged, _ := MergeSnapshot(nil, []Message{msg("b", 1), msg("a", 1)})
	assertIDs(t, merged, "a", "b")
}

func TestMergeSnapshotReportsAdded(t *testing.T) {
	merged, added := MergeSnapshot(nil, []Message{msg("a", 1)})
	if added != 1 {
		t.Fatalf("expected 1 added, got %d", added)
	}
	_, added = MergeSnapshot(merged, []Message{msg("a", 1), msg("b", 2)})
	if added != 1 {
		t.Fatalf("expected 1 added, got %d", added)
	}
}

func TestDedupeByReplace(t *testing.T) {
	type row struct {
		key string
		ver int
	}
	rows := []row{{"x", 1}, {"y", 1}, {"x", 3}, {"x", 2}}
	got := DedupeBy(rows, func(r row) string { return r.key }, func(kept, cand row) bool { return cand.ver > kept.ver })
	if len(got) != 2 {
		t.Fatalf("expected 2 rows, got %v", got)
	}
	if got[0] != (row{"x", 3}) || got[1] != (row{"y", 1}) {
		t.Fatalf("unexpected rows: %v", got)
	}
}
