package stream

import (
	"errors"
	"testing"
)

func TestFeedDropsOldestWhenFull(t *testing.T) {
	feed := NewFeed[int](1, nil)
	defer feed.Close()

	feed.Snapshot(1)
	feed.Snapshot(2)

	ev := <-feed.Events()
	if ev.Snapshot != 2 {
		t.Fatalf("expected newest snapshot, got %d", ev.Snapshot)
	}
	select {
	case ev := <-feed.Events():
		t.Fatalf("unexpected extra event %+v", ev)
	default:
	}
}

func TestFeedCloseIsIdempotentAndRunsOnStopOnce(t *testing.T) {
	stops := 0
	feed := NewFeed[int](2, func() { stops++ })
	feed.Fail(errors.New("boom"))
	feed.Close()
	feed.Close()

	if stops != 1 {
		t.Fatalf("onStop ran %d times", stops)
	}
	if feed.Snapshot(3) {
		t.Fatal("publish after close must report false")
	}
	select {
	case <-feed.Done():
	default:
		t.Fatal("done channel not closed")
	}
	for range feed.Events() {
	}
}
