package scylla

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	domainchat "marketchat/internal/domain/chat"
)

type scripted struct {
	mu    sync.Mutex
	steps []func() ([]domainchat.Message, error)
	calls int
}

func (s *scripted) load(ctx context.Context) ([]domainchat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	s.calls++
	return s.steps[i]()
}

func messages(ids ...string) func() ([]domainchat.Message, error) {
	return func() ([]domainchat.Message, error) {
		out := make([]domainchat.Message, 0, len(ids))
		for _, id := range ids {
			out = append(out, domainchat.Message{ID: domainchat.MessageID(id), Text: "x", Sender: domainchat.Sender{ID: "u"}})
		}
		return out, nil
	}
}

func TestPollPublishesOnlyChanges(t *testing.T) {
	src := &scripted{steps: []func() ([]domainchat.Message, error){
		messages("m1"),
		messages("m1"),
		func() ([]domainchat.Message, error) { return nil, errors.New("timeout") },
		messages("m1"),
		messages("m1", "m2"),
	}}
	sub, err := poll(context.Background(), 5*time.Millisecond, nil, src.load, messagesFingerprint)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	defer sub.Close()

	var got []string
	deadline := time.After(2 * time.Second)
	for len(got) < 4 {
		select {
		case ev := <-sub.Events():
			if ev.Err != nil {
				got = append(got, "err")
				continue
			}
			got = append(got, messagesFingerprint(ev.Snapshot))
		case <-deadline:
			t.Fatalf("timed out, got %v", got)
		}
	}
	want := []string{"1|m1", "err", "1|m1", "2|m1|m2"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: expected %q, got %q (all %v)", i, want[i], got[i], got)
		}
	}
}

func TestPollInitialFailureIsReturned(t *testing.T) {
	src := &scripted{steps: []func() ([]domainchat.Message, error){
		func() ([]domainchat.Message, error) { return nil, errors.New("no hosts") },
	}}
	if _, err := poll(context.Background(), time.Millisecond, nil, src.load, messagesFingerprint); err == nil {
		t.Fatal("expected initial load error")
	}
}

func TestPollStopsOnClose(t *testing.T) {
	src := &scripted{steps: []func() ([]domainchat.Message, error){messages("m1")}}
	sub, err := poll(context.Background(), time.Millisecond, nil, src.load, messagesFingerprint)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	<-sub.Events()
	sub.Close()
	for range sub.Events() {
	}
	time.Sleep(10 * time.Millisecond)
	src.mu.Lock()
	calls := src.calls
	src.mu.Unlock()
	time.Sleep(20 * time.Millisecond)
	src.mu.Lock()
	defer src.mu.Unlock()
	if src.calls != calls {
		t.Fatalf("polling continued after close: %d -> %d calls", calls, src.calls)
	}
}
