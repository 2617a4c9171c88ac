package lookup

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	domainchat "marketchat/internal/domain/chat"
)

type countingProfiles struct {
	calls atomic.Int32
	err   error
}

func (c *countingProfiles) Profile(ctx context.Context, id domainchat.UserID) (domainchat.Profile, error) {
	c.calls.Add(1)
	if c.err != nil {
		return domainchat.Profile{}, c.err
	}
	return domainchat.Profile{ID: id, Name: "Alice"}, nil
}

func TestProfilesBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	origin := &countingProfiles{err: errors.New("profile service down")}
	p := NewProfiles(origin, BreakerConfig{MaxFailures: 2, Timeout: time.Hour}, nil)

	for i := 0; i < 5; i++ {
		if _, err := p.Profile(context.Background(), "u1"); !errors.Is(err, domainchat.ErrLookupFailed) {
			t.Fatalf("attempt %d: expected lookup failure, got %v", i, err)
		}
	}
	if got := origin.calls.Load(); got != 2 {
		t.Fatalf("expected breaker to stop calling origin after 2 failures, got %d calls", got)
	}
	if p.State() != gobreaker.StateOpen {
		t.Fatalf("expected open breaker, got %s", p.State())
	}
}

func TestProfilesBreakerIgnoresNotFound(t *testing.T) {
	origin := &countingProfiles{err: fmt.Errorf("%w: ghost", ErrNotFound)}
	p := NewProfiles(origin, BreakerConfig{MaxFailures: 1, Timeout: time.Hour}, nil)
	for i := 0; i < 3; i++ {
		_, _ = p.Profile(context.Background(), "ghost")
	}
	if got := origin.calls.Load(); got != 3 {
		t.Fatalf("not-found answers must not trip the breaker, got %d calls", got)
	}
	if p.State() != gobreaker.StateClosed {
		t.Fatalf("expected closed breaker, got %s", p.State())
	}
}

type blockingProfiles struct {
	calls atomic.Int32
}

func (b *blockingProfiles) Profile(ctx context.Context, id domainchat.UserID) (domainchat.Profile, error) {
	b.calls.Add(1)
	<-ctx.Done()
	return domainchat.Profile{}, fmt.Errorf("%w: %w", domainchat.ErrLookupFailed, ctx.Err())
}

func TestProfilesBreakerIgnoresCallerCancellation(t *testing.T) {
	origin := &blockingProfiles{}
	p := NewProfiles(origin, BreakerConfig{MaxFailures: 1, Timeout: time.Hour}, nil)

	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := p.Profile(ctx, "u1"); !errors.Is(err, context.Canceled) {
			t.Fatalf("attempt %d: expected cancellation, got %v", i, err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	if _, err := p.Profile(ctx, "u1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if got := origin.calls.Load(); got != 4 {
		t.Fatalf("abandoned calls must not open the breaker, got %d origin calls", got)
	}
	if p.State() != gobreaker.StateClosed {
		t.Fatalf("expected closed breaker, got %s", p.State())
	}
}

type staticListings map[domainchat.ListingID]string

func (s staticListings) ListingTitle(ctx context.Context, id domainchat.ListingID) (string, error) {
	title, ok := s[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return title, nil
}

func TestListingsPassThrough(t *testing.T) {
	l := NewListings(staticListings{"L1": "Road bike"}, BreakerConfig{}, nil)
	title, err := l.ListingTitle(context.Background(), "L1")
	if err != nil || title != "Road bike" {
		t.Fatalf("unexpected result %q %v", title, err)
	}
	if _, err := l.ListingTitle(context.Background(), "L2"); !errors.Is(err, domainchat.ErrLookupFailed) || !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected wrapped not found, got %v", err)
	}
}
