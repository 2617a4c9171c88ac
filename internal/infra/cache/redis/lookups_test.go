package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	domainchat "marketchat/internal/domain/chat"
	"marketchat/internal/infra/storage/memory"
)

// unreachable returns a client whose every command fails fast.
func unreachable(t *testing.T) *goredis.Client {
	t.Helper()
	client := goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestProfilesFallThroughWhenCacheIsDown(t *testing.T) {
	origin := memory.NewProfiles()
	origin.Put(domainchat.Profile{ID: "u1", Name: "Alice"})
	p := &Profiles{Client: unreachable(t), Origin: origin, TTL: time.Minute}

	got, err := p.Profile(context.Background(), "u1")
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if got.Name != "Alice" {
		t.Fatalf("unexpected profile %+v", got)
	}
}

func TestProfilesPropagateOriginFailure(t *testing.T) {
	origin := memory.NewProfiles()
	p := &Profiles{Client: unreachable(t), Origin: origin, TTL: time.Minute}
	if _, err := p.Profile(context.Background(), "ghost"); !errors.Is(err, domainchat.ErrLookupFailed) {
		t.Fatalf("expected lookup failure, got %v", err)
	}
}

func TestListingsFallThroughWhenCacheIsDown(t *testing.T) {
	origin := memory.NewListings()
	origin.Put("L1", "Road bike")
	l := &Listings{Client: unreachable(t), Origin: origin, TTL: time.Minute}

	title, err := l.ListingTitle(context.Background(), "L1")
	if err != nil {
		t.Fatalf("listing: %v", err)
	}
	if title != "Road bike" {
		t.Fatalf("unexpected title %q", title)
	}
}
