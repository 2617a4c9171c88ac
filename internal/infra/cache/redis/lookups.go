package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	appchat "marketchat/internal/app/chat"
	domainchat "marketchat/internal/domain/chat"
)

const (
	profileKeyPrefix = "chat:profile:"
	listingKeyPrefix = "chat:listing_title:"
)

// NewClient connects and pings Redis.
func NewClient(ctx context.Context, addr, password string, db int) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

type cachedProfile struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// Profiles caches successful profile lookups. Cache errors fall through to
// the origin; failed lookups are never cached.
type Profiles struct {
	Client *goredis.Client
	Origin appchat.ProfileLookup
	TTL    time.Duration
	Logger *slog.Logger
}

func (p *Profiles) Profile(ctx context.Context, id domainchat.UserID) (domainchat.Profile, error) {
	key := profileKeyPrefix + string(id)
	raw, err := p.Client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cached cachedProfile
		if jsonErr := json.Unmarshal(raw, &cached); jsonErr == nil {
			return domainchat.Profile{ID: domainchat.UserID(cached.ID), Name: cached.Name, Avatar: cached.Avatar}, nil
		}
	case !errors.Is(err, goredis.Nil):
		p.warn("profile cache read failed", key, err)
	}

	profile, err := p.Origin.Profile(ctx, id)
	if err != nil {
		return domainchat.Profile{}, err
	}
	payload, err := json.Marshal(cachedProfile{ID: string(profile.ID), Name: profile.Name, Avatar: profile.Avatar})
	if err == nil {
		if err := p.Client.Set(ctx, key, payload, p.TTL).Err(); err != nil {
			p.warn("profile cache write failed", key, err)
		}
	}
	return profile, nil
}

func (p *Profiles) warn(msg, key string, err error) {
	if p.Logger != nil {
		p.Logger.Warn(msg, "key", key, "error", err)
	}
}

// Listings caches listing titles.
type Listings struct {
	Client *goredis.Client
	Origin appchat.ListingLookup
	TTL    time.Duration
	Logger *slog.Logger
}

func (l *Listings) ListingTitle(ctx context.Context, id domainchat.ListingID) (string, error) {
	key := listingKeyPrefix + string(id)
	title, err := l.Client.Get(ctx, key).Result()
	switch {
	case err == nil:
		return title, nil
	case !errors.Is(err, goredis.Nil):
		if l.Logger != nil {
			l.Logger.Warn("listing cache read failed", "key", key, "error", err)
		}
	}

	title, err = l.Origin.ListingTitle(ctx, id)
	if err != nil {
		return "", err
	}
	if err := l.Client.Set(ctx, key, title, l.TTL).Err(); err != nil && l.Logger != nil {
		l.Logger.Warn("listing cache write failed", "key", key, "error", err)
	}
	return title, nil
}
