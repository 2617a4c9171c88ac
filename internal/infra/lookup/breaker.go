package lookup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	appchat "marketchat/internal/app/chat"
	domainchat "marketchat/internal/domain/chat"
)

// BreakerConfig tunes the circuit breakers wrapped around lookups.
type BreakerConfig struct {
	MaxFailures uint32
	Interval    time.Duration
	Timeout     time.Duration
}

func (c BreakerConfig) settings(name string, logger *slog.Logger) gobreaker.Settings {
	maxFailures := c.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    c.Interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		// A missing user or listing is an answer, not an outage. A caller that
		// went away says nothing about the origin either.
		IsSuccessful: func(err error) bool {
			var gone abandoned
			return err == nil || errors.Is(err, ErrNotFound) || errors.As(err, &gone)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if logger != nil {
				logger.Info("circuit breaker state", "name", name, "from", from.String(), "to", to.String())
			}
		},
	}
}

// ErrNotFound is wrapped by origins when the requested record does not exist.
var ErrNotFound = errors.New("lookup: not found")

// Profiles short-circuits profile lookups while the origin is failing.
type Profiles struct {
	origin appchat.ProfileLookup
	cb     *gobreaker.CircuitBreaker
}

func NewProfiles(origin appchat.ProfileLookup, cfg BreakerConfig, logger *slog.Logger) *Profiles {
	return &Profiles{origin: origin, cb: gobreaker.NewCircuitBreaker(cfg.settings("profile-lookup", logger))}
}

func (p *Profiles) Profile(ctx context.Context, id domainchat.UserID) (domainchat.Profile, error) {
	res, err := p.cb.Execute(func() (interface{}, error) {
		profile, err := p.origin.Profile(ctx, id)
		return profile, callerGone(ctx, err)
	})
	if err != nil {
		return domainchat.Profile{}, lookupFailed(err)
	}
	return res.(domainchat.Profile), nil
}

func (p *Profiles) State() gobreaker.State { return p.cb.State() }

// Listings short-circuits listing title lookups while the origin is failing.
type Listings struct {
	origin appchat.ListingLookup
	cb     *gobreaker.CircuitBreaker
}

func NewListings(origin appchat.ListingLookup, cfg BreakerConfig, logger *slog.Logger) *Listings {
	return &Listings{origin: origin, cb: gobreaker.NewCircuitBreaker(cfg.settings("listing-lookup", logger))}
}

func (l *Listings) ListingTitle(ctx context.Context, id domainchat.ListingID) (string, error) {
	res, err := l.cb.Execute(func() (interface{}, error) {
		title, err := l.origin.ListingTitle(ctx, id)
		return title, callerGone(ctx, err)
	})
	if err != nil {
		return "", lookupFailed(err)
	}
	return res.(string), nil
}

func (l *Listings) State() gobreaker.State { return l.cb.State() }

// abandoned marks a failure caused by the caller's own context ending.
type abandoned struct{ error }

func (a abandoned) Unwrap() error { return a.error }

func callerGone(ctx context.Context, err error) error {
	if err != nil && ctx.Err() != nil {
		return abandoned{err}
	}
	return err
}

func lookupFailed(err error) error {
	if errors.Is(err, domainchat.ErrLookupFailed) {
		return err
	}
	return fmt.Errorf("%w: %w", domainchat.ErrLookupFailed, err)
}
