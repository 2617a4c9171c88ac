package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	appchat "marketchat/internal/app/chat"
	domainchat "marketchat/internal/domain/chat"
	"marketchat/internal/infra/lookup"
)

var (
	ErrUserNotFound    = fmt.Errorf("memory: user: %w", lookup.ErrNotFound)
	ErrListingNotFound = fmt.Errorf("memory: listing: %w", lookup.ErrNotFound)
)

// Profiles stores user display data in memory.
type Profiles struct {
	mu       sync.RWMutex
	profiles map[domainchat.UserID]domainchat.Profile
	failing  map[domainchat.UserID]error
}

func NewProfiles() *Profiles {
	return &Profiles{
		profiles: make(map[domainchat.UserID]domainchat.Profile),
		failing:  make(map[domainchat.UserID]error),
	}
}

func (p *Profiles) Put(profile domainchat.Profile) {
	p.mu.Lock()
	defer p.mu.Unlock()
	profile.ID = domainchat.UserID(strings.TrimSpace(string(profile.ID)))
	p.profiles[profile.ID] = profile
}

// Fail makes lookups of id return err until cleared with a nil err.
func (p *Profiles) Fail(id domainchat.UserID, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.failing, id)
		return
	}
	p.failing[id] = err
}

func (p *Profiles) Profile(ctx context.Context, id domainchat.UserID) (domainchat.Profile, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if err, ok := p.failing[id]; ok {
		return domainchat.Profile{}, fmt.Errorf("%w: %w", domainchat.ErrLookupFailed, err)
	}
	profile, ok := p.profiles[id]
	if !ok {
		return domainchat.Profile{}, fmt.Errorf("%w: %w", domainchat.ErrLookupFailed, ErrUserNotFound)
	}
	return profile, nil
}

// Listings stores listing titles in memory.
type Listings struct {
	mu      sync.RWMutex
	titles  map[domainchat.ListingID]string
	failing map[domainchat.ListingID]error
}

func NewListings() *Listings {
	return &Listings{
		titles:  make(map[domainchat.ListingID]string),
		failing: make(map[domainchat.ListingID]error),
	}
}

func (l *Listings) Put(id domainchat.ListingID, title string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.titles[id] = title
}

func (l *Listings) Fail(id domainchat.ListingID, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err == nil {
		delete(l.failing, id)
		return
	}
	l.failing[id] = err
}

func (l *Listings) ListingTitle(ctx context.Context, id domainchat.ListingID) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if err, ok := l.failing[id]; ok {
		return "", fmt.Errorf("%w: %w", domainchat.ErrLookupFailed, err)
	}
	title, ok := l.titles[id]
	if !ok {
		return "", fmt.Errorf("%w: %w", domainchat.ErrLookupFailed, ErrListingNotFound)
	}
	return title, nil
}

var (
	_ appchat.ProfileLookup = (*Profiles)(nil)
	_ appchat.ListingLookup = (*Listings)(nil)
)
