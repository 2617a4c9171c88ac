package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"marketchat/internal/app/stream"
	domainchat "marketchat/internal/domain/chat"
)

const defaultLookupConcurrency = 8

// Projector turns raw conversation documents into the viewer's inbox.
type Projector struct {
	Profiles ProfileLookup
	Listings ListingLookup
	Metrics  Metrics
	Logger   *slog.Logger
	// Concurrency bounds parallel lookups per projection.
	Concurrency int
	Now         func() time.Time
}

// Project resolves, deduplicates and orders the summaries for self. Lookup
// failures degrade the affected row and never fail the projection. The
// result depends only on the input set, not on lookup completion order.
func (p *Projector) Project(ctx context.Context, self domainchat.UserID, conversations []domainchat.Conversation) []domainchat.Summary {
	now := p.now()
	slots := make([]*domainchat.Summary, len(conversations))

	var g errgroup.Group
	g.SetLimit(p.concurrency())
	for i, conv := range conversations {
		other, ok := conv.OtherParticipant(self)
		if !ok {
			if p.Logger != nil {
				p.Logger.Warn("conversation skipped, no other participant", "conversation_id", conv.ID, "user_id", self)
			}
			continue
		}
		g.Go(func() error {
			summary := domainchat.Summary{
				ConversationID:  conv.ID,
				Other:           p.profile(ctx, other),
				LastMessageTime: conv.LastMessageTime,
				ListingID:       conv.ListingID,
				ListingTitle:    conv.ListingTitle,
				UnreadCount:     domainchat.UnreadCount(conv, self, now),
				UpdatedAt:       conv.UpdatedAt,
				DedupeKey:       domainchat.DedupeKey(self, other, conv.ListingID),
			}
			if conv.LastMessage != nil {
				last := *conv.LastMessage
				summary.LastMessage = &last
			}
			if conv.ListingID != "" {
				if title, ok := p.listingTitle(ctx, conv.ListingID); ok {
					summary.ListingTitle = title
				}
			}
			slots[i] = &summary
			return nil
		})
	}
	_ = g.Wait()

	resolved := make([]domainchat.Summary, 0, len(slots))
	for _, s := range slots {
		if s != nil {
			resolved = append(resolved, *s)
		}
	}
	out := domainchat.DedupeBy(resolved,
		func(s domainchat.Summary) string { return s.DedupeKey },
		func(kept, candidate domainchat.Summary) bool { return candidate.Newer(kept) },
	)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Newer(out[j]) })
	return out
}

func (p *Projector) profile(ctx context.Context, id domainchat.UserID) domainchat.Profile {
	if p.Profiles == nil {
		return domainchat.PlaceholderProfile(id)
	}
	profile, err := p.Profiles.Profile(ctx, id)
	if err != nil {
		metricsOrNop(p.Metrics).LookupFailed("profile")
		if p.Logger != nil {
			p.Logger.Debug("profile lookup failed", "user_id", id, "error", err)
		}
		return domainchat.PlaceholderProfile(id)
	}
	profile.ID = id
	if strings.TrimSpace(profile.Name) == "" {
		profile.Name = domainchat.UnknownUserName
	}
	return profile
}

func (p *Projector) listingTitle(ctx context.Context, id domainchat.ListingID) (string, bool) {
	if p.Listings == nil {
		return "", false
	}
	title, err := p.Listings.ListingTitle(ctx, id)
	if err != nil {
		metricsOrNop(p.Metrics).LookupFailed("listing")
		if p.Logger != nil {
			p.Logger.Debug("listing lookup failed", "listing_id", id, "error", err)
		}
		return "", false
	}
	title = strings.TrimSpace(title)
	return title, title != ""
}

func (p *Projector) concurrency() int {
	if p.Concurrency > 0 {
		return p.Concurrency
	}
	return defaultLookupConcurrency
}

func (p *Projector) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// InboxUpdate is emitted after every delivery to an inbox view.
type InboxUpdate struct {
	Summaries []domainchat.Summary
	Err       error
}

// SummaryWatcher keeps the viewer's inbox projection live. It shares the
// Aggregator's lifecycle.
type SummaryWatcher struct {
	live[[]domainchat.Summary]

	self       domainchat.UserID
	subscriber Subscriber
	projector  *Projector
	onUpdate   func(InboxUpdate)
	metrics    Metrics
	logger     *slog.Logger

	summaries []domainchat.Summary
	streamErr error
}

// NewSummaryWatcher builds a stopped inbox view. onUpdate runs on the
// view's pump goroutine and must not call Stop or Refresh synchronously.
func NewSummaryWatcher(subscriber Subscriber, projector *Projector, onUpdate func(InboxUpdate), opts AggregatorOptions) *SummaryWatcher {
	if projector == nil {
		projector = &Projector{}
	}
	w := &SummaryWatcher{
		subscriber: subscriber,
		projector:  projector,
		onUpdate:   onUpdate,
		metrics:    metricsOrNop(opts.Metrics),
		logger:     opts.Logger,
	}
	w.live.backoff = opts.Backoff
	w.live.open = w.open
	w.live.handle = w.apply
	return w
}

// Start subscribes to the caller's conversations.
func (w *SummaryWatcher) Start(ctx context.Context) error {
	self, err := requireUser(ctx)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.self = self
	w.mu.Unlock()
	if w.State() == StateUnsubscribed {
		w.metrics.LiveViewOpened("inbox")
	}
	w.live.subscribe(ctx)
	return nil
}

func (w *SummaryWatcher) Refresh() error {
	return w.live.resubscribe()
}

func (w *SummaryWatcher) Stop() {
	if w.live.unsubscribe() {
		w.metrics.LiveViewClosed("inbox")
	}
}

func (w *SummaryWatcher) Summaries() []domainchat.Summary {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]domainchat.Summary(nil), w.summaries...)
}

func (w *SummaryWatcher) StreamErr() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.streamErr
}

func (w *SummaryWatcher) open(ctx context.Context) (stream.Subscription[[]domainchat.Summary], error) {
	if w.subscriber == nil {
		return nil, fmt.Errorf("%w: subscriber not configured", domainchat.ErrStoreUnavailable)
	}
	w.mu.Lock()
	self := w.self
	w.mu.Unlock()
	src, err := w.subscriber.SubscribeConversations(ctx, self)
	if err != nil {
		return nil, err
	}
	return stream.Map(ctx, src, func(ctx context.Context, convs []domainchat.Conversation) []domainchat.Summary {
		return w.projector.Project(ctx, self, convs)
	}), nil
}

func (w *SummaryWatcher) apply(ev stream.Event[[]domainchat.Summary]) func() {
	var update InboxUpdate
	if ev.Err != nil {
		w.streamErr = fmt.Errorf("%w: %w", domainchat.ErrStreamError, ev.Err)
		w.metrics.StreamError("inbox")
		if w.logger != nil {
			w.logger.Warn("conversation stream error", "user_id", w.self, "error", ev.Err)
		}
		update = InboxUpdate{Summaries: append([]domainchat.Summary(nil), w.summaries...), Err: w.streamErr}
	} else {
		w.summaries = ev.Snapshot
		w.streamErr = nil
		update = InboxUpdate{Summaries: append([]domainchat.Summary(nil), ev.Snapshot...)}
	}
	if w.onUpdate == nil {
		return nil
	}
	return func() { w.onUpdate(update) }
}
