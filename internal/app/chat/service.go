package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	domainchat "marketchat/internal/domain/chat"
)

// Service is the entry point used by transports. It wires the resolver,
// sender, projector and live views over one store.
type Service struct {
	Store     Store
	Resolver  *Resolver
	Sender    *MessageSender
	Projector *Projector
	Events    *EventSink
	Metrics   Metrics
	Logger    *slog.Logger
	Backoff   []time.Duration
	Now       func() time.Time
}

type ServiceConfig struct {
	Store    Store
	Profiles ProfileLookup
	Listings ListingLookup
	Events   *EventSink
	Metrics  Metrics
	Logger   *slog.Logger
	Backoff  []time.Duration
	// LookupConcurrency bounds parallel profile/listing lookups per projection.
	LookupConcurrency int
}

func NewService(cfg ServiceConfig) *Service {
	return &Service{
		Store: cfg.Store,
		Resolver: &Resolver{
			Conversations: cfg.Store,
			Events:        cfg.Events,
			Logger:        cfg.Logger,
		},
		Sender: &MessageSender{
			Conversations: cfg.Store,
			Log:           cfg.Store,
			Events:        cfg.Events,
			Metrics:       cfg.Metrics,
			Logger:        cfg.Logger,
		},
		Projector: &Projector{
			Profiles:    cfg.Profiles,
			Listings:    cfg.Listings,
			Metrics:     cfg.Metrics,
			Logger:      cfg.Logger,
			Concurrency: cfg.LookupConcurrency,
		},
		Events:  cfg.Events,
		Metrics: cfg.Metrics,
		Logger:  cfg.Logger,
		Backoff: cfg.Backoff,
	}
}

func (s *Service) GetOrCreate(ctx context.Context, other domainchat.UserID, listing domainchat.ListingID) (domainchat.ConversationID, error) {
	return s.Resolver.GetOrCreate(ctx, other, listing)
}

func (s *Service) Send(ctx context.Context, id domainchat.ConversationID, out Outgoing) (SendResult, error) {
	return s.Sender.Send(ctx, id, out)
}

// Conversation returns the conversation if the caller participates in it.
func (s *Service) Conversation(ctx context.Context, id domainchat.ConversationID) (domainchat.Conversation, error) {
	self, err := requireUser(ctx)
	if err != nil {
		return domainchat.Conversation{}, err
	}
	return s.authorize(ctx, self, id)
}

// Summaries projects the caller's inbox once.
func (s *Service) Summaries(ctx context.Context) ([]domainchat.Summary, error) {
	self, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	if s.Store == nil {
		return nil, storeUnavailable("list conversations", errors.New("store not configured"))
	}
	convs, err := s.Store.ConversationsFor(ctx, self)
	if err != nil {
		return nil, storeUnavailable("list conversations", err)
	}
	return s.Projector.Project(ctx, self, convs), nil
}

// History returns the ordered, duplicate-free message log.
func (s *Service) History(ctx context.Context, id domainchat.ConversationID) ([]domainchat.Message, error) {
	self, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.authorize(ctx, self, id); err != nil {
		return nil, err
	}
	raw, err := s.Store.Messages(ctx, id)
	if err != nil {
		return nil, storeUnavailable("list messages", err)
	}
	messages, _ := domainchat.MergeSnapshot(nil, raw)
	return messages, nil
}

// DeleteConversation hard-deletes the conversation document. The message
// log is left to the store.
func (s *Service) DeleteConversation(ctx context.Context, id domainchat.ConversationID) error {
	self, err := requireUser(ctx)
	if err != nil {
		return err
	}
	conv, err := s.authorize(ctx, self, id)
	if err != nil {
		return err
	}
	if err := s.Store.DeleteConversation(ctx, conv.ID); err != nil {
		if errors.Is(err, domainchat.ErrConversationNotFound) {
			return precondition(err)
		}
		return storeUnavailable("delete conversation", err)
	}
	if s.Logger != nil {
		s.Logger.Info("conversation deleted", "conversation_id", conv.ID, "user_id", self)
	}
	s.Events.record(ctx, domainchat.ConversationDeleted{
		ConversationID: conv.ID,
		DeletedBy:      self,
		At:             s.now().UTC(),
	})
	return nil
}

// OpenConversation checks access and starts a chat view.
func (s *Service) OpenConversation(ctx context.Context, id domainchat.ConversationID, onUpdate func(Update)) (*Aggregator, error) {
	self, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	conv, err := s.authorize(ctx, self, id)
	if err != nil {
		return nil, err
	}
	agg := NewAggregator(s.Store, conv.ID, onUpdate, AggregatorOptions{
		Backoff: s.Backoff,
		Metrics: s.Metrics,
		Logger:  s.Logger,
	})
	if err := agg.Start(ctx); err != nil {
		return nil, err
	}
	return agg, nil
}

// OpenInbox starts the caller's live inbox view.
func (s *Service) OpenInbox(ctx context.Context, onUpdate func(InboxUpdate)) (*SummaryWatcher, error) {
	if _, err := requireUser(ctx); err != nil {
		return nil, err
	}
	w := NewSummaryWatcher(s.Store, s.Projector, onUpdate, AggregatorOptions{
		Backoff: s.Backoff,
		Metrics: s.Metrics,
		Logger:  s.Logger,
	})
	if err := w.Start(ctx); err != nil {
		return nil, err
	}
	return w, nil
}

func (s *Service) authorize(ctx context.Context, self domainchat.UserID, id domainchat.ConversationID) (domainchat.Conversation, error) {
	id = domainchat.ConversationID(strings.TrimSpace(string(id)))
	if id == "" {
		return domainchat.Conversation{}, precondition(domainchat.ErrConversationNotFound)
	}
	if s.Store == nil {
		return domainchat.Conversation{}, storeUnavailable("load conversation", errors.New("store not configured"))
	}
	conv, err := s.Store.Conversation(ctx, id)
	if err != nil {
		if errors.Is(err, domainchat.ErrConversationNotFound) {
			return domainchat.Conversation{}, precondition(err)
		}
		return domainchat.Conversation{}, storeUnavailable("load conversation", err)
	}
	if !conv.HasParticipant(self) {
		return domainchat.Conversation{}, precondition(domainchat.ErrNotParticipant)
	}
	return conv, nil
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
