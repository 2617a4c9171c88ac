package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	appchat "marketchat/internal/app/chat"
	"marketchat/internal/app/stream"
	domainchat "marketchat/internal/domain/chat"
)

const feedBuffer = 4

// Store keeps conversations and their message logs in memory and serves
// live queries to subscribers. Not suitable for production.
type Store struct {
	mu            sync.RWMutex
	order         []domainchat.ConversationID
	conversations map[domainchat.ConversationID]domainchat.Conversation
	messages      map[domainchat.ConversationID][]domainchat.Message
	keys          map[domainchat.ConversationID]map[string]domainchat.MessageID
	messageFeeds  map[domainchat.ConversationID]map[uint64]*stream.Feed[[]domainchat.Message]
	inboxFeeds    map[domainchat.UserID]map[uint64]*stream.Feed[[]domainchat.Conversation]
	nextFeed      uint64
	lastStamp     time.Time

	faults *Faults
	now    func() time.Time
	newID  func() string
}

type Option func(*Store)

// WithClock overrides the time source used for server timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDs overrides id generation for conversations and messages.
func WithIDs(gen func() string) Option {
	return func(s *Store) { s.newID = gen }
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		conversations: make(map[domainchat.ConversationID]domainchat.Conversation),
		messages:      make(map[domainchat.ConversationID][]domainchat.Message),
		keys:          make(map[domainchat.ConversationID]map[string]domainchat.MessageID),
		messageFeeds:  make(map[domainchat.ConversationID]map[uint64]*stream.Feed[[]domainchat.Message]),
		inboxFeeds:    make(map[domainchat.UserID]map[uint64]*stream.Feed[[]domainchat.Conversation]),
		faults:        NewFaults(),
		now:           time.Now,
		newID:         uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Faults exposes the store's fault injector.
func (s *Store) Faults() *Faults { return s.faults }

func (s *Store) ConversationsFor(ctx context.Context, user domainchat.UserID) ([]domainchat.Conversation, error) {
	if err := s.faults.before(OpListConversations); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conversationsForLocked(user), nil
}

func (s *Store) Conversation(ctx context.Context, id domainchat.ConversationID) (domainchat.Conversation, error) {
	if err := s.faults.before(OpGetConversation); err != nil {
		return domainchat.Conversation{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	if !ok {
		return domainchat.Conversation{}, domainchat.ErrConversationNotFound
	}
	return conv.Clone(), nil
}

func (s *Store) CreateConversation(ctx context.Context, conv domainchat.Conversation) (domainchat.Conversation, error) {
	if err := s.faults.before(OpCreateConversation); err != nil {
		return domainchat.Conversation{}, err
	}
	s.mu.Lock()
	conv = conv.Clone()
	if conv.ID == "" {
		conv.ID = domainchat.ConversationID(s.newID())
	}
	stamp := s.stampLocked()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = stamp
	}
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = conv.CreatedAt
	}
	if _, exists := s.conversations[conv.ID]; !exists {
		s.order = append(s.order, conv.ID)
	}
	s.conversations[conv.ID] = conv
	s.publishInboxLocked(conv.Participants)
	s.mu.Unlock()
	return conv.Clone(), s.faults.after(OpCreateConversation)
}

func (s *Store) UpdateConversationMeta(ctx context.Context, id domainchat.ConversationID, update domainchat.MetaUpdate) error {
	if err := s.faults.before(OpUpdateMeta); err != nil {
		return err
	}
	s.mu.Lock()
	conv, ok := s.conversations[id]
	if !ok {
		s.mu.Unlock()
		return domainchat.ErrConversationNotFound
	}
	conv.Apply(update)
	s.conversations[id] = conv
	s.publishInboxLocked(conv.Participants)
	s.mu.Unlock()
	return s.faults.after(OpUpdateMeta)
}

// DeleteConversation removes the conversation document. The message log is
// kept, as in document stores where sub-collections survive their parent.
func (s *Store) DeleteConversation(ctx context.Context, id domainchat.ConversationID) error {
	if err := s.faults.before(OpDeleteConversation); err != nil {
		return err
	}
	s.mu.Lock()
	conv, ok := s.conversations[id]
	if !ok {
		s.mu.Unlock()
		return domainchat.ErrConversationNotFound
	}
	delete(s.conversations, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.publishInboxLocked(conv.Participants)
	s.mu.Unlock()
	return nil
}

func (s *Store) AppendMessage(ctx context.Context, id domainchat.ConversationID, draft domainchat.Draft) (domainchat.Message, error) {
	return s.append(OpAppend, id, draft)
}

func (s *Store) AppendMessageDirect(ctx context.Context, id domainchat.ConversationID, draft domainchat.Draft) (domainchat.Message, error) {
	return s.append(OpAppendDirect, id, draft)
}

func (s *Store) append(op Op, id domainchat.ConversationID, draft domainchat.Draft) (domainchat.Message, error) {
	if err := s.faults.before(op); err != nil {
		return domainchat.Message{}, err
	}
	s.mu.Lock()
	if _, ok := s.conversations[id]; !ok {
		s.mu.Unlock()
		return domainchat.Message{}, domainchat.ErrConversationNotFound
	}
	if draft.Key != "" {
		if existing, ok := s.keys[id][draft.Key]; ok {
			for _, msg := range s.messages[id] {
				if msg.ID == existing {
					s.mu.Unlock()
					return msg, s.faults.after(op)
				}
			}
		}
	}
	msg := draft.Materialize(domainchat.MessageID(s.newID()), id, s.stampLocked())
	s.messages[id] = append(s.messages[id], msg)
	if draft.Key != "" {
		if s.keys[id] == nil {
			s.keys[id] = make(map[string]domainchat.MessageID)
		}
		s.keys[id][draft.Key] = msg.ID
	}
	s.publishMessagesLocked(id)
	s.mu.Unlock()
	return msg, s.faults.after(op)
}

func (s *Store) Messages(ctx context.Context, id domainchat.ConversationID) ([]domainchat.Message, error) {
	if err := s.faults.before(OpListMessages); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domainchat.Message(nil), s.messages[id]...), nil
}

func (s *Store) SubscribeMessages(ctx context.Context, id domainchat.ConversationID) (stream.Subscription[[]domainchat.Message], error) {
	if err := s.faults.before(OpSubscribe); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextFeed++
	key := s.nextFeed
	feed := stream.NewFeed[[]domainchat.Message](feedBuffer, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.messageFeeds[id], key)
	})
	if s.messageFeeds[id] == nil {
		s.messageFeeds[id] = make(map[uint64]*stream.Feed[[]domainchat.Message])
	}
	s.messageFeeds[id][key] = feed
	feed.Snapshot(append([]domainchat.Message(nil), s.messages[id]...))
	return feed, nil
}

func (s *Store) SubscribeConversations(ctx context.Context, user domainchat.UserID) (stream.Subscription[[]domainchat.Conversation], error) {
	if err := s.faults.before(OpSubscribe); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextFeed++
	key := s.nextFeed
	feed := stream.NewFeed[[]domainchat.Conversation](feedBuffer, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.inboxFeeds[user], key)
	})
	if s.inboxFeeds[user] == nil {
		s.inboxFeeds[user] = make(map[uint64]*stream.Feed[[]domainchat.Conversation])
	}
	s.inboxFeeds[user][key] = feed
	feed.Snapshot(s.conversationsForLocked(user))
	return feed, nil
}

// EmitStreamError delivers err to every open subscription, simulating a
// transport failure of the live queries.
func (s *Store) EmitStreamError(err error) {
	s.mu.RLock()
	var msgFeeds []*stream.Feed[[]domainchat.Message]
	var convFeeds []*stream.Feed[[]domainchat.Conversation]
	for _, feeds := range s.messageFeeds {
		for _, f := range feeds {
			msgFeeds = append(msgFeeds, f)
		}
	}
	for _, feeds := range s.inboxFeeds {
		for _, f := range feeds {
			convFeeds = append(convFeeds, f)
		}
	}
	s.mu.RUnlock()
	for _, f := range msgFeeds {
		f.Fail(err)
	}
	for _, f := range convFeeds {
		f.Fail(err)
	}
}

// Redeliver republishes the current message log to the conversation's
// subscribers, simulating an at-least-once duplicate delivery.
func (s *Store) Redeliver(id domainchat.ConversationID) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.publishMessagesLocked(id)
}

// Subscribers reports open subscriptions, for leak checks.
func (s *Store) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, feeds := range s.messageFeeds {
		n += len(feeds)
	}
	for _, feeds := range s.inboxFeeds {
		n += len(feeds)
	}
	return n
}

func (s *Store) conversationsForLocked(user domainchat.UserID) []domainchat.Conversation {
	out := make([]domainchat.Conversation, 0)
	for _, id := range s.order {
		conv := s.conversations[id]
		if conv.HasParticipant(user) {
			out = append(out, conv.Clone())
		}
	}
	return out
}

// stampLocked returns a strictly increasing server timestamp.
func (s *Store) stampLocked() time.Time {
	now := s.now().UTC()
	if !now.After(s.lastStamp) {
		now = s.lastStamp.Add(time.Nanosecond)
	}
	s.lastStamp = now
	return now
}

// Snapshots are published while the store lock is held so every feed sees
// them in write order. Feed.Publish never blocks.
func (s *Store) publishMessagesLocked(id domainchat.ConversationID) {
	for _, feed := range s.messageFeeds[id] {
		feed.Snapshot(append([]domainchat.Message(nil), s.messages[id]...))
	}
}

func (s *Store) publishInboxLocked(users []domainchat.UserID) {
	for _, user := range users {
		for _, feed := range s.inboxFeeds[user] {
			feed.Snapshot(s.conversationsForLocked(user))
		}
	}
}

var _ appchat.Store = (*Store)(nil)
