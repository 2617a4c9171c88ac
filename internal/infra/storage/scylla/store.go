package scylla

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	appchat "marketchat/internal/app/chat"
	"marketchat/internal/app/stream"
	domainchat "marketchat/internal/domain/chat"
)

var errNoSession = errors.New("scylla session not initialized")

const conversationColumns = `id, participants, listing_id, listing_title, last_message_text, last_message_sender_id, last_message_sender_name, last_message_sender_avatar, last_message_at, created_at, updated_at`

const messageColumns = `conversation_id, created_at, message_id, text, sender_id, sender_name, sender_avatar, image, system`

// Store keeps conversations and message logs in Scylla. Live queries are
// served by polling, since Scylla has no change feed the driver can follow.
type Store struct {
	session      *gocql.Session
	logger       *slog.Logger
	pollInterval time.Duration
	now          func() time.Time
	newID        func() string
}

func NewStore(session *gocql.Session, pollInterval time.Duration, logger *slog.Logger) *Store {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Store{
		session:      session,
		logger:       logger,
		pollInterval: pollInterval,
		now:          time.Now,
		newID:        uuid.NewString,
	}
}

func (s *Store) ConversationsFor(ctx context.Context, user domainchat.UserID) ([]domainchat.Conversation, error) {
	if s.session == nil {
		return nil, errNoSession
	}
	iter := s.session.
		Query(`SELECT `+conversationColumns+` FROM conversations WHERE participants CONTAINS ? ALLOW FILTERING`, string(user)).
		WithContext(ctx).
		Consistency(gocql.One).
		Iter()
	conversations := make([]domainchat.Conversation, 0)
	var row conversationRow
	for iter.Scan(row.dest()...) {
		conversations = append(conversations, row.toDomain())
		row = conversationRow{}
	}
	if err := iter.Close(); err != nil {
		return nil, classify(err)
	}
	sort.SliceStable(conversations, func(i, j int) bool {
		a, b := conversations[i], conversations[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return conversations, nil
}

func (s *Store) Conversation(ctx context.Context, id domainchat.ConversationID) (domainchat.Conversation, error) {
	if s.session == nil {
		return domainchat.Conversation{}, errNoSession
	}
	var row conversationRow
	err := s.session.
		Query(`SELECT `+conversationColumns+` FROM conversations WHERE id = ? LIMIT 1`, string(id)).
		WithContext(ctx).
		Consistency(gocql.One).
		Scan(row.dest()...)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return domainchat.Conversation{}, domainchat.ErrConversationNotFound
		}
		return domainchat.Conversation{}, classify(err)
	}
	return row.toDomain(), nil
}

func (s *Store) CreateConversation(ctx context.Context, conv domainchat.Conversation) (domainchat.Conversation, error) {
	if s.session == nil {
		return domainchat.Conversation{}, errNoSession
	}
	if conv.ID == "" {
		conv.ID = domainchat.ConversationID(s.newID())
	}
	now := s.now().UTC()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = conv.CreatedAt
	}
	conv.Participants = domainchat.NormalizeParticipants(conv.Participants)
	if err := s.session.
		Query(`INSERT INTO conversations (id, participants, listing_id, listing_title, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
			string(conv.ID), userIDs(conv.Participants), string(conv.ListingID), conv.ListingTitle, conv.CreatedAt, conv.UpdatedAt).
		WithContext(ctx).
		Consistency(gocql.Quorum).
		Exec(); err != nil {
		return domainchat.Conversation{}, classify(err)
	}
	return conv, nil
}

func (s *Store) UpdateConversationMeta(ctx context.Context, id domainchat.ConversationID, update domainchat.MetaUpdate) error {
	if s.session == nil {
		return errNoSession
	}
	assignments := []string{
		"last_message_text = ?",
		"last_message_sender_id = ?",
		"last_message_sender_name = ?",
		"last_message_sender_avatar = ?",
		"last_message_at = ?",
		"updated_at = ?",
	}
	last := update.LastMessage
	args := []interface{}{
		last.Text,
		string(last.Sender.ID),
		last.Sender.Name,
		last.Sender.Avatar,
		update.LastMessageTime.UTC(),
		update.UpdatedAt.UTC(),
	}
	if update.ListingID != "" {
		assignments = append(assignments, "listing_id = ?")
		args = append(args, string(update.ListingID))
	}
	if update.ListingTitle != "" {
		assignments = append(assignments, "listing_title = ?")
		args = append(args, update.ListingTitle)
	}
	args = append(args, string(id))
	cql := `UPDATE conversations SET ` + strings.Join(assignments, ", ") + ` WHERE id = ? IF EXISTS`
	applied, err := s.session.Query(cql, args...).WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return classify(err)
	}
	if !applied {
		return domainchat.ErrConversationNotFound
	}
	return nil
}

// DeleteConversation removes the conversation row. Message partitions are
// left in place.
func (s *Store) DeleteConversation(ctx context.Context, id domainchat.ConversationID) error {
	if s.session == nil {
		return errNoSession
	}
	applied, err := s.session.
		Query(`DELETE FROM conversations WHERE id = ? IF EXISTS`, string(id)).
		WithContext(ctx).
		MapScanCAS(map[string]interface{}{})
	if err != nil {
		return classify(err)
	}
	if !applied {
		return domainchat.ErrConversationNotFound
	}
	return nil
}

// AppendMessage checks the conversation exists before writing.
func (s *Store) AppendMessage(ctx context.Context, id domainchat.ConversationID, draft domainchat.Draft) (domainchat.Message, error) {
	if _, err := s.Conversation(ctx, id); err != nil {
		return domainchat.Message{}, err
	}
	return s.AppendMessageDirect(ctx, id, draft)
}

// AppendMessageDirect claims the draft key with a lightweight transaction and
// then writes the message row. A key claimed by an earlier attempt resolves
// to that attempt's id and timestamp, so the row is written at most once.
func (s *Store) AppendMessageDirect(ctx context.Context, id domainchat.ConversationID, draft domainchat.Draft) (domainchat.Message, error) {
	if s.session == nil {
		return domainchat.Message{}, errNoSession
	}
	msg := draft.Materialize(domainchat.MessageID(s.newID()), id, s.now())
	if draft.Key != "" {
		existing := map[string]interface{}{}
		applied, err := s.session.
			Query(`INSERT INTO message_keys (conversation_id, draft_key, message_id, created_at) VALUES (?, ?, ?, ?) IF NOT EXISTS`,
				string(id), draft.Key, string(msg.ID), msg.CreatedAt).
			WithContext(ctx).
			MapScanCAS(existing)
		if err != nil {
			return domainchat.Message{}, classify(err)
		}
		if !applied {
			if prior, ok := existing["message_id"].(string); ok && prior != "" {
				msg.ID = domainchat.MessageID(prior)
			}
			if at, ok := existing["created_at"].(time.Time); ok && !at.IsZero() {
				msg.CreatedAt = at.UTC()
			}
		}
	}
	if err := s.session.
		Query(`INSERT INTO messages (`+messageColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			string(id), msg.CreatedAt, string(msg.ID), msg.Text,
			string(msg.Sender.ID), msg.Sender.Name, msg.Sender.Avatar, msg.Image, msg.System).
		WithContext(ctx).
		Consistency(gocql.Quorum).
		Exec(); err != nil {
		return domainchat.Message{}, classify(err)
	}
	return msg, nil
}

func (s *Store) Messages(ctx context.Context, id domainchat.ConversationID) ([]domainchat.Message, error) {
	if s.session == nil {
		return nil, errNoSession
	}
	iter := s.session.
		Query(`SELECT `+messageColumns+` FROM messages WHERE conversation_id = ?`, string(id)).
		WithContext(ctx).
		Consistency(gocql.One).
		Iter()
	messages := make([]domainchat.Message, 0)
	var row messageRow
	for iter.Scan(row.dest()...) {
		messages = append(messages, row.toDomain())
		row = messageRow{}
	}
	if err := iter.Close(); err != nil {
		return nil, classify(err)
	}
	return messages, nil
}

func (s *Store) SubscribeMessages(ctx context.Context, id domainchat.ConversationID) (stream.Subscription[[]domainchat.Message], error) {
	return poll(ctx, s.pollInterval, s.logger, func(ctx context.Context) ([]domainchat.Message, error) {
		return s.Messages(ctx, id)
	}, messagesFingerprint)
}

func (s *Store) SubscribeConversations(ctx context.Context, user domainchat.UserID) (stream.Subscription[[]domainchat.Conversation], error) {
	return poll(ctx, s.pollInterval, s.logger, func(ctx context.Context) ([]domainchat.Conversation, error) {
		return s.ConversationsFor(ctx, user)
	}, conversationsFingerprint)
}

// classify marks driver failures where the coordinator could not be reached
// or did not answer in time.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var unavailable *gocql.RequestErrUnavailable
	switch {
	case errors.Is(err, gocql.ErrNoConnections),
		errors.Is(err, gocql.ErrTimeoutNoResponse),
		errors.Is(err, gocql.ErrConnectionClosed),
		errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &unavailable):
		return fmt.Errorf("%w: %w", domainchat.ErrTransient, err)
	}
	return err
}

func userIDs(ids []domainchat.UserID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, string(id))
	}
	return normalizeParticipants(out)
}

func normalizeParticipants(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

var _ appchat.Store = (*Store)(nil)
