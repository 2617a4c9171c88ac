package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	appchat "marketchat/internal/app/chat"
	"marketchat/internal/app/stream"
	domainchat "marketchat/internal/domain/chat"
)

const (
	conversationsCollection = "conversations"
	messagesCollection      = "messages"
)

// ChatStore keeps conversation documents in one collection and their message
// logs in another, keyed by conversation id. Live queries use change streams.
type ChatStore struct {
	conversations *mongo.Collection
	messages      *mongo.Collection
	logger        *slog.Logger
	now           func() time.Time
	newID         func() string
}

func NewChatStore(ctx context.Context, db *mongo.Database, logger *slog.Logger) (*ChatStore, error) {
	s := &ChatStore{
		conversations: db.Collection(conversationsCollection),
		messages:      db.Collection(messagesCollection),
		logger:        logger,
		now:           time.Now,
		newID:         uuid.NewString,
	}
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ChatStore) ensureIndexes(ctx context.Context) error {
	_, err := s.conversations.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "participants", Value: 1}, {Key: "created_at", Value: 1}}},
		{Keys: bson.D{{Key: "participants", Value: 1}, {Key: "updated_at", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("conversation indexes: %w", err)
	}
	_, err = s.messages.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}},
		{
			Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "draft_key", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"draft_key": bson.M{"$exists": true}}),
		},
	})
	if err != nil {
		return fmt.Errorf("message indexes: %w", err)
	}
	return nil
}

func (s *ChatStore) ConversationsFor(ctx context.Context, user domainchat.UserID) ([]domainchat.Conversation, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.conversations.Find(ctx, bson.M{"participants": string(user)}, opts)
	if err != nil {
		return nil, classify(err)
	}
	var docs []conversationDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, classify(err)
	}
	out := make([]domainchat.Conversation, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toDomain())
	}
	return out, nil
}

func (s *ChatStore) Conversation(ctx context.Context, id domainchat.ConversationID) (domainchat.Conversation, error) {
	var doc conversationDocument
	if err := s.conversations.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domainchat.Conversation{}, domainchat.ErrConversationNotFound
		}
		return domainchat.Conversation{}, classify(err)
	}
	return doc.toDomain(), nil
}

func (s *ChatStore) CreateConversation(ctx context.Context, conv domainchat.Conversation) (domainchat.Conversation, error) {
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
	if _, err := s.conversations.InsertOne(ctx, newConversationDocument(conv)); err != nil {
		return domainchat.Conversation{}, classify(err)
	}
	return conv, nil
}

func (s *ChatStore) UpdateConversationMeta(ctx context.Context, id domainchat.ConversationID, update domainchat.MetaUpdate) error {
	set := bson.M{
		"last_message":      newLastMessageDocument(update.LastMessage),
		"last_message_time": update.LastMessageTime.UTC(),
		"updated_at":        update.UpdatedAt.UTC(),
	}
	if update.ListingID != "" {
		set["listing_id"] = string(update.ListingID)
	}
	if update.ListingTitle != "" {
		set["listing_title"] = update.ListingTitle
	}
	res, err := s.conversations.UpdateByID(ctx, string(id), bson.M{"$set": set})
	if err != nil {
		return classify(err)
	}
	if res.MatchedCount == 0 {
		return domainchat.ErrConversationNotFound
	}
	return nil
}

// DeleteConversation removes the conversation document only. Its messages
// stay in the message collection.
func (s *ChatStore) DeleteConversation(ctx context.Context, id domainchat.ConversationID) error {
	res, err := s.conversations.DeleteOne(ctx, bson.M{"_id": string(id)})
	if err != nil {
		return classify(err)
	}
	if res.DeletedCount == 0 {
		return domainchat.ErrConversationNotFound
	}
	return nil
}

// AppendMessage checks the conversation exists and upserts the message on
// its draft key, so a repeated key returns the stored message.
func (s *ChatStore) AppendMessage(ctx context.Context, id domainchat.ConversationID, draft domainchat.Draft) (domainchat.Message, error) {
	n, err := s.conversations.CountDocuments(ctx, bson.M{"_id": string(id)}, options.Count().SetLimit(1))
	if err != nil {
		return domainchat.Message{}, classify(err)
	}
	if n == 0 {
		return domainchat.Message{}, domainchat.ErrConversationNotFound
	}
	doc := newMessageDocument(s.newID(), id, draft, s.now())
	if draft.Key == "" {
		return s.insertMessage(ctx, doc)
	}
	filter := bson.M{"conversation_id": doc.ConversationID, "draft_key": doc.DraftKey}
	insert := bson.M{
		"_id":        doc.ID,
		"text":       doc.Text,
		"user":       doc.Sender,
		"created_at": doc.CreatedAt,
	}
	if doc.Image != "" {
		insert["image"] = doc.Image
	}
	if doc.System {
		insert["system"] = true
	}
	update := bson.M{"$setOnInsert": insert}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var stored messageDocument
	if err := s.messages.FindOneAndUpdate(ctx, filter, update, opts).Decode(&stored); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return s.messageByKey(ctx, id, draft.Key)
		}
		return domainchat.Message{}, classify(err)
	}
	return stored.toDomain(), nil
}

// AppendMessageDirect inserts the message without the existence check.
func (s *ChatStore) AppendMessageDirect(ctx context.Context, id domainchat.ConversationID, draft domainchat.Draft) (domainchat.Message, error) {
	return s.insertMessage(ctx, newMessageDocument(s.newID(), id, draft, s.now()))
}

func (s *ChatStore) insertMessage(ctx context.Context, doc messageDocument) (domainchat.Message, error) {
	if _, err := s.messages.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) && doc.DraftKey != "" {
			return s.messageByKey(ctx, domainchat.ConversationID(doc.ConversationID), doc.DraftKey)
		}
		return domainchat.Message{}, classify(err)
	}
	return doc.toDomain(), nil
}

func (s *ChatStore) messageByKey(ctx context.Context, id domainchat.ConversationID, key string) (domainchat.Message, error) {
	var doc messageDocument
	if err := s.messages.FindOne(ctx, bson.M{"conversation_id": string(id), "draft_key": key}).Decode(&doc); err != nil {
		return domainchat.Message{}, classify(err)
	}
	return doc.toDomain(), nil
}

func (s *ChatStore) Messages(ctx context.Context, id domainchat.ConversationID) ([]domainchat.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.messages.Find(ctx, bson.M{"conversation_id": string(id)}, opts)
	if err != nil {
		return nil, classify(err)
	}
	var docs []messageDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, classify(err)
	}
	out := make([]domainchat.Message, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toDomain())
	}
	return out, nil
}

func (s *ChatStore) SubscribeMessages(ctx context.Context, id domainchat.ConversationID) (stream.Subscription[[]domainchat.Message], error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"fullDocument.conversation_id": string(id)}}},
	}
	return watch(ctx, s.logger, watchSpec[[]domainchat.Message]{
		name:       "messages",
		collection: s.messages,
		pipeline:   pipeline,
		load: func(ctx context.Context) ([]domainchat.Message, error) {
			return s.Messages(ctx, id)
		},
	})
}

func (s *ChatStore) SubscribeConversations(ctx context.Context, user domainchat.UserID) (stream.Subscription[[]domainchat.Conversation], error) {
	// Deletes carry no full document, so every delete re-runs the query.
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"$or": bson.A{
			bson.M{"fullDocument.participants": string(user)},
			bson.M{"operationType": "delete"},
		}}}},
	}
	return watch(ctx, s.logger, watchSpec[[]domainchat.Conversation]{
		name:       "conversations",
		collection: s.conversations,
		pipeline:   pipeline,
		lookup:     true,
		load: func(ctx context.Context) ([]domainchat.Conversation, error) {
			return s.ConversationsFor(ctx, user)
		},
	})
}

// classify marks failures that were rejected before reaching the server as
// transient, so callers may take the direct-append path.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if mongo.IsTimeout(err) || mongo.IsNetworkError(err) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", domainchat.ErrTransient, err)
	}
	return err
}

var _ appchat.Store = (*ChatStore)(nil)
