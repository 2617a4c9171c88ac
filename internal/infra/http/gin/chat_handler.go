package ginserver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	gin "github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	appchat "marketchat/internal/app/chat"
	"marketchat/internal/app/dto"
	domainchat "marketchat/internal/domain/chat"
	"marketchat/internal/infra/storage/s3"
)

const (
	defaultMaxImageBytes = 10 << 20
	imageMessageText     = "Photo"

	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	sseKeepAlive = 25 * time.Second

	refreshFrame = "refresh"
)

// ImageUploader stores a chat attachment and returns its public URL.
type ImageUploader interface {
	UploadImage(ctx context.Context, conversation string, reader io.Reader, size int64, contentType string) (string, error)
}

var _ ImageUploader = (*s3.ImageStore)(nil)

// ChatHandler bridges HTTP with the chat service.
type ChatHandler struct {
	Service *appchat.Service
	// Profiles fills the sender's display data on outgoing messages.
	Profiles      appchat.ProfileLookup
	Images        ImageUploader
	MaxImageBytes int64
	Upgrader      websocket.Upgrader
	Logger        *slog.Logger
}

// CreateConversation resolves the caller's conversation with another user.
func (h ChatHandler) CreateConversation(c *gin.Context) {
	principal, ok := requireUser(c)
	if !ok || !h.available(c) {
		return
	}
	var req struct {
		OtherUserID string `json:"other_user_id"`
		ListingID   string `json:"listing_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	id, err := h.Service.GetOrCreate(c.Request.Context(), domainchat.UserID(req.OtherUserID), domainchat.ListingID(strings.TrimSpace(req.ListingID)))
	if err != nil {
		h.respondChatError(c, err, "get or create conversation", nil, "user_id", principal.ID, "peer_id", req.OtherUserID)
		return
	}
	c.JSON(http.StatusOK, dto.ConversationRef{ID: string(id)})
}

// ListConversations returns the caller's inbox.
func (h ChatHandler) ListConversations(c *gin.Context) {
	principal, ok := requireUser(c)
	if !ok || !h.available(c) {
		return
	}
	summaries, err := h.Service.Summaries(c.Request.Context())
	if err != nil {
		h.respondChatError(c, err, "list conversations", nil, "user_id", principal.ID)
		return
	}
	c.JSON(http.StatusOK, dto.ConversationList{Items: toSummaries(summaries)})
}

// StreamConversations pushes the caller's inbox as server-sent events until
// the client goes away.
func (h ChatHandler) StreamConversations(c *gin.Context) {
	principal, ok := requireUser(c)
	if !ok || !h.available(c) {
		return
	}
	ctx := c.Request.Context()
	frames := newLatest[dto.InboxStreamFrame](nil)
	watcher, err := h.Service.OpenInbox(ctx, func(u appchat.InboxUpdate) {
		frame := dto.InboxStreamFrame{Items: toSummaries(u.Summaries)}
		if u.Err != nil {
			frame.Error = "stream error"
		}
		frames.put(frame)
	})
	if err != nil {
		h.respondChatError(c, err, "open inbox", nil, "user_id", principal.ID)
		return
	}
	defer watcher.Stop()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-frames.ch:
			c.SSEvent("conversations", frame)
		case <-keepAlive.C:
			c.SSEvent("ping", "")
		}
		c.Writer.Flush()
	}
}

// DeleteConversation removes a conversation the caller participates in.
func (h ChatHandler) DeleteConversation(c *gin.Context) {
	principal, ok := requireUser(c)
	if !ok || !h.available(c) {
		return
	}
	id := domainchat.ConversationID(strings.TrimSpace(c.Param("id")))
	if err := h.Service.DeleteConversation(c.Request.Context(), id); err != nil {
		h.respondChatError(c, err, "delete conversation", nil, "conversation_id", id, "user_id", principal.ID)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListMessages returns the ordered message log of a conversation.
func (h ChatHandler) ListMessages(c *gin.Context) {
	principal, ok := requireUser(c)
	if !ok || !h.available(c) {
		return
	}
	id := domainchat.ConversationID(strings.TrimSpace(c.Param("id")))
	messages, err := h.Service.History(c.Request.Context(), id)
	if err != nil {
		h.respondChatError(c, err, "list messages", nil, "conversation_id", id, "user_id", principal.ID)
		return
	}
	c.JSON(http.StatusOK, dto.ChatMessageList{Items: toChatMessages(messages)})
}

// SendMessage posts a text message. A repeated Idempotency-Key returns the
// original message.
func (h ChatHandler) SendMessage(c *gin.Context) {
	principal, ok := requireUser(c)
	if !ok || !h.available(c) {
		return
	}
	var req struct {
		Text         string `json:"text"`
		ListingID    string `json:"listing_id"`
		ListingTitle string `json:"listing_title"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	h.send(c, principal, appchat.Outgoing{
		Key:          c.GetHeader("Idempotency-Key"),
		Text:         req.Text,
		ListingID:    domainchat.ListingID(req.ListingID),
		ListingTitle: req.ListingTitle,
	})
}

// SendImage uploads the multipart "image" part and posts it as a message.
func (h ChatHandler) SendImage(c *gin.Context) {
	principal, ok := requireUser(c)
	if !ok || !h.available(c) {
		return
	}
	if h.Images == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "image upload unavailable"})
		return
	}
	ctx := c.Request.Context()
	id := domainchat.ConversationID(strings.TrimSpace(c.Param("id")))
	if _, err := h.Service.Conversation(ctx, id); err != nil {
		h.respondChatError(c, err, "load conversation", nil, "conversation_id", id, "user_id", principal.ID)
		return
	}

	file, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image is required"})
		return
	}
	if file.Size > h.maxImageBytes() {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large"})
		return
	}
	reader, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read image"})
		return
	}
	defer reader.Close()

	url, err := h.Images.UploadImage(ctx, string(id), reader, file.Size, file.Header.Get("Content-Type"))
	if err != nil {
		if errors.Is(err, s3.ErrUnsupportedImage) {
			c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "unsupported image type"})
			return
		}
		h.logError("image upload failed", err, "conversation_id", id, "user_id", principal.ID)
		c.JSON(http.StatusBadGateway, gin.H{"error": "image upload failed"})
		return
	}
	text := strings.TrimSpace(c.PostForm("text"))
	if text == "" {
		text = imageMessageText
	}
	h.send(c, principal, appchat.Outgoing{
		Key:   c.GetHeader("Idempotency-Key"),
		Text:  text,
		Image: url,
	})
}

func (h ChatHandler) send(c *gin.Context, principal principal, out appchat.Outgoing) {
	ctx := c.Request.Context()
	id := domainchat.ConversationID(strings.TrimSpace(c.Param("id")))
	out.Sender = h.sender(ctx, principal.ID)
	res, err := h.Service.Send(ctx, id, out)
	if err != nil {
		h.respondChatError(c, err, "send message", gin.H{"text": out.Text}, "conversation_id", id, "user_id", principal.ID)
		return
	}
	body := dto.SentMessage{ChatMessage: toChatMessage(res.Message)}
	if res.Warning != nil {
		body.Warning = "message sent, conversation preview not updated"
	}
	c.JSON(http.StatusCreated, body)
}

func (h ChatHandler) sender(ctx context.Context, id domainchat.UserID) domainchat.Sender {
	if h.Profiles == nil {
		return domainchat.Sender{ID: id}
	}
	profile, err := h.Profiles.Profile(ctx, id)
	if err != nil {
		h.logDebug("sender profile lookup failed", "user_id", id, "error", err)
		return domainchat.Sender{ID: id}
	}
	return domainchat.Sender{ID: id, Name: profile.Name, Avatar: profile.Avatar}
}

// StreamMessages upgrades to a websocket and pushes the conversation's
// live message log. A "refresh" text frame from the client replaces the
// underlying subscription.
func (h ChatHandler) StreamMessages(c *gin.Context) {
	principal, ok := requireUser(c)
	if !ok || !h.available(c) {
		return
	}
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	id := domainchat.ConversationID(strings.TrimSpace(c.Param("id")))

	frames := newLatest(mergeChatFrames)
	agg, err := h.Service.OpenConversation(ctx, id, func(u appchat.Update) {
		frame := dto.ChatStreamFrame{
			Messages:       toChatMessages(u.Messages),
			Added:          u.Added,
			ScrollToLatest: u.ScrollToLatest,
		}
		if u.Err != nil {
			frame.Error = "stream error"
		}
		frames.put(frame)
	})
	if err != nil {
		h.respondChatError(c, err, "open conversation", nil, "conversation_id", id, "user_id", principal.ID)
		return
	}
	defer agg.Stop()

	conn, err := h.Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logDebug("websocket upgrade failed", "conversation_id", id, "error", err)
		return
	}
	defer conn.Close()

	refresh := make(chan struct{}, 1)
	go h.readFrames(conn, cancel, refresh)

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteWait))
			return
		case <-refresh:
			if err := agg.Refresh(); err != nil {
				h.logDebug("refresh failed", "conversation_id", id, "error", err)
			}
		case frame := <-frames.ch:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(frame); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

func (h ChatHandler) readFrames(conn *websocket.Conn, cancel context.CancelFunc, refresh chan<- struct{}) {
	defer cancel()
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if kind == websocket.TextMessage && strings.TrimSpace(string(data)) == refreshFrame {
			select {
			case refresh <- struct{}{}:
			default:
			}
		}
	}
}

func (h ChatHandler) available(c *gin.Context) bool {
	if h.Service == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "chat unavailable"})
		return false
	}
	return true
}

func (h ChatHandler) maxImageBytes() int64 {
	if h.MaxImageBytes > 0 {
		return h.MaxImageBytes
	}
	return defaultMaxImageBytes
}

// respondChatError maps chat errors to status codes. extra is merged into
// the body of store failures so the client can restore its draft.
func (h ChatHandler) respondChatError(c *gin.Context, err error, action string, extra gin.H, attrs ...any) {
	switch {
	case errors.Is(err, domainchat.ErrIdentityRequired):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "auth required"})
	case errors.Is(err, domainchat.ErrNotParticipant):
		c.JSON(http.StatusForbidden, gin.H{"error": "not a chat participant"})
	case errors.Is(err, domainchat.ErrConversationNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
	case errors.Is(err, domainchat.ErrPreconditionFailed):
		c.JSON(http.StatusBadRequest, gin.H{"error": preconditionMessage(err)})
	case errors.Is(err, domainchat.ErrStoreUnavailable), errors.Is(err, domainchat.ErrSendFailed):
		h.logError("chat call failed", err, append([]any{"action", action}, attrs...)...)
		body := gin.H{"error": "chat unavailable"}
		for k, v := range extra {
			body[k] = v
		}
		c.JSON(http.StatusServiceUnavailable, body)
	default:
		h.logError("chat call failed", err, append([]any{"action", action}, attrs...)...)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func preconditionMessage(err error) string {
	switch {
	case errors.Is(err, domainchat.ErrTextRequired):
		return "text is required"
	case errors.Is(err, domainchat.ErrParticipantsInvalid):
		return "other_user_id must name another user"
	default:
		return "invalid request"
	}
}

func (h ChatHandler) logError(msg string, err error, attrs ...any) {
	if h.Logger != nil {
		h.Logger.Error(msg, append([]any{"error", err}, attrs...)...)
	}
}

func (h ChatHandler) logDebug(msg string, attrs ...any) {
	if h.Logger != nil {
		h.Logger.Debug(msg, attrs...)
	}
}

var _ ChatHTTP = ChatHandler{}
