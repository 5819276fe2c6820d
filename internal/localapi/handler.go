package localapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/EmirPirija/lmx-chat/internal/convlist"
	"github.com/EmirPirija/lmx-chat/internal/model"
	"github.com/EmirPirija/lmx-chat/internal/outbox"
	"github.com/EmirPirija/lmx-chat/internal/seen"
	"github.com/EmirPirija/lmx-chat/internal/status"
	"github.com/EmirPirija/lmx-chat/internal/store"
	"github.com/EmirPirija/lmx-chat/internal/thread"
)

// ChatCommander covers the backend chat management endpoints the local API
// proxies through.
type ChatCommander interface {
	MuteChat(ctx context.Context, conversationID int64) error
	UnmuteChat(ctx context.Context, conversationID int64) error
	ArchiveChat(ctx context.Context, conversationID int64) error
	UnarchiveChat(ctx context.Context, conversationID int64) error
	PinChat(ctx context.Context, conversationID int64) error
	UnpinChat(ctx context.Context, conversationID int64) error
	DeleteChat(ctx context.Context, conversationID int64) error
}

// Subscriber is the transport-side per-chat subscription surface.
type Subscriber interface {
	SubscribeToChat(conversationID int64) error
	UnsubscribeFromChat(conversationID int64) error
	SendTyping(conversationID int64, isTyping bool) error
}

// Handler exposes the daemon state over the loopback HTTP API.
type Handler struct {
	list    *convlist.Reconciler
	thread  *thread.Reconciler
	seen    *seen.Tracker
	outbox  *outbox.Sender
	api     ChatCommander
	subs    Subscriber
	machine *status.Machine
	db      *store.DB
	logger  *zap.Logger
}

// NewHandler creates the local API handler.
func NewHandler(list *convlist.Reconciler, th *thread.Reconciler, sn *seen.Tracker, ob *outbox.Sender, api ChatCommander, subs Subscriber, machine *status.Machine, db *store.DB, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		list:    list,
		thread:  th,
		seen:    sn,
		outbox:  ob,
		api:     api,
		subs:    subs,
		machine: machine,
		db:      db,
		logger:  logger,
	}
}

// Status reports the daemon connection state.
func (h *Handler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"state": h.machine.Current()})
}

// ListConversations loads a page of the role's conversation list and
// returns the reconciled list.
func (h *Handler) ListConversations(c *gin.Context) {
	role := model.Role(c.DefaultQuery("role", string(model.RoleBuyer)))
	if role != model.RoleBuyer && role != model.RoleSeller {
		c.JSON(http.StatusBadRequest, gin.H{"error": "role must be buyer or seller"})
		return
	}
	page := parsePositiveInt(c.Query("page"), 1)

	if err := h.list.LoadPage(c.Request.Context(), role, page); err != nil {
		if errors.Is(err, convlist.ErrFetchInFlight) {
			c.JSON(http.StatusConflict, gin.H{"error": "fetch already in flight"})
			return
		}
		h.logger.Warn("list fetch failed, serving cached state", zap.Error(err))
	}
	c.JSON(http.StatusOK, gin.H{
		"data":     h.list.Conversations(role),
		"has_more": h.list.HasMore(role),
	})
}

// GetConversation returns one reconciled conversation.
func (h *Handler) GetConversation(c *gin.Context) {
	id, ok := conversationID(c)
	if !ok {
		return
	}
	conv, found := h.list.Get(id)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}
	c.JSON(http.StatusOK, conv)
}

// OpenConversation opens a thread: fetches page one, subscribes to its
// live events, and fires the mark-seen round trip.
func (h *Handler) OpenConversation(c *gin.Context) {
	id, ok := conversationID(c)
	if !ok {
		return
	}
	if err := h.thread.Open(c.Request.Context(), id); err != nil {
		if errors.Is(err, thread.ErrFetchInFlight) {
			c.JSON(http.StatusConflict, gin.H{"error": "fetch already in flight"})
			return
		}
		h.logger.Warn("history fetch failed on open", zap.Int64("conversation_id", id), zap.Error(err))
	}
	if err := h.subs.SubscribeToChat(id); err != nil {
		h.logger.Warn("subscribe failed", zap.Int64("conversation_id", id), zap.Error(err))
	}
	h.seen.ConversationOpened(c.Request.Context(), id)

	c.JSON(http.StatusOK, gin.H{
		"messages": h.thread.Messages(),
		"has_more": h.thread.HasMore(),
	})
}

// CloseConversation closes the open thread and drops its subscription.
func (h *Handler) CloseConversation(c *gin.Context) {
	id, ok := conversationID(c)
	if !ok {
		return
	}
	h.thread.Close()
	if err := h.subs.UnsubscribeFromChat(id); err != nil {
		h.logger.Warn("unsubscribe failed", zap.Int64("conversation_id", id), zap.Error(err))
	}
	c.Status(http.StatusNoContent)
}

// ListMessages returns the open thread, optionally fetching an older page
// first.
func (h *Handler) ListMessages(c *gin.Context) {
	id, ok := conversationID(c)
	if !ok {
		return
	}
	if h.thread.OpenID() != id {
		c.JSON(http.StatusConflict, gin.H{"error": "conversation not open"})
		return
	}
	if page := parsePositiveInt(c.Query("page"), 0); page > 1 {
		if err := h.thread.FetchPage(c.Request.Context(), page); err != nil {
			if errors.Is(err, thread.ErrFetchInFlight) {
				c.JSON(http.StatusConflict, gin.H{"error": "fetch already in flight"})
				return
			}
			h.logger.Warn("history page fetch failed", zap.Int("page", page), zap.Error(err))
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"messages": h.thread.Messages(),
		"has_more": h.thread.HasMore(),
	})
}

// SendMessage queues an outgoing message for delivery.
func (h *Handler) SendMessage(c *gin.Context) {
	id, ok := conversationID(c)
	if !ok {
		return
	}
	var req struct {
		Text string `json:"text"`
		Type string `json:"type"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		return
	}
	if req.Type == "" {
		req.Type = "text"
	}
	clientID, err := h.outbox.Queue(id, req.Text, req.Type)
	if err != nil {
		h.logger.Error("failed to queue message", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cannot queue message"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"client_msg_id": clientID})
}

// MarkSeen runs the mark-seen cycle for a conversation.
func (h *Handler) MarkSeen(c *gin.Context) {
	id, ok := conversationID(c)
	if !ok {
		return
	}
	h.seen.ConversationOpened(c.Request.Context(), id)
	c.JSON(http.StatusOK, gin.H{"state": h.seen.State(id)})
}

// Typing relays the local user's typing state to the backend.
func (h *Handler) Typing(c *gin.Context) {
	id, ok := conversationID(c)
	if !ok {
		return
	}
	var req struct {
		IsTyping bool `json:"is_typing"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if err := h.subs.SendTyping(id, req.IsTyping); err != nil {
		h.logger.Warn("typing relay failed", zap.Int64("conversation_id", id), zap.Error(err))
	}
	c.Status(http.StatusNoContent)
}

// Search runs a full-text search over cached messages, or an in-memory
// filter when the conversation is the open thread.
func (h *Handler) Search(c *gin.Context) {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "q is required"})
		return
	}
	convID, _ := strconv.ParseInt(c.Query("conversation_id"), 10, 64)

	if convID != 0 && h.thread.OpenID() == convID {
		c.JSON(http.StatusOK, gin.H{"messages": h.thread.Search(query)})
		return
	}
	results, err := h.db.SearchMessages(query, convID, 50)
	if err != nil {
		h.logger.Error("search failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "search failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

// Mute and friends proxy a backend chat command and mirror the flag into
// the reconciled list on success.
func (h *Handler) Mute(c *gin.Context)      { h.command(c, h.api.MuteChat, func(id int64) { h.list.SetMuted(id, true) }) }
func (h *Handler) Unmute(c *gin.Context)    { h.command(c, h.api.UnmuteChat, func(id int64) { h.list.SetMuted(id, false) }) }
func (h *Handler) Archive(c *gin.Context)   { h.command(c, h.api.ArchiveChat, func(id int64) { h.list.SetArchived(id, true) }) }
func (h *Handler) Unarchive(c *gin.Context) { h.command(c, h.api.UnarchiveChat, func(id int64) { h.list.SetArchived(id, false) }) }
func (h *Handler) Pin(c *gin.Context)       { h.command(c, h.api.PinChat, func(id int64) { h.list.SetPinned(id, true) }) }
func (h *Handler) Unpin(c *gin.Context)     { h.command(c, h.api.UnpinChat, func(id int64) { h.list.SetPinned(id, false) }) }

// Delete removes a conversation on the backend and from the local cache.
func (h *Handler) Delete(c *gin.Context) {
	id, ok := conversationID(c)
	if !ok {
		return
	}
	if err := h.api.DeleteChat(c.Request.Context(), id); err != nil {
		h.logger.Error("delete chat failed", zap.Int64("conversation_id", id), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "backend unavailable"})
		return
	}
	if h.db != nil {
		if err := h.db.DeleteConversation(id); err != nil {
			h.logger.Warn("cache delete failed", zap.Int64("conversation_id", id), zap.Error(err))
		}
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) command(c *gin.Context, call func(context.Context, int64) error, apply func(int64)) {
	id, ok := conversationID(c)
	if !ok {
		return
	}
	if err := call(c.Request.Context(), id); err != nil {
		h.logger.Error("chat command failed", zap.Int64("conversation_id", id), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "backend unavailable"})
		return
	}
	apply(id)
	c.Status(http.StatusNoContent)
}

func conversationID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return 0, false
	}
	return id, true
}

func parsePositiveInt(raw string, def int) int {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || value <= 0 {
		return def
	}
	return value
}
