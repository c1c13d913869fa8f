package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/rentme/chatrelay/internal/core"
	"github.com/rentme/chatrelay/internal/store"
)

// ChatHandlers provides the REST surface over the chat relay: identity
// resolution, conversation summaries, message history and the REST path
// to send/edit/delete.
type ChatHandlers struct {
	hub   *core.Hub
	store store.Store
	log   *zerolog.Logger
}

// NewChatHandlers creates a new chat handlers instance.
func NewChatHandlers(hub *core.Hub, st store.Store, logger *zerolog.Logger) *ChatHandlers {
	return &ChatHandlers{
		hub:   hub,
		store: st,
		log:   logger,
	}
}

// UserResponse represents a user in API responses.
type UserResponse struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

// MessageResponse represents a message in API responses.
type MessageResponse struct {
	ID         int64  `json:"id"`
	Room       string `json:"room"`
	SenderID   int64  `json:"sender_id"`
	ReceiverID int64  `json:"receiver_id"`
	Body       string `json:"body"`
	CreatedAt  string `json:"created_at"`
	Edited     bool   `json:"edited,omitempty"`
}

// LastMessageResponse is the preview inside a conversation summary.
type LastMessageResponse struct {
	Body     string `json:"body"`
	TS       int64  `json:"ts"`
	FromSelf bool   `json:"from_self"`
}

// ConversationResponse represents one conversation summary.
type ConversationResponse struct {
	Room        string              `json:"room"`
	Counterpart UserResponse        `json:"counterpart"`
	LastMessage LastMessageResponse `json:"last_message"`
	Unread      int                 `json:"unread"`
	Online      bool                `json:"online"`
}

// SendMessageRequest is the create-message request body.
type SendMessageRequest struct {
	ReceiverID int64  `json:"receiver_id" binding:"required"`
	Body       string `json:"body" binding:"required"`
}

// EditMessageRequest is the update-message request body.
type EditMessageRequest struct {
	Body string `json:"body" binding:"required"`
}

func messageResponse(msg *store.Message) MessageResponse {
	return MessageResponse{
		ID:         msg.ID,
		Room:       msg.RoomKey,
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		Body:       msg.Body,
		CreatedAt:  msg.CreatedAt.Format(time.RFC3339),
		Edited:     msg.Edited,
	}
}

func currentUserID(c *gin.Context) (int64, bool) {
	v, exists := c.Get(ContextKeyUserID)
	if !exists {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return 0, false
	}
	uid, ok := v.(int64)
	if !ok {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return 0, false
	}
	return uid, true
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid id"})
		return 0, false
	}
	return id, true
}

// writeCoreError maps the relay fault taxonomy to HTTP statuses. Forbidden
// and not_found share the caller-facing message so a requester cannot
// probe whether someone else's message exists.
func (h *ChatHandlers) writeCoreError(c *gin.Context, err error) {
	switch core.Code(err) {
	case core.ErrCodeInvalidInput, core.ErrCodeInvalidRoom:
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request"})
	case core.ErrCodeForbidden:
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "action failed"})
	case core.ErrCodeNotFound:
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "action failed"})
	case core.ErrCodeStoreUnavailable:
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "temporarily unavailable, retry"})
	default:
		h.log.Error().Err(err).Msg("chat operation failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
	}
}

// Me resolves the caller's own identity record.
// GET /api/me
func (h *ChatHandlers) Me(c *gin.Context) {
	uid, ok := currentUserID(c)
	if !ok {
		return
	}

	user, err := h.store.GetUserByID(c.Request.Context(), uid)
	if err != nil {
		h.log.Error().Err(err).Int64("user_id", uid).Msg("failed to resolve self")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.JSON(http.StatusOK, UserResponse{
		ID:          user.ID,
		Username:    user.Username,
		DisplayName: user.DisplayName,
		Role:        string(user.Role),
	})
}

// GetCounterpart resolves another party's identity.
// GET /api/users/:id
func (h *ChatHandlers) GetCounterpart(c *gin.Context) {
	if _, ok := currentUserID(c); !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}

	user, err := h.store.GetUserByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "user not found"})
			return
		}
		h.log.Error().Err(err).Int64("user_id", id).Msg("failed to get counterpart")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.JSON(http.StatusOK, UserResponse{
		ID:          user.ID,
		Username:    user.Username,
		DisplayName: user.DisplayName,
		Role:        string(user.Role),
	})
}

// ListConversations returns the caller's conversation summaries, newest
// first.
// GET /api/conversations
func (h *ChatHandlers) ListConversations(c *gin.Context) {
	uid, ok := currentUserID(c)
	if !ok {
		return
	}

	summaries, err := h.hub.Conversations().List(c.Request.Context(), uid)
	if err != nil {
		h.log.Error().Err(err).Int64("user_id", uid).Msg("failed to list conversations")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "temporarily unavailable, retry"})
		return
	}

	response := make([]ConversationResponse, 0, len(summaries))
	for _, s := range summaries {
		response = append(response, ConversationResponse{
			Room: s.RoomKey,
			Counterpart: UserResponse{
				ID:          s.CounterpartID,
				DisplayName: s.CounterpartName,
				Role:        string(s.CounterpartRole),
			},
			LastMessage: LastMessageResponse{
				Body:     s.LastBody,
				TS:       s.LastAt.Unix(),
				FromSelf: s.LastFromSelf,
			},
			Unread: s.Unread,
			Online: s.Online,
		})
	}

	c.JSON(http.StatusOK, response)
}

// MarkRead acknowledges the conversation with a counterpart.
// POST /api/conversations/:id/read
func (h *ChatHandlers) MarkRead(c *gin.Context) {
	uid, ok := currentUserID(c)
	if !ok {
		return
	}
	counterpartID, ok := pathID(c)
	if !ok {
		return
	}

	if err := h.hub.MarkRead(c.Request.Context(), uid, counterpartID); err != nil {
		h.writeCoreError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// ListMessages returns active message history with a counterpart, oldest
// first.
// GET /api/messages?with=<id>&limit=<n>&before_id=<id>
func (h *ChatHandlers) ListMessages(c *gin.Context) {
	uid, ok := currentUserID(c)
	if !ok {
		return
	}

	otherID, err := strconv.ParseInt(c.Query("with"), 10, 64)
	if err != nil || otherID <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid counterpart id"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))

	var beforeID *int64
	if raw := c.Query("before_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid before_id"})
			return
		}
		beforeID = &id
	}

	msgs, err := h.hub.History(c.Request.Context(), uid, otherID, limit, beforeID)
	if err != nil {
		h.writeCoreError(c, err)
		return
	}

	response := make([]MessageResponse, 0, len(msgs))
	for _, msg := range msgs {
		response = append(response, messageResponse(msg))
	}

	c.JSON(http.StatusOK, response)
}

// CreateMessage sends a message over the REST path. The response body is
// the synchronous confirmation; live connections get the broadcast.
// POST /api/messages
func (h *ChatHandlers) CreateMessage(c *gin.Context) {
	uid, ok := currentUserID(c)
	if !ok {
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	msg, err := h.hub.Send(c.Request.Context(), uid, req.ReceiverID, req.Body)
	if err != nil {
		h.writeCoreError(c, err)
		return
	}

	c.JSON(http.StatusCreated, messageResponse(msg))
}

// UpdateMessage edits a message the caller sent.
// PATCH /api/messages/:id
func (h *ChatHandlers) UpdateMessage(c *gin.Context) {
	uid, ok := currentUserID(c)
	if !ok {
		return
	}
	messageID, ok := pathID(c)
	if !ok {
		return
	}

	var req EditMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	msg, err := h.hub.Edit(c.Request.Context(), uid, messageID, req.Body)
	if err != nil {
		h.writeCoreError(c, err)
		return
	}

	c.JSON(http.StatusOK, messageResponse(msg))
}

// DeleteMessage tombstones a message the caller sent.
// DELETE /api/messages/:id
func (h *ChatHandlers) DeleteMessage(c *gin.Context) {
	uid, ok := currentUserID(c)
	if !ok {
		return
	}
	messageID, ok := pathID(c)
	if !ok {
		return
	}

	if err := h.hub.Delete(c.Request.Context(), uid, messageID); err != nil {
		h.writeCoreError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
