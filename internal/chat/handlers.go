package chat

import (
	stderrors "errors"
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/luminahq/research-server/internal/auth"
	"github.com/luminahq/research-server/internal/errors"
	"github.com/luminahq/research-server/internal/logger"
	"github.com/luminahq/research-server/internal/storage/pg"
)

// Handler exposes chat operations over HTTP.
type Handler struct {
	service *Service
	logger  *logger.Logger
}

// NewHandler creates a chat HTTP handler.
func NewHandler(service *Service, logger *logger.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger.WithComponent("chat-handler"),
	}
}

type createChatRequest struct {
	Title string `json:"title"`
}

type renameChatRequest struct {
	Title string `json:"title" binding:"required"`
}

type postMessageRequest struct {
	Content string `json:"content" binding:"required"`
	Role    string `json:"role"`
}

type workerMessageRequest struct {
	Content string `json:"content" binding:"required"`
	Role    string `json:"role" binding:"required"`
}

// messageResponse pairs a created message with the research request it
// spawned, if any.
type messageResponse struct {
	Message *pg.Message         `json:"message"`
	Request *pg.ResearchRequest `json:"researchRequest,omitempty"`
}

// CreateChat handles POST /api/v1/chats.
func (h *Handler) CreateChat(c *gin.Context) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		errors.AbortWithUnauthorized(c, "Authentication required", nil)
		return
	}

	var req createChatRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		errors.AbortWithBadRequest(c, "Invalid request body", nil)
		return
	}

	chat, err := h.service.CreateChat(c.Request.Context(), userID, req.Title)
	if err != nil {
		h.logger.WithContext(c.Request.Context()).Error("failed to create chat",
			slog.String("error", err.Error()))
		errors.AbortWithInternal(c, "Failed to create chat", nil)
		return
	}

	c.JSON(201, chat)
}

// ListChats handles GET /api/v1/chats.
func (h *Handler) ListChats(c *gin.Context) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		errors.AbortWithUnauthorized(c, "Authentication required", nil)
		return
	}

	chats, err := h.service.ListChats(c.Request.Context(), userID)
	if err != nil {
		h.logger.WithContext(c.Request.Context()).Error("failed to list chats",
			slog.String("error", err.Error()))
		errors.AbortWithInternal(c, "Failed to list chats", nil)
		return
	}

	c.JSON(200, gin.H{"chats": chats})
}

// GetChat handles GET /api/v1/chats/:chatId.
func (h *Handler) GetChat(c *gin.Context) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		errors.AbortWithUnauthorized(c, "Authentication required", nil)
		return
	}

	chat, err := h.service.GetChat(c.Request.Context(), userID, c.Param("chatId"))
	if err != nil {
		h.abortChatError(c, err, "Failed to get chat")
		return
	}

	c.JSON(200, chat)
}

// RenameChat handles PATCH /api/v1/chats/:chatId.
func (h *Handler) RenameChat(c *gin.Context) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		errors.AbortWithUnauthorized(c, "Authentication required", nil)
		return
	}

	var req renameChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errors.AbortWithBadRequest(c, "Title is required", nil)
		return
	}

	chat, err := h.service.RenameChat(c.Request.Context(), userID, c.Param("chatId"), req.Title)
	if err != nil {
		h.abortChatError(c, err, "Failed to rename chat")
		return
	}

	c.JSON(200, chat)
}

// DeleteChat handles DELETE /api/v1/chats/:chatId.
func (h *Handler) DeleteChat(c *gin.Context) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		errors.AbortWithUnauthorized(c, "Authentication required", nil)
		return
	}

	if err := h.service.DeleteChat(c.Request.Context(), userID, c.Param("chatId")); err != nil {
		h.abortChatError(c, err, "Failed to delete chat")
		return
	}

	c.Status(204)
}

// ListMessages handles GET /api/v1/chats/:chatId/messages.
func (h *Handler) ListMessages(c *gin.Context) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		errors.AbortWithUnauthorized(c, "Authentication required", nil)
		return
	}

	messages, err := h.service.ListMessages(c.Request.Context(), userID, c.Param("chatId"))
	if err != nil {
		h.abortChatError(c, err, "Failed to list messages")
		return
	}

	c.JSON(200, gin.H{"messages": messages})
}

// PostMessage handles POST /api/v1/chats/:chatId/messages.
func (h *Handler) PostMessage(c *gin.Context) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		errors.AbortWithUnauthorized(c, "Authentication required", nil)
		return
	}

	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errors.AbortWithBadRequest(c, "Message content is required", nil)
		return
	}
	if req.Role == "" {
		req.Role = "user"
	}

	msg, request, err := h.service.PostMessage(c.Request.Context(), userID, c.Param("chatId"), req.Role, req.Content)
	if err != nil {
		if stderrors.Is(err, ErrInvalidRole) {
			errors.AbortWithBadRequest(c, "Role must be user, assistant or system", nil)
			return
		}
		h.abortChatError(c, err, "Failed to post message")
		return
	}

	c.JSON(201, messageResponse{Message: msg, Request: request})
}

// AppendWorkerMessage handles POST /api/v1/worker/chats/:chatId/messages.
// Workers use it to append assistant messages such as the finished report.
func (h *Handler) AppendWorkerMessage(c *gin.Context) {
	var req workerMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errors.AbortWithBadRequest(c, "Role and content are required", nil)
		return
	}

	msg, err := h.service.AppendWorkerMessage(c.Request.Context(), c.Param("chatId"), req.Role, req.Content)
	if err != nil {
		if stderrors.Is(err, ErrInvalidRole) {
			errors.AbortWithBadRequest(c, "Role must be assistant or system", nil)
			return
		}
		h.abortChatError(c, err, "Failed to append message")
		return
	}

	c.JSON(201, messageResponse{Message: msg})
}

func (h *Handler) abortChatError(c *gin.Context, err error, message string) {
	if stderrors.Is(err, pg.ErrNotFound) {
		errors.AbortWithNotFound(c, "Chat not found", nil)
		return
	}
	h.logger.WithContext(c.Request.Context()).Error(message,
		slog.String("chat_id", c.Param("chatId")),
		slog.String("error", err.Error()))
	errors.AbortWithInternal(c, message, nil)
}
