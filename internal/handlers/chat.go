package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-relay/internal/auth"
	"chat-relay/internal/models"
)

// ChatService is the part of the chat engine exposed over REST.
type ChatService interface {
	Authenticate(ctx context.Context, token string) (auth.Identity, error)
	Recent(ctx context.Context) []models.Message
	Sessions() int
}

// ChatHandler serves the REST side of the relay.
type ChatHandler struct {
	service ChatService
}

// NewChatHandler builds a ChatHandler.
func NewChatHandler(service ChatService) *ChatHandler {
	return &ChatHandler{service: service}
}

type checkTokenRequest struct {
	Token string `json:"token"`
}

// CheckToken reports whether a token would be accepted by the websocket endpoint.
func (h *ChatHandler) CheckToken(c *gin.Context) {
	var req checkTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	_, err := h.service.Authenticate(c.Request.Context(), req.Token)
	c.JSON(http.StatusOK, gin.H{"valid": err == nil})
}

// History returns the recent window with current likes.
func (h *ChatHandler) History(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"messages": h.service.Recent(c.Request.Context())})
}

// Health reports liveness.
func (h *ChatHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": h.service.Sessions()})
}
