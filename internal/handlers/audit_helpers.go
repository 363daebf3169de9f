package handlers

import (
	"github.com/gin-gonic/gin"

	"chat-relay/internal/middleware"
	"chat-relay/internal/observability"
)

const requestIDContextKey = "request_id"

func requestIDFromContext(c *gin.Context) string {
	if val, ok := c.Get(requestIDContextKey); ok {
		if id, ok := val.(string); ok && id != "" {
			return id
		}
	}

	requestID := observability.RequestIDFromRequest(c.Request)
	c.Set(requestIDContextKey, requestID)
	return requestID
}

func userFromContext(c *gin.Context) *string {
	if user := c.GetString(middleware.UserContextKey); user != "" {
		return &user
	}
	return nil
}
