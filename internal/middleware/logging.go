package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"chat-relay/internal/observability"
)

// RequestLogger logs one line per completed request. The websocket route logs
// at upgrade time only; the session itself logs separately.
func RequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("request_id", c.Request.Header.Get("X-Request-Id")).
			Str("ip", observability.IPFromRequest(c.Request)).
			Msg("request completed")
	}
}
