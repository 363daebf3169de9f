package ws

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"

	"chat-relay/internal/auth"
	"chat-relay/internal/observability"
	"chat-relay/internal/telemetry"
)

// ClosePolicyUnauthorized is the close code sent when the handshake token is rejected.
const ClosePolicyUnauthorized = 4401

const wsRoutingKey = "ws_events.chat"

// Participant is a registered session as seen by the chat engine.
type Participant interface {
	Recipient
	User() string
}

// Engine is the chat logic driven by the websocket handler.
type Engine interface {
	Authenticate(ctx context.Context, token string) (auth.Identity, error)
	Join(ctx context.Context, p Participant) error
	Handle(ctx context.Context, p Participant, raw []byte)
	Leave(p Participant)
}

// HandlerConfig tunes accepted connections.
type HandlerConfig struct {
	QueueSize       int
	MaxMessageBytes int64
	AllowedOrigins  []string
}

// ChatWebSocketHandler accepts chat websocket connections.
type ChatWebSocketHandler struct {
	engine   Engine
	audit    *telemetry.AuditEmitter
	cfg      HandlerConfig
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

// NewChatWebSocketHandler constructs a ChatWebSocketHandler.
func NewChatWebSocketHandler(engine Engine, audit *telemetry.AuditEmitter, cfg HandlerConfig, log zerolog.Logger) *ChatWebSocketHandler {
	origins := allowedOrigins(cfg.AllowedOrigins)
	return &ChatWebSocketHandler{
		engine: engine,
		audit:  audit,
		cfg:    cfg,
		log:    log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     origins.check,
		},
	}
}

// Handle authenticates the token, upgrades the connection and runs the session.
// Rejected tokens still get an upgrade so the 4401 close code reaches the client.
func (h *ChatWebSocketHandler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("chat-relay/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()

	requestID := observability.RequestIDFromRequest(c.Request)
	identity, authErr := h.engine.Authenticate(ctx, tokenFromRequest(c))

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("ip", observability.IPFromRequest(c.Request)).Msg("websocket upgrade failed")
		return
	}

	if authErr != nil {
		span.RecordError(authErr)
		observability.IncWSEvent("chat", "ws_rejected")
		h.audit.Emit(ctx, "WARN", "websocket handshake rejected: "+authErr.Error(), requestID, nil)
		rejectConn(conn)
		return
	}

	info := ConnInfo{
		ConnID:      newConnID(),
		User:        identity.Username,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		UserAgent:   c.Request.UserAgent(),
		RequestID:   requestID,
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	session := NewSession(conn, info, h.cfg.QueueSize, h.log)

	user := identity.Username
	h.audit.Emit(ctx, "INFO", "websocket session opened", requestID, &user)
	observability.IncWSActive("chat")
	observability.IncWSEvent("chat", "ws_connect")
	h.publishWSEvent(ctx, "ws_connect", info, "")

	// The request context ends when this handler returns; keep its values only.
	go h.serve(context.WithoutCancel(ctx), session)
}

func (h *ChatWebSocketHandler) serve(ctx context.Context, session *Session) {
	go session.WritePump()

	// A session that could not be joined is never read from.
	err := h.engine.Join(ctx, session)
	if err == nil {
		err = session.ReadLoop(h.cfg.MaxMessageBytes, func(raw []byte) {
			h.engine.Handle(ctx, session, raw)
		})
		h.engine.Leave(session)
	}
	_ = session.Close()

	info := session.Info()
	reason := ""
	if err != nil {
		reason = err.Error()
	}
	if !isExpectedCloseError(err) {
		observability.IncWSEvent("chat", "ws_error")
		h.publishWSEvent(ctx, "ws_error", info, reason)
		h.log.Info().Err(err).Str("conn_id", info.ConnID).Msg("session ended with error")
	}
	observability.DecWSActive("chat")
	observability.IncWSEvent("chat", "ws_disconnect")
	h.publishWSEvent(ctx, "ws_disconnect", info, reason)
}

func (h *ChatWebSocketHandler) publishWSEvent(ctx context.Context, event string, info ConnInfo, reason string) {
	_ = observability.PublishEvent(ctx, wsRoutingKey, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"kind":        "chat",
				"event":       event,
				"conn_id":     info.ConnID,
				"duration_ms": info.Age(time.Now()).Milliseconds(),
				"reason":      reason,
			},
			"identity": map[string]interface{}{
				"user":       info.User,
				"device_id":  info.DeviceID,
				"ip":         info.IP,
				"user_agent": info.UserAgent,
			},
		},
	}, observability.BuildHeaders(info.RequestID, info.TraceID))
}

func rejectConn(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(ClosePolicyUnauthorized, "unauthorized")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	_ = conn.Close()
}

// tokenFromRequest reads the token from the query string or a bearer header.
func tokenFromRequest(c *gin.Context) string {
	if token := c.Query("token"); token != "" {
		return token
	}
	header := c.GetHeader("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

type originSet struct {
	any     bool
	allowed map[string]struct{}
}

func allowedOrigins(origins []string) originSet {
	set := originSet{allowed: make(map[string]struct{}, len(origins))}
	for _, o := range origins {
		o = strings.ToLower(strings.TrimRight(strings.TrimSpace(o), "/"))
		switch o {
		case "":
		case "*":
			set.any = true
		default:
			set.allowed[o] = struct{}{}
		}
	}
	if len(set.allowed) == 0 {
		set.any = true
	}
	return set
}

// check allows requests without an Origin header (non-browser clients).
func (s originSet) check(r *http.Request) bool {
	origin := strings.ToLower(strings.TrimRight(r.Header.Get("Origin"), "/"))
	if origin == "" || s.any {
		return true
	}
	_, ok := s.allowed[origin]
	return ok
}
