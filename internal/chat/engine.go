// Package chat implements the relay: connect replay, event dispatch,
// persistence and broadcast for the single shared room.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"chat-relay/internal/auth"
	"chat-relay/internal/likes"
	"chat-relay/internal/models"
	"chat-relay/internal/observability"
	"chat-relay/internal/repositories"
	"chat-relay/internal/ws"
)

const (
	messageRoutingKey = "chat_events.message"
	likeRoutingKey    = "chat_events.like"
)

// Config tunes history and retention. With ValidateImages set, an image that is
// not a base64 image data URL is removed from the message before relaying.
type Config struct {
	HistoryWindow    time.Duration
	RetentionHorizon time.Duration
	ValidateImages   bool
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator replaces the UUIDv7 message id generator.
func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) { e.newID = newID }
}

// Engine serializes join replay, chat and like handling behind one mutex so
// that every session observes broadcasts in the same order.
type Engine struct {
	mu       sync.Mutex
	store    repositories.MessageRepository
	likes    *likes.Aggregator
	hub      *ws.Hub
	identity auth.IdentityProvider
	cfg      Config
	now      func() time.Time
	newID    func() string
	log      zerolog.Logger
}

// NewEngine wires the engine to its collaborators.
func NewEngine(store repositories.MessageRepository, agg *likes.Aggregator, hub *ws.Hub, identity auth.IdentityProvider, cfg Config, log zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		likes:    agg,
		hub:      hub,
		identity: identity,
		cfg:      cfg,
		now:      time.Now,
		newID:    newMessageID,
		log:      log,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func newMessageID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Authenticate resolves token to an identity.
func (e *Engine) Authenticate(ctx context.Context, token string) (auth.Identity, error) {
	if strings.TrimSpace(token) == "" || e.identity == nil {
		return auth.Identity{}, auth.ErrUnauthenticated
	}
	identity, err := e.identity.Verify(ctx, token)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthenticated) {
			return auth.Identity{}, err
		}
		return auth.Identity{}, fmt.Errorf("%w: %v", auth.ErrUnauthenticated, err)
	}
	return identity, nil
}

// Join replays recent history to p alone and then registers it. Both happen
// under the engine lock, so p neither misses nor duplicates a broadcast. If a
// replay delivery fails p is closed, left unregistered and the error returned.
func (e *Engine) Join(ctx context.Context, p ws.Participant) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	history := e.recentLocked(ctx)
	for _, msg := range history {
		payload, err := json.Marshal(msg)
		if err != nil {
			e.log.Error().Err(err).Str("msg_id", msg.ID).Msg("encode replay message")
			continue
		}
		if err := p.Deliver(payload); err != nil {
			e.log.Info().Err(err).Str("conn_id", p.ID()).Msg("replay delivery failed, dropping session")
			_ = p.Close()
			return fmt.Errorf("replay to %s: %w", p.ID(), err)
		}
	}

	e.hub.Add(p)
	e.log.Info().
		Str("conn_id", p.ID()).
		Str("user", p.User()).
		Int("replayed", len(history)).
		Int("sessions", e.hub.Count()).
		Msg("session joined")
	return nil
}

// Leave unregisters p. Nothing it did while connected is rolled back.
func (e *Engine) Leave(p ws.Participant) {
	if e.hub.Remove(p) {
		e.log.Info().Str("conn_id", p.ID()).Str("user", p.User()).Msg("session left")
	}
}

// Handle decodes one inbound frame from p and dispatches it.
func (e *Engine) Handle(ctx context.Context, p ws.Participant, raw []byte) {
	event := models.DecodeEvent(raw)
	observability.IncInboundEvent(event.Kind.String())

	switch event.Kind {
	case models.EventLike:
		e.handleLike(ctx, p, event.Like)
	case models.EventChat:
		e.handleChat(ctx, p, event.Chat)
	default:
		e.log.Debug().Str("conn_id", p.ID()).Str("reason", event.Reason).Msg("dropping malformed event")
	}
}

// Recent returns the history window with current like sets.
func (e *Engine) Recent(ctx context.Context) []models.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.recentLocked(ctx)
}

// Sessions reports the number of registered sessions.
func (e *Engine) Sessions() int {
	return e.hub.Count()
}

func (e *Engine) recentLocked(ctx context.Context) []models.Message {
	stored, err := e.store.Recent(ctx, e.cfg.HistoryWindow)
	if err != nil {
		observability.IncStoreError("recent")
		e.log.Warn().Err(err).Msg("history unavailable, replaying nothing")
		return []models.Message{}
	}

	loc := e.now().Location()
	out := make([]models.Message, 0, len(stored))
	for _, msg := range stored {
		createdAt, _ := msg.Instant(loc)
		e.likes.Ensure(msg.ID, msg.Likes, createdAt)
		out = append(out, msg.WithLikes(e.likes.Snapshot(msg.ID)))
	}
	return out
}

func (e *Engine) handleLike(ctx context.Context, p ws.Participant, like models.LikeEvent) {
	ctx, span := otel.Tracer("chat-relay/chat").Start(ctx, "chat.like")
	defer span.End()
	span.SetAttributes(attribute.String("msg_id", like.MessageID))

	e.mu.Lock()
	current := e.likes.Toggle(like.MessageID, p.User(), e.now())
	delivered, err := e.hub.PublishJSON(models.NewLikeUpdate(like.MessageID, current))
	observability.SetLikeBuckets(e.likes.Len())
	e.mu.Unlock()

	if err != nil {
		e.log.Error().Err(err).Str("msg_id", like.MessageID).Msg("encode like update")
		return
	}
	e.log.Debug().Str("msg_id", like.MessageID).Str("user", p.User()).Int("delivered", delivered).Msg("like toggled")

	_ = observability.PublishEvent(ctx, likeRoutingKey, observability.NewChatEvent("like_toggled", map[string]interface{}{
		"msg_id": like.MessageID,
		"user":   p.User(),
		"likes":  current,
	}), observability.BuildHeaders("", span.SpanContext().TraceID().String()))
}

func (e *Engine) handleChat(ctx context.Context, p ws.Participant, in models.ChatEvent) {
	ctx, span := otel.Tracer("chat-relay/chat").Start(ctx, "chat.message")
	defer span.End()

	if in.Image != "" && e.cfg.ValidateImages {
		if err := validateImage(in.Image); err != nil {
			observability.IncInboundEvent("invalid_image")
			e.log.Debug().Str("conn_id", p.ID()).Err(err).Msg("stripping unrecognised image")
			in.Image = ""
			if in.Text == "" {
				return
			}
		}
	}

	display := strings.TrimSpace(in.User)
	if display == "" {
		display = p.User()
	}

	e.mu.Lock()
	now := e.now()
	msg := models.NewMessage(e.newID(), display, p.User(), in.Text, in.Image, now)
	e.likes.Ensure(msg.ID, nil, now)

	class := "ephemeral"
	if !msg.Ephemeral() {
		class = "persisted"
		e.persistLocked(ctx, msg, now)
	}
	delivered, err := e.hub.PublishJSON(msg.WithLikes(e.likes.Snapshot(msg.ID)))
	observability.SetLikeBuckets(e.likes.Len())
	e.mu.Unlock()

	span.SetAttributes(attribute.String("msg_id", msg.ID), attribute.String("class", class))
	if err != nil {
		e.log.Error().Err(err).Str("msg_id", msg.ID).Msg("encode chat message")
		return
	}
	observability.IncChatMessage(class)
	e.log.Debug().Str("msg_id", msg.ID).Str("user", msg.RealUser).Str("class", class).Int("delivered", delivered).Msg("message relayed")

	_ = observability.PublishEvent(ctx, messageRoutingKey, observability.NewChatEvent("message_created", map[string]interface{}{
		"msg_id":    msg.ID,
		"user":      msg.User,
		"real_user": msg.RealUser,
		"has_image": msg.Ephemeral(),
		"timestamp": msg.Timestamp,
	}), observability.BuildHeaders("", span.SpanContext().TraceID().String()))
}

// persistLocked appends msg and on success runs retention for both the store
// and the like buckets. Failures are logged; the live broadcast goes ahead.
func (e *Engine) persistLocked(ctx context.Context, msg models.Message, now time.Time) {
	if err := e.store.Append(ctx, msg); err != nil {
		observability.IncStoreError("append")
		e.log.Error().Err(err).Str("msg_id", msg.ID).Msg("persist message")
		return
	}

	removed, err := e.store.Cleanup(ctx, e.cfg.RetentionHorizon)
	if err != nil {
		observability.IncStoreError("cleanup")
		e.log.Warn().Err(err).Msg("retention cleanup incomplete")
	}
	evicted := e.likes.EvictBefore(retentionCutoff(now, e.cfg.RetentionHorizon))
	if removed > 0 || evicted > 0 {
		e.log.Info().Int("partitions", removed).Int("like_buckets", evicted).Msg("retention applied")
	}
}

// retentionCutoff is the start of the oldest retained day.
func retentionCutoff(now time.Time, horizon time.Duration) time.Time {
	t := now.Add(-horizon)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
