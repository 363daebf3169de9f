package ws

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"chat-relay/internal/observability"
)

// Recipient is anything the hub can deliver payloads to.
type Recipient interface {
	ID() string
	Deliver(payload []byte) error
	Close() error
}

// Hub is the registry of live sessions and the broadcaster over them.
type Hub struct {
	recipients map[Recipient]struct{}
	mu         sync.RWMutex
	log        zerolog.Logger
}

// NewHub creates an empty hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		recipients: make(map[Recipient]struct{}),
		log:        log,
	}
}

// Add registers a recipient.
func (h *Hub) Add(r Recipient) {
	h.mu.Lock()
	h.recipients[r] = struct{}{}
	count := len(h.recipients)
	h.mu.Unlock()

	h.log.Debug().Str("conn_id", r.ID()).Int("sessions", count).Msg("session registered")
}

// Remove unregisters a recipient and reports whether it was registered.
// Removing an absent recipient is a no-op.
func (h *Hub) Remove(r Recipient) bool {
	h.mu.Lock()
	_, ok := h.recipients[r]
	delete(h.recipients, r)
	count := len(h.recipients)
	h.mu.Unlock()

	if ok {
		h.log.Debug().Str("conn_id", r.ID()).Int("sessions", count).Msg("session unregistered")
	}
	return ok
}

// Snapshot returns a point-in-time copy of the registered recipients.
func (h *Hub) Snapshot() []Recipient {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Recipient, 0, len(h.recipients))
	for r := range h.recipients {
		out = append(out, r)
	}
	return out
}

// Count returns the number of registered recipients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.recipients)
}

// Publish delivers payload to every recipient registered at call time. A failing
// recipient does not stop the pass; after it, failed recipients still registered
// are removed once and closed. It returns the number of successful deliveries.
func (h *Hub) Publish(payload []byte) int {
	recipients := h.Snapshot()

	var failed []Recipient
	delivered := 0
	for _, r := range recipients {
		if err := r.Deliver(payload); err != nil {
			h.log.Debug().Err(err).Str("conn_id", r.ID()).Msg("delivery failed")
			failed = append(failed, r)
			continue
		}
		delivered++
	}

	observability.AddBroadcastDeliveries(delivered, len(failed))
	h.removeFailed(failed)
	return delivered
}

// PublishJSON encodes v and publishes it.
func (h *Hub) PublishJSON(v any) (int, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("encode broadcast: %w", err)
	}
	return h.Publish(payload), nil
}

func (h *Hub) removeFailed(failed []Recipient) {
	if len(failed) == 0 {
		return
	}

	h.mu.Lock()
	removed := make([]Recipient, 0, len(failed))
	for _, r := range failed {
		if _, ok := h.recipients[r]; ok {
			delete(h.recipients, r)
			removed = append(removed, r)
		}
	}
	h.mu.Unlock()

	// Close outside the lock; Close may block on the transport.
	for _, r := range removed {
		if err := r.Close(); err != nil {
			h.log.Debug().Err(err).Str("conn_id", r.ID()).Msg("close after failed delivery")
		}
		observability.IncWSEvent("chat", "ws_pruned")
		h.log.Info().Str("conn_id", r.ID()).Msg("session removed after failed delivery")
	}
}

// CloseAll unregisters and closes every recipient. Used on shutdown.
func (h *Hub) CloseAll() int {
	h.mu.Lock()
	all := make([]Recipient, 0, len(h.recipients))
	for r := range h.recipients {
		all = append(all, r)
	}
	h.recipients = make(map[Recipient]struct{})
	h.mu.Unlock()

	for _, r := range all {
		_ = r.Close()
	}
	return len(all)
}
