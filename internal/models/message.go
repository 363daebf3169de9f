package models

import (
	"strings"
	"time"
)

const (
	// ClockLayout is the local wall-clock layout of Message.Time.
	ClockLayout = "15:04:05"
	// TimestampLayout is the local layout of Message.Timestamp.
	TimestampLayout = "2006-01-02 15:04:05"
)

// Message is a unit of conversation, persisted or ephemeral.
type Message struct {
	ID        string   `json:"id"`
	Time      string   `json:"time"`
	Timestamp string   `json:"timestamp"`
	CreatedAt string   `json:"createdAt,omitempty"`
	User      string   `json:"user"`
	RealUser  string   `json:"realUser"`
	Text      string   `json:"text"`
	Image     string   `json:"image,omitempty"`
	Likes     []string `json:"likes"`
}

// NewMessage stamps a message created at now. Timestamps are truncated to the second.
func NewMessage(id, user, realUser, text, image string, now time.Time) Message {
	now = now.Truncate(time.Second)
	return Message{
		ID:        id,
		Time:      now.Format(ClockLayout),
		Timestamp: now.Format(TimestampLayout),
		CreatedAt: now.Format(time.RFC3339),
		User:      user,
		RealUser:  realUser,
		Text:      text,
		Image:     image,
		Likes:     []string{},
	}
}

// Ephemeral reports whether the message carries an image and must never be persisted.
func (m Message) Ephemeral() bool {
	return strings.TrimSpace(m.Image) != ""
}

// Instant returns the creation instant. CreatedAt wins when present; records
// written before it existed fall back to Timestamp interpreted in loc.
func (m Message) Instant(loc *time.Location) (time.Time, bool) {
	if m.CreatedAt != "" {
		if t, err := time.Parse(time.RFC3339, m.CreatedAt); err == nil {
			return t, true
		}
	}
	if m.Timestamp == "" {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(TimestampLayout, m.Timestamp, loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// WithLikes returns a copy carrying likes; a nil slice is replaced by an empty one.
func (m Message) WithLikes(likes []string) Message {
	if likes == nil {
		likes = []string{}
	}
	m.Likes = likes
	return m
}

// LikeUpdate is broadcast whenever a like toggles.
type LikeUpdate struct {
	Type      string   `json:"type"`
	MessageID string   `json:"msg_id"`
	Likes     []string `json:"likes"`
}

// NewLikeUpdate builds the like broadcast payload.
func NewLikeUpdate(messageID string, likes []string) LikeUpdate {
	if likes == nil {
		likes = []string{}
	}
	return LikeUpdate{Type: EventTypeLike, MessageID: messageID, Likes: likes}
}
