package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessageStampsLocalTime(t *testing.T) {
	loc := time.FixedZone("ICT", 7*3600)
	now := time.Date(2026, 3, 10, 9, 5, 7, 900, loc)

	msg := NewMessage("m1", "Al", "alice", "hi", "", now)

	assert.Equal(t, "09:05:07", msg.Time)
	assert.Equal(t, "2026-03-10 09:05:07", msg.Timestamp)
	assert.Equal(t, "2026-03-10T09:05:07+07:00", msg.CreatedAt)
	assert.NotNil(t, msg.Likes)
	assert.False(t, msg.Ephemeral())
	assert.True(t, NewMessage("m2", "a", "a", "", "data:x", now).Ephemeral())
}

func TestInstantPrefersCreatedAt(t *testing.T) {
	loc := time.FixedZone("ICT", 7*3600)
	msg := Message{CreatedAt: "2026-03-10T02:00:00Z", Timestamp: "2026-03-10 23:00:00"}

	got, ok := msg.Instant(loc)
	require.True(t, ok)
	assert.True(t, got.Equal(time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC)))

	legacy := Message{Timestamp: "2026-03-10 09:00:00"}
	got, ok = legacy.Instant(loc)
	require.True(t, ok)
	assert.True(t, got.Equal(time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC)))

	_, ok = Message{Timestamp: "yesterday"}.Instant(loc)
	assert.False(t, ok)
	_, ok = Message{}.Instant(loc)
	assert.False(t, ok)
}

func TestMessageWireFormat(t *testing.T) {
	msg := Message{ID: "m1", User: "a", RealUser: "a"}.WithLikes(nil)

	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.Contains(t, fields, "likes")
	assert.Equal(t, []any{}, fields["likes"])
	assert.NotContains(t, fields, "image")

	raw, err = json.Marshal(NewLikeUpdate("m1", nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"like","msg_id":"m1","likes":[]}`, string(raw))
}
