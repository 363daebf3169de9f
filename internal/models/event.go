package models

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// EventTypeLike is the wire value of the type field for like toggles.
const EventTypeLike = "like"

var validate = validator.New()

// EventKind tags a decoded inbound frame.
type EventKind int

const (
	EventMalformed EventKind = iota
	EventChat
	EventLike
)

func (k EventKind) String() string {
	switch k {
	case EventChat:
		return "chat"
	case EventLike:
		return "like"
	default:
		return "malformed"
	}
}

// LikeEvent toggles the sender's like on a message.
type LikeEvent struct {
	MessageID string `validate:"required"`
}

// ChatEvent posts a text and/or image message.
type ChatEvent struct {
	User  string
	Text  string
	Image string
}

// Event is the decoded form of one inbound frame. Exactly one of Like or Chat
// is meaningful, selected by Kind; Reason explains a malformed frame.
type Event struct {
	Kind   EventKind
	Like   LikeEvent
	Chat   ChatEvent
	Reason string
}

type inboundFrame struct {
	Type  *string `json:"type"`
	MsgID *string `json:"msg_id"`
	User  *string `json:"user"`
	Text  *string `json:"text"`
	Image *string `json:"image"`
}

// DecodeEvent classifies a raw client frame. It never fails: anything that is not
// a well formed like or chat event comes back as EventMalformed.
func DecodeEvent(raw []byte) Event {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return malformed("payload is not a JSON object")
	}

	var frame inboundFrame
	if err := json.Unmarshal(trimmed, &frame); err != nil {
		return malformed(err.Error())
	}

	kind := ""
	if frame.Type != nil {
		kind = *frame.Type
	}

	switch kind {
	case EventTypeLike:
		like := LikeEvent{MessageID: deref(frame.MsgID)}
		if err := validate.Struct(like); err != nil {
			return malformed("like without msg_id")
		}
		return Event{Kind: EventLike, Like: like}
	case "":
		return Event{Kind: EventChat, Chat: ChatEvent{
			User:  deref(frame.User),
			Text:  deref(frame.Text),
			Image: deref(frame.Image),
		}}
	default:
		return malformed(fmt.Sprintf("unknown event type %q", kind))
	}
}

func malformed(reason string) Event {
	return Event{Kind: EventMalformed, Reason: reason}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
