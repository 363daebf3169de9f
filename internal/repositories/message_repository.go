package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"chat-relay/internal/models"
)

var (
	// ErrEphemeralMessage is returned when a message carrying an image is appended.
	ErrEphemeralMessage = errors.New("message with image cannot be persisted")
	// ErrCorruptPartition marks a day partition whose content could not be decoded.
	ErrCorruptPartition = errors.New("corrupt day partition")
)

const dayLayout = "2006-01-02"

// MessageRepository is the day-partitioned durable log of text messages.
// Implementations do not serialize Append themselves; callers must.
type MessageRepository interface {
	Append(ctx context.Context, msg models.Message) error
	Recent(ctx context.Context, window time.Duration) ([]models.Message, error)
	Cleanup(ctx context.Context, horizon time.Duration) (int, error)
	Close() error
}

// Option customises a repository.
type Option func(*options)

type options struct {
	now func() time.Time
	loc *time.Location
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLocation sets the location that defines calendar days. Defaults to time.Local.
func WithLocation(loc *time.Location) Option {
	return func(o *options) { o.loc = loc }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now, loc: time.Local}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) today() string {
	return o.now().In(o.loc).Format(dayLayout)
}

// cutoffDay is the first calendar day that survives a cleanup with the given horizon.
func (o options) cutoffDay(horizon time.Duration) time.Time {
	t := o.now().Add(-horizon).In(o.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, o.loc)
}

func (o options) parseDay(s string) (time.Time, bool) {
	day, err := time.ParseInLocation(dayLayout, s, o.loc)
	if err != nil {
		return time.Time{}, false
	}
	return day, true
}

// selectRecent keeps messages created strictly after now-window, in stored order,
// and back-fills fields that older records may lack.
func (o options) selectRecent(day string, stored []models.Message, window time.Duration) []models.Message {
	cutoff := o.now().Add(-window)
	recent := make([]models.Message, 0, len(stored))
	for i, msg := range stored {
		at, ok := msg.Instant(o.loc)
		if !ok || !at.After(cutoff) {
			continue
		}
		recent = append(recent, backfill(day, i, msg))
	}
	return recent
}

func backfill(day string, index int, msg models.Message) models.Message {
	if strings.TrimSpace(msg.ID) == "" {
		seed := fmt.Sprintf("%s|%d|%s|%s|%s", day, index, msg.Timestamp, msg.User, msg.Text)
		msg.ID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(seed)).String()
	}
	if msg.RealUser == "" {
		msg.RealUser = msg.User
	}
	if msg.Likes == nil {
		msg.Likes = []string{}
	}
	msg.Image = ""
	return msg
}
