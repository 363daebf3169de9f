package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"chat-relay/internal/models"
)

const badgerKeyPrefix = "msg:"

// BadgerMessageRepo keeps messages in an embedded Badger store.
// Keys are formatted as "msg:{day}:{unix_nano_padded}:{id}" so that a day is a
// key prefix and a forward prefix scan yields messages in chronological order.
type BadgerMessageRepo struct {
	db   *badger.DB
	log  zerolog.Logger
	opts options
}

// OpenBadgerMessageRepo opens (or creates) a Badger store at path.
func OpenBadgerMessageRepo(path string, log zerolog.Logger, opts ...Option) (*BadgerMessageRepo, error) {
	db, err := badger.Open(badger.DefaultOptions(path).WithLogger(badgerLogger{log: log}))
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return NewBadgerMessageRepo(db, log, opts...), nil
}

// NewBadgerMessageRepo wraps an already opened Badger store.
func NewBadgerMessageRepo(db *badger.DB, log zerolog.Logger, opts ...Option) *BadgerMessageRepo {
	return &BadgerMessageRepo{db: db, log: log, opts: buildOptions(opts)}
}

// Append stores msg under today's day prefix.
func (r *BadgerMessageRepo) Append(_ context.Context, msg models.Message) error {
	if msg.Ephemeral() {
		return ErrEphemeralMessage
	}

	at, ok := msg.Instant(r.opts.loc)
	if !ok {
		at = r.opts.now()
	}
	key := fmt.Sprintf("%s%s:%019d:%s", badgerKeyPrefix, r.opts.today(), at.UnixNano(), msg.ID)

	msg.Image = ""
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
}

// Recent scans today's prefix and keeps messages created strictly after now-window.
// Undecodable values are skipped.
func (r *BadgerMessageRepo) Recent(_ context.Context, window time.Duration) ([]models.Message, error) {
	day := r.opts.today()
	prefix := []byte(badgerKeyPrefix + day + ":")

	var stored []models.Message
	err := r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			err := item.Value(func(value []byte) error {
				var msg models.Message
				if err := json.Unmarshal(value, &msg); err != nil {
					r.log.Warn().Err(err).Str("key", string(item.Key())).Msg("skipping undecodable message")
					return nil
				}
				stored = append(stored, msg)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return []models.Message{}, fmt.Errorf("scan %s: %w", day, err)
	}
	return r.opts.selectRecent(day, stored, window), nil
}

// Cleanup drops every day prefix older than the calendar day of now-horizon. Keys
// whose day segment does not parse are left alone.
func (r *BadgerMessageRepo) Cleanup(_ context.Context, horizon time.Duration) (int, error) {
	cutoff := r.opts.cutoffDay(horizon)
	expired := map[string]struct{}{}

	err := r.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.PrefetchValues = false
		it := txn.NewIterator(options)
		defer it.Close()

		prefix := []byte(badgerKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			rest := strings.TrimPrefix(string(it.Item().Key()), badgerKeyPrefix)
			dayPart, _, found := strings.Cut(rest, ":")
			if !found {
				continue
			}
			day, ok := r.opts.parseDay(dayPart)
			if ok && day.Before(cutoff) {
				expired[dayPart] = struct{}{}
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan partitions: %w", err)
	}
	if len(expired) == 0 {
		return 0, nil
	}

	prefixes := make([][]byte, 0, len(expired))
	for day := range expired {
		prefixes = append(prefixes, []byte(badgerKeyPrefix+day+":"))
	}
	if err := r.db.DropPrefix(prefixes...); err != nil {
		return 0, fmt.Errorf("drop expired partitions: %w", err)
	}
	r.log.Info().Int("partitions", len(prefixes)).Msg("removed expired partitions")
	return len(prefixes), nil
}

// Close closes the underlying store.
func (r *BadgerMessageRepo) Close() error {
	return r.db.Close()
}

type badgerLogger struct {
	log zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error().Msgf(strings.TrimSpace(format), args...)
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn().Msgf(strings.TrimSpace(format), args...)
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Debug().Msgf(strings.TrimSpace(format), args...)
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Trace().Msgf(strings.TrimSpace(format), args...)
}
