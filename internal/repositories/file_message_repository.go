package repositories

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"chat-relay/internal/models"
)

const partitionExt = ".json"

// FileMessageRepo stores one JSON array file per calendar day under dir.
type FileMessageRepo struct {
	dir  string
	log  zerolog.Logger
	opts options
}

// NewFileMessageRepo creates dir if needed and returns the repository.
func NewFileMessageRepo(dir string, log zerolog.Logger, opts ...Option) (*FileMessageRepo, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &FileMessageRepo{dir: dir, log: log, opts: buildOptions(opts)}, nil
}

// Append adds msg to today's partition by rewriting the whole file. Existing
// records are carried over byte for byte, including ones that no longer decode.
// A partition that is not a JSON array is quarantined and replaced by a fresh
// log holding only msg; any other read failure is returned and nothing is written.
func (r *FileMessageRepo) Append(_ context.Context, msg models.Message) error {
	if msg.Ephemeral() {
		return ErrEphemeralMessage
	}

	day := r.opts.today()
	records, err := r.readRecords(day)
	if errors.Is(err, ErrCorruptPartition) {
		r.log.Warn().Err(err).Str("day", day).Msg("starting a fresh partition")
		r.quarantine(day)
		records = nil
	} else if err != nil {
		return err
	}

	msg.Image = ""
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message %s: %w", msg.ID, err)
	}
	records = append(records, raw)
	return r.writePartition(day, records)
}

// Recent returns today's messages created strictly after now-window. Records
// that fail to decode are skipped.
func (r *FileMessageRepo) Recent(_ context.Context, window time.Duration) ([]models.Message, error) {
	day := r.opts.today()
	records, err := r.readRecords(day)
	if err != nil {
		return []models.Message{}, err
	}
	return r.opts.selectRecent(day, r.decodeRecords(day, records), window), nil
}

// Cleanup deletes partitions dated before the calendar day of now-horizon.
// Files whose names are not dates are left alone.
func (r *FileMessageRepo) Cleanup(_ context.Context, horizon time.Duration) (int, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return 0, fmt.Errorf("list partitions: %w", err)
	}

	cutoff := r.opts.cutoffDay(horizon)
	removed := 0
	var errs []error
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, partitionExt) {
			continue
		}
		day, ok := r.opts.parseDay(strings.TrimSuffix(name, partitionExt))
		if !ok || !day.Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(r.dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove %s: %w", name, err))
			continue
		}
		removed++
		r.log.Info().Str("partition", name).Msg("removed expired partition")
	}
	return removed, errors.Join(errs...)
}

// Close is a no-op for the file backend.
func (r *FileMessageRepo) Close() error {
	return nil
}

func (r *FileMessageRepo) partitionPath(day string) string {
	return filepath.Join(r.dir, day+partitionExt)
}

// readRecords returns the raw elements of a day partition. A missing or empty
// file is an empty log; content that is not a JSON array is ErrCorruptPartition.
func (r *FileMessageRepo) readRecords(day string) ([]json.RawMessage, error) {
	raw, err := os.ReadFile(r.partitionPath(day))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read partition %s: %w", day, err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}

	var records []json.RawMessage
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrCorruptPartition, day, err)
	}
	return records, nil
}

// decodeRecords keeps positions stable: an undecodable record becomes a zero
// Message, which has no instant and is never selected.
func (r *FileMessageRepo) decodeRecords(day string, records []json.RawMessage) []models.Message {
	stored := make([]models.Message, len(records))
	for i, record := range records {
		if err := json.Unmarshal(record, &stored[i]); err != nil {
			r.log.Warn().Err(err).Str("day", day).Int("index", i).Msg("skipping undecodable message")
			stored[i] = models.Message{}
		}
	}
	return stored
}

// quarantine keeps a corrupt partition aside so it can be inspected. The new
// name no longer ends in .json, so cleanup and reads ignore it.
func (r *FileMessageRepo) quarantine(day string) {
	target := fmt.Sprintf("%s.corrupt-%d", r.partitionPath(day), r.opts.now().Unix())
	if err := os.Rename(r.partitionPath(day), target); err != nil {
		r.log.Warn().Err(err).Str("day", day).Msg("could not quarantine corrupt partition")
	}
}

// writePartition replaces the partition file atomically via a temp file rename.
func (r *FileMessageRepo) writePartition(day string, records []json.RawMessage) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("encode partition %s: %w", day, err)
	}

	tmp, err := os.CreateTemp(r.dir, "."+day+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp partition: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp partition: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp partition: %w", err)
	}
	if err := os.Rename(tmpName, r.partitionPath(day)); err != nil {
		return fmt.Errorf("replace partition %s: %w", day, err)
	}
	return nil
}
