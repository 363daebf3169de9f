package repositories

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-relay/internal/models"
)

var testLoc = time.FixedZone("ICT", 7*60*60)

func fixedNow() time.Time {
	return time.Date(2026, 3, 10, 12, 0, 0, 0, testLoc)
}

func newFileRepo(t *testing.T, now func() time.Time) (*FileMessageRepo, string) {
	t.Helper()
	dir := t.TempDir()
	repo, err := NewFileMessageRepo(dir, zerolog.Nop(), WithClock(now), WithLocation(testLoc))
	require.NoError(t, err)
	return repo, dir
}

func TestFileAppendAndRecent(t *testing.T) {
	ctx := context.Background()
	repo, dir := newFileRepo(t, fixedNow)

	msg := models.NewMessage("m1", "Ali", "alice", "hi", "", fixedNow())
	require.NoError(t, repo.Append(ctx, msg))

	recent, err := repo.Recent(ctx, 15*time.Minute)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "m1", recent[0].ID)
	assert.Equal(t, "alice", recent[0].RealUser)
	assert.Equal(t, []string{}, recent[0].Likes)

	raw, err := os.ReadFile(filepath.Join(dir, "2026-03-10.json"))
	require.NoError(t, err)
	var onDisk []map[string]any
	require.NoError(t, json.Unmarshal(raw, &onDisk))
	require.Len(t, onDisk, 1)
	assert.NotContains(t, onDisk[0], "image")
	assert.Equal(t, "2026-03-10 12:00:00", onDisk[0]["timestamp"])
	assert.Equal(t, "12:00:00", onDisk[0]["time"])
}

func TestFileAppendRejectsImages(t *testing.T) {
	repo, dir := newFileRepo(t, fixedNow)

	msg := models.NewMessage("img", "a", "alice", "", "data:image/png;base64,AAAA", fixedNow())
	err := repo.Append(context.Background(), msg)

	require.ErrorIs(t, err, ErrEphemeralMessage)
	_, statErr := os.Stat(filepath.Join(dir, "2026-03-10.json"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestFileRecentWindowBoundary(t *testing.T) {
	ctx := context.Background()
	repo, _ := newFileRepo(t, fixedNow)
	now := fixedNow()

	for _, m := range []models.Message{
		models.NewMessage("old", "a", "a", "20m", "", now.Add(-20*time.Minute)),
		models.NewMessage("edge", "a", "a", "15m", "", now.Add(-15*time.Minute)),
		models.NewMessage("inside", "a", "a", "14m", "", now.Add(-14*time.Minute)),
		models.NewMessage("now", "a", "a", "0m", "", now),
	} {
		require.NoError(t, repo.Append(ctx, m))
	}

	recent, err := repo.Recent(ctx, 15*time.Minute)
	require.NoError(t, err)

	ids := make([]string, 0, len(recent))
	for _, m := range recent {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"inside", "now"}, ids)
}

func TestFileRecentBackfillsLegacyRecords(t *testing.T) {
	ctx := context.Background()
	repo, dir := newFileRepo(t, fixedNow)

	legacy := `[
  {"time": "11:55:00", "timestamp": "2026-03-10 11:55:00", "user": "bob", "text": "old schema"},
  {"time": "??", "timestamp": "not a time", "user": "x", "text": "skipped"},
  {"user": "nobody", "text": "no timestamp"}
]`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "2026-03-10.json"), []byte(legacy), 0o644))

	first, err := repo.Recent(ctx, 15*time.Minute)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, "bob", first[0].RealUser)
	assert.Equal(t, "old schema", first[0].Text)
	assert.Equal(t, []string{}, first[0].Likes)
	assert.NotEmpty(t, first[0].ID)

	second, err := repo.Recent(ctx, 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, first[0].ID, second[0].ID, "back-filled ids must be stable across reads")
}

func TestFileCorruptPartitionDegrades(t *testing.T) {
	ctx := context.Background()
	repo, dir := newFileRepo(t, fixedNow)
	path := filepath.Join(dir, "2026-03-10.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	recent, err := repo.Recent(ctx, time.Hour)
	require.ErrorIs(t, err, ErrCorruptPartition)
	assert.Empty(t, recent)

	require.NoError(t, repo.Append(ctx, models.NewMessage("m1", "a", "a", "fresh", "", fixedNow())))
	recent, err = repo.Recent(ctx, time.Hour)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "fresh", recent[0].Text)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	quarantined := false
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "2026-03-10.json.corrupt-") {
			quarantined = true
		}
	}
	assert.True(t, quarantined)
}

func TestFileMistypedRecordIsSkippedNotFatal(t *testing.T) {
	ctx := context.Background()
	repo, dir := newFileRepo(t, fixedNow)
	path := filepath.Join(dir, "2026-03-10.json")
	day := `[
  {"id": "a", "time": "11:59:00", "timestamp": "2026-03-10 11:59:00", "user": "alice", "realUser": "alice", "text": "kept", "likes": []},
  {"id": "b", "time": "11:59:00", "timestamp": 1773115140, "user": "bob", "realUser": "bob", "text": "bad type", "likes": []}
]`
	require.NoError(t, os.WriteFile(path, []byte(day), 0o644))

	recent, err := repo.Recent(ctx, 15*time.Minute)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "a", recent[0].ID)

	require.NoError(t, repo.Append(ctx, models.NewMessage("c", "carol", "carol", "new", "", fixedNow())))

	recent, err = repo.Recent(ctx, 15*time.Minute)
	require.NoError(t, err)
	ids := make([]string, 0, len(recent))
	for _, m := range recent {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"a", "c"}, ids)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var onDisk []map[string]any
	require.NoError(t, json.Unmarshal(raw, &onDisk))
	require.Len(t, onDisk, 3, "undecodable records are carried over, not dropped")
	assert.Equal(t, float64(1773115140), onDisk[1]["timestamp"])

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".corrupt-")
	}
}

func TestFileAppendReturnsReadErrorsWithoutOverwriting(t *testing.T) {
	ctx := context.Background()
	repo, dir := newFileRepo(t, fixedNow)
	path := filepath.Join(dir, "2026-03-10.json")
	require.NoError(t, os.Mkdir(path, 0o755))

	err := repo.Append(ctx, models.NewMessage("m1", "a", "a", "x", "", fixedNow()))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCorruptPartition)

	info, statErr := os.Stat(path)
	require.NoError(t, statErr)
	assert.True(t, info.IsDir(), "partition must be left in place")
}

func TestFileRecentMissingPartition(t *testing.T) {
	repo, _ := newFileRepo(t, fixedNow)

	recent, err := repo.Recent(context.Background(), time.Hour)

	require.NoError(t, err)
	assert.Empty(t, recent)
}

func TestFileCleanupRetainsTodayAndYesterday(t *testing.T) {
	repo, dir := newFileRepo(t, fixedNow)
	for _, name := range []string{
		"2026-03-10.json",
		"2026-03-09.json",
		"2026-03-08.json",
		"2026-02-01.json",
		"notes.json",
		"2026-13-45.json",
		"readme.txt",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("[]"), 0o644))
	}

	removed, err := repo.Cleanup(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	for _, kept := range []string{"2026-03-10.json", "2026-03-09.json", "notes.json", "2026-13-45.json", "readme.txt"} {
		assert.FileExists(t, filepath.Join(dir, kept))
	}
	assert.NoFileExists(t, filepath.Join(dir, "2026-03-08.json"))
	assert.NoFileExists(t, filepath.Join(dir, "2026-02-01.json"))
}

func TestFileSerializedConcurrentAppendsLoseNothing(t *testing.T) {
	ctx := context.Background()
	repo, _ := newFileRepo(t, fixedNow)

	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			mu.Lock()
			defer mu.Unlock()
			msg := models.NewMessage(string(rune('A'+i)), "u", "u", "x", "", fixedNow())
			assert.NoError(t, repo.Append(ctx, msg))
		}(i)
	}
	wg.Wait()

	recent, err := repo.Recent(ctx, time.Hour)
	require.NoError(t, err)
	assert.Len(t, recent, 40)
}
