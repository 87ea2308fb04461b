package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"screentest-backend/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRecord(id string, createdAt time.Time) *model.GenerationRecord {
	return &model.GenerationRecord{
		ID:            id,
		Fingerprint:   "fp-" + id,
		PageNames:     []string{"Login", "Home"},
		Provider:      "openai",
		Model:         "gpt-4o",
		TestCaseCount: 1,
		CreatedAt:     createdAt,
		Result: &model.GenerationResult{
			AllTestCases: []model.TestCase{{Type: "functional", Title: "Login works", TestSteps: "1. Sign in"}},
			Categorized:  map[string][]string{"functional": {"Login works: 1. Sign in"}},
		},
	}
}

func backends(t *testing.T) map[string]Storage {
	t.Helper()
	disk := NewDiskStorage(t.TempDir(), 2)
	require.NoError(t, disk.Init())
	t.Cleanup(func() { _ = disk.Close() })
	return map[string]Storage{
		"memory": NewMemoryStorage(),
		"disk":   disk,
	}
}

func TestStorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
			for i, id := range []string{"a", "b", "c"} {
				require.NoError(t, store.SaveGeneration(ctx, newRecord(id, base.Add(time.Duration(i)*time.Minute))))
			}

			got, err := store.GetGeneration(ctx, "a")
			require.NoError(t, err)
			assert.Equal(t, "fp-a", got.Fingerprint)
			assert.Equal(t, "Login works", got.Result.AllTestCases[0].Title)
			assert.True(t, got.CreatedAt.Equal(base))

			list, err := store.ListGenerations(ctx, 0)
			require.NoError(t, err)
			require.Len(t, list, 3)
			assert.Equal(t, []string{"c", "b", "a"}, []string{list[0].ID, list[1].ID, list[2].ID})

			limited, err := store.ListGenerations(ctx, 2)
			require.NoError(t, err)
			assert.Len(t, limited, 2)

			require.NoError(t, store.DeleteGeneration(ctx, "b"))
			_, err = store.GetGeneration(ctx, "b")
			assert.ErrorIs(t, err, ErrGenerationNotFound)
			assert.ErrorIs(t, store.DeleteGeneration(ctx, "b"), ErrGenerationNotFound)

			list, err = store.ListGenerations(ctx, 0)
			require.NoError(t, err)
			assert.Len(t, list, 2)
		})
	}
}

func TestStorageReturnsCopies(t *testing.T) {
	ctx := context.Background()
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			record := newRecord("x", time.Now())
			require.NoError(t, store.SaveGeneration(ctx, record))
			record.Result.AllTestCases[0].Title = "changed after save"

			got, err := store.GetGeneration(ctx, "x")
			require.NoError(t, err)
			assert.Equal(t, "Login works", got.Result.AllTestCases[0].Title)

			got.PageNames[0] = "changed by reader"
			again, err := store.GetGeneration(ctx, "x")
			require.NoError(t, err)
			assert.Equal(t, "Login", again.PageNames[0])
		})
	}
}

func TestStorageRejectsBadIDs(t *testing.T) {
	ctx := context.Background()
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, store.SaveGeneration(ctx, nil), ErrInvalidData)
			assert.ErrorIs(t, store.SaveGeneration(ctx, newRecord("", time.Now())), ErrInvalidData)
			assert.ErrorIs(t, store.SaveGeneration(ctx, newRecord("../escape", time.Now())), ErrInvalidData)

			_, err := store.GetGeneration(ctx, "../escape")
			assert.ErrorIs(t, err, ErrGenerationNotFound)
		})
	}
}

func TestDiskStorageSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	first := NewDiskStorage(dir, 10)
	require.NoError(t, first.Init())
	require.NoError(t, first.SaveGeneration(ctx, newRecord("persisted", time.Now())))
	require.NoError(t, first.Close())

	second := NewDiskStorage(dir, 10)
	require.NoError(t, second.Init())
	got, err := second.GetGeneration(ctx, "persisted")
	require.NoError(t, err)
	assert.Equal(t, []string{"Login", "Home"}, got.PageNames)

	list, err := second.ListGenerations(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 1, list[0].TestCaseCount)

	_, err = os.Stat(filepath.Join(dir, generationsDir, "persisted.json.tmp"))
	assert.True(t, os.IsNotExist(err))
}

func TestDiskStorageEvictsCache(t *testing.T) {
	ctx := context.Background()
	d := NewDiskStorage(t.TempDir(), 2)
	require.NoError(t, d.Init())

	base := time.Now()
	for i, id := range []string{"old", "mid", "new"} {
		require.NoError(t, d.SaveGeneration(ctx, newRecord(id, base.Add(time.Duration(i)*time.Second))))
	}
	assert.Len(t, d.cache, 2)
	assert.NotContains(t, d.cache, "old")

	got, err := d.GetGeneration(ctx, "old")
	require.NoError(t, err, "evicted records are still read from disk")
	assert.Equal(t, "fp-old", got.Fingerprint)
}

func TestDiskStorageBackup(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	d := NewDiskStorage(dir, 10)
	require.NoError(t, d.Init())
	require.NoError(t, d.SaveGeneration(ctx, newRecord("a", time.Now())))

	require.NoError(t, d.Backup())

	backups, err := os.ReadDir(filepath.Join(dir, "backup"))
	require.NoError(t, err)
	require.Len(t, backups, 1)
	backupDir := filepath.Join(dir, "backup", backups[0].Name())
	assert.FileExists(t, filepath.Join(backupDir, indexFile))
	assert.FileExists(t, filepath.Join(backupDir, generationsDir, "a.json"))
}

func TestDiskStorageCorruptRecord(t *testing.T) {
	dir := t.TempDir()
	d := NewDiskStorage(dir, 10)
	require.NoError(t, d.Init())
	require.NoError(t, os.WriteFile(filepath.Join(dir, generationsDir, "bad.json"), []byte("{not json"), 0644))

	_, err := d.GetGeneration(context.Background(), "bad")
	assert.ErrorIs(t, err, ErrInvalidData)
}
