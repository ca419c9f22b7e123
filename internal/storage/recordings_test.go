package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codebuildervaibhav/transcribrr/internal/types"
)

func openTestStore(t *testing.T) *RecordingStore {
	t.Helper()
	store, err := OpenRecordingStore(filepath.Join(t.TempDir(), "db", "recordings.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRecordingStoreCRUD(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	rec, err := store.Create(ctx, types.Recording{
		Name:          "meeting.mp3",
		FilePath:      "/data/meeting.mp3",
		Duration:      62.5,
		RawTranscript: "hello there",
	})
	require.NoError(t, err)
	require.NotZero(t, rec.ID)
	assert.Equal(t, types.RecordingTranscribed, rec.Status())

	got, err := store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "meeting.mp3", got.Name)
	assert.Equal(t, 62.5, got.Duration)
	assert.Empty(t, got.ProcessedText)

	byPath, err := store.GetByPath(ctx, "/data/meeting.mp3")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, byPath.ID)

	require.NoError(t, store.Delete(ctx, rec.ID))
	_, err = store.Get(ctx, rec.ID)
	assert.ErrorIs(t, err, ErrRecordingNotFound)
	assert.ErrorIs(t, store.Delete(ctx, rec.ID), types.ErrInputNotFound)
}

func TestRecordingStoreUpdate(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	clock := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return clock }

	rec, err := store.Create(ctx, types.Recording{Name: "a.wav", FilePath: "/a.wav", RawTranscript: "raw"})
	require.NoError(t, err)

	clock = clock.Add(time.Hour)
	processed := "summary"
	updated, err := store.Update(ctx, rec.ID, RecordingUpdate{ProcessedText: &processed})
	require.NoError(t, err)

	assert.Equal(t, "summary", updated.ProcessedText)
	assert.Equal(t, "raw", updated.RawTranscript, "untouched fields are kept")
	assert.Equal(t, types.RecordingProcessed, updated.Status())
	assert.True(t, updated.UpdatedAt.Equal(clock))
	assert.True(t, updated.DateCreated.Equal(clock.Add(-time.Hour)))

	_, err = store.Update(ctx, 999, RecordingUpdate{ProcessedText: &processed})
	assert.ErrorIs(t, err, ErrRecordingNotFound)
}

func TestRecordingStoreConstraints(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := store.Create(ctx, types.Recording{Name: "a.wav", FilePath: "/a.wav"})
	require.NoError(t, err)

	_, err = store.Create(ctx, types.Recording{Name: "again.wav", FilePath: "/a.wav"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicatePath)
	assert.False(t, errors.Is(err, ErrNotNull))
	assert.Equal(t, "A recording for this file already exists.", types.UserMessage(err))

	_, err = store.Create(ctx, types.Recording{Name: "", FilePath: "/b.wav"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotNull)
	assert.ErrorIs(t, err, types.ErrPersistence)

	rows, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 1, "rejected writes leave no rows")
}

func TestRecordingStoreSearch(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for _, rec := range []types.Recording{
		{Name: "standup.mp3", FilePath: "/1", RawTranscript: "quarterly numbers"},
		{Name: "call.mp3", FilePath: "/2", RawTranscript: "nothing", ProcessedText: "quarterly summary"},
		{Name: "100%_done.mp3", FilePath: "/3", RawTranscript: "misc"},
	} {
		_, err := store.Create(ctx, rec)
		require.NoError(t, err)
	}

	hits, err := store.Search(ctx, "quarterly")
	require.NoError(t, err)
	assert.Len(t, hits, 2)

	hits, err = store.Search(ctx, "%_")
	require.NoError(t, err)
	require.Len(t, hits, 1, "wildcards are matched literally")
	assert.Equal(t, "100%_done.mp3", hits[0].Name)

	all, err := store.Search(ctx, "  ")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestRecordingStoreFolderCascade(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	rec, err := store.Create(ctx, types.Recording{Name: "a.wav", FilePath: "/a.wav"})
	require.NoError(t, err)
	folder, err := store.CreateFolder(ctx, "work")
	require.NoError(t, err)
	require.NoError(t, store.AddToFolder(ctx, rec.ID, folder))

	n, err := store.FolderCount(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, store.Delete(ctx, rec.ID))
	n, err = store.FolderCount(ctx, rec.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}
