package cleanup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeAged(t *testing.T, path string, age time.Duration) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("data"), 0644))
	mtime := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func TestSweepRemovesOnlyOldFiles(t *testing.T) {
	root := t.TempDir()
	old := filepath.Join(root, "chunks", "job-1", "chunk_000.wav")
	fresh := filepath.Join(root, "download.m4a")
	writeAged(t, old, 48*time.Hour)
	writeAged(t, fresh, time.Minute)

	s := NewScheduler(time.Hour, 24*time.Hour, root)
	assert.Equal(t, 1, s.Sweep())

	assert.NoFileExists(t, old)
	assert.FileExists(t, fresh)
	assert.NoDirExists(t, filepath.Join(root, "chunks"), "emptied directories are removed")
	assert.DirExists(t, root)
}

func TestSweepMultipleRoots(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	writeAged(t, filepath.Join(a, "x.wav"), 2*time.Hour)
	writeAged(t, filepath.Join(b, "y.wav"), 2*time.Hour)

	s := NewScheduler(time.Hour, time.Hour, a, b)
	assert.Equal(t, 2, s.Sweep())
}

func TestSweepMissingDir(t *testing.T) {
	s := NewScheduler(time.Hour, time.Hour, filepath.Join(t.TempDir(), "missing"))
	assert.Equal(t, 0, s.Sweep())
}

func TestStopIsIdempotent(t *testing.T) {
	s := NewScheduler(time.Hour, time.Hour, t.TempDir())
	s.Start()
	s.Stop()
	s.Stop()
}

func TestEnsureDirs(t *testing.T) {
	root := t.TempDir()
	a := filepath.Join(root, "temp")
	b := filepath.Join(root, "out", "nested")
	require.NoError(t, EnsureDirs(a, b))
	assert.DirExists(t, a)
	assert.DirExists(t, b)
}
