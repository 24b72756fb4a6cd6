package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewFileWatcher(t *testing.T) {
	dir := t.TempDir()

	w, err := NewFileWatcher(dir, WithDebounceDelay(500*time.Millisecond), WithWatcherLogger(zap.NewNop()))
	require.NoError(t, err)
	assert.Equal(t, dir, w.Dir())
	assert.Equal(t, 500*time.Millisecond, w.debounceDelay)
	assert.False(t, w.IsRunning())
}

func TestNewFileWatcher_InvalidDir(t *testing.T) {
	_, err := NewFileWatcher(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)

	file := filepath.Join(t.TempDir(), "x.yaml")
	require.NoError(t, os.WriteFile(file, []byte("id: x"), 0o644))
	_, err = NewFileWatcher(file)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a directory")
}

func TestFileWatcher_StartStop(t *testing.T) {
	w, err := NewFileWatcher(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, w.Start(ctx))
	assert.True(t, w.IsRunning())
	assert.Error(t, w.Start(ctx))

	require.NoError(t, w.Stop())
	assert.False(t, w.IsRunning())
	assert.NoError(t, w.Stop())
}

func TestFileWatcher_DetectsChanges(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "existing.yaml")
	require.NoError(t, os.WriteFile(existing, []byte("id: a"), 0o644))

	w, err := NewFileWatcher(dir,
		WithPollInterval(20*time.Millisecond),
		WithDebounceDelay(20*time.Millisecond),
	)
	require.NoError(t, err)

	var (
		mu  sync.Mutex
		got = make(map[string]FileOp)
	)
	w.OnChange(func(events []FileEvent) {
		mu.Lock()
		defer mu.Unlock()
		for _, e := range events {
			got[filepath.Base(e.Path)] = e.Op
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.yml"), []byte("id: b"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))
	require.NoError(t, os.Remove(existing))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got["new.yml"] == FileOpCreate && got["existing.yaml"] == FileOpRemove
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	_, sawText := got["notes.txt"]
	mu.Unlock()
	assert.False(t, sawText)
}

func TestFileOp_String(t *testing.T) {
	assert.Equal(t, "CREATE", FileOpCreate.String())
	assert.Equal(t, "WRITE", FileOpWrite.String())
	assert.Equal(t, "REMOVE", FileOpRemove.String())
	assert.Equal(t, "UNKNOWN", FileOp(99).String())
}

func TestIsDefinitionFile(t *testing.T) {
	assert.True(t, IsDefinitionFile("a.yaml"))
	assert.True(t, IsDefinitionFile("B.YML"))
	assert.False(t, IsDefinitionFile("a.json"))
	assert.False(t, IsDefinitionFile("yaml"))
}
