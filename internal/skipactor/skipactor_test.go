package skipactor

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/openmined/driftlink/internal/mapping"
	"github.com/openmined/driftlink/internal/sched"
	"github.com/openmined/driftlink/internal/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	mu       sync.Mutex
	scanned  []string
	complete bool
	events   []map[string]map[string]struct{}
}

func (f *fakeSink) LocalScanned(localRoot, subPath string, sig vfs.Signature) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scanned = append(f.scanned, subPath)
}

func (f *fakeSink) LocalScanComplete() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.complete = true
}

func (f *fakeSink) Events(byLocalRoot map[string]map[string]struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, byLocalRoot)
}

func TestSkipActor_ScanEmitsSurvivingEntriesThenComplete(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".git", "HEAD"), []byte("x"), 0o644))

	m, err := mapping.New([][2]string{{dir, "work"}})
	require.NoError(t, err)

	sink := &fakeSink{}
	s := sched.New()
	a := New(s, m, sink)
	a.SendScan()

	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return sink.complete
	}, time.Second, 5*time.Millisecond)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Contains(t, sink.scanned, "a.txt")
	assert.NotContains(t, sink.scanned, ".git/HEAD")
}

func TestSkipActor_PathsRoutesToOwningRootAndFiltersIgnored(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()
	m, err := mapping.New([][2]string{{dirA, "x"}, {dirB, "y"}})
	require.NoError(t, err)

	sink := &fakeSink{}
	s := sched.New()
	a := New(s, m, sink)

	require.NoError(t, os.WriteFile(filepath.Join(dirA, "keep.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dirA, "drop.log"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dirB, "other.txt"), []byte("x"), 0o644))

	a.SendPaths(map[string]struct{}{
		filepath.Join(dirA, "keep.txt"): {},
		filepath.Join(dirA, "drop.log"): {},
		filepath.Join(dirB, "other.txt"): {},
	})

	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return len(sink.events) == 1
	}, time.Second, 5*time.Millisecond)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	byRoot := sink.events[0]
	require.Contains(t, byRoot, dirA)
	require.Contains(t, byRoot, dirB)
	_, keepOK := byRoot[dirA]["keep.txt"]
	assert.True(t, keepOK)
	_, dropOK := byRoot[dirA]["drop.log"]
	assert.False(t, dropOK)
	_, otherOK := byRoot[dirB]["other.txt"]
	assert.True(t, otherOK)
}
