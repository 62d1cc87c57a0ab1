package syncactor

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/openmined/driftlink/internal/mapping"
	"github.com/openmined/driftlink/internal/rpcproto"
	"github.com/openmined/driftlink/internal/sched"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAgent struct {
	mu   sync.Mutex
	msgs []Msg
}

func (f *fakeAgent) Send(msg Msg) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
}

func (f *fakeAgent) snapshot() []Msg {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Msg, len(f.msgs))
	copy(out, f.msgs)
	return out
}

type fakeStatus struct {
	mu        sync.Mutex
	syncing   int
	files     int
	bytesSent int
}

func (f *fakeStatus) Syncing() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncing++
}

func (f *fakeStatus) FilesAndBytes(files, bytes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files += files
	f.bytesSent += bytes
}

func bootstrap(t *testing.T, localRoot, remoteRoot string) (*SyncActor, *fakeAgent, *fakeStatus) {
	t.Helper()
	m, err := mapping.New([][2]string{{localRoot, remoteRoot}})
	require.NoError(t, err)

	agent := &fakeAgent{}
	status := &fakeStatus{}
	s := sched.New()
	a := New(s, m, agent, status)

	// Finish the empty bootstrap scan so the actor transitions to Waiting.
	a.LocalScanComplete()
	a.RemoteScanAck()

	require.Eventually(t, func() bool {
		return containsComplete(agent.snapshot())
	}, time.Second, 5*time.Millisecond)

	return a, agent, status
}

func containsComplete(msgs []Msg) bool {
	for _, m := range msgs {
		if m.Kind == MsgComplete {
			return true
		}
	}
	return false
}

func TestSyncActor_HappyPathCreatesFileThenCompletes(t *testing.T) {
	dir := t.TempDir()
	a, agent, status := bootstrap(t, dir, "work")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello world!"), 0o644))

	a.Events(map[string]map[string]struct{}{dir: {"a.txt": {}}})

	require.Eventually(t, func() bool {
		return len(agent.snapshot()) >= 3
	}, time.Second, 5*time.Millisecond)

	msgs := agent.snapshot()
	var sawPrepare, sawChunk, sawComplete bool
	for _, m := range msgs {
		switch m.Kind {
		case MsgRpc:
			if m.Rpc.Type == rpcproto.RpcPrepareFile {
				sawPrepare = true
				assert.Equal(t, 1, m.Rpc.TotalBlocks)
			}
		case MsgSendChunk:
			sawChunk = true
			assert.Equal(t, "a.txt", m.SubPath)
		case MsgComplete:
			sawComplete = true
		}
	}
	assert.True(t, sawPrepare)
	assert.True(t, sawChunk)
	assert.True(t, sawComplete)

	status.mu.Lock()
	defer status.mu.Unlock()
	assert.GreaterOrEqual(t, status.syncing, 1)
}

func TestSyncActor_NoOpWhenLocalMatchesVfsMirror(t *testing.T) {
	dir := t.TempDir()
	a, agent, _ := bootstrap(t, dir, "work")

	// A path that was never created locally and isn't in the Vfs mirror:
	// both sides are Absent, so no RPC should be emitted beyond Complete.
	a.Events(map[string]map[string]struct{}{dir: {"ghost.txt": {}}})

	require.Eventually(t, func() bool {
		return containsComplete(agent.snapshot())
	}, time.Second, 5*time.Millisecond)

	for _, m := range agent.snapshot() {
		assert.NotEqual(t, MsgRpc, m.Kind)
		assert.NotEqual(t, MsgSendChunk, m.Kind)
	}
}

func TestSyncActor_TwoRootsOrderedBeforeEachOther(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()
	m, err := mapping.New([][2]string{{dirA, "x"}, {dirB, "y"}})
	require.NoError(t, err)

	agent := &fakeAgent{}
	status := &fakeStatus{}
	s := sched.New()
	a := New(s, m, agent, status)
	a.LocalScanComplete()
	a.RemoteScanAck()

	require.Eventually(t, func() bool {
		return containsComplete(agent.snapshot())
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dirA, "a.txt"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dirB, "b.txt"), []byte("b"), 0o644))

	a.Events(map[string]map[string]struct{}{
		dirA: {"a.txt": {}},
		dirB: {"b.txt": {}},
	})

	require.Eventually(t, func() bool {
		msgs := agent.snapshot()
		completes := 0
		for _, m := range msgs {
			if m.Kind == MsgComplete {
				completes++
			}
		}
		return completes >= 2
	}, time.Second, 5*time.Millisecond)

	msgs := agent.snapshot()
	var xIndex, yIndex = -1, -1
	for i, m := range msgs {
		if m.Kind == MsgRpc && m.Rpc.Path == "x/a.txt" && xIndex == -1 {
			xIndex = i
		}
		if m.Kind == MsgRpc && m.Rpc.Path == "y/b.txt" && yIndex == -1 {
			yIndex = i
		}
	}
	require.NotEqual(t, -1, xIndex)
	require.NotEqual(t, -1, yIndex)
	assert.Less(t, xIndex, yIndex)
}

func TestSyncActor_VanishedFileBetweenEventAndStat(t *testing.T) {
	dir := t.TempDir()
	a, agent, _ := bootstrap(t, dir, "work")

	// File never existed (simulating create-then-delete within one
	// debounce window): local stat is Absent, Vfs is Absent, so the whole
	// cycle yields zero RPCs beyond the Complete barrier.
	a.Events(map[string]map[string]struct{}{dir: {"gone.txt": {}}})

	require.Eventually(t, func() bool {
		return containsComplete(agent.snapshot())
	}, time.Second, 5*time.Millisecond)

	for _, m := range agent.snapshot() {
		assert.NotEqual(t, MsgSendChunk, m.Kind)
	}
}
