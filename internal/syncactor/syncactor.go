// Package syncactor implements SyncActor: it maintains the remote Vfs
// mirror and computes the minimal ordered RPC stream that reconciles it
// with the observed local tree. Grounded on the teacher's sync_engine.go
// (reconcile/executeReconcileOperations/hasModified/isConflict) remapped
// from local/remote file-metadata reconciliation onto a Vfs-signature diff.
package syncactor

import (
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/openmined/driftlink/internal/mapping"
	"github.com/openmined/driftlink/internal/queue"
	"github.com/openmined/driftlink/internal/rpcproto"
	"github.com/openmined/driftlink/internal/sched"
	"github.com/openmined/driftlink/internal/vfs"
	"github.com/openmined/driftlink/internal/walker"
)

// zeroByteRecheckDelay is how long a deferred zero-byte file waits before
// SyncActor re-diffs it on its own, so a path touched only once still
// converges without depending on a second filesystem event arriving.
const zeroByteRecheckDelay = 500 * time.Millisecond

// AgentSink is the outbound edge to AgentRpcActor.
type AgentSink interface {
	Send(msg Msg)
}

// StatusSink is the outbound edge to StatusActor.
type StatusSink interface {
	Syncing()
	FilesAndBytes(files, bytes int)
}

// state is a tagged sum type: RemoteScanning (bootstrap) or Waiting
// (steady state).
type state interface {
	isState()
}

type remoteScanningState struct {
	localPaths    map[string]map[string]struct{} // localRoot -> subPaths
	remotePaths   map[string]map[string]struct{} // remoteRoot -> subPaths
	scansComplete int
}

func (remoteScanningState) isState() {}

type waitingState struct{}

func (waitingState) isState() {}

// SyncActor owns the remote Vfs mirror exclusively; no other actor may
// touch it.
type SyncActor struct {
	actor   *sched.Actor
	sched   *sched.Scheduler
	mapping *mapping.Mapping
	agent   AgentSink
	status  StatusSink

	vfsByRemoteRoot map[string]*vfs.Vfs[vfs.Signature]
	current         state

	// inFlight approximates the "syncing in-flight" suppression: a subPath
	// qualified as remoteRoot+"/"+subPath stays in this set from the moment
	// creation-pass ops are queued for it (deletions do not add it) until
	// the next full Complete barrier is acked,
	// guarding against re-diffing a path whose stream hasn't drained yet.
	inFlight map[string]struct{}

	// zeroByteSeen counts consecutive cycles a freshly-created file was
	// observed at size zero, so a single still-being-written moment doesn't
	// prematurely sync an empty PrepareFile.
	zeroByteSeen map[string]int
}

type syncMsg interface{ isSyncMsg() }

type localScannedMsg struct {
	localRoot, subPath string
	sig                vfs.Signature
}

func (localScannedMsg) isSyncMsg() {}

type localScanCompleteMsg struct{}

func (localScanCompleteMsg) isSyncMsg() {}

type remoteScannedMsg struct {
	remoteRoot, subPath string
	sig                 vfs.Signature
}

func (remoteScannedMsg) isSyncMsg() {}

type remoteScanAckMsg struct{}

func (remoteScanAckMsg) isSyncMsg() {}

type eventsMsg struct {
	byLocalRoot map[string]map[string]struct{}
}

func (eventsMsg) isSyncMsg() {}

type drainedMsg struct{}

func (drainedMsg) isSyncMsg() {}

// zeroByteRecheckMsg re-enters a single path into executeSync without
// waiting for another filesystem event, so a zero-byte file deferred once
// still gets diffed a second time and either synced or deferred again.
type zeroByteRecheckMsg struct {
	localRoot, subPath string
}

func (zeroByteRecheckMsg) isSyncMsg() {}

// New spawns a SyncActor bootstrapping into RemoteScanning.
func New(s *sched.Scheduler, m *mapping.Mapping, agent AgentSink, status StatusSink) *SyncActor {
	vfsByRoot := make(map[string]*vfs.Vfs[vfs.Signature], m.Len())
	for _, e := range m.Entries() {
		vfsByRoot[e.RemoteRoot] = vfs.New[vfs.Signature]()
	}

	a := &SyncActor{
		sched:           s,
		mapping:         m,
		agent:           agent,
		status:          status,
		vfsByRemoteRoot: vfsByRoot,
		inFlight:        make(map[string]struct{}),
		zeroByteSeen:    make(map[string]int),
		current: remoteScanningState{
			localPaths:  make(map[string]map[string]struct{}),
			remotePaths: make(map[string]map[string]struct{}),
		},
	}
	a.actor = s.Spawn("sync", a.receive)
	return a
}

// LocalScanned implements skipactor.Sink.
func (a *SyncActor) LocalScanned(localRoot, subPath string, sig vfs.Signature) {
	a.actor.Send(localScannedMsg{localRoot: localRoot, subPath: subPath, sig: sig})
}

// LocalScanComplete implements skipactor.Sink.
func (a *SyncActor) LocalScanComplete() {
	a.actor.Send(localScanCompleteMsg{})
}

// Events implements skipactor.Sink.
func (a *SyncActor) Events(byLocalRoot map[string]map[string]struct{}) {
	a.actor.Send(eventsMsg{byLocalRoot: byLocalRoot})
}

// RemoteScanned is delivered by AgentRpcActor for each Scanned response
// during bootstrap.
func (a *SyncActor) RemoteScanned(remoteRoot, subPath string, sig vfs.Signature) {
	a.actor.Send(remoteScannedMsg{remoteRoot: remoteRoot, subPath: subPath, sig: sig})
}

// RemoteScanAck is delivered once the agent's bootstrap FullScan finishes.
func (a *SyncActor) RemoteScanAck() {
	a.actor.Send(remoteScanAckMsg{})
}

// Drained is delivered by AgentRpcActor once a Complete barrier has been
// acked and its buffer emptied.
func (a *SyncActor) Drained() {
	a.actor.Send(drainedMsg{})
}

// Other is delivered by AgentRpcActor for any Response it didn't recognize;
// the external-interfaces contract forwards these as-is. No concrete agent
// in this tree emits them yet, so this is a logging sink.
func (a *SyncActor) Other(kind string, data map[string]any) {
	slog.Debug("syncactor: unrecognized response forwarded", "kind", kind, "data", data)
}

func (a *SyncActor) receive(msg any) {
	m, ok := msg.(syncMsg)
	if !ok {
		slog.Warn("syncactor: unexpected message", "type", msg)
		return
	}

	switch s := a.current.(type) {
	case remoteScanningState:
		a.handleRemoteScanning(s, m)
	case waitingState:
		a.handleWaiting(m)
	}
}

func (a *SyncActor) handleRemoteScanning(s remoteScanningState, msg syncMsg) {
	switch m := msg.(type) {
	case localScannedMsg:
		unionInto(s.localPaths, m.localRoot, m.subPath)
		a.current = s

	case eventsMsg:
		for root, subs := range m.byLocalRoot {
			for sub := range subs {
				unionInto(s.localPaths, root, sub)
			}
		}
		a.current = s

	case remoteScannedMsg:
		if vfsRoot, ok := a.vfsByRemoteRoot[m.remoteRoot]; ok {
			vfsRoot.OverwriteUpdate(m.subPath, m.sig)
		}
		unionInto(s.remotePaths, m.remoteRoot, m.subPath)
		a.current = s

	case localScanCompleteMsg:
		s.scansComplete++
		a.maybeFinishBootstrap(s)

	case remoteScanAckMsg:
		s.scansComplete++
		a.maybeFinishBootstrap(s)

	default:
		// stray drainedMsg etc. during bootstrap: harmless, ignore.
	}
}

func (a *SyncActor) maybeFinishBootstrap(s remoteScanningState) {
	if s.scansComplete < 2 {
		a.current = s
		return
	}

	merged := make(map[string]map[string]struct{}, len(s.localPaths))
	for root, subs := range s.localPaths {
		merged[root] = cloneSet(subs)
	}
	for _, e := range a.mapping.Entries() {
		for sub := range s.remotePaths[e.RemoteRoot] {
			if merged[e.LocalRoot] == nil {
				merged[e.LocalRoot] = make(map[string]struct{})
			}
			merged[e.LocalRoot][sub] = struct{}{}
		}
	}

	a.current = waitingState{}
	a.executeSync(merged)
}

func (a *SyncActor) handleWaiting(msg syncMsg) {
	switch m := msg.(type) {
	case eventsMsg:
		a.executeSync(m.byLocalRoot)
	case drainedMsg:
		a.inFlight = make(map[string]struct{})
	case zeroByteRecheckMsg:
		a.executeSync(map[string]map[string]struct{}{m.localRoot: {m.subPath: {}}})
	default:
		// acks and stray timers are ignored in Waiting.
	}
}

func unionInto(dst map[string]map[string]struct{}, key, value string) {
	if dst[key] == nil {
		dst[key] = make(map[string]struct{})
	}
	dst[key][value] = struct{}{}
}

func cloneSet(src map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(src))
	for v := range src {
		out[v] = struct{}{}
	}
	return out
}

// pathOp is one path's contribution to an ordering pass: the messages to
// emit, and the Vfs value to predictively apply once they're sent.
type pathOp struct {
	subPath    string
	msgs       []Msg
	predictive vfs.Signature
}

// executeSync computes and streams the minimal RPC sequence for one batch,
// per mapping entry in order, then sends Complete. It returns immediately
// after enqueueing work; AgentRpcActor is the serializer for the actual
// send, so overlapping batches are safe.
func (a *SyncActor) executeSync(paths map[string]map[string]struct{}) {
	anyWork := false
	for _, e := range a.mapping.Entries() {
		if len(paths[e.LocalRoot]) > 0 {
			anyWork = true
			break
		}
	}
	if anyWork {
		a.status.Syncing()
	}

	failures := make(map[string]map[string]struct{})

	for _, e := range a.mapping.Entries() {
		subPaths := paths[e.LocalRoot]
		if len(subPaths) == 0 {
			continue
		}
		vfsRoot := a.vfsByRemoteRoot[e.RemoteRoot]

		creates := queue.NewPriorityQueue[pathOp]()
		deletes := queue.NewPriorityQueue[pathOp]()
		filesTotal := 0
		var example string

		for sub := range subPaths {
			key := e.RemoteRoot + "/" + sub
			if _, busy := a.inFlight[key]; busy {
				continue
			}
			if a.hasConflictMarker(e.LocalRoot, sub) {
				continue
			}

			localAbs := filepath.Join(e.LocalRoot, filepath.FromSlash(sub))
			sigLocal, err := walker.Stat(localAbs)
			if err != nil {
				slog.Error("syncactor: stat failed", "path", localAbs, "error", err)
				unionInto(failures, e.LocalRoot, sub)
				continue
			}
			sigRemote, _ := vfsRoot.Get(sub)

			if sigLocal.Equal(sigRemote) {
				continue
			}

			if a.shouldDeferZeroByteFile(e.LocalRoot, sub, key, sigLocal, sigRemote) {
				continue
			}

			op, delOp, ok := a.diff(e, sub, sigLocal, sigRemote)
			if !ok {
				continue
			}
			if delOp != nil {
				deletes.Enqueue(*delOp, -len(sub))
			}
			if op != nil {
				creates.Enqueue(*op, len(sub))
				if sigLocal.Kind == vfs.KindFile {
					filesTotal++
					example = sub
				}
				a.inFlight[key] = struct{}{}
			}
		}

		if filesTotal > 0 {
			a.agent.Send(IncrementFileTotalMsg(filesTotal, example))
			a.status.FilesAndBytes(filesTotal, 0)
		}

		for _, op := range creates.DequeueAll() {
			a.emit(vfsRoot, op)
		}
		for _, op := range deletes.DequeueAll() {
			a.emit(vfsRoot, op)
		}
	}

	for root, subs := range failures {
		a.Events(map[string]map[string]struct{}{root: subs})
	}

	a.agent.Send(CompleteMsg())
}

func (a *SyncActor) emit(vfsRoot *vfs.Vfs[vfs.Signature], op pathOp) {
	for _, msg := range op.msgs {
		a.agent.Send(msg)
	}
	vfsRoot.OverwriteUpdate(op.subPath, op.predictive)
}

// diff computes the op(s) for one subPath per the step-by-step rules.
// delOp, when non-nil, must be ordered into the deletion pass; op, when
// non-nil, into the creation pass. A Symlink replacing an existing node
// sends its Delete immediately (same-path ordering, not cross-path) and
// only queues the SetSymlink.
func (a *SyncActor) diff(e mapping.Entry, sub string, sigLocal, sigRemote vfs.Signature) (op, delOp *pathOp, ok bool) {
	remotePath := path.Join(e.RemoteRoot, sub)

	switch {
	case sigLocal.IsAbsent() && sigRemote.Kind == vfs.KindDir:
		return nil, &pathOp{
			subPath:    sub,
			msgs:       []Msg{RpcMsgOf(rpcproto.RmDirRpc(remotePath))},
			predictive: vfs.AbsentSignature,
		}, true

	case sigLocal.IsAbsent() && (sigRemote.Kind == vfs.KindFile || sigRemote.Kind == vfs.KindSymlink):
		return nil, &pathOp{
			subPath:    sub,
			msgs:       []Msg{RpcMsgOf(rpcproto.DeleteRpc(remotePath))},
			predictive: vfs.AbsentSignature,
		}, true

	case sigLocal.Kind == vfs.KindDir && sigRemote.IsAbsent():
		return &pathOp{
			subPath:    sub,
			msgs:       []Msg{RpcMsgOf(rpcproto.MkDirRpc(remotePath, uint32(sigLocal.Perm)))},
			predictive: sigLocal,
		}, nil, true

	case sigLocal.Kind == vfs.KindDir && sigRemote.Kind == vfs.KindDir:
		if sigLocal.Perm == sigRemote.Perm {
			return nil, nil, false
		}
		return &pathOp{
			subPath:    sub,
			msgs:       []Msg{RpcMsgOf(rpcproto.SetPermRpc(remotePath, uint32(sigLocal.Perm)))},
			predictive: sigLocal,
		}, nil, true

	case sigLocal.Kind == vfs.KindSymlink:
		if !sigRemote.IsAbsent() {
			// Replace anything else first; this Delete is ordered relative
			// only to this path's own SetSymlink, so send it eagerly.
			a.agent.Send(RpcMsgOf(rpcproto.DeleteRpc(remotePath)))
		}
		return &pathOp{
			subPath:    sub,
			msgs:       []Msg{RpcMsgOf(rpcproto.SetSymlinkRpc(remotePath, sigLocal.Target))},
			predictive: sigLocal,
		}, nil, true

	case sigLocal.Kind == vfs.KindFile:
		return a.diffFile(e, sub, remotePath, sigLocal, sigRemote), nil, true

	default:
		return nil, nil, false
	}
}

func (a *SyncActor) diffFile(e mapping.Entry, sub, remotePath string, sigLocal, sigRemote vfs.Signature) *pathOp {
	permDiffers := sigRemote.Kind != vfs.KindFile || sigRemote.Perm != sigLocal.Perm
	changedBlocks := sigLocal.DiffBlocks(sigRemote)

	if sigRemote.Kind == vfs.KindFile && len(changedBlocks) == 0 && permDiffers {
		// Content identical, only the permission bits changed.
		return &pathOp{
			subPath:    sub,
			msgs:       []Msg{RpcMsgOf(rpcproto.SetPermRpc(remotePath, uint32(sigLocal.Perm)))},
			predictive: sigLocal,
		}
	}

	total := vfs.TotalBlocks(sigLocal.Size)
	msgs := []Msg{
		StartFileMsg(sub),
		RpcMsgOf(rpcproto.PrepareFileRpc(remotePath, uint32(sigLocal.Perm), total)),
	}
	for _, i := range changedBlocks {
		msgs = append(msgs, SendChunkMsgOf(e.LocalRoot, e.RemoteRoot, sub, i, total))
	}
	if permDiffers {
		msgs = append(msgs, RpcMsgOf(rpcproto.SetPermRpc(remotePath, uint32(sigLocal.Perm))))
	}

	return &pathOp{subPath: sub, msgs: msgs, predictive: sigLocal}
}

// hasConflictMarker mirrors the teacher's isConflict: a "<name>.conflicted"
// sibling directory suppresses sync of a path a human is actively
// resolving, treating it as Ignored.
func (a *SyncActor) hasConflictMarker(localRoot, sub string) bool {
	marker := filepath.Join(localRoot, filepath.FromSlash(sub)+".conflicted")
	info, err := os.Stat(marker)
	return err == nil && info.IsDir()
}

// shouldDeferZeroByteFile mirrors the teacher's not-yet-ready guard: a
// freshly-created empty file is skipped for one cycle in case it's still
// being written, then synced normally once confirmed empty twice running.
// The first defer schedules its own recheck rather than relying on another
// filesystem event to re-trigger the diff, so a file touched only once
// still converges instead of being dropped permanently.
func (a *SyncActor) shouldDeferZeroByteFile(localRoot, subPath, key string, sigLocal, sigRemote vfs.Signature) bool {
	if sigLocal.Kind != vfs.KindFile || sigLocal.Size != 0 || !sigRemote.IsAbsent() {
		delete(a.zeroByteSeen, key)
		return false
	}
	seen := a.zeroByteSeen[key]
	if seen < 1 {
		a.zeroByteSeen[key] = seen + 1
		slog.Debug("syncactor: deferring zero-byte file", "path", key)
		a.sched.ScheduleMsg(a.actor, zeroByteRecheckMsg{localRoot: localRoot, subPath: subPath}, zeroByteRecheckDelay)
		return true
	}
	delete(a.zeroByteSeen, key)
	return false
}
