// Package agentrpc implements AgentRpcActor: it owns the agent child
// process, serializes outbound RPCs, demultiplexes inbound responses, and
// guarantees a buffered RemoteMsg is eventually delivered exactly once per
// reconnect cycle, or abandoned after five consecutive restart failures.
// Grounded on the teacher's internal/syftsdk/events.go (EventsAPI's
// reconnectWithBackoff/manageConnection/consumeMessages reader-loop
// pattern) for the session/backoff half, and
// internal/client/appsv2/app_process.go for the child-process half.
package agentrpc

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/openmined/driftlink/internal/rpcproto"
	"github.com/openmined/driftlink/internal/sched"
	"github.com/openmined/driftlink/internal/syncactor"
	"github.com/openmined/driftlink/internal/vfs"
	"github.com/openmined/driftlink/internal/walker"
)

// maxRetries is the number of consecutive restart attempts (retryCount
// 0..4) that back off before the session gives up; the delay schedule is
// 2^retryCount seconds: 1, 2, 4, 8, 16.
const maxRetries = 5

// SyncSink is the inbound edge from AgentRpcActor into SyncActor.
type SyncSink interface {
	RemoteScanned(remoteRoot, subPath string, sig vfs.Signature)
	RemoteScanAck()
	Drained()
	Other(kind string, data map[string]any)
}

// StatusSink is the inbound edge from AgentRpcActor into StatusActor.
type StatusSink interface {
	Done()
	Error()
	Greyed()
}

// state is a tagged sum type: Active, RestartSleeping, GivenUp, or Closed.
type state interface{ isAgentState() }

type activeState struct{}

func (activeState) isAgentState() {}

type restartSleepingState struct{ retryCount int }

func (restartSleepingState) isAgentState() {}

type givenUpState struct{}

func (givenUpState) isAgentState() {}

type closedState struct{}

func (closedState) isAgentState() {}

type sendMsg struct{ msg syncactor.Msg }

type receiveRespMsg struct {
	gen  int
	resp rpcproto.Response
}

type readFailedMsg struct{ gen int }

type attemptReconnectMsg struct{}

type forceRestartMsg struct{}

type closeMsg struct{}

// AgentRpcActor owns the agent process exclusively; no other actor may
// touch its stdin/stdout.
type AgentRpcActor struct {
	actor    *sched.Actor
	sched    *sched.Scheduler
	launcher Launcher
	sync     SyncSink
	status   StatusSink

	current state
	buffer  []syncactor.Msg

	// generation tags the reader goroutines spawned for the currently
	// live agent process, so a stale reader from an agent already
	// superseded by a later restart can't re-trigger a transition.
	generation int
	encoder    *rpcproto.Encoder
}

// New spawns an AgentRpcActor. Call Start once the peer SyncActor
// reference has been wired (see the cyclic-reference note on
// engine.syncSinkHandle) to begin the first connection attempt.
func New(s *sched.Scheduler, launcher Launcher, sync SyncSink, status StatusSink) *AgentRpcActor {
	a := &AgentRpcActor{
		sched:    s,
		launcher: launcher,
		sync:     sync,
		status:   status,
		current:  restartSleepingState{retryCount: 0},
	}
	a.actor = s.Spawn("agentrpc", a.receive)
	return a
}

// Start attempts the first connection immediately, bypassing the backoff
// delay that only applies to subsequent retries.
func (a *AgentRpcActor) Start() {
	a.actor.Send(attemptReconnectMsg{})
}

// Send implements syncactor.AgentSink.
func (a *AgentRpcActor) Send(msg syncactor.Msg) { a.actor.Send(sendMsg{msg: msg}) }

// ForceRestart is the user-initiated escape hatch from GivenUp (and a
// no-op-but-safe call from any other live state).
func (a *AgentRpcActor) ForceRestart() { a.actor.Send(forceRestartMsg{}) }

// Close tears the session down permanently.
func (a *AgentRpcActor) Close() { a.actor.Send(closeMsg{}) }

func (a *AgentRpcActor) receive(raw any) {
	switch msg := raw.(type) {
	case sendMsg:
		a.onSend(msg.msg)
	case receiveRespMsg:
		if msg.gen != a.generation {
			return
		}
		a.onReceive(msg.resp)
	case readFailedMsg:
		if msg.gen != a.generation {
			return
		}
		a.onReadFailed()
	case attemptReconnectMsg:
		a.onAttemptReconnect()
	case forceRestartMsg:
		a.onForceRestart()
	case closeMsg:
		a.onClose()
	default:
		slog.Warn("agentrpc: unexpected message", "type", raw)
	}
}

func (a *AgentRpcActor) onSend(msg syncactor.Msg) {
	switch a.current.(type) {
	case activeState:
		a.onSendActive(msg)
	case restartSleepingState:
		if msg.IsRemoteMsg() {
			a.buffer = append(a.buffer, msg)
		} else {
			a.logProgress(msg)
		}
	case givenUpState:
		if msg.IsRemoteMsg() {
			slog.Info("agentrpc: click to retry", "buffered", len(a.buffer)+1)
			a.buffer = append(a.buffer, msg)
		} else {
			a.logProgress(msg)
		}
	default:
		// Closed: all messages ignored.
	}
}

func (a *AgentRpcActor) onSendActive(msg syncactor.Msg) {
	if !msg.IsRemoteMsg() {
		a.logProgress(msg)
		return
	}

	rpc, err := resolveRpc(msg)
	if err != nil {
		if errors.Is(err, walker.ErrNoSuchFile) {
			slog.Debug("agentrpc: dropping vanished-file chunk", "subPath", msg.SubPath)
			return
		}
		slog.Error("agentrpc: failed to resolve rpc", "kind", msg.Kind, "error", err)
		return
	}

	a.buffer = append(a.buffer, msg)
	if werr := a.encoder.WriteRpc(rpc); werr != nil {
		slog.Warn("agentrpc: write failed, restarting", "error", werr)
		a.restart(0)
	}
}

func (a *AgentRpcActor) onReceive(resp rpcproto.Response) {
	if _, ok := a.current.(activeState); !ok {
		return
	}

	switch resp.Type {
	case rpcproto.RespAck:
		a.onAck()
	case rpcproto.RespScanned:
		a.sync.RemoteScanned(resp.Base, resp.SubPath, resp.Sig)
	default:
		a.sync.Other(resp.OtherKind, resp.OtherData)
	}
}

func (a *AgentRpcActor) onAck() {
	if len(a.buffer) == 0 {
		return
	}
	popped := a.buffer[0]
	a.buffer = a.buffer[1:]

	switch popped.Kind {
	case syncactor.MsgRemoteScan:
		a.sync.RemoteScanAck()
	case syncactor.MsgComplete:
		if len(a.buffer) == 0 {
			if a.status != nil {
				a.status.Done()
			}
			a.sync.Drained()
		}
	}

	if popped.Kind != syncactor.MsgComplete && len(a.buffer) > 0 {
		slog.Debug("agentrpc: ack received (more work queued)", "kind", popped.Kind, "remaining", len(a.buffer))
	}
}

func (a *AgentRpcActor) onReadFailed() {
	if _, ok := a.current.(activeState); !ok {
		return
	}
	a.restart(0)
}

func (a *AgentRpcActor) onAttemptReconnect() {
	s, ok := a.current.(restartSleepingState)
	if !ok {
		return
	}

	stdin, stdout, stderr, err := a.launcher.Start()
	if err != nil {
		slog.Warn("agentrpc: launch failed", "error", err)
		a.restart(s.retryCount)
		return
	}

	a.generation++
	gen := a.generation
	a.encoder = rpcproto.NewEncoder(stdin)
	decoder := rpcproto.NewDecoder(stdout)

	go a.stderrLoop(stderr)
	go a.stdoutLoop(gen, decoder)

	if len(a.buffer) == 0 {
		a.buffer = append(a.buffer, syncactor.CompleteMsg())
	}

	kept := a.buffer[:0:0]
	var replayErr error
	for _, m := range a.buffer {
		rpc, rerr := resolveRpc(m)
		if rerr != nil {
			if errors.Is(rerr, walker.ErrNoSuchFile) {
				slog.Debug("agentrpc: dropping vanished-file chunk during replay", "subPath", m.SubPath)
				continue
			}
			slog.Error("agentrpc: replay resolve failed", "kind", m.Kind, "error", rerr)
			continue
		}
		kept = append(kept, m)
		if werr := a.encoder.WriteRpc(rpc); werr != nil {
			replayErr = werr
			break
		}
	}
	a.buffer = kept

	if replayErr != nil {
		slog.Warn("agentrpc: replay write failed", "error", replayErr)
		a.restart(s.retryCount)
		return
	}

	a.current = activeState{}
}

func (a *AgentRpcActor) onForceRestart() {
	if _, ok := a.current.(closedState); ok {
		return
	}
	a.restart(0)
}

func (a *AgentRpcActor) onClose() {
	if _, ok := a.current.(closedState); ok {
		return
	}
	a.launcher.Destroy()
	a.current = closedState{}
}

// restart best-effort destroys the agent and either schedules another
// attempt after 2^retryCount seconds or gives up once retryCount reaches
// maxRetries.
func (a *AgentRpcActor) restart(retryCount int) {
	a.launcher.Destroy()

	if retryCount < maxRetries {
		delay := time.Duration(1<<uint(retryCount)) * time.Second
		a.current = restartSleepingState{retryCount: retryCount + 1}
		a.sched.ScheduleMsg(a.actor, attemptReconnectMsg{}, delay)
		slog.Info("agentrpc: scheduling reconnect", "attempt", retryCount+1, "delay", delay)
		if a.status != nil {
			a.status.Error()
		}
		return
	}

	a.current = givenUpState{}
	slog.Warn("agentrpc: given up after consecutive restart failures", "attempts", maxRetries)
	if a.status != nil {
		a.status.Greyed()
	}
}

func (a *AgentRpcActor) logProgress(msg syncactor.Msg) {
	switch msg.Kind {
	case syncactor.MsgStartFile:
		slog.Debug("agentrpc: starting file", "path", msg.Path)
	case syncactor.MsgIncrementFileTotal:
		slog.Debug("agentrpc: progress", "total", msg.Total, "example", msg.Example)
	}
}

// resolveRpc turns a RemoteMsg into the concrete Rpc to write, re-reading
// file content for SendChunkMsg at resolve time as the data model requires.
func resolveRpc(msg syncactor.Msg) (rpcproto.Rpc, error) {
	switch msg.Kind {
	case syncactor.MsgComplete:
		return rpcproto.CompleteRpc(), nil
	case syncactor.MsgRemoteScan:
		return rpcproto.FullScanRpc(msg.ScanPaths), nil
	case syncactor.MsgRpc:
		return msg.Rpc, nil
	case syncactor.MsgSendChunk:
		localAbs := filepath.Join(msg.LocalSrc, filepath.FromSlash(msg.SubPath))
		block, offset, err := walker.ReadBlock(localAbs, msg.ChunkIndex)
		if err != nil {
			return rpcproto.Rpc{}, err
		}
		return rpcproto.WriteChunkRpc(msg.RemoteDest, msg.SubPath, offset, block), nil
	default:
		return rpcproto.Rpc{}, fmt.Errorf("agentrpc: %v is not a RemoteMsg", msg.Kind)
	}
}

// stderrLoop forwards the agent's stderr lines to the logger. Per the
// reader-thread contract, a malformed line aborts this loop only; it never
// re-enters the actor.
func (a *AgentRpcActor) stderrLoop(r io.ReadCloser) {
	defer r.Close()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		var text string
		if err := json.Unmarshal(scanner.Bytes(), &text); err != nil {
			slog.Warn("agentrpc: malformed stderr line, stopping reader", "error", err)
			return
		}
		slog.Info("agent", "stderr", text)
	}
}

// stdoutLoop demultiplexes framed Responses, posting Receive to the actor
// for each. Any I/O error posts ReadFailed and exits.
func (a *AgentRpcActor) stdoutLoop(gen int, dec *rpcproto.Decoder) {
	for {
		resp, err := dec.ReadResponse()
		if err != nil {
			a.actor.Send(readFailedMsg{gen: gen})
			return
		}
		a.actor.Send(receiveRespMsg{gen: gen, resp: resp})
	}
}
