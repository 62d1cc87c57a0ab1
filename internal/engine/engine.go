// Package engine wires DebounceActor, SkipActor, SyncActor, AgentRpcActor,
// and StatusActor into one running sync coordination engine. Grounded on
// the teacher's internal/client/daemon.go (errgroup-supervised subsystem
// startup/shutdown) and internal/client/workspace/workspace.go (the
// flock-based single-instance lock, here applied per mapping local root
// instead of per workspace).
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/rjeczalik/notify"
	"golang.org/x/sync/errgroup"

	"github.com/openmined/driftlink/internal/agentrpc"
	"github.com/openmined/driftlink/internal/config"
	"github.com/openmined/driftlink/internal/debounceactor"
	"github.com/openmined/driftlink/internal/mapping"
	"github.com/openmined/driftlink/internal/sched"
	"github.com/openmined/driftlink/internal/skipactor"
	"github.com/openmined/driftlink/internal/statusactor"
	"github.com/openmined/driftlink/internal/syncactor"
	"github.com/openmined/driftlink/internal/utils"
	"github.com/openmined/driftlink/internal/vfs"
)

const lockFileName = ".driftlink.lock"

// ErrRootLocked is returned when a mapping local root is already held by
// another driftlinkd instance.
var ErrRootLocked = errors.New("engine: local root locked by another driftlinkd instance")

// syncSinkHandle forwards agentrpc.SyncSink calls to a SyncActor installed
// after both it and the AgentRpcActor have been constructed. SyncActor.New
// needs an AgentSink and AgentRpcActor.New needs a SyncSink, so neither can
// be built first; this handle is the "lazy-initialized handle" spec.md §9
// calls for to break the cycle.
type syncSinkHandle struct {
	target agentrpc.SyncSink
}

func (h *syncSinkHandle) RemoteScanned(remoteRoot, subPath string, sig vfs.Signature) {
	h.target.RemoteScanned(remoteRoot, subPath, sig)
}

func (h *syncSinkHandle) RemoteScanAck() { h.target.RemoteScanAck() }

func (h *syncSinkHandle) Drained() { h.target.Drained() }

func (h *syncSinkHandle) Other(kind string, data map[string]any) { h.target.Other(kind, data) }

// Engine owns every actor and the per-root locks guarding against a second
// instance syncing the same folders.
type Engine struct {
	sched    *sched.Scheduler
	mapping  *mapping.Mapping
	agent    *agentrpc.AgentRpcActor
	sync     *syncactor.SyncActor
	skip     *skipactor.SkipActor
	debounce *debounceactor.DebounceActor
	status   *statusactor.StatusActor

	locks []*flock.Flock
}

// New builds and wires every actor for cfg's mappings, acquiring a lock on
// each local root. The caller supplies the presenter (tray icon, CLI
// printer, or a no-op) StatusActor reports into.
func New(cfg *config.Config, presenter statusactor.Presenter) (*Engine, error) {
	m, err := mapping.New(cfg.Pairs())
	if err != nil {
		return nil, fmt.Errorf("engine: build mapping: %w", err)
	}

	locks := make([]*flock.Flock, 0, m.Len())
	for _, e := range m.Entries() {
		fl, err := lockRoot(e.LocalRoot)
		if err != nil {
			for _, held := range locks {
				_ = held.Unlock()
			}
			return nil, err
		}
		locks = append(locks, fl)
	}

	s := sched.New()
	status := statusactor.New(s, presenter)

	launcher := agentrpc.NewProcessLauncher(cfg.AgentCommand, cfg.AgentArgs...)
	syncProxy := &syncSinkHandle{}
	agent := agentrpc.New(s, launcher, syncProxy, status)

	sync := syncactor.New(s, m, agent, status)
	syncProxy.target = sync

	skip := skipactor.New(s, m, sync)
	debounceMillis := time.Duration(cfg.DebounceMillis) * time.Millisecond
	debounce := debounceactor.New(s, debounceMillis, skip.SendPaths)

	return &Engine{
		sched:    s,
		mapping:  m,
		agent:    agent,
		sync:     sync,
		skip:     skip,
		debounce: debounce,
		status:   status,
		locks:    locks,
	}, nil
}

// Run starts the local filesystem watchers, kicks off the bootstrap local
// and remote scans, and blocks until ctx is cancelled. It always releases
// the root locks before returning.
func (e *Engine) Run(ctx context.Context) error {
	defer e.unlockAll()

	rawEvents := make(chan notify.EventInfo, 256)
	watched := make([]string, 0, e.mapping.Len())
	for _, entry := range e.mapping.Entries() {
		recursive := entry.LocalRoot + "/..."
		if err := notify.Watch(recursive, rawEvents, notify.Create, notify.Write, notify.Remove, notify.Rename); err != nil {
			notify.Stop(rawEvents)
			return fmt.Errorf("engine: watch %q: %w", entry.LocalRoot, err)
		}
		watched = append(watched, entry.LocalRoot)
	}
	defer notify.Stop(rawEvents)
	slog.Info("engine watching", "roots", watched)

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		for {
			select {
			case <-egCtx.Done():
				return nil
			case ev, ok := <-rawEvents:
				if !ok {
					return nil
				}
				e.debounce.Send(map[string]struct{}{ev.Path(): {}})
			}
		}
	})

	e.kickoffBootstrap()

	eg.Go(func() error {
		<-egCtx.Done()
		slog.Info("engine stopping")
		e.agent.Close()
		return nil
	})

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("engine stopped")
	return nil
}

// kickoffBootstrap enqueues the initial local walk and remote FullScan
// before starting AgentRpcActor, so the FullScan rpc is the first thing
// replayed once the agent process connects.
func (e *Engine) kickoffBootstrap() {
	remoteRoots := make([]string, 0, e.mapping.Len())
	for _, entry := range e.mapping.Entries() {
		remoteRoots = append(remoteRoots, entry.RemoteRoot)
	}

	e.skip.SendScan()
	e.agent.Send(syncactor.RemoteScanMsg(remoteRoots))
	e.agent.Start()
}

func lockRoot(localRoot string) (*flock.Flock, error) {
	if err := utils.EnsureDir(localRoot); err != nil {
		return nil, fmt.Errorf("engine: ensure local root %q: %w", localRoot, err)
	}

	path := filepath.Join(localRoot, lockFileName)
	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("engine: lock %q: %w", localRoot, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrRootLocked, localRoot)
	}
	return fl, nil
}

func (e *Engine) unlockAll() {
	for _, fl := range e.locks {
		if err := fl.Unlock(); err != nil {
			slog.Warn("engine: unlock failed", "path", fl.Path(), "error", err)
			continue
		}
		if err := os.Remove(fl.Path()); err != nil && !os.IsNotExist(err) {
			slog.Warn("engine: remove lock file failed", "path", fl.Path(), "error", err)
		}
	}
}
