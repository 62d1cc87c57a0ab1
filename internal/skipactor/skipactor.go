// Package skipactor implements SkipActor: it routes raw paths to their
// owning local root and applies that root's compiled ignore rules before
// handing filtered batches to SyncActor. Grounded on the teacher's
// sync_ignore.go (per-root Skipper) and sync_manager.go (wiring a Skipper
// per mapping entry).
package skipactor

import (
	"log/slog"
	"os"

	"github.com/openmined/driftlink/internal/mapping"
	"github.com/openmined/driftlink/internal/sched"
	"github.com/openmined/driftlink/internal/skipper"
	"github.com/openmined/driftlink/internal/vfs"
	"github.com/openmined/driftlink/internal/walker"
)

// Sink receives SkipActor's output; SyncActor implements it.
type Sink interface {
	LocalScanned(localRoot, subPath string, sig vfs.Signature)
	LocalScanComplete()
	Events(byLocalRoot map[string]map[string]struct{})
}

// Scan requests the initial filtered local walk of every mapping root.
type Scan struct{}

// Paths carries a raw, debounced burst of absolute filesystem paths.
type Paths struct {
	Values map[string]struct{}
}

// IgnoreFileName is the per-root ignore file SkipActor looks for, mirroring
// the teacher's "syftignore" convention.
const IgnoreFileName = "driftignore"

// SkipActor owns one compiled Skipper per mapping entry.
type SkipActor struct {
	actor    *sched.Actor
	mapping  *mapping.Mapping
	skippers map[string]*skipper.Skipper // keyed by LocalRoot
	sink     Sink
}

// New spawns a SkipActor over m, compiling one Skipper per local root.
func New(s *sched.Scheduler, m *mapping.Mapping, sink Sink) *SkipActor {
	a := &SkipActor{
		mapping:  m,
		skippers: make(map[string]*skipper.Skipper, m.Len()),
		sink:     sink,
	}
	for _, e := range m.Entries() {
		a.skippers[e.LocalRoot] = skipper.CompileFile(e.LocalRoot, IgnoreFileName)
	}
	a.actor = s.Spawn("skip", a.receive)
	return a
}

// SendScan requests the initial filtered walk.
func (a *SkipActor) SendScan() {
	a.actor.Send(Scan{})
}

// SendPaths delivers a debounced raw path burst.
func (a *SkipActor) SendPaths(values map[string]struct{}) {
	a.actor.Send(Paths{Values: values})
}

func (a *SkipActor) receive(msg any) {
	switch m := msg.(type) {
	case Scan:
		a.onScan()
	case Paths:
		a.onPaths(m)
	default:
		slog.Warn("skipactor: unexpected message", "type", msg)
	}
}

func (a *SkipActor) onScan() {
	for _, e := range a.mapping.Entries() {
		sk := a.skippers[e.LocalRoot]
		entries, err := walker.Walk(e.LocalRoot, sk)
		if err != nil {
			slog.Error("skipactor: local scan failed", "root", e.LocalRoot, "error", err)
			continue
		}
		for _, entry := range entries {
			a.sink.LocalScanned(e.LocalRoot, entry.SubPath, entry.Signature)
		}
	}
	a.sink.LocalScanComplete()
}

func (a *SkipActor) onPaths(m Paths) {
	candidatesByRoot := make(map[string][]skipper.Candidate, a.mapping.Len())

	for v := range m.Values {
		e, sub, ok := a.mapping.EntryForLocal(v)
		if !ok {
			continue
		}
		candidatesByRoot[e.LocalRoot] = append(candidatesByRoot[e.LocalRoot], skipper.Candidate{
			SubPath: sub,
			IsDir:   isDirectory(v),
		})
	}

	byLocalRoot := make(map[string]map[string]struct{}, a.mapping.Len())
	for _, e := range a.mapping.Entries() {
		kept := a.skippers[e.LocalRoot].Process(candidatesByRoot[e.LocalRoot])
		subs := make(map[string]struct{}, len(kept))
		for _, c := range kept {
			subs[c.SubPath] = struct{}{}
		}
		byLocalRoot[e.LocalRoot] = subs
	}

	a.sink.Events(byLocalRoot)
}

func isDirectory(absPath string) bool {
	info, err := os.Lstat(absPath)
	if err != nil {
		return false
	}
	return info.IsDir()
}
