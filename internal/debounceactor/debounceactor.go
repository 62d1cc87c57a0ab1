// Package debounceactor implements DebounceActor: it collapses bursts of
// raw filesystem path notifications into stable, quiescent batches.
// Grounded on the teacher's file_watcher.go debounce-timer-token pattern,
// generalized from one timer per path to one timer over the whole
// accumulated batch, per the actor design this spec calls for.
package debounceactor

import (
	"log/slog"
	"path"
	"time"

	"github.com/openmined/driftlink/internal/sched"
)

// lockfileBase is the VCS lockfile noise filtered out while Idle.
const lockfileBase = "index.lock"

// Paths is the message carrying a raw burst of changed paths.
type Paths struct {
	Values map[string]struct{}
}

// trigger is the internal timer-fire message; Count disambiguates stale
// timers from the one that actually matches the current accumulated batch.
type trigger struct {
	count int
}

// Handler is invoked with a fully debounced, quiescent path set.
type Handler func(paths map[string]struct{})

// state is a tagged sum type; Idle and debouncing are its only variants.
type state interface {
	isState()
}

type idleState struct{}

func (idleState) isState() {}

type debouncingState struct {
	accum map[string]struct{}
}

func (debouncingState) isState() {}

// DebounceActor owns its state exclusively and is driven only through its
// mailbox; debounceMillis is the quiescence window (typical 100-300ms).
type DebounceActor struct {
	actor          *sched.Actor
	debounceMillis time.Duration
	handle         Handler
	current        state
}

// New spawns a DebounceActor on scheduler s. handle is invoked at most once
// per quiescent burst, never concurrently with itself (the actor's mailbox
// is strictly sequential).
func New(s *sched.Scheduler, debounceMillis time.Duration, handle Handler) *DebounceActor {
	d := &DebounceActor{
		debounceMillis: debounceMillis,
		handle:         handle,
		current:        idleState{},
	}
	d.actor = s.Spawn("debounce", d.receive)
	return d
}

// Send delivers a raw path burst to the actor's mailbox.
func (d *DebounceActor) Send(paths map[string]struct{}) {
	d.actor.Send(Paths{Values: paths})
}

func (d *DebounceActor) receive(msg any) {
	switch m := msg.(type) {
	case Paths:
		d.onPaths(m)
	case trigger:
		d.onTrigger(m)
	default:
		slog.Warn("debounceactor: unexpected message", "type", msg)
	}
}

func (d *DebounceActor) onPaths(m Paths) {
	switch s := d.current.(type) {
	case idleState:
		if allLockfiles(m.Values) {
			return
		}
		accum := cloneSet(m.Values)
		d.scheduleTrigger(len(accum))
		d.current = debouncingState{accum: accum}

	case debouncingState:
		for v := range m.Values {
			s.accum[v] = struct{}{}
		}
		d.scheduleTrigger(len(s.accum))
		d.current = s
	}
}

func (d *DebounceActor) onTrigger(m trigger) {
	s, ok := d.current.(debouncingState)
	if !ok {
		return // stray trigger after a state change; harmless
	}
	if m.count != len(s.accum) {
		// A newer Paths event superseded this timer; stay Debouncing.
		return
	}
	d.handle(s.accum)
	d.current = idleState{}
}

func (d *DebounceActor) scheduleTrigger(count int) {
	// actor.Send on the timer goroutine re-enters the same mailbox, so this
	// stays on-actor even though the timer fires off-thread.
	time.AfterFunc(d.debounceMillis, func() {
		d.actor.Send(trigger{count: count})
	})
}

func allLockfiles(values map[string]struct{}) bool {
	for v := range values {
		if path.Base(v) != lockfileBase {
			return false
		}
	}
	return true
}

func cloneSet(values map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for v := range values {
		out[v] = struct{}{}
	}
	return out
}
