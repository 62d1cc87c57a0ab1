// Package statusactor implements StatusActor: it aggregates progress
// signals from SyncActor and AgentRpcActor into a single debounced
// (icon, tooltip) pair for the enclosing program's tray-like UI. Grounded
// on the teacher's internal/client/sync/sync_status.go (typed state
// constants, a mutex-guarded aggregator notifying subscribers) remapped
// from per-path fine-grained status onto the single icon/tooltip view of
// spec.md §4.5, with a 100ms flicker-suppression window closed by a
// scheduled debounce message.
package statusactor

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/openmined/driftlink/internal/sched"
)

// Icon tokens are the symbolic names the tray UI maps to actual images.
const (
	IconBlueTick  = "blue-tick"  // init
	IconBlueSync  = "blue-sync"  // active
	IconGreenTick = "green-tick" // done
	IconRedCross  = "red-cross"  // error
	IconGreyDash  = "grey-dash"  // given up
)

// flickerWindow is the debounce period guarding against icon churn from
// rapid successive transitions.
const flickerWindow = 100 * time.Millisecond

// Presenter is the external tray UI collaborator: setImage/setTooltip.
type Presenter interface {
	SetImage(token string)
	SetTooltip(text string)
}

type syncingMsg struct{}
type doneMsg struct{}
type errorMsg struct{}
type greyedMsg struct{}
type debounceMsg struct{}

type filesAndBytesMsg struct{ files, bytes int }

// StatusActor owns the (icon, debouncedNext, files, bytes) state
// exclusively.
type StatusActor struct {
	actor     *sched.Actor
	sched     *sched.Scheduler
	presenter Presenter
	now       func() time.Time

	icon            string
	debouncedNext   string
	debouncePending bool
	files, bytes    int
}

// New spawns a StatusActor presenting IconBlueTick immediately.
func New(s *sched.Scheduler, presenter Presenter) *StatusActor {
	a := &StatusActor{
		sched:     s,
		presenter: presenter,
		now:       time.Now,
		icon:      IconBlueTick,
	}
	a.actor = s.Spawn("status", a.receive)
	presenter.SetImage(IconBlueTick)
	return a
}

// Syncing implements syncactor.StatusSink.
func (a *StatusActor) Syncing() { a.actor.Send(syncingMsg{}) }

// Done implements agentrpc.StatusSink.
func (a *StatusActor) Done() { a.actor.Send(doneMsg{}) }

// Error implements agentrpc.StatusSink.
func (a *StatusActor) Error() { a.actor.Send(errorMsg{}) }

// Greyed implements agentrpc.StatusSink.
func (a *StatusActor) Greyed() { a.actor.Send(greyedMsg{}) }

// FilesAndBytes implements syncactor.StatusSink.
func (a *StatusActor) FilesAndBytes(files, bytes int) {
	a.actor.Send(filesAndBytesMsg{files: files, bytes: bytes})
}

func (a *StatusActor) receive(msg any) {
	switch m := msg.(type) {
	case syncingMsg:
		a.propose(IconBlueSync)
	case doneMsg:
		a.propose(IconGreenTick)
		a.presentDoneTooltip()
		a.files = 0
		a.bytes = 0
	case errorMsg:
		a.propose(IconRedCross)
	case greyedMsg:
		a.propose(IconGreyDash)
		a.presenter.SetTooltip("Sync paused after repeated failures — click to try again")
	case filesAndBytesMsg:
		a.files += m.files
		a.bytes += m.bytes
	case debounceMsg:
		a.flushDebounce()
	default:
		slog.Warn("statusactor: unexpected message", "type", msg)
	}
}

// propose applies icon immediately unless a debounce window is already
// open, in which case it only overwrites debouncedNext. An icon change
// opens a fresh flickerWindow.
func (a *StatusActor) propose(icon string) {
	if a.debouncePending {
		a.debouncedNext = icon
		return
	}
	if icon == a.icon {
		return
	}
	a.icon = icon
	a.presenter.SetImage(icon)
	a.debouncePending = true
	a.sched.ScheduleMsg(a.actor, debounceMsg{}, flickerWindow)
}

func (a *StatusActor) flushDebounce() {
	a.debouncePending = false
	if a.debouncedNext == "" {
		return
	}
	next := a.debouncedNext
	a.debouncedNext = ""
	a.propose(next)
}

func (a *StatusActor) presentDoneTooltip() {
	text := fmt.Sprintf("Syncing Complete\n%d files %s\n%s",
		a.files, humanize.Bytes(uint64(a.bytes)), a.now().Format("15:04:05"))
	a.presenter.SetTooltip(text)
}
