package statusactor

import (
	"sync"
	"testing"
	"time"

	"github.com/openmined/driftlink/internal/sched"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePresenter struct {
	mu       sync.Mutex
	images   []string
	tooltips []string
}

func (f *fakePresenter) SetImage(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.images = append(f.images, token)
}

func (f *fakePresenter) SetTooltip(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tooltips = append(f.tooltips, text)
}

func (f *fakePresenter) snapshot() (images, tooltips []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.images...), append([]string(nil), f.tooltips...)
}

func TestStatusActor_SyncingAppliesIconImmediately(t *testing.T) {
	presenter := &fakePresenter{}
	s := sched.New()
	a := New(s, presenter)

	a.Syncing()
	require.True(t, s.AwaitQuiescence(time.Second))

	images, _ := presenter.snapshot()
	require.Equal(t, []string{IconBlueTick, IconBlueSync}, images)
}

func TestStatusActor_SameIconProposalIsNoOp(t *testing.T) {
	presenter := &fakePresenter{}
	s := sched.New()
	a := New(s, presenter)

	a.Syncing()
	require.True(t, s.AwaitQuiescence(time.Second))
	a.Syncing()
	require.True(t, s.AwaitQuiescence(time.Second))

	images, _ := presenter.snapshot()
	assert.Equal(t, []string{IconBlueTick, IconBlueSync}, images)
}

func TestStatusActor_RapidTransitionsWithinWindowCoalesceToLatest(t *testing.T) {
	presenter := &fakePresenter{}
	s := sched.New()
	a := New(s, presenter)

	a.Syncing() // applies blue-sync immediately, opens a 100ms window
	a.Error()   // lands within the window: only overwrites debouncedNext
	a.Greyed()  // supersedes the pending Error proposal

	require.Eventually(t, func() bool {
		images, _ := presenter.snapshot()
		return len(images) == 3
	}, time.Second, 5*time.Millisecond)

	images, _ := presenter.snapshot()
	assert.Equal(t, []string{IconBlueTick, IconBlueSync, IconGreyDash}, images)
}

func TestStatusActor_DoneResetsCountersAndPresentsTooltip(t *testing.T) {
	presenter := &fakePresenter{}
	s := sched.New()
	a := New(s, presenter)
	a.now = func() time.Time { return time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC) }

	a.Syncing()
	require.True(t, s.AwaitQuiescence(time.Second))
	a.FilesAndBytes(3, 1024)
	require.True(t, s.AwaitQuiescence(time.Second))

	// Done lands after the Syncing debounce window has closed.
	time.Sleep(150 * time.Millisecond)
	a.Done()
	require.True(t, s.AwaitQuiescence(time.Second))

	_, tooltips := presenter.snapshot()
	require.Len(t, tooltips, 1)
	assert.Equal(t, "Syncing Complete\n3 files 1.0 kB\n15:04:05", tooltips[0])

	assert.Equal(t, 0, a.files)
	assert.Equal(t, 0, a.bytes)
}

func TestStatusActor_GreyedPresentsClickToRetryTooltip(t *testing.T) {
	presenter := &fakePresenter{}
	s := sched.New()
	a := New(s, presenter)

	a.Greyed()
	require.True(t, s.AwaitQuiescence(time.Second))

	_, tooltips := presenter.snapshot()
	require.Len(t, tooltips, 1)
	assert.Contains(t, tooltips[0], "click to try again")
}
