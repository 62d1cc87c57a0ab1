package mapping

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_PreservesOrder(t *testing.T) {
	m, err := New([][2]string{
		{"/tmp/a", "x"},
		{"/tmp/b", "y"},
	})
	require.NoError(t, err)
	require.Equal(t, 2, m.Len())
	assert.Equal(t, "x", m.Entries()[0].RemoteRoot)
	assert.Equal(t, "y", m.Entries()[1].RemoteRoot)
}

func TestNew_RejectsOverlappingRoots(t *testing.T) {
	_, err := New([][2]string{
		{"/tmp/a", "x"},
		{"/tmp/a/sub", "y"},
	})
	assert.Error(t, err)
}

func TestEntryForLocal_ResolvesSubPath(t *testing.T) {
	m, err := New([][2]string{{"/tmp/a", "x"}})
	require.NoError(t, err)

	e, sub, ok := m.EntryForLocal("/tmp/a/dir/file.txt")
	require.True(t, ok)
	assert.Equal(t, "x", e.RemoteRoot)
	assert.Equal(t, "dir/file.txt", sub)
}

func TestEntryForLocal_RootItself(t *testing.T) {
	m, err := New([][2]string{{"/tmp/a", "x"}})
	require.NoError(t, err)

	e, sub, ok := m.EntryForLocal("/tmp/a")
	require.True(t, ok)
	assert.Equal(t, "x", e.RemoteRoot)
	assert.Equal(t, "", sub)
}

func TestEntryForLocal_OutsideAnyRoot(t *testing.T) {
	m, err := New([][2]string{{"/tmp/a", "x"}})
	require.NoError(t, err)

	_, _, ok := m.EntryForLocal("/tmp/other/file.txt")
	assert.False(t, ok)
}

func TestEntryForRemote(t *testing.T) {
	m, err := New([][2]string{{"/tmp/a", "x"}, {"/tmp/b", "y"}})
	require.NoError(t, err)

	e, ok := m.EntryForRemote("y")
	require.True(t, ok)
	assert.Equal(t, "/tmp/b", e.LocalRoot)
}

func TestNormPath(t *testing.T) {
	assert.Equal(t, "a/b", NormPath("/a/b/"))
	assert.Equal(t, "a/b", NormPath(`a\b`))
	assert.Equal(t, "", NormPath("/"))
}
