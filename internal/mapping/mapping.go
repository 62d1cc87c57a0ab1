// Package mapping holds the ordered, immutable list of local-to-remote root
// pairs the sync engine replicates.
package mapping

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/openmined/driftlink/internal/utils"
)

// Entry pairs one local directory root with the relative root it mirrors to
// on the agent side.
type Entry struct {
	LocalRoot  string // absolute path
	RemoteRoot string // relative path, forward-slash separated
}

// Mapping is an ordered list of Entry; local roots are disjoint. It is
// immutable after construction.
type Mapping struct {
	entries []Entry
}

// New resolves and validates a set of (localRoot, remoteRoot) pairs,
// rejecting overlapping local roots. Entry order is preserved.
func New(pairs [][2]string) (*Mapping, error) {
	m := &Mapping{entries: make([]Entry, 0, len(pairs))}
	for _, pair := range pairs {
		local, err := utils.ResolvePath(pair[0])
		if err != nil {
			return nil, fmt.Errorf("resolve local root %q: %w", pair[0], err)
		}
		remote := NormPath(pair[1])
		m.entries = append(m.entries, Entry{LocalRoot: local, RemoteRoot: remote})
	}
	if err := m.checkDisjoint(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Mapping) checkDisjoint() error {
	for i, a := range m.entries {
		for j, b := range m.entries {
			if i == j {
				continue
			}
			if a.LocalRoot == b.LocalRoot || isUnder(a.LocalRoot, b.LocalRoot) {
				return fmt.Errorf("local roots %q and %q overlap", a.LocalRoot, b.LocalRoot)
			}
		}
	}
	return nil
}

func isUnder(child, root string) bool {
	rel, err := filepath.Rel(root, child)
	if err != nil {
		return false
	}
	return rel != "." && !strings.HasPrefix(rel, "..")
}

// Entries returns the mapping's pairs in construction order.
func (m *Mapping) Entries() []Entry {
	return m.entries
}

// Len returns the number of mapping entries.
func (m *Mapping) Len() int {
	return len(m.entries)
}

// EntryForLocal returns the entry whose local root is an ancestor of (or
// equal to) absPath, and the path of absPath relative to that root.
func (m *Mapping) EntryForLocal(absPath string) (Entry, string, bool) {
	for _, e := range m.entries {
		if absPath == e.LocalRoot {
			return e, "", true
		}
		if isUnder(absPath, e.LocalRoot) {
			rel, err := filepath.Rel(e.LocalRoot, absPath)
			if err == nil {
				return e, NormPath(rel), true
			}
		}
	}
	return Entry{}, "", false
}

// EntryForRemote returns the entry whose remote root matches remoteRoot.
func (m *Mapping) EntryForRemote(remoteRoot string) (Entry, bool) {
	remoteRoot = NormPath(remoteRoot)
	for _, e := range m.entries {
		if e.RemoteRoot == remoteRoot {
			return e, true
		}
	}
	return Entry{}, false
}

// NormPath cleans a path, forces forward slashes, and strips any leading
// slash, matching how the teacher's workspace package normalizes datasite
// paths.
func NormPath(p string) string {
	p = path.Clean(strings.ReplaceAll(p, "\\", "/"))
	p = strings.TrimPrefix(p, "/")
	if p == "." {
		return ""
	}
	return p
}
