package vfs

import "io/fs"

// Kind tags the variant a Signature represents.
type Kind uint8

const (
	// KindAbsent is the zero value: no node exists at a path.
	KindAbsent Kind = iota
	KindDir
	KindFile
	KindSymlink
)

func (k Kind) String() string {
	switch k {
	case KindDir:
		return "dir"
	case KindFile:
		return "file"
	case KindSymlink:
		return "symlink"
	default:
		return "absent"
	}
}

// BlockSize is the fixed chunk size used for both hashing and wire transfer.
const BlockSize = 64 * 1024

// BlockHash is the MD5-style digest of one BlockSize-aligned slice of a file.
type BlockHash [16]byte

// Signature describes a filesystem node: a Dir with POSIX permission bits, a
// File with its ordered per-block digests, a Symlink target, or Absent.
type Signature struct {
	Kind        Kind
	Perm        fs.FileMode
	Size        int64
	BlockHashes []BlockHash
	Target      string
}

// AbsentSignature is the canonical "nothing here" value; it equals the zero
// Signature{} and is what Vfs.Get returns for an unset path.
var AbsentSignature = Signature{}

// IsAbsent implements Absentable.
func (s Signature) IsAbsent() bool {
	return s.Kind == KindAbsent
}

// DirSignature builds a directory node signature.
func DirSignature(perm fs.FileMode) Signature {
	return Signature{Kind: KindDir, Perm: perm}
}

// FileSignature builds a regular file node signature.
func FileSignature(perm fs.FileMode, size int64, blocks []BlockHash) Signature {
	return Signature{Kind: KindFile, Perm: perm, Size: size, BlockHashes: blocks}
}

// SymlinkSignature builds a symlink node signature.
func SymlinkSignature(target string) Signature {
	return Signature{Kind: KindSymlink, Target: target}
}

// Equal reports whether two signatures describe the same node: same tag,
// same fields, block-hash sequences compared positionally.
func (s Signature) Equal(other Signature) bool {
	if s.Kind != other.Kind {
		return false
	}
	switch s.Kind {
	case KindAbsent:
		return true
	case KindDir:
		return s.Perm == other.Perm
	case KindSymlink:
		return s.Target == other.Target
	case KindFile:
		if s.Perm != other.Perm || s.Size != other.Size {
			return false
		}
		if len(s.BlockHashes) != len(other.BlockHashes) {
			return false
		}
		for i, h := range s.BlockHashes {
			if h != other.BlockHashes[i] {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// DiffBlocks returns the indices of s's blocks whose hash differs from
// remote's, treating an index remote lacks as mismatching. Indices beyond
// len(s.BlockHashes) are never returned. Both signatures
// must be KindFile for this to be meaningful; it is the caller's job to
// check that.
func (s Signature) DiffBlocks(remote Signature) []int {
	n := len(s.BlockHashes)
	var changed []int
	for i := 0; i < n; i++ {
		if i >= len(remote.BlockHashes) || s.BlockHashes[i] != remote.BlockHashes[i] {
			changed = append(changed, i)
		}
	}
	return changed
}

// TotalBlocks returns the number of blocks a file of this size partitions
// into (0 for an empty file).
func TotalBlocks(size int64) int {
	if size <= 0 {
		return 0
	}
	return int((size + BlockSize - 1) / BlockSize)
}
