// Package walker implements the file-walk and block-hashing external
// collaborators: a filtered local-tree walk and a pure function turning a
// file's bytes into an ordered sequence of per-block digests.
package walker

import (
	"crypto/md5"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/openmined/driftlink/internal/mapping"
	"github.com/openmined/driftlink/internal/vfs"
)

// ErrNoSuchFile is returned by HashFile/ReadBlock when the path vanished between
// an event being observed and the walker touching the filesystem. Callers
// treat it as the vanished-file race, not a hard failure.
var ErrNoSuchFile = errors.New("walker: no such file")

// Entry is one surviving (subPath, Signature) pair produced by Walk.
type Entry struct {
	SubPath   string
	Signature vfs.Signature
}

// Skipper mirrors the Skipper collaborator (§6): given one (subPath, isDir)
// candidate relative to the walked root, it reports whether it survives
// ignore rules.
type Skipper interface {
	Allows(subPath string, isDir bool) bool
}

// Walk performs a filtered walk of root, emitting one Entry per surviving
// path. Directories that are skipped are not descended into.
func Walk(root string, skipper Skipper) ([]Entry, error) {
	var entries []Entry

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if os.IsNotExist(walkErr) {
				return nil
			}
			return fmt.Errorf("walk %s: %w", path, walkErr)
		}
		if path == root {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("walk rel path: %w", err)
		}
		sub := mapping.NormPath(rel)

		isDir := d.IsDir()
		if skipper != nil && !skipper.Allows(sub, isDir) {
			if isDir {
				return filepath.SkipDir
			}
			return nil
		}

		sig, err := statSignature(path, d)
		if err != nil {
			if errors.Is(err, ErrNoSuchFile) {
				return nil
			}
			return err
		}

		entries = append(entries, Entry{SubPath: sub, Signature: sig})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return entries, nil
}

// Stat computes the current signature of a single path, the same way a
// SyncActor diff step recomputes sigLocal. Absent is returned (not an
// error) when the path doesn't exist.
func Stat(path string) (vfs.Signature, error) {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return vfs.AbsentSignature, nil
		}
		return vfs.Signature{}, fmt.Errorf("stat %s: %w", path, err)
	}
	return statSignature(path, fs.FileInfoToDirEntry(info))
}

func statSignature(path string, d fs.DirEntry) (vfs.Signature, error) {
	info, err := d.Info()
	if err != nil {
		if os.IsNotExist(err) {
			return vfs.AbsentSignature, nil
		}
		return vfs.Signature{}, fmt.Errorf("stat %s: %w", path, err)
	}

	mode := info.Mode()
	switch {
	case mode&os.ModeSymlink != 0:
		target, err := os.Readlink(path)
		if err != nil {
			if os.IsNotExist(err) {
				return vfs.AbsentSignature, nil
			}
			return vfs.Signature{}, fmt.Errorf("readlink %s: %w", path, err)
		}
		return vfs.SymlinkSignature(target), nil
	case info.IsDir():
		return vfs.DirSignature(info.Mode().Perm()), nil
	default:
		blocks, err := HashFile(path)
		if err != nil {
			if errors.Is(err, ErrNoSuchFile) {
				return vfs.AbsentSignature, nil
			}
			return vfs.Signature{}, err
		}
		return vfs.FileSignature(info.Mode().Perm(), info.Size(), blocks), nil
	}
}

// HashFile partitions a file into vfs.BlockSize blocks and MD5-hashes each,
// returning the ordered digest sequence. A file vanishing mid-read surfaces
// as ErrNoSuchFile so callers can drop the operation silently per the
// vanished-file race handler.
func HashFile(path string) ([]vfs.BlockHash, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoSuchFile
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var hashes []vfs.BlockHash
	buf := make([]byte, vfs.BlockSize)
	for {
		n, err := io.ReadFull(f, buf)
		if n > 0 {
			hashes = append(hashes, md5.Sum(buf[:n]))
		}
		if err == io.EOF {
			break
		}
		if err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			if os.IsNotExist(err) {
				return nil, ErrNoSuchFile
			}
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}
	return hashes, nil
}

// ReadBlock reads the block at blockIndex from path, for resolving a
// SendChunkMsg to a concrete WriteChunk at send time (§3). Returns
// ErrNoSuchFile if the file vanished since it was last hashed.
func ReadBlock(path string, blockIndex int) ([]byte, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, ErrNoSuchFile
		}
		return nil, 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	offset := int64(blockIndex) * vfs.BlockSize
	section := io.NewSectionReader(f, offset, vfs.BlockSize)
	buf := make([]byte, vfs.BlockSize)
	n, err := io.ReadFull(section, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		if os.IsNotExist(err) {
			return nil, 0, ErrNoSuchFile
		}
		return nil, 0, fmt.Errorf("read block %d of %s: %w", blockIndex, path, err)
	}
	return buf[:n], offset, nil
}
