package snapshot

import (
	"fmt"
	"io"
	"log/slog"
	"path"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
	"github.com/spf13/afero"
)

// fingerprintChunkSize is the read buffer size used when streaming file
// content through the digest.
const fingerprintChunkSize = 32 * 1024

// Builder produces snapshots of directory trees.
//
// Policy for non-regular files: symlinks, sockets, devices and other
// special files are skipped everywhere. A symlink in the source is never
// copied; a symlink in the replica is invisible to the differ and left
// alone. Empty directories are first-class and mirrored like any other.
type Builder struct {
	fs     afero.Fs
	logger *slog.Logger
}

// NewBuilder creates a snapshot builder reading through the given filesystem
func NewBuilder(fsys afero.Fs, logger *slog.Logger) *Builder {
	return &Builder{
		fs:     fsys,
		logger: logger,
	}
}

// Build walks the tree rooted at root and returns its snapshot. Any
// directory or file that cannot be read fails the whole build with a
// TraversalError; Build never returns a partial snapshot.
//
// The walk is iterative with an explicit stack so traversal depth is not
// bounded by the call stack, and directory entries are visited in name
// order so two builds of an unchanged tree are identical.
func (b *Builder) Build(root string) (*Snapshot, error) {
	b.logger.Debug("building snapshot", "root", root)

	snap := &Snapshot{
		Dirs:  make(map[string]struct{}),
		Files: make(map[string]FileEntry),
	}

	// Relative directory paths still to visit; "" is the root itself.
	stack := []string{""}

	for len(stack) > 0 {
		rel := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		dirPath := filepath.Join(root, filepath.FromSlash(rel))
		entries, err := afero.ReadDir(b.fs, dirPath)
		if err != nil {
			return nil, &TraversalError{Root: root, Path: dirPath, Err: err}
		}

		// Push subdirectories in reverse so they pop in name order.
		for i := len(entries) - 1; i >= 0; i-- {
			entry := entries[i]
			childRel := path.Join(rel, entry.Name())

			switch {
			case entry.IsDir():
				snap.Dirs[childRel] = struct{}{}
				stack = append(stack, childRel)

			case entry.Mode().IsRegular():
				fingerprint, err := b.fingerprint(filepath.Join(root, filepath.FromSlash(childRel)))
				if err != nil {
					return nil, &TraversalError{Root: root, Path: childRel, Err: err}
				}
				snap.Files[childRel] = FileEntry{
					Path:        childRel,
					Fingerprint: fingerprint,
				}

			default:
				// Symlink or special file, see policy on Builder.
				b.logger.Debug("skipping non-regular file", "path", childRel, "mode", entry.Mode().String())
			}
		}
	}

	b.logger.Debug("snapshot complete",
		"root", root,
		"dirs", len(snap.Dirs),
		"files", len(snap.Files))

	return snap, nil
}

// fingerprint computes the xxhash64 digest of a file by streaming its
// content in fixed-size chunks. The digest only needs to detect change,
// not resist an adversary, so a non-cryptographic hash is used.
func (b *Builder) fingerprint(path string) (string, error) {
	f, err := b.fs.Open(path)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = f.Close()
	}()

	h := xxhash.New()
	if _, err := io.CopyBuffer(h, f, make([]byte, fingerprintChunkSize)); err != nil {
		return "", err
	}

	return fmt.Sprintf("%016x", h.Sum64()), nil
}
