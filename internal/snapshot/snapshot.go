package snapshot

import "fmt"

// FileEntry records a regular file inside a snapshot
type FileEntry struct {
	Path        string // relative, slash-separated
	Fingerprint string // xxhash64 of the file content, hex-encoded
}

// Snapshot is a point-in-time record of a directory tree: the set of
// relative directory paths and a mapping from relative file path to its
// entry. A snapshot is never mutated after Build returns; each sync pass
// builds fresh snapshots and discards them at pass end.
type Snapshot struct {
	Dirs  map[string]struct{}
	Files map[string]FileEntry
}

// TraversalError reports that a directory tree could not be fully read.
// It is fatal to the pass that requested the snapshot: a pass either
// observes the complete tree or aborts before touching the filesystem.
type TraversalError struct {
	Root string
	Path string
	Err  error
}

func (e *TraversalError) Error() string {
	return fmt.Sprintf("failed to traverse %s at %s: %v", e.Root, e.Path, e.Err)
}

func (e *TraversalError) Unwrap() error {
	return e.Err
}
