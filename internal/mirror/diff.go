package mirror

import (
	"sort"
	"strings"

	"github.com/replicad/replicad/internal/snapshot"
)

// Diff compares a source snapshot against a replica snapshot and returns
// the ordered plan that makes the replica match the source. Diff is a
// pure function: it performs no I/O and is deterministic for equal inputs.
//
// Ordering guarantees:
//   - CreateDir actions come first, shallowest path first, so a child
//     directory is never created before its parent.
//   - CopyFile actions follow, so every copy target's parent exists.
//   - DeleteFile actions precede DeleteDir actions, and DeleteDir actions
//     run deepest path first, so a directory is only removed once empty.
//
// Equal-depth paths are ordered lexicographically for stable output.
func Diff(source, replica *snapshot.Snapshot) Plan {
	var plan Plan

	// Directories to create: in source, not in replica.
	var createDirs []string
	for dir := range source.Dirs {
		if _, ok := replica.Dirs[dir]; !ok {
			createDirs = append(createDirs, dir)
		}
	}
	sortByDepth(createDirs, false)
	for _, dir := range createDirs {
		plan = append(plan, Action{Kind: ActionCreateDir, Path: dir})
	}

	// Files to copy: absent from the replica, or present with a different
	// fingerprint. Matching fingerprints emit nothing (minimal copy).
	var copies []Action
	for file, entry := range source.Files {
		prev, ok := replica.Files[file]
		switch {
		case !ok:
			copies = append(copies, Action{Kind: ActionCopyFile, Path: file})
		case prev.Fingerprint != entry.Fingerprint:
			copies = append(copies, Action{Kind: ActionCopyFile, Path: file, Update: true})
		}
	}
	sort.Slice(copies, func(i, j int) bool {
		return copies[i].Path < copies[j].Path
	})
	plan = append(plan, copies...)

	// Files to delete: in replica, not in source.
	var deleteFiles []string
	for file := range replica.Files {
		if _, ok := source.Files[file]; !ok {
			deleteFiles = append(deleteFiles, file)
		}
	}
	sort.Strings(deleteFiles)
	for _, file := range deleteFiles {
		plan = append(plan, Action{Kind: ActionDeleteFile, Path: file})
	}

	// Directories to delete: in replica, not in source.
	var deleteDirs []string
	for dir := range replica.Dirs {
		if _, ok := source.Dirs[dir]; !ok {
			deleteDirs = append(deleteDirs, dir)
		}
	}
	sortByDepth(deleteDirs, true)
	for _, dir := range deleteDirs {
		plan = append(plan, Action{Kind: ActionDeleteDir, Path: dir})
	}

	return plan
}

// pathDepth counts the path components of a slash-separated relative path
func pathDepth(p string) int {
	if p == "" {
		return 0
	}
	return strings.Count(p, "/") + 1
}

// sortByDepth orders paths by depth, lexicographic within equal depth
func sortByDepth(paths []string, deepestFirst bool) {
	sort.Slice(paths, func(i, j int) bool {
		di, dj := pathDepth(paths[i]), pathDepth(paths[j])
		if di != dj {
			if deepestFirst {
				return di > dj
			}
			return di < dj
		}
		return paths[i] < paths[j]
	})
}
