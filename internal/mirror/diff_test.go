package mirror

import (
	"reflect"
	"strings"
	"testing"

	"github.com/replicad/replicad/internal/snapshot"
)

// snap builds a snapshot literal for diff tests
func snap(dirs []string, files map[string]string) *snapshot.Snapshot {
	s := &snapshot.Snapshot{
		Dirs:  make(map[string]struct{}),
		Files: make(map[string]snapshot.FileEntry),
	}
	for _, d := range dirs {
		s.Dirs[d] = struct{}{}
	}
	for p, fp := range files {
		s.Files[p] = snapshot.FileEntry{Path: p, Fingerprint: fp}
	}
	return s
}

func kinds(plan Plan) []ActionKind {
	out := make([]ActionKind, len(plan))
	for i, a := range plan {
		out[i] = a.Kind
	}
	return out
}

func TestDiff_CopyIntoEmptyReplica(t *testing.T) {
	source := snap(nil, map[string]string{"a.txt": "h1"})
	replica := snap(nil, nil)

	plan := Diff(source, replica)

	want := Plan{{Kind: ActionCopyFile, Path: "a.txt"}}
	if !reflect.DeepEqual(plan, want) {
		t.Errorf("plan = %+v, want %+v", plan, want)
	}
}

func TestDiff_UpdateChangedFile(t *testing.T) {
	source := snap([]string{"dir"}, map[string]string{"dir/b.txt": "new"})
	replica := snap([]string{"dir"}, map[string]string{"dir/b.txt": "old"})

	plan := Diff(source, replica)

	// No CreateDir: the directory already exists.
	want := Plan{{Kind: ActionCopyFile, Path: "dir/b.txt", Update: true}}
	if !reflect.DeepEqual(plan, want) {
		t.Errorf("plan = %+v, want %+v", plan, want)
	}
}

func TestDiff_DeleteFileBeforeDir(t *testing.T) {
	source := snap(nil, nil)
	replica := snap([]string{"old"}, map[string]string{"old/c.txt": "h"})

	plan := Diff(source, replica)

	want := Plan{
		{Kind: ActionDeleteFile, Path: "old/c.txt"},
		{Kind: ActionDeleteDir, Path: "old"},
	}
	if !reflect.DeepEqual(plan, want) {
		t.Errorf("plan = %+v, want %+v", plan, want)
	}
}

func TestDiff_IdenticalTrees(t *testing.T) {
	dirs := []string{"d", "d/e"}
	files := map[string]string{"a.txt": "h1", "d/b.txt": "h2", "d/e/c.txt": "h3"}

	plan := Diff(snap(dirs, files), snap(dirs, files))

	if !plan.IsEmpty() {
		t.Errorf("expected empty plan for identical trees, got %+v", plan)
	}
}

// TestDiff_MinimalCopy covers the minimal-copy property: matching
// fingerprints never produce a CopyFile.
func TestDiff_MinimalCopy(t *testing.T) {
	source := snap(nil, map[string]string{"same.txt": "h1", "diff.txt": "h2"})
	replica := snap(nil, map[string]string{"same.txt": "h1", "diff.txt": "other"})

	plan := Diff(source, replica)

	for _, a := range plan {
		if a.Kind == ActionCopyFile && a.Path == "same.txt" {
			t.Error("file with matching fingerprint must not be copied")
		}
	}
	if len(plan) != 1 || plan[0].Path != "diff.txt" || !plan[0].Update {
		t.Errorf("plan = %+v, want single update of diff.txt", plan)
	}
}

func TestDiff_CreateDirsParentFirst(t *testing.T) {
	source := snap([]string{"a/b/c", "a", "a/b", "z"}, nil)
	replica := snap(nil, nil)

	plan := Diff(source, replica)

	wantPaths := []string{"a", "z", "a/b", "a/b/c"}
	if len(plan) != len(wantPaths) {
		t.Fatalf("got %d actions, want %d: %+v", len(plan), len(wantPaths), plan)
	}
	for i, a := range plan {
		if a.Kind != ActionCreateDir {
			t.Errorf("action %d kind = %s, want %s", i, a.Kind, ActionCreateDir)
		}
		if a.Path != wantPaths[i] {
			t.Errorf("action %d path = %q, want %q", i, a.Path, wantPaths[i])
		}
	}
}

func TestDiff_DeleteDirsChildFirst(t *testing.T) {
	source := snap(nil, nil)
	replica := snap([]string{"a", "a/b", "a/b/c", "z"}, nil)

	plan := Diff(source, replica)

	wantPaths := []string{"a/b/c", "a/b", "a", "z"}
	if len(plan) != len(wantPaths) {
		t.Fatalf("got %d actions, want %d: %+v", len(plan), len(wantPaths), plan)
	}
	for i, a := range plan {
		if a.Kind != ActionDeleteDir {
			t.Errorf("action %d kind = %s, want %s", i, a.Kind, ActionDeleteDir)
		}
		if a.Path != wantPaths[i] {
			t.Errorf("action %d path = %q, want %q", i, a.Path, wantPaths[i])
		}
	}
}

// TestDiff_PhaseOrdering covers the plan-level ordering invariant: creates
// before copies, copies before file deletes, file deletes before dir
// deletes, and every delete of content under a directory precedes the
// delete of that directory.
func TestDiff_PhaseOrdering(t *testing.T) {
	source := snap(
		[]string{"new", "new/sub"},
		map[string]string{"new/sub/f.txt": "h1", "kept.txt": "changed"},
	)
	replica := snap(
		[]string{"gone", "gone/deep"},
		map[string]string{"kept.txt": "orig", "gone/deep/x.txt": "h2", "gone/y.txt": "h3"},
	)

	plan := Diff(source, replica)

	phase := map[ActionKind]int{
		ActionCreateDir:  0,
		ActionCopyFile:   1,
		ActionDeleteFile: 2,
		ActionDeleteDir:  3,
	}
	lastPhase := -1
	for _, a := range plan {
		p := phase[a.Kind]
		if p < lastPhase {
			t.Fatalf("action %s %s out of phase order in %v", a.Kind, a.Path, kinds(plan))
		}
		lastPhase = p
	}

	// Every DeleteFile under a directory D precedes DeleteDir(D).
	for i, a := range plan {
		if a.Kind != ActionDeleteDir {
			continue
		}
		for j := i + 1; j < len(plan); j++ {
			b := plan[j]
			if b.Kind == ActionDeleteFile && strings.HasPrefix(b.Path, a.Path+"/") {
				t.Errorf("DeleteFile(%s) ordered after DeleteDir(%s)", b.Path, a.Path)
			}
		}
	}

	// Every CreateDir(P) precedes CopyFile targeting a path under P.
	for i, a := range plan {
		if a.Kind != ActionCopyFile {
			continue
		}
		for j := i + 1; j < len(plan); j++ {
			b := plan[j]
			if b.Kind == ActionCreateDir && strings.HasPrefix(a.Path, b.Path+"/") {
				t.Errorf("CopyFile(%s) ordered before CreateDir(%s)", a.Path, b.Path)
			}
		}
	}
}

func TestDiff_Stable(t *testing.T) {
	source := snap(
		[]string{"a", "b", "a/x", "b/y"},
		map[string]string{"a/f1": "1", "b/f2": "2", "f3": "3"},
	)
	replica := snap(
		[]string{"c", "c/z"},
		map[string]string{"c/old": "4", "stale": "5"},
	)

	first := Diff(source, replica)
	second := Diff(source, replica)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("Diff is not stable:\n%+v\n%+v", first, second)
	}
}

func TestPathDepth(t *testing.T) {
	tests := []struct {
		path string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"a/b", 2},
		{"a/b/c", 3},
	}
	for _, tc := range tests {
		if got := pathDepth(tc.path); got != tc.want {
			t.Errorf("pathDepth(%q) = %d, want %d", tc.path, got, tc.want)
		}
	}
}
