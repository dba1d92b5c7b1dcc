package mirror

import "fmt"

// ActionKind identifies a filesystem operation in a sync plan
type ActionKind string

const (
	ActionCreateDir  ActionKind = "create-dir"
	ActionCopyFile   ActionKind = "copy-file"
	ActionDeleteFile ActionKind = "delete-file"
	ActionDeleteDir  ActionKind = "delete-dir"
)

// Action is a single filesystem operation targeting a path relative to
// both roots. Actions are produced by Diff and consumed by the Applier.
type Action struct {
	Kind ActionKind
	Path string // relative, slash-separated

	// Update marks a copy that overwrites an existing replica file, as
	// opposed to creating one. Only meaningful for ActionCopyFile.
	Update bool
}

// Plan is an ordered sequence of actions. The order is a correctness
// invariant: all directory creations come first (parent before child),
// then file copies, then file deletions, then directory deletions (child
// before parent). See Diff.
type Plan []Action

// IsEmpty reports whether the plan contains no actions
func (p Plan) IsEmpty() bool {
	return len(p) == 0
}

// ApplyError reports an action that failed after exhausting its retry
// budget. It is recorded in the pass result and never aborts the pass.
type ApplyError struct {
	Action   Action
	Attempts int
	Err      error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("%s %s failed after %d attempts: %v", e.Action.Kind, e.Action.Path, e.Attempts, e.Err)
}

func (e *ApplyError) Unwrap() error {
	return e.Err
}

// PassResult summarizes one complete sync pass
type PassResult struct {
	Created int          `json:"created"`
	Updated int          `json:"updated"`
	Deleted int          `json:"deleted"`
	Failed  []ApplyError `json:"-"`
}

// Changed reports whether the pass performed or attempted any action
func (r *PassResult) Changed() bool {
	return r.Created > 0 || r.Updated > 0 || r.Deleted > 0 || len(r.Failed) > 0
}
