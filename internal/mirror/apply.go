package mirror

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
)

// Applier executes plan actions against the filesystem, retrying each
// action on failure. Failures are assumed transient (a file temporarily
// open elsewhere, a momentary lock) until the attempt budget is spent.
type Applier struct {
	fs          afero.Fs
	sourceRoot  string
	replicaRoot string
	maxAttempts int
	retryDelay  time.Duration
	logger      *slog.Logger
}

// NewApplier creates an applier operating between the two roots
func NewApplier(fsys afero.Fs, sourceRoot, replicaRoot string, maxAttempts int, retryDelay time.Duration, logger *slog.Logger) *Applier {
	return &Applier{
		fs:          fsys,
		sourceRoot:  sourceRoot,
		replicaRoot: replicaRoot,
		maxAttempts: maxAttempts,
		retryDelay:  retryDelay,
		logger:      logger,
	}
}

// Apply executes a single action, retrying up to the attempt budget with
// a fixed delay between attempts. It returns nil on success and an
// ApplyError once the budget is exhausted; the caller decides whether to
// continue with the rest of the plan (it should).
func (a *Applier) Apply(action Action) *ApplyError {
	var lastErr error

	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		err := a.applyOnce(action)
		if err == nil {
			a.logger.Info("action applied",
				"kind", action.Kind,
				"path", action.Path,
				"attempt", attempt)
			return nil
		}

		lastErr = err
		a.logger.Warn("action attempt failed",
			"kind", action.Kind,
			"path", action.Path,
			"attempt", attempt,
			"max_attempts", a.maxAttempts,
			"error", err)

		if attempt < a.maxAttempts {
			time.Sleep(a.retryDelay)
		}
	}

	a.logger.Error("action abandoned",
		"kind", action.Kind,
		"path", action.Path,
		"attempts", a.maxAttempts,
		"error", lastErr)

	return &ApplyError{Action: action, Attempts: a.maxAttempts, Err: lastErr}
}

// applyOnce performs one attempt of the action
func (a *Applier) applyOnce(action Action) error {
	switch action.Kind {
	case ActionCreateDir:
		return a.createDir(action.Path)
	case ActionCopyFile:
		return a.copyFile(action.Path)
	case ActionDeleteFile:
		return a.deleteFile(action.Path)
	case ActionDeleteDir:
		return a.deleteDir(action.Path)
	default:
		return fmt.Errorf("unknown action kind: %s", action.Kind)
	}
}

// createDir creates the directory at the replica path. An already
// existing directory counts as success.
func (a *Applier) createDir(rel string) error {
	return a.fs.MkdirAll(a.replicaPath(rel), 0755)
}

// copyFile copies the source file to the replica path with an atomic
// write: content goes to a temp file in the target directory which is
// then renamed over the destination, preserving the source file mode.
func (a *Applier) copyFile(rel string) error {
	src := a.sourcePath(rel)
	dst := a.replicaPath(rel)

	// Open source
	srcFile, err := a.fs.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		_ = srcFile.Close()
	}()

	// Create temp file in destination directory
	tmpFile, err := afero.TempFile(a.fs, filepath.Dir(dst), ".replicad-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = a.fs.Remove(tmpPath)
	}() // cleanup on error

	// Copy content
	if _, err := io.Copy(tmpFile, srcFile); err != nil {
		_ = tmpFile.Close()
		return err
	}

	// Get source permissions
	srcInfo, err := a.fs.Stat(src)
	if err != nil {
		_ = tmpFile.Close()
		return err
	}

	// Close temp file
	if err := tmpFile.Close(); err != nil {
		return err
	}

	// Set permissions on temp file
	if err := a.fs.Chmod(tmpPath, srcInfo.Mode()); err != nil {
		return err
	}

	// Atomic rename. Some afero backends refuse to rename over an
	// existing file, so clear the destination and retry once.
	if err := a.fs.Rename(tmpPath, dst); err != nil {
		if rmErr := a.fs.Remove(dst); rmErr != nil && !os.IsNotExist(rmErr) {
			return err
		}
		return a.fs.Rename(tmpPath, dst)
	}

	return nil
}

// deleteFile removes the file at the replica path. A missing file counts
// as success.
func (a *Applier) deleteFile(rel string) error {
	if err := a.fs.Remove(a.replicaPath(rel)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// deleteDir removes the directory at the replica path. The plan order
// guarantees the directory is empty by the time this runs; Remove (not
// RemoveAll) is used so an ordering bug surfaces as an error instead of
// silently wiping content.
func (a *Applier) deleteDir(rel string) error {
	if err := a.fs.Remove(a.replicaPath(rel)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (a *Applier) sourcePath(rel string) string {
	return filepath.Join(a.sourceRoot, filepath.FromSlash(rel))
}

func (a *Applier) replicaPath(rel string) string {
	return filepath.Join(a.replicaRoot, filepath.FromSlash(rel))
}
