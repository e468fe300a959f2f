package git

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrNotRepository is returned when the directory is not inside a Git work tree.
var ErrNotRepository = errors.New("not a Git repository")

// Revision identifies the commit a proof suite was timed at.
type Revision struct {
	Commit string
	Dirty  bool
}

// String renders the short commit, suffixed with "-dirty" when the work tree
// has uncommitted changes.
func (r Revision) String() string {
	if r.Commit == "" {
		return ""
	}
	short := r.Commit
	if len(short) > 12 {
		short = short[:12]
	}
	if r.Dirty {
		return short + "-dirty"
	}
	return short
}

// Checker runs git against a directory.
type Checker struct {
	// Binary defaults to "git" resolved from PATH.
	Binary string
}

// NewChecker creates a new Git checker
func NewChecker() *Checker {
	return &Checker{Binary: "git"}
}

func (c *Checker) git(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, c.Binary, append([]string{"-C", dir}, args...)...)
	out, err := cmd.Output()
	if err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return "", fmt.Errorf("git not found in PATH: %w", err)
		}
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// IsRepository reports whether dir is inside a Git work tree.
func (c *Checker) IsRepository(ctx context.Context, dir string) (bool, error) {
	out, err := c.git(ctx, dir, "rev-parse", "--is-inside-work-tree")
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return false, nil
		}
		return false, err
	}
	return out == "true", nil
}

// Revision returns the HEAD commit of the repository containing dir and
// whether dir has uncommitted or untracked changes.
func (c *Checker) Revision(ctx context.Context, dir string) (Revision, error) {
	ok, err := c.IsRepository(ctx, dir)
	if err != nil {
		return Revision{}, err
	}
	if !ok {
		return Revision{}, fmt.Errorf("%s: %w", dir, ErrNotRepository)
	}

	commit, err := c.git(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		return Revision{}, fmt.Errorf("failed to resolve HEAD in %s: %w", dir, err)
	}

	// Scoped to dir so unrelated changes elsewhere in the repository are ignored.
	status, err := c.git(ctx, dir, "status", "--porcelain", "--", ".")
	if err != nil {
		return Revision{}, fmt.Errorf("failed to check Git status: %w", err)
	}

	return Revision{Commit: commit, Dirty: status != ""}, nil
}
