// Package gitint looks up the git revision of the settings file using
// go-git. Settings kept in a repository get their commit recorded with
// every reload; anything else simply has no revision.
package gitint

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// ErrNotRepository is returned when the file is not inside a git worktree.
var ErrNotRepository = errors.New("not inside a git repository")

// Revision identifies the committed version of a file.
type Revision struct {
	Commit string `json:"commit,omitempty"`
	Branch string `json:"branch,omitempty"`
	Dirty  bool   `json:"dirty,omitempty"`
}

// IsZero reports whether no revision information is available.
func (r Revision) IsZero() bool {
	return r.Commit == "" && r.Branch == "" && !r.Dirty
}

// Short returns the abbreviated commit hash.
func (r Revision) Short() string {
	if len(r.Commit) > 7 {
		return r.Commit[:7]
	}
	return r.Commit
}

// String formats the revision as "branch@short", with a "+dirty" suffix
// when the file differs from HEAD.
func (r Revision) String() string {
	if r.IsZero() {
		return "-"
	}
	s := r.Short()
	if r.Branch != "" {
		s = r.Branch + "@" + s
	}
	if r.Dirty {
		s += "+dirty"
	}
	return s
}

// RevisionOf returns HEAD of the repository containing path, and whether
// path has uncommitted changes (or is untracked).
func RevisionOf(path string) (Revision, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Revision{}, err
	}

	repo, err := git.PlainOpenWithOptions(filepath.Dir(abs), &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return Revision{}, ErrNotRepository
		}
		return Revision{}, fmt.Errorf("open git repo for %s: %w", path, err)
	}

	var rev Revision
	head, err := repo.Head()
	switch {
	case errors.Is(err, plumbing.ErrReferenceNotFound):
		// Repository without commits yet.
	case err != nil:
		return Revision{}, fmt.Errorf("get HEAD: %w", err)
	default:
		rev.Commit = head.Hash().String()
		if head.Name().IsBranch() {
			rev.Branch = head.Name().Short()
		}
	}

	dirty, err := fileDirty(repo, abs)
	if err != nil {
		return rev, fmt.Errorf("status of %s: %w", path, err)
	}
	rev.Dirty = dirty
	return rev, nil
}

func fileDirty(repo *git.Repository, abs string) (bool, error) {
	wt, err := repo.Worktree()
	if err != nil {
		return false, err
	}

	root, err := filepath.EvalSymlinks(wt.Filesystem.Root())
	if err != nil {
		return false, err
	}
	target := abs
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		target = resolved
	} else if dir, err := filepath.EvalSymlinks(filepath.Dir(abs)); err == nil {
		target = filepath.Join(dir, filepath.Base(abs))
	}

	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false, err
	}

	status, err := wt.Status()
	if err != nil {
		return false, err
	}
	fs, ok := status[filepath.ToSlash(rel)]
	if !ok {
		return false, nil
	}
	return fs.Worktree != git.Unmodified || fs.Staging != git.Unmodified, nil
}
