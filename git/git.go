package git

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// ShortHashLength is the number of hex digits used for abbreviated hashes.
const ShortHashLength = 7

// Repo is an opened repository.
type Repo struct {
	repo *git.Repository
	root string
}

// Commit describes the commit HEAD points at.
type Commit struct {
	// Hash is the full hex object name.
	Hash string

	// When is the committer timestamp.
	When time.Time
}

// Short returns the abbreviated hash.
func (c Commit) Short() string {
	if len(c.Hash) <= ShortHashLength {
		return c.Hash
	}
	return c.Hash[:ShortHashLength]
}

// Open discovers the repository containing path, walking up parent
// directories like the git CLI does.
func Open(ctx context.Context, path string) (*Repo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, WrapError(err, "failed to resolve path")
	}

	repo, err := git.PlainOpenWithOptions(abs, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, WrapError(ErrNotRepository, abs)
		}
		return nil, WrapError(err, "failed to open repository")
	}

	return &Repo{repo: repo, root: abs}, nil
}

// Root returns the path the repository was opened from.
func (r *Repo) Root() string {
	return r.root
}

// Head returns the commit HEAD resolves to.
func (r *Repo) Head(ctx context.Context) (Commit, error) {
	if err := ctx.Err(); err != nil {
		return Commit{}, err
	}

	ref, err := r.repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return Commit{}, ErrNoCommits
		}
		return Commit{}, WrapError(err, "failed to read HEAD")
	}

	commit, err := r.repo.CommitObject(ref.Hash())
	if err != nil {
		return Commit{}, WrapError(ErrResolveFailed, ref.Hash().String())
	}

	return Commit{Hash: commit.Hash.String(), When: commit.Committer.When.UTC()}, nil
}

// CurrentBranch returns the short branch name HEAD points at, or an empty
// string when HEAD is detached.
func (r *Repo) CurrentBranch(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	ref, err := r.repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return "", ErrNoCommits
		}
		return "", WrapError(err, "failed to read HEAD")
	}

	if !ref.Name().IsBranch() {
		return "", nil
	}
	return ref.Name().Short(), nil
}

// IsDirty reports whether tracked files differ from HEAD, in the index or
// the worktree. Untracked files are ignored. Bare repositories are never dirty.
func (r *Repo) IsDirty(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	wt, err := r.repo.Worktree()
	if err != nil {
		if errors.Is(err, git.ErrIsBareRepository) {
			return false, nil
		}
		return false, WrapError(err, "failed to get worktree")
	}

	status, err := wt.Status()
	if err != nil {
		return false, WrapError(err, "failed to compute status")
	}

	for _, s := range status {
		if s.Staging == git.Untracked && s.Worktree == git.Untracked {
			continue
		}
		if s.Staging != git.Unmodified || s.Worktree != git.Unmodified {
			return true, nil
		}
	}
	return false, nil
}
