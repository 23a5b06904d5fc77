package git

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Description is the result of Describe.
type Description struct {
	// Tag is the nearest tag, empty when the history has none.
	Tag string

	// Distance is the number of generations between HEAD and Tag.
	Distance int

	// Commit is HEAD.
	Commit Commit

	// Dirty is set when tracked files carry local modifications.
	Dirty bool
}

// Exact reports whether HEAD itself carries Tag.
func (d Description) Exact() bool {
	return d.Tag != "" && d.Distance == 0
}

// String renders the description like `git describe --tags --always --dirty --long=false`.
func (d Description) String() string {
	var s string
	switch {
	case d.Tag == "":
		s = d.Commit.Short()
	case d.Distance == 0:
		s = d.Tag
	default:
		s = fmt.Sprintf("%s-%d-g%s", d.Tag, d.Distance, d.Commit.Short())
	}
	if d.Dirty {
		s += "-dirty"
	}
	return s
}

// Tags returns tag names grouped by the commit hash they point at.
// Annotated tags are peeled to their target commit.
func (r *Repo) Tags(ctx context.Context) (map[plumbing.Hash][]string, error) {
	iter, err := r.repo.Tags()
	if err != nil {
		return nil, WrapError(err, "failed to list tags")
	}
	defer iter.Close()

	byCommit := make(map[plumbing.Hash][]string)
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		target := ref.Hash()
		tag, err := r.repo.TagObject(target)
		switch {
		case err == nil:
			commit, err := tag.Commit()
			if err != nil {
				// Tags of trees or blobs never describe a commit.
				return nil
			}
			target = commit.Hash
		case !errors.Is(err, plumbing.ErrObjectNotFound):
			return WrapError(err, "failed to read tag "+ref.Name().Short())
		}

		byCommit[target] = append(byCommit[target], ref.Name().Short())
		return nil
	})
	if err != nil {
		return nil, err
	}

	for h := range byCommit {
		sortTags(byCommit[h])
	}
	return byCommit, nil
}

// Describe finds the nearest tag reachable from HEAD.
func (r *Repo) Describe(ctx context.Context) (Description, error) {
	head, err := r.Head(ctx)
	if err != nil {
		return Description{}, err
	}

	dirty, err := r.IsDirty(ctx)
	if err != nil {
		return Description{}, err
	}

	desc := Description{Commit: head, Dirty: dirty}

	tags, err := r.Tags(ctx)
	if err != nil {
		return Description{}, err
	}
	if len(tags) == 0 {
		return desc, nil
	}

	start, err := r.repo.CommitObject(plumbing.NewHash(head.Hash))
	if err != nil {
		return Description{}, WrapError(ErrResolveFailed, head.Hash)
	}

	visited := map[plumbing.Hash]bool{start.Hash: true}
	level := []*object.Commit{start}

	for depth := 0; len(level) > 0; depth++ {
		if err := ctx.Err(); err != nil {
			return Description{}, err
		}

		var found []string
		var next []*object.Commit
		for _, c := range level {
			found = append(found, tags[c.Hash]...)
			for _, ph := range c.ParentHashes {
				if visited[ph] {
					continue
				}
				visited[ph] = true
				parent, err := r.repo.CommitObject(ph)
				if err != nil {
					// Shallow clones end at missing parents.
					continue
				}
				next = append(next, parent)
			}
		}

		if len(found) > 0 {
			sortTags(found)
			desc.Tag = found[len(found)-1]
			desc.Distance = depth
			return desc, nil
		}
		level = next
	}

	return desc, nil
}

// sortTags orders tags ascending. Tags that parse as semantic versions compare
// by precedence so v1.10.0 sorts after v1.9.0; anything else compares by name
// and sorts before every semantic version.
func sortTags(tags []string) {
	sort.SliceStable(tags, func(i, j int) bool {
		return tagLess(tags[i], tags[j])
	})
}

func tagLess(a, b string) bool {
	va, errA := semver.NewVersion(a)
	vb, errB := semver.NewVersion(b)
	switch {
	case errA == nil && errB == nil:
		if c := va.Compare(vb); c != 0 {
			return c < 0
		}
		return a < b
	case errA == nil:
		return false
	case errB == nil:
		return true
	default:
		return a < b
	}
}
