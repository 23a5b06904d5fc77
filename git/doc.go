// Package git provides a small read-only facade over go-git for release
// metadata discovery.
//
// The package exposes exactly what a release needs to know about a checkout:
// the HEAD commit, the current branch, the tags pointing into history, a
// git-describe style version string, and whether tracked files carry local
// modifications.
//
// # Basic Usage
//
//	repo, err := git.Open(ctx, "/path/to/checkout")
//	if err != nil {
//	    // errors.Is(err, git.ErrNotRepository)
//	}
//
//	head, err := repo.Head(ctx)
//	desc, err := repo.Describe(ctx)
//	fmt.Println(desc.String()) // v1.2.0-3-gabc1234-dirty
//
// # Describe Semantics
//
// Describe walks history breadth-first from HEAD and stops at the nearest
// commit that carries a tag. When several tags share that commit, the
// greatest one wins so the result never depends on reference iteration
// order: semantic versions compare by precedence (v1.10.0 beats v1.9.0) and
// rank above tags that do not parse, which compare by name. Distance is the
// number of generations between HEAD and the tagged commit. A repository
// without tags describes as the abbreviated HEAD hash. Untracked files never mark the tree dirty.
//
// # Thread Safety
//
// A Repo is safe for concurrent reads. The package never writes to the
// repository.
package git
