// Package metadata resolves the immutable build metadata shared by every
// pipeline stage of one invocation.
package metadata

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strconv"
	"time"

	relerrors "github.com/input-output-hk/forge-release/errors"
	"github.com/input-output-hk/forge-release/git"
)

// Version strategies.
const (
	// StrategyTag means HEAD sits exactly on a tag and the tree is clean.
	StrategyTag = "tag"

	// StrategyCommit means the version is derived from commits past a tag or the hash.
	StrategyCommit = "commit"

	// StrategyOverride means the version was supplied explicitly.
	StrategyOverride = "override"
)

// BuildMetadata is computed once per run and never changes afterwards.
type BuildMetadata struct {
	Version         string
	VersionStrategy string
	Commit          string
	BuildDate       time.Time
	Environment     string
	GitBranch       string
	GitTag          string
}

// Fields returns the metadata as sorted key/value pairs.
func (m BuildMetadata) Fields() [][2]string {
	fields := [][2]string{
		{"build_date", m.BuildDate.UTC().Format(time.RFC3339)},
		{"build_timestamp", strconv.FormatInt(m.BuildDate.Unix(), 10)},
		{"commit_hash", m.Commit},
		{"env", m.Environment},
		{"git_branch", m.GitBranch},
		{"git_tag", m.GitTag},
		{"version", m.Version},
		{"version_strategy", m.VersionStrategy},
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i][0] < fields[j][0] })
	return fields
}

// Map returns the metadata keyed by field name.
func (m BuildMetadata) Map() map[string]string {
	out := make(map[string]string)
	for _, f := range m.Fields() {
		out[f[0]] = f[1]
	}
	return out
}

// Resolver reads metadata from a git checkout.
type Resolver struct {
	environment string
	override    string
	logger      *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithVersionOverride forces the version string instead of describing HEAD.
func WithVersionOverride(version string) Option {
	return func(r *Resolver) {
		r.override = version
	}
}

// WithLogger sets the logger. A nil logger is ignored.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewResolver creates a Resolver that stamps results with environment.
func NewResolver(environment string, opts ...Option) *Resolver {
	r := &Resolver{
		environment: environment,
		logger:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve describes the checkout at repoRoot. It is a pure read and returns
// the same result for the same commit and worktree cleanliness.
func (r *Resolver) Resolve(ctx context.Context, repoRoot string) (BuildMetadata, error) {
	repo, err := git.Open(ctx, repoRoot)
	if err != nil {
		return BuildMetadata{}, unavailable(err, repoRoot)
	}

	desc, err := repo.Describe(ctx)
	if err != nil {
		return BuildMetadata{}, unavailable(err, repoRoot)
	}

	branch, err := repo.CurrentBranch(ctx)
	if err != nil {
		return BuildMetadata{}, unavailable(err, repoRoot)
	}

	meta := BuildMetadata{
		Version:         desc.String(),
		VersionStrategy: StrategyCommit,
		Commit:          desc.Commit.Hash,
		BuildDate:       desc.Commit.When,
		Environment:     r.environment,
		GitBranch:       branch,
	}
	if desc.Exact() {
		meta.GitTag = desc.Tag
		if !desc.Dirty {
			meta.VersionStrategy = StrategyTag
		}
	}
	if r.override != "" {
		meta.Version = r.override
		meta.VersionStrategy = StrategyOverride
	}

	r.logger.Debug("resolved build metadata",
		"version", meta.Version,
		"commit", meta.Commit,
		"strategy", meta.VersionStrategy,
		"env", meta.Environment,
	)
	return meta, nil
}

func unavailable(err error, repoRoot string) error {
	var coded *relerrors.Error
	if errors.As(err, &coded) {
		return err
	}
	return relerrors.Wrap(err, relerrors.CodeMetadataUnavailable, "cannot resolve build metadata").
		With("repo_root", repoRoot)
}
