package config

import (
	"maps"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"github.com/input-output-hk/forge-release/build"
	relerrors "github.com/input-output-hk/forge-release/errors"
	"github.com/input-output-hk/forge-release/matrix"
)

// BucketMapping maps environments to bucket URLs.
type BucketMapping map[string]string

// Resolve returns the bucket for env, falling back to the dev bucket.
func (m BucketMapping) Resolve(env string) (string, error) {
	if url, ok := m[env]; ok && url != "" {
		return url, nil
	}
	if url, ok := m[DefaultEnv]; ok && url != "" {
		return url, nil
	}
	return "", relerrors.Newf(relerrors.CodeInvalidConfig,
		"no bucket configured for environment %q and no %q fallback", env, DefaultEnv)
}

// PipelineConfig is the resolved, read-only configuration of one run.
// Accessors return copies so callers cannot mutate it.
type PipelineConfig struct {
	env             string
	repoRoot        string
	distDir         string
	workers         int
	policy          build.Policy
	versionOverride string
	toolchain       Toolchain
	targets         map[string]matrix.TargetSpec
	buckets         BucketMapping
	store           StoreConfig
}

// Build validates f and resolves it for its environment: per-environment
// platform overrides are applied, paths are made absolute and defaults
// are filled in.
func Build(f *File) (*PipelineConfig, error) {
	d := Defaults()

	// Viper lowercases map keys, so environment names match case-insensitively.
	env := strings.ToLower(strings.TrimSpace(f.Env))
	if env == "" {
		env = d.Env
	}

	policy, err := build.ParsePolicy(f.Policy)
	if err != nil {
		return nil, err
	}

	if f.Workers < 0 {
		return nil, relerrors.Newf(relerrors.CodeInvalidConfig, "workers must not be negative, got %d", f.Workers)
	}
	workers := f.Workers
	if workers == 0 {
		workers = runtime.NumCPU()
	}

	repoRoot := f.RepoRoot
	if repoRoot == "" {
		repoRoot = d.RepoRoot
	}
	repoRoot, err = filepath.Abs(repoRoot)
	if err != nil {
		return nil, relerrors.Wrap(err, relerrors.CodeInvalidConfig, "resolve repo_root")
	}

	distDir := f.DistDir
	if distDir == "" {
		distDir = d.DistDir
	}
	if !filepath.IsAbs(distDir) {
		distDir = filepath.Join(repoRoot, distDir)
	}

	targets := make(map[string]matrix.TargetSpec, len(f.Targets))
	for name, tc := range f.Targets {
		if name == "" {
			return nil, relerrors.New(relerrors.CodeInvalidConfig, "target with empty name")
		}
		spec := tc.TargetSpec
		spec.Name = name
		if spec.Kind == "" {
			spec.Kind = matrix.KindBinary
		}
		for envName, override := range tc.Environments {
			if strings.ToLower(envName) == env && override.Platforms != nil {
				spec.Platforms = override.Platforms
			}
		}
		spec.Platforms = clonePlatforms(spec.Platforms)
		targets[name] = spec
	}

	buckets := make(BucketMapping, len(f.Buckets))
	for name, url := range f.Buckets {
		if url == "" {
			return nil, relerrors.New(relerrors.CodeInvalidConfig, "empty bucket url").With("env", name)
		}
		buckets[strings.ToLower(name)] = url
	}

	tc := mergeToolchain(f.Toolchain, d.Toolchain)
	sc := f.Store
	if sc.Concurrency <= 0 {
		sc.Concurrency = d.Store.Concurrency
	}

	return &PipelineConfig{
		env:             env,
		repoRoot:        repoRoot,
		distDir:         distDir,
		workers:         workers,
		policy:          policy,
		versionOverride: f.Version,
		toolchain:       tc,
		targets:         targets,
		buckets:         buckets,
		store:           sc,
	}, nil
}

func mergeToolchain(tc, d Toolchain) Toolchain {
	pick := func(v, def string) string {
		if v == "" {
			return def
		}
		return v
	}
	out := Toolchain{
		Go:             pick(tc.Go, d.Go),
		Gofmt:          pick(tc.Gofmt, d.Gofmt),
		Goimports:      pick(tc.Goimports, d.Goimports),
		Golint:         pick(tc.Golint, d.Golint),
		GSUtil:         pick(tc.GSUtil, d.GSUtil),
		VersionPackage: pick(tc.VersionPackage, d.VersionPackage),
		FormatPaths:    slices.Clone(tc.FormatPaths),
	}
	if len(out.FormatPaths) == 0 {
		out.FormatPaths = slices.Clone(d.FormatPaths)
	}
	return out
}

func clonePlatforms(p map[string][]string) map[string][]string {
	if p == nil {
		return nil
	}
	out := make(map[string][]string, len(p))
	for os, archs := range p {
		out[os] = slices.Clone(archs)
	}
	return out
}

// Environment returns the active environment.
func (c *PipelineConfig) Environment() string { return c.env }

// RepoRoot returns the absolute repository root.
func (c *PipelineConfig) RepoRoot() string { return c.repoRoot }

// DistDir returns the absolute output directory.
func (c *PipelineConfig) DistDir() string { return c.distDir }

// Workers returns the build worker count.
func (c *PipelineConfig) Workers() int { return c.workers }

// Policy returns the failure policy.
func (c *PipelineConfig) Policy() build.Policy { return c.policy }

// VersionOverride returns the explicit version, if any.
func (c *PipelineConfig) VersionOverride() string { return c.versionOverride }

// Toolchain returns the toolchain programs.
func (c *PipelineConfig) Toolchain() Toolchain {
	tc := c.toolchain
	tc.FormatPaths = slices.Clone(tc.FormatPaths)
	return tc
}

// Store returns the store tuning.
func (c *PipelineConfig) Store() StoreConfig { return c.store }

// Targets returns a copy of the environment-resolved build matrix.
func (c *PipelineConfig) Targets() map[string]matrix.TargetSpec {
	out := make(map[string]matrix.TargetSpec, len(c.targets))
	for name, spec := range c.targets {
		spec.Platforms = clonePlatforms(spec.Platforms)
		out[name] = spec
	}
	return out
}

// Target returns one target.
func (c *PipelineConfig) Target(name string) (matrix.TargetSpec, bool) {
	spec, ok := c.targets[name]
	spec.Platforms = clonePlatforms(spec.Platforms)
	return spec, ok
}

// ReleaseTargets returns the names of targets marked for release, sorted.
func (c *PipelineConfig) ReleaseTargets() []string {
	var names []string
	for _, name := range matrix.Names(c.targets) {
		if c.targets[name].Release {
			names = append(names, name)
		}
	}
	return names
}

// Buckets returns a copy of the bucket mapping.
func (c *PipelineConfig) Buckets() BucketMapping { return maps.Clone(c.buckets) }

// Bucket resolves the bucket URL for the active environment.
func (c *PipelineConfig) Bucket() (string, error) {
	return c.buckets.Resolve(c.env)
}
