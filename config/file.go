// Package config loads release.yaml and turns it into the immutable
// PipelineConfig every stage reads.
//
// Values are resolved by viper in this order: command-line flags, FORGE_*
// environment variables, the config file, and built-in defaults. The config
// file is the one given with --config, otherwise ./release.yaml, otherwise
// $XDG_CONFIG_HOME/forge-release/release.yaml.
package config

import (
	"github.com/input-output-hk/forge-release/build"
	"github.com/input-output-hk/forge-release/matrix"
)

// File mirrors the release.yaml schema.
type File struct {
	Env       string                  `mapstructure:"env" yaml:"env,omitempty"`
	RepoRoot  string                  `mapstructure:"repo_root" yaml:"repo_root"`
	DistDir   string                  `mapstructure:"dist_dir" yaml:"dist_dir"`
	Workers   int                     `mapstructure:"workers" yaml:"workers"`
	Policy    string                  `mapstructure:"policy" yaml:"policy"`
	Version   string                  `mapstructure:"version" yaml:"version,omitempty"`
	Toolchain Toolchain               `mapstructure:"toolchain" yaml:"toolchain"`
	Targets   map[string]TargetConfig `mapstructure:"targets" yaml:"targets"`
	Buckets   map[string]string       `mapstructure:"buckets" yaml:"buckets"`
	Store     StoreConfig             `mapstructure:"store" yaml:"store"`
}

// Toolchain names the external programs the pipeline invokes.
type Toolchain struct {
	Go             string   `mapstructure:"go" yaml:"go"`
	Gofmt          string   `mapstructure:"gofmt" yaml:"gofmt"`
	Goimports      string   `mapstructure:"goimports" yaml:"goimports"`
	Golint         string   `mapstructure:"golint" yaml:"golint"`
	GSUtil         string   `mapstructure:"gsutil" yaml:"gsutil"`
	VersionPackage string   `mapstructure:"version_package" yaml:"version_package"`
	FormatPaths    []string `mapstructure:"format_paths" yaml:"format_paths"`
}

// TargetConfig is a target declaration with optional per-environment
// platform overrides.
type TargetConfig struct {
	matrix.TargetSpec `mapstructure:",squash" yaml:",inline"`

	Environments map[string]EnvironmentOverride `mapstructure:"environments" yaml:"environments,omitempty"`
}

// EnvironmentOverride replaces a target's platforms in one environment.
type EnvironmentOverride struct {
	Platforms map[string][]string `mapstructure:"platforms" yaml:"platforms"`
}

// StoreConfig tunes the object store backends.
type StoreConfig struct {
	Region         string `mapstructure:"region" yaml:"region,omitempty"`
	Endpoint       string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	ForcePathStyle bool   `mapstructure:"force_path_style" yaml:"force_path_style,omitempty"`
	Insecure       bool   `mapstructure:"insecure" yaml:"insecure,omitempty"`
	Concurrency    int    `mapstructure:"concurrency" yaml:"concurrency"`
}

// Default values.
const (
	DefaultEnv         = "dev"
	DefaultDistDir     = "dist"
	DefaultConcurrency = 4
	FileName           = "release.yaml"
	AppName            = "forge-release"
)

// Defaults returns the scalar defaults. Targets and buckets have no defaults.
func Defaults() File {
	return File{
		Env:      DefaultEnv,
		RepoRoot: ".",
		DistDir:  DefaultDistDir,
		Policy:   "best-effort",
		Toolchain: Toolchain{
			Go:             "go",
			Gofmt:          "gofmt",
			Goimports:      "goimports",
			Golint:         "golint",
			GSUtil:         "gsutil",
			VersionPackage: build.DefaultVersionPackage,
			FormatPaths:    []string{"."},
		},
		Store: StoreConfig{Concurrency: DefaultConcurrency},
	}
}

// Example returns a complete configuration suitable as a starting point.
func Example() File {
	f := Defaults()
	f.Env = ""
	f.Toolchain.VersionPackage = "example.com/project/version"
	f.Targets = map[string]TargetConfig{
		"steward": {
			TargetSpec: matrix.TargetSpec{
				Kind:      matrix.KindBinary,
				Versioned: true,
				Release:   true,
				Entry:     "./cmd/steward",
				Platforms: map[string][]string{
					"alpine": {"amd64"},
					"linux":  {"amd64"},
				},
			},
			Environments: map[string]EnvironmentOverride{
				"dev": {Platforms: map[string][]string{"alpine": {"amd64"}}},
			},
		},
	}
	f.Buckets = map[string]string{
		"prod": "gs://appscode-cdn",
		"dev":  "gs://appscode-dev",
	}
	return f
}
