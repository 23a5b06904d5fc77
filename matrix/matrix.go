// Package matrix expands declarative build targets into concrete build tasks.
package matrix

import (
	"fmt"
	"sort"

	relerrors "github.com/input-output-hk/forge-release/errors"
)

// Kind is the kind of a build target.
type Kind string

const (
	// KindBinary is a compiled executable, the only kind this pipeline builds.
	KindBinary Kind = "binary"
)

// DefaultEntry is the package built when a target does not name one.
const DefaultEntry = "."

// TargetSpec declares one buildable unit and the platforms it ships for.
type TargetSpec struct {
	// Name identifies the target and names its dist directory.
	Name string `mapstructure:"-" yaml:"-"`

	// Kind selects the builder. Only KindBinary is supported.
	Kind Kind `mapstructure:"kind" yaml:"kind"`

	// Versioned injects build metadata into the binary at link time.
	Versioned bool `mapstructure:"versioned" yaml:"versioned"`

	// Release marks the target for registry reconciliation.
	Release bool `mapstructure:"release" yaml:"release"`

	// Entry is the package pattern handed to the compiler.
	Entry string `mapstructure:"entry" yaml:"entry,omitempty"`

	// Platforms maps OS to architectures. Empty means host only.
	Platforms map[string][]string `mapstructure:"platforms" yaml:"platforms,omitempty"`
}

// Task is one concrete (target, os, arch) compilation unit.
type Task struct {
	Target    string
	OS        string
	Arch      string
	Entry     string
	Versioned bool
}

// String renders the task as target/os/arch.
func (t Task) String() string {
	return fmt.Sprintf("%s/%s/%s", t.Target, t.OS, t.Arch)
}

// Expand turns the matrix into build tasks. Targets are visited in name
// order and platforms in OS then arch order, so the result is reproducible.
// An empty matrix yields no tasks and no error.
func Expand(m map[string]TargetSpec, hostOS, hostArch string) ([]Task, error) {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	tasks := make([]Task, 0, len(m))
	for _, name := range names {
		spec := m[name]
		if spec.Name == "" {
			spec.Name = name
		}
		expanded, err := ExpandTarget(spec, hostOS, hostArch)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, expanded...)
	}
	return tasks, nil
}

// ExpandTarget expands a single target.
func ExpandTarget(spec TargetSpec, hostOS, hostArch string) ([]Task, error) {
	if spec.Kind != KindBinary {
		return nil, relerrors.Newf(relerrors.CodeUnknownTargetKind, "cannot build kind %q", spec.Kind).
			With("target", spec.Name)
	}

	entry := spec.Entry
	if entry == "" {
		entry = DefaultEntry
	}
	task := func(goos, arch string) Task {
		return Task{Target: spec.Name, OS: goos, Arch: arch, Entry: entry, Versioned: spec.Versioned}
	}

	if len(spec.Platforms) == 0 {
		return []Task{task(hostOS, hostArch)}, nil
	}

	oses := make([]string, 0, len(spec.Platforms))
	for goos := range spec.Platforms {
		oses = append(oses, goos)
	}
	sort.Strings(oses)

	var tasks []Task
	for _, goos := range oses {
		arches := append([]string(nil), spec.Platforms[goos]...)
		sort.Strings(arches)
		for i, arch := range arches {
			if i > 0 && arches[i-1] == arch {
				continue
			}
			tasks = append(tasks, task(goos, arch))
		}
	}
	return tasks, nil
}

// Select returns a matrix holding only the named target.
func Select(m map[string]TargetSpec, name string) (map[string]TargetSpec, error) {
	spec, ok := m[name]
	if !ok {
		return nil, relerrors.Newf(relerrors.CodeNotFound, "unknown target %q", name)
	}
	return map[string]TargetSpec{name: spec}, nil
}

// Names returns the target names in sorted order.
func Names(m map[string]TargetSpec) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
