// Package pipeline dispatches release stages and their compositions over
// one immutable configuration.
package pipeline

import (
	"strings"

	relerrors "github.com/input-output-hk/forge-release/errors"
)

// StageKind is a pipeline stage the CLI can invoke.
type StageKind int

// Stages, in the order they are listed by Stages.
const (
	StageVersion StageKind = iota
	StageFmt
	StageVet
	StageLint
	StageGen
	StageBuild
	StagePush
	StageRegistry
	StageRelease
	StageInstall
	StageDefault
)

var stageNames = [...]string{
	StageVersion:  "version",
	StageFmt:      "fmt",
	StageVet:      "vet",
	StageLint:     "lint",
	StageGen:      "gen",
	StageBuild:    "build",
	StagePush:     "push",
	StageRegistry: "registry",
	StageRelease:  "release",
	StageInstall:  "install",
	StageDefault:  "default",
}

var stageAliases = map[string]StageKind{
	"update-registry": StageRegistry,
	"update_registry": StageRegistry,
}

// String returns the stage's CLI name.
func (k StageKind) String() string {
	if k < 0 || int(k) >= len(stageNames) {
		return "unknown"
	}
	return stageNames[k]
}

// TakesTarget reports whether the stage accepts an optional target name.
func (k StageKind) TakesTarget() bool {
	switch k {
	case StageBuild, StagePush, StageRegistry, StageRelease:
		return true
	default:
		return false
	}
}

// Stages returns every stage.
func Stages() []StageKind {
	out := make([]StageKind, len(stageNames))
	for i := range stageNames {
		out[i] = StageKind(i)
	}
	return out
}

// ParseStage parses a CLI stage name.
func ParseStage(s string) (StageKind, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range stageNames {
		if n == name {
			return StageKind(i), nil
		}
	}
	if k, ok := stageAliases[name]; ok {
		return k, nil
	}
	return 0, relerrors.Newf(relerrors.CodeInvalidInput, "unknown stage %q", s)
}

// OutputFormat selects how the version stage prints metadata.
type OutputFormat string

// Output formats.
const (
	FormatEnv  OutputFormat = "env"
	FormatJSON OutputFormat = "json"
	FormatYAML OutputFormat = "yaml"
)

// ParseOutputFormat parses a format name. The empty string yields FormatEnv.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case "":
		return FormatEnv, nil
	case FormatEnv, FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", relerrors.Newf(relerrors.CodeInvalidInput, "unknown output format %q", s)
	}
}
