package build

import (
	"strings"

	relerrors "github.com/input-output-hk/forge-release/errors"
)

// Policy decides what happens to the rest of a stage after one unit fails.
type Policy string

const (
	// PolicyFailFast stops scheduling work after the first failure.
	PolicyFailFast Policy = "fail-fast"

	// PolicyBestEffort runs every unit and reports all failures at the end.
	PolicyBestEffort Policy = "best-effort"
)

// DefaultPolicy is used when no policy is configured.
const DefaultPolicy = PolicyBestEffort

// ParsePolicy parses a policy name. The empty string yields DefaultPolicy.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return DefaultPolicy, nil
	case PolicyFailFast, PolicyBestEffort:
		return p, nil
	default:
		return "", relerrors.Newf(relerrors.CodeInvalidConfig,
			"unknown failure policy %q (want %s or %s)", s, PolicyFailFast, PolicyBestEffort)
	}
}

// FailFast reports whether p stops after the first failure.
func (p Policy) FailFast() bool {
	return p == PolicyFailFast
}
