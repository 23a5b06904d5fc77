// Package errors provides the error taxonomy for the release pipeline.
// It extends Go's standard error handling with structured error codes,
// context preservation, and aggregation of per-task and per-file failures.
package errors

// ErrorCode represents a specific failure condition in the release pipeline.
// Error codes are string-based for debuggability and natural JSON serialization.
type ErrorCode string

const (
	// Resource errors.

	// CodeNotFound indicates a requested target or object does not exist.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// Validation errors.

	// CodeInvalidInput indicates the provided input is invalid or malformed.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeInvalidConfig indicates a configuration error prevents the operation.
	CodeInvalidConfig ErrorCode = "INVALID_CONFIGURATION"

	// Pipeline errors.

	// CodeMetadataUnavailable indicates build metadata could not be resolved.
	// Nothing downstream is meaningful without a version, so this is always fatal.
	CodeMetadataUnavailable ErrorCode = "METADATA_UNAVAILABLE"

	// CodeUnknownTargetKind indicates a target declares a kind the pipeline cannot build.
	CodeUnknownTargetKind ErrorCode = "UNKNOWN_TARGET_KIND"

	// CodeExecutionFailed indicates an external toolchain command failed.
	CodeExecutionFailed ErrorCode = "EXECUTION_FAILED"

	// CodeBuildFailed indicates a build task failed.
	CodeBuildFailed ErrorCode = "BUILD_FAILED"

	// CodePublishFailed indicates one or more artifact uploads failed.
	CodePublishFailed ErrorCode = "PUBLISH_FAILED"

	// CodeRegistryFailed indicates the version registry could not be reconciled.
	CodeRegistryFailed ErrorCode = "REGISTRY_FAILED"

	// System errors.

	// CodeInternal indicates an internal error occurred.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeUnknown indicates an unknown or unclassified error occurred.
	CodeUnknown ErrorCode = "UNKNOWN"
)

// Fatal reports whether failures with this code abort the invocation
// regardless of the configured failure policy.
func (c ErrorCode) Fatal() bool {
	switch c {
	case CodeMetadataUnavailable, CodeUnknownTargetKind, CodeInvalidConfig:
		return true
	default:
		return false
	}
}
