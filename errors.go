package warden

import (
	"errors"
	"fmt"

	"github.com/dshills/warden/security"
)

// Engine errors. Errors produced anywhere in the engine wrap one of
// these sentinels so callers can classify failures with errors.Is.
var (
	// ErrMetadataMissing is returned when a plugin has no metadata block.
	ErrMetadataMissing = errors.New("plugin metadata missing")

	// ErrMetadataInvalid is returned when plugin metadata fails schema validation.
	ErrMetadataInvalid = errors.New("plugin metadata invalid")

	// ErrSecurityViolation is returned when plugin source contains denied constructs.
	ErrSecurityViolation = errors.New("plugin source contains denied constructs")

	// ErrPluginNotFound is returned when a plugin cannot be located in the registry.
	ErrPluginNotFound = errors.New("plugin not found")

	// ErrPluginDisabled is returned when dispatching to a plugin that is not enabled.
	ErrPluginDisabled = errors.New("plugin is not enabled")

	// ErrPermissionDenied is returned when an invocation exceeds the plugin's
	// declared permissions, or when the scoped API rejects a call.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNoWorkerAvailable is returned when the pool has no idle worker.
	// The condition is retryable.
	ErrNoWorkerAvailable = errors.New("no worker available")

	// ErrTimeout is returned when an invocation exceeds its wall-clock budget.
	ErrTimeout = errors.New("plugin execution timed out")

	// ErrWorkerCrash is returned when the worker died mid-invocation.
	ErrWorkerCrash = errors.New("plugin worker crashed")

	// ErrStorageFailure is returned when a catalog, key-value, or artifact
	// operation fails underneath a lifecycle transition.
	ErrStorageFailure = errors.New("storage operation failed")

	// ErrHookFailed is returned when a lifecycle hook invocation fails,
	// aborting the transition that triggered it.
	ErrHookFailed = errors.New("lifecycle hook failed")

	// ErrRateLimited is returned when a plugin exceeds its invocation rate.
	// The condition is retryable.
	ErrRateLimited = errors.New("invocation rate limit exceeded")

	// ErrAlreadyInstalled is returned when installing a (name, version)
	// pair that the registry already holds.
	ErrAlreadyInstalled = errors.New("plugin is already installed")

	// ErrInvalidTransition is returned for lifecycle operations called in
	// the wrong state, e.g. enabling a plugin that was never installed.
	ErrInvalidTransition = errors.New("invalid lifecycle transition")

	// ErrEngineClosed is returned when using an engine after Shutdown.
	ErrEngineClosed = errors.New("engine is shut down")
)

// Kind classifies an engine error for audit records and host-facing
// result objects.
type Kind string

const (
	KindNone              Kind = ""
	KindMetadataInvalid   Kind = "metadata_invalid"
	KindSecurityViolation Kind = "security_violation"
	KindPluginNotFound    Kind = "plugin_not_found"
	KindPluginDisabled    Kind = "plugin_disabled"
	KindPermissionDenied  Kind = "permission_denied"
	KindNoWorkerAvailable Kind = "no_worker_available"
	KindTimeout           Kind = "timeout"
	KindWorkerCrash       Kind = "worker_crash"
	KindStorageFailure    Kind = "storage_failure"
	KindHookFailed        Kind = "hook_failed"
	KindRateLimited       Kind = "rate_limited"
	KindResourceLimit     Kind = "resource_limit"

	// KindRuntime covers errors raised by the plugin's own code.
	KindRuntime Kind = "runtime_error"
)

// kindTable pairs sentinels with their kinds in classification order.
// More specific sentinels come first where wrapping could overlap.
var kindTable = []struct {
	err  error
	kind Kind
}{
	{ErrMetadataMissing, KindMetadataInvalid},
	{ErrMetadataInvalid, KindMetadataInvalid},
	{ErrSecurityViolation, KindSecurityViolation},
	{ErrPluginNotFound, KindPluginNotFound},
	{ErrPluginDisabled, KindPluginDisabled},
	{ErrPermissionDenied, KindPermissionDenied},
	{ErrNoWorkerAvailable, KindNoWorkerAvailable},
	{ErrTimeout, KindTimeout},
	{ErrWorkerCrash, KindWorkerCrash},
	{ErrHookFailed, KindHookFailed},
	{ErrStorageFailure, KindStorageFailure},
	{ErrRateLimited, KindRateLimited},
}

// KindOf maps an error to its Kind. Unrecognized non-nil errors are
// classified as KindRuntime; nil maps to KindNone.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	for _, entry := range kindTable {
		if errors.Is(err, entry.err) {
			return entry.kind
		}
	}

	// Failures surfacing from the scoped API carry security-package
	// errors rather than engine sentinels.
	var capErr *security.CapabilityError
	if errors.As(err, &capErr) {
		return KindPermissionDenied
	}
	if errors.Is(err, security.ErrRateLimited) {
		return KindRateLimited
	}
	if errors.Is(err, security.ErrLimitExceeded) {
		return KindResourceLimit
	}

	return KindRuntime
}

// Retryable reports whether the caller may usefully retry the operation
// that produced err without changing anything first.
func Retryable(err error) bool {
	return errors.Is(err, ErrNoWorkerAvailable) || errors.Is(err, ErrRateLimited)
}

// HookError reports a lifecycle hook that failed during a transition.
type HookError struct {
	PluginID string
	Hook     string
	Err      error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("plugin %s: hook %s: %v", e.PluginID, e.Hook, e.Err)
}

// Unwrap yields ErrHookFailed so errors.Is classification works, plus
// the underlying cause.
func (e *HookError) Unwrap() []error {
	return []error{ErrHookFailed, e.Err}
}
