package errors

import "net/http"

// Common error codes used across domains
const (
	CodeNotFound       Code = "not_found"
	CodeAlreadyExists  Code = "already_exists"
	CodeInvalidRequest Code = "invalid_request"
	CodeConflict       Code = "conflict"
	CodeInternal       Code = "internal_error"
	CodeUnavailable    Code = "unavailable"
	CodeTimeout        Code = "timeout"
	CodeCancelled      Code = "cancelled"
	CodeNonZeroExit    Code = "non_zero_exit"
)

// ============================================================================
// Validation Errors
// ============================================================================

var (
	// ErrMissingRequiredField is returned when a required field is missing
	ErrMissingRequiredField = New(DomainValidation, "missing_field", http.StatusBadRequest,
		"Missing required field")

	// ErrInvalidHardware is returned when HardwareInfo fails its invariants
	// (cpu_cores == 0 or ram_gb == 0)
	ErrInvalidHardware = New(DomainValidation, "invalid_hardware", http.StatusBadRequest,
		"Invalid hardware facts")

	// ErrUnknownProfile is returned when a profile name is not recognised
	ErrUnknownProfile = New(DomainValidation, "unknown_profile", http.StatusBadRequest,
		"Unrecognised profile name")

	// ErrPKGBUILDMissing is returned when no PKGBUILD can be found or acquired
	ErrPKGBUILDMissing = New(DomainValidation, "pkgbuild_missing", http.StatusNotFound,
		"PKGBUILD not found")
)

// ============================================================================
// Patch Errors
// ============================================================================

var (
	// ErrPatchFileNotFound is returned when a patch target file does not exist
	ErrPatchFileNotFound = New(DomainPatch, CodeNotFound, http.StatusNotFound,
		"Patch target file not found")

	// ErrPatchRegexInvalid is returned when a patcher's regular expression
	// fails to compile (a programmer error, surfaced rather than panicking)
	ErrPatchRegexInvalid = New(DomainPatch, "regex_invalid", http.StatusInternalServerError,
		"Patcher regular expression is invalid")

	// ErrPatchFailed is returned when a critical patch operation could not be
	// applied (apply_kconfig, PKGBUILD reads)
	ErrPatchFailed = New(DomainPatch, "patch_failed", http.StatusInternalServerError,
		"Patch operation failed")
)

// ============================================================================
// Orchestration Errors
// ============================================================================

var (
	// ErrIllegalTransition is returned when a phase transition is not in the
	// allowed successor set
	ErrIllegalTransition = New(DomainOrchestration, "illegal_transition", http.StatusConflict,
		"Illegal phase transition")

	// ErrWrongPhase is returned when a phase method is invoked outside the
	// phase it is only valid in (e.g. configure() called while Preparation)
	ErrWrongPhase = New(DomainOrchestration, "wrong_phase", http.StatusConflict,
		"Operation not valid in current phase")
)

// ============================================================================
// Build Errors
// ============================================================================

var (
	// ErrBuildNonZeroExit is returned when the packager subprocess exits
	// with a non-zero status
	ErrBuildNonZeroExit = New(DomainBuild, CodeNonZeroExit, http.StatusInternalServerError,
		"Build process exited with non-zero status")

	// ErrBuildCancelled is returned when the build was cancelled via the
	// cancellation watch
	ErrBuildCancelled = New(DomainBuild, CodeCancelled, http.StatusOK,
		"Build cancelled")

	// ErrBuildIO is returned on an I/O error reading the subprocess output
	// pipe
	ErrBuildIO = New(DomainBuild, "io_error", http.StatusInternalServerError,
		"I/O error during build")

	// ErrNoArtifacts is returned by Validation when find_build_artifacts
	// yields an empty result
	ErrNoArtifacts = New(DomainBuild, "no_artifacts", http.StatusInternalServerError,
		"No build artifacts were produced")
)

// ============================================================================
// Audit Errors
// ============================================================================

var (
	// ErrAuditUnavailable is returned when a kernel inspection source
	// (sysfs, /proc, /boot) cannot be read
	ErrAuditUnavailable = New(DomainAudit, CodeUnavailable, http.StatusServiceUnavailable,
		"Kernel inspection source unavailable")
)

// ============================================================================
// Internal Errors
// ============================================================================

var (
	// ErrInternal is a generic internal error
	ErrInternal = New(DomainInternal, CodeInternal, http.StatusInternalServerError,
		"Internal error")
)
