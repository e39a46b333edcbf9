// Package errors provides the error taxonomy for forge-deploy.
// It extends Go's standard error handling with structured error codes and the
// deployment context (step, host, release label) an operator needs to resume
// a failed run.
package errors

// ErrorCode represents a specific error condition reported by forge-deploy.
// Error codes are string-based for debuggability and natural JSON serialization.
type ErrorCode string

const (
	// Configuration errors.

	// CodeInvalidConfig indicates the configuration or profile selection is invalid.
	CodeInvalidConfig ErrorCode = "INVALID_CONFIGURATION"

	// CodeInvalidInput indicates a malformed argument such as a bad release label.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// Host errors.

	// CodeSetupFailed indicates provisioning or store initialization failed.
	CodeSetupFailed ErrorCode = "SETUP_FAILED"

	// CodeTransferFailed indicates packaging, upload or extraction failed.
	CodeTransferFailed ErrorCode = "TRANSFER_FAILED"

	// CodeDependencyFailed indicates the dependency installer failed.
	CodeDependencyFailed ErrorCode = "DEPENDENCY_FAILED"

	// CodeSiteConfigFailed indicates installing the site configuration failed.
	CodeSiteConfigFailed ErrorCode = "SITE_CONFIG_FAILED"

	// Release store errors.

	// CodeActivationFailed indicates a release could not be made current.
	CodeActivationFailed ErrorCode = "ACTIVATION_FAILED"

	// CodeNoPriorRelease indicates a rollback was requested with nothing to roll back to.
	CodeNoPriorRelease ErrorCode = "NO_PRIOR_RELEASE"

	// Application errors.

	// CodeMigrationFailed indicates the migration ran after the pointer moved and failed.
	CodeMigrationFailed ErrorCode = "MIGRATION_FAILED"

	// CodeRestartFailed indicates the serving process could not be restarted.
	CodeRestartFailed ErrorCode = "RESTART_FAILED"

	// CodeTestFailed indicates the local test command failed.
	CodeTestFailed ErrorCode = "TEST_FAILED"

	// Generic errors.

	// CodeUnknown indicates an unknown or unclassified error occurred.
	CodeUnknown ErrorCode = "UNKNOWN"
)
