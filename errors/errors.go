package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure by the operation that produced it.
// A Kind is itself an error so callers can match it with errors.Is.
type Kind string

const (
	// KindSetup is returned when provisioning a host or initializing its store fails.
	KindSetup Kind = "SetupError"

	// KindTransfer is returned when packaging, uploading or extracting a release fails.
	KindTransfer Kind = "TransferError"

	// KindDependency is returned when installing the release's dependencies fails.
	KindDependency Kind = "DependencyError"

	// KindConfig is returned when installing the site-serving configuration fails.
	KindConfig Kind = "ConfigError"

	// KindActivation is returned when a release cannot be made current.
	KindActivation Kind = "ActivationError"

	// KindMigration is returned when the migration fails after activation.
	// The current pointer has already moved when this is reported.
	KindMigration Kind = "MigrationError"

	// KindRestart is returned when restarting the serving process fails.
	KindRestart Kind = "RestartError"

	// KindNoPriorRelease is returned by rollback when the store holds no
	// previously activated release.
	KindNoPriorRelease Kind = "NoPriorReleaseError"

	// KindConfiguration is returned when the invocation itself is misconfigured,
	// for example when no environment profile was selected.
	KindConfiguration Kind = "ConfigurationError"

	// KindTest is returned when the local test command fails.
	KindTest Kind = "TestError"
)

// Error implements the error interface.
func (k Kind) Error() string {
	return string(k)
}

// Code returns the stable error code for the kind.
func (k Kind) Code() ErrorCode {
	switch k {
	case KindSetup:
		return CodeSetupFailed
	case KindTransfer:
		return CodeTransferFailed
	case KindDependency:
		return CodeDependencyFailed
	case KindConfig:
		return CodeSiteConfigFailed
	case KindActivation:
		return CodeActivationFailed
	case KindMigration:
		return CodeMigrationFailed
	case KindRestart:
		return CodeRestartFailed
	case KindNoPriorRelease:
		return CodeNoPriorRelease
	case KindConfiguration:
		return CodeInvalidConfig
	case KindTest:
		return CodeTestFailed
	default:
		return CodeUnknown
	}
}

// Error is a deployment failure with the context needed to resume it.
type Error struct {
	// Kind classifies the failure.
	Kind Kind

	// Step is the pipeline step that failed (e.g. "package", "migrate").
	Step string

	// Host is the target host the step ran against (if applicable).
	Host string

	// Label is the release label involved (if applicable).
	Label string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var ctx []string
	if e.Step != "" {
		ctx = append(ctx, "step "+e.Step)
	}
	if e.Host != "" {
		ctx = append(ctx, "host "+e.Host)
	}
	if e.Label != "" {
		ctx = append(ctx, "release "+e.Label)
	}

	msg := string(e.Kind)
	if len(ctx) > 0 {
		msg = fmt.Sprintf("%s [%s]", msg, strings.Join(ctx, ", "))
	}
	if e.Err == nil {
		return msg
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

// Unwrap returns the underlying error for error chaining support.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the Kind of this error.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// WithStep adds the pipeline step to the error.
func (e *Error) WithStep(step string) *Error {
	e.Step = step
	return e
}

// WithHost adds the target host to the error.
func (e *Error) WithHost(host string) *Error {
	e.Host = host
	return e
}

// WithLabel adds the release label to the error.
func (e *Error) WithLabel(label string) *Error {
	e.Label = label
	return e
}

// New creates a new Error of the given kind wrapping err.
func New(kind Kind, err error) *Error {
	return &Error{
		Kind: kind,
		Err:  err,
	}
}

// Newf creates a new Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Errorf(format, args...))
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// CodeOf returns the error code for err.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	return KindOf(err).Code()
}

// IsNoPriorRelease reports whether err is a NoPriorReleaseError.
func IsNoPriorRelease(err error) bool {
	return errors.Is(err, KindNoPriorRelease)
}

// IsConfiguration reports whether err is a ConfigurationError.
func IsConfiguration(err error) bool {
	return errors.Is(err, KindConfiguration)
}
