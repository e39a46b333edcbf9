package git

import (
	"errors"
	"fmt"
)

// Sentinel errors that can be checked with errors.Is().

// ErrInvalidOptions is returned when Options are missing required fields.
var ErrInvalidOptions = errors.New("invalid options")

// ErrInvalidRef is returned when a revision specification is empty or malformed.
var ErrInvalidRef = errors.New("invalid reference")

// ErrResolveFailed is returned when a revision specification cannot be resolved
// to a commit (branch or tag missing, unknown SHA).
var ErrResolveFailed = errors.New("cannot resolve revision")

// WrapError wraps an error with additional context while preserving
// the ability to check against sentinel errors using errors.Is().
func WrapError(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// WrapErrorf wraps an error with formatted additional context.
func WrapErrorf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}
