package secrets

import (
	"errors"
	"fmt"
)

var (
	// ErrSecretNotFound indicates the provider has no such secret or version.
	ErrSecretNotFound = errors.New("secret not found")

	// ErrSecretEmpty indicates the secret exists but holds no value.
	ErrSecretEmpty = errors.New("secret value is empty")

	// ErrAccessDenied indicates the caller lacks permission to read the secret.
	ErrAccessDenied = errors.New("access denied to secret")

	// ErrInvalidRef indicates a malformed SecretRef.
	ErrInvalidRef = errors.New("invalid secret reference")

	// ErrProviderNotFound indicates the reference names an unregistered provider.
	ErrProviderNotFound = errors.New("secret provider not registered")
)

// ProviderError wraps a provider failure with the provider name and reference.
// It never carries the secret value.
type ProviderError struct {
	Provider string
	Ref      SecretRef
	Err      error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %q error for secret %q: %v", e.Provider, e.Ref.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsProviderError reports whether err contains a ProviderError.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}
