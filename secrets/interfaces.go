package secrets

import "context"

// Resolver fetches secrets.
type Resolver interface {
	// Resolve retrieves a single secret by reference.
	Resolve(ctx context.Context, ref SecretRef) (*Secret, error)
}

// Provider is a named secret backend.
type Provider interface {
	Resolver

	// Name returns the provider's identifier, e.g. "aws" or "memory".
	Name() string

	// Close releases the provider's resources.
	Close() error
}
