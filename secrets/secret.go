// Package secrets resolves secret material, such as SSH private keys, from
// pluggable providers. Secret values are copied on read and can be zeroed
// once used.
//
// A reference is written as "provider:path" with an optional "@version"
// suffix, for example "aws:deploy/ssh-key@AWSCURRENT". Without a provider
// prefix the manager's default provider is used.
package secrets

import (
	"fmt"
	"strings"
	"time"
)

// Secret is a resolved secret value with metadata.
type Secret struct {
	// Value contains the secret data. It must never be logged.
	Value []byte

	// Version is the version that was requested, empty for the latest.
	Version string

	CreatedAt time.Time
}

// SecretRef points at a secret without holding its value.
type SecretRef struct {
	// Provider names the provider to resolve from. Empty selects the default.
	Provider string

	// Path identifies the secret within the provider, e.g. "deploy/ssh-key".
	Path string

	// Version selects a version or stage. Empty selects the latest.
	Version string
}

// ParseRef parses the "provider:path@version" form.
func ParseRef(s string) (SecretRef, error) {
	var ref SecretRef

	rest := strings.TrimSpace(s)
	// A bare ARN carries its own colons.
	if provider, path, ok := strings.Cut(rest, ":"); ok && !strings.HasPrefix(rest, "arn:") {
		ref.Provider = provider
		rest = path
	}
	if path, version, ok := strings.Cut(rest, "@"); ok {
		ref.Version = version
		rest = path
	}
	ref.Path = rest

	if err := ref.Validate(); err != nil {
		return SecretRef{}, err
	}
	return ref, nil
}

// Validate checks that the reference names a secret.
func (r SecretRef) Validate() error {
	if r.Path == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidRef)
	}
	if strings.ContainsAny(r.Provider, " /@") {
		return fmt.Errorf("%w: provider %q", ErrInvalidRef, r.Provider)
	}
	return nil
}

// String formats the reference in the form accepted by ParseRef.
func (r SecretRef) String() string {
	var b strings.Builder
	if r.Provider != "" {
		b.WriteString(r.Provider)
		b.WriteByte(':')
	}
	b.WriteString(r.Path)
	if r.Version != "" {
		b.WriteByte('@')
		b.WriteString(r.Version)
	}
	return b.String()
}

// Bytes returns a copy of the secret value.
func (s *Secret) Bytes() []byte {
	if s.Value == nil {
		return nil
	}
	value := make([]byte, len(s.Value))
	copy(value, s.Value)
	return value
}

// Clear zeroes the secret value in memory.
func (s *Secret) Clear() {
	for i := range s.Value {
		s.Value[i] = 0
	}
	s.Value = nil
}
