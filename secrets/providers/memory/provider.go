// Package memory provides an in-memory secret provider for tests and for
// keys handed to forge-deploy directly rather than fetched from a backend.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/input-output-hk/forge-deploy/secrets"
)

// Name is the provider identifier.
const Name = "memory"

const latestVersion = "latest"

// Provider stores secrets in memory, keyed by path and version.
// It is safe for concurrent use.
type Provider struct {
	store map[string]map[string]*secrets.Secret
	mu    sync.RWMutex
}

var _ secrets.Provider = (*Provider)(nil)

// New creates an empty provider.
func New() *Provider {
	return &Provider{
		store: make(map[string]map[string]*secrets.Secret),
	}
}

// Name implements secrets.Provider.
func (p *Provider) Name() string {
	return Name
}

// Store saves value under ref. An empty ref.Version stores the latest version.
func (p *Provider) Store(ctx context.Context, ref secrets.SecretRef, value []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("store operation cancelled: %w", err)
	}
	if err := ref.Validate(); err != nil {
		return err
	}

	version := ref.Version
	if version == "" {
		version = latestVersion
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.store[ref.Path] == nil {
		p.store[ref.Path] = make(map[string]*secrets.Secret)
	}
	p.store[ref.Path][version] = &secrets.Secret{
		Value:     append([]byte(nil), value...),
		Version:   ref.Version,
		CreatedAt: time.Now().UTC(),
	}
	return nil
}

// Resolve implements secrets.Resolver. The returned secret is a copy.
func (p *Provider) Resolve(ctx context.Context, ref secrets.SecretRef) (*secrets.Secret, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("resolve operation cancelled: %w", err)
	}

	version := ref.Version
	if version == "" {
		version = latestVersion
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	secret, ok := p.store[ref.Path][version]
	if !ok {
		return nil, fmt.Errorf("%w: %s@%s", secrets.ErrSecretNotFound, ref.Path, version)
	}
	return &secrets.Secret{
		Value:     append([]byte(nil), secret.Value...),
		Version:   secret.Version,
		CreatedAt: secret.CreatedAt,
	}, nil
}

// Close zeroes and drops every stored secret.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for path, versions := range p.store {
		for _, secret := range versions {
			secret.Clear()
		}
		delete(p.store, path)
	}
	return nil
}
