package secrets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Manager dispatches references to registered providers.
// It is safe for concurrent use.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
	logger          *slog.Logger
	mu              sync.RWMutex
}

var _ Resolver = (*Manager)(nil)

// Option configures a Manager.
type Option func(*Manager)

// WithDefaultProvider sets the provider used for references without a prefix.
func WithDefaultProvider(name string) Option {
	return func(m *Manager) {
		m.defaultProvider = name
	}
}

// WithLogger sets the logger. Only provider names and secret paths are logged.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a Manager with no providers.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		providers: make(map[string]Provider),
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RegisterProvider registers p under its Name.
func (m *Manager) RegisterProvider(p Provider) error {
	if p == nil {
		return errors.New("provider cannot be nil")
	}
	name := p.Name()
	if name == "" {
		return errors.New("provider name cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.providers[name]; exists {
		return fmt.Errorf("provider with name %q already registered", name)
	}
	m.providers[name] = p
	return nil
}

// Resolve resolves ref from its provider, or from the default provider when
// ref names none.
func (m *Manager) Resolve(ctx context.Context, ref SecretRef) (*Secret, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}

	name := ref.Provider
	if name == "" {
		name = m.defaultProvider
	}

	m.mu.RLock()
	provider, ok := m.providers[name]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrProviderNotFound, name)
	}

	m.logger.DebugContext(ctx, "resolving secret", "provider", name, "path", ref.Path)

	secret, err := provider.Resolve(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve secret: %w", &ProviderError{Provider: name, Ref: ref, Err: err})
	}
	if len(secret.Value) == 0 {
		return nil, fmt.Errorf("secret %q: %w", ref.Path, ErrSecretEmpty)
	}
	return secret, nil
}

// Close closes every registered provider.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for name, provider := range m.providers {
		if err := provider.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close provider %q: %w", name, err))
		}
	}
	m.providers = make(map[string]Provider)
	return errors.Join(errs...)
}
