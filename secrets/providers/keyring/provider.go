// Package keyring resolves secrets from the operating system keyring
// (Secret Service on Linux, Keychain on macOS, Credential Manager on
// Windows).
//
// A reference path "service/account" names the keyring item. A path without
// a slash uses DefaultService. Keyring items are not versioned.
package keyring

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gokeyring "github.com/zalando/go-keyring"

	"github.com/input-output-hk/forge-deploy/secrets"
)

const (
	// Name is the provider identifier.
	Name = "keyring"

	// DefaultService is the keyring service used for paths without one.
	DefaultService = "forge-deploy"
)

// Provider reads secrets from the operating system keyring.
type Provider struct{}

var _ secrets.Provider = (*Provider)(nil)

// New creates a keyring provider.
func New() *Provider {
	return &Provider{}
}

// Name implements secrets.Provider.
func (p *Provider) Name() string {
	return Name
}

// Close implements secrets.Provider.
func (p *Provider) Close() error {
	return nil
}

// Resolve implements secrets.Resolver.
func (p *Provider) Resolve(ctx context.Context, ref secrets.SecretRef) (*secrets.Secret, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	service, account, err := item(ref)
	if err != nil {
		return nil, err
	}

	value, err := gokeyring.Get(service, account)
	switch {
	case errors.Is(err, gokeyring.ErrNotFound):
		return nil, fmt.Errorf("%w: %s/%s", secrets.ErrSecretNotFound, service, account)
	case err != nil:
		return nil, fmt.Errorf("read keyring item %s/%s: %w", service, account, err)
	}

	return &secrets.Secret{
		Value:     []byte(value),
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Store saves value under ref, replacing any existing item.
func (p *Provider) Store(ctx context.Context, ref secrets.SecretRef, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	service, account, err := item(ref)
	if err != nil {
		return err
	}
	if err := gokeyring.Set(service, account, string(value)); err != nil {
		return fmt.Errorf("write keyring item %s/%s: %w", service, account, err)
	}
	return nil
}

func item(ref secrets.SecretRef) (service, account string, err error) {
	if err := ref.Validate(); err != nil {
		return "", "", err
	}
	if ref.Version != "" {
		return "", "", fmt.Errorf("%w: keyring items are not versioned", secrets.ErrInvalidRef)
	}
	if i := strings.LastIndex(ref.Path, "/"); i >= 0 {
		service, account = ref.Path[:i], ref.Path[i+1:]
	} else {
		service, account = DefaultService, ref.Path
	}
	if service == "" || account == "" {
		return "", "", fmt.Errorf("%w: %q", secrets.ErrInvalidRef, ref.Path)
	}
	return service, account, nil
}
