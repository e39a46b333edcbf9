package remote

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	gitssh "github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"github.com/skeema/knownhosts"
	gossh "golang.org/x/crypto/ssh"
)

// ErrNoCredentials is returned when a KeyProvider has no key source configured.
var ErrNoCredentials = errors.New("no SSH credentials configured")

// KeyProvider resolves the client authentication for SSH connections.
// Exactly one source is used, in order: agent, key file, key bytes.
type KeyProvider struct {
	// PrivateKeyPath is the path to the SSH private key file.
	PrivateKeyPath string

	// PrivateKey contains the SSH private key as PEM bytes.
	PrivateKey []byte

	// Passphrase for encrypted private keys.
	Passphrase string

	// UseAgent enables SSH agent integration.
	UseAgent bool
}

// NewKeyFileProvider creates a provider using a private key file.
func NewKeyFileProvider(keyPath, passphrase string) *KeyProvider {
	return &KeyProvider{
		PrivateKeyPath: expandHome(keyPath),
		Passphrase:     passphrase,
	}
}

// NewKeyBytesProvider creates a provider using private key bytes.
func NewKeyBytesProvider(keyBytes []byte, passphrase string) *KeyProvider {
	return &KeyProvider{
		PrivateKey: keyBytes,
		Passphrase: passphrase,
	}
}

// NewAgentProvider creates a provider that uses the running SSH agent.
func NewAgentProvider() *KeyProvider {
	return &KeyProvider{UseAgent: true}
}

// ClientConfig builds the client configuration for user, verifying host keys with hostKeys.
func (p *KeyProvider) ClientConfig(user string, hostKeys gossh.HostKeyCallback) (*gossh.ClientConfig, error) {
	auth, err := p.method(user)
	if err != nil {
		return nil, err
	}

	switch a := auth.(type) {
	case *gitssh.PublicKeys:
		a.HostKeyCallback = hostKeys
	case *gitssh.PublicKeysCallback:
		a.HostKeyCallback = hostKeys
	}

	cfg, err := auth.ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("build SSH client config: %w", err)
	}
	return cfg, nil
}

//nolint:ireturn // go-git exposes the concrete auth types only through this interface
func (p *KeyProvider) method(user string) (gitssh.AuthMethod, error) {
	switch {
	case p.UseAgent:
		auth, err := gitssh.NewSSHAgentAuth(user)
		if err != nil {
			return nil, fmt.Errorf("failed to create SSH agent auth: %w", err)
		}
		return auth, nil
	case p.PrivateKeyPath != "":
		if _, err := os.Stat(p.PrivateKeyPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("SSH private key file does not exist: %s", p.PrivateKeyPath)
		}
		auth, err := gitssh.NewPublicKeysFromFile(user, p.PrivateKeyPath, p.Passphrase)
		if err != nil {
			return nil, fmt.Errorf("failed to load SSH key from file: %w", err)
		}
		return auth, nil
	case len(p.PrivateKey) > 0:
		auth, err := gitssh.NewPublicKeys(user, p.PrivateKey, p.Passphrase)
		if err != nil {
			return nil, fmt.Errorf("failed to load SSH key from bytes: %w", err)
		}
		return auth, nil
	}
	return nil, ErrNoCredentials
}

// HostKeys verifies server host keys and reports the algorithms known for a host.
type HostKeys struct {
	callback   gossh.HostKeyCallback
	algorithms func(hostWithPort string) []string
}

// NewKnownHosts loads host keys from OpenSSH known_hosts files.
// With no files, ~/.ssh/known_hosts is used.
func NewKnownHosts(files ...string) (*HostKeys, error) {
	if len(files) == 0 {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("locate known_hosts: %w", err)
		}
		files = []string{filepath.Join(home, ".ssh", "known_hosts")}
	}
	for i, f := range files {
		files[i] = expandHome(f)
	}

	kh, err := knownhosts.New(files...)
	if err != nil {
		return nil, fmt.Errorf("load known_hosts %v: %w", files, err)
	}
	return &HostKeys{
		callback:   kh.HostKeyCallback(),
		algorithms: kh.HostKeyAlgorithms,
	}, nil
}

// InsecureHostKeys accepts any host key. Only meant for throwaway hosts.
func InsecureHostKeys() *HostKeys {
	return &HostKeys{
		//nolint:gosec // explicitly requested by configuration
		callback:   gossh.InsecureIgnoreHostKey(),
		algorithms: func(string) []string { return nil },
	}
}

// Callback returns the host key callback.
func (h *HostKeys) Callback() gossh.HostKeyCallback {
	return h.callback
}

// Algorithms returns the host key algorithms recorded for hostWithPort.
func (h *HostKeys) Algorithms(hostWithPort string) []string {
	return h.algorithms(hostWithPort)
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
