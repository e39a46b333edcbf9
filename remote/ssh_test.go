package remote

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gossh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/input-output-hk/forge-deploy/shell"
)

type fakeSSHConfig map[string]map[string]string

func (f fakeSSHConfig) Get(alias, key string) string {
	return f[alias][key]
}

func generateKey(t *testing.T) ([]byte, gossh.PublicKey) {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	block, err := gossh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)

	sshPub, err := gossh.NewPublicKey(pub)
	require.NoError(t, err)

	return pem.EncodeToMemory(block), sshPub
}

func TestSSH_Address(t *testing.T) {
	lookup := fakeSSHConfig{
		"web":   {"HostName": "web.internal", "Port": "2222"},
		"plain": {},
	}

	tests := []struct {
		name  string
		opts  []Option
		alias string
		want  string
	}{
		{name: "ssh config alias", alias: "web", want: "web.internal:2222"},
		{name: "default port", alias: "plain", want: "plain:22"},
		{name: "explicit port in host", alias: "web:2200", want: "web:2200"},
		{name: "port override", opts: []Option{WithPort(2022)}, alias: "web", want: "web.internal:2022"},
		{name: "ipv6 literal", alias: "fe80::1", want: "[fe80::1]:22"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSSH(append([]Option{WithSSHConfig(lookup)}, tt.opts...)...)
			assert.Equal(t, tt.want, s.address(tt.alias))
		})
	}
}

func TestSSH_KeySelection(t *testing.T) {
	lookup := fakeSSHConfig{
		"web":   {"IdentityFile": "/keys/web"},
		"other": {"IdentityFile": defaultIdentityFile},
	}

	s := NewSSH(WithSSHConfig(lookup))
	assert.Equal(t, "/keys/web", s.keys("web").PrivateKeyPath)
	assert.True(t, s.keys("other").UseAgent)
	assert.True(t, s.keys("unknown").UseAgent)

	explicit := NewKeyBytesProvider([]byte("key"), "")
	s = NewSSH(WithSSHConfig(lookup), WithKeys(explicit))
	assert.Same(t, explicit, s.keys("web"))
}

func TestKeyProvider_ClientConfig(t *testing.T) {
	keyPEM, _ := generateKey(t)

	cfg, err := NewKeyBytesProvider(keyPEM, "").ClientConfig("deploy", InsecureHostKeys().Callback())
	require.NoError(t, err)
	assert.Equal(t, "deploy", cfg.User)
	assert.Len(t, cfg.Auth, 1)
	assert.NotNil(t, cfg.HostKeyCallback)

	path := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(path, keyPEM, 0o600))

	cfg, err = NewKeyFileProvider(path, "").ClientConfig("deploy", InsecureHostKeys().Callback())
	require.NoError(t, err)
	assert.Equal(t, "deploy", cfg.User)
}

func TestKeyProvider_Errors(t *testing.T) {
	_, err := (&KeyProvider{}).ClientConfig("deploy", InsecureHostKeys().Callback())
	require.ErrorIs(t, err, ErrNoCredentials)

	_, err = NewKeyFileProvider("/nonexistent/id_rsa", "").ClientConfig("deploy", nil)
	require.ErrorContains(t, err, "does not exist")

	_, err = NewKeyBytesProvider([]byte("not a key"), "").ClientConfig("deploy", nil)
	require.Error(t, err)
}

func TestNewKnownHosts(t *testing.T) {
	_, pub := generateKey(t)

	path := filepath.Join(t.TempDir(), "known_hosts")
	line := knownhosts.Line([]string{"web.internal"}, pub) + "\n"
	require.NoError(t, os.WriteFile(path, []byte(line), 0o600))

	hk, err := NewKnownHosts(path)
	require.NoError(t, err)
	assert.Equal(t, []string{gossh.KeyAlgoED25519}, hk.Algorithms("web.internal:22"))
	assert.Empty(t, hk.Algorithms("unknown:22"))

	_, err = NewKnownHosts(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}

func TestSSH_ValidatesBeforeDialing(t *testing.T) {
	s := NewSSH()
	defer s.Close()

	_, err := s.RunRemote(context.Background(), Target{Host: "a;b", User: "deploy"}, shell.New("true"))
	require.ErrorIs(t, err, shell.ErrInvalidHost)

	_, err = s.RunRemote(context.Background(), Target{Host: "web", User: "deploy"}, shell.New("echo", "a\nb"))
	require.ErrorIs(t, err, shell.ErrInvalidArgument)

	err = s.CopyToRemote(context.Background(), Target{Host: "web", User: "deploy"}, "/tmp/x", "packages/x")
	require.ErrorIs(t, err, shell.ErrInvalidPath)

	assert.Empty(t, s.clients)
}

func TestSSH_RunLocal(t *testing.T) {
	s := NewSSH()
	result, err := s.RunLocal(context.Background(), shell.New("echo", "local"))
	require.NoError(t, err)
	assert.Equal(t, "local\n", result.Output())
	assert.NoError(t, s.Close())
}
