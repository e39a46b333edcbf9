package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	gossh "golang.org/x/crypto/ssh"

	"github.com/input-output-hk/forge-deploy/executor"
	"github.com/input-output-hk/forge-deploy/shell"
)

// defaultIdentityFile is what ssh_config reports for IdentityFile when the
// user's configuration does not set one.
const defaultIdentityFile = "~/.ssh/identity"

// SSHConfigLookup reads OpenSSH client settings for a host alias.
// *ssh_config.UserSettings satisfies it.
type SSHConfigLookup interface {
	Get(alias, key string) string
}

// WithKeys sets the client authentication. Without it the identity file from
// ~/.ssh/config is used when present, else the SSH agent.
func WithKeys(keys *KeyProvider) Option {
	return func(o *options) {
		o.keys = keys
	}
}

// WithHostKeys sets host key verification. Without it ~/.ssh/known_hosts is used.
func WithHostKeys(hostKeys *HostKeys) Option {
	return func(o *options) {
		o.hostKeys = hostKeys
	}
}

// WithPort overrides the SSH port for every host.
func WithPort(port int) Option {
	return func(o *options) {
		o.port = port
	}
}

// WithDialTimeout bounds how long connecting to a host may take.
func WithDialTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// WithSSHConfig replaces the OpenSSH client configuration lookup.
func WithSSHConfig(lookup SSHConfigLookup) Option {
	return func(o *options) {
		o.sshConfig = lookup
	}
}

// SSH is an Executor reaching targets over SSH. Connections are opened on
// first use and reused for every later command on the same target.
type SSH struct {
	opts *options

	mu      sync.Mutex
	clients map[Target]*gossh.Client
}

var _ Executor = (*SSH)(nil)

// NewSSH creates an SSH executor.
func NewSSH(opts ...Option) *SSH {
	return &SSH{
		opts:    newOptions(opts),
		clients: make(map[Target]*gossh.Client),
	}
}

// RunRemote implements Executor.
func (s *SSH) RunRemote(
	ctx context.Context,
	target Target,
	cmd *shell.Command,
	opts ...RunOption,
) (*executor.Result, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	line, err := cmd.Render()
	if err != nil {
		return nil, err
	}
	ro := applyRunOptions(opts)

	client, err := s.client(ctx, target)
	if err != nil {
		return nil, err
	}
	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("ssh %s: open session: %w", target, err)
	}
	defer session.Close()

	if ro.pty {
		modes := gossh.TerminalModes{
			gossh.ECHO:          0,
			gossh.TTY_OP_ISPEED: 14400,
			gossh.TTY_OP_OSPEED: 14400,
		}
		if err := session.RequestPty("xterm", 40, 120, modes); err != nil {
			return nil, fmt.Errorf("ssh %s: request pty: %w", target, err)
		}
	}

	var buf bytes.Buffer
	var out io.Writer = &buf
	if ro.stream != nil {
		out = io.MultiWriter(&buf, ro.stream)
	}
	session.Stdout = out
	session.Stderr = out

	s.opts.logger.DebugContext(ctx, "running remote command",
		"target", target.String(),
		"command", line,
		"pty", ro.pty)

	err = runSession(ctx, session, line)
	return sessionResult(target, line, buf.String(), err)
}

// RunLocal implements Executor.
func (s *SSH) RunLocal(ctx context.Context, cmd *shell.Command, opts ...RunOption) (*executor.Result, error) {
	s.opts.logger.DebugContext(ctx, "running local command", "command", cmd.String())
	return s.opts.local(ctx, cmd, applyRunOptions(opts).local()...)
}

// CopyToRemote implements Executor by streaming the file into "cat" on the target.
func (s *SSH) CopyToRemote(ctx context.Context, target Target, localPath, remotePath string) error {
	if err := target.Validate(); err != nil {
		return err
	}
	if err := shell.ValidatePath(remotePath); err != nil {
		return fmt.Errorf("copy to %s: %w", target, err)
	}

	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("copy to %s: %w", target, err)
	}
	defer f.Close()

	client, err := s.client(ctx, target)
	if err != nil {
		return err
	}
	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("ssh %s: open session: %w", target, err)
	}
	defer session.Close()

	line, err := shell.New("sh", "-c", `cat > "$1"`, "sh", remotePath).Render()
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	session.Stdin = f
	session.Stdout = &buf
	session.Stderr = &buf

	s.opts.logger.DebugContext(ctx, "copying file",
		"target", target.String(),
		"local", localPath,
		"remote", remotePath)

	runErr := runSession(ctx, session, line)
	_, err = sessionResult(target, line, buf.String(), runErr)
	return err
}

// Close implements Executor.
func (s *SSH) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for t, c := range s.clients {
		if err := c.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, fmt.Errorf("close %s: %w", t, err))
		}
		delete(s.clients, t)
	}
	return errors.Join(errs...)
}

func (s *SSH) client(ctx context.Context, target Target) (*gossh.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.clients[target]; ok {
		return c, nil
	}

	addr := s.address(target.Host)
	cfg, err := s.clientConfig(target, addr)
	if err != nil {
		return nil, fmt.Errorf("ssh %s: %w", target, err)
	}

	d := net.Dialer{Timeout: s.opts.timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("ssh %s: dial %s: %w", target, addr, err)
	}
	c, chans, reqs, err := gossh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh %s: handshake: %w", target, err)
	}

	client := gossh.NewClient(c, chans, reqs)
	s.clients[target] = client
	s.opts.logger.DebugContext(ctx, "connected", "target", target.String(), "address", addr)
	return client, nil
}

func (s *SSH) clientConfig(target Target, addr string) (*gossh.ClientConfig, error) {
	hostKeys := s.opts.hostKeys
	if hostKeys == nil {
		hk, err := NewKnownHosts()
		if err != nil {
			return nil, err
		}
		hostKeys = hk
	}

	cfg, err := s.keys(target.Host).ClientConfig(target.User, hostKeys.Callback())
	if err != nil {
		return nil, err
	}
	if algos := hostKeys.Algorithms(addr); len(algos) > 0 {
		cfg.HostKeyAlgorithms = algos
	}
	cfg.Timeout = s.opts.timeout
	return cfg, nil
}

func (s *SSH) keys(alias string) *KeyProvider {
	if s.opts.keys != nil {
		return s.opts.keys
	}
	if id := s.opts.sshConfig.Get(alias, "IdentityFile"); id != "" && id != defaultIdentityFile {
		return NewKeyFileProvider(id, "")
	}
	return NewAgentProvider()
}

// address resolves a host alias to host:port using the OpenSSH client configuration.
func (s *SSH) address(alias string) string {
	if host, port, err := net.SplitHostPort(alias); err == nil {
		return net.JoinHostPort(host, port)
	}

	host := alias
	if hn := s.opts.sshConfig.Get(alias, "HostName"); hn != "" {
		host = hn
	}

	port := s.opts.port
	if port == 0 {
		if p, err := strconv.Atoi(s.opts.sshConfig.Get(alias, "Port")); err == nil && p > 0 {
			port = p
		} else {
			port = 22
		}
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// runSession runs line and closes the session if ctx ends first.
func runSession(ctx context.Context, session *gossh.Session, line string) error {
	done := make(chan error, 1)
	go func() {
		done <- session.Run(line)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		session.Close()
		<-done
		return ctx.Err()
	}
}

func sessionResult(target Target, line, output string, err error) (*executor.Result, error) {
	result := &executor.Result{Combined: output}

	var exitErr *gossh.ExitError
	switch {
	case err == nil:
		return result, nil
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitStatus()
		return result, &executor.ExitError{
			Command: line,
			Code:    result.ExitCode,
			Output:  strings.TrimSpace(output),
		}
	default:
		result.ExitCode = -1
		return result, fmt.Errorf("ssh %s: %w", target, err)
	}
}
