// Package remote defines the Remote Executor used by the release core and its
// two transports: SSH for real hosts and Local for the machine running
// forge-deploy.
//
// Every call is synchronous. A command either completes and reports its exit
// status, or the call returns an error; a non-zero exit status is reported as
// an *executor.ExitError together with the captured result.
package remote

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/kevinburke/ssh_config"

	"github.com/input-output-hk/forge-deploy/executor"
	"github.com/input-output-hk/forge-deploy/shell"
)

// Target identifies where a remote command runs.
type Target struct {
	Host string
	User string
}

// Validate checks the host and user fields before they reach a command line.
func (t Target) Validate() error {
	if err := shell.ValidateHost(t.Host); err != nil {
		return fmt.Errorf("target: %w", err)
	}
	if err := shell.ValidateUser(t.User); err != nil {
		return fmt.Errorf("target: %w", err)
	}
	return nil
}

// String returns user@host.
func (t Target) String() string {
	return t.User + "@" + t.Host
}

// Executor runs commands on targets and on the local machine.
type Executor interface {
	// RunRemote runs cmd on target.
	RunRemote(ctx context.Context, target Target, cmd *shell.Command, opts ...RunOption) (*executor.Result, error)

	// RunLocal runs cmd on the local machine.
	RunLocal(ctx context.Context, cmd *shell.Command, opts ...RunOption) (*executor.Result, error)

	// CopyToRemote copies the local file at localPath to remotePath on target.
	CopyToRemote(ctx context.Context, target Target, localPath, remotePath string) error

	// Close releases any connections held by the executor.
	Close() error
}

// RunOption configures a single RunRemote or RunLocal call.
type RunOption func(*runOptions)

type runOptions struct {
	pty    bool
	stream io.Writer
	env    map[string]string
}

// WithPTY allocates a pseudo-terminal for the command.
func WithPTY() RunOption {
	return func(o *runOptions) {
		o.pty = true
	}
}

// WithStream copies the command's output to w while it runs.
func WithStream(w io.Writer) RunOption {
	return func(o *runOptions) {
		o.stream = w
	}
}

// WithEnv sets environment variables for a command run on the local
// machine. Commands run over SSH do not receive them.
func WithEnv(env map[string]string) RunOption {
	return func(o *runOptions) {
		o.env = env
	}
}

// local translates the options into options for a local process.
func (o *runOptions) local() []executor.Option {
	var opts []executor.Option
	if o.stream != nil {
		opts = append(opts, executor.WithStdoutWriter(o.stream), executor.WithStderrWriter(o.stream))
	}
	if len(o.env) > 0 {
		opts = append(opts, executor.WithEnv(o.env))
	}
	return opts
}

func applyRunOptions(opts []RunOption) *runOptions {
	o := &runOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option configures an executor.
type Option func(*options)

type options struct {
	logger    *slog.Logger
	local     LocalRunner
	keys      *KeyProvider
	hostKeys  *HostKeys
	port      int
	timeout   time.Duration
	sshConfig SSHConfigLookup
}

// WithLogger sets the logger used for command tracing.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// LocalRunner runs a built command on the local machine.
type LocalRunner func(ctx context.Context, cmd *shell.Command, opts ...executor.Option) (*executor.Result, error)

// WithLocalRunner replaces how local commands are started.
func WithLocalRunner(run LocalRunner) Option {
	return func(o *options) {
		o.local = run
	}
}

func newOptions(opts []Option) *options {
	o := &options{
		logger:    slog.New(slog.DiscardHandler),
		local:     RunShell,
		timeout:   30 * time.Second,
		sshConfig: ssh_config.DefaultUserSettings,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RunShell runs cmd through "sh -c" on the local machine.
func RunShell(ctx context.Context, cmd *shell.Command, opts ...executor.Option) (*executor.Result, error) {
	exec, err := executor.Shell(cmd)
	if err != nil {
		return nil, err
	}
	opts = append([]executor.Option{executor.CombinedOutput()}, opts...)
	return exec.Execute(ctx, opts...)
}
