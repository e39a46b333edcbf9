package remote

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"

	"github.com/input-output-hk/forge-deploy/executor"
	"github.com/input-output-hk/forge-deploy/shell"
)

// Local is an Executor that treats every target as the local machine.
// It serves profiles whose hosts are the machine running forge-deploy and
// backs the release store tests. Target users are not switched.
type Local struct {
	opts *options
	fs   billy.Filesystem
}

var _ Executor = (*Local)(nil)

// NewLocal creates a local executor.
func NewLocal(opts ...Option) *Local {
	return &Local{
		opts: newOptions(opts),
		fs:   osfs.New("/"),
	}
}

// RunRemote implements Executor. PTY allocation is ignored.
func (l *Local) RunRemote(
	ctx context.Context,
	target Target,
	cmd *shell.Command,
	opts ...RunOption,
) (*executor.Result, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	ro := applyRunOptions(opts)

	l.opts.logger.DebugContext(ctx, "running command",
		"target", target.String(),
		"command", cmd.String())

	return l.opts.local(ctx, cmd, ro.local()...)
}

// RunLocal implements Executor.
func (l *Local) RunLocal(ctx context.Context, cmd *shell.Command, opts ...RunOption) (*executor.Result, error) {
	l.opts.logger.DebugContext(ctx, "running local command", "command", cmd.String())
	return l.opts.local(ctx, cmd, applyRunOptions(opts).local()...)
}

// CopyToRemote implements Executor with a plain file copy.
func (l *Local) CopyToRemote(ctx context.Context, target Target, localPath, remotePath string) error {
	if err := target.Validate(); err != nil {
		return err
	}
	if err := shell.ValidatePath(remotePath); err != nil {
		return fmt.Errorf("copy to %s: %w", target, err)
	}
	src, err := filepath.Abs(localPath)
	if err != nil {
		return fmt.Errorf("copy to %s: %w", target, err)
	}

	l.opts.logger.DebugContext(ctx, "copying file",
		"target", target.String(),
		"local", src,
		"remote", remotePath)

	in, err := l.fs.Open(src)
	if err != nil {
		return fmt.Errorf("copy to %s: open %q: %w", target, src, err)
	}
	defer in.Close()

	out, err := l.fs.OpenFile(remotePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("copy to %s: create %q: %w", target, remotePath, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy to %s: write %q: %w", target, remotePath, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("copy to %s: close %q: %w", target, remotePath, err)
	}
	return nil
}

// Close implements Executor.
func (l *Local) Close() error {
	return nil
}
