// Package executor runs processes on the local machine and captures their
// output and exit status.
//
// Commands run exactly once: nothing in this package retries. A failed step
// is re-run by the operator re-invoking it.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/input-output-hk/forge-deploy/shell"
)

// Result holds the output and exit status of a command execution.
type Result struct {
	Stdout   string
	Stderr   string
	Combined string
	ExitCode int
}

// Output returns the combined output when it was captured, else stdout followed by stderr.
func (r *Result) Output() string {
	if r == nil {
		return ""
	}
	if r.Combined != "" {
		return r.Combined
	}
	return r.Stdout + r.Stderr
}

// ExitError is returned when a command ran to completion with a non-zero exit status.
type ExitError struct {
	// Command is the rendered command line.
	Command string

	// Code is the exit status.
	Code int

	// Output is the captured output, trimmed.
	Output string
}

// Error implements the error interface.
func (e *ExitError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("command %q exited with status %d", e.Command, e.Code)
	}
	return fmt.Sprintf("command %q exited with status %d: %s", e.Command, e.Code, e.Output)
}

// ExitCode returns the exit status carried by err, or -1 if err is not an *ExitError.
func ExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return -1
}

// Command is a program and its arguments.
type Command struct {
	program string
	args    []string
}

// New creates a Command for program with args.
func New(program string, args ...string) *Command {
	return &Command{program: program, args: args}
}

// Shell creates a Command running a built command line through "sh -c".
// The command's working directory is applied by the rendered line itself.
func Shell(cmd *shell.Command) (*Command, error) {
	line, err := cmd.Render()
	if err != nil {
		return nil, fmt.Errorf("render command: %w", err)
	}
	return New("sh", "-c", line), nil
}

// String returns the command line for logs.
func (c *Command) String() string {
	if c.program == "sh" && len(c.args) == 2 && c.args[0] == "-c" {
		return c.args[1]
	}
	return strings.Join(append([]string{c.program}, c.args...), " ")
}

type options struct {
	combined bool
	env      map[string]string
	stdout   io.Writer
	stderr   io.Writer
}

// Option configures one Execute call.
type Option func(*options)

// CombinedOutput captures stdout and stderr interleaved into Result.Combined
// instead of separately.
func CombinedOutput() Option {
	return func(o *options) {
		o.combined = true
	}
}

// WithEnv sets environment variables on top of the current environment.
// Later calls override earlier ones key by key.
func WithEnv(env map[string]string) Option {
	return func(o *options) {
		if o.env == nil {
			o.env = make(map[string]string, len(env))
		}
		for k, v := range env {
			o.env[k] = v
		}
	}
}

// WithStdoutWriter copies stdout to w as well as capturing it.
func WithStdoutWriter(w io.Writer) Option {
	return func(o *options) {
		o.stdout = w
	}
}

// WithStderrWriter copies stderr to w as well as capturing it.
func WithStderrWriter(w io.Writer) Option {
	return func(o *options) {
		o.stderr = w
	}
}

// Execute runs the command. A non-zero exit status is reported as an
// *ExitError alongside the result.
func (c *Command) Execute(ctx context.Context, opts ...Option) (*Result, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	cmd := exec.CommandContext(ctx, c.program, c.args...)
	if len(o.env) > 0 {
		cmd.Env = environ(o.env)
	}

	var stdout, stderr, combined bytes.Buffer
	outBuf, errBuf := io.Writer(&stdout), io.Writer(&stderr)
	if o.combined {
		outBuf, errBuf = &combined, &combined
	}
	cmd.Stdout = tee(outBuf, o.stdout)
	cmd.Stderr = tee(errBuf, o.stderr)

	runErr := cmd.Run()
	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Combined: combined.String(),
	}

	var exitErr *exec.ExitError
	switch {
	case runErr == nil:
		return result, nil
	case errors.As(runErr, &exitErr) && exitErr.ExitCode() >= 0:
		result.ExitCode = exitErr.ExitCode()
		return result, &ExitError{
			Command: c.String(),
			Code:    result.ExitCode,
			Output:  strings.TrimSpace(result.Output()),
		}
	default:
		result.ExitCode = -1
		return result, fmt.Errorf("command execution failed: %w", runErr)
	}
}

// environ appends env to the current environment in key order.
func environ(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := os.Environ()
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

func tee(buf, extra io.Writer) io.Writer {
	if extra == nil {
		return buf
	}
	return io.MultiWriter(buf, extra)
}
