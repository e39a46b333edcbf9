// Package shell builds validated, quoted shell command lines for execution
// on a target host.
//
// Commands are assembled from argv slices rather than interpolated strings.
// Every argument is quoted when rendered, so host names, paths and labels
// taken from configuration can never change the shape of the command.
package shell

import (
	"errors"
	"fmt"
	"strings"

	"github.com/alessio/shellescape"
)

// ErrInvalidArgument is returned when a command argument cannot be rendered safely.
var ErrInvalidArgument = errors.New("invalid command argument")

// Command is a sequence of argv invocations joined with "&&", optionally run
// from a working directory and optionally elevated with sudo.
//
// The zero value is not usable; construct commands with New.
type Command struct {
	dir   string
	sudo  bool
	steps [][]string
}

// New creates a command running name with args.
func New(name string, args ...string) *Command {
	return &Command{
		steps: [][]string{argv(name, args)},
	}
}

// And appends another invocation that runs only if the previous ones succeeded.
func (c *Command) And(name string, args ...string) *Command {
	c.steps = append(c.steps, argv(name, args))
	return c
}

// In sets the directory the command runs from.
func (c *Command) In(dir string) *Command {
	c.dir = dir
	return c
}

// AsRoot runs the whole command line through sudo.
func (c *Command) AsRoot() *Command {
	c.sudo = true
	return c
}

// Dir returns the working directory, if one was set.
func (c *Command) Dir() string {
	return c.dir
}

// Privileged reports whether the command runs through sudo.
func (c *Command) Privileged() bool {
	return c.sudo
}

// Steps returns a copy of the argv invocations making up the command.
func (c *Command) Steps() [][]string {
	out := make([][]string, len(c.steps))
	for i, s := range c.steps {
		out[i] = append([]string(nil), s...)
	}
	return out
}

// Render returns the command line for a POSIX shell.
func (c *Command) Render() (string, error) {
	if len(c.steps) == 0 {
		return "", fmt.Errorf("%w: empty command", ErrInvalidArgument)
	}

	parts := make([]string, 0, len(c.steps)+1)
	if c.dir != "" {
		if err := checkArg(c.dir); err != nil {
			return "", err
		}
		parts = append(parts, "cd "+shellescape.Quote(c.dir))
	}
	for _, step := range c.steps {
		if len(step) == 0 || step[0] == "" {
			return "", fmt.Errorf("%w: empty program name", ErrInvalidArgument)
		}
		quoted := make([]string, len(step))
		for i, a := range step {
			if err := checkArg(a); err != nil {
				return "", err
			}
			quoted[i] = shellescape.Quote(a)
		}
		parts = append(parts, strings.Join(quoted, " "))
	}

	line := strings.Join(parts, " && ")
	if c.sudo {
		line = "sudo -- sh -c " + shellescape.Quote(line)
	}
	return line, nil
}

// String renders the command for logs. Invalid commands render with a marker.
func (c *Command) String() string {
	line, err := c.Render()
	if err != nil {
		return "<invalid: " + err.Error() + ">"
	}
	return line
}

func argv(name string, args []string) []string {
	return append([]string{name}, args...)
}

func checkArg(a string) error {
	if strings.ContainsAny(a, "\x00\n\r") {
		return fmt.Errorf("%w: %q contains a control character", ErrInvalidArgument, a)
	}
	return nil
}
