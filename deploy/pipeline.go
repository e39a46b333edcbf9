// Package deploy runs the release workflows against the hosts of a profile:
// provisioning, deploying a new release, re-activating an existing one,
// rolling back and reporting status.
//
// Hosts are processed one after another. Each host runs its steps to
// completion before the next host starts, and the first failure stops the
// run. Nothing is retried and nothing is cleaned up after a failure; the
// returned error names the step, host and release involved.
package deploy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	deployerrors "github.com/input-output-hk/forge-deploy/errors"
	"github.com/input-output-hk/forge-deploy/mirror"
	"github.com/input-output-hk/forge-deploy/profile"
	"github.com/input-output-hk/forge-deploy/release"
	"github.com/input-output-hk/forge-deploy/remote"
)

// Step names reported in errors and logs.
const (
	StepSetup        = "setup"
	StepPackage      = "package"
	StepDependencies = "dependencies"
	StepSite         = "site"
	StepActivate     = "activate"
	StepMigrate      = "migrate"
	StepRestart      = "restart"
	StepRollback     = "rollback"
	StepTest         = "test"
	StepStatus       = "status"
)

// Uploader stores a copy of a release package outside the hosts.
type Uploader interface {
	Upload(ctx context.Context, localPath, name string, metadata map[string]string) (*mirror.UploadResult, error)
}

// Pipeline runs deployment workflows for one project and profile.
type Pipeline struct {
	exec    remote.Executor
	project profile.Project
	profile profile.Profile
	logger  *slog.Logger
	clock   func() time.Time
	source  Source
	mirror  Uploader
	output  io.Writer
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger for progress reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithClock replaces the time source used to label releases.
func WithClock(clock func() time.Time) Option {
	return func(p *Pipeline) {
		p.clock = clock
	}
}

// WithSource replaces where release packages are produced from.
// The default archives the project's configured revision.
func WithSource(src Source) Option {
	return func(p *Pipeline) {
		p.source = src
	}
}

// WithMirror uploads every release package to u before it is transferred.
func WithMirror(u Uploader) Option {
	return func(p *Pipeline) {
		p.mirror = u
	}
}

// WithOutput streams the output of the restart and test commands to w.
func WithOutput(w io.Writer) Option {
	return func(p *Pipeline) {
		p.output = w
	}
}

// New creates a Pipeline. The executor is used for every host of prof.
func New(exec remote.Executor, project profile.Project, prof profile.Profile, opts ...Option) *Pipeline {
	p := &Pipeline{
		exec:    exec,
		project: project,
		profile: prof,
		logger:  slog.New(slog.DiscardHandler),
		clock:   time.Now,
		output:  io.Discard,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.source == nil {
		p.source = NewGitSource(project.SourceDir, project.Revision)
	}
	return p
}

// Hosts returns the hosts in the order they are processed.
func (p *Pipeline) Hosts() []string {
	return append([]string(nil), p.profile.Hosts...)
}

func (p *Pipeline) target(host string) remote.Target {
	return remote.Target{Host: host, User: p.profile.User}
}

func (p *Pipeline) store(host string) (*release.Store, error) {
	return release.NewStore(p.exec, p.target(host), p.profile.Path, release.WithLogger(p.logger))
}

// eachHost runs fn for every host in order and stops at the first error.
func (p *Pipeline) eachHost(ctx context.Context, fn func(ctx context.Context, s *release.Store) error) error {
	for _, host := range p.profile.Hosts {
		if err := ctx.Err(); err != nil {
			return err
		}
		s, err := p.store(host)
		if err != nil {
			return deployerrors.New(deployerrors.KindConfiguration, err).WithHost(host)
		}
		if err := fn(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// stepError attaches step, host and label to err. Errors already carrying a
// kind keep it; anything else is classified as kind.
func stepError(kind deployerrors.Kind, step, host string, l release.Label, err error) error {
	var de *deployerrors.Error
	if errors.As(err, &de) {
		if de.Step == "" {
			de.Step = step
		}
		if de.Host == "" {
			de.Host = host
		}
		if de.Label == "" && l != "" {
			de.Label = string(l)
		}
		return err
	}

	e := deployerrors.New(kind, err).WithStep(step)
	if host != "" {
		e = e.WithHost(host)
	}
	if l != "" {
		e = e.WithLabel(string(l))
	}
	return e
}
