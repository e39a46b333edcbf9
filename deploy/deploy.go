package deploy

import (
	"context"
	"fmt"
	"path"
	"slices"

	deployerrors "github.com/input-output-hk/forge-deploy/errors"
	"github.com/input-output-hk/forge-deploy/release"
	"github.com/input-output-hk/forge-deploy/remote"
	"github.com/input-output-hk/forge-deploy/shell"
)

// Deploy packages the configured revision under a new label and rolls it
// out to every host: transfer, dependencies, site configuration,
// activation, migration and restart. It returns the label of the release.
//
// A failure before activation leaves the host's current release untouched.
// A failure during migration or restart happens after the new release has
// become current.
func (p *Pipeline) Deploy(ctx context.Context) (release.Label, error) {
	l := release.NewLabel(p.clock())
	k, err := p.buildPackage(ctx, l)
	if err != nil {
		return l, err
	}
	defer k.remove()

	err = p.eachHost(ctx, func(ctx context.Context, s *release.Store) error {
		return p.deployHost(ctx, s, k)
	})
	return l, err
}

// DeployVersion makes the existing release l current on every host and
// restarts the service. Nothing is transferred.
func (p *Pipeline) DeployVersion(ctx context.Context, l release.Label) error {
	if err := l.Validate(); err != nil {
		return stepError(deployerrors.KindActivation, StepActivate, "", l, err)
	}
	return p.eachHost(ctx, func(ctx context.Context, s *release.Store) error {
		host := s.Target().Host
		if err := s.Activate(ctx, l); err != nil {
			return stepError(deployerrors.KindActivation, StepActivate, host, l, err)
		}
		return p.restart(ctx, s, l)
	})
}

func (p *Pipeline) deployHost(ctx context.Context, s *release.Store, k *pkg) error {
	host := s.Target().Host
	p.logger.InfoContext(ctx, "deploying release", "host", host, "label", string(k.label))

	steps := []struct {
		name string
		run  func(context.Context, *release.Store, release.Label) error
	}{
		{StepDependencies, p.installDependencies},
		{StepSite, p.installSite},
		{StepActivate, p.activate},
		{StepMigrate, p.migrate},
		{StepRestart, p.restart},
	}

	if err := p.transfer(ctx, s, k); err != nil {
		return err
	}
	for _, step := range steps {
		p.logger.DebugContext(ctx, "running step", "host", host, "step", step.name)
		if err := step.run(ctx, s, k.label); err != nil {
			return err
		}
	}

	p.logger.InfoContext(ctx, "release deployed", "host", host, "label", string(k.label))
	return nil
}

func (p *Pipeline) installDependencies(ctx context.Context, s *release.Store, l release.Label) error {
	deps := p.project.Dependencies
	if deps.Skip {
		return nil
	}
	manifest := path.Join(release.ReleasesDir, string(l), deps.Manifest)
	cmd := command(deps.Command, manifest).In(s.Root())
	if _, err := p.exec.RunRemote(ctx, s.Target(), cmd); err != nil {
		return stepError(deployerrors.KindDependency, StepDependencies, s.Target().Host, l, err)
	}
	return nil
}

func (p *Pipeline) installSite(ctx context.Context, s *release.Store, l release.Label) error {
	site := p.project.Site
	if site.Skip {
		return nil
	}
	cmd := shell.New("cp", path.Join(s.ReleasePath(l), site.File), path.Join(site.Dir, p.project.Name))
	if len(site.EnableCommand) > 0 {
		enable := append(slices.Clone(site.EnableCommand[1:]), p.project.Name)
		cmd = cmd.And(site.EnableCommand[0], enable...)
	}
	cmd = cmd.In(site.Dir).AsRoot()
	if _, err := p.exec.RunRemote(ctx, s.Target(), cmd); err != nil {
		return stepError(deployerrors.KindConfig, StepSite, s.Target().Host, l, err)
	}
	return nil
}

// activate links the shared directories into the release and makes it
// current.
func (p *Pipeline) activate(ctx context.Context, s *release.Store, l release.Label) error {
	host := s.Target().Host
	for _, rel := range p.project.SharedLinkPaths() {
		shared := path.Join(s.SharedPath(), p.project.SharedLinks[rel])
		link := path.Join(s.ReleasePath(l), rel)
		cmd := shell.New("mkdir", "-p", shared, path.Dir(link)).
			And("rm", "-rf", link).
			And("ln", "-s", shared, link)
		if _, err := p.exec.RunRemote(ctx, s.Target(), cmd); err != nil {
			return stepError(deployerrors.KindActivation, StepActivate, host, l, fmt.Errorf("link shared %s: %w", rel, err))
		}
	}

	if err := s.Activate(ctx, l); err != nil {
		return stepError(deployerrors.KindActivation, StepActivate, host, l, err)
	}
	return nil
}

func (p *Pipeline) migrate(ctx context.Context, s *release.Store, l release.Label) error {
	m := p.project.Migrate
	if m.Skip {
		return nil
	}
	cmd := command(m.Command).In(path.Join(s.CurrentPath(), m.Workdir))
	if _, err := p.exec.RunRemote(ctx, s.Target(), cmd); err != nil {
		return stepError(deployerrors.KindMigration, StepMigrate, s.Target().Host, l, err)
	}
	return nil
}

func (p *Pipeline) restart(ctx context.Context, s *release.Store, l release.Label) error {
	cmd := command(p.project.RestartCommand).AsRoot()
	if _, err := p.exec.RunRemote(ctx, s.Target(), cmd, remote.WithPTY(), remote.WithStream(p.output)); err != nil {
		return stepError(deployerrors.KindRestart, StepRestart, s.Target().Host, l, err)
	}
	p.logger.InfoContext(ctx, "service restarted", "host", s.Target().Host)
	return nil
}

// command builds a command from a configured argv with extra arguments.
func command(argv []string, extra ...string) *shell.Command {
	args := append(slices.Clone(argv[1:]), extra...)
	return shell.New(argv[0], args...)
}
