package deploy

import (
	"context"
	"fmt"

	deployerrors "github.com/input-output-hk/forge-deploy/errors"
	"github.com/input-output-hk/forge-deploy/executor"
	"github.com/input-output-hk/forge-deploy/release"
	"github.com/input-output-hk/forge-deploy/shell"
)

// Setup provisions every host and then deploys a first release to it.
// Provisioning installs the system packages, runs the extra setup commands,
// disables the configured default sites, creates the store directory owned
// by the deploy user, links it from the user's home directory, creates the
// virtualenv and initializes the release store.
//
// The release package is built once, after the first host is provisioned,
// and shared by every host. Running Setup again on a provisioned host keeps
// the live release pointers and deploys a new release.
func (p *Pipeline) Setup(ctx context.Context) (release.Label, error) {
	l := release.NewLabel(p.clock())

	var k *pkg
	defer func() {
		if k != nil {
			k.remove()
		}
	}()

	err := p.eachHost(ctx, func(ctx context.Context, s *release.Store) error {
		if err := p.provision(ctx, s); err != nil {
			return err
		}
		if k == nil {
			built, err := p.buildPackage(ctx, l)
			if err != nil {
				return err
			}
			k = built
		}
		return p.deployHost(ctx, s, k)
	})
	return l, err
}

func (p *Pipeline) provision(ctx context.Context, s *release.Store) error {
	host := s.Target().Host
	setup := p.project.Setup
	user := p.profile.User

	var cmds []*shell.Command
	if len(setup.Packages) > 0 {
		cmds = append(cmds, command(setup.InstallCommand, setup.Packages...).AsRoot())
	}
	for _, c := range setup.Commands {
		cmds = append(cmds, command(c).AsRoot())
	}
	for _, site := range setup.DisableSites {
		cmds = append(cmds, command(setup.DisableCommand, site).AsRoot())
	}
	cmds = append(cmds, shell.New("mkdir", "-p", s.Root()).
		And("chown", user+":"+user, s.Root()).
		AsRoot())

	for _, cmd := range cmds {
		if _, err := p.exec.RunRemote(ctx, s.Target(), cmd); err != nil {
			return stepError(deployerrors.KindSetup, StepSetup, host, "", err)
		}
	}

	if setup.HomeLink != "" {
		if err := p.linkHome(ctx, s); err != nil {
			return stepError(deployerrors.KindSetup, StepSetup, host, "", err)
		}
	}
	if setup.Virtualenv {
		if _, err := p.exec.RunRemote(ctx, s.Target(), shell.New("virtualenv", ".").In(s.Root())); err != nil {
			return stepError(deployerrors.KindSetup, StepSetup, host, "", err)
		}
	}
	if err := s.Initialize(ctx); err != nil {
		return stepError(deployerrors.KindSetup, StepSetup, host, "", err)
	}

	p.logger.InfoContext(ctx, "host provisioned", "host", host, "root", s.Root())
	return nil
}

// linkHome creates the home directory link to the store root unless
// something already exists under that name. Commands start in the login
// directory of the deploy user.
func (p *Pipeline) linkHome(ctx context.Context, s *release.Store) error {
	name := p.project.Setup.HomeLink
	_, err := p.exec.RunRemote(ctx, s.Target(), shell.New("test", "-e", name))
	if err == nil {
		return nil
	}
	if executor.ExitCode(err) != 1 {
		return fmt.Errorf("check home link %s: %w", name, err)
	}
	if _, err := p.exec.RunRemote(ctx, s.Target(), shell.New("ln", "-s", s.Root(), name)); err != nil {
		return fmt.Errorf("create home link %s: %w", name, err)
	}
	return nil
}
