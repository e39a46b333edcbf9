package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/maruel/subcommands"

	"github.com/input-output-hk/forge-deploy/deploy"
	deployerrors "github.com/input-output-hk/forge-deploy/errors"
	"github.com/input-output-hk/forge-deploy/profile"
	"github.com/input-output-hk/forge-deploy/release"
)

const profileHelp = "\n\nThe environment is selected with -profile and must be one of the profiles of the configuration file."

func cmdSetup() *subcommands.Command {
	return &subcommands.Command{
		UsageLine: "setup -profile <name>",
		ShortDesc: "provisions the hosts of a profile and deploys a first release",
		LongDesc: "Installs the system packages, disables the default sites, creates the release store " +
			"owned by the deploy user and deploys the configured revision." + profileHelp,
		CommandRun: func() subcommands.CommandRun {
			return newRun(func(ctx context.Context, r *runner, _ []string) error {
				l, err := r.pipeline.Setup(ctx)
				if err == nil {
					fmt.Fprintln(r.app.GetOut(), l)
				}
				return err
			})
		},
	}
}

func cmdDeploy() *subcommands.Command {
	return &subcommands.Command{
		UsageLine: "deploy -profile <name>",
		ShortDesc: "deploys the configured revision as a new release",
		LongDesc: "Packages the configured revision, transfers it to every host, installs its dependencies " +
			"and site configuration, makes it current, migrates and restarts the service. " +
			"Prints the label of the new release." + profileHelp,
		CommandRun: func() subcommands.CommandRun {
			return newRun(func(ctx context.Context, r *runner, _ []string) error {
				l, err := r.pipeline.Deploy(ctx)
				if err == nil {
					fmt.Fprintln(r.app.GetOut(), l)
				}
				return err
			})
		},
	}
}

func cmdDeployVersion() *subcommands.Command {
	return &subcommands.Command{
		UsageLine: "deploy-version -profile <name> <label>",
		ShortDesc: "makes an existing release current again",
		LongDesc:  "Re-activates a release already present on every host and restarts the service." + profileHelp,
		CommandRun: func() subcommands.CommandRun {
			return newRun(func(ctx context.Context, r *runner, args []string) error {
				if len(args) != 1 {
					return deployerrors.Newf(deployerrors.KindConfiguration, "expected exactly one release label, got %d arguments", len(args))
				}
				return r.pipeline.DeployVersion(ctx, release.Label(args[0]))
			})
		},
	}
}

func cmdRollback() *subcommands.Command {
	return &subcommands.Command{
		UsageLine: "rollback -profile <name>",
		ShortDesc: "swaps the current and previous releases",
		LongDesc: "Makes the previous release current and the current one previous, then restarts " +
			"the service. Running it twice restores the original release." + profileHelp,
		CommandRun: func() subcommands.CommandRun {
			return newRun(func(ctx context.Context, r *runner, _ []string) error {
				return r.pipeline.Rollback(ctx)
			})
		},
	}
}

func cmdStatus() *subcommands.Command {
	return &subcommands.Command{
		UsageLine: "status -profile <name>",
		ShortDesc: "prints the current and previous release of every host",
		LongDesc:  "Reads the release pointers of every host without changing them." + profileHelp,
		CommandRun: func() subcommands.CommandRun {
			return newRun(func(ctx context.Context, r *runner, _ []string) error {
				statuses, err := r.pipeline.Status(ctx)
				if err != nil {
					return err
				}
				if err := deploy.WriteStatus(r.app.GetOut(), statuses); err != nil {
					return err
				}
				var failed []error
				for _, hs := range statuses {
					if hs.Err != nil {
						failed = append(failed, hs.Err)
					}
				}
				return errors.Join(failed...)
			})
		},
	}
}

func cmdTest() *subcommands.Command {
	return &subcommands.Command{
		UsageLine: "test -profile <name>",
		ShortDesc: "runs the project's tests locally",
		LongDesc:  "Runs the configured test command in the project source directory on this machine." + profileHelp,
		CommandRun: func() subcommands.CommandRun {
			return newRun(func(ctx context.Context, r *runner, _ []string) error {
				return r.pipeline.Test(ctx)
			})
		},
	}
}

// runner is the state shared by every subcommand invocation.
type runner struct {
	subcommands.CommandRunBase

	profileName string
	configPath  string
	verbose     bool

	action func(ctx context.Context, r *runner, args []string) error

	app      *application
	logger   *slog.Logger
	pipeline *deploy.Pipeline
}

func newRun(action func(ctx context.Context, r *runner, args []string) error) *runner {
	r := &runner{action: action}
	r.Flags.StringVar(&r.profileName, "profile", "", "Environment profile to operate on.")
	r.Flags.StringVar(&r.configPath, "config", "",
		"Configuration file. Defaults to ./"+profile.FileName+", then $XDG_CONFIG_HOME/"+profile.XDGFile+".")
	r.Flags.BoolVar(&r.verbose, "v", false, "Log every command that is run.")
	return r
}

// Run implements subcommands.CommandRun.
func (r *runner) Run(a subcommands.Application, args []string, _ subcommands.Env) int {
	r.app = a.(*application)

	level := slog.LevelInfo
	if r.verbose {
		level = slog.LevelDebug
	}
	r.logger = slog.New(slog.NewTextHandler(r.app.GetErr(), &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	closeExec, err := r.prepare(ctx)
	if err == nil {
		err = r.action(ctx, r, args)
		if cerr := closeExec(); cerr != nil {
			r.logger.WarnContext(ctx, "closing connections", "error", cerr)
		}
	}
	return r.done(err)
}

// prepare loads the configuration and builds the pipeline. The returned
// function closes the executor.
func (r *runner) prepare(ctx context.Context) (func() error, error) {
	cfg, err := profile.Load(r.configPath)
	if err != nil {
		return nil, deployerrors.New(deployerrors.KindConfiguration, err)
	}

	if r.profileName == "" {
		return nil, deployerrors.Newf(deployerrors.KindConfiguration,
			"no profile selected: pass -profile with one of %v", cfg.ProfileNames())
	}
	prof, err := cfg.Profile(r.profileName)
	if err != nil {
		return nil, deployerrors.New(deployerrors.KindConfiguration, err)
	}

	exec, err := r.app.connect(ctx, prof, r.logger)
	if err != nil {
		return nil, deployerrors.New(deployerrors.KindConfiguration, err)
	}

	opts := []deploy.Option{
		deploy.WithLogger(r.logger),
		deploy.WithOutput(r.app.GetOut()),
	}
	if prof.Mirror != nil {
		m, err := r.app.mirror(ctx, prof.Mirror, r.logger)
		if err != nil {
			exec.Close()
			return nil, deployerrors.New(deployerrors.KindConfiguration, err)
		}
		opts = append(opts, deploy.WithMirror(m))
	}

	r.pipeline = deploy.New(exec, cfg.Project(), prof, opts...)
	return exec.Close, nil
}

func (r *runner) done(err error) int {
	if err == nil {
		return exitOK
	}
	r.logger.Error("command failed",
		"kind", string(deployerrors.KindOf(err)),
		"code", string(deployerrors.CodeOf(err)),
		"error", err)
	if deployerrors.IsConfiguration(err) {
		return exitConfig
	}
	return exitFailure
}
