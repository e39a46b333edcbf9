package main

import (
	"context"
	"io"
	"log/slog"

	"github.com/maruel/subcommands"

	"github.com/input-output-hk/forge-deploy/deploy"
	"github.com/input-output-hk/forge-deploy/mirror"
	"github.com/input-output-hk/forge-deploy/profile"
	"github.com/input-output-hk/forge-deploy/remote"
	"github.com/input-output-hk/forge-deploy/secrets"
	awsprovider "github.com/input-output-hk/forge-deploy/secrets/providers/aws"
	"github.com/input-output-hk/forge-deploy/secrets/providers/keyring"
)

// Exit codes.
const (
	exitOK      = 0
	exitFailure = 1
	exitConfig  = 2
)

type application struct {
	subcommands.DefaultApplication

	out io.Writer
	err io.Writer

	// connect builds the executor for a profile's hosts.
	connect func(ctx context.Context, prof profile.Profile, logger *slog.Logger) (remote.Executor, error)

	// secrets builds the manager resolving secret references in profiles.
	secrets func(ctx context.Context, logger *slog.Logger) (*secrets.Manager, error)

	// mirror builds the package mirror of a profile that has one.
	mirror func(ctx context.Context, cfg *profile.Mirror, logger *slog.Logger) (deploy.Uploader, error)
}

func newApplication(out, err io.Writer) *application {
	app := &application{
		DefaultApplication: subcommands.DefaultApplication{
			Name:  "forge-deploy",
			Title: "Provision hosts and deploy releases of a web application.",
			// Keep in alphabetical order of their name.
			Commands: []*subcommands.Command{
				cmdDeploy(),
				cmdDeployVersion(),
				subcommands.CmdHelp,
				cmdRollback(),
				cmdSetup(),
				cmdStatus(),
				cmdTest(),
			},
		},
		out:     out,
		err:     err,
		secrets: defaultSecrets,
		mirror:  openMirror,
	}
	app.connect = app.connectProfile
	return app
}

// GetOut implements subcommands.Application.
func (a *application) GetOut() io.Writer {
	return a.out
}

// GetErr implements subcommands.Application.
func (a *application) GetErr() io.Writer {
	return a.err
}

// defaultSecrets resolves unprefixed references through AWS Secrets Manager
// and "keyring:" references through the operating system keyring. It is
// only called when a profile references a secret.
func defaultSecrets(ctx context.Context, logger *slog.Logger) (*secrets.Manager, error) {
	aws, err := awsprovider.New(ctx, awsprovider.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	m := secrets.NewManager(secrets.WithDefaultProvider(awsprovider.Name), secrets.WithLogger(logger))
	for _, p := range []secrets.Provider{aws, keyring.New()} {
		if err := m.RegisterProvider(p); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func openMirror(ctx context.Context, cfg *profile.Mirror, logger *slog.Logger) (deploy.Uploader, error) {
	return mirror.New(ctx, mirror.Config{
		Bucket:         cfg.Bucket,
		Prefix:         cfg.Prefix,
		Region:         cfg.Region,
		Endpoint:       cfg.Endpoint,
		ForcePathStyle: cfg.ForcePathStyle,
	}, mirror.WithLogger(logger))
}
