package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/input-output-hk/forge-deploy/profile"
	"github.com/input-output-hk/forge-deploy/remote"
	"github.com/input-output-hk/forge-deploy/secrets"
)

// connectProfile builds the executor selected by the profile's transport.
func (a *application) connectProfile(ctx context.Context, prof profile.Profile, logger *slog.Logger) (remote.Executor, error) {
	if prof.Transport == profile.TransportLocal {
		return remote.NewLocal(remote.WithLogger(logger)), nil
	}

	opts := []remote.Option{remote.WithLogger(logger)}
	if prof.SSH.Port != 0 {
		opts = append(opts, remote.WithPort(prof.SSH.Port))
	}

	keys, err := a.loadKeys(ctx, prof.SSH, logger)
	if err != nil {
		return nil, err
	}
	if keys != nil {
		opts = append(opts, remote.WithKeys(keys))
	}

	if prof.SSH.InsecureIgnoreHostKey {
		logger.WarnContext(ctx, "host key verification disabled", "profile", prof.Name)
		opts = append(opts, remote.WithHostKeys(remote.InsecureHostKeys()))
	} else {
		hostKeys, err := remote.NewKnownHosts(prof.SSH.KnownHosts...)
		if err != nil {
			return nil, err
		}
		opts = append(opts, remote.WithHostKeys(hostKeys))
	}
	return remote.NewSSH(opts...), nil
}

// loadKeys returns the configured key source. Nil leaves the choice to the
// OpenSSH client configuration and the SSH agent.
func (a *application) loadKeys(ctx context.Context, cfg profile.SSH, logger *slog.Logger) (*remote.KeyProvider, error) {
	switch {
	case cfg.IdentitySecret != "":
		ref, err := secrets.ParseRef(cfg.IdentitySecret)
		if err != nil {
			return nil, fmt.Errorf("identity secret: %w", err)
		}
		m, err := a.secrets(ctx, logger)
		if err != nil {
			return nil, fmt.Errorf("identity secret: %w", err)
		}
		defer m.Close()

		s, err := m.Resolve(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("identity secret: %w", err)
		}
		defer s.Clear()
		return remote.NewKeyBytesProvider(s.Bytes(), cfg.Passphrase), nil
	case cfg.IdentityFile != "":
		return remote.NewKeyFileProvider(cfg.IdentityFile, cfg.Passphrase), nil
	}
	return nil, nil
}
