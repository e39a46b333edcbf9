package deploy

import (
	"context"
	"fmt"
	"io"
	"os"

	deployerrors "github.com/input-output-hk/forge-deploy/errors"
	"github.com/input-output-hk/forge-deploy/git"
	"github.com/input-output-hk/forge-deploy/release"
	"github.com/input-output-hk/forge-deploy/shell"
)

// Source produces the contents of a release as a gzip-compressed tar stream.
type Source interface {
	// Archive writes the package to w and returns an identifier of what was
	// packaged, such as a commit hash.
	Archive(ctx context.Context, w io.Writer) (string, error)
}

// GitSource packages one revision of a local git working copy. Uncommitted
// changes are not included.
type GitSource struct {
	dir string
	rev string
}

// NewGitSource creates a GitSource for the working copy at dir.
func NewGitSource(dir, rev string) *GitSource {
	if rev == "" {
		rev = git.DefaultRevision
	}
	return &GitSource{dir: dir, rev: rev}
}

// Archive implements Source.
func (g *GitSource) Archive(ctx context.Context, w io.Writer) (string, error) {
	repo, err := git.OpenDir(ctx, g.dir)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", g.dir, err)
	}
	res, err := repo.Archive(ctx, g.rev, w, git.ArchiveOptions{})
	if err != nil {
		return "", fmt.Errorf("archive %s of %s: %w", g.rev, g.dir, err)
	}
	return res.Commit, nil
}

// pkg is a release package staged on the local disk.
type pkg struct {
	label  release.Label
	path   string
	commit string
}

func (k *pkg) name() string {
	return string(k.label) + release.PackageExt
}

func (k *pkg) remove() {
	_ = os.Remove(k.path)
}

// buildPackage archives the source once for the whole run and mirrors it
// when a mirror is configured.
func (p *Pipeline) buildPackage(ctx context.Context, l release.Label) (*pkg, error) {
	f, err := os.CreateTemp("", "forge-deploy-*"+release.PackageExt)
	if err != nil {
		return nil, stepError(deployerrors.KindTransfer, StepPackage, "", l, fmt.Errorf("create package file: %w", err))
	}
	k := &pkg{label: l, path: f.Name()}

	commit, err := p.source.Archive(ctx, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		k.remove()
		return nil, stepError(deployerrors.KindTransfer, StepPackage, "", l, err)
	}
	k.commit = commit

	p.logger.InfoContext(ctx, "release packaged",
		"label", string(l),
		"source", commit)

	if p.mirror != nil {
		res, err := p.mirror.Upload(ctx, k.path, k.name(), map[string]string{
			"project": p.project.Name,
			"release": string(l),
			"source":  commit,
		})
		if err != nil {
			k.remove()
			return nil, stepError(deployerrors.KindTransfer, StepPackage, "", l, fmt.Errorf("mirror package: %w", err))
		}
		p.logger.InfoContext(ctx, "release package mirrored",
			"bucket", res.Bucket,
			"key", res.Key,
			"size", res.Size)
	}
	return k, nil
}

// transfer creates the release directory on the host, copies the package
// into packages/ and unpacks it. A release directory that already exists is
// a label collision and fails the step. A partially unpacked release is left
// in place.
func (p *Pipeline) transfer(ctx context.Context, s *release.Store, k *pkg) error {
	host := s.Target().Host
	dir := s.ReleasePath(k.label)

	if _, err := p.exec.RunRemote(ctx, s.Target(), shell.New("mkdir", dir)); err != nil {
		return stepError(deployerrors.KindTransfer, StepPackage, host, k.label, fmt.Errorf("create release directory: %w", err))
	}
	if err := p.exec.CopyToRemote(ctx, s.Target(), k.path, s.PackagePath(k.label)); err != nil {
		return stepError(deployerrors.KindTransfer, StepPackage, host, k.label, fmt.Errorf("upload package: %w", err))
	}
	if _, err := p.exec.RunRemote(ctx, s.Target(), shell.New("tar", "zxf", s.PackagePath(k.label)).In(dir)); err != nil {
		return stepError(deployerrors.KindTransfer, StepPackage, host, k.label, fmt.Errorf("unpack package: %w", err))
	}

	p.logger.InfoContext(ctx, "release transferred", "host", host, "label", string(k.label))
	return nil
}
