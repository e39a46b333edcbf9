// Package git snapshots a revision of a local git repository into a
// release package. It opens repositories through go-billy filesystems, so
// the same code serves a working copy on disk and an in-memory repository.
package git

import (
	"context"
	"fmt"

	gobilly "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/storage"

	"github.com/input-output-hk/forge-deploy/git/internal/fsbridge"
)

const (
	// DefaultStorerCacheSize is the default size for the LRU object cache.
	DefaultStorerCacheSize = 1000

	// DefaultWorkdir is the default worktree directory name.
	DefaultWorkdir = "."

	// DefaultRevision is the revision packaged when none is configured.
	DefaultRevision = "master"
)

// Options configures repository discovery and performance.
type Options struct {
	// FS is the filesystem holding the worktree. Required.
	FS gobilly.Filesystem

	// Workdir is the path within FS for the worktree root.
	// Defaults to ".".
	Workdir string

	// StorerCacheSize sets the LRU objects cache entries.
	// Defaults to DefaultStorerCacheSize.
	StorerCacheSize int
}

// Validate checks that the Options are properly configured.
func (o *Options) Validate() error {
	if o.FS == nil {
		return WrapError(ErrInvalidOptions, "FS is required")
	}
	if o.StorerCacheSize < 0 {
		return WrapError(ErrInvalidOptions, "StorerCacheSize cannot be negative")
	}
	return nil
}

func (o *Options) applyDefaults() {
	if o.Workdir == "" {
		o.Workdir = DefaultWorkdir
	}
	if o.StorerCacheSize == 0 {
		o.StorerCacheSize = DefaultStorerCacheSize
	}
}

// Repo is an opened repository.
type Repo struct {
	repo     *git.Repository
	worktree *git.Worktree
	options  Options
}

// Init creates a new non-bare repository in opts.FS.
func Init(ctx context.Context, opts *Options) (*Repo, error) {
	return openWith(ctx, opts, git.Init, "failed to initialize repository")
}

// Open opens an existing non-bare repository in opts.FS.
func Open(ctx context.Context, opts *Options) (*Repo, error) {
	return openWith(ctx, opts, git.Open, "failed to open repository")
}

// OpenDir opens the repository whose worktree is dir on the local disk.
func OpenDir(ctx context.Context, dir string) (*Repo, error) {
	return Open(ctx, &Options{FS: osfs.New(dir)})
}

type opener func(s storage.Storer, worktree gobilly.Filesystem) (*git.Repository, error)

func openWith(ctx context.Context, opts *Options, open opener, msg string) (*Repo, error) {
	if err := opts.Validate(); err != nil {
		return nil, WrapError(err, "invalid options")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	o := *opts
	o.applyDefaults()

	scopedFS, err := o.FS.Chroot(o.Workdir)
	if err != nil {
		return nil, fmt.Errorf("failed to chroot to workdir %q: %w", o.Workdir, err)
	}
	dotGitFS, err := scopedFS.Chroot(git.GitDirName)
	if err != nil {
		return nil, fmt.Errorf("failed to access %s directory: %w", git.GitDirName, err)
	}

	repo, err := open(fsbridge.NewStorage(dotGitFS, o.StorerCacheSize), scopedFS)
	if err != nil {
		return nil, WrapError(err, msg)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return nil, WrapError(err, "failed to get worktree")
	}

	return &Repo{
		repo:     repo,
		worktree: worktree,
		options:  o,
	}, nil
}
