package git

import (
	"context"
	"os"
	"testing"
	"time"

	gobilly "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"
)

var commitTime = time.Date(2023, 1, 1, 12, 0, 0, 0, time.UTC)

// testRepo is a repository on an in-memory filesystem.
type testRepo struct {
	repo *Repo
	fs   gobilly.Filesystem
	ctx  context.Context
}

func setupTestRepo(t *testing.T) *testRepo {
	t.Helper()

	ctx := context.Background()
	memFS := memfs.New()

	repo, err := Init(ctx, &Options{FS: memFS})
	require.NoError(t, err, "failed to initialize test repository")

	return &testRepo{repo: repo, fs: memFS, ctx: ctx}
}

func (tr *testRepo) writeFile(t *testing.T, name, content string, perm os.FileMode) {
	t.Helper()

	f, err := tr.fs.OpenFile(name, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	require.NoError(t, err)
	_, err = f.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func (tr *testRepo) commitAll(t *testing.T, msg string) plumbing.Hash {
	t.Helper()

	require.NoError(t, tr.repo.worktree.AddWithOptions(&git.AddOptions{All: true}))
	hash, err := tr.repo.worktree.Commit(msg, &git.CommitOptions{
		Author: &object.Signature{Name: "Deployer", Email: "deploy@example.com", When: commitTime},
	})
	require.NoError(t, err, "failed to commit")
	return hash
}

func (tr *testRepo) tag(t *testing.T, name string, hash plumbing.Hash) {
	t.Helper()

	ref := plumbing.NewHashReference(plumbing.NewTagReferenceName(name), hash)
	require.NoError(t, tr.repo.repo.Storer.SetReference(ref))
}
