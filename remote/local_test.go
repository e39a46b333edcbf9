package remote

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/input-output-hk/forge-deploy/executor"
	"github.com/input-output-hk/forge-deploy/shell"
)

var localTarget = Target{Host: "localhost", User: "deploy"}

func TestLocal_RunRemote(t *testing.T) {
	dir := t.TempDir()
	l := NewLocal()

	result, err := l.RunRemote(context.Background(), localTarget,
		shell.New("mkdir", "releases").In(dir).And("ls"), WithPTY())
	require.NoError(t, err)
	assert.Equal(t, "releases", strings.TrimSpace(result.Output()))
	assert.DirExists(t, filepath.Join(dir, "releases"))
}

func TestLocal_RunRemoteStreamsOutput(t *testing.T) {
	var stream bytes.Buffer
	l := NewLocal()

	result, err := l.RunRemote(context.Background(), localTarget, shell.New("echo", "hello"), WithStream(&stream))
	require.NoError(t, err)
	assert.Equal(t, "hello\n", stream.String())
	assert.Equal(t, "hello\n", result.Output())
}

func TestLocal_RunRemoteExitError(t *testing.T) {
	l := NewLocal()

	result, err := l.RunRemote(context.Background(), localTarget, shell.New("test", "-d", "/nonexistent/forge"))
	require.Error(t, err)
	assert.Equal(t, 1, executor.ExitCode(err))
	assert.Equal(t, 1, result.ExitCode)
}

func TestLocal_RunRemoteRejectsInvalidTarget(t *testing.T) {
	l := NewLocal()

	_, err := l.RunRemote(context.Background(), Target{Host: "bad host", User: "deploy"}, shell.New("true"))
	require.ErrorIs(t, err, shell.ErrInvalidHost)

	_, err = l.RunRemote(context.Background(), Target{Host: "localhost", User: "-oops"}, shell.New("true"))
	require.ErrorIs(t, err, shell.ErrInvalidUser)
}

func TestLocal_RunLocal(t *testing.T) {
	var seen []string
	l := NewLocal(WithLocalRunner(func(ctx context.Context, cmd *shell.Command, _ ...executor.Option) (*executor.Result, error) {
		seen = append(seen, cmd.String())
		return &executor.Result{}, nil
	}))

	_, err := l.RunLocal(context.Background(), shell.New("python", "manage.py", "test").In("/src"))
	require.NoError(t, err)
	assert.Equal(t, []string{"cd /src && python manage.py test"}, seen)
}

func TestLocal_RunLocalEnv(t *testing.T) {
	var out bytes.Buffer
	res, err := NewLocal().RunLocal(context.Background(),
		shell.New("sh", "-c", "echo $DJANGO_SETTINGS_MODULE"),
		WithEnv(map[string]string{"DJANGO_SETTINGS_MODULE": "mysite.settings"}),
		WithStream(&out))
	require.NoError(t, err)
	assert.Equal(t, "mysite.settings\n", res.Output())
	assert.Equal(t, "mysite.settings\n", out.String())
}

func TestLocal_CopyToRemote(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "20230101000000.tar.gz")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "packages"), 0o755))

	dst := filepath.Join(dir, "packages", "20230101000000.tar.gz")
	require.NoError(t, NewLocal().CopyToRemote(context.Background(), localTarget, src, dst))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))
}

func TestLocal_CopyToRemoteErrors(t *testing.T) {
	l := NewLocal()
	dir := t.TempDir()

	err := l.CopyToRemote(context.Background(), localTarget, filepath.Join(dir, "missing"), filepath.Join(dir, "out"))
	require.Error(t, err)

	err = l.CopyToRemote(context.Background(), localTarget, filepath.Join(dir, "missing"), "relative/out")
	require.ErrorIs(t, err, shell.ErrInvalidPath)
}

func TestTarget(t *testing.T) {
	assert.Equal(t, "deploy@localhost", localTarget.String())
	assert.NoError(t, localTarget.Validate())
}
