package deploy

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	deployerrors "github.com/input-output-hk/forge-deploy/errors"
	"github.com/input-output-hk/forge-deploy/release"
	"github.com/input-output-hk/forge-deploy/shell"
)

func TestRollback_SwapsAndRestarts(t *testing.T) {
	h := newLocalHarness(t)
	s := h.initialize(t)
	p := h.pipeline(testProject())

	_, err := p.Deploy(context.Background())
	require.NoError(t, err)
	_, err = p.Deploy(context.Background())
	require.NoError(t, err)
	restarts := len(h.privileged)

	require.NoError(t, p.Rollback(context.Background()))
	assertState(t, s, firstLabel, secondLabel)
	assert.Len(t, h.privileged, restarts+1)

	require.NoError(t, p.Rollback(context.Background()))
	assertState(t, s, secondLabel, firstLabel)
}

func TestRollback_SingleActivation(t *testing.T) {
	h := newLocalHarness(t)
	s := h.initialize(t)
	p := h.pipeline(testProject())

	_, err := p.Deploy(context.Background())
	require.NoError(t, err)
	restarts := len(h.privileged)

	require.NoError(t, p.Rollback(context.Background()))
	assertState(t, s, release.Sentinel, firstLabel)
	assert.Len(t, h.privileged, restarts+1)

	require.NoError(t, p.Rollback(context.Background()))
	assertState(t, s, firstLabel, release.Sentinel)
}

func TestRollback_FreshStore(t *testing.T) {
	h := newLocalHarness(t)
	s := h.initialize(t)
	releases := filepath.Join(h.root, "releases")
	before := dirNames(t, releases)

	err := h.pipeline(testProject()).Rollback(context.Background())
	requireDeployError(t, err, deployerrors.KindNoPriorRelease, StepRollback, "localhost", "")
	assert.True(t, deployerrors.IsNoPriorRelease(err))
	assert.Equal(t, deployerrors.CodeNoPriorRelease, deployerrors.CodeOf(err))

	assertState(t, s, release.Sentinel, release.Sentinel)
	assert.Equal(t, before, dirNames(t, releases))
	assert.Empty(t, h.privileged, "no restart without a rollback")
}

func dirNames(t *testing.T, dir string) []string {
	t.Helper()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestRollback_UninitializedStore(t *testing.T) {
	h := newLocalHarness(t)

	err := h.pipeline(testProject()).Rollback(context.Background())
	requireDeployError(t, err, deployerrors.KindNoPriorRelease, StepRollback, "localhost", "")
	assert.ErrorIs(t, err, release.ErrNotInitialized)
	assert.NoDirExists(t, h.root)
	assert.Empty(t, h.privileged)
}

func TestRollback_CompletesInterruptedRotation(t *testing.T) {
	h := newLocalHarness(t)
	s := h.initialize(t)
	p := h.pipeline(testProject())

	_, err := p.Deploy(context.Background())
	require.NoError(t, err)
	_, err = p.Deploy(context.Background())
	require.NoError(t, err)
	restarts := len(h.privileged)

	// Stop a rollback after its first rename.
	releases := filepath.Join(h.root, "releases")
	require.NoError(t, os.Rename(filepath.Join(releases, "current"), filepath.Join(releases, "_previous")))

	// Running rollback again finishes that rollback rather than undoing it.
	require.NoError(t, p.Rollback(context.Background()))
	assertState(t, s, firstLabel, secondLabel)
	assert.NoFileExists(t, filepath.Join(releases, "_previous"))
	assert.Len(t, h.privileged, restarts+1)

	require.NoError(t, p.Rollback(context.Background()))
	assertState(t, s, secondLabel, firstLabel)
}

func TestSetup_Local(t *testing.T) {
	h := newLocalHarness(t)
	project := testProject()
	project.Setup.HomeLink = ""
	project.Setup.Virtualenv = false
	p := h.pipeline(project)

	l, err := p.Setup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, firstLabel, l)

	assert.Equal(t, [][]string{
		{"aptitude", "install", "-y", "python-setuptools", "apache2-threaded"},
		{"easy_install", "pip"},
		{"a2dissite", "default"},
		{"mkdir", "-p", h.root},
		{"chown", "deploy:deploy", h.root},
	}, h.privileged[:5])

	for _, d := range []string{"releases", "packages", "shared", "logs"} {
		assert.DirExists(t, filepath.Join(h.root, d))
	}
	assertState(t, h.store(t), firstLabel, release.Sentinel)

	// A second setup keeps the live pointers and deploys again.
	l, err = p.Setup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, secondLabel, l)
	assertState(t, h.store(t), secondLabel, firstLabel)
}

func TestSetup_HomeLinkAndVirtualenv(t *testing.T) {
	var order []string
	fake := &fakeExecutor{
		handle: func(_ string, cmd *shell.Command) error {
			step := cmd.Steps()[0]
			order = append(order, step[0])
			switch strings.Join(step, " ") {
			case "test -e www":
				return exitWith(1)
			case "virtualenv .":
				return exitWith(127)
			}
			return nil
		},
	}
	prof := newLocalHarness(t).targetProfile("web1")
	project := testProject()
	project.Setup.HomeLink = "www"
	project.Setup.Virtualenv = true
	p := New(fake, project, prof, WithClock(steppingClock()), WithSource(newStubSource()))

	_, err := p.Setup(context.Background())
	requireDeployError(t, err, deployerrors.KindSetup, StepSetup, "web1", "")

	assert.Contains(t, fake.lines(), "ln -s "+prof.Path+" www")
	assert.Equal(t, []string{"aptitude", "easy_install", "a2dissite", "mkdir", "test", "ln", "virtualenv"}, order)
	assert.NotContains(t, fake.lines(), "chmod a+w "+prof.Path+"/logs", "store must not be initialized")
}

func TestSetup_ExistingHomeLink(t *testing.T) {
	fake := &fakeExecutor{
		handle: func(_ string, cmd *shell.Command) error {
			if cmd.Steps()[0][0] == "virtualenv" {
				return exitWith(1)
			}
			return nil
		},
	}
	prof := newLocalHarness(t).targetProfile("web1")
	project := testProject()
	project.Setup.HomeLink = "www"
	project.Setup.Virtualenv = true
	p := New(fake, project, prof, WithClock(steppingClock()), WithSource(newStubSource()))

	_, err := p.Setup(context.Background())
	require.Error(t, err)
	assert.NotContains(t, fake.lines(), "ln -s "+prof.Path+" www")
}

func TestSetup_InstallFailure(t *testing.T) {
	h := newLocalHarness(t)
	h.failOn = "aptitude"

	_, err := h.pipeline(testProject()).Setup(context.Background())
	requireDeployError(t, err, deployerrors.KindSetup, StepSetup, "localhost", "")
	assert.NoDirExists(t, h.root)
	assert.Zero(t, h.source.calls, "nothing is packaged before provisioning")
}

func TestSetup_PackageFailureAfterProvisioning(t *testing.T) {
	h := newLocalHarness(t)
	h.source.err = errors.New("revision not found")
	project := testProject()
	project.Setup.HomeLink = ""
	project.Setup.Virtualenv = false

	_, err := h.pipeline(project).Setup(context.Background())
	requireDeployError(t, err, deployerrors.KindTransfer, StepPackage, "", firstLabel)
	assert.Equal(t, 1, h.source.calls)

	require.NotEmpty(t, h.privileged)
	assert.Equal(t, []string{"aptitude", "install", "-y", "python-setuptools", "apache2-threaded"}, h.privileged[0])
	assertState(t, h.store(t), release.Sentinel, release.Sentinel)
}

func TestSetup_StopsAtFirstFailingHost(t *testing.T) {
	fake := &fakeExecutor{
		handle: func(_ string, cmd *shell.Command) error {
			if cmd.Steps()[0][0] == "test" {
				return exitWith(1)
			}
			return nil
		},
	}
	source := newStubSource()
	prof := newLocalHarness(t).targetProfile("web1", "web2")
	project := testProject()
	project.Setup.HomeLink = ""
	project.Setup.Virtualenv = false
	p := New(fake, project, prof, WithClock(steppingClock()), WithSource(source))

	// Every "test" fails: the store initializes from scratch and the
	// dependency step, which runs "test -f", fails after the package
	// reached the first host.
	_, err := p.Setup(context.Background())
	requireDeployError(t, err, deployerrors.KindDependency, StepDependencies, "web1", firstLabel)
	assert.Equal(t, []string{"web1"}, fake.hosts())
	assert.Equal(t, 1, source.calls)
	assert.Equal(t, []string{"web1:" + prof.Path + "/packages/" + string(firstLabel) + ".tar.gz"}, fake.copies)
}

func TestStatus(t *testing.T) {
	h := newLocalHarness(t)
	h.initialize(t)
	p := h.pipeline(testProject())

	_, err := p.Deploy(context.Background())
	require.NoError(t, err)

	statuses, err := p.Status(context.Background())
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	st := statuses[0]
	require.NoError(t, st.Err)
	assert.Equal(t, "localhost", st.Host)
	assert.Equal(t, firstLabel, st.State.Current)
	assert.True(t, st.State.Previous.IsSentinel())
	assert.Equal(t, []release.Label{firstLabel}, st.Releases)

	var buf bytes.Buffer
	require.NoError(t, WriteStatus(&buf, statuses))
	assert.Contains(t, buf.String(), "HOST")
	assert.Contains(t, buf.String(), string(firstLabel))
	assert.Contains(t, buf.String(), "(none)")
}

func TestStatus_ReportsUnreadableHosts(t *testing.T) {
	h := newLocalHarness(t)
	p := h.pipeline(testProject())

	statuses, err := p.Status(context.Background())
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	require.Error(t, statuses[0].Err)
	assert.ErrorIs(t, statuses[0].Err, release.ErrNotInitialized)

	var buf bytes.Buffer
	require.NoError(t, WriteStatus(&buf, statuses))
	assert.Contains(t, buf.String(), "localhost")
}

func TestStatus_PendingRotation(t *testing.T) {
	h := newLocalHarness(t)
	s := h.initialize(t)
	releases := filepath.Join(h.root, "releases")
	require.NoError(t, os.Rename(filepath.Join(releases, "current"), filepath.Join(releases, "_previous")))

	statuses, err := h.pipeline(testProject()).Status(context.Background())
	require.NoError(t, err)
	require.NoError(t, statuses[0].Err)
	assert.True(t, statuses[0].State.RotationPending)
	assert.Equal(t, release.Label(""), statuses[0].State.Current)

	var buf bytes.Buffer
	require.NoError(t, WriteStatus(&buf, statuses))
	assert.Contains(t, buf.String(), "rotation pending")
	assert.Contains(t, buf.String(), "(missing)")

	// Status does not repair.
	_, err = s.Current(context.Background())
	require.ErrorIs(t, err, release.ErrRotationPending)
}

func TestPipelineTest(t *testing.T) {
	h := newLocalHarness(t)
	var out bytes.Buffer
	p := h.pipeline(testProject(), WithOutput(&out))

	require.NoError(t, p.Test(context.Background()))
	assert.Equal(t, "ran tests\n", out.String())

	out.Reset()
	project := testProject()
	project.TestCommand = []string{"sh", "-c", "echo $DJANGO_SETTINGS_MODULE"}
	project.TestEnv = map[string]string{"DJANGO_SETTINGS_MODULE": "mysite.settings.test"}
	require.NoError(t, h.pipeline(project, WithOutput(&out)).Test(context.Background()))
	assert.Equal(t, "mysite.settings.test\n", out.String())

	project = testProject()
	project.TestCommand = []string{"false"}
	err := h.pipeline(project).Test(context.Background())
	requireDeployError(t, err, deployerrors.KindTest, StepTest, "", "")
	assert.Equal(t, deployerrors.CodeTestFailed, deployerrors.CodeOf(err))
}
