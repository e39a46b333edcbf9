package deploy

import (
	"archive/tar"
	"context"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/input-output-hk/forge-deploy/executor"
	"github.com/input-output-hk/forge-deploy/mirror"
	"github.com/input-output-hk/forge-deploy/profile"
	"github.com/input-output-hk/forge-deploy/release"
	"github.com/input-output-hk/forge-deploy/remote"
	"github.com/input-output-hk/forge-deploy/shell"
)

var start = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

// steppingClock returns start, then start plus one minute, and so on.
func steppingClock() func() time.Time {
	n := 0
	return func() time.Time {
		t := start.Add(time.Duration(n) * time.Minute)
		n++
		return t
	}
}

func testProject() profile.Project {
	return profile.Project{
		Name:      "mysite",
		SourceDir: ".",
		Revision:  "master",
		Setup: profile.Setup{
			Packages:       []string{"python-setuptools", "apache2-threaded"},
			InstallCommand: []string{"aptitude", "install", "-y"},
			Commands:       [][]string{{"easy_install", "pip"}},
			DisableSites:   []string{"default"},
			DisableCommand: []string{"a2dissite"},
		},
		Dependencies: profile.Dependencies{
			Command:  []string{"test", "-f"},
			Manifest: "requirements.txt",
		},
		Site: profile.Site{
			File:          "vhost.conf",
			Dir:           "/etc/apache2/sites-available",
			EnableCommand: []string{"a2ensite"},
		},
		SharedLinks: map[string]string{"mysite/media": "media"},
		Migrate: profile.Migrate{
			Command: []string{"test", "-f", "manage.py"},
			Workdir: "mysite",
		},
		RestartCommand: []string{"/etc/init.d/apache2", "reload"},
		TestCommand:    []string{"echo", "ran tests"},
	}
}

// stubSource writes a fixed set of files as a release package.
type stubSource struct {
	files map[string]string
	err   error
	calls int
}

func newStubSource() *stubSource {
	return &stubSource{files: map[string]string{
		"requirements.txt": "django\n",
		"vhost.conf":       "<VirtualHost *:80>\n</VirtualHost>\n",
		"mysite/manage.py": "print('manage')\n",
	}}
}

func (s *stubSource) Archive(_ context.Context, w io.Writer) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}

	names := make([]string, 0, len(s.files))
	for name := range s.files {
		names = append(names, name)
	}
	sort.Strings(names)

	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)
	for _, name := range names {
		content := s.files[name]
		if err := tw.WriteHeader(&tar.Header{
			Name:     name,
			Mode:     0o644,
			Size:     int64(len(content)),
			Typeflag: tar.TypeReg,
			ModTime:  start,
		}); err != nil {
			return "", err
		}
		if _, err := io.WriteString(tw, content); err != nil {
			return "", err
		}
	}
	if err := tw.Close(); err != nil {
		return "", err
	}
	if err := gz.Close(); err != nil {
		return "", err
	}
	return "stub-commit", nil
}

// localHarness runs unprivileged commands on the local machine and records
// the commands that would need root instead of running them.
type localHarness struct {
	mu         sync.Mutex
	commands   []string
	privileged [][]string
	failOn     string

	root   string
	exec   *remote.Local
	source *stubSource
}

func newLocalHarness(t *testing.T) *localHarness {
	t.Helper()

	h := &localHarness{
		root:   filepath.Join(t.TempDir(), "mysite"),
		source: newStubSource(),
	}
	h.exec = remote.NewLocal(remote.WithLocalRunner(h.run))
	return h
}

func (h *localHarness) run(ctx context.Context, cmd *shell.Command, opts ...executor.Option) (*executor.Result, error) {
	line := cmd.String()

	h.mu.Lock()
	h.commands = append(h.commands, line)
	fail := h.failOn != "" && strings.Contains(line, h.failOn)
	if !fail && cmd.Privileged() {
		h.privileged = append(h.privileged, cmd.Steps()...)
	}
	h.mu.Unlock()

	switch {
	case fail:
		return &executor.Result{ExitCode: 1, Combined: "injected failure"},
			&executor.ExitError{Command: line, Code: 1, Output: "injected failure"}
	case cmd.Privileged():
		return &executor.Result{}, nil
	}
	return remote.RunShell(ctx, cmd, opts...)
}

func (h *localHarness) targetProfile(hosts ...string) profile.Profile {
	if len(hosts) == 0 {
		hosts = []string{"localhost"}
	}
	return profile.Profile{
		Name:      "test",
		Hosts:     hosts,
		User:      "deploy",
		Path:      h.root,
		Transport: profile.TransportLocal,
	}
}

func (h *localHarness) pipeline(project profile.Project, opts ...Option) *Pipeline {
	opts = append([]Option{WithClock(steppingClock()), WithSource(h.source)}, opts...)
	return New(h.exec, project, h.targetProfile(), opts...)
}

func (h *localHarness) store(t *testing.T) *release.Store {
	t.Helper()

	s, err := release.NewStore(h.exec, remote.Target{Host: "localhost", User: "deploy"}, h.root)
	require.NoError(t, err)
	return s
}

func (h *localHarness) initialize(t *testing.T) *release.Store {
	t.Helper()

	s := h.store(t)
	require.NoError(t, s.Initialize(context.Background()))
	return s
}

func assertState(t *testing.T, s *release.Store, current, previous release.Label) {
	t.Helper()

	st, err := s.State(context.Background())
	require.NoError(t, err)
	assert.Equal(t, current, st.Current, "current")
	assert.Equal(t, previous, st.Previous, "previous")
	assert.False(t, st.RotationPending)
}

// fakeExecutor records every call and answers through handle.
type fakeExecutor struct {
	calls  []fakeCall
	copies []string
	handle func(host string, cmd *shell.Command) error
}

type fakeCall struct {
	host  string
	steps [][]string
	root  bool
}

var _ remote.Executor = (*fakeExecutor)(nil)

func (f *fakeExecutor) RunRemote(_ context.Context, target remote.Target, cmd *shell.Command, _ ...remote.RunOption) (*executor.Result, error) {
	f.calls = append(f.calls, fakeCall{host: target.Host, steps: cmd.Steps(), root: cmd.Privileged()})
	if f.handle != nil {
		if err := f.handle(target.Host, cmd); err != nil {
			return &executor.Result{ExitCode: executor.ExitCode(err)}, err
		}
	}
	return &executor.Result{}, nil
}

func (f *fakeExecutor) RunLocal(_ context.Context, cmd *shell.Command, _ ...remote.RunOption) (*executor.Result, error) {
	f.calls = append(f.calls, fakeCall{host: "", steps: cmd.Steps()})
	return &executor.Result{}, nil
}

func (f *fakeExecutor) CopyToRemote(_ context.Context, target remote.Target, _, remotePath string) error {
	f.copies = append(f.copies, target.Host+":"+remotePath)
	return nil
}

func (f *fakeExecutor) Close() error {
	return nil
}

func (f *fakeExecutor) hosts() []string {
	var out []string
	for _, c := range f.calls {
		if len(out) == 0 || out[len(out)-1] != c.host {
			out = append(out, c.host)
		}
	}
	return out
}

// lines flattens the recorded calls into one string per invocation.
func (f *fakeExecutor) lines() []string {
	var out []string
	for _, c := range f.calls {
		for _, step := range c.steps {
			out = append(out, strings.Join(step, " "))
		}
	}
	return out
}

func exitWith(code int) error {
	return &executor.ExitError{Command: "fake", Code: code}
}

// recordingMirror collects uploads.
type recordingMirror struct {
	names    []string
	metadata []map[string]string
	err      error
}

func (m *recordingMirror) Upload(_ context.Context, _, name string, metadata map[string]string) (*mirror.UploadResult, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.names = append(m.names, name)
	m.metadata = append(m.metadata, metadata)
	return &mirror.UploadResult{Bucket: "releases", Key: "mysite/" + name}, nil
}
