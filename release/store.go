// Package release implements the on-host release store: the directory
// layout holding every installed release and the two pointers, current and
// previous, that select the live release and the one rollback returns to.
//
// The store is the only owner of pointer state. Every change is made with a
// rename of a symlink, which the filesystem performs atomically, so an
// observer always sees both pointers bound to some release or to the
// bootstrap sentinel.
//
// Layout under the store root:
//
//	releases/<label>/      extracted release
//	releases/current       symlink to <label> (or "." at bootstrap)
//	releases/previous      symlink to <label> (or "." at bootstrap)
//	packages/<label>.tar.gz
//	shared/
//	logs/
package release

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"

	deployerrors "github.com/input-output-hk/forge-deploy/errors"
	"github.com/input-output-hk/forge-deploy/executor"
	"github.com/input-output-hk/forge-deploy/remote"
	"github.com/input-output-hk/forge-deploy/shell"
)

// Directory names under the store root.
const (
	ReleasesDir = "releases"
	PackagesDir = "packages"
	SharedDir   = "shared"
	LogsDir     = "logs"
)

// Pointer names under releases/.
const (
	CurrentPointer  = "current"
	PreviousPointer = "previous"

	// RotationPointer holds the old current while Swap rotates the pointers.
	// Its presence means a rotation started and has not finished.
	RotationPointer = "_previous"

	stagingSuffix = ".new"
)

// PackageExt is the extension of archived release payloads in packages/.
const PackageExt = ".tar.gz"

var (
	// ErrNotInitialized is returned when the store's pointers are missing.
	ErrNotInitialized = errors.New("release store is not initialized")

	// ErrRotationPending is returned when a pointer is missing because a
	// rotation was interrupted. Recover completes it.
	ErrRotationPending = errors.New("pointer rotation is pending")

	// ErrInconsistent is returned when the pointer set matches no state the
	// store can produce, for example after manual edits. It is never repaired
	// automatically.
	ErrInconsistent = errors.New("release pointers are inconsistent")

	// ErrReleaseMissing is returned when activating a label with no release directory.
	ErrReleaseMissing = errors.New("release does not exist")
)

func isReserved(name string) bool {
	switch name {
	case CurrentPointer, PreviousPointer, RotationPointer:
		return true
	}
	return strings.HasSuffix(name, stagingSuffix)
}

// State is a snapshot of the pointer slots.
type State struct {
	Current  Label
	Previous Label

	// RotationPending is set when an interrupted Swap left RotationPointer
	// behind. Current or Previous is empty in that case.
	RotationPending bool
}

// Store operates the release store rooted at one path on one host.
// A Store holds no pointer state of its own; every call reads the host.
type Store struct {
	exec   remote.Executor
	target remote.Target
	root   string
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger for pointer changes.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// NewStore creates a Store for root on target.
func NewStore(exec remote.Executor, target remote.Target, root string, opts ...Option) (*Store, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	if err := shell.ValidatePath(root); err != nil {
		return nil, fmt.Errorf("store root: %w", err)
	}

	s := &Store{
		exec:   exec,
		target: target,
		root:   root,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Target returns the host the store lives on.
func (s *Store) Target() remote.Target {
	return s.target
}

// Root returns the store root path.
func (s *Store) Root() string {
	return s.root
}

// ReleasesPath returns the releases directory.
func (s *Store) ReleasesPath() string {
	return path.Join(s.root, ReleasesDir)
}

// ReleasePath returns the directory of release l.
func (s *Store) ReleasePath(l Label) string {
	return path.Join(s.root, ReleasesDir, string(l))
}

// CurrentPath returns the path of the current pointer.
func (s *Store) CurrentPath() string {
	return path.Join(s.root, ReleasesDir, CurrentPointer)
}

// PackagePath returns the archive path of release l.
func (s *Store) PackagePath(l Label) string {
	return path.Join(s.root, PackagesDir, string(l)+PackageExt)
}

// SharedPath returns the shared directory.
func (s *Store) SharedPath() string {
	return path.Join(s.root, SharedDir)
}

// Initialize creates the store directories and binds both pointers to the
// sentinel. Pointers that already exist are left alone, so running it on an
// initialized store changes nothing. A rotation found pending is completed.
func (s *Store) Initialize(ctx context.Context) error {
	dirs := make([]string, 0, 5)
	dirs = append(dirs, "-p")
	for _, d := range []string{ReleasesDir, SharedDir, PackagesDir, LogsDir} {
		dirs = append(dirs, path.Join(s.root, d))
	}
	mkdir := shell.New("mkdir", dirs...).And("chmod", "a+w", path.Join(s.root, LogsDir))
	if _, err := s.run(ctx, mkdir); err != nil {
		return s.fail(deployerrors.KindSetup, "", fmt.Errorf("create store directories: %w", err))
	}

	p, err := s.probe(ctx)
	if err != nil {
		return s.fail(deployerrors.KindSetup, "", err)
	}
	if p.rotation {
		if _, err := s.Recover(ctx); err != nil {
			return s.fail(deployerrors.KindSetup, "", err)
		}
		return nil
	}

	for _, ptr := range []struct {
		name   string
		exists bool
	}{{CurrentPointer, p.current}, {PreviousPointer, p.previous}} {
		if ptr.exists {
			continue
		}
		if _, err := s.run(ctx, shell.New("ln", "-s", string(Sentinel), ptr.name).In(s.ReleasesPath())); err != nil {
			return s.fail(deployerrors.KindSetup, "", fmt.Errorf("create %s pointer: %w", ptr.name, err))
		}
	}

	s.logger.InfoContext(ctx, "release store initialized", "host", s.target.Host, "root", s.root)
	return nil
}

// Activate makes l the current release. The old current becomes previous
// first, then current moves to l; each move is a single atomic rename.
// Between the two renames both pointers name the same release.
func (s *Store) Activate(ctx context.Context, l Label) error {
	if err := l.Validate(); err != nil {
		return s.fail(deployerrors.KindActivation, l, err)
	}
	ok, err := s.HasRelease(ctx, l)
	if err != nil {
		return s.fail(deployerrors.KindActivation, l, err)
	}
	if !ok {
		return s.fail(deployerrors.KindActivation, l, fmt.Errorf("%w: %s", ErrReleaseMissing, s.ReleasePath(l)))
	}
	if _, err := s.Recover(ctx); err != nil {
		return s.fail(deployerrors.KindActivation, l, err)
	}

	cur, err := s.Current(ctx)
	if err != nil {
		return s.fail(deployerrors.KindActivation, l, err)
	}
	if err := s.point(ctx, PreviousPointer, cur); err != nil {
		return s.fail(deployerrors.KindActivation, l, fmt.Errorf("demote %s: %w", cur, err))
	}
	if err := s.point(ctx, CurrentPointer, l); err != nil {
		return s.fail(deployerrors.KindActivation, l, fmt.Errorf("promote %s: %w", l, err))
	}

	s.logger.InfoContext(ctx, "release activated",
		"host", s.target.Host,
		"current", string(l),
		"previous", string(cur))
	return nil
}

// Swap exchanges current and previous by rotating them through
// RotationPointer. Each rename is a separate command; if the process stops
// between them, the next Swap, Activate, Initialize or Recover finishes the
// rotation. A Swap that finds an interrupted rotation completes it and
// stops there, so re-running an interrupted Swap swaps exactly once.
// Swap twice in a row restores the original assignment.
func (s *Store) Swap(ctx context.Context) error {
	recovered, err := s.Recover(ctx)
	if err != nil {
		return s.fail(deployerrors.KindActivation, "", err)
	}
	if recovered {
		return nil
	}

	steps := [][2]string{
		{CurrentPointer, RotationPointer},
		{PreviousPointer, CurrentPointer},
		{RotationPointer, PreviousPointer},
	}
	for _, step := range steps {
		if err := s.rename(ctx, step[0], step[1]); err != nil {
			return s.fail(deployerrors.KindActivation, "", fmt.Errorf("rotate pointers: %w", err))
		}
	}

	s.logger.InfoContext(ctx, "release pointers swapped", "host", s.target.Host)
	return nil
}

// Recover completes an interrupted rotation. It reports whether there was one.
// A rotation is always finished, never undone.
func (s *Store) Recover(ctx context.Context) (bool, error) {
	p, err := s.probe(ctx)
	if err != nil {
		return false, err
	}

	switch {
	case !p.rotation && p.current && p.previous:
		return false, nil
	case !p.rotation && !p.current && !p.previous:
		return false, ErrNotInitialized
	case !p.rotation:
		return false, fmt.Errorf("%w: current=%t previous=%t", ErrInconsistent, p.current, p.previous)
	case !p.current && p.previous:
		// Stopped after current -> _previous.
		if err := s.rename(ctx, PreviousPointer, CurrentPointer); err != nil {
			return false, fmt.Errorf("resume rotation: %w", err)
		}
		if err := s.rename(ctx, RotationPointer, PreviousPointer); err != nil {
			return false, fmt.Errorf("resume rotation: %w", err)
		}
	case p.current && !p.previous:
		// Stopped after previous -> current.
		if err := s.rename(ctx, RotationPointer, PreviousPointer); err != nil {
			return false, fmt.Errorf("resume rotation: %w", err)
		}
	default:
		return false, fmt.Errorf("%w: %s present with current=%t previous=%t",
			ErrInconsistent, RotationPointer, p.current, p.previous)
	}

	s.logger.WarnContext(ctx, "completed interrupted pointer rotation", "host", s.target.Host)
	return true, nil
}

// Current returns the label the current pointer targets.
func (s *Store) Current(ctx context.Context) (Label, error) {
	return s.resolve(ctx, CurrentPointer)
}

// Previous returns the label the previous pointer targets.
func (s *Store) Previous(ctx context.Context) (Label, error) {
	return s.resolve(ctx, PreviousPointer)
}

// State reads both pointers without modifying the store.
func (s *Store) State(ctx context.Context) (*State, error) {
	p, err := s.probe(ctx)
	if err != nil {
		return nil, err
	}
	if !p.rotation && !p.current && !p.previous {
		return nil, ErrNotInitialized
	}

	st := &State{RotationPending: p.rotation}
	if p.current {
		if st.Current, err = s.readlink(ctx, CurrentPointer); err != nil {
			return nil, err
		}
	}
	if p.previous {
		if st.Previous, err = s.readlink(ctx, PreviousPointer); err != nil {
			return nil, err
		}
	}
	return st, nil
}

// HasRelease reports whether the directory of release l exists.
func (s *Store) HasRelease(ctx context.Context, l Label) (bool, error) {
	return s.test(ctx, "-d", s.ReleasePath(l))
}

// Releases lists the releases present in the store, oldest first.
func (s *Store) Releases(ctx context.Context) ([]Label, error) {
	res, err := s.run(ctx, shell.New("ls", "-1", s.ReleasesPath()))
	if err != nil {
		return nil, fmt.Errorf("list releases: %w", err)
	}

	var labels []Label
	for _, name := range strings.Split(res.Output(), "\n") {
		name = strings.TrimSpace(name)
		if name == "" || Label(name).Validate() != nil {
			continue
		}
		labels = append(labels, Label(name))
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i] < labels[j] })
	return labels, nil
}

func (s *Store) resolve(ctx context.Context, name string) (Label, error) {
	ok, err := s.test(ctx, "-L", path.Join(s.ReleasesPath(), name))
	if err != nil {
		return "", err
	}
	if ok {
		return s.readlink(ctx, name)
	}

	pending, err := s.test(ctx, "-L", path.Join(s.ReleasesPath(), RotationPointer))
	if err != nil {
		return "", err
	}
	if pending {
		return "", fmt.Errorf("%w: %s is missing", ErrRotationPending, name)
	}
	return "", fmt.Errorf("%w: %s is missing", ErrNotInitialized, name)
}

// readlink maps a pointer's target to a label. Targets are relative names
// as written by the store; absolute targets inside releases/ left by manual
// edits are accepted too.
func (s *Store) readlink(ctx context.Context, name string) (Label, error) {
	res, err := s.run(ctx, shell.New("readlink", name).In(s.ReleasesPath()))
	if err != nil {
		return "", fmt.Errorf("read %s pointer: %w", name, err)
	}

	target := path.Clean(strings.TrimSpace(res.Output()))
	if path.IsAbs(target) {
		switch {
		case target == s.ReleasesPath():
			return Sentinel, nil
		case path.Dir(target) == s.ReleasesPath():
			return Label(path.Base(target)), nil
		default:
			return "", fmt.Errorf("%w: %s points outside %s: %s",
				ErrInconsistent, name, s.ReleasesPath(), target)
		}
	}
	return Label(target), nil
}

// point binds pointer name to l by renaming a freshly made symlink over it.
func (s *Store) point(ctx context.Context, name string, l Label) error {
	staging := "." + name + stagingSuffix
	cmd := shell.New("ln", "-sfn", string(l), staging).
		And("mv", "-Tf", staging, name).
		In(s.ReleasesPath())
	_, err := s.run(ctx, cmd)
	return err
}

func (s *Store) rename(ctx context.Context, from, to string) error {
	_, err := s.run(ctx, shell.New("mv", "-T", from, to).In(s.ReleasesPath()))
	return err
}

type pointers struct {
	current  bool
	previous bool
	rotation bool
}

func (s *Store) probe(ctx context.Context) (pointers, error) {
	var p pointers
	var err error
	for _, f := range []struct {
		name string
		dst  *bool
	}{
		{CurrentPointer, &p.current},
		{PreviousPointer, &p.previous},
		{RotationPointer, &p.rotation},
	} {
		if *f.dst, err = s.test(ctx, "-L", path.Join(s.ReleasesPath(), f.name)); err != nil {
			return pointers{}, err
		}
	}
	return p, nil
}

// test runs "test <flag> <p>" and maps exit status 1 to false.
func (s *Store) test(ctx context.Context, flag, p string) (bool, error) {
	_, err := s.run(ctx, shell.New("test", flag, p))
	switch {
	case err == nil:
		return true, nil
	case executor.ExitCode(err) == 1:
		return false, nil
	default:
		return false, err
	}
}

func (s *Store) run(ctx context.Context, cmd *shell.Command) (*executor.Result, error) {
	return s.exec.RunRemote(ctx, s.target, cmd)
}

func (s *Store) fail(kind deployerrors.Kind, l Label, err error) error {
	e := deployerrors.New(kind, err).WithHost(s.target.Host)
	if l != "" {
		e = e.WithLabel(string(l))
	}
	return e
}
