// Package profile loads the deployment configuration: the project settings
// shared by every environment and one Profile per target environment.
//
// A Config is read once at startup and never changes afterwards. Accessors
// hand out copies, so callers cannot alter what other components see.
package profile

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
)

// Transport selects how commands reach the hosts of a profile.
type Transport string

const (
	// TransportSSH runs commands over SSH.
	TransportSSH Transport = "ssh"

	// TransportLocal runs commands on the machine running forge-deploy.
	TransportLocal Transport = "local"
)

// ErrProfileNotFound is returned by Config.Profile for unknown names.
var ErrProfileNotFound = errors.New("profile not found")

// SSH holds connection settings for TransportSSH.
type SSH struct {
	// Port overrides ~/.ssh/config and the default port 22 when non-zero.
	Port int

	// IdentityFile is a private key file. "~" is expanded.
	IdentityFile string

	// IdentitySecret is a secret reference ("provider:path@version") holding
	// the private key. It takes precedence over IdentityFile.
	IdentitySecret string

	// Passphrase decrypts the private key, if it is encrypted.
	Passphrase string

	// KnownHosts lists known_hosts files. Empty selects ~/.ssh/known_hosts.
	KnownHosts []string

	// InsecureIgnoreHostKey disables host key verification.
	InsecureIgnoreHostKey bool
}

// Mirror locates the optional S3 copy of every release package.
type Mirror struct {
	Bucket         string
	Prefix         string
	Region         string
	Endpoint       string
	ForcePathStyle bool
}

// Profile describes one target environment.
type Profile struct {
	Name      string
	Hosts     []string
	User      string
	Path      string
	Transport Transport
	SSH       SSH

	// Mirror is nil when packages are not mirrored.
	Mirror *Mirror
}

func (p Profile) clone() Profile {
	p.Hosts = slices.Clone(p.Hosts)
	p.SSH.KnownHosts = slices.Clone(p.SSH.KnownHosts)
	if p.Mirror != nil {
		m := *p.Mirror
		p.Mirror = &m
	}
	return p
}

// Setup holds the host provisioning settings.
type Setup struct {
	// Packages are installed with InstallCommand as root.
	Packages       []string
	InstallCommand []string

	// Commands run as root after the packages are installed.
	Commands [][]string

	// DisableSites are disabled with DisableCommand as root.
	DisableSites   []string
	DisableCommand []string

	// Virtualenv creates a virtualenv in the store root.
	Virtualenv bool

	// HomeLink names a symlink to the store root in the user's home
	// directory. Empty disables it.
	HomeLink string
}

// Dependencies holds the dependency install step settings.
type Dependencies struct {
	Skip bool

	// Command runs in the store root with the manifest path appended.
	Command []string

	// Manifest is the manifest path relative to the release directory.
	Manifest string
}

// Site holds the web server site configuration step settings.
type Site struct {
	Skip bool

	// File is the site configuration file relative to the release directory.
	File string

	// Dir is the directory the file is copied into, named after the project.
	Dir string

	// EnableCommand runs as root in Dir with the project name appended.
	// Empty skips enabling.
	EnableCommand []string
}

// Migrate holds the migration step settings.
type Migrate struct {
	Skip    bool
	Command []string

	// Workdir is relative to the current release.
	Workdir string
}

// Project holds the application settings shared by all profiles.
type Project struct {
	Name string

	// SourceDir is the local git working copy that is packaged and tested.
	SourceDir string

	// Revision is the git revision packaged by deploy.
	Revision string

	Setup        Setup
	Dependencies Dependencies
	Site         Site

	// SharedLinks maps a path inside each release to a directory under the
	// store's shared/ directory. The release path is replaced with a symlink
	// before the release is activated, so data there survives deploys.
	SharedLinks map[string]string

	Migrate Migrate

	// RestartCommand runs as root with a terminal attached.
	RestartCommand []string

	// TestCommand runs in SourceDir on the local machine.
	TestCommand []string

	// TestEnv is added to the environment of TestCommand.
	TestEnv map[string]string
}

// SharedLinkPaths returns the SharedLinks keys in sorted order.
func (p Project) SharedLinkPaths() []string {
	keys := make([]string, 0, len(p.SharedLinks))
	for k := range p.SharedLinks {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (p Project) clone() Project {
	p.Setup.Packages = slices.Clone(p.Setup.Packages)
	p.Setup.InstallCommand = slices.Clone(p.Setup.InstallCommand)
	p.Setup.Commands = cloneCommands(p.Setup.Commands)
	p.Setup.DisableSites = slices.Clone(p.Setup.DisableSites)
	p.Setup.DisableCommand = slices.Clone(p.Setup.DisableCommand)
	p.Dependencies.Command = slices.Clone(p.Dependencies.Command)
	p.Site.EnableCommand = slices.Clone(p.Site.EnableCommand)
	p.SharedLinks = maps.Clone(p.SharedLinks)
	p.Migrate.Command = slices.Clone(p.Migrate.Command)
	p.RestartCommand = slices.Clone(p.RestartCommand)
	p.TestCommand = slices.Clone(p.TestCommand)
	p.TestEnv = maps.Clone(p.TestEnv)
	return p
}

func cloneCommands(cmds [][]string) [][]string {
	if cmds == nil {
		return nil
	}
	out := make([][]string, len(cmds))
	for i, c := range cmds {
		out[i] = slices.Clone(c)
	}
	return out
}

// Config is a loaded configuration file.
type Config struct {
	path     string
	project  Project
	profiles map[string]Profile
}

// Path returns the file the configuration was loaded from, if any.
func (c *Config) Path() string {
	return c.path
}

// Project returns a copy of the project settings.
func (c *Config) Project() Project {
	return c.project.clone()
}

// Profile returns a copy of the named profile.
func (c *Config) Profile(name string) (Profile, error) {
	p, ok := c.profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q (available: %v)", ErrProfileNotFound, name, c.ProfileNames())
	}
	return p.clone(), nil
}

// ProfileNames returns the profile names in sorted order.
func (c *Config) ProfileNames() []string {
	names := make([]string, 0, len(c.profiles))
	for name := range c.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
