package profile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

const (
	// FileName is the configuration file looked up in the working directory.
	FileName = "forge-deploy.yaml"

	// XDGFile is the configuration file looked up in the XDG config directories.
	XDGFile = "forge-deploy/config.yaml"
)

// ErrNoConfig is returned by Locate when no configuration file exists.
var ErrNoConfig = errors.New("no configuration file found")

// configFile is the YAML file structure.
type configFile struct {
	Project  projectEntry            `yaml:"project"`
	Profiles map[string]profileEntry `yaml:"profiles"`
}

type projectEntry struct {
	Name         string            `yaml:"name"`
	SourceDir    string            `yaml:"source_dir"`
	Revision     string            `yaml:"revision"`
	Setup        setupEntry        `yaml:"setup"`
	Dependencies dependenciesEntry `yaml:"dependencies"`
	Site         siteEntry         `yaml:"site"`
	SharedLinks  map[string]string `yaml:"shared_links"`
	Migrate      migrateEntry      `yaml:"migrate"`
	Restart      commandEntry      `yaml:"restart"`
	Test         testEntry         `yaml:"test"`
}

type setupEntry struct {
	Packages       []string   `yaml:"packages"`
	InstallCommand []string   `yaml:"install_command"`
	Commands       [][]string `yaml:"commands"`
	DisableSites   []string   `yaml:"disable_sites"`
	DisableCommand []string   `yaml:"disable_command"`
	Virtualenv     *bool      `yaml:"virtualenv"`
	HomeLink       *string    `yaml:"home_link"`
}

type dependenciesEntry struct {
	Skip     bool     `yaml:"skip"`
	Command  []string `yaml:"command"`
	Manifest string   `yaml:"manifest"`
}

type siteEntry struct {
	Skip          bool      `yaml:"skip"`
	File          string    `yaml:"file"`
	Dir           string    `yaml:"dir"`
	EnableCommand *[]string `yaml:"enable_command"`
}

type migrateEntry struct {
	Skip    bool     `yaml:"skip"`
	Command []string `yaml:"command"`
	Workdir string   `yaml:"workdir"`
}

type commandEntry struct {
	Command []string `yaml:"command"`
}

type testEntry struct {
	Command []string          `yaml:"command"`
	Env     map[string]string `yaml:"env"`
}

type profileEntry struct {
	Hosts     []string     `yaml:"hosts"`
	User      string       `yaml:"user"`
	Path      string       `yaml:"path"`
	Transport string       `yaml:"transport"`
	SSH       sshEntry     `yaml:"ssh"`
	Mirror    *mirrorEntry `yaml:"mirror"`
}

type sshEntry struct {
	Port                  int      `yaml:"port"`
	IdentityFile          string   `yaml:"identity_file"`
	IdentitySecret        string   `yaml:"identity_secret"`
	Passphrase            string   `yaml:"passphrase"`
	KnownHosts            []string `yaml:"known_hosts"`
	InsecureIgnoreHostKey bool     `yaml:"insecure_ignore_host_key"`
}

type mirrorEntry struct {
	Bucket         string `yaml:"bucket"`
	Prefix         string `yaml:"prefix"`
	Region         string `yaml:"region"`
	Endpoint       string `yaml:"endpoint"`
	ForcePathStyle bool   `yaml:"force_path_style"`
}

// Locate returns the configuration file to load: FileName in the working
// directory, else XDGFile in the XDG config directories.
func Locate() (string, error) {
	if _, err := os.Stat(FileName); err == nil {
		return filepath.Abs(FileName)
	}
	path, err := xdg.SearchConfigFile(XDGFile)
	if err != nil {
		return "", fmt.Errorf("%w: looked for ./%s and $XDG_CONFIG_HOME/%s", ErrNoConfig, FileName, XDGFile)
	}
	return path, nil
}

// Load reads and validates the configuration at path. An empty path is
// resolved with Locate.
func Load(path string) (*Config, error) {
	if path == "" {
		var err error
		if path, err = Locate(); err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read configuration: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.path = path
	return cfg, nil
}

// Parse decodes, defaults and validates YAML configuration content.
// Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	var cf configFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cf); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}

	cfg := &Config{
		project:  cf.Project.toProject(),
		profiles: make(map[string]Profile, len(cf.Profiles)),
	}
	for name, entry := range cf.Profiles {
		cfg.profiles[name] = entry.toProfile(name)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (e projectEntry) toProject() Project {
	p := Project{
		Name:      e.Name,
		SourceDir: orDefault(e.SourceDir, "."),
		Revision:  orDefault(e.Revision, "master"),
		Setup: Setup{
			Packages:       orDefaultSlice(e.Setup.Packages, []string{"python-setuptools", "apache2-threaded", "libapache2-mod-wsgi"}),
			InstallCommand: orDefaultSlice(e.Setup.InstallCommand, []string{"aptitude", "install", "-y"}),
			Commands:       e.Setup.Commands,
			DisableSites:   e.Setup.DisableSites,
			DisableCommand: orDefaultSlice(e.Setup.DisableCommand, []string{"a2dissite"}),
			Virtualenv:     true,
			HomeLink:       "www",
		},
		Dependencies: Dependencies{
			Skip:     e.Dependencies.Skip,
			Command:  orDefaultSlice(e.Dependencies.Command, []string{"bin/pip", "install", "-r"}),
			Manifest: orDefault(e.Dependencies.Manifest, "requirements.txt"),
		},
		Site: Site{
			Skip:          e.Site.Skip,
			File:          orDefault(e.Site.File, "vhost.conf"),
			Dir:           orDefault(e.Site.Dir, "/etc/apache2/sites-available"),
			EnableCommand: []string{"a2ensite"},
		},
		SharedLinks: e.SharedLinks,
		Migrate: Migrate{
			Skip:    e.Migrate.Skip,
			Command: orDefaultSlice(e.Migrate.Command, []string{"../../../bin/python", "manage.py", "syncdb", "--noinput"}),
			Workdir: orDefault(e.Migrate.Workdir, e.Name),
		},
		RestartCommand: orDefaultSlice(e.Restart.Command, []string{"/etc/init.d/apache2", "reload"}),
		TestCommand:    orDefaultSlice(e.Test.Command, []string{"python", "manage.py", "test"}),
		TestEnv:        e.Test.Env,
	}

	if e.Setup.Commands == nil {
		p.Setup.Commands = [][]string{{"easy_install", "pip"}, {"pip", "install", "virtualenv"}}
	}
	if e.Setup.DisableSites == nil {
		p.Setup.DisableSites = []string{"default"}
	}
	if e.Setup.Virtualenv != nil {
		p.Setup.Virtualenv = *e.Setup.Virtualenv
	}
	if e.Setup.HomeLink != nil {
		p.Setup.HomeLink = *e.Setup.HomeLink
	}
	if e.Site.EnableCommand != nil {
		p.Site.EnableCommand = *e.Site.EnableCommand
	}
	return p
}

func (e profileEntry) toProfile(name string) Profile {
	p := Profile{
		Name:      name,
		Hosts:     e.Hosts,
		User:      e.User,
		Path:      e.Path,
		Transport: Transport(orDefault(e.Transport, string(TransportSSH))),
		SSH: SSH{
			Port:                  e.SSH.Port,
			IdentityFile:          e.SSH.IdentityFile,
			IdentitySecret:        e.SSH.IdentitySecret,
			Passphrase:            e.SSH.Passphrase,
			KnownHosts:            e.SSH.KnownHosts,
			InsecureIgnoreHostKey: e.SSH.InsecureIgnoreHostKey,
		},
	}
	if e.Mirror != nil {
		p.Mirror = &Mirror{
			Bucket:         e.Mirror.Bucket,
			Prefix:         e.Mirror.Prefix,
			Region:         e.Mirror.Region,
			Endpoint:       e.Mirror.Endpoint,
			ForcePathStyle: e.Mirror.ForcePathStyle,
		}
	}
	return p
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func orDefaultSlice(v, def []string) []string {
	if v == nil {
		return def
	}
	return v
}
