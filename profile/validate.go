package profile

import (
	"errors"
	"fmt"
	"regexp"
	"sort"

	"github.com/input-output-hk/forge-deploy/secrets"
	"github.com/input-output-hk/forge-deploy/shell"
)

// ValidationError reports one invalid configuration field.
type ValidationError struct {
	// Field is the dotted path of the field, e.g. "profiles.web.user".
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

var envName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type validator struct {
	errs []error
}

func (v *validator) add(field, format string, args ...any) {
	v.errs = append(v.errs, &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (v *validator) check(field string, err error) {
	if err != nil {
		v.add(field, "%v", err)
	}
}

func (v *validator) command(field string, argv []string) {
	if len(argv) == 0 || argv[0] == "" {
		v.add(field, "command cannot be empty")
	}
}

func (c *Config) validate() error {
	v := &validator{}

	c.project.validate(v)

	if len(c.profiles) == 0 {
		v.add("profiles", "at least one profile is required")
	}
	for _, name := range c.ProfileNames() {
		c.profiles[name].validate(v)
	}

	return errors.Join(v.errs...)
}

func (p Project) validate(v *validator) {
	if p.Name == "" {
		v.add("project.name", "required")
	} else {
		v.check("project.name", shell.ValidateName(p.Name))
	}
	if p.Revision == "" {
		v.add("project.revision", "required")
	}

	if len(p.Setup.Packages) > 0 {
		v.command("project.setup.install_command", p.Setup.InstallCommand)
	}
	for i, cmd := range p.Setup.Commands {
		v.command(fmt.Sprintf("project.setup.commands[%d]", i), cmd)
	}
	if len(p.Setup.DisableSites) > 0 {
		v.command("project.setup.disable_command", p.Setup.DisableCommand)
	}
	if p.Setup.HomeLink != "" {
		v.check("project.setup.home_link", shell.ValidateName(p.Setup.HomeLink))
	}

	if !p.Dependencies.Skip {
		v.command("project.dependencies.command", p.Dependencies.Command)
		v.check("project.dependencies.manifest", shell.ValidateRelPath(p.Dependencies.Manifest))
	}

	if !p.Site.Skip {
		v.check("project.site.file", shell.ValidateRelPath(p.Site.File))
		v.check("project.site.dir", shell.ValidatePath(p.Site.Dir))
	}

	for _, link := range p.SharedLinkPaths() {
		field := "project.shared_links." + link
		v.check(field, shell.ValidateRelPath(link))
		v.check(field, shell.ValidateName(p.SharedLinks[link]))
	}

	if !p.Migrate.Skip {
		v.command("project.migrate.command", p.Migrate.Command)
		v.check("project.migrate.workdir", shell.ValidateRelPath(p.Migrate.Workdir))
	}

	v.command("project.restart.command", p.RestartCommand)
	v.command("project.test.command", p.TestCommand)

	names := make([]string, 0, len(p.TestEnv))
	for k := range p.TestEnv {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		if !envName.MatchString(k) {
			v.add("project.test.env."+k, "not a valid environment variable name")
		}
	}
}

func (p Profile) validate(v *validator) {
	prefix := "profiles." + p.Name

	v.check(prefix, shell.ValidateName(p.Name))

	if len(p.Hosts) == 0 {
		v.add(prefix+".hosts", "at least one host is required")
	}
	seen := make(map[string]bool, len(p.Hosts))
	for i, host := range p.Hosts {
		field := fmt.Sprintf("%s.hosts[%d]", prefix, i)
		v.check(field, shell.ValidateHost(host))
		if seen[host] {
			v.add(field, "duplicate host %q", host)
		}
		seen[host] = true
	}

	v.check(prefix+".user", shell.ValidateUser(p.User))
	v.check(prefix+".path", shell.ValidatePath(p.Path))

	switch p.Transport {
	case TransportSSH, TransportLocal:
	default:
		v.add(prefix+".transport", "must be %q or %q, got %q", TransportSSH, TransportLocal, p.Transport)
	}

	if p.SSH.Port < 0 || p.SSH.Port > 65535 {
		v.add(prefix+".ssh.port", "out of range: %d", p.SSH.Port)
	}
	if p.SSH.IdentitySecret != "" {
		if _, err := secrets.ParseRef(p.SSH.IdentitySecret); err != nil {
			v.check(prefix+".ssh.identity_secret", err)
		}
	}

	if p.Mirror != nil && p.Mirror.Bucket == "" {
		v.add(prefix+".mirror.bucket", "required when mirror is set")
	}
}
