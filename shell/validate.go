package shell

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
)

var (
	// ErrInvalidHost is returned for host names that are not a hostname, IPv4
	// or bracket-free IPv6 literal, optionally followed by a port.
	ErrInvalidHost = errors.New("invalid host")

	// ErrInvalidUser is returned for user names outside the POSIX portable set.
	ErrInvalidUser = errors.New("invalid user")

	// ErrInvalidPath is returned for paths that are not absolute and clean.
	ErrInvalidPath = errors.New("invalid path")

	// ErrInvalidName is returned for names used as single path components.
	ErrInvalidName = errors.New("invalid name")
)

var (
	hostPattern = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9.\-]*[A-Za-z0-9])?(:[0-9]{1,5})?$`)
	ipv6Pattern = regexp.MustCompile(`^[0-9A-Fa-f:]+$`)
	userPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.\-]*\$?$`)
	namePattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.\-]*$`)
)

// ValidateHost checks that host is usable as an SSH target.
func ValidateHost(host string) error {
	if host == "" {
		return fmt.Errorf("%w: empty", ErrInvalidHost)
	}
	if hostPattern.MatchString(host) || (strings.Count(host, ":") >= 2 && ipv6Pattern.MatchString(host)) {
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidHost, host)
}

// ValidateUser checks that user is a portable login name.
func ValidateUser(user string) error {
	if len(user) == 0 || len(user) > 32 || !userPattern.MatchString(user) {
		return fmt.Errorf("%w: %q", ErrInvalidUser, user)
	}
	return nil
}

// ValidatePath checks that p is an absolute, clean POSIX path other than "/".
func ValidatePath(p string) error {
	switch {
	case p == "":
		return fmt.Errorf("%w: empty", ErrInvalidPath)
	case !path.IsAbs(p):
		return fmt.Errorf("%w: %q is not absolute", ErrInvalidPath, p)
	case path.Clean(p) != p:
		return fmt.Errorf("%w: %q is not clean", ErrInvalidPath, p)
	case p == "/":
		return fmt.Errorf("%w: refusing to use the filesystem root", ErrInvalidPath)
	case strings.ContainsAny(p, "\x00\n\r"):
		return fmt.Errorf("%w: %q contains a control character", ErrInvalidPath, p)
	}
	return nil
}

// ValidateRelPath checks that p is a clean relative path that stays below its base.
func ValidateRelPath(p string) error {
	switch {
	case p == "":
		return fmt.Errorf("%w: empty", ErrInvalidPath)
	case path.IsAbs(p):
		return fmt.Errorf("%w: %q must be relative", ErrInvalidPath, p)
	case path.Clean(p) != p:
		return fmt.Errorf("%w: %q is not clean", ErrInvalidPath, p)
	case p == ".." || strings.HasPrefix(p, "../"):
		return fmt.Errorf("%w: %q escapes its base directory", ErrInvalidPath, p)
	case strings.ContainsAny(p, "\x00\n\r"):
		return fmt.Errorf("%w: %q contains a control character", ErrInvalidPath, p)
	}
	return nil
}

// ValidateName checks that name can be used as a single path component.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) || name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
