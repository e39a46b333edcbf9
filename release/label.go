package release

import (
	"errors"
	"fmt"
	"time"

	"github.com/input-output-hk/forge-deploy/shell"
)

// LabelLayout is the time layout of release labels. Labels sort
// lexicographically in the order they were created.
const LabelLayout = "20060102150405"

// Sentinel is the label reported for a pointer that still targets the
// releases directory itself, as set by Initialize.
const Sentinel Label = "."

// ErrInvalidLabel is returned for labels that are not a LabelLayout timestamp.
var ErrInvalidLabel = errors.New("invalid release label")

// Label identifies a release. It is the UTC time the release was created,
// formatted with LabelLayout.
type Label string

// NewLabel returns the label for a release created at now.
// Two deploys within the same second produce the same label; the second one
// fails when it finds the release directory already present.
func NewLabel(now time.Time) Label {
	return Label(now.UTC().Format(LabelLayout))
}

// ParseLabel validates s as a release label.
func ParseLabel(s string) (Label, error) {
	if len(s) != len(LabelLayout) {
		return "", fmt.Errorf("%w: %q", ErrInvalidLabel, s)
	}
	if _, err := time.Parse(LabelLayout, s); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidLabel, s)
	}
	return Label(s), nil
}

// Validate checks that l can name a release directory. Any single path
// component that is not one of the store's pointer names is accepted, so
// releases created by hand can be activated too.
func (l Label) Validate() error {
	if err := shell.ValidateName(string(l)); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidLabel, err)
	}
	if isReserved(string(l)) {
		return fmt.Errorf("%w: %q is reserved", ErrInvalidLabel, string(l))
	}
	return nil
}

// IsSentinel reports whether l is the bootstrap sentinel.
func (l Label) IsSentinel() bool {
	return l == Sentinel
}

// Time returns the creation time encoded in the label.
func (l Label) Time() (time.Time, error) {
	t, err := time.Parse(LabelLayout, string(l))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidLabel, string(l))
	}
	return t, nil
}

// String implements fmt.Stringer.
func (l Label) String() string {
	return string(l)
}
