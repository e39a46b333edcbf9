package deploy

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	deployerrors "github.com/input-output-hk/forge-deploy/errors"
	"github.com/input-output-hk/forge-deploy/release"
)

// HostStatus is the release state of one host.
type HostStatus struct {
	Host     string
	State    *release.State
	Releases []release.Label

	// Err is set when the host could not be read. Status keeps going.
	Err error
}

// Status reads the release pointers of every host. It never modifies a
// store, so a pending rotation is reported rather than completed.
func (p *Pipeline) Status(ctx context.Context) ([]HostStatus, error) {
	out := make([]HostStatus, 0, len(p.profile.Hosts))
	for _, host := range p.profile.Hosts {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		hs := HostStatus{Host: host}
		s, err := p.store(host)
		if err != nil {
			return out, deployerrors.New(deployerrors.KindConfiguration, err).WithHost(host)
		}
		if hs.State, err = s.State(ctx); err != nil {
			hs.Err = stepError(deployerrors.KindActivation, StepStatus, host, "", err)
		} else if hs.Releases, err = s.Releases(ctx); err != nil {
			hs.Err = stepError(deployerrors.KindActivation, StepStatus, host, "", err)
		}
		out = append(out, hs)
	}
	return out, nil
}

// WriteStatus prints one line per host.
func WriteStatus(w io.Writer, statuses []HostStatus) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "HOST\tCURRENT\tPREVIOUS\tRELEASES\tNOTE")
	for _, hs := range statuses {
		if hs.Err != nil {
			fmt.Fprintf(tw, "%s\t-\t-\t-\t%v\n", hs.Host, hs.Err)
			continue
		}
		note := ""
		if hs.State.RotationPending {
			note = "rotation pending"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			hs.Host,
			describe(hs.State.Current),
			describe(hs.State.Previous),
			len(hs.Releases),
			note)
	}
	return tw.Flush()
}

func describe(l release.Label) string {
	switch {
	case l == "":
		return "(missing)"
	case l.IsSentinel():
		return "(none)"
	}
	return string(l)
}
