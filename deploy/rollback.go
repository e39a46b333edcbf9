package deploy

import (
	"context"
	"errors"
	"fmt"

	deployerrors "github.com/input-output-hk/forge-deploy/errors"
	"github.com/input-output-hk/forge-deploy/release"
)

// Rollback swaps the current and previous releases on every host and
// restarts the service. A host that never had a release activated, or
// whose store is not initialized, fails with a NoPriorReleaseError and is
// left unchanged. Rolling back twice returns to the original release.
//
// A host holding a rotation interrupted by an earlier rollback has it
// completed; that completed rotation is the rollback for the host.
func (p *Pipeline) Rollback(ctx context.Context) error {
	return p.eachHost(ctx, p.rollbackHost)
}

func (p *Pipeline) rollbackHost(ctx context.Context, s *release.Store) error {
	host := s.Target().Host

	recovered, err := s.Recover(ctx)
	if err != nil {
		return rollbackError(host, err)
	}
	st, err := s.State(ctx)
	if err != nil {
		return rollbackError(host, err)
	}

	if recovered {
		p.logger.WarnContext(ctx, "completed interrupted rollback",
			"host", host,
			"current", string(st.Current),
			"previous", string(st.Previous))
		return p.restart(ctx, s, st.Current)
	}

	// Activation always leaves a label in at least one slot.
	if st.Current.IsSentinel() && st.Previous.IsSentinel() {
		return stepError(deployerrors.KindNoPriorRelease, StepRollback, host, "",
			errors.New("no release has been activated"))
	}

	if err := s.Swap(ctx); err != nil {
		return stepError(deployerrors.KindActivation, StepRollback, host, st.Previous, err)
	}
	p.logger.InfoContext(ctx, "rolled back",
		"host", host,
		"current", string(st.Previous),
		"previous", string(st.Current))

	return p.restart(ctx, s, st.Previous)
}

func rollbackError(host string, err error) error {
	if errors.Is(err, release.ErrNotInitialized) {
		return stepError(deployerrors.KindNoPriorRelease, StepRollback, host, "",
			fmt.Errorf("nothing to roll back: %w", err))
	}
	return stepError(deployerrors.KindActivation, StepRollback, host, "", err)
}
