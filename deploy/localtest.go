package deploy

import (
	"context"

	deployerrors "github.com/input-output-hk/forge-deploy/errors"
	"github.com/input-output-hk/forge-deploy/remote"
)

// Test runs the project's test command in the source directory on the
// local machine with the project's test environment. Output is streamed to
// the pipeline output.
func (p *Pipeline) Test(ctx context.Context) error {
	cmd := command(p.project.TestCommand).In(p.project.SourceDir)
	_, err := p.exec.RunLocal(ctx, cmd,
		remote.WithEnv(p.project.TestEnv),
		remote.WithStream(p.output))
	if err != nil {
		return stepError(deployerrors.KindTest, StepTest, "", "", err)
	}
	p.logger.InfoContext(ctx, "tests passed", "dir", p.project.SourceDir)
	return nil
}
