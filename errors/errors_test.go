package errors_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	deployerrors "github.com/input-output-hk/forge-deploy/errors"
)

func TestError_Message(t *testing.T) {
	tests := []struct {
		name string
		err  *deployerrors.Error
		want string
	}{
		{
			name: "full context",
			err: deployerrors.New(deployerrors.KindMigration, errors.New("exit status 1")).
				WithStep("migrate").
				WithHost("web1").
				WithLabel("20230101000000"),
			want: "MigrationError [step migrate, host web1, release 20230101000000]: exit status 1",
		},
		{
			name: "host only",
			err:  deployerrors.New(deployerrors.KindSetup, errors.New("permission denied")).WithHost("web1"),
			want: "SetupError [host web1]: permission denied",
		},
		{
			name: "no context",
			err:  deployerrors.Newf(deployerrors.KindConfiguration, "no profile selected"),
			want: "ConfigurationError: no profile selected",
		},
		{
			name: "no cause",
			err:  deployerrors.New(deployerrors.KindNoPriorRelease, nil).WithHost("web1"),
			want: "NoPriorReleaseError [host web1]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestError_IsKind(t *testing.T) {
	cause := errors.New("boom")
	err := fmt.Errorf("deploy: %w",
		deployerrors.New(deployerrors.KindDependency, cause).WithStep("dependencies"))

	assert.True(t, errors.Is(err, deployerrors.KindDependency))
	assert.False(t, errors.Is(err, deployerrors.KindMigration))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, deployerrors.KindDependency, deployerrors.KindOf(err))
	assert.Equal(t, deployerrors.CodeDependencyFailed, deployerrors.CodeOf(err))

	var de *deployerrors.Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "dependencies", de.Step)
}

func TestHelpers(t *testing.T) {
	assert.True(t, deployerrors.IsNoPriorRelease(deployerrors.New(deployerrors.KindNoPriorRelease, nil)))
	assert.True(t, deployerrors.IsConfiguration(deployerrors.Newf(deployerrors.KindConfiguration, "x")))
	assert.False(t, deployerrors.IsConfiguration(errors.New("plain")))
	assert.Equal(t, deployerrors.Kind(""), deployerrors.KindOf(errors.New("plain")))
	assert.Equal(t, deployerrors.ErrorCode(""), deployerrors.CodeOf(nil))
	assert.Equal(t, deployerrors.CodeUnknown, deployerrors.CodeOf(errors.New("plain")))
}

func TestKind_Code(t *testing.T) {
	kinds := map[deployerrors.Kind]deployerrors.ErrorCode{
		deployerrors.KindSetup:          deployerrors.CodeSetupFailed,
		deployerrors.KindTransfer:       deployerrors.CodeTransferFailed,
		deployerrors.KindDependency:     deployerrors.CodeDependencyFailed,
		deployerrors.KindConfig:         deployerrors.CodeSiteConfigFailed,
		deployerrors.KindActivation:     deployerrors.CodeActivationFailed,
		deployerrors.KindMigration:      deployerrors.CodeMigrationFailed,
		deployerrors.KindRestart:        deployerrors.CodeRestartFailed,
		deployerrors.KindNoPriorRelease: deployerrors.CodeNoPriorRelease,
		deployerrors.KindConfiguration:  deployerrors.CodeInvalidConfig,
		deployerrors.KindTest:           deployerrors.CodeTestFailed,
	}
	for k, code := range kinds {
		assert.Equal(t, code, k.Code(), string(k))
	}
}
