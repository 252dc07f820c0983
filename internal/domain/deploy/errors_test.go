package deploy

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestStepError_MessageAndUnwrap checks that step name and stderr survive into the message.
func TestStepError_MessageAndUnwrap(t *testing.T) {
	t.Parallel()

	err := &StepError{
		Step:     StepBuild,
		Host:     "10.0.0.5",
		Command:  "docker build -t app /root/deploy/1",
		ExitCode: 1,
		Exited:   true,
		Stderr:   "no space left on device\n",
		Err:      ErrBuild,
	}

	require.ErrorIs(t, err, ErrBuild)
	require.Contains(t, err.Error(), "build on 10.0.0.5")
	require.Contains(t, err.Error(), "no space left on device")
	require.Contains(t, err.Error(), "exited with 1")

	wrapped := fmt.Errorf("deploy: %w", err)
	require.Equal(t, StepBuild, FailedStep(wrapped))
	require.Equal(t, Step(0), FailedStep(errors.New("plain")))
}

// TestStepError_UnfinishedCommand omits the exit status when the command never returned one.
func TestStepError_UnfinishedCommand(t *testing.T) {
	t.Parallel()

	err := &StepError{
		Step:    StepBuild,
		Host:    "10.0.0.5",
		Command: "docker build -t app /root/deploy/1",
		Err:     fmt.Errorf("%w: connection reset by peer", ErrBuild),
	}

	require.ErrorIs(t, err, ErrBuild)
	require.NotContains(t, err.Error(), "exited with")
	require.Equal(t,
		`build on 10.0.0.5: image build failed: connection reset by peer (command "docker build -t app /root/deploy/1")`,
		err.Error())
}

// TestSteps_Order verifies the execution order and names.
func TestSteps_Order(t *testing.T) {
	t.Parallel()

	names := make([]string, 0, len(Steps()))
	for _, step := range Steps() {
		names = append(names, step.String())
	}

	require.Equal(t, []string{
		"connect", "verify-runtime", "upload", "extract", "verify-descriptor",
		"stop-previous", "build", "run", "verify-running",
	}, names)
	require.Equal(t, "unknown", Step(42).String())
}
