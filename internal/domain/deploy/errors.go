package deploy

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConfiguration is returned for an unknown target environment or a malformed server entry.
	ErrConfiguration = errors.New("configuration error")
	// ErrMissingArtifact is returned when the build output or the descriptor is absent locally.
	ErrMissingArtifact = errors.New("missing artifact")
	// ErrMissingDescriptor is returned when the unpacked bundle has no usable descriptor.
	ErrMissingDescriptor = errors.New("missing container descriptor")
	// ErrConnection is returned when a session cannot be established.
	ErrConnection = errors.New("connection failed")
	// ErrRuntimeUnavailable is returned when the container engine probe fails.
	ErrRuntimeUnavailable = errors.New("container runtime unavailable")
	// ErrTransfer is returned when the archive cannot be copied to the remote host.
	ErrTransfer = errors.New("transfer failed")
	// ErrExtraction is returned when the archive cannot be unpacked remotely.
	ErrExtraction = errors.New("extraction failed")
	// ErrBuild is returned when the image build fails.
	ErrBuild = errors.New("image build failed")
	// ErrRun is returned when the new container cannot be started.
	ErrRun = errors.New("container run failed")
	// ErrTimeout is returned when a remote command exceeds its time limit.
	ErrTimeout = errors.New("operation timed out")
	// ErrCleanup marks non-fatal cleanup problems. It is only ever reported as a warning.
	ErrCleanup = errors.New("cleanup warning")
)

// StepError wraps a failure of one step on one server with the remote diagnostics.
type StepError struct {
	// Step is the stage that failed.
	Step Step
	// Host is the target server address.
	Host string
	// Command is the remote command that failed, if any.
	Command string
	// ExitCode is the remote exit status. It is meaningful only when Exited is set.
	ExitCode int
	// Exited reports that the command finished and returned ExitCode.
	Exited bool
	// Stderr is the captured remote stderr, kept verbatim.
	Stderr string
	// Err is the taxonomy sentinel, optionally wrapping a transport error.
	Err error
}

// Error renders step, host, exit status and stderr in one line.
func (e *StepError) Error() string {
	var builder strings.Builder

	builder.WriteString(e.Step.String())
	builder.WriteString(" on ")
	builder.WriteString(e.Host)
	builder.WriteString(": ")

	if e.Err != nil {
		builder.WriteString(e.Err.Error())
	} else {
		builder.WriteString("failed")
	}

	switch {
	case e.Command != "" && e.Exited:
		fmt.Fprintf(&builder, " (command %q exited with %d)", e.Command, e.ExitCode)
	case e.Command != "":
		fmt.Fprintf(&builder, " (command %q)", e.Command)
	}

	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		builder.WriteString(": ")
		builder.WriteString(stderr)
	}

	return builder.String()
}

// Unwrap exposes the sentinel for errors.Is.
func (e *StepError) Unwrap() error {
	return e.Err
}

// NewStepError creates a StepError for a failure that is not tied to a remote exit status.
func NewStepError(step Step, host string, err error) *StepError {
	return &StepError{
		Step: step,
		Host: host,
		Err:  err,
	}
}

// FailedStep extracts the failing step from err, or zero when err is not a StepError.
func FailedStep(err error) Step {
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return stepErr.Step
	}

	return 0
}
