package deployer

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/oshokin/docker-deploy/internal/config"
	"github.com/oshokin/docker-deploy/internal/domain/deploy"
	"github.com/oshokin/docker-deploy/internal/logger"
	"github.com/oshokin/docker-deploy/internal/progress"
	"github.com/oshokin/docker-deploy/internal/remote"
)

// serverRun is the state of one server's sequence. It is used by a single goroutine.
type serverRun struct {
	dial     Dialer
	env      *config.Environment
	server   *config.Server
	scope    *progress.Scope
	session  Session
	buildDir string // Remote per-build directory.
	archive  string // Local archive path.
	outcome  *deploy.ServerOutcome
}

// stepFunc performs one step and returns a short detail for the outcome.
type stepFunc func(ctx context.Context) (string, error)

// execute runs every step in order and stops at the first fatal error.
// The session is closed on every path once it was opened.
func (r *serverRun) execute(ctx context.Context) error {
	if err := r.connect(ctx); err != nil {
		return err
	}

	defer r.close(ctx)

	steps := []struct {
		step deploy.Step
		run  stepFunc
	}{
		{deploy.StepVerifyRuntime, r.verifyRuntime},
		{deploy.StepUpload, r.upload},
		{deploy.StepExtract, r.extract},
		{deploy.StepVerifyDescriptor, r.verifyDescriptor},
		{deploy.StepStopPrevious, r.stopPrevious},
		{deploy.StepBuild, r.build},
		{deploy.StepRun, r.run},
		{deploy.StepVerifyRunning, r.verifyRunning},
	}

	for _, s := range steps {
		// Cancellation is honored between steps; a started step runs to completion.
		if err := ctx.Err(); err != nil {
			return r.fail(deploy.NewStepError(s.step, r.server.Host, err))
		}

		detail, err := s.run(context.WithoutCancel(ctx))
		if err != nil {
			return r.fail(err)
		}

		r.outcome.Record(s.step, deploy.StatusSuccess, detail)
	}

	if r.env.ShouldCleanupRemote() {
		r.cleanupRemote(context.WithoutCancel(ctx))
	}

	return nil
}

func (r *serverRun) connect(ctx context.Context) error {
	r.scope.Printf("Connecting to %s@%s", r.server.Username, r.server.Address())

	session, err := r.dial(ctx, r.server)
	if err != nil {
		if !errors.Is(err, deploy.ErrConnection) {
			err = fmt.Errorf("%w: %w", deploy.ErrConnection, err)
		}

		return r.fail(deploy.NewStepError(deploy.StepConnect, r.server.Host, err))
	}

	r.session = session
	r.outcome.Record(deploy.StepConnect, deploy.StatusSuccess, "")
	r.scope.Printf("Connected")

	return nil
}

func (r *serverRun) close(ctx context.Context) {
	if err := r.session.Close(); err != nil {
		logger.WarnKV(ctx, "Failed to close session", "error", err)
	}
}

func (r *serverRun) verifyRuntime(ctx context.Context) (string, error) {
	r.scope.Printf("Verifying container runtime")

	result, err := r.mustRun(ctx, deploy.StepVerifyRuntime, deploy.ErrRuntimeUnavailable, runtimeProbeCommand())
	if err != nil {
		return "", err
	}

	detail := strings.TrimSpace(result.Stdout)
	r.scope.Printf("Container runtime: %s", detail)

	return detail, nil
}

func (r *serverRun) upload(ctx context.Context) (string, error) {
	remotePath := r.remoteArchivePath()

	r.scope.Printf("Uploading archive to %s", remotePath)

	if _, err := r.mustRun(ctx, deploy.StepUpload, deploy.ErrTransfer, mkdirCommand(r.buildDir)); err != nil {
		return "", err
	}

	if err := r.session.Upload(ctx, r.archive, remotePath); err != nil {
		if !errors.Is(err, deploy.ErrTransfer) {
			err = fmt.Errorf("%w: %w", deploy.ErrTransfer, err)
		}

		return "", deploy.NewStepError(deploy.StepUpload, r.server.Host, err)
	}

	r.scope.Printf("Upload complete")

	return remotePath, nil
}

func (r *serverRun) extract(ctx context.Context) (string, error) {
	r.scope.Printf("Extracting archive into %s", r.buildDir)

	command := extractCommand(r.remoteArchivePath(), r.buildDir)
	if _, err := r.mustRun(ctx, deploy.StepExtract, deploy.ErrExtraction, command); err != nil {
		return "", err
	}

	return r.buildDir, nil
}

func (r *serverRun) verifyDescriptor(ctx context.Context) (string, error) {
	r.scope.Printf("Verifying container descriptor")

	command := descriptorCheckCommand(r.buildDir)
	if _, err := r.mustRun(ctx, deploy.StepVerifyDescriptor, deploy.ErrMissingDescriptor, command); err != nil {
		return "", err
	}

	return "", nil
}

// stopPrevious removes the old container and image. Nothing here can fail the sequence.
func (r *serverRun) stopPrevious(ctx context.Context) (string, error) {
	r.scope.Printf("Removing previous container %s and image %s", r.env.ContainerName, r.env.ImageName)

	removed := make([]string, 0, 2)

	for _, command := range []string{
		removeContainerCommand(r.env.ContainerName),
		removeImageCommand(r.env.ImageName),
	} {
		result, err := r.session.Run(ctx, command)

		switch {
		case err != nil:
			r.scope.Printf("Ignoring failed %q: %v", command, err)
		case !result.OK():
			r.scope.Printf("Nothing removed by %q: %s", command, strings.TrimSpace(result.Stderr))
		default:
			removed = append(removed, strings.TrimSpace(result.Stdout))
		}
	}

	return strings.Join(removed, ", "), nil
}

func (r *serverRun) build(ctx context.Context) (string, error) {
	r.scope.Printf("Building image %s", r.env.ImageName)

	command := buildCommand(r.env.ImageName, r.env.BuildArgs, r.buildDir)
	if _, err := r.mustRun(ctx, deploy.StepBuild, deploy.ErrBuild, command); err != nil {
		return "", err
	}

	r.scope.Printf("Image %s built", r.env.ImageName)

	return r.env.ImageName, nil
}

func (r *serverRun) run(ctx context.Context) (string, error) {
	r.scope.Printf("Starting container %s on port %d", r.env.ContainerName, r.env.PublishPort)

	command := runCommand(r.env.ContainerName, r.env.PublishPort, r.env.ContainerPort, r.env.RunArgs, r.env.ImageName)

	result, err := r.mustRun(ctx, deploy.StepRun, deploy.ErrRun, command)
	if err != nil {
		return "", err
	}

	containerID := strings.TrimSpace(result.Stdout)
	r.scope.Printf("Container started: %s", containerID)

	return containerID, nil
}

// verifyRunning logs the container status. The result is advisory only.
func (r *serverRun) verifyRunning(ctx context.Context) (string, error) {
	r.scope.Printf("Verifying container status")

	result, err := r.session.Run(ctx, statusCommand(r.env.ContainerName))

	status := ""
	if err == nil && result.OK() {
		status = strings.TrimSpace(result.Stdout)
	}

	if status == "" {
		r.scope.Warnf("container %s is not reported as running", r.env.ContainerName)

		return "not reported as running", nil
	}

	r.scope.Printf("Container status: %s", status)

	return status, nil
}

// cleanupRemote removes the per-build directory after a successful deployment.
func (r *serverRun) cleanupRemote(ctx context.Context) {
	result, err := r.session.Run(ctx, removeDirCommand(r.buildDir))
	if err == nil && result.OK() {
		r.scope.Printf("Removed remote directory %s", r.buildDir)

		return
	}

	if err == nil {
		err = fmt.Errorf("exit status %d: %s", result.ExitCode, strings.TrimSpace(result.Stderr))
	}

	warning := fmt.Errorf("%w: remove remote directory %s: %w", deploy.ErrCleanup, r.buildDir, err)
	r.outcome.Warnings = append(r.outcome.Warnings, warning.Error())
	r.scope.Warnf("%v", warning)
}

// mustRun executes a command whose non-zero exit is fatal for step.
func (r *serverRun) mustRun(ctx context.Context, step deploy.Step, sentinel error, command string) (remote.Result, error) {
	result, err := r.session.Run(ctx, command)
	if err != nil {
		return result, &deploy.StepError{
			Step:    step,
			Host:    r.server.Host,
			Command: command,
			Err:     fmt.Errorf("%w: %w", sentinel, err),
		}
	}

	if !result.OK() {
		return result, &deploy.StepError{
			Step:     step,
			Host:     r.server.Host,
			Command:  command,
			ExitCode: result.ExitCode,
			Exited:   true,
			Stderr:   result.Stderr,
			Err:      sentinel,
		}
	}

	return result, nil
}

// fail records the failing step and passes err through.
func (r *serverRun) fail(err error) error {
	step := deploy.FailedStep(err)
	if step != 0 {
		r.outcome.Record(step, deploy.StatusFailed, err.Error())
	}

	return err
}

func (r *serverRun) remoteArchivePath() string {
	return path.Join(r.buildDir, path.Base(r.archive))
}
