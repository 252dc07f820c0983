package deployer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oshokin/docker-deploy/internal/config"
	"github.com/oshokin/docker-deploy/internal/domain/deploy"
	"github.com/oshokin/docker-deploy/internal/logger"
	"github.com/oshokin/docker-deploy/internal/progress"
	"github.com/oshokin/docker-deploy/internal/remote"
	"github.com/oshokin/docker-deploy/internal/service/packager"
)

// Request is one deployment invocation. It is not modified by Deploy.
type Request struct {
	// Environments maps environment names to their definitions.
	Environments map[string]*config.Environment
	// TargetEnvironment selects the environment to deploy.
	TargetEnvironment string
	// LogDirectory receives the append-only deploy log; empty disables it.
	LogDirectory string
	// DistDir is the build output directory; defaults to config.DefaultDistDir.
	DistDir string
	// Descriptor is the container descriptor file; defaults to config.DefaultDescriptor.
	Descriptor string
	// WorkDir is where the local archive is created; defaults to the OS temp directory.
	WorkDir string
	// Parallelism caps concurrently deployed servers; zero means all of them.
	Parallelism int
	// OnProgress receives every progress line in order.
	OnProgress progress.Callback
	// OnSuccess is called from the server's goroutine when a server is deployed.
	OnSuccess func(env string, server *config.Server, url string)
	// OnError is called from the server's goroutine when a server fails.
	OnError func(env string, server *config.Server, err error)
}

// Deployer runs deployments.
type Deployer struct {
	// dial opens one session per server.
	dial Dialer
	// now is the clock used for build IDs and report timestamps.
	now func() time.Time
	// operator identifies who runs the deployment.
	operator func() (deploy.Operator, error)
}

// Option configures a Deployer.
type Option func(*Deployer)

// WithDialer replaces the SSH dialer.
func WithDialer(dial Dialer) Option {
	return func(d *Deployer) {
		if dial != nil {
			d.dial = dial
		}
	}
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(d *Deployer) {
		if now != nil {
			d.now = now
		}
	}
}

var errNoRequest = errors.New("deployment request is not set")

// New returns a Deployer using SSH sessions unless overridden.
func New(opts ...Option) *Deployer {
	d := &Deployer{
		dial:     SSHDialer(remote.WithCommandTimeout(config.DefaultCommandTimeout)),
		now:      time.Now,
		operator: DetectOperator,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Deploy ships the build to every server of the target environment.
//
// Configuration and packaging errors are returned before any server is touched,
// with a nil report. Otherwise the report holds exactly one outcome per server,
// and the error is non-nil when at least one server failed.
func (d *Deployer) Deploy(ctx context.Context, req *Request) (*deploy.Report, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: %w", deploy.ErrConfiguration, errNoRequest)
	}

	ctx = logger.WithName(ctx, "deployer")
	ctx = logger.WithKV(ctx, "environment", req.TargetEnvironment)

	sink, err := progress.Open(req.LogDirectory, config.DefaultLogFilename, req.OnProgress, progress.WithLogger(ctx))
	if err != nil {
		return nil, err
	}

	defer func() {
		if closeErr := sink.Close(); closeErr != nil {
			logger.WarnKV(ctx, "Failed to close deploy log", "error", closeErr)
		}
	}()

	env, err := config.Resolve(req.Environments, req.TargetEnvironment)
	if err != nil {
		sink.Printf("Deployment aborted: %v", err)

		return nil, err
	}

	if err = ctx.Err(); err != nil {
		return nil, err
	}

	run := deploy.NewBuildRun(d.now())
	report := &deploy.Report{
		BuildID:     run.BuildID,
		Environment: req.TargetEnvironment,
		Operator:    d.detectOperator(ctx),
		StartedAt:   run.StartedAt,
	}

	ctx = logger.WithKV(ctx, "build_id", run.BuildID)

	sink.Printf("Deploying environment %s: build %d to %d server(s), started by %s",
		req.TargetEnvironment, run.BuildID, len(env.Servers), report.Operator)

	pkg := packager.New(&packager.Options{
		DistDir:    valueOr(req.DistDir, config.DefaultDistDir),
		Descriptor: valueOr(req.Descriptor, config.DefaultDescriptor),
		OutputDir:  req.WorkDir,
	})

	archive, err := pkg.Package(ctx, run.BuildID)
	if err != nil {
		sink.Printf("Packaging failed: %v", err)

		return nil, fmt.Errorf("package build %d: %w", run.BuildID, err)
	}

	run.ArchivePath = archive.Path
	report.ArchiveChecksum = archive.Checksum

	sink.Printf("Packaged %s (%d bytes)", archive.Path, archive.Size)

	d.ship(ctx, sink, req, env, run, report)

	report.FinishedAt = d.now()

	failed := report.Failed()
	if len(failed) > 0 {
		sink.Printf("Deployment finished: %d of %d server(s) failed",
			len(failed), len(report.Servers))

		return report, fmt.Errorf("%d of %d server(s) failed: %w",
			len(failed), len(report.Servers), report.Err())
	}

	sink.Printf("Deployment finished: all %d server(s) deployed", len(report.Servers))

	return report, nil
}

// ship deploys every server and removes the archive once all of them are done.
func (d *Deployer) ship(
	ctx context.Context,
	sink *progress.Sink,
	req *Request,
	env *config.Environment,
	run *deploy.BuildRun,
	report *deploy.Report,
) {
	defer d.removeArchive(ctx, sink, report, run.ArchivePath)

	report.Servers = make([]*deploy.ServerOutcome, len(env.Servers))

	limit := req.Parallelism
	if limit <= 0 || limit > len(env.Servers) {
		limit = len(env.Servers)
	}

	var group errgroup.Group

	group.SetLimit(limit)

	for i, server := range env.Servers {
		group.Go(func() error {
			// Each goroutine owns exactly one slot.
			report.Servers[i] = d.deployServer(ctx, sink, req, env, run, server)

			return nil
		})
	}

	_ = group.Wait()
}

// deployServer runs the sequence on one server and reports the outcome to the callbacks.
func (d *Deployer) deployServer(
	ctx context.Context,
	sink *progress.Sink,
	req *Request,
	env *config.Environment,
	run *deploy.BuildRun,
	server *config.Server,
) *deploy.ServerOutcome {
	ctx = logger.WithKV(ctx, "host", server.Host)

	r := &serverRun{
		dial:     d.dial,
		env:      env,
		server:   server,
		scope:    sink.Scope(req.TargetEnvironment, server.Address()),
		buildDir: run.RemoteBuildDir(server.RemoteDir),
		archive:  run.ArchivePath,
		outcome: &deploy.ServerOutcome{
			Host: server.Host,
			Port: server.Port,
		},
	}

	if err := r.execute(ctx); err != nil {
		r.outcome.Fail(err)
		r.scope.Printf("Deployment failed: %v", err)
		logger.ErrorKV(ctx, "Server deployment failed", "step", r.outcome.FailedStep, "error", err)

		if req.OnError != nil {
			req.OnError(req.TargetEnvironment, server, err)
		}

		return r.outcome
	}

	r.outcome.Status = deploy.StatusSuccess
	r.outcome.URL = env.URL(server)
	r.scope.Printf("Deployed successfully: %s", r.outcome.URL)
	logger.InfoKV(ctx, "Server deployed", "url", r.outcome.URL)

	if req.OnSuccess != nil {
		req.OnSuccess(req.TargetEnvironment, server, r.outcome.URL)
	}

	return r.outcome
}

// removeArchive deletes the local archive. Failures are warnings only.
func (d *Deployer) removeArchive(ctx context.Context, sink *progress.Sink, report *deploy.Report, path string) {
	err := os.Remove(path)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		sink.Printf("Removed local archive %s", path)

		return
	}

	warning := fmt.Errorf("%w: remove local archive %s: %w", deploy.ErrCleanup, path, err)
	report.Warnings = append(report.Warnings, warning.Error())

	sink.Warnf("%v", warning)
	logger.WarnKV(ctx, "Failed to remove local archive", "path", path, "error", err)
}

func (d *Deployer) detectOperator(ctx context.Context) deploy.Operator {
	operator, err := d.operator()
	if err != nil {
		logger.DebugKV(ctx, "Unable to detect operator", "error", err)

		return deploy.Operator{Hostname: "unknown", Username: "unknown"}
	}

	return operator
}

func valueOr(value, fallback string) string {
	if value == "" {
		return fallback
	}

	return value
}
