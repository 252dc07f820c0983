package deployer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/oshokin/docker-deploy/internal/config"
	"github.com/oshokin/docker-deploy/internal/domain/deploy"
	"github.com/oshokin/docker-deploy/internal/logger"
	"github.com/oshokin/docker-deploy/internal/remote"
	"github.com/oshokin/docker-deploy/internal/repository/report"
)

// Options controls one docker-deploy CLI invocation.
type Options struct {
	// ConfigPath specifies the path to the configuration YAML file.
	ConfigPath string
	// Environment is the target environment name.
	Environment string
	// ReportPath is where the YAML run report is written; empty skips it.
	ReportPath string
	// ShowProgress replaces the per-line output with a bar of finished servers.
	ShowProgress bool
	// Parallelism overrides the configured parallelism when positive.
	Parallelism int
	// CommandTimeout overrides the configured remote command timeout when positive.
	CommandTimeout time.Duration
	// Overrides are DEPLOY_* environment settings.
	Overrides *config.Overrides
	// Output receives progress lines; defaults to os.Stdout.
	Output io.Writer
	// Deployer runs the deployment; defaults to an SSH deployer with the configured command timeout.
	Deployer *Deployer
}

// ErrNoEnvironment indicates that no target environment was selected.
var ErrNoEnvironment = errors.New("no target environment given")

// Run loads the configuration and deploys the selected environment.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "docker-deploy")

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	target := opts.Environment
	if target == "" && opts.Overrides != nil {
		target = opts.Overrides.Environment
	}

	if target == "" {
		return fmt.Errorf("%w: %w (configured: %v)", deploy.ErrConfiguration, ErrNoEnvironment, cfg.Names())
	}

	output := opts.Output
	if output == nil {
		output = os.Stdout
	}

	req := &Request{
		Environments:      cfg.Environments,
		TargetEnvironment: target,
		LogDirectory:      cfg.LogDir,
		DistDir:           cfg.DistDir,
		Descriptor:        cfg.Descriptor,
		WorkDir:           cfg.WorkDir,
		Parallelism:       cfg.Parallelism,
	}

	if opts.ShowProgress {
		attachProgressBar(req, cfg, output)
	} else {
		var mu sync.Mutex

		req.OnProgress = func(line string) {
			mu.Lock()
			defer mu.Unlock()

			_, _ = fmt.Fprintln(output, line)
		}
	}

	d := opts.Deployer
	if d == nil {
		d = New(WithDialer(SSHDialer(remote.WithCommandTimeout(cfg.CommandTimeout))))
	}

	logger.InfoKV(ctx, "Starting deployment",
		"environment", target,
		"config", opts.ConfigPath,
		"command_timeout", cfg.CommandTimeout)

	result, deployErr := d.Deploy(ctx, req)
	if result != nil && opts.ReportPath != "" {
		repo := report.NewFileRepository(opts.ReportPath)
		if err = repo.Save(ctx, result); err != nil {
			logger.ErrorKV(ctx, "Failed to save report", "path", repo.Path(), "error", err)
		} else {
			logger.InfoKV(ctx, "Report saved", "path", repo.Path())
		}
	}

	if deployErr != nil {
		return deployErr
	}

	logger.InfoKV(ctx, "Deployment succeeded",
		"environment", target,
		"build_id", result.BuildID,
		"servers", len(result.Servers),
		"duration", result.FinishedAt.Sub(result.StartedAt).Round(time.Millisecond))

	return nil
}

func loadConfig(opts *Options) (*config.Config, error) {
	configPath := opts.ConfigPath
	if configPath == "" && opts.Overrides != nil {
		configPath = opts.Overrides.ConfigPath
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	opts.Overrides.Apply(cfg)

	if opts.Parallelism > 0 {
		cfg.Parallelism = opts.Parallelism
	}

	if opts.CommandTimeout > 0 {
		cfg.CommandTimeout = opts.CommandTimeout
	}

	return cfg, nil
}

// attachProgressBar counts finished servers on a bar written to output.
func attachProgressBar(req *Request, cfg *config.Config, output io.Writer) {
	total := -1
	if env, ok := cfg.Environments[req.TargetEnvironment]; ok && env != nil {
		total = len(env.Servers)
	}

	bar := progressbar.NewOptions(total,
		progressbar.OptionSetDescription("Deploying "+req.TargetEnvironment),
		progressbar.OptionSetWriter(output),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("servers"),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)

	var mu sync.Mutex

	finish := func() {
		mu.Lock()
		defer mu.Unlock()

		_ = bar.Add(1)
	}

	req.OnSuccess = func(string, *config.Server, string) { finish() }
	req.OnError = func(string, *config.Server, error) { finish() }
}
