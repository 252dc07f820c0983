package cmd

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/oshokin/docker-deploy/internal/service/deployer"
)

var (
	// reportPath where the YAML run report is written.
	reportPath string
	// showProgress draws a bar of finished servers instead of progress lines.
	showProgress bool
	// parallelism caps concurrently deployed servers.
	parallelism int
	// commandTimeout bounds every remote command.
	commandTimeout time.Duration

	// deployCmd deploys one environment.
	deployCmd = &cobra.Command{
		Use:   "deploy [environment]",
		Short: "Deploy the build to every server of an environment.",
		Long: `Deploys the build output to every server of the given environment.

The environment can also be set with DEPLOY_ENV. Progress is printed line by line
and appended to deploy.log inside log_dir when it is configured.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			// Setup graceful shutdown handling; started steps still finish.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			var environment string
			if len(args) > 0 {
				environment = args[0]
			}

			options := &deployer.Options{
				ConfigPath:     configPath,
				Environment:    environment,
				ReportPath:     reportPath,
				ShowProgress:   showProgress,
				Parallelism:    parallelism,
				CommandTimeout: commandTimeout,
				Overrides:      overrides,
			}

			return deployer.Run(ctx, options)
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	deployCmd.Flags().StringVarP(&reportPath, "report", "r", "", "write a YAML run report to this path")
	deployCmd.Flags().BoolVarP(&showProgress, "progress", "p", false, "show a progress bar instead of log lines")
	deployCmd.Flags().IntVar(&parallelism, "parallelism", 0, "maximum servers deployed at once (0 uses the config)")
	deployCmd.Flags().DurationVar(&commandTimeout, "command-timeout", 0, "limit for each remote command, e.g. 15m (0 uses the config)")
}
