package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/oshokin/docker-deploy/internal/config"
	"github.com/oshokin/docker-deploy/internal/logger"
	"github.com/oshokin/docker-deploy/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// logLevel for console output.
	logLevel string
	// overrides are DEPLOY_* settings read from the environment and .env.
	overrides *config.Overrides

	// rootCmd represents the base command.
	rootCmd = &cobra.Command{
		Use:   "docker-deploy",
		Short: "Ship a built application to Docker hosts over SSH.",
		Long: `Packages the local build output together with its Dockerfile, uploads the archive
to every server of an environment over SSH, builds the image there and replaces
the running container.

Servers are deployed independently. The command fails when at least one server fails.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := config.LoadOverrides(".env")
			if err != nil {
				return err
			}

			overrides = loaded

			level := logLevel
			if !cmd.Flags().Changed("log-level") && overrides.LogLevel != "" {
				level = overrides.LogLevel
			}

			parsed, ok := logger.ParseLogLevel(level)
			if !ok {
				return fmt.Errorf("unknown log level %q", level)
			}

			logger.SetLevel(parsed)

			if !cmd.Flags().Changed("config") && overrides.ConfigPath != "" {
				configPath = overrides.ConfigPath
			}

			return nil
		},
	}
)

// Execute runs the docker-deploy CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.PersistentFlags().
		StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "console log level: debug, info, warn, error")

	rootCmd.AddCommand(deployCmd, initCmd)
}
