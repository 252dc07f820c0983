package integration

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/docker-deploy/internal/config"
	"github.com/oshokin/docker-deploy/internal/domain/deploy"
	"github.com/oshokin/docker-deploy/internal/service/deployer"
)

// makeBuild creates a build output directory and a Dockerfile.
func makeBuild(t *testing.T) (string, string) {
	t.Helper()

	root := t.TempDir()
	dist := filepath.Join(root, "dist")

	require.NoError(t, os.MkdirAll(filepath.Join(dist, "static"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dist, "index.html"), []byte("<h1>release</h1>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dist, "static", "app.js"), []byte("console.log('ok')"), 0o644))

	descriptor := filepath.Join(root, "Dockerfile")
	require.NoError(t, os.WriteFile(descriptor, []byte("FROM nginx:alpine\nCOPY dist /usr/share/nginx/html\n"), 0o644))

	return dist, descriptor
}

// TestDeployer_EndToEnd deploys to two live SSH servers, one of which fails to build.
func TestDeployer_EndToEnd(t *testing.T) {
	t.Parallel()

	healthy := startSSHServer(t)
	broken := startSSHServer(t, withFailingBuild())

	dist, descriptor := makeBuild(t)
	workDir := t.TempDir()
	logDir := filepath.Join(t.TempDir(), "logs")

	req := &deployer.Request{
		Environments: map[string]*config.Environment{
			"prod": {
				Servers:       []*config.Server{healthy.server(t), broken.server(t)},
				ImageName:     "myapp:latest",
				ContainerName: "myapp",
				RunArgs:       []string{"-e TZ=UTC"},
			},
		},
		TargetEnvironment: "prod",
		LogDirectory:      logDir,
		DistDir:           dist,
		Descriptor:        descriptor,
		WorkDir:           workDir,
	}

	report, err := deployer.New().Deploy(context.Background(), req)
	require.ErrorIs(t, err, deploy.ErrBuild)
	require.Contains(t, err.Error(), "no space left on device")
	require.NotNil(t, report)
	require.Len(t, report.Servers, 2)

	// Healthy server: full sequence and remote cleanup.
	ok := report.Servers[0]
	require.True(t, ok.Succeeded(), ok.Error)
	require.Equal(t, fmt.Sprintf("http://127.0.0.1:%d", config.DefaultPublishPort), ok.URL)

	calls := healthy.dockerCalls(t)
	require.Contains(t, calls, "--version")
	require.Contains(t, calls, "rm -f myapp")
	require.Contains(t, calls, "build -t myapp:latest "+filepath.Join(healthy.remoteDir, fmt.Sprint(report.BuildID)))
	require.Contains(t, calls, "run -d --name myapp -p 9750:80 --restart unless-stopped -e TZ=UTC myapp:latest")
	require.NoDirExists(t, filepath.Join(healthy.remoteDir, fmt.Sprint(report.BuildID)))

	// Broken server: stops at build and keeps the extracted bundle.
	failed := report.Servers[1]
	require.Equal(t, deploy.StatusFailed, failed.Status)
	require.Equal(t, deploy.StepBuild, failed.FailedStep)
	require.NotContains(t, broken.dockerCalls(t), "run -d")

	buildDir := filepath.Join(broken.remoteDir, fmt.Sprint(report.BuildID))
	require.FileExists(t, filepath.Join(buildDir, "Dockerfile"))
	require.FileExists(t, filepath.Join(buildDir, "dist", "static", "app.js"))

	// Local archive is gone; the log names both servers.
	matches, err := filepath.Glob(filepath.Join(workDir, "*.tar.gz"))
	require.NoError(t, err)
	require.Empty(t, matches)

	logged, err := os.ReadFile(filepath.Join(logDir, config.DefaultLogFilename))
	require.NoError(t, err)
	require.Contains(t, string(logged), healthy.addr)
	require.Contains(t, string(logged), broken.addr)
	require.Contains(t, string(logged), "Deployment finished: 1 of 2 server(s) failed")
}

// TestDeployer_RunFromConfig drives the CLI entry point against a live server.
func TestDeployer_RunFromConfig(t *testing.T) {
	t.Parallel()

	srv := startSSHServer(t)
	dist, descriptor := makeBuild(t)
	dir := t.TempDir()

	configPath := filepath.Join(dir, config.DefaultConfigFilename)
	require.NoError(t, config.Save(configPath, &config.Config{
		DistDir:    dist,
		Descriptor: descriptor,
		WorkDir:    dir,
		Environments: map[string]*config.Environment{
			"staging": {
				Servers:       []*config.Server{srv.server(t)},
				ImageName:     "myapp:staging",
				ContainerName: "myapp",
				PublishPort:   8080,
				ContainerPort: 3000,
			},
		},
	}))

	var output bytes.Buffer

	reportPath := filepath.Join(dir, "report.yaml")

	err := deployer.Run(context.Background(), &deployer.Options{
		ConfigPath:  configPath,
		Environment: "staging",
		ReportPath:  reportPath,
		Output:      &output,
	})
	require.NoError(t, err)
	require.Contains(t, srv.dockerCalls(t), "-p 8080:3000")
	require.FileExists(t, reportPath)

	lines := strings.Split(strings.TrimSpace(output.String()), "\n")
	require.Contains(t, lines[len(lines)-1], "Deployment finished: all 1 server(s) deployed")
}

// TestDeployer_CommandTimeout fails a build that outlives the command timeout given on the command line.
func TestDeployer_CommandTimeout(t *testing.T) {
	t.Parallel()

	srv := startSSHServer(t, withSlowBuild(2))
	dist, descriptor := makeBuild(t)
	dir := t.TempDir()

	configPath := filepath.Join(dir, config.DefaultConfigFilename)
	require.NoError(t, config.Save(configPath, &config.Config{
		DistDir:        dist,
		Descriptor:     descriptor,
		WorkDir:        dir,
		CommandTimeout: time.Hour,
		Environments: map[string]*config.Environment{
			"prod": {
				Servers:       []*config.Server{srv.server(t)},
				ImageName:     "myapp:latest",
				ContainerName: "myapp",
			},
		},
	}))

	var output bytes.Buffer

	err := deployer.Run(context.Background(), &deployer.Options{
		ConfigPath:     configPath,
		Environment:    "prod",
		CommandTimeout: 300 * time.Millisecond,
		Output:         &output,
	})
	require.ErrorIs(t, err, deploy.ErrBuild)
	require.ErrorIs(t, err, deploy.ErrTimeout)
	require.Equal(t, deploy.StepBuild, deploy.FailedStep(err))
	require.NotContains(t, err.Error(), "exited with")
	require.NotContains(t, srv.dockerCalls(t), "run -d")
}
