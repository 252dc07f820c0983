package deployer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/docker-deploy/internal/config"
	"github.com/oshokin/docker-deploy/internal/remote"
)

// fakeHost is an in-memory server. Responses are matched by command prefix.
type fakeHost struct {
	mu        sync.Mutex
	commands  []string
	uploads   []string
	responses map[string]remote.Result
	uploadErr error
	closed    int

	// onRun runs before a command is answered; a non-nil error becomes a transport failure.
	onRun func(command string) error
	// onUpload runs after a successful upload with the local archive path.
	onUpload func(localPath string)
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		responses: map[string]remote.Result{
			"docker --version": {Stdout: "Docker version 27.0.1, build 7fafd33\n"},
			"docker run":       {Stdout: "4f1c0ffee\n"},
			"docker ps":        {Stdout: "myapp Up 1 second\n"},
		},
	}
}

// respond overrides the result of every command starting with prefix.
func (h *fakeHost) respond(prefix string, result remote.Result) *fakeHost {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.responses[prefix] = result

	return h
}

func (h *fakeHost) Run(_ context.Context, command string) (remote.Result, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.commands = append(h.commands, command)

	if h.onRun != nil {
		if err := h.onRun(command); err != nil {
			return remote.Result{}, err
		}
	}

	best := ""
	for prefix := range h.responses {
		if strings.HasPrefix(command, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}

	if best == "" {
		return remote.Result{}, nil
	}

	return h.responses[best], nil
}

func (h *fakeHost) Upload(_ context.Context, localPath, remotePath string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.uploadErr != nil {
		return h.uploadErr
	}

	if _, err := os.Stat(localPath); err != nil {
		return err
	}

	h.uploads = append(h.uploads, remotePath)

	if h.onUpload != nil {
		h.onUpload(localPath)
	}

	return nil
}

func (h *fakeHost) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed++

	return nil
}

func (h *fakeHost) history() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	return append([]string(nil), h.commands...)
}

func (h *fakeHost) ran(prefix string) bool {
	for _, command := range h.history() {
		if strings.HasPrefix(command, prefix) {
			return true
		}
	}

	return false
}

// fakeFleet hands out fake hosts by server host name.
type fakeFleet struct {
	mu      sync.Mutex
	hosts   map[string]*fakeHost
	dialErr map[string]error
	dialed  []string
}

func newFakeFleet() *fakeFleet {
	return &fakeFleet{
		hosts:   make(map[string]*fakeHost),
		dialErr: make(map[string]error),
	}
}

func (f *fakeFleet) host(name string) *fakeHost {
	f.mu.Lock()
	defer f.mu.Unlock()

	h, ok := f.hosts[name]
	if !ok {
		h = newFakeHost()
		f.hosts[name] = h
	}

	return h
}

func (f *fakeFleet) dial(_ context.Context, server *config.Server) (Session, error) {
	f.mu.Lock()
	f.dialed = append(f.dialed, server.Host)
	err := f.dialErr[server.Host]
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}

	return f.host(server.Host), nil
}

func (f *fakeFleet) dialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.dialed)
}

// workspace is a local build tree plus a scratch directory for archives and logs.
type workspace struct {
	distDir    string
	descriptor string
	workDir    string
	logDir     string
}

func newWorkspace(t *testing.T) *workspace {
	t.Helper()

	root := t.TempDir()
	ws := &workspace{
		distDir:    filepath.Join(root, "dist"),
		descriptor: filepath.Join(root, "Dockerfile"),
		workDir:    filepath.Join(root, "work"),
		logDir:     filepath.Join(root, "logs"),
	}

	require.NoError(t, os.MkdirAll(ws.distDir, 0o755))
	require.NoError(t, os.MkdirAll(ws.workDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(ws.distDir, "index.html"), []byte("<h1>ok</h1>"), 0o644))
	require.NoError(t, os.WriteFile(ws.descriptor, []byte("FROM nginx:alpine\nCOPY dist /usr/share/nginx/html\n"), 0o644))

	return ws
}

func (ws *workspace) request(environments map[string]*config.Environment, target string) *Request {
	return &Request{
		Environments:      environments,
		TargetEnvironment: target,
		LogDirectory:      ws.logDir,
		DistDir:           ws.distDir,
		Descriptor:        ws.descriptor,
		WorkDir:           ws.workDir,
	}
}

func (ws *workspace) logLines(t *testing.T) []string {
	t.Helper()

	data, err := os.ReadFile(filepath.Join(ws.logDir, config.DefaultLogFilename))
	require.NoError(t, err)

	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func (ws *workspace) archives(t *testing.T) []string {
	t.Helper()

	matches, err := filepath.Glob(filepath.Join(ws.workDir, "*.tar.gz"))
	require.NoError(t, err)

	return matches
}

func prodEnvironment(hosts ...string) map[string]*config.Environment {
	servers := make([]*config.Server, 0, len(hosts))
	for _, host := range hosts {
		servers = append(servers, &config.Server{
			Host:      host,
			Password:  "secret",
			RemoteDir: "/srv/deploy",
		})
	}

	return map[string]*config.Environment{
		"prod": {
			Servers:       servers,
			ImageName:     "myapp:latest",
			ContainerName: "myapp",
			PublishPort:   9750,
		},
	}
}

var errRefused = errors.New("connection refused")

func fixedClock() time.Time {
	return time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
}
