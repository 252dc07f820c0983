package integration

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/oshokin/docker-deploy/internal/config"
)

const (
	testUser     = "deploy"
	testPassword = "secret"
)

// fakeDocker logs its arguments and answers like a healthy engine.
// DOCKER_FAIL_BUILD makes every image build fail; DOCKER_BUILD_SLEEP delays it.
const fakeDocker = `#!/bin/sh
echo "$*" >> "$DOCKER_LOG"
case "$1" in
  --version) echo "Docker version 27.0.1, build fake" ;;
  build)
    if [ -n "$DOCKER_BUILD_SLEEP" ]; then
      sleep "$DOCKER_BUILD_SLEEP"
    fi
    if [ -n "$DOCKER_FAIL_BUILD" ]; then
      echo "failed to copy files: no space left on device" >&2
      exit 1
    fi
    echo "Successfully tagged $3"
    ;;
  run) echo "0123456789ab" ;;
  ps) echo "myapp Up 1 second" ;;
  rm|rmi) echo "Error: No such object" >&2; exit 1 ;;
esac
exit 0
`

// sshServer is an in-process SSH server executing commands with the local shell.
type sshServer struct {
	addr      string
	hostKey   ssh.Signer
	remoteDir string
	dockerLog string

	listener net.Listener
	env      []string
	wg       sync.WaitGroup
}

type serverOption func(*sshServer, *ssh.ServerConfig)

// withFailingBuild makes the fake engine fail image builds.
func withFailingBuild() serverOption {
	return func(s *sshServer, _ *ssh.ServerConfig) {
		s.env = append(s.env, "DOCKER_FAIL_BUILD=1")
	}
}

// withSlowBuild makes the fake engine take seconds to build an image.
func withSlowBuild(seconds int) serverOption {
	return func(s *sshServer, _ *ssh.ServerConfig) {
		s.env = append(s.env, "DOCKER_BUILD_SLEEP="+strconv.Itoa(seconds))
	}
}

// withAuthorizedKey accepts public key authentication with key.
func withAuthorizedKey(key ssh.PublicKey) serverOption {
	return func(_ *sshServer, cfg *ssh.ServerConfig) {
		cfg.PublicKeyCallback = func(_ ssh.ConnMetadata, offered ssh.PublicKey) (*ssh.Permissions, error) {
			if string(offered.Marshal()) == string(key.Marshal()) {
				return &ssh.Permissions{}, nil
			}

			return nil, errors.New("unknown key")
		}
	}
}

// startSSHServer listens on a loopback port until the test ends.
func startSSHServer(t *testing.T, opts ...serverOption) *sshServer {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}

	_, private, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	hostKey, err := ssh.NewSignerFromKey(private)
	require.NoError(t, err)

	root := t.TempDir()
	bin := filepath.Join(root, "bin")
	require.NoError(t, os.MkdirAll(bin, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(bin, "docker"), []byte(fakeDocker), 0o755)) //nolint:gosec // Test script.

	s := &sshServer{
		hostKey:   hostKey,
		remoteDir: filepath.Join(root, "deploy"),
		dockerLog: filepath.Join(root, "docker.log"),
	}

	s.env = append(os.Environ(),
		"PATH="+bin+string(os.PathListSeparator)+os.Getenv("PATH"),
		"DOCKER_LOG="+s.dockerLog,
	)

	serverConfig := &ssh.ServerConfig{
		PasswordCallback: func(meta ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if meta.User() == testUser && string(password) == testPassword {
				return &ssh.Permissions{}, nil
			}

			return nil, errors.New("access denied")
		},
	}
	serverConfig.AddHostKey(hostKey)

	for _, opt := range opts {
		opt(s, serverConfig)
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s.listener = listener
	s.addr = listener.Addr().String()

	s.wg.Add(1)

	go s.serve(serverConfig)

	t.Cleanup(func() {
		_ = listener.Close()
		s.wg.Wait()
	})

	return s
}

// server returns a config entry pointing at this server with password authentication.
func (s *sshServer) server(t *testing.T) *config.Server {
	t.Helper()

	host, portText, err := net.SplitHostPort(s.addr)
	require.NoError(t, err)

	port, err := strconv.Atoi(portText)
	require.NoError(t, err)

	return &config.Server{
		Host:      host,
		Port:      port,
		Username:  testUser,
		Password:  testPassword,
		RemoteDir: s.remoteDir,
	}
}

// dockerCalls returns the logged fake engine invocations.
func (s *sshServer) dockerCalls(t *testing.T) string {
	t.Helper()

	data, err := os.ReadFile(s.dockerLog)
	if errors.Is(err, os.ErrNotExist) {
		return ""
	}

	require.NoError(t, err)

	return string(data)
}

func (s *sshServer) serve(cfg *ssh.ServerConfig) {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}

		go s.handleConn(conn, cfg)
	}
}

func (s *sshServer) handleConn(conn net.Conn, cfg *ssh.ServerConfig) {
	serverConn, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		_ = conn.Close()

		return
	}

	defer func() {
		_ = serverConn.Close()
	}()

	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			_ = newChannel.Reject(ssh.UnknownChannelType, "only sessions are supported")

			continue
		}

		channel, requests, err := newChannel.Accept()
		if err != nil {
			continue
		}

		go s.handleSession(channel, requests)
	}
}

func (s *sshServer) handleSession(channel ssh.Channel, requests <-chan *ssh.Request) {
	defer func() {
		_ = channel.Close()
	}()

	for req := range requests {
		if req.Type != "exec" {
			if req.WantReply {
				_ = req.Reply(false, nil)
			}

			continue
		}

		var payload struct{ Command string }
		if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
			_ = req.Reply(false, nil)

			continue
		}

		_ = req.Reply(true, nil)

		status := s.exec(channel, payload.Command)

		_, _ = channel.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{uint32(status)}))

		return
	}
}

func (s *sshServer) exec(channel ssh.Channel, command string) int {
	cmd := exec.Command("sh", "-c", command) //nolint:gosec // Test server runs what the client sends.
	cmd.Env = s.env
	cmd.Stdin = channel
	cmd.Stdout = channel
	cmd.Stderr = channel.Stderr()
	cmd.WaitDelay = time.Second

	err := cmd.Run()
	if err == nil {
		return 0
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
		return exitErr.ExitCode()
	}

	_, _ = io.WriteString(channel.Stderr(), err.Error())

	return 255
}
