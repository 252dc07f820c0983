package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/oshokin/docker-deploy/internal/config"
	"github.com/oshokin/docker-deploy/internal/domain/deploy"
	"github.com/oshokin/docker-deploy/internal/logger"
	"github.com/oshokin/docker-deploy/internal/version"
)

// DefaultConnectTimeout bounds dialing and the SSH handshake.
const DefaultConnectTimeout = 30 * time.Second

var errNotConnected = errors.New("session is not connected")

// Result is the outcome of one remote command.
type Result struct {
	// ExitCode is the remote exit status.
	ExitCode int
	// Stdout is the captured standard output.
	Stdout string
	// Stderr is the captured standard error.
	Stderr string
}

// OK reports whether the command exited with status zero.
func (r Result) OK() bool {
	return r.ExitCode == 0
}

// Client is an SSH connection to one server.
type Client struct {
	// server is the target this client is bound to.
	server *config.Server
	// conn is the SSH connection, nil once closed.
	conn *ssh.Client
	// commandTimeout bounds each command; zero means no limit.
	commandTimeout time.Duration
	// mu protects conn.
	mu sync.Mutex
}

// Option configures Dial.
type Option func(*dialOptions)

type dialOptions struct {
	connectTimeout  time.Duration
	commandTimeout  time.Duration
	hostKeyCallback ssh.HostKeyCallback
}

// WithConnectTimeout overrides DefaultConnectTimeout.
func WithConnectTimeout(timeout time.Duration) Option {
	return func(o *dialOptions) {
		if timeout > 0 {
			o.connectTimeout = timeout
		}
	}
}

// WithCommandTimeout limits every Run and Upload call.
func WithCommandTimeout(timeout time.Duration) Option {
	return func(o *dialOptions) {
		if timeout > 0 {
			o.commandTimeout = timeout
		}
	}
}

// WithHostKeyCallback replaces the host key policy derived from the server configuration.
func WithHostKeyCallback(callback ssh.HostKeyCallback) Option {
	return func(o *dialOptions) {
		o.hostKeyCallback = callback
	}
}

// Dial connects and authenticates to server. Every failure wraps deploy.ErrConnection.
func Dial(ctx context.Context, server *config.Server, opts ...Option) (*Client, error) {
	options := dialOptions{
		connectTimeout: DefaultConnectTimeout,
	}

	for _, opt := range opts {
		opt(&options)
	}

	auth, err := authMethods(server)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", deploy.ErrConnection, server.Address(), err)
	}

	hostKeyCallback := options.hostKeyCallback
	if hostKeyCallback == nil {
		hostKeyCallback, err = hostKeyPolicy(server)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", deploy.ErrConnection, server.Address(), err)
		}
	}

	clientConfig := &ssh.ClientConfig{
		User:            server.Username,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         options.connectTimeout,
		ClientVersion:   version.SSHBanner(),
	}

	address := server.Address()

	dialCtx, cancel := context.WithTimeout(ctx, options.connectTimeout)
	defer cancel()

	dialer := net.Dialer{Timeout: options.connectTimeout}

	netConn, err := dialer.DialContext(dialCtx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", deploy.ErrConnection, address, err)
	}

	// The handshake has no context support, so bound it with a deadline.
	if deadline, ok := dialCtx.Deadline(); ok {
		_ = netConn.SetDeadline(deadline)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, address, clientConfig)
	if err != nil {
		_ = netConn.Close()

		return nil, fmt.Errorf("%w: handshake with %s: %w", deploy.ErrConnection, address, err)
	}

	_ = netConn.SetDeadline(time.Time{})

	logger.DebugKV(ctx, "SSH connection established", "address", address, "user", server.Username)

	return &Client{
		server:         server,
		conn:           ssh.NewClient(sshConn, chans, reqs),
		commandTimeout: options.commandTimeout,
	}, nil
}

// Run executes command and returns its exit status and output.
// The error is reserved for transport problems; a non-zero exit is reported in Result.
func (c *Client) Run(ctx context.Context, command string) (Result, error) {
	session, err := c.newSession()
	if err != nil {
		return Result{}, err
	}

	defer func() {
		_ = session.Close()
	}()

	var stdout, stderr bytes.Buffer

	session.Stdout = &stdout
	session.Stderr = &stderr

	exitCode, err := c.wait(ctx, session, command)
	if err != nil {
		return Result{}, fmt.Errorf("run %q: %w", command, err)
	}

	return Result{
		ExitCode: exitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}, nil
}

// Upload copies localPath to remotePath. The remote directory must already exist.
// Every failure wraps deploy.ErrTransfer.
func (c *Client) Upload(ctx context.Context, localPath, remotePath string) error {
	file, err := os.Open(filepath.Clean(localPath))
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", deploy.ErrTransfer, localPath, err)
	}

	defer func() {
		_ = file.Close()
	}()

	session, err := c.newSession()
	if err != nil {
		return fmt.Errorf("%w: %w", deploy.ErrTransfer, err)
	}

	defer func() {
		_ = session.Close()
	}()

	var stderr bytes.Buffer

	session.Stdin = file
	session.Stderr = &stderr

	exitCode, err := c.wait(ctx, session, "cat > "+Quote(remotePath))
	if err != nil {
		return fmt.Errorf("%w: %s: %w", deploy.ErrTransfer, remotePath, err)
	}

	if exitCode != 0 {
		return fmt.Errorf("%w: %s: exit status %d: %s",
			deploy.ErrTransfer, remotePath, exitCode, bytes.TrimSpace(stderr.Bytes()))
	}

	return nil
}

// Close closes the connection. It is safe to call more than once and on a nil client.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}

	err := c.conn.Close()
	c.conn = nil

	if err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("close ssh connection: %w", err)
	}

	return nil
}

func (c *Client) newSession() (*ssh.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, errNotConnected
	}

	session, err := c.conn.NewSession()
	if err != nil {
		return nil, fmt.Errorf("create ssh session: %w", err)
	}

	return session, nil
}

// wait runs command on session and returns its exit status.
func (c *Client) wait(ctx context.Context, session *ssh.Session, command string) (int, error) {
	done := make(chan error, 1)

	go func() {
		done <- session.Run(command)
	}()

	var timeout <-chan time.Time

	if c.commandTimeout > 0 {
		timer := time.NewTimer(c.commandTimeout)
		defer timer.Stop()

		timeout = timer.C
	}

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)

		return 0, ctx.Err()
	case <-timeout:
		_ = session.Signal(ssh.SIGKILL)

		return 0, fmt.Errorf("%w after %v", deploy.ErrTimeout, c.commandTimeout)
	case err := <-done:
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitStatus(), nil
		}

		return 0, err
	}
}
