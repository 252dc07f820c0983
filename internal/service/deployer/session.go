package deployer

import (
	"context"

	"github.com/oshokin/docker-deploy/internal/config"
	"github.com/oshokin/docker-deploy/internal/remote"
)

// Session is a connection to one server.
type Session interface {
	// Run executes a shell command. A non-zero exit is reported in the result, not as an error.
	Run(ctx context.Context, command string) (remote.Result, error)
	// Upload copies a local file to a remote path whose directory already exists.
	Upload(ctx context.Context, localPath, remotePath string) error
	// Close releases the connection. It must be idempotent.
	Close() error
}

// Dialer opens a Session to server.
type Dialer func(ctx context.Context, server *config.Server) (Session, error)

// SSHDialer returns a Dialer backed by remote.Dial.
func SSHDialer(opts ...remote.Option) Dialer {
	return func(ctx context.Context, server *config.Server) (Session, error) {
		client, err := remote.Dial(ctx, server, opts...)
		if err != nil {
			return nil, err
		}

		return client, nil
	}
}
