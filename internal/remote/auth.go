package remote

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/oshokin/docker-deploy/internal/config"
)

var (
	errNoCredential       = errors.New("no password or private key configured")
	errPassphraseRequired = errors.New("private key is encrypted, passphrase required")
)

// authMethods builds the SSH auth methods from whichever credential is configured.
func authMethods(server *config.Server) ([]ssh.AuthMethod, error) {
	switch {
	case server.Password != "":
		password := server.Password

		// Some servers only offer keyboard-interactive for password logins.
		challenge := func(_, _ string, questions []string, _ []bool) ([]string, error) {
			answers := make([]string, len(questions))
			for i := range answers {
				answers[i] = password
			}

			return answers, nil
		}

		return []ssh.AuthMethod{
			ssh.Password(password),
			ssh.KeyboardInteractive(challenge),
		}, nil
	case server.PrivateKey != "":
		signer, err := loadSigner(server.PrivateKey, server.Passphrase)
		if err != nil {
			return nil, err
		}

		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	default:
		return nil, errNoCredential
	}
}

func loadSigner(keyPath, passphrase string) (ssh.Signer, error) {
	path, err := ExpandHome(keyPath)
	if err != nil {
		return nil, err
	}

	pemBytes, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}

	if passphrase != "" {
		signer, err := ssh.ParsePrivateKeyWithPassphrase(pemBytes, []byte(passphrase))
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}

		return signer, nil
	}

	signer, err := ssh.ParsePrivateKey(pemBytes)
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			return nil, errPassphraseRequired
		}

		return nil, fmt.Errorf("parse private key: %w", err)
	}

	return signer, nil
}

// hostKeyPolicy verifies against known_hosts when configured.
func hostKeyPolicy(server *config.Server) (ssh.HostKeyCallback, error) {
	if server.KnownHosts == "" {
		//nolint:gosec // Host keys are only checked when known_hosts is configured.
		return ssh.InsecureIgnoreHostKey(), nil
	}

	path, err := ExpandHome(server.KnownHosts)
	if err != nil {
		return nil, err
	}

	callback, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("load known_hosts: %w", err)
	}

	return callback, nil
}

// ExpandHome replaces a leading "~/" with the current user's home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}

	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
