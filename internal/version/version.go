package version

import (
	"fmt"
	"strings"
)

// Name is the program name used in banners.
const Name = "docker-deploy"

var (
	// Version is the semantic version of the build. It can be overridden via ldflags.
	Version = "0.1.0"
	// Commit is the short git SHA embedded at build time (or "none").
	Commit = "none"
	// BuildTime is the UTC build timestamp embedded at build time.
	BuildTime = "unknown"
)

// Short returns only the semantic version string.
func Short() string {
	return Version
}

// Full returns a human-readable version string with commit and build time.
func Full() string {
	return fmt.Sprintf("%s version: %s, commit: %s, built at: %s", Name, Version, Commit, BuildTime)
}

// SSHBanner returns the client identification sent during the SSH handshake.
// RFC 4253 forbids spaces and minus signs in the software version.
func SSHBanner() string {
	software := strings.NewReplacer("-", "_", " ", "_").Replace(Name + "_" + Version)

	return "SSH-2.0-" + software
}
