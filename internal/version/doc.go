// Package version exposes build metadata for docker-deploy.
//
// Version, Commit and BuildTime are injected at build time via ldflags.
// SSHBanner identifies the release to the servers it connects to; Full backs
// the `version` subcommand.
package version
