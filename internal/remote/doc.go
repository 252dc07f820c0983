// Package remote implements the SSH session used to drive one target server.
//
// A Client owns exactly one SSH connection. Run executes a shell command and
// returns its exit status and output as data: a non-zero exit is not an error,
// callers decide what it means. Upload streams a local file into a remote path
// over the same connection. Close is idempotent.
package remote
