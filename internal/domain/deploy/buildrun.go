package deploy

import (
	"fmt"
	"path"
	"sync/atomic"
	"time"
)

// lastBuildID is the most recently issued build ID in this process.
//
//nolint:gochecknoglobals // Process-wide generator state.
var lastBuildID atomic.Int64

// NewBuildID returns a millisecond timestamp that is strictly greater than any
// ID previously returned by this process, even if the wall clock steps back.
func NewBuildID(now time.Time) int64 {
	candidate := now.UnixMilli()

	for {
		last := lastBuildID.Load()

		next := candidate
		if next <= last {
			next = last + 1
		}

		if lastBuildID.CompareAndSwap(last, next) {
			return next
		}
	}
}

// BuildRun is the identity of one deployment invocation.
type BuildRun struct {
	// BuildID namespaces the local archive and the remote working directory.
	BuildID int64
	// ArchivePath is the local archive produced for this run.
	ArchivePath string
	// StartedAt is when the run began.
	StartedAt time.Time
}

// NewBuildRun starts a run at the given moment.
func NewBuildRun(now time.Time) *BuildRun {
	return &BuildRun{
		BuildID:   NewBuildID(now),
		StartedAt: now,
	}
}

// ArchiveName is the archive file name keyed by the build ID.
func (r *BuildRun) ArchiveName() string {
	return ArchiveName(r.BuildID)
}

// RemoteBuildDir returns the per-run directory under a server's deploy root.
func (r *BuildRun) RemoteBuildDir(remoteDir string) string {
	return path.Join(remoteDir, fmt.Sprint(r.BuildID))
}

// ArchiveName is the archive file name for a build ID.
func ArchiveName(buildID int64) string {
	return fmt.Sprintf("docker-deploy-%d.tar.gz", buildID)
}
