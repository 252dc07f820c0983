// Package packager bundles the build output and the container descriptor into
// the single archive shipped to every server.
//
// The archive is a maximally compressed tar.gz holding the build output under
// a fixed "dist/" root and the descriptor as "Dockerfile" at the top level.
// Its SHA-512 checksum is computed while writing so the report can record it.
package packager
