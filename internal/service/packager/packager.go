package packager

import (
	"archive/tar"
	"context"
	"crypto"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/klauspost/compress/gzip"

	"github.com/oshokin/docker-deploy/internal/domain/deploy"
	"github.com/oshokin/docker-deploy/internal/logger"

	// Ensure SHA512 available for checksum calculation.
	_ "crypto/sha512"
)

const (
	// RootName is the archive directory holding the build output.
	RootName = "dist"

	// DescriptorName is the descriptor file name at the archive root.
	DescriptorName = "Dockerfile"

	// ChecksumFunction is used to fingerprint archives.
	ChecksumFunction crypto.Hash = crypto.SHA512

	archivePermissions = 0o600
)

var (
	errNotDirectory = errors.New("not a directory")
	errNotFile      = errors.New("not a regular file")
	errNoChecksum   = errors.New("hash function unavailable")
)

// Options are the packager inputs.
type Options struct {
	// DistDir is the build output directory.
	DistDir string
	// Descriptor is the container build descriptor file.
	Descriptor string
	// OutputDir is where the archive is written; defaults to the OS temp directory.
	OutputDir string
}

// Archive describes a produced archive. The caller owns the file and must remove it.
type Archive struct {
	// Path is the archive location on local disk.
	Path string
	// Size is the archive size in bytes.
	Size int64
	// Checksum is the base64 SHA-512 digest of the archive.
	Checksum string
}

// Packager produces deployment archives.
type Packager struct {
	opts Options
}

// New returns a packager for the given inputs.
func New(opts *Options) *Packager {
	p := &Packager{opts: *opts}

	if p.opts.OutputDir == "" {
		p.opts.OutputDir = os.TempDir()
	}

	return p
}

// Path returns where the archive of buildID is written.
func (p *Packager) Path(buildID int64) string {
	return filepath.Join(p.opts.OutputDir, deploy.ArchiveName(buildID))
}

// Package writes the archive for buildID.
// Both inputs are checked before any file is created.
func (p *Packager) Package(ctx context.Context, buildID int64) (*Archive, error) {
	if err := p.checkInputs(); err != nil {
		return nil, err
	}

	if !ChecksumFunction.Available() {
		return nil, errNoChecksum
	}

	archivePath := p.Path(buildID)

	logger.InfoKV(ctx, "Packaging build output",
		"dist", p.opts.DistDir, "descriptor", p.opts.Descriptor, "archive", archivePath)

	//nolint:gosec // Archive path is derived from the configured work directory.
	file, err := os.OpenFile(archivePath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, archivePermissions)
	if err != nil {
		return nil, fmt.Errorf("create archive: %w", err)
	}

	hasher := ChecksumFunction.New()

	size, err := p.write(ctx, io.MultiWriter(file, hasher))
	if closeErr := file.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("close archive: %w", closeErr)
	}

	if err != nil {
		// Best-effort cleanup of a partial archive.
		_ = os.Remove(archivePath)

		return nil, err
	}

	archive := &Archive{
		Path:     archivePath,
		Size:     size,
		Checksum: base64.StdEncoding.EncodeToString(hasher.Sum(nil)),
	}

	logger.InfoKV(ctx, "Archive created", "path", archive.Path, "size", archive.Size)

	return archive, nil
}

// checkInputs fails with ErrMissingArtifact when an input is absent.
func (p *Packager) checkInputs() error {
	info, err := os.Stat(p.opts.DistDir)
	if err != nil {
		return fmt.Errorf("%w: build output %s: %w", deploy.ErrMissingArtifact, p.opts.DistDir, err)
	}

	if !info.IsDir() {
		return fmt.Errorf("%w: build output %s: %w", deploy.ErrMissingArtifact, p.opts.DistDir, errNotDirectory)
	}

	info, err = os.Stat(p.opts.Descriptor)
	if err != nil {
		return fmt.Errorf("%w: descriptor %s: %w", deploy.ErrMissingArtifact, p.opts.Descriptor, err)
	}

	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: descriptor %s: %w", deploy.ErrMissingArtifact, p.opts.Descriptor, errNotFile)
	}

	return nil
}

// write streams the tar.gz into w and returns the compressed size.
func (p *Packager) write(ctx context.Context, w io.Writer) (int64, error) {
	counter := &countingWriter{w: w}

	gz, err := gzip.NewWriterLevel(counter, gzip.BestCompression)
	if err != nil {
		return 0, fmt.Errorf("create gzip writer: %w", err)
	}

	tw := tar.NewWriter(gz)

	if err = p.addTree(ctx, tw); err != nil {
		return 0, err
	}

	if err = addFile(tw, p.opts.Descriptor, DescriptorName); err != nil {
		return 0, err
	}

	if err = tw.Close(); err != nil {
		return 0, fmt.Errorf("finish tar: %w", err)
	}

	if err = gz.Close(); err != nil {
		return 0, fmt.Errorf("finish gzip: %w", err)
	}

	return counter.n, nil
}

// addTree adds the build output directory under RootName.
func (p *Packager) addTree(ctx context.Context, tw *tar.Writer) error {
	return filepath.WalkDir(p.opts.DistDir, func(current string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return fmt.Errorf("walk %s: %w", current, walkErr)
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(p.opts.DistDir, current)
		if err != nil {
			return err
		}

		name := path.Join(RootName, filepath.ToSlash(rel))

		info, err := entry.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", current, err)
		}

		switch {
		case info.IsDir():
			return writeHeader(tw, info, name+"/", "")
		case info.Mode()&fs.ModeSymlink != 0:
			target, err := os.Readlink(current)
			if err != nil {
				return fmt.Errorf("read link %s: %w", current, err)
			}

			return writeHeader(tw, info, name, target)
		case info.Mode().IsRegular():
			return addFile(tw, current, name)
		default:
			// Sockets, devices and pipes have no place in a web bundle.
			return nil
		}
	})
}

func writeHeader(tw *tar.Writer, info fs.FileInfo, name, link string) error {
	header, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return fmt.Errorf("tar header %s: %w", name, err)
	}

	header.Name = name
	header.Uid, header.Gid = 0, 0
	header.Uname, header.Gname = "", ""

	if err = tw.WriteHeader(header); err != nil {
		return fmt.Errorf("write header %s: %w", name, err)
	}

	return nil
}

func addFile(tw *tar.Writer, source, name string) error {
	file, err := os.Open(filepath.Clean(source))
	if err != nil {
		return fmt.Errorf("open %s: %w", source, err)
	}

	defer func() {
		_ = file.Close()
	}()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", source, err)
	}

	if err = writeHeader(tw, info, name, ""); err != nil {
		return err
	}

	if _, err = io.Copy(tw, file); err != nil {
		return fmt.Errorf("archive %s: %w", source, err)
	}

	return nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)

	return n, err
}
