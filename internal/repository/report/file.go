package report

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/docker-deploy/internal/domain/deploy"
)

// Repository persists finished deployment reports.
type Repository interface {
	Save(ctx context.Context, report *deploy.Report) error
}

// FileRepository writes a report as YAML to a fixed path.
type FileRepository struct {
	// path is the filesystem location of the report.
	path string
	// mu serializes writers.
	mu sync.Mutex
}

const (
	reportPermissions    = 0o644
	reportDirPermissions = 0o755
)

var errNilReport = errors.New("report is nil")

// NewFileRepository creates a repository writing to path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path: filepath.Clean(path),
	}
}

// Path returns the report location.
func (r *FileRepository) Path() string {
	return r.path
}

// Save writes the report, replacing any previous file atomically.
func (r *FileRepository) Save(_ context.Context, report *deploy.Report) error {
	if report == nil {
		return errNilReport
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := yaml.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	dir := filepath.Dir(r.path)
	if err = os.MkdirAll(dir, reportDirPermissions); err != nil {
		return fmt.Errorf("create report directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".report-*.yaml")
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}

	defer func() {
		_ = os.Remove(tmp.Name())
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()

		return fmt.Errorf("write report: %w", err)
	}

	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close report: %w", err)
	}

	if err = os.Chmod(tmp.Name(), reportPermissions); err != nil {
		return fmt.Errorf("chmod report: %w", err)
	}

	if err = os.Rename(tmp.Name(), r.path); err != nil {
		return fmt.Errorf("rename report: %w", err)
	}

	return nil
}
