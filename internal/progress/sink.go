package progress

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oshokin/docker-deploy/internal/logger"
)

// Callback receives every formatted line synchronously.
type Callback func(line string)

// TimeLayout is the timestamp prefix of every line.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

const (
	logDirPermissions  = 0o755
	logFilePermissions = 0o644
)

// Sink serializes progress lines to a writer and a callback.
type Sink struct {
	mu       sync.Mutex
	w        io.Writer
	closer   io.Closer
	callback Callback
	now      func() time.Time
	ctx      context.Context //nolint:containedctx // Only carries the console logger.
}

// Option configures a Sink.
type Option func(*Sink)

// WithClock replaces the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Sink) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger mirrors every line to the context logger at debug level.
func WithLogger(ctx context.Context) Option {
	return func(s *Sink) {
		s.ctx = ctx
	}
}

// New returns a sink writing to w, which may be nil.
func New(w io.Writer, callback Callback, opts ...Option) *Sink {
	s := &Sink{
		w:        w,
		callback: callback,
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Open returns a sink appending to filename inside dir. An empty dir disables the file.
func Open(dir, filename string, callback Callback, opts ...Option) (*Sink, error) {
	if dir == "" {
		return New(nil, callback, opts...), nil
	}

	if err := os.MkdirAll(dir, logDirPermissions); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	path := filepath.Join(dir, filename)

	//nolint:gosec // Path comes from operator configuration.
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermissions)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	s := New(file, callback, opts...)
	s.closer = file

	return s, nil
}

// Printf formats and emits one line.
func (s *Sink) Printf(format string, args ...any) {
	s.emit("", fmt.Sprintf(format, args...))
}

// Warnf emits one line marked as a warning.
func (s *Sink) Warnf(format string, args ...any) {
	s.emit("", "WARNING: "+fmt.Sprintf(format, args...))
}

// Scope returns a view that prefixes every line with the given labels.
func (s *Sink) Scope(labels ...string) *Scope {
	return &Scope{
		sink:   s,
		prefix: "[" + strings.Join(labels, " ") + "] ",
	}
}

// Close closes the underlying log file. It is safe to call more than once.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closer == nil {
		return nil
	}

	err := s.closer.Close()
	s.closer = nil
	s.w = nil

	if err != nil && !errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("close log file: %w", err)
	}

	return nil
}

func (s *Sink) emit(prefix, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Multi-line messages (remote stderr) stay one record per line.
	for _, text := range strings.Split(strings.TrimRight(message, "\n"), "\n") {
		line := s.now().Format(TimeLayout) + " " + prefix + strings.TrimRight(text, "\r")

		if s.w != nil {
			// A failing log file must not fail the deployment.
			_, _ = io.WriteString(s.w, line+"\n")
		}

		if s.callback != nil {
			s.callback(line)
		}

		if s.ctx != nil {
			logger.Debug(s.ctx, prefix+text)
		}
	}
}

// Scope is a prefixed writer onto a Sink.
type Scope struct {
	sink   *Sink
	prefix string
}

// Printf formats and emits one prefixed line.
func (s *Scope) Printf(format string, args ...any) {
	s.sink.emit(s.prefix, fmt.Sprintf(format, args...))
}

// Warnf emits one prefixed warning line.
func (s *Scope) Warnf(format string, args ...any) {
	s.sink.emit(s.prefix, "WARNING: "+fmt.Sprintf(format, args...))
}
