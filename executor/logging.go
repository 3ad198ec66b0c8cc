package executor

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/gofrs/flock"
	"github.com/spf13/afero"

	"github.com/c360/geopatch/errors"
)

// executionLogger builds the slog.Logger for one execution. Without
// WithLogs it logs nowhere. With WithLogs each record goes to the
// execution's own file; in isolated mode writes additionally hold a
// cross-process advisory lock so several executor processes can share
// a log folder.
func (e *Executor) executionLogger(name string, locked bool) (*slog.Logger, func(), error) {
	if e.logFs == nil {
		return slog.New(discardHandler{}), func() {}, nil
	}

	path := e.logPath(name)
	if err := e.logFs.MkdirAll(e.logFolder, 0o755); err != nil {
		return nil, nil, errors.IO(err, "creating log folder %q", e.logFolder)
	}
	file, err := e.logFs.Create(path)
	if err != nil {
		return nil, nil, errors.IO(err, "creating log file %q", path)
	}

	var sink io.Writer = file
	closeSink := func() { file.Close() }
	if locked {
		lw := newLockingWriter(e.logFs, path, file)
		sink = lw
		closeSink = func() {
			lw.Close()
			file.Close()
		}
	}

	handler := slog.Handler(slog.NewTextHandler(sink, &slog.HandlerOptions{
		Level:       e.logLevel,
		ReplaceAttr: e.filter,
	}))
	return slog.New(handler), closeSink, nil
}

// lockingWriter serializes writes to a shared log sink. On a real OS
// filesystem it takes a flock on a sidecar .lock file per write, so
// independent processes appending to the same folder cannot interleave
// records; on in-memory filesystems it degrades to a process mutex.
type lockingWriter struct {
	mu   sync.Mutex
	w    io.Writer
	lock *flock.Flock
}

func newLockingWriter(fs afero.Fs, path string, w io.Writer) *lockingWriter {
	lw := &lockingWriter{w: w}
	if _, ok := fs.(*afero.OsFs); ok {
		lw.lock = flock.New(path + ".lock")
	}
	return lw
}

func (lw *lockingWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if lw.lock != nil {
		if err := lw.lock.Lock(); err != nil {
			return 0, err
		}
		defer lw.lock.Unlock()
	}
	return lw.w.Write(p)
}

func (lw *lockingWriter) Close() error {
	if lw.lock != nil {
		return lw.lock.Close()
	}
	return nil
}

// discardHandler drops every record
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (discardHandler) WithAttrs([]slog.Attr) slog.Handler        { return discardHandler{} }
func (discardHandler) WithGroup(string) slog.Handler             { return discardHandler{} }
