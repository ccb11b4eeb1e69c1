// Package runlog implements the per-run-folder workflow log: one durable
// file per invocation, any prior log rotated aside, every line mirrored to
// the console, and an in-memory buffer covering writes that happen before
// the destination path is known.
package runlog

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"runpilot/internal/fileutil"
)

// FileName is the log destination inside a run folder.
const FileName = "runpilot.log"

// Recorder is the single sink for workflow narration. Writes before Open
// accumulate in memory so early validation failures still reach the
// Notifier; after Open every write lands in the file immediately.
type Recorder struct {
	mu      sync.Mutex
	console io.Writer
	file    *os.File
	pending strings.Builder // written before the file existed
	all     strings.Builder // everything, for notification bodies
	path    string
	now     func() time.Time
}

// Option adjusts Recorder construction.
type Option func(*Recorder)

// WithConsole redirects the live mirror away from stdout (tests).
func WithConsole(w io.Writer) Option {
	return func(r *Recorder) {
		if w != nil {
			r.console = w
		}
	}
}

// WithClock overrides the trailer timestamp source (tests).
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		if now != nil {
			r.now = now
		}
	}
}

// New constructs a Recorder mirroring to stdout.
func New(opts ...Option) *Recorder {
	r := &Recorder{console: os.Stdout, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Open rotates any existing file at path aside and starts a fresh stream,
// flushing whatever was buffered before the destination was known.
func (r *Recorder) Open(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file != nil {
		return fmt.Errorf("log already open at %s", r.path)
	}
	if err := fileutil.RenameAside(path); err != nil {
		return fmt.Errorf("rotate previous log: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	if r.pending.Len() > 0 {
		if _, err := f.WriteString(r.pending.String()); err != nil {
			_ = f.Close()
			return fmt.Errorf("flush buffered log: %w", err)
		}
		r.pending.Reset()
	}
	r.file = f
	r.path = path
	return nil
}

// Printf records one line. The line reaches the console unconditionally and
// the file when one is open, synced right away so the file is complete even
// if the process is killed moments later.
func (r *Recorder) Printf(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	r.mu.Lock()
	r.write(line)
	r.mu.Unlock()
}

// Write implements io.Writer so child process output streams straight in.
func (r *Recorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	r.write(string(p))
	r.mu.Unlock()
	return len(p), nil
}

func (r *Recorder) write(text string) {
	r.all.WriteString(text)
	fmt.Fprint(r.console, text)
	if r.file == nil {
		r.pending.WriteString(text)
		return
	}
	if _, err := r.file.WriteString(text); err == nil {
		_ = r.file.Sync()
	}
}

// Contents returns everything recorded so far, whether or not a file was
// ever opened. The Notifier attaches this to failure reports.
func (r *Recorder) Contents() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.all.String()
}

// Path returns the open log file location, empty before Open.
func (r *Recorder) Path() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.path
}

// Close appends a trailer with the end time and releases the file handle.
// Safe to call when no file was ever opened.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	r.write(fmt.Sprintf("--- log closed %s ---\n", r.now().Format(time.RFC1123)))
	err := r.file.Close()
	r.file = nil
	if err != nil {
		return fmt.Errorf("close log file: %w", err)
	}
	return nil
}
