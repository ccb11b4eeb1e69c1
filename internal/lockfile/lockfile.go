package lockfile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
)

// Name is the lock file kept inside every run folder.
const Name = ".runpilot.lock"

// ErrBusy reports that another live process holds the run-folder lock.
// Callers treat this as "someone else is already working here" and skip.
var ErrBusy = errors.New("run folder locked by another process")

// Handle represents a successfully acquired run-folder lock. The advisory
// lock lives for the process lifetime at most; a crashed holder leaves the
// file behind but not the lock.
type Handle struct {
	lock *flock.Flock
	path string
}

// Acquire takes the advisory lock for dir without blocking. The lock file
// is opened without truncation, locked, and only then rewritten with the
// holder's pid. ErrBusy means another holder is live; any other error means
// the lock file itself is unusable and the invocation cannot proceed.
func Acquire(dir string) (*Handle, error) {
	path := filepath.Join(dir, Name)
	lk := flock.New(path)
	ok, err := lk.TryLock()
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", path, err)
	}
	if !ok {
		return nil, ErrBusy
	}
	// The pid is informational for operators inspecting a folder; the flock
	// itself carries the mutual exclusion.
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		_ = lk.Unlock()
		return nil, fmt.Errorf("record lock owner: %w", err)
	}
	return &Handle{lock: lk, path: path}, nil
}

// Path returns the lock file location.
func (h *Handle) Path() string {
	if h == nil {
		return ""
	}
	return h.path
}

// Release removes the lock file before dropping the flock, so a concurrent
// opener observes a missing file rather than a stale owner between the two
// steps. Dropping the flock also closes the descriptor.
func (h *Handle) Release() error {
	if h == nil || h.lock == nil {
		return nil
	}
	if err := os.Remove(h.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		_ = h.lock.Unlock()
		h.lock = nil
		return fmt.Errorf("remove lock file: %w", err)
	}
	err := h.lock.Unlock()
	h.lock = nil
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// Probe reports whether dir is currently locked by a live holder. A lock
// file left behind by a crashed process does not count as held. Probe never
// creates or removes the lock file.
func Probe(dir string) (bool, error) {
	path := filepath.Join(dir, Name)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("inspect lock file: %w", err)
	}
	lk := flock.New(path)
	ok, err := lk.TryLock()
	if err != nil {
		return false, fmt.Errorf("probe lock file %s: %w", path, err)
	}
	if !ok {
		return true, nil
	}
	return false, lk.Unlock()
}

// Owner returns the pid recorded in the lock file, or 0 when the file is
// absent or holds no parseable pid.
func Owner(dir string) int {
	data, err := os.ReadFile(filepath.Join(dir, Name))
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}
