package delivery

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"runpilot/internal/runfolder"
	"runpilot/internal/runlog"
	"runpilot/internal/runner"
)

func newTestRecorder() *runlog.Recorder {
	return runlog.New(runlog.WithConsole(&bytes.Buffer{}))
}

func mkProject(t *testing.T, runDir, owner string) runfolder.Project {
	t.Helper()
	path := filepath.Join(runDir, runfolder.ProjectPrefix+owner)
	if err := os.MkdirAll(filepath.Join(path, "reports"), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(path, "summary.txt"), []byte("results"), 0o640); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(path, "reports", "index.html"), []byte("<html>"), 0o644); err != nil {
		t.Fatal(err)
	}
	return runfolder.Project{
		Name:  runfolder.ProjectPrefix + owner,
		Owner: owner,
		Path:  path,
	}
}

func TestResolveOwnerPrefersAlias(t *testing.T) {
	storage := t.TempDir()
	legacy := t.TempDir()
	if err := os.MkdirAll(filepath.Join(storage, "jdoe"), 0o755); err != nil {
		t.Fatal(err)
	}

	c := New(storage, map[string]string{"jdoe": legacy}, newTestRecorder())
	dest, err := c.ResolveOwner("jdoe")
	if err != nil {
		t.Fatal(err)
	}
	if dest != legacy {
		t.Fatalf("alias should win: got %q, want %q", dest, legacy)
	}
}

func TestResolveOwnerFallsBackToStorageRoot(t *testing.T) {
	storage := t.TempDir()
	account := filepath.Join(storage, "asmith")
	if err := os.MkdirAll(account, 0o755); err != nil {
		t.Fatal(err)
	}

	c := New(storage, nil, newTestRecorder())
	dest, err := c.ResolveOwner("asmith")
	if err != nil {
		t.Fatal(err)
	}
	if dest != account {
		t.Fatalf("got %q, want %q", dest, account)
	}
}

func TestResolveOwnerUnknownAccount(t *testing.T) {
	c := New(t.TempDir(), nil, newTestRecorder())
	_, err := c.ResolveOwner("ghost")
	if !errors.Is(err, ErrNoDestination) {
		t.Fatalf("got %v, want ErrNoDestination", err)
	}
}

func TestDeliverCopiesTreeWithModes(t *testing.T) {
	runDir := t.TempDir()
	storage := t.TempDir()
	if err := os.MkdirAll(filepath.Join(storage, "jdoe"), 0o755); err != nil {
		t.Fatal(err)
	}
	project := mkProject(t, runDir, "jdoe")

	c := New(storage, nil, newTestRecorder())
	dest, err := c.Deliver(context.Background(), project, "run_0042")
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(dest) != "run_0042" {
		t.Fatalf("destination name: %q", dest)
	}

	data, err := os.ReadFile(filepath.Join(dest, "summary.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "results" {
		t.Fatalf("content mismatch: %q", data)
	}
	info, err := os.Stat(filepath.Join(dest, "summary.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o640 {
		t.Fatalf("file mode: got %o, want 640", info.Mode().Perm())
	}
	info, err = os.Stat(filepath.Join(dest, "reports"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o750 {
		t.Fatalf("dir mode: got %o, want 750", info.Mode().Perm())
	}
	if _, err := os.Stat(filepath.Join(dest, "reports", "index.html")); err != nil {
		t.Fatalf("nested file missing: %v", err)
	}
}

func TestDeliverTwiceNeverCollides(t *testing.T) {
	runDir := t.TempDir()
	storage := t.TempDir()
	if err := os.MkdirAll(filepath.Join(storage, "jdoe"), 0o755); err != nil {
		t.Fatal(err)
	}
	project := mkProject(t, runDir, "jdoe")

	c := New(storage, nil, newTestRecorder())
	first, err := c.Deliver(context.Background(), project, "run_0042")
	if err != nil {
		t.Fatal(err)
	}
	second, err := c.Deliver(context.Background(), project, "run_0042")
	if err != nil {
		t.Fatal(err)
	}
	if first == second {
		t.Fatal("second delivery must pick a distinct destination")
	}
	if filepath.Base(second) != "run_0042_1" {
		t.Fatalf("suffix naming: got %q", filepath.Base(second))
	}
	for _, dest := range []string{first, second} {
		data, err := os.ReadFile(filepath.Join(dest, "summary.txt"))
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != "results" {
			t.Fatalf("content mismatch in %s", dest)
		}
	}
}

func TestDeliverSkipsSymlinks(t *testing.T) {
	runDir := t.TempDir()
	storage := t.TempDir()
	if err := os.MkdirAll(filepath.Join(storage, "jdoe"), 0o755); err != nil {
		t.Fatal(err)
	}
	project := mkProject(t, runDir, "jdoe")
	if err := os.Symlink("/etc/passwd", filepath.Join(project.Path, "link")); err != nil {
		t.Fatal(err)
	}

	var console bytes.Buffer
	rec := runlog.New(runlog.WithConsole(&console))
	c := New(storage, nil, rec)
	dest, err := c.Deliver(context.Background(), project, "run_0042")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Lstat(filepath.Join(dest, "link")); !os.IsNotExist(err) {
		t.Fatal("symlink must not be copied")
	}
	if !strings.Contains(console.String(), "skipping") {
		t.Fatal("skipped entries must be logged")
	}
}

type scriptedExecutor struct {
	codes []int
	calls int
	argv  [][]string
}

func (s *scriptedExecutor) Run(_ context.Context, _ string, argv []string, output io.Writer) (int, error) {
	code := s.codes[s.calls]
	s.calls++
	s.argv = append(s.argv, argv)
	return code, nil
}

func TestSyncRetriesTransientExitThenSucceeds(t *testing.T) {
	runDir := t.TempDir()
	storage := t.TempDir()
	if err := os.MkdirAll(filepath.Join(storage, "jdoe"), 0o755); err != nil {
		t.Fatal(err)
	}
	project := mkProject(t, runDir, "jdoe")

	exec := &scriptedExecutor{codes: []int{75, 75, 0}}
	c := New(storage, nil, newTestRecorder(),
		WithSync([]string{"drivesync", "push"}, 75),
		WithRunner(runner.New(runner.WithExecutor(exec))))

	dest, err := c.Deliver(context.Background(), project, "run_0042")
	if err != nil {
		t.Fatal(err)
	}
	if exec.calls != 3 {
		t.Fatalf("sync attempts: got %d, want 3", exec.calls)
	}
	last := exec.argv[len(exec.argv)-1]
	if last[len(last)-1] != dest {
		t.Fatalf("sync must receive the destination, got %v", last)
	}
}

func TestSyncRetryCeiling(t *testing.T) {
	runDir := t.TempDir()
	storage := t.TempDir()
	if err := os.MkdirAll(filepath.Join(storage, "jdoe"), 0o755); err != nil {
		t.Fatal(err)
	}
	project := mkProject(t, runDir, "jdoe")

	exec := &scriptedExecutor{codes: []int{75, 75, 75, 75, 75}}
	c := New(storage, nil, newTestRecorder(),
		WithSync([]string{"drivesync", "push"}, 75),
		WithRunner(runner.New(runner.WithExecutor(exec))))

	_, err := c.Deliver(context.Background(), project, "run_0042")
	if err == nil || !strings.Contains(err.Error(), "still failing") {
		t.Fatalf("expected retry ceiling error, got %v", err)
	}
	if exec.calls != maxSyncAttempts {
		t.Fatalf("sync attempts: got %d, want %d", exec.calls, maxSyncAttempts)
	}
}

func TestSyncHardFailureNotRetried(t *testing.T) {
	runDir := t.TempDir()
	storage := t.TempDir()
	if err := os.MkdirAll(filepath.Join(storage, "jdoe"), 0o755); err != nil {
		t.Fatal(err)
	}
	project := mkProject(t, runDir, "jdoe")

	exec := &scriptedExecutor{codes: []int{1}}
	c := New(storage, nil, newTestRecorder(),
		WithSync([]string{"drivesync", "push"}, 75),
		WithRunner(runner.New(runner.WithExecutor(exec))))

	_, err := c.Deliver(context.Background(), project, "run_0042")
	if err == nil || !strings.Contains(err.Error(), "exited with code 1") {
		t.Fatalf("expected hard failure, got %v", err)
	}
	if exec.calls != 1 {
		t.Fatalf("hard failures must not retry, got %d calls", exec.calls)
	}
}
