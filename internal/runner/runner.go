// Package runner spawns external commands with their combined output
// streamed into the workflow log as it is produced. Long-running analysis
// tools are the normal case, so nothing here buffers until exit.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
)

// ErrSpawn tags failures to start a command at all (missing executable,
// permission denied). Distinct from a non-zero exit, which is a normal
// outcome the workflow branches on.
var ErrSpawn = errors.New("spawn failure")

// Executor abstracts command execution for testability.
type Executor interface {
	Run(ctx context.Context, dir string, argv []string, output io.Writer) (int, error)
}

// Runner executes external commands against a log sink.
type Runner struct {
	exec Executor
}

// Option configures the runner.
type Option func(*Runner)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(r *Runner) {
		if exec != nil {
			r.exec = exec
		}
	}
}

// New constructs a Runner backed by os/exec.
func New(opts ...Option) *Runner {
	r := &Runner{exec: commandExecutor{}}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes argv with dir as its working directory, streaming combined
// stdout+stderr into output. The child's exit code is returned; a non-zero
// code is not an error. Errors wrap ErrSpawn when the command never started.
func (r *Runner) Run(ctx context.Context, dir string, argv []string, output io.Writer) (int, error) {
	if len(argv) == 0 {
		return 0, fmt.Errorf("%w: empty command line", ErrSpawn)
	}
	return r.exec.Run(ctx, dir, argv, output)
}

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, dir string, argv []string, output io.Writer) (int, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...) //nolint:gosec
	cmd.Dir = dir
	cmd.Stdin = nil // the analysis tool never reads input

	// One pipe carries stdout and stderr so the log interleaves them the
	// way an operator at a terminal would see them.
	pr, pw, err := os.Pipe()
	if err != nil {
		return 0, fmt.Errorf("create output pipe: %w", err)
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		_ = pw.Close()
		_ = pr.Close()
		return 0, fmt.Errorf("%w: start %s: %v", ErrSpawn, argv[0], err)
	}
	_ = pw.Close() // parent keeps only the read end

	// Forward chunks as they arrive; the process may run for hours and the
	// log is tailed live.
	buf := make([]byte, 4096)
	var copyErr error
	for {
		n, err := pr.Read(buf)
		if n > 0 && output != nil {
			if _, werr := output.Write(buf[:n]); werr != nil && copyErr == nil {
				copyErr = werr
			}
		}
		if err != nil {
			if err != io.EOF && copyErr == nil {
				copyErr = err
			}
			break
		}
	}
	_ = pr.Close()

	err = cmd.Wait()
	var exit *exec.ExitError
	if errors.As(err, &exit) {
		return exit.ExitCode(), nil
	}
	if err != nil {
		return 0, fmt.Errorf("wait for %s: %w", argv[0], err)
	}
	if copyErr != nil {
		return 0, fmt.Errorf("stream %s output: %w", argv[0], copyErr)
	}
	return 0, nil
}
