// Package delivery copies finished per-owner analysis output into the
// owner's storage area, preserving permission bits and applying the
// destination's owning identity. Deliveries never overwrite or merge; a
// name collision picks the next numbered destination.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"runpilot/internal/fileutil"
	"runpilot/internal/runfolder"
	"runpilot/internal/runlog"
	"runpilot/internal/runner"
)

var (
	// ErrNoDestination means no storage directory could be resolved for the
	// owning account; the project needs manual delivery, which is not a
	// copy failure.
	ErrNoDestination = errors.New("no delivery destination for account")
	// ErrPartial marks a copy that stopped partway. The partial output is
	// left in place for inspection, never rolled back.
	ErrPartial = errors.New("delivery incomplete")
)

// maxSyncAttempts caps retries when the sync tool keeps reporting its
// transient exit code.
const maxSyncAttempts = 5

// maxNameAttempts bounds the search for a collision-free destination name.
const maxNameAttempts = 10000

// Copier resolves owners and performs deliveries for a single run folder.
type Copier struct {
	storageRoot   string
	aliases       map[string]string
	rec           *runlog.Recorder
	run           *runner.Runner
	syncCommand   []string
	syncRetryExit int
}

// Option configures the copier.
type Option func(*Copier)

// WithSync enables the post-copy sync command. retryExit is the exit code
// the tool uses for "transient, try again".
func WithSync(command []string, retryExit int) Option {
	return func(c *Copier) {
		c.syncCommand = command
		c.syncRetryExit = retryExit
	}
}

// WithRunner injects the process runner used for the sync command (tests).
func WithRunner(run *runner.Runner) Option {
	return func(c *Copier) {
		if run != nil {
			c.run = run
		}
	}
}

// New constructs a Copier. Aliases are consulted before storageRoot when
// resolving an account.
func New(storageRoot string, aliases map[string]string, rec *runlog.Recorder, opts ...Option) *Copier {
	c := &Copier{
		storageRoot: storageRoot,
		aliases:     aliases,
		rec:         rec,
		run:         runner.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ResolveOwner maps an account name to its destination parent directory.
// The alias table wins over the storage root; either way the directory must
// already exist. ErrNoDestination means manual delivery.
func (c *Copier) ResolveOwner(account string) (string, error) {
	if dest, ok := c.aliases[account]; ok {
		if isDir(dest) {
			return dest, nil
		}
		return "", fmt.Errorf("%w: alias target %s missing: %q", ErrNoDestination, dest, account)
	}
	if c.storageRoot != "" {
		dest := filepath.Join(c.storageRoot, account)
		if isDir(dest) {
			return dest, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrNoDestination, account)
}

// Deliver copies one project directory into its owner's storage and returns
// the destination path. The destination directory is named after the run
// folder, numbered on collision, created with the parent's permission bits,
// and owned by the parent's uid/gid throughout.
func (c *Copier) Deliver(ctx context.Context, project runfolder.Project, runName string) (string, error) {
	parent, err := c.ResolveOwner(project.Owner)
	if err != nil {
		return "", err
	}

	var parentStat unix.Stat_t
	if err := unix.Stat(parent, &parentStat); err != nil {
		return "", fmt.Errorf("stat destination parent %s: %w", parent, err)
	}
	uid := int(parentStat.Uid)
	gid := int(parentStat.Gid)
	parentInfo, err := os.Stat(parent)
	if err != nil {
		return "", fmt.Errorf("stat destination parent %s: %w", parent, err)
	}

	dest, err := createUniqueDir(parent, runName, parentInfo.Mode().Perm())
	if err != nil {
		return "", err
	}
	if err := unix.Chown(dest, uid, gid); err != nil {
		return dest, fmt.Errorf("%w: chown %s: %v", ErrPartial, dest, err)
	}

	c.rec.Printf("delivering %s to %s (uid=%d gid=%d)", project.Name, dest, uid, gid)
	if err := c.copyTree(project.Path, dest, uid, gid); err != nil {
		return dest, fmt.Errorf("%w: %v", ErrPartial, err)
	}

	if len(c.syncCommand) > 0 {
		if err := c.syncDestination(ctx, dest); err != nil {
			return dest, err
		}
	}
	return dest, nil
}

// createUniqueDir makes the first free of name, name_1, name_2, ... under
// parent. Creation is what claims the name, so two racing deliveries cannot
// pick the same one.
func createUniqueDir(parent, name string, perm os.FileMode) (string, error) {
	for i := 0; i < maxNameAttempts; i++ {
		candidate := filepath.Join(parent, name)
		if i > 0 {
			candidate = fmt.Sprintf("%s_%d", candidate, i)
		}
		err := os.Mkdir(candidate, perm)
		if err == nil {
			// umask may have stripped bits; the destination mirrors the
			// parent's mode exactly.
			if err := os.Chmod(candidate, perm); err != nil {
				return "", fmt.Errorf("chmod destination: %w", err)
			}
			return candidate, nil
		}
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		return "", fmt.Errorf("create destination under %s: %w", parent, err)
	}
	return "", fmt.Errorf("no free destination name for %s under %s", name, parent)
}

// copyTree duplicates src into dst entry by entry, directories before their
// children. Permission bits come from each source entry; ownership is the
// single resolved identity. Any failure aborts the remaining walk.
func (c *Copier) copyTree(src, dst string, uid, gid int) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return fmt.Errorf("read %s: %w", src, err)
	}
	for _, entry := range entries {
		srcPath := filepath.Join(src, entry.Name())
		dstPath := filepath.Join(dst, entry.Name())

		info, err := os.Lstat(srcPath)
		if err != nil {
			return fmt.Errorf("inspect %s: %w", srcPath, err)
		}
		switch {
		case info.IsDir():
			if err := os.Mkdir(dstPath, info.Mode().Perm()); err != nil {
				return fmt.Errorf("create %s: %w", dstPath, err)
			}
			if err := os.Chmod(dstPath, info.Mode().Perm()); err != nil {
				return fmt.Errorf("chmod %s: %w", dstPath, err)
			}
			if err := unix.Chown(dstPath, uid, gid); err != nil {
				return fmt.Errorf("chown %s: %w", dstPath, err)
			}
			if err := c.copyTree(srcPath, dstPath, uid, gid); err != nil {
				return err
			}
		case info.Mode().IsRegular():
			if err := fileutil.CopyFileMode(srcPath, dstPath, info.Mode().Perm()); err != nil {
				return fmt.Errorf("copy %s: %w", srcPath, err)
			}
			if err := os.Chmod(dstPath, info.Mode().Perm()); err != nil {
				return fmt.Errorf("chmod %s: %w", dstPath, err)
			}
			if err := unix.Chown(dstPath, uid, gid); err != nil {
				return fmt.Errorf("chown %s: %w", dstPath, err)
			}
		default:
			// Symlinks, sockets, devices: never copied into owner storage.
			c.rec.Printf("skipping %s (%s)", srcPath, info.Mode().Type())
		}
	}
	return nil
}

// syncDestination runs the configured sync tool against dest, retrying its
// transient exit code a bounded number of times. Other non-zero codes fail
// immediately.
func (c *Copier) syncDestination(ctx context.Context, dest string) error {
	argv := append(append([]string{}, c.syncCommand...), dest)
	for attempt := 1; attempt <= maxSyncAttempts; attempt++ {
		code, err := c.run.Run(ctx, dest, argv, c.rec)
		if err != nil {
			return fmt.Errorf("run sync command: %w", err)
		}
		if code == 0 {
			return nil
		}
		if code != c.syncRetryExit || c.syncRetryExit == 0 {
			return fmt.Errorf("sync command exited with code %d", code)
		}
		c.rec.Printf("sync reported transient failure (exit %d), attempt %d/%d", code, attempt, maxSyncAttempts)
	}
	return fmt.Errorf("sync command still failing after %d attempts", maxSyncAttempts)
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
