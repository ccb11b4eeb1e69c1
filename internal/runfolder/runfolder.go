// Package runfolder models one instrument run folder: the markers that
// record its progress, the per-owner analysis output inside it, and the
// classification logic deciding whether a new invocation may touch it.
package runfolder

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"runpilot/internal/fileutil"
)

// Fixed file names inside a run folder. Presence-only markers except the
// run summary, which carries a status field.
const (
	// AcquisitionMarker is written by the instrument when it stops writing.
	AcquisitionMarker = "AcquisitionComplete.txt"
	// SummaryFile optionally reports the instrument's own verdict.
	SummaryFile = "RunSummary.xml"
	// CompletionMarker is written by this engine once the analysis step has
	// run, whatever its exit code. Its content is a timestamp for humans and
	// is never parsed back.
	CompletionMarker = "pipeline_complete.txt"
	// ProjectPrefix names per-owner analysis output directories, with the
	// owning account embedded after the prefix.
	ProjectPrefix = "Project_"
)

// Folder is one unit of work. All engine state lives inside it.
type Folder struct {
	Path string
}

// New resolves path to an absolute run folder. The path must exist and be a
// directory.
func New(path string) (*Folder, error) {
	abs, err := filepath.Abs(strings.TrimSpace(path))
	if err != nil {
		return nil, fmt.Errorf("resolve run folder path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("run folder %s: %w", abs, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("run folder %s is not a directory", abs)
	}
	return &Folder{Path: abs}, nil
}

// Name returns the folder's base name, which also names deliveries.
func (f *Folder) Name() string {
	return filepath.Base(f.Path)
}

// Join returns the path of name inside the run folder.
func (f *Folder) Join(name string) string {
	return filepath.Join(f.Path, name)
}

// HasMarker reports whether the named marker file exists.
func (f *Folder) HasMarker(name string) bool {
	info, err := os.Stat(f.Join(name))
	return err == nil && info.Mode().IsRegular()
}

// WriteCompletionMarker records that the analysis step has run. The content
// is free text for operators.
func (f *Folder) WriteCompletionMarker(now time.Time) error {
	text := fmt.Sprintf("pipeline finished %s\n", now.Format(time.RFC1123))
	if err := os.WriteFile(f.Join(CompletionMarker), []byte(text), 0o644); err != nil {
		return fmt.Errorf("write completion marker: %w", err)
	}
	return nil
}

// CompletedAt returns the completion marker's mtime, or zero when absent.
func (f *Folder) CompletedAt() time.Time {
	info, err := os.Stat(f.Join(CompletionMarker))
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

// Project is one per-owner output directory inside a run folder.
type Project struct {
	Name  string // directory base name, e.g. Project_jdoe
	Owner string // embedded account name, e.g. jdoe
	Path  string
}

// Projects lists the per-owner output directories in enumeration order.
func (f *Folder) Projects() ([]Project, error) {
	entries, err := os.ReadDir(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read run folder: %w", err)
	}
	var projects []Project
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), ProjectPrefix) {
			continue
		}
		owner := strings.TrimPrefix(entry.Name(), ProjectPrefix)
		if owner == "" || strings.HasSuffix(entry.Name(), fileutil.RotateSuffix) {
			continue
		}
		projects = append(projects, Project{
			Name:  entry.Name(),
			Owner: owner,
			Path:  f.Join(entry.Name()),
		})
	}
	return projects, nil
}

// RenameAsideProjects moves every existing project directory out of the way
// so a fresh analysis run never appends to stale output. Returns the names
// that were rotated.
func (f *Folder) RenameAsideProjects() ([]string, error) {
	projects, err := f.Projects()
	if err != nil {
		return nil, err
	}
	var rotated []string
	for _, p := range projects {
		if err := fileutil.RenameAside(p.Path); err != nil {
			return rotated, fmt.Errorf("rename aside %s: %w", p.Name, err)
		}
		rotated = append(rotated, p.Name)
	}
	return rotated, nil
}

// Scan walks searchDir's immediate entries in enumeration order and returns
// the first eligible candidate, or nil when none qualifies. Hidden entries
// and non-directories are skipped; at most one candidate is handed out per
// invocation so repeated scheduled scans make incremental progress.
func Scan(searchDir string) (*Folder, error) {
	entries, err := os.ReadDir(searchDir)
	if err != nil {
		return nil, fmt.Errorf("read search directory: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		candidate := filepath.Join(searchDir, entry.Name())
		stage, err := Classify(candidate)
		if err != nil {
			return nil, err
		}
		if stage != Eligible {
			continue
		}
		return New(candidate)
	}
	return nil, nil
}

