package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"runpilot/internal/lockfile"
	"runpilot/internal/runfolder"
)

// Candidate summarizes one run folder for the status listing.
type Candidate struct {
	Name        string
	Stage       runfolder.Stage
	CompletedAt time.Time
	LockOwner   int // pid recorded in the lock file, 0 when absent
}

// ListCandidates classifies every run folder under searchDir in
// enumeration order. Hidden entries and non-directories are skipped, same
// as the scan flow.
func ListCandidates(searchDir string) ([]Candidate, error) {
	entries, err := os.ReadDir(searchDir)
	if err != nil {
		return nil, fmt.Errorf("read search directory: %w", err)
	}
	var out []Candidate
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		path := filepath.Join(searchDir, entry.Name())
		stage, err := runfolder.Classify(path)
		if err != nil {
			return nil, err
		}
		folder := runfolder.Folder{Path: path}
		out = append(out, Candidate{
			Name:        entry.Name(),
			Stage:       stage,
			CompletedAt: folder.CompletedAt(),
			LockOwner:   lockfile.Owner(path),
		})
	}
	return out, nil
}
