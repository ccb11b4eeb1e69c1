package runfolder

import (
	"os"
	"path/filepath"

	"runpilot/internal/lockfile"
)

// Stage is the classification of a candidate folder.
type Stage int

const (
	// Eligible folders carry neither a completion marker nor a live lock.
	Eligible Stage = iota
	// Complete folders already hold the completion marker; the marker must
	// be removed by hand to force reprocessing.
	Complete
	// Locked folders are being worked by a live process right now.
	Locked
)

func (s Stage) String() string {
	switch s {
	case Complete:
		return "complete"
	case Locked:
		return "locked"
	default:
		return "eligible"
	}
}

// Classify inspects a candidate folder's markers and lock. A lock file left
// by a crashed holder does not make the folder Locked; only a live flock
// does.
func Classify(path string) (Stage, error) {
	if info, err := os.Stat(filepath.Join(path, CompletionMarker)); err == nil && info.Mode().IsRegular() {
		return Complete, nil
	}
	held, err := lockfile.Probe(path)
	if err != nil {
		return Eligible, err
	}
	if held {
		return Locked, nil
	}
	return Eligible, nil
}
