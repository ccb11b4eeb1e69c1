package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	// SearchDir is scanned for candidate run folders.
	SearchDir string `toml:"search_dir"`
	// StorageRoot holds one directory per owner account for deliveries.
	StorageRoot string `toml:"storage_root"`
}

// Analysis contains configuration for the external analysis step.
type Analysis struct {
	// Command is the analysis command line, run inside the run folder.
	Command []string `toml:"command"`
	// SampleSheet is the input file the analysis tool requires.
	SampleSheet string `toml:"sample_sheet"`
	// AcquisitionTimeoutMinutes bounds the wait for the instrument's
	// acquisition-complete marker. Instruments run for days.
	AcquisitionTimeoutMinutes int `toml:"acquisition_timeout_minutes"`
	// SummaryTimeoutMinutes bounds the wait for the run summary once
	// acquisition has finished. Zero disables the summary wait entirely.
	SummaryTimeoutMinutes int `toml:"summary_timeout_minutes"`
}

// Delivery contains configuration for copying output to owner storage.
type Delivery struct {
	// Aliases maps account names to destination parent directories that
	// live outside StorageRoot. Checked before StorageRoot.
	Aliases map[string]string `toml:"aliases"`
	// SyncCommand, when set, runs after each successful project copy with
	// the destination path appended.
	SyncCommand []string `toml:"sync_command"`
	// SyncRetryExit is the sync tool's "try again" exit code. Retried up to
	// a fixed ceiling; other non-zero codes fail immediately.
	SyncRetryExit int `toml:"sync_retry_exit"`
}

// Notifications contains configuration for outcome reporting.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	// RecipientsFile is a plain text list: one address per line, blank
	// lines and # comments ignored.
	RecipientsFile string `toml:"recipients_file"`
}

// Logging contains configuration for CLI diagnostic output. The per-run
// workflow log is separate and always written into the run folder.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Config encapsulates all configuration values for runpilot.
type Config struct {
	Paths         Paths         `toml:"paths"`
	Analysis      Analysis      `toml:"analysis"`
	Delivery      Delivery      `toml:"delivery"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/runpilot/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("runpilot.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	return defaultPath, false, nil
}

func (c *Config) normalize() error {
	var err error
	if c.Paths.SearchDir, err = expandOptional(c.Paths.SearchDir); err != nil {
		return err
	}
	if c.Paths.StorageRoot, err = expandOptional(c.Paths.StorageRoot); err != nil {
		return err
	}
	if c.Notifications.RecipientsFile, err = expandOptional(c.Notifications.RecipientsFile); err != nil {
		return err
	}
	for account, dest := range c.Delivery.Aliases {
		expanded, err := expandOptional(dest)
		if err != nil {
			return err
		}
		c.Delivery.Aliases[account] = expanded
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	return nil
}

func expandOptional(pathValue string) (string, error) {
	if strings.TrimSpace(pathValue) == "" {
		return "", nil
	}
	return expandPath(pathValue)
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
