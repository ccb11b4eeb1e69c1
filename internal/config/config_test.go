package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.toml")
	cfg, resolved, exists, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if exists {
		t.Fatal("file does not exist")
	}
	if resolved != path {
		t.Fatalf("resolved = %q, want %q", resolved, path)
	}
	if cfg.Analysis.AcquisitionTimeoutMinutes != defaultAcquisitionTimeoutMinutes {
		t.Fatalf("default acquisition timeout missing: %d", cfg.Analysis.AcquisitionTimeoutMinutes)
	}
}

func TestLoadParsesAndExpands(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[paths]
search_dir = "~/runs"
storage_root = "/storage"

[analysis]
command = ["bcl-convert", "--force"]
acquisition_timeout_minutes = 60
summary_timeout_minutes = 0

[delivery.aliases]
corefacility = "/mnt/legacy/core"

[notifications]
ntfy_topic = "https://ntfy.example/runs"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, _, exists, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !exists {
		t.Fatal("config file exists")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Paths.SearchDir != filepath.Join(home, "runs") {
		t.Fatalf("tilde not expanded: %q", cfg.Paths.SearchDir)
	}
	if got := cfg.Analysis.Command[0]; got != "bcl-convert" {
		t.Fatalf("command = %q", got)
	}
	if cfg.Analysis.SummaryTimeoutMinutes != 0 {
		t.Fatal("explicit zero summary timeout must survive")
	}
	if cfg.Delivery.Aliases["corefacility"] != "/mnt/legacy/core" {
		t.Fatalf("alias = %q", cfg.Delivery.Aliases["corefacility"])
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty command", func(c *Config) { c.Analysis.Command = nil }, "analysis.command"},
		{"sample sheet with path", func(c *Config) { c.Analysis.SampleSheet = "sub/SampleSheet.csv" }, "bare file name"},
		{"negative timeout", func(c *Config) { c.Analysis.AcquisitionTimeoutMinutes = -1 }, "acquisition_timeout_minutes"},
		{"relative alias", func(c *Config) { c.Delivery.Aliases = map[string]string{"x": "relative/path"} }, "absolute path"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("got %v, want error mentioning %q", err, tt.want)
			}
		})
	}
}

func TestCreateSampleRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := CreateSample(path); err != nil {
		t.Fatal(err)
	}
	cfg, _, exists, err := Load(path)
	if err != nil {
		t.Fatalf("sample config must load cleanly: %v", err)
	}
	if !exists {
		t.Fatal("sample should exist after CreateSample")
	}
	if len(cfg.Analysis.Command) == 0 {
		t.Fatal("sample should configure an analysis command")
	}
}
