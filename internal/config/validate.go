package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Validate checks cross-field constraints after normalization. Fields that
// only some actions need (search_dir for scan, storage_root for deliver)
// are validated by the action, not here.
func (c *Config) Validate() error {
	if len(c.Analysis.Command) == 0 || strings.TrimSpace(c.Analysis.Command[0]) == "" {
		return errors.New("analysis.command must name an executable")
	}
	if strings.TrimSpace(c.Analysis.SampleSheet) == "" {
		return errors.New("analysis.sample_sheet must not be empty")
	}
	if strings.ContainsRune(c.Analysis.SampleSheet, filepath.Separator) {
		return fmt.Errorf("analysis.sample_sheet %q must be a bare file name", c.Analysis.SampleSheet)
	}
	if c.Analysis.AcquisitionTimeoutMinutes < 0 {
		return errors.New("analysis.acquisition_timeout_minutes must not be negative")
	}
	if c.Analysis.SummaryTimeoutMinutes < 0 {
		return errors.New("analysis.summary_timeout_minutes must not be negative")
	}
	for account, dest := range c.Delivery.Aliases {
		if strings.TrimSpace(account) == "" {
			return errors.New("delivery.aliases contains an empty account name")
		}
		if !filepath.IsAbs(dest) {
			return fmt.Errorf("delivery.aliases[%s] must be an absolute path, got %q", account, dest)
		}
	}
	if len(c.Delivery.SyncCommand) > 0 && strings.TrimSpace(c.Delivery.SyncCommand[0]) == "" {
		return errors.New("delivery.sync_command must name an executable")
	}
	if c.Notifications.RequestTimeout < 0 {
		return errors.New("notifications.request_timeout must not be negative")
	}
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	return nil
}
