package main

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"runpilot/internal/config"
	"runpilot/internal/logging"
	"runpilot/internal/notify"
	"runpilot/internal/workflow"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
	})
	return c.config, c.configErr
}

// newDriver wires a workflow driver from the resolved configuration. The
// logger covers CLI diagnostics; the per-run workflow log is the driver's
// own concern.
func (c *commandContext) newDriver() (*workflow.Driver, *slog.Logger, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return nil, nil, err
	}
	notifier := notify.NewService(cfg)
	return workflow.New(cfg, logger, notifier), logger, nil
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
