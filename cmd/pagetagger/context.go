package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"pagetagger/internal/config"
	"pagetagger/internal/logging"
	"pagetagger/internal/settings"
	"pagetagger/internal/workspace"
)

const devLogFile = "dev.log"

type commandContext struct {
	settingsFlag *string
	storeFlag    *string

	configOnce sync.Once
	config     config.Config

	closeLog func()
}

func newCommandContext(settingsFlag, storeFlag *string) *commandContext {
	return &commandContext{
		settingsFlag: settingsFlag,
		storeFlag:    storeFlag,
	}
}

// configValue is the environment configuration with command-line overrides
// applied.
func (c *commandContext) configValue() config.Config {
	c.configOnce.Do(func() {
		cfg := config.Load()
		if c.settingsFlag != nil && strings.TrimSpace(*c.settingsFlag) != "" {
			cfg.SettingsPath = strings.TrimSpace(*c.settingsFlag)
		}
		if c.storeFlag != nil && strings.TrimSpace(*c.storeFlag) != "" {
			cfg.StoreBackend = strings.ToLower(strings.TrimSpace(*c.storeFlag))
		}
		c.config = cfg
	})
	return c.config
}

func (c *commandContext) setupLogging(w io.Writer) {
	cfg := c.configValue()
	opts := logging.Options{Level: cfg.LogLevel, Pretty: cfg.LogPretty}
	if cfg.DevLog {
		opts.DevFile = devLogFile
	}
	c.closeLog = logging.Setup(opts, w)
}

func (c *commandContext) close() {
	if c.closeLog != nil {
		c.closeLog()
		c.closeLog = nil
	}
}

// withWorkspace opens the configured workspace for one command and closes
// it afterwards, flushing anything still pending.
func (c *commandContext) withWorkspace(ctx context.Context, fn func(*workspace.Workspace) error) error {
	cfg := c.configValue()
	s, err := settings.Load(cfg.SettingsPath)
	if err != nil {
		return err
	}
	if missing := s.Missing(); len(missing) > 0 {
		return fmt.Errorf("%s: missing %s; run `pagetagger serve` and fill in the settings page", cfg.SettingsPath, strings.Join(missing, ", "))
	}
	ws, err := workspace.Open(ctx, cfg, s)
	if err != nil {
		return err
	}
	fnErr := fn(ws)
	if err := ws.Close(ctx); err != nil && fnErr == nil {
		return err
	}
	return fnErr
}
