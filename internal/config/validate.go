package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateRetention(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.AssetRoot) == "" {
		return errors.New("paths.asset_root must be set")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		return errors.New("paths.log_dir must be set")
	}
	return nil
}

func (c *Config) validatePipeline() error {
	stages := []struct {
		name string
		cmd  StageCommand
	}{
		{"preprocess", c.Pipeline.Preprocess},
		{"separate", c.Pipeline.Separate},
		{"infer", c.Pipeline.Infer},
		{"mix", c.Pipeline.Mix},
		{"finalize", c.Pipeline.Finalize},
	}
	for _, stage := range stages {
		if strings.TrimSpace(stage.cmd.Template) == "" {
			return fmt.Errorf("pipeline.%s.template must be set", stage.name)
		}
		if stage.cmd.TimeoutSeconds <= 0 {
			return fmt.Errorf("pipeline.%s.timeout_seconds must be positive", stage.name)
		}
	}
	if c.Pipeline.MaxSongSeconds < 0 {
		return errors.New("pipeline.max_song_seconds must not be negative")
	}
	if len(c.Pipeline.AllowedFormats) == 0 {
		return errors.New("pipeline.allowed_formats must not be empty")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.Workers <= 0 {
		return errors.New("workflow.workers must be positive")
	}
	if c.Workflow.HeartbeatTimeout <= c.Workflow.HeartbeatInterval {
		return errors.New("workflow.heartbeat_timeout must exceed workflow.heartbeat_interval")
	}
	return nil
}

func (c *Config) validateRetention() error {
	if c.Retention.ResultTTLHours <= 0 {
		return errors.New("retention.result_ttl_hours must be positive")
	}
	if c.Retention.RecordGraceHours < 0 {
		return errors.New("retention.record_grace_hours must not be negative")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}
