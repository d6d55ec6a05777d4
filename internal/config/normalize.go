package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizePipeline(); err != nil {
		return err
	}
	c.normalizeWorkflow()
	c.normalizeRetention()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.AssetRoot) == "" {
		c.Paths.AssetRoot = defaultAssetRoot
	}
	if c.Paths.AssetRoot, err = expandPath(c.Paths.AssetRoot); err != nil {
		return fmt.Errorf("paths.asset_root: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv("COVERMILL_API_TOKEN"); ok {
			c.Paths.APIToken = value
		}
	}
	return nil
}

func (c *Config) normalizePipeline() error {
	var err error
	if strings.TrimSpace(c.Pipeline.ProjectRoot) != "" {
		if c.Pipeline.ProjectRoot, err = expandPath(c.Pipeline.ProjectRoot); err != nil {
			return fmt.Errorf("pipeline.project_root: %w", err)
		}
	}
	c.Pipeline.PythonExec = strings.TrimSpace(c.Pipeline.PythonExec)
	if c.Pipeline.PythonExec == "" {
		c.Pipeline.PythonExec = defaultPythonExec
	}
	c.Pipeline.DefaultModel = strings.TrimSpace(c.Pipeline.DefaultModel)
	if c.Pipeline.DefaultModel == "" {
		c.Pipeline.DefaultModel = defaultModelID
	}
	if c.Pipeline.KillGraceSeconds <= 0 {
		c.Pipeline.KillGraceSeconds = defaultKillGrace
	}
	if len(c.Pipeline.AllowedFormats) == 0 {
		c.Pipeline.AllowedFormats = Default().Pipeline.AllowedFormats
	}
	for i, format := range c.Pipeline.AllowedFormats {
		c.Pipeline.AllowedFormats[i] = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(format), "."))
	}

	defaults := Default().Pipeline
	normalizeStage(&c.Pipeline.Preprocess, defaults.Preprocess)
	normalizeStage(&c.Pipeline.Separate, defaults.Separate)
	normalizeStage(&c.Pipeline.Infer, defaults.Infer)
	normalizeStage(&c.Pipeline.Mix, defaults.Mix)
	normalizeStage(&c.Pipeline.Finalize, defaults.Finalize)
	return nil
}

func normalizeStage(cmd *StageCommand, fallback StageCommand) {
	cmd.Template = strings.TrimSpace(cmd.Template)
	if cmd.Template == "" {
		cmd.Template = fallback.Template
	}
	if cmd.TimeoutSeconds <= 0 {
		cmd.TimeoutSeconds = fallback.TimeoutSeconds
	}
}

func (c *Config) normalizeWorkflow() {
	if c.Workflow.Workers <= 0 {
		c.Workflow.Workers = defaultWorkers
	}
	if c.Workflow.QueuePollInterval <= 0 {
		c.Workflow.QueuePollInterval = defaultQueuePollInterval
	}
	if c.Workflow.ErrorRetryInterval <= 0 {
		c.Workflow.ErrorRetryInterval = defaultErrorRetryInterval
	}
	if c.Workflow.HeartbeatInterval <= 0 {
		c.Workflow.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.Workflow.HeartbeatTimeout <= 0 {
		c.Workflow.HeartbeatTimeout = defaultHeartbeatTimeout
	}
}

func (c *Config) normalizeRetention() {
	if c.Retention.ResultTTLHours <= 0 {
		c.Retention.ResultTTLHours = defaultResultTTLHours
	}
	if c.Retention.RecordGraceHours <= 0 {
		c.Retention.RecordGraceHours = defaultRecordGraceHours
	}
	if c.Retention.SweepIntervalMinutes <= 0 {
		c.Retention.SweepIntervalMinutes = defaultSweepIntervalMinutes
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
