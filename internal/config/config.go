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

// Paths contains directory and bind address configuration.
type Paths struct {
	AssetRoot string `toml:"asset_root"`
	LogDir    string `toml:"log_dir"`
	APIBind   string `toml:"api_bind"`
	APIToken  string `toml:"api_token"`
}

// StageCommand describes how one pipeline stage is executed.
//
// Template is whitespace-split into arguments before placeholder expansion,
// so paths containing spaces survive substitution intact. Recognized
// placeholders: {project_root}, {python_exec}, {input}, {output},
// {reference_voice}, {vocal_output}, {inst_output}, {model_id},
// {pitch_shift}, {uvr_model}.
type StageCommand struct {
	Template       string `toml:"template"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Pipeline contains the external tooling configuration for cover generation.
type Pipeline struct {
	// ProjectRoot is the checkout of the voice-conversion toolkit the stage
	// commands run inside.
	ProjectRoot string `toml:"project_root"`
	// PythonExec is the interpreter used by the separation and inference
	// templates.
	PythonExec string `toml:"python_exec"`
	// DefaultModel is used when a job is submitted without a model id.
	DefaultModel string `toml:"default_model"`
	// UVRModel selects the vocal separation model.
	UVRModel string `toml:"uvr_model"`
	// MaxSongSeconds rejects songs longer than this after preprocessing.
	// Zero disables the guard.
	MaxSongSeconds int `toml:"max_song_seconds"`
	// AllowedFormats lists accepted upload extensions (without dot).
	AllowedFormats []string `toml:"allowed_formats"`
	// KillGraceSeconds is how long a canceled or timed-out stage process has
	// after SIGTERM before it is killed.
	KillGraceSeconds int `toml:"kill_grace_seconds"`
	// FFprobe overrides the ffprobe executable used for duration checks.
	FFprobe string `toml:"ffprobe"`

	Preprocess StageCommand `toml:"preprocess"`
	Separate   StageCommand `toml:"separate"`
	Infer      StageCommand `toml:"infer"`
	Mix        StageCommand `toml:"mix"`
	Finalize   StageCommand `toml:"finalize"`
}

// Workflow contains daemon timing and worker pool configuration.
type Workflow struct {
	Workers            int `toml:"workers"`
	QueuePollInterval  int `toml:"queue_poll_interval"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
	HeartbeatInterval  int `toml:"heartbeat_interval"`
	HeartbeatTimeout   int `toml:"heartbeat_timeout"`
}

// Retention controls when finished jobs and their artifacts are reclaimed.
type Retention struct {
	// ResultTTLHours is how long a terminal job's artifacts stay on disk.
	ResultTTLHours int `toml:"result_ttl_hours"`
	// RecordGraceHours is how long a swept job's record stays queryable
	// after its artifacts were removed.
	RecordGraceHours int `toml:"record_grace_hours"`
	// SweepIntervalMinutes is the period of the background sweep.
	SweepIntervalMinutes int `toml:"sweep_interval_minutes"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for covermill.
//
// Configuration sections by subsystem:
//   - Paths: asset root, log directory, and API bind address
//   - Pipeline: per-stage command templates, timeouts, and model defaults
//   - Workflow: worker pool sizing and polling/heartbeat intervals
//   - Retention: result expiry and sweep cadence
//   - Logging: log format and level
type Config struct {
	Paths     Paths     `toml:"paths"`
	Pipeline  Pipeline  `toml:"pipeline"`
	Workflow  Workflow  `toml:"workflow"`
	Retention Retention `toml:"retention"`
	Logging   Logging   `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/covermill/config.toml")
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

	projectPath, err := filepath.Abs("covermill.toml")
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

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.AssetRoot, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// StageCommandFor returns the command configuration for a named stage.
func (c *Config) StageCommandFor(stage string) (StageCommand, bool) {
	switch stage {
	case "preprocess":
		return c.Pipeline.Preprocess, true
	case "separate":
		return c.Pipeline.Separate, true
	case "infer":
		return c.Pipeline.Infer, true
	case "mix":
		return c.Pipeline.Mix, true
	case "finalize":
		return c.Pipeline.Finalize, true
	default:
		return StageCommand{}, false
	}
}

// FFprobeBinary returns the ffprobe executable used for duration checks.
func (c *Config) FFprobeBinary() string {
	if c.Pipeline.FFprobe != "" {
		return c.Pipeline.FFprobe
	}
	return "ffprobe"
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
func CreateSample(path string) (string, error) {
	expanded, err := expandPath(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return "", fmt.Errorf("create config directory: %w", err)
	}
	if _, err := os.Stat(expanded); err == nil {
		return expanded, fmt.Errorf("config file already exists at %s", expanded)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("stat config: %w", err)
	}
	if err := os.WriteFile(expanded, []byte(sampleConfig), 0o644); err != nil {
		return "", fmt.Errorf("write sample config: %w", err)
	}
	return expanded, nil
}
