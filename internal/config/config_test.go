package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"covermill/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantAssets := filepath.Join(tempHome, ".local", "share", "covermill", "assets")
	if cfg.Paths.AssetRoot != wantAssets {
		t.Fatalf("unexpected asset root: got %q want %q", cfg.Paths.AssetRoot, wantAssets)
	}
	if cfg.Paths.APIBind != "127.0.0.1:7723" {
		t.Fatalf("unexpected api bind: %q", cfg.Paths.APIBind)
	}
	if cfg.Pipeline.Infer.TimeoutSeconds != 3600 {
		t.Fatalf("unexpected infer timeout: %d", cfg.Pipeline.Infer.TimeoutSeconds)
	}
	if cfg.Workflow.Workers != 2 {
		t.Fatalf("unexpected worker count: %d", cfg.Workflow.Workers)
	}
	if cfg.Retention.ResultTTLHours != 24 {
		t.Fatalf("unexpected result TTL: %d", cfg.Retention.ResultTTLHours)
	}
}

func TestLoadReadsFileAndNormalizes(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
[paths]
asset_root = "~/covers"

[pipeline]
allowed_formats = [".WAV", "Mp3"]

[pipeline.separate]
timeout_seconds = 42

[logging]
format = "JSON"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected config file to be detected")
	}
	if cfg.Paths.AssetRoot != filepath.Join(tempHome, "covers") {
		t.Fatalf("expected tilde expansion, got %q", cfg.Paths.AssetRoot)
	}
	if got := cfg.Pipeline.AllowedFormats; got[0] != "wav" || got[1] != "mp3" {
		t.Fatalf("expected lowercased formats without dots, got %v", got)
	}
	if cfg.Pipeline.Separate.TimeoutSeconds != 42 {
		t.Fatalf("expected separate timeout override, got %d", cfg.Pipeline.Separate.TimeoutSeconds)
	}
	if cfg.Pipeline.Separate.Template == "" {
		t.Fatal("expected separate template default to survive partial override")
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("expected normalized log format, got %q", cfg.Logging.Format)
	}
}

func TestValidateRejectsEmptyStageTemplate(t *testing.T) {
	cfg := config.Default()
	cfg.Pipeline.Infer.Template = "   "
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "pipeline.infer") {
		t.Fatalf("expected error naming the stage, got %v", err)
	}
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	cfg := config.Default()
	cfg.Logging.Level = "verbose"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for bad log level")
	}
}

func TestAPITokenFallsBackToEnvironment(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("COVERMILL_API_TOKEN", "secret-token")

	cfg, _, _, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Paths.APIToken != "secret-token" {
		t.Fatalf("expected API token from env, got %q", cfg.Paths.APIToken)
	}
}

func TestStageCommandFor(t *testing.T) {
	cfg := config.Default()
	for _, name := range []string{"preprocess", "separate", "infer", "mix", "finalize"} {
		cmd, ok := cfg.StageCommandFor(name)
		if !ok {
			t.Fatalf("expected stage command for %q", name)
		}
		if cmd.Template == "" {
			t.Fatalf("expected non-empty template for %q", name)
		}
	}
	if _, ok := cfg.StageCommandFor("transcode"); ok {
		t.Fatal("expected unknown stage to be rejected")
	}
}
