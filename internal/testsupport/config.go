package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"covermill/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.AssetRoot = filepath.Join(base, "assets")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Pipeline.ProjectRoot = base
	cfgVal.Workflow.QueuePollInterval = 1
	cfgVal.Workflow.ErrorRetryInterval = 1
	cfgVal.Workflow.HeartbeatInterval = 1
	cfgVal.Workflow.HeartbeatTimeout = 5

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithWorkers overrides the worker pool size on the test config.
func WithWorkers(count int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workflow.Workers = count
	}
}

// WithStageTemplate overrides one stage command template on the test config.
func WithStageTemplate(stage, template string) ConfigOption {
	return func(b *configBuilder) {
		switch stage {
		case "preprocess":
			b.cfg.Pipeline.Preprocess.Template = template
		case "separate":
			b.cfg.Pipeline.Separate.Template = template
		case "infer":
			b.cfg.Pipeline.Infer.Template = template
		case "mix":
			b.cfg.Pipeline.Mix.Template = template
		case "finalize":
			b.cfg.Pipeline.Finalize.Template = template
		default:
			b.t.Fatalf("unknown stage %q", stage)
		}
	}
}

// WithStubStages points every stage template at a stub script that copies
// its input to its declared outputs. Keeps full pipeline runs hermetic.
func WithStubStages() ConfigOption {
	return func(b *configBuilder) {
		stub := StubScript(b.t, b.baseDir, "stage-ok", `#!/bin/sh
# usage: stage-ok <input> <output>...
input="$1"
shift
for out in "$@"; do
    cp "$input" "$out" || exit 1
done
exit 0
`)
		b.cfg.Pipeline.Preprocess.Template = stub + " {input} {output}"
		b.cfg.Pipeline.Separate.Template = stub + " {input} {vocal_output} {inst_output}"
		b.cfg.Pipeline.Infer.Template = stub + " {input} {output}"
		b.cfg.Pipeline.Mix.Template = stub + " {input} {output}"
		b.cfg.Pipeline.Finalize.Template = stub + " {input} {output}"
		b.cfg.Pipeline.MaxSongSeconds = 0
	}
}

// StubScript writes an executable shell script for tests and returns its path.
func StubScript(t testing.TB, dir, name, body string) string {
	t.Helper()

	binDir := filepath.Join(dir, "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		t.Fatalf("mkdir bin dir: %v", err)
	}
	target := filepath.Join(binDir, name)
	if err := os.WriteFile(target, []byte(body), 0o755); err != nil {
		t.Fatalf("write stub %s: %v", name, err)
	}
	return target
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.AssetRoot)
}
