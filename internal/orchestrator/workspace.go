package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
)

// Workspace is the on-disk layout for one job. Inputs land in input/ at
// submission time, intermediates live in work/, and the deliverable in
// output/. The whole tree is removed when the job's retention expires.
type Workspace struct {
	Root      string
	InputDir  string
	WorkDir   string
	OutputDir string
}

// NewWorkspace derives the workspace layout for a job id.
func NewWorkspace(assetRoot, jobID string) Workspace {
	root := filepath.Join(assetRoot, jobID)
	return Workspace{
		Root:      root,
		InputDir:  filepath.Join(root, "input"),
		WorkDir:   filepath.Join(root, "work"),
		OutputDir: filepath.Join(root, "output"),
	}
}

// Ensure creates the workspace directories.
func (w Workspace) Ensure() error {
	for _, dir := range []string{w.InputDir, w.WorkDir, w.OutputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create workspace dir: %w", err)
		}
	}
	return nil
}

// Preprocessed is the normalized song produced by the preprocess stage.
func (w Workspace) Preprocessed() string {
	return filepath.Join(w.WorkDir, "song_preprocessed.wav")
}

// Vocal is the isolated vocal track produced by the separate stage.
func (w Workspace) Vocal() string {
	return filepath.Join(w.WorkDir, "vocal.wav")
}

// Instrumental is the accompaniment track produced by the separate stage.
func (w Workspace) Instrumental() string {
	return filepath.Join(w.WorkDir, "instrumental.wav")
}

// ConvertedVocal is the voice-converted vocal produced by the infer stage.
func (w Workspace) ConvertedVocal() string {
	return filepath.Join(w.WorkDir, "converted_vocal.wav")
}

// Mix is the recombined track produced by the mix stage.
func (w Workspace) Mix() string {
	return filepath.Join(w.WorkDir, "mix.wav")
}

// Final is the mastered deliverable produced by the finalize stage.
func (w Workspace) Final() string {
	return filepath.Join(w.OutputDir, "final.wav")
}
