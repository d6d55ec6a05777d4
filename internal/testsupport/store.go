package testsupport

import (
	"context"
	"path/filepath"
	"testing"

	"covermill/internal/config"
	"covermill/internal/jobs"
)

// MustOpenStore opens a jobs.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *jobs.Store {
	t.Helper()

	store, err := jobs.Open(cfg)
	if err != nil {
		t.Fatalf("jobs.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewJob creates a queued job for tests, backed by real input files under
// the config's asset root.
func NewJob(t testing.TB, cfg *config.Config, store *jobs.Store) *jobs.CoverJob {
	t.Helper()

	staged := filepath.Join(cfg.Paths.AssetRoot, "pending")
	voice := filepath.Join(staged, "reference_voice.wav")
	song := filepath.Join(staged, "song.wav")
	WriteFile(t, voice, 64)
	WriteFile(t, song, 64)

	job, err := store.Create(context.Background(), jobs.NewJobParams{
		VoicePath: voice,
		SongPath:  song,
		ModelID:   "default",
	})
	if err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	return job
}
