package stagerunner

import "testing"

func TestExpandTemplateSubstitutesPerArgument(t *testing.T) {
	argv, err := expandTemplate(
		"{python_exec} {project_root}/run.py --in {input} --pitch {pitch_shift}",
		map[string]string{
			"python_exec":  "/opt/venv/bin/python",
			"project_root": "/srv/models",
			"input":        "/tmp/my song.wav",
			"pitch_shift":  "-2",
		},
	)
	if err != nil {
		t.Fatalf("expandTemplate failed: %v", err)
	}
	want := []string{"/opt/venv/bin/python", "/srv/models/run.py", "--in", "/tmp/my song.wav", "--pitch", "-2"}
	if len(argv) != len(want) {
		t.Fatalf("unexpected argv: %#v", argv)
	}
	for i := range want {
		if argv[i] != want[i] {
			t.Fatalf("argv[%d] = %q, want %q", i, argv[i], want[i])
		}
	}
}

func TestExpandTemplateRejectsUnknownPlaceholder(t *testing.T) {
	if _, err := expandTemplate("ffmpeg -i {input} {destination}", map[string]string{"input": "/tmp/a.wav"}); err == nil {
		t.Fatal("expected error for unknown placeholder")
	}
}

func TestExpandTemplateRejectsEmpty(t *testing.T) {
	if _, err := expandTemplate("   ", nil); err == nil {
		t.Fatal("expected error for empty template")
	}
}
