package daemon_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"testing"
	"time"

	"covermill/internal/api"
	"covermill/internal/config"
	"covermill/internal/daemon"
	"covermill/internal/logging"
	"covermill/internal/testsupport"
)

func startDaemon(t *testing.T, cfg *config.Config) (*daemon.Daemon, string) {
	t.Helper()

	d, err := daemon.New(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New failed: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("daemon.Start failed: %v", err)
	}
	t.Cleanup(func() {
		_ = d.Close()
	})

	addr := d.APIAddr()
	if addr == "" {
		t.Fatal("expected bound api address")
	}
	return d, "http://" + addr
}

func submitJob(t *testing.T, base, token string, pitch string) (*http.Response, []byte) {
	t.Helper()

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	voice, err := form.CreateFormFile("reference_voice", "reference.wav")
	if err != nil {
		t.Fatalf("create voice part: %v", err)
	}
	if _, err := voice.Write(bytes.Repeat([]byte{0x42}, 128)); err != nil {
		t.Fatalf("write voice part: %v", err)
	}
	song, err := form.CreateFormFile("song", "song.wav")
	if err != nil {
		t.Fatalf("create song part: %v", err)
	}
	if _, err := song.Write(bytes.Repeat([]byte{0x42}, 128)); err != nil {
		t.Fatalf("write song part: %v", err)
	}
	if pitch != "" {
		if err := form.WriteField("pitch_shift", pitch); err != nil {
			t.Fatalf("write pitch field: %v", err)
		}
	}
	if err := form.Close(); err != nil {
		t.Fatalf("close form: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, base+"/api/jobs", &body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("submit request failed: %v", err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp, payload
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()

	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func waitForAPIStatus(t *testing.T, base, jobID, want string) api.JobPayload {
	t.Helper()

	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		var wrapped api.JobResponse
		code := getJSON(t, base+"/api/jobs/"+jobID, &wrapped)
		if code != http.StatusOK {
			t.Fatalf("describe returned %d", code)
		}
		if wrapped.Job.Status == want {
			return wrapped.Job
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for job %s to reach %s", jobID, want)
	return api.JobPayload{}
}

func TestSubmitAndDownloadResult(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubStages())
	_, base := startDaemon(t, cfg)

	resp, payload := submitJob(t, base, "", "2")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("submit returned %d: %s", resp.StatusCode, payload)
	}
	var created api.JobResponse
	if err := json.Unmarshal(payload, &created); err != nil {
		t.Fatalf("decode submit response: %v", err)
	}
	if created.Job.Status != "queued" {
		t.Fatalf("expected queued job, got %s", created.Job.Status)
	}
	if created.Job.PitchShift != 2 {
		t.Fatalf("expected pitch shift 2, got %d", created.Job.PitchShift)
	}

	done := waitForAPIStatus(t, base, created.Job.ID, "succeeded")
	if !done.OutputAvailable {
		t.Fatal("expected output available")
	}
	if done.Progress != 100 {
		t.Fatalf("expected progress 100, got %d", done.Progress)
	}

	result, err := http.Get(base + "/api/jobs/" + created.Job.ID + "/result")
	if err != nil {
		t.Fatalf("result request failed: %v", err)
	}
	defer result.Body.Close()
	if result.StatusCode != http.StatusOK {
		t.Fatalf("result returned %d", result.StatusCode)
	}
	data, err := io.ReadAll(result.Body)
	if err != nil {
		t.Fatalf("read result: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected non-empty deliverable")
	}
}

func TestSubmitValidation(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubStages())
	_, base := startDaemon(t, cfg)

	resp, payload := submitJob(t, base, "", "99")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for out-of-range pitch, got %d: %s", resp.StatusCode, payload)
	}
}

func TestSubmitRequiresReferenceVoiceField(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubStages())
	_, base := startDaemon(t, cfg)

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	song, err := form.CreateFormFile("song", "song.wav")
	if err != nil {
		t.Fatalf("create song part: %v", err)
	}
	if _, err := song.Write(bytes.Repeat([]byte{0x42}, 128)); err != nil {
		t.Fatalf("write song part: %v", err)
	}
	if err := form.Close(); err != nil {
		t.Fatalf("close form: %v", err)
	}

	resp, err := http.Post(base+"/api/jobs", form.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("submit request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without reference_voice part, got %d", resp.StatusCode)
	}
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if !strings.Contains(string(payload), "reference_voice") {
		t.Fatalf("error should name the missing field: %s", payload)
	}
}

func TestResultBeforeCompletionConflicts(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubStages())
	stub := testsupport.StubScript(t, testsupport.BaseDir(cfg), "stage-hang", `#!/bin/sh
sleep 30
`)
	cfg.Pipeline.Preprocess.Template = stub + " {input} {output}"
	cfg.Pipeline.KillGraceSeconds = 1
	_, base := startDaemon(t, cfg)

	resp, payload := submitJob(t, base, "", "")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("submit returned %d: %s", resp.StatusCode, payload)
	}
	var created api.JobResponse
	if err := json.Unmarshal(payload, &created); err != nil {
		t.Fatalf("decode submit response: %v", err)
	}

	if code := getJSON(t, base+"/api/jobs/"+created.Job.ID+"/result", nil); code != http.StatusConflict {
		t.Fatalf("expected 409 before completion, got %d", code)
	}

	waitForAPIStatus(t, base, created.Job.ID, "running")

	cancelResp, err := http.Post(base+"/api/jobs/"+created.Job.ID+"/cancel", "", nil)
	if err != nil {
		t.Fatalf("cancel request failed: %v", err)
	}
	defer cancelResp.Body.Close()
	if cancelResp.StatusCode != http.StatusOK {
		t.Fatalf("cancel returned %d", cancelResp.StatusCode)
	}
	var canceled api.CancelResponse
	if err := json.NewDecoder(cancelResp.Body).Decode(&canceled); err != nil {
		t.Fatalf("decode cancel response: %v", err)
	}
	if canceled.Outcome != "accepted" {
		t.Fatalf("expected accepted outcome, got %s", canceled.Outcome)
	}

	waitForAPIStatus(t, base, created.Job.ID, "canceled")
	if code := getJSON(t, base+"/api/jobs/"+created.Job.ID+"/result", nil); code != http.StatusConflict {
		t.Fatalf("expected 409 for canceled job, got %d", code)
	}
}

func TestStatusAndListEndpoints(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubStages())
	_, base := startDaemon(t, cfg)

	var status api.DaemonStatus
	if code := getJSON(t, base+"/api/status", &status); code != http.StatusOK {
		t.Fatalf("status returned %d", code)
	}
	if !status.Running {
		t.Fatal("expected running daemon")
	}

	resp, payload := submitJob(t, base, "", "")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("submit returned %d: %s", resp.StatusCode, payload)
	}

	var listing api.JobListResponse
	if code := getJSON(t, base+"/api/jobs", &listing); code != http.StatusOK {
		t.Fatalf("list returned %d", code)
	}
	if len(listing.Jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(listing.Jobs))
	}

	if code := getJSON(t, base+"/api/jobs?status=bogus", nil); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad filter, got %d", code)
	}

	if code := getJSON(t, base+"/api/jobs/00000000-0000-0000-0000-000000000000", nil); code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown job, got %d", code)
	}
}

func TestBearerTokenAuth(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubStages())
	cfg.Paths.APIToken = "secret-token"
	_, base := startDaemon(t, cfg)

	if code := getJSON(t, base+"/api/status", nil); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", code)
	}

	req, err := http.NewRequest(http.MethodGet, base+"/api/status", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer secret-token")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("authorized request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", resp.StatusCode)
	}

	resp2, payload := submitJob(t, base, "secret-token", "")
	if resp2.StatusCode != http.StatusAccepted {
		t.Fatalf("authorized submit returned %d: %s", resp2.StatusCode, payload)
	}
}

func TestSecondInstanceRefused(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubStages())
	startDaemon(t, cfg)

	second, err := daemon.New(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New failed: %v", err)
	}
	defer second.Close()

	if err := second.Start(context.Background()); err == nil {
		t.Fatal("expected second instance to be refused")
	} else if want := "already running"; !bytes.Contains([]byte(err.Error()), []byte(want)) {
		t.Fatalf("unexpected error: %v", err)
	}
}
