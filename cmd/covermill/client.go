package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"covermill/internal/api"
)

// client is a thin HTTP client for the daemon API.
type client struct {
	base  string
	token string
	http  *http.Client
}

func newClient(server, token string) *client {
	server = strings.TrimSpace(server)
	if !strings.Contains(server, "://") {
		server = "http://" + server
	}
	return &client{
		base:  strings.TrimRight(server, "/"),
		token: token,
		http:  &http.Client{Timeout: 10 * time.Minute},
	}
}

func (c *client) status(ctx context.Context) (api.DaemonStatus, error) {
	var out api.DaemonStatus
	err := c.getJSON(ctx, "/api/status", &out)
	return out, err
}

func (c *client) listJobs(ctx context.Context, statuses []string) ([]api.JobPayload, error) {
	path := "/api/jobs"
	if len(statuses) > 0 {
		values := url.Values{}
		for _, status := range statuses {
			values.Add("status", status)
		}
		path += "?" + values.Encode()
	}
	var out api.JobListResponse
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return out.Jobs, nil
}

func (c *client) describeJob(ctx context.Context, id string) (api.JobPayload, error) {
	var out api.JobResponse
	err := c.getJSON(ctx, "/api/jobs/"+url.PathEscape(id), &out)
	return out.Job, err
}

func (c *client) cancelJob(ctx context.Context, id string) (api.CancelResponse, error) {
	var out api.CancelResponse
	err := c.do(ctx, http.MethodPost, "/api/jobs/"+url.PathEscape(id)+"/cancel", "", nil, &out)
	return out, err
}

func (c *client) submitJob(ctx context.Context, voicePath, songPath, modelID string, pitchShift int) (api.JobPayload, error) {
	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)

	go func() {
		err := writeSubmitForm(form, voicePath, songPath, modelID, pitchShift)
		if closeErr := form.Close(); err == nil {
			err = closeErr
		}
		pw.CloseWithError(err)
	}()

	var out api.JobResponse
	if err := c.do(ctx, http.MethodPost, "/api/jobs", form.FormDataContentType(), pr, &out); err != nil {
		return api.JobPayload{}, err
	}
	return out.Job, nil
}

func writeSubmitForm(form *multipart.Writer, voicePath, songPath, modelID string, pitchShift int) error {
	for _, upload := range []struct {
		field string
		path  string
	}{
		{"reference_voice", voicePath},
		{"song", songPath},
	} {
		file, err := os.Open(upload.path)
		if err != nil {
			return err
		}
		part, err := form.CreateFormFile(upload.field, filepath.Base(upload.path))
		if err != nil {
			file.Close()
			return err
		}
		if _, err := io.Copy(part, file); err != nil {
			file.Close()
			return err
		}
		file.Close()
	}
	if modelID != "" {
		if err := form.WriteField("model_id", modelID); err != nil {
			return err
		}
	}
	return form.WriteField("pitch_shift", strconv.Itoa(pitchShift))
}

// downloadResult streams the deliverable to dest and returns its path.
func (c *client) downloadResult(ctx context.Context, id, dest string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/jobs/"+url.PathEscape(id)+"/result", nil)
	if err != nil {
		return "", err
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", decodeError(resp)
	}

	if dest == "" {
		dest = id + ".wav"
	}
	out, err := os.Create(dest)
	if err != nil {
		return "", err
	}
	defer out.Close()
	if _, err := io.Copy(out, resp.Body); err != nil {
		return "", err
	}
	return dest, nil
}

func (c *client) getJSON(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, "", nil, out)
}

func (c *client) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("daemon unreachable at %s: %w", c.base, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func decodeError(resp *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil && payload.Error != "" {
		return fmt.Errorf("%s (HTTP %d)", payload.Error, resp.StatusCode)
	}
	return fmt.Errorf("request failed with HTTP %d", resp.StatusCode)
}
