package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Defaults for the blocking video flow.
const (
	DefaultVideoMaxWait      = 10 * time.Minute
	DefaultVideoPollInterval = 5 * time.Second
	DefaultAspectRatio       = "9:16"
)

// VideoConfig configures the async video generation API client.
type VideoConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	// MaxWait bounds the blocking Generate flow; PollInterval is the delay
	// between status polls. Zero values use the defaults.
	MaxWait      time.Duration
	PollInterval time.Duration
}

// VideoClient drives a submit/poll/download video API (Sora-style).
type VideoClient struct {
	cfg  VideoConfig
	http *http.Client
}

// NewVideoClient validates the config and builds the client.
func NewVideoClient(cfg VideoConfig) (*VideoClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("video API base URL required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("video API key required")
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = DefaultVideoMaxWait
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultVideoPollInterval
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	return &VideoClient{
		cfg:  cfg,
		http: &http.Client{Timeout: 60 * time.Second},
	}, nil
}

type submitRequest struct {
	Prompt      string   `json:"prompt"`
	Model       string   `json:"model"`
	AspectRatio string   `json:"aspect_ratio"`
	Duration    string   `json:"duration"`
	Images      []string `json:"images,omitempty"`
}

type submitResponse struct {
	TaskID string `json:"task_id"`
}

type pollResponse struct {
	Status     string `json:"status"`
	FailReason string `json:"fail_reason,omitempty"`
	Data       struct {
		Output string `json:"output,omitempty"`
	} `json:"data"`
	VideoURL string `json:"video_url,omitempty"`
}

// SubmitVideoJob submits a generation and returns the provider task id.
func (c *VideoClient) SubmitVideoJob(ctx context.Context, req VideoRequest) (string, error) {
	aspect := req.AspectRatio
	if aspect == "" {
		aspect = DefaultAspectRatio
	}
	body := submitRequest{
		Prompt:      req.Prompt,
		Model:       c.cfg.Model,
		AspectRatio: aspect,
		Duration:    strconv.Itoa(req.Duration),
	}
	// Only public URLs can be handed to the provider; local paths were
	// uploaded by the executor before submission.
	for _, ref := range req.ReferenceURLs {
		if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
			body.Images = append(body.Images, ref)
		}
	}

	var resp submitResponse
	if err := c.doJSON(ctx, http.MethodPost, c.cfg.BaseURL+"/v2/videos/generations", body, &resp); err != nil {
		return "", fmt.Errorf("submit video job: %w", err)
	}
	if resp.TaskID == "" {
		return "", fmt.Errorf("submit video job: no task id in response")
	}
	return resp.TaskID, nil
}

// PollVideoJob reads one status observation for the task.
func (c *VideoClient) PollVideoJob(ctx context.Context, taskID string) (VideoTaskStatus, error) {
	var resp pollResponse
	url := fmt.Sprintf("%s/v2/videos/generations/%s", c.cfg.BaseURL, taskID)
	if err := c.doJSON(ctx, http.MethodGet, url, nil, &resp); err != nil {
		return VideoTaskStatus{}, fmt.Errorf("poll video job %s: %w", taskID, err)
	}

	switch strings.ToUpper(resp.Status) {
	case "COMPLETED", "SUCCESS", "DONE":
		url := resp.Data.Output
		if url == "" {
			url = resp.VideoURL
		}
		if url == "" {
			return VideoTaskStatus{State: VideoFailed, Error: "completed without output url"}, nil
		}
		return VideoTaskStatus{State: VideoCompleted, URL: url}, nil
	case "FAILED", "ERROR":
		reason := resp.FailReason
		if reason == "" {
			reason = "unknown provider error"
		}
		return VideoTaskStatus{State: VideoFailed, Error: reason}, nil
	case "IN_PROGRESS", "RUNNING", "PROCESSING":
		return VideoTaskStatus{State: VideoRunning}, nil
	default:
		// PENDING, QUEUED, WAITING and anything else not yet started.
		return VideoTaskStatus{State: VideoPending}, nil
	}
}

// DownloadVideo streams the finished clip to destPath.
func (c *VideoClient) DownloadVideo(ctx context.Context, url, destPath string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("download video: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("download video: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download video: status %d", resp.StatusCode)
	}

	f, err := os.Create(destPath)
	if err != nil {
		return "", fmt.Errorf("create video file: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		return "", fmt.Errorf("write video file: %w", err)
	}
	return destPath, nil
}

// Generate runs the full blocking flow: submit, poll until terminal or the
// wait bound elapses, then download. A timeout is reported as ErrVideoTimeout,
// never conflated with a provider-reported failure.
func (c *VideoClient) Generate(ctx context.Context, req VideoRequest, destPath string) (string, error) {
	taskID, err := c.SubmitVideoJob(ctx, req)
	if err != nil {
		return "", err
	}

	deadline := time.Now().Add(c.cfg.MaxWait)
	for {
		if time.Now().After(deadline) {
			return "", fmt.Errorf("task %s after %s: %w", taskID, c.cfg.MaxWait, ErrVideoTimeout)
		}

		status, err := c.PollVideoJob(ctx, taskID)
		if err != nil {
			return "", err
		}
		switch status.State {
		case VideoCompleted:
			return c.DownloadVideo(ctx, status.URL, destPath)
		case VideoFailed:
			return "", fmt.Errorf("video generation failed: %s", status.Error)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.cfg.PollInterval):
		}
	}
}

// doJSON performs an authenticated JSON request and decodes the response.
func (c *VideoClient) doJSON(ctx context.Context, method, url string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

var _ VideoGenerator = (*VideoClient)(nil)
