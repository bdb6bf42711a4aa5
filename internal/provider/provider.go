// Package provider defines the generation capability contracts the engine
// dispatches to, and the concrete text/image/video implementations. Retry
// policy lives in the executor, not here: providers attempt once and report.
package provider

import (
	"context"
	"errors"
)

// ErrVideoTimeout is returned by the blocking video flow when the maximum
// wait bound elapses before the provider reports a terminal state. Surfaced
// distinctly so callers can tell a timeout from a provider-reported failure.
var ErrVideoTimeout = errors.New("video generation timed out")

// TextGenerator produces structured output from a system/user prompt pair.
// The JSON response is decoded into out.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string, out any) error
}

// ImageGenerator produces image bytes from a prompt, optionally conditioned
// on reference images (public URLs of upstream results).
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string, referenceURLs []string) ([]byte, error)
}

// VideoTaskState is the provider-side state of an async video job.
type VideoTaskState string

const (
	VideoPending   VideoTaskState = "pending"
	VideoRunning   VideoTaskState = "running"
	VideoCompleted VideoTaskState = "completed"
	VideoFailed    VideoTaskState = "failed"
)

// VideoRequest describes one clip generation.
type VideoRequest struct {
	Prompt        string
	Duration      int // seconds
	AspectRatio   string
	ReferenceURLs []string
}

// VideoTaskStatus is one poll observation.
type VideoTaskStatus struct {
	State VideoTaskState
	URL   string
	Error string
}

// VideoGenerator drives an asynchronous video provider: submit, poll,
// download, plus the blocking Generate convenience that combines the three
// under a maximum wait bound.
type VideoGenerator interface {
	SubmitVideoJob(ctx context.Context, req VideoRequest) (taskID string, err error)
	PollVideoJob(ctx context.Context, taskID string) (VideoTaskStatus, error)
	DownloadVideo(ctx context.Context, url, destPath string) (string, error)
	// Generate blocks until the clip is downloaded to destPath or fails;
	// exceeding the configured wait bound returns ErrVideoTimeout.
	Generate(ctx context.Context, req VideoRequest, destPath string) (string, error)
}

// Provider bundles all generation capabilities consumed by the engine and
// the production service.
type Provider interface {
	TextGenerator
	ImageGenerator
	VideoGenerator
}

// Suite combines independent capability implementations into a Provider.
type Suite struct {
	Text  TextGenerator
	Image ImageGenerator
	Video VideoGenerator
}

func (s *Suite) GenerateText(ctx context.Context, systemPrompt, userPrompt string, out any) error {
	return s.Text.GenerateText(ctx, systemPrompt, userPrompt, out)
}

func (s *Suite) GenerateImage(ctx context.Context, prompt string, referenceURLs []string) ([]byte, error) {
	return s.Image.GenerateImage(ctx, prompt, referenceURLs)
}

func (s *Suite) SubmitVideoJob(ctx context.Context, req VideoRequest) (string, error) {
	return s.Video.SubmitVideoJob(ctx, req)
}

func (s *Suite) PollVideoJob(ctx context.Context, taskID string) (VideoTaskStatus, error) {
	return s.Video.PollVideoJob(ctx, taskID)
}

func (s *Suite) DownloadVideo(ctx context.Context, url, destPath string) (string, error) {
	return s.Video.DownloadVideo(ctx, url, destPath)
}

func (s *Suite) Generate(ctx context.Context, req VideoRequest, destPath string) (string, error) {
	return s.Video.Generate(ctx, req, destPath)
}

var _ Provider = (*Suite)(nil)
