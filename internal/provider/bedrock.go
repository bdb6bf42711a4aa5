package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// DefaultImageModel is the Bedrock model id used when none is configured.
const DefaultImageModel = "amazon.nova-canvas-v1:0"

// Portrait format for short-form vertical content.
const (
	imageWidth  = 720
	imageHeight = 1280
)

// BedrockImage implements ImageGenerator via Amazon Bedrock InvokeModel.
type BedrockImage struct {
	client  *bedrockruntime.Client
	modelID string
	http    *http.Client
}

// BedrockConfig configures the image backend.
type BedrockConfig struct {
	Region  string
	ModelID string
}

// NewBedrockImage loads AWS configuration from the environment and wraps the
// runtime client.
func NewBedrockImage(ctx context.Context, cfg BedrockConfig) (*BedrockImage, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	modelID := cfg.ModelID
	if modelID == "" {
		modelID = DefaultImageModel
	}
	return &BedrockImage{
		client:  bedrockruntime.NewFromConfig(awsCfg),
		modelID: modelID,
		http:    &http.Client{},
	}, nil
}

// Request/response shapes for the Nova Canvas text-to-image task.
type novaCanvasRequest struct {
	TaskType          string                `json:"taskType"`
	TextToImageParams novaTextToImageParams `json:"textToImageParams"`
	ImageGenConfig    novaImageGenConfig    `json:"imageGenerationConfig"`
}

type novaTextToImageParams struct {
	Text           string `json:"text"`
	ConditionImage string `json:"conditionImage,omitempty"`
}

type novaImageGenConfig struct {
	NumberOfImages int `json:"numberOfImages"`
	Width          int `json:"width"`
	Height         int `json:"height"`
}

type novaCanvasResponse struct {
	Images []string `json:"images"`
	Error  string   `json:"error,omitempty"`
}

// GenerateImage invokes the model and returns the decoded image bytes. The
// first reachable reference URL is passed as the condition image; the rest
// are ignored (Nova Canvas conditions on a single image).
func (b *BedrockImage) GenerateImage(ctx context.Context, prompt string, referenceURLs []string) ([]byte, error) {
	req := novaCanvasRequest{
		TaskType: "TEXT_IMAGE",
		TextToImageParams: novaTextToImageParams{
			Text: prompt,
		},
		ImageGenConfig: novaImageGenConfig{
			NumberOfImages: 1,
			Width:          imageWidth,
			Height:         imageHeight,
		},
	}

	for _, ref := range referenceURLs {
		encoded, err := b.fetchReference(ctx, ref)
		if err != nil {
			slog.Warn("skipping unreachable reference image", "url", ref, "error", err)
			continue
		}
		req.TextToImageParams.ConditionImage = encoded
		break
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal image request: %w", err)
	}

	out, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, fmt.Errorf("invoke image model: %w", err)
	}

	var resp novaCanvasResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return nil, fmt.Errorf("decode image response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("image model error: %s", resp.Error)
	}
	if len(resp.Images) == 0 {
		return nil, fmt.Errorf("image model returned no images")
	}

	img, err := base64.StdEncoding.DecodeString(resp.Images[0])
	if err != nil {
		return nil, fmt.Errorf("decode image payload: %w", err)
	}
	return img, nil
}

// fetchReference downloads a reference image and base64-encodes it.
func (b *BedrockImage) fetchReference(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := b.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch reference: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

var _ ImageGenerator = (*BedrockImage)(nil)
