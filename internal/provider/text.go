package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// TextProviderName selects the LLM backend for structure generation.
type TextProviderName string

const (
	TextOllama    TextProviderName = "ollama"
	TextOpenAI    TextProviderName = "openai"
	TextAnthropic TextProviderName = "anthropic"
)

// TextConfig configures the LLM used for structure/text generation.
type TextConfig struct {
	Provider   TextProviderName
	Model      string
	APIKey     string
	OllamaHost string
}

// LLMText implements TextGenerator on top of langchaingo.
type LLMText struct {
	llm       llms.Model
	modelName string
}

// NewLLMText creates the backend selected by cfg.Provider.
func NewLLMText(cfg TextConfig) (*LLMText, error) {
	var model llms.Model
	var err error

	switch cfg.Provider {
	case TextOllama:
		model, err = ollama.New(
			ollama.WithModel(cfg.Model),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}

	case TextOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required")
		}
		model, err = openai.New(
			openai.WithToken(cfg.APIKey),
			openai.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}

	case TextAnthropic:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("Anthropic API key required")
		}
		model, err = anthropic.New(
			anthropic.WithToken(cfg.APIKey),
			anthropic.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported text provider: %s", cfg.Provider)
	}

	return &LLMText{llm: model, modelName: cfg.Model}, nil
}

// Model returns the configured model name.
func (t *LLMText) Model() string {
	return t.modelName
}

// GenerateText sends the system/user prompt pair and decodes the JSON
// response into out. Models that wrap JSON in a markdown fence are handled.
func (t *LLMText) GenerateText(ctx context.Context, systemPrompt, userPrompt string, out any) error {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, userPrompt),
	}

	response, err := t.llm.GenerateContent(ctx, messages)
	if err != nil {
		return fmt.Errorf("generate: %w", err)
	}
	if len(response.Choices) == 0 {
		return fmt.Errorf("no response choices")
	}

	raw := stripJSONFence(response.Choices[0].Content)
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("decode structured response: %w", err)
	}
	return nil
}

// stripJSONFence removes a surrounding ```json ... ``` fence if present.
func stripJSONFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

var _ TextGenerator = (*LLMText)(nil)
