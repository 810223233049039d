package client

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	aclopenai "github.com/cloudwego/eino-ext/libs/acl/openai"
	"github.com/cloudwego/eino/components/model"
	"google.golang.org/genai"
)

// Provider drivers understood by NewChatModel.
const (
	DriverOpenAI = "openai"
	DriverClaude = "claude"
	DriverGemini = "gemini"
)

type ProviderConfig struct {
	Driver      string
	Model       string
	BaseURL     string
	APIKey      string
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration
	// JSONMode asks OpenAI-compatible endpoints for a json_object response.
	// The other drivers rely on the prompt alone.
	JSONMode bool
}

// NewChatModel builds the eino chat model for a provider driver. DeepSeek and other
// OpenAI-compatible endpoints use DriverOpenAI with a BaseURL.
func NewChatModel(ctx context.Context, cfg ProviderConfig) (model.BaseChatModel, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	maxTokens := cfg.MaxTokens
	temperature := cfg.Temperature

	switch cfg.Driver {
	case DriverOpenAI:
		return openai.NewChatModel(ctx, openAIConfig(cfg))
	case DriverClaude:
		conf := &claude.Config{
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			MaxTokens:   maxTokens,
			Temperature: &temperature,
		}
		if cfg.BaseURL != "" {
			baseURL := cfg.BaseURL
			conf.BaseURL = &baseURL
		}
		return claude.NewChatModel(ctx, conf)
	case DriverGemini:
		clientCfg := &genai.ClientConfig{
			APIKey:  cfg.APIKey,
			Backend: genai.BackendGeminiAPI,
		}
		if cfg.BaseURL != "" {
			clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
		}
		gc, err := genai.NewClient(ctx, clientCfg)
		if err != nil {
			return nil, fmt.Errorf("create gemini client: %w", err)
		}
		return gemini.NewChatModel(ctx, &gemini.Config{
			Client:      gc,
			Model:       cfg.Model,
			MaxTokens:   &maxTokens,
			Temperature: &temperature,
		})
	}
	return nil, fmt.Errorf("unsupported provider driver %q", cfg.Driver)
}

func openAIConfig(cfg ProviderConfig) *openai.ChatModelConfig {
	maxTokens := cfg.MaxTokens
	temperature := cfg.Temperature
	conf := &openai.ChatModelConfig{
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		Model:       cfg.Model,
		MaxTokens:   &maxTokens,
		Temperature: &temperature,
		Timeout:     cfg.Timeout,
	}
	if cfg.JSONMode {
		conf.ResponseFormat = &aclopenai.ChatCompletionResponseFormat{
			Type: aclopenai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	return conf
}
