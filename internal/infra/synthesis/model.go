package synthesis

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"relayd/internal/domain"
)

const systemPrompt = "You are an expert in n8n workflow automation. " +
	"You design workflows as plain JSON documents that import cleanly."

// initializeModel creates the chat model based on configuration.
func initializeModel(ctx context.Context, config domain.SynthesisConfig) (model.ToolCallingChatModel, error) {
	apiKey := strings.TrimSpace(config.APIKey)
	if apiKey == "" {
		envVar := strings.TrimSpace(config.APIKeyEnvVar)
		if envVar == "" {
			return nil, fmt.Errorf("API key is required: set synthesis.apiKey or synthesis.apiKeyEnvVar")
		}
		apiKey = os.Getenv(envVar)
		if apiKey == "" {
			return nil, fmt.Errorf("API key not found in env var %s", envVar)
		}
	}

	switch config.Provider {
	case "openai", "":
		cfg := &openai.ChatModelConfig{
			Model:  config.Model,
			APIKey: apiKey,
		}
		if config.BaseURL != "" {
			cfg.BaseURL = config.BaseURL
		}
		if config.Temperature != 0 {
			temperature := float32(config.Temperature)
			cfg.Temperature = &temperature
		}
		if config.MaxTokens > 0 {
			maxTokens := config.MaxTokens
			cfg.MaxTokens = &maxTokens
		}
		return openai.NewChatModel(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", config.Provider)
	}
}

// einoCompleter adapts a chat model to the Completer interface the engine
// consumes. Latency and token usage are reported per provider/model pair.
type einoCompleter struct {
	config  domain.SynthesisConfig
	model   model.ToolCallingChatModel
	metrics domain.Metrics
}

// NewCompleter builds the production completer from configuration.
func NewCompleter(ctx context.Context, config domain.SynthesisConfig, metrics domain.Metrics) (Completer, error) {
	chatModel, err := initializeModel(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("initialize model: %w", err)
	}
	if metrics == nil {
		metrics = domain.NopMetrics{}
	}
	return &einoCompleter{config: config, model: chatModel, metrics: metrics}, nil
}

func (c *einoCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	messages := []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(prompt),
	}

	started := time.Now()
	response, err := c.model.Generate(ctx, messages)
	c.metrics.ObserveSynthesisLatency(c.config.Provider, c.config.Model, time.Since(started))
	if err != nil {
		return "", fmt.Errorf("LLM generate: %w", err)
	}
	c.observeTokenUsage(response)
	return response.Content, nil
}

func (c *einoCompleter) observeTokenUsage(response *schema.Message) {
	if response == nil || response.ResponseMeta == nil || response.ResponseMeta.Usage == nil {
		return
	}
	tokens := response.ResponseMeta.Usage.TotalTokens
	if tokens <= 0 {
		return
	}
	c.metrics.ObserveSynthesisTokens(c.config.Provider, c.config.Model, tokens)
}
