package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// LLMConfig holds configuration for the LLM client
type LLMConfig struct {
	BaseURL     string        // "http://localhost:11434/v1" (Ollama) or "https://api.openai.com/v1"
	APIKey      string        // Required for OpenAI, "ollama" for local
	Model       string        // "qwen2.5-coder:3b" or "gpt-4o-mini"
	Timeout     time.Duration // Default: 5s
	MaxTokens   int           // Default: 100
	Temperature float32       // Default: 0.3
}

// LLMClient is what the wizard needs from a language model.
type LLMClient interface {
	Complete(ctx context.Context, prompt, system string) (string, error)
	IsAvailable(ctx context.Context) bool
}

// OpenAIClient implements LLMClient using the OpenAI-compatible API
type OpenAIClient struct {
	client *openai.Client
	config LLMConfig
}

// DefaultLLMConfig returns a config suitable for local Ollama
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		BaseURL:     "http://localhost:11434/v1",
		APIKey:      "ollama",
		Model:       "qwen2.5-coder:3b",
		Timeout:     5 * time.Second,
		MaxTokens:   100,
		Temperature: 0.3,
	}
}

// withDefaults fills unset fields from DefaultLLMConfig.
func (c LLMConfig) withDefaults() LLMConfig {
	d := DefaultLLMConfig()
	if c.BaseURL == "" {
		c.BaseURL = d.BaseURL
	}
	if c.APIKey == "" {
		c.APIKey = d.APIKey
	}
	if c.Model == "" {
		c.Model = d.Model
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = d.MaxTokens
	}
	if c.Temperature == 0 {
		c.Temperature = d.Temperature
	}
	return c
}

// NewLLMClient creates a new LLM client with the given configuration
func NewLLMClient(config LLMConfig) (LLMClient, error) {
	config = config.withDefaults()
	if !strings.HasPrefix(config.BaseURL, "http://") && !strings.HasPrefix(config.BaseURL, "https://") {
		return nil, fmt.Errorf("invalid LLM base URL %q", config.BaseURL)
	}

	openaiConfig := openai.DefaultConfig(config.APIKey)
	openaiConfig.BaseURL = strings.TrimSuffix(config.BaseURL, "/")

	return &OpenAIClient{
		client: openai.NewClientWithConfig(openaiConfig),
		config: config,
	}, nil
}

// Complete performs a single-turn completion with optional system prompt
func (c *OpenAIClient) Complete(ctx context.Context, prompt, system string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	var messages []openai.ChatCompletionMessage
	if system != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.config.Model,
		Messages:    messages,
		MaxTokens:   c.config.MaxTokens,
		Temperature: c.config.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("LLM completion failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("LLM returned no choices")
	}

	return resp.Choices[0].Message.Content, nil
}

// IsAvailable reports whether the endpoint answers and serves the configured model. An
// endpoint that lists no models is trusted to serve it.
func (c *OpenAIClient) IsAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	models, err := c.client.ListModels(ctx)
	if err != nil {
		return false
	}
	if len(models.Models) == 0 {
		return true
	}
	for _, m := range models.Models {
		if m.ID == c.config.Model {
			return true
		}
	}
	return false
}
