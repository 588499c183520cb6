package llm

import (
	"context"
	"fmt"

	"github.com/voocel/litellm"
)

// Config selects a model and carries provider credentials.
type Config struct {
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float64
	MaxTokens   int
}

type liteLLMModel struct {
	client *litellm.Client
	config Config
}

// NewLiteLLM builds a ChatModel over litellm. The provider is inferred
// from the model name; unknown names fall back to the OpenAI-compatible
// path.
func NewLiteLLM(config Config) ChatModel {
	var opt litellm.ClientOption
	switch {
	case isAnthropicModel(config.Model):
		if config.BaseURL != "" {
			opt = litellm.WithAnthropic(config.APIKey, config.BaseURL)
		} else {
			opt = litellm.WithAnthropic(config.APIKey)
		}
	case isGeminiModel(config.Model):
		if config.BaseURL != "" {
			opt = litellm.WithGemini(config.APIKey, config.BaseURL)
		} else {
			opt = litellm.WithGemini(config.APIKey)
		}
	default:
		if config.BaseURL != "" {
			opt = litellm.WithOpenAI(config.APIKey, config.BaseURL)
		} else {
			opt = litellm.WithOpenAI(config.APIKey)
		}
	}

	return &liteLLMModel{
		client: litellm.New(opt),
		config: config,
	}
}

func (m *liteLLMModel) Model() string { return m.config.Model }

func (m *liteLLMModel) Chat(ctx context.Context, req Request) (*Response, error) {
	if req.Model == "" {
		req.Model = m.config.Model
	}
	if req.Temperature == 0 {
		req.Temperature = m.config.Temperature
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = m.config.MaxTokens
	}

	messages := make([]litellm.Message, len(req.Messages))
	for i, msg := range req.Messages {
		messages[i] = litellm.Message{Role: msg.Role, Content: msg.Content}
	}

	litellmReq := &litellm.Request{
		Model:    req.Model,
		Messages: messages,
	}
	if req.Temperature != 0 {
		litellmReq.Temperature = litellm.Float64Ptr(req.Temperature)
	}
	if req.MaxTokens != 0 {
		litellmReq.MaxTokens = litellm.IntPtr(req.MaxTokens)
	}

	resp, err := m.client.Chat(ctx, litellmReq)
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}

	return &Response{
		Content: resp.Content,
		Model:   req.Model,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.PromptTokens + resp.Usage.CompletionTokens,
		},
	}, nil
}
