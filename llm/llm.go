// Package llm adapts chat models to the agent contract. The concrete
// provider rides on litellm so OpenAI, Anthropic and Gemini models share
// one code path.
package llm

import (
	"context"
	"strings"
)

// Message is one turn of a chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a provider-neutral chat completion request.
type Request struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// Usage reports token consumption for one completion.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response is a provider-neutral chat completion.
type Response struct {
	Content string
	Model   string
	Usage   Usage
}

// ChatModel is the minimal surface agents need from a model provider.
type ChatModel interface {
	Model() string
	Chat(ctx context.Context, req Request) (*Response, error)
}

func isAnthropicModel(model string) bool {
	return strings.HasPrefix(model, "claude")
}

func isGeminiModel(model string) bool {
	return strings.HasPrefix(model, "gemini")
}
