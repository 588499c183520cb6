package llm

import (
	"context"

	"github.com/no-ai-labs/spice-go/agent"
	"github.com/no-ai-labs/spice-go/result"
	"github.com/no-ai-labs/spice-go/schema"
)

// NewChatAgent wraps a ChatModel as an agent. The incoming Comm's content
// becomes the user turn; the optional system prompt leads the conversation.
func NewChatAgent(id, name, systemPrompt string, model ChatModel, opts ...agent.Option) agent.Agent {
	handler := func(ctx context.Context, msg schema.Comm) result.Result[schema.Comm] {
		var messages []Message
		if systemPrompt != "" {
			messages = append(messages, Message{Role: string(schema.RoleSystem), Content: systemPrompt})
		}
		messages = append(messages, Message{Role: string(msg.Role), Content: msg.Content})

		resp, err := model.Chat(ctx, Request{Messages: messages})
		if err != nil {
			return result.Failure[schema.Comm](result.FromError(err).WithContext("model", model.Model()))
		}

		reply := msg.Reply(resp.Content, id)
		reply.SetMetadata("model", resp.Model)
		reply.SetMetadata("prompt_tokens", resp.Usage.PromptTokens)
		reply.SetMetadata("completion_tokens", resp.Usage.CompletionTokens)
		return result.Success(reply)
	}

	opts = append([]agent.Option{agent.WithHandler(handler)}, opts...)
	return agent.New(id, name, opts...)
}
