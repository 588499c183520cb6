// Package hitl coordinates human-in-the-loop interactions: a tool emits a
// request and suspends its graph run at WAITING; a response arriving on the
// event bus resumes the run through its checkpoint.
package hitl

import (
	"github.com/no-ai-labs/spice-go/schema"
)

// Event bus channels carrying HITL traffic.
const (
	ChannelRequest  = "hitl.request"
	ChannelResponse = "hitl.response"

	eventVersion = "v1"
)

// SelectionType describes what kind of answer a request expects.
const (
	SelectionSingle   = "single"
	SelectionMultiple = "multiple"
	SelectionFreeText = "free_text"
)

// ResponseStatus enumerates the allowed response outcomes. Each maps 1:1 to
// a ToolResultStatus.
type ResponseStatus string

const (
	ResponseCompleted ResponseStatus = "COMPLETED"
	ResponseTimeout   ResponseStatus = "TIMEOUT"
	ResponseCancelled ResponseStatus = "CANCELLED"
	ResponseError     ResponseStatus = "ERROR"
)

// Request asks a human for input.
type Request struct {
	ToolCallID    string            `json:"tool_call_id"`
	Prompt        string            `json:"prompt"`
	Options       []string          `json:"options,omitempty"`
	AllowFreeText bool              `json:"allow_free_text"`
	SelectionType string            `json:"selection_type"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Response answers a request. Value is present for COMPLETED; Reason
// explains TIMEOUT, CANCELLED and ERROR.
type Response struct {
	ToolCallID string         `json:"tool_call_id"`
	Status     ResponseStatus `json:"status"`
	Value      string         `json:"value,omitempty"`
	Reason     string         `json:"reason,omitempty"`
}

// ToToolResult maps a response onto the tool result it stands for.
func (r Response) ToToolResult() schema.ToolResult {
	switch r.Status {
	case ResponseCompleted:
		return schema.SuccessResult(r.Value)
	case ResponseTimeout:
		return schema.TimeoutResult(r.Reason)
	case ResponseCancelled:
		return schema.CancelledResult(r.Reason)
	default:
		return schema.ErrorResult(r.Reason, string(r.Status))
	}
}
