package schema

// ToolResultStatus enumerates tool execution outcomes.
type ToolResultStatus string

const (
	ToolStatusSuccess     ToolResultStatus = "SUCCESS"
	ToolStatusError       ToolResultStatus = "ERROR"
	ToolStatusWaitingHITL ToolResultStatus = "WAITING_HITL"
	ToolStatusTimeout     ToolResultStatus = "TIMEOUT"
	ToolStatusCancelled   ToolResultStatus = "CANCELLED"
)

// ToolResult carries a tool execution outcome. Status distinguishes
// recoverable waits (WAITING_HITL) from terminal errors.
type ToolResult struct {
	Status    ToolResultStatus `json:"status"`
	Result    any              `json:"result,omitempty"`
	Message   string           `json:"message,omitempty"`
	Error     string           `json:"error,omitempty"`
	ErrorCode string           `json:"error_code,omitempty"`
	Metadata  map[string]any   `json:"metadata,omitempty"`
}

// SuccessResult builds a SUCCESS ToolResult.
func SuccessResult(value any) ToolResult {
	return ToolResult{Status: ToolStatusSuccess, Result: value}
}

// ErrorResult builds an ERROR ToolResult.
func ErrorResult(message, code string) ToolResult {
	return ToolResult{Status: ToolStatusError, Error: message, ErrorCode: code}
}

// WaitingResult builds a WAITING_HITL ToolResult with the given metadata.
func WaitingResult(metadata map[string]any) ToolResult {
	return ToolResult{Status: ToolStatusWaitingHITL, Metadata: metadata}
}

// TimeoutResult builds a TIMEOUT ToolResult.
func TimeoutResult(message string) ToolResult {
	return ToolResult{Status: ToolStatusTimeout, Message: message}
}

// CancelledResult builds a CANCELLED ToolResult.
func CancelledResult(message string) ToolResult {
	return ToolResult{Status: ToolStatusCancelled, Message: message}
}

// IsWaiting reports whether the result suspends the caller for HITL.
func (r ToolResult) IsWaiting() bool {
	return r.Status == ToolStatusWaitingHITL
}

// MetadataValue reads a metadata entry; nil when absent.
func (r ToolResult) MetadataValue(key string) any {
	if r.Metadata == nil {
		return nil
	}
	return r.Metadata[key]
}
