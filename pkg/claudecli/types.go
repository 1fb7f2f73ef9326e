// Package claudecli pins the stream-json wire format emitted by the agent CLI.
// The CLI writes newline-delimited JSON objects to stdout; each object carries a
// type field that selects which of the remaining fields are populated. Unknown
// types and unknown keys are ignorable by contract.
package claudecli

import "encoding/json"

// Message types emitted on the CLI's stdout stream.
const (
	// MessageTypeSystem is the initial system message with session info.
	MessageTypeSystem = "system"
	// MessageTypeAssistant carries assistant text and tool-use content blocks.
	MessageTypeAssistant = "assistant"
	// MessageTypeResult is the final result message before exit.
	MessageTypeResult = "result"
)

// Content block types inside assistant messages.
const (
	BlockTypeText    = "text"
	BlockTypeToolUse = "tool_use"
)

// Tool names the CLI reports in tool_use blocks. Only the file-affecting
// subset matters to the engine; everything else passes through untouched.
const (
	ToolRead  = "Read"
	ToolEdit  = "Edit"
	ToolWrite = "Write"
	ToolBash  = "Bash"
	ToolGlob  = "Glob"
	ToolGrep  = "Grep"
)

// Sidechannel tool names as they appear in tool_use blocks. The CLI prefixes
// MCP tools with mcp__<server>__, so spawn_agent arrives in both spellings.
const (
	ToolSpawnAgent    = "spawn_agent"
	ToolSpawnAgentMCP = "mcp__orchestra__spawn_agent"
)

// CLIMessage is a single stdout line after JSON decoding. Only the fields for
// the reported Type are meaningful.
type CLIMessage struct {
	Type string `json:"type"`

	// For system messages.
	SessionID string `json:"session_id,omitempty"`
	Subtype   string `json:"subtype,omitempty"`

	// For assistant messages.
	Message *AssistantMessage `json:"message,omitempty"`

	// For result messages. Result is a string in the common case but the CLI
	// occasionally emits an object, so it stays raw until inspected.
	Result     json.RawMessage `json:"result,omitempty"`
	IsError    bool            `json:"is_error,omitempty"`
	DurationMS int64           `json:"duration_ms,omitempty"`
	NumTurns   int             `json:"num_turns,omitempty"`
}

// AssistantMessage contains the assistant's response content.
type AssistantMessage struct {
	Role    string         `json:"role,omitempty"`
	Model   string         `json:"model,omitempty"`
	Content []ContentBlock `json:"content,omitempty"`
}

// ContentBlock is one element of an assistant message's content array.
type ContentBlock struct {
	Type string `json:"type"`

	// For text blocks.
	Text string `json:"text,omitempty"`

	// For tool_use blocks.
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`
}

// ResultText extracts the final result as a string. Object-shaped results
// yield their compact JSON encoding so no output is silently dropped.
func (m *CLIMessage) ResultText() string {
	if len(m.Result) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(m.Result, &s); err == nil {
		return s
	}
	return string(m.Result)
}
