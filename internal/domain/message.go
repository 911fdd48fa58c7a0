package domain

import "time"

// Role is the closed set of conversation message roles.
type Role string

const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleToolCall   Role = "tool_call"
	RoleToolResult Role = "tool_result"
	RoleSystem     Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleToolCall, RoleToolResult, RoleSystem:
		return true
	}
	return false
}

// Message is one turn in the LLM-facing conversation history. Messages are
// append-only; rendering may truncate or redact the content it emits but the
// stored message is never mutated.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// LinkedIndex references a QueryResult index for tool_call/tool_result
	// pairs produced by query execution. Zero means not linked; lookup-tool
	// results are appended unlinked so they never take part in redaction.
	LinkedIndex int `json:"linked_index,omitempty"`

	// ToolCallID correlates a tool_call message with its tool_result.
	ToolCallID string `json:"tool_call_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
