package history

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/querydeck/querydeck/internal/domain"
)

// Budgets are the rendering policy constants. They are UX tuning knobs, not
// architectural constraints; zero disables the corresponding limit.
type Budgets struct {
	MaxMessages     int
	MessageChars    int
	MessageLines    int
	ToolResultChars int
	ToolResultLines int
}

// DefaultBudgets returns the stock rendering budgets.
func DefaultBudgets() Budgets {
	return Budgets{
		MaxMessages:     20,
		MessageChars:    200,
		MessageLines:    3,
		ToolResultChars: 2000,
		ToolResultLines: 20,
	}
}

// Conversation holds the ordered message sequence exchanged with the LLM for
// one session. Messages are appended in strict chronological order and never
// mutated; redaction and truncation are recomputed at render time.
type Conversation struct {
	mu       sync.RWMutex
	messages []domain.Message
	budgets  Budgets
	clock    func() time.Time
}

// NewConversation creates an empty conversation with the given budgets.
func NewConversation(budgets Budgets) *Conversation {
	return &Conversation{budgets: budgets, clock: time.Now}
}

// AppendSystem appends a system/instruction message. System messages are
// exempt from window counting and always rendered first.
func (c *Conversation) AppendSystem(content string) {
	c.append(domain.Message{Role: domain.RoleSystem, Content: content})
}

// AppendUser appends a user turn.
func (c *Conversation) AppendUser(content string) {
	c.append(domain.Message{Role: domain.RoleUser, Content: content})
}

// AppendAssistant appends an assistant turn.
func (c *Conversation) AppendAssistant(content string) {
	c.append(domain.Message{Role: domain.RoleAssistant, Content: content})
}

// RecordToolExecution synthesizes the tool-call/tool-result pair for a freshly
// recorded QueryResult and appends them in order. Both messages are tagged
// with the result's index and share toolCallID (generated when empty).
// Failures (safeguard rejections, execution errors) travel through this same
// path with Success=false so the LLM can reason about them on later turns.
func (c *Conversation) RecordToolExecution(result *domain.QueryResult, toolCallID string) (domain.Message, domain.Message) {
	if err := result.Validate(); err != nil {
		panic(fmt.Sprintf("history.Conversation.RecordToolExecution: %v", err))
	}
	if toolCallID == "" {
		toolCallID = "call_" + uuid.NewString()
	}

	call := domain.Message{
		Role:        domain.RoleToolCall,
		Content:     result.QueryText,
		LinkedIndex: result.Index,
		ToolCallID:  toolCallID,
	}
	res := domain.Message{
		Role:        domain.RoleToolResult,
		Content:     encodeResult(result),
		LinkedIndex: result.Index,
		ToolCallID:  toolCallID,
	}

	c.mu.Lock()
	call.CreatedAt = c.clock()
	res.CreatedAt = c.clock()
	c.messages = append(c.messages, call, res)
	c.mu.Unlock()

	return call, res
}

// AppendLookup appends the tool-call/tool-result pair for a lookup-tool
// invocation. Lookup results are deliberately unlinked so they never take
// part in redaction accounting: retrieving an old result must not demote the
// current latest one.
func (c *Conversation) AppendLookup(toolCallID, request, response string) {
	if toolCallID == "" {
		toolCallID = "call_" + uuid.NewString()
	}
	c.append(domain.Message{Role: domain.RoleToolCall, Content: request, ToolCallID: toolCallID})
	c.append(domain.Message{Role: domain.RoleToolResult, Content: response, ToolCallID: toolCallID})
}

// Render produces the window actually sent to the LLM: redaction first, then
// per-message truncation, then window limiting. maxMessages <= 0 falls back
// to the configured budget. The underlying messages are left untouched.
func (c *Conversation) Render(maxMessages int) []domain.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if maxMessages <= 0 {
		maxMessages = c.budgets.MaxMessages
	}

	latest := c.latestLinkedLocked()

	var system, rest []domain.Message
	for _, m := range c.messages {
		rendered := c.renderMessage(m, latest, true)
		if m.Role == domain.RoleSystem {
			system = append(system, rendered)
		} else {
			rest = append(rest, rendered)
		}
	}

	if maxMessages > 0 && len(rest) > maxMessages {
		rest = rest[len(rest)-maxMessages:]
	}

	return append(system, rest...)
}

// RenderFull renders every message without truncation or window limiting,
// for diagnostic display. Redaction still applies: only the latest linked
// tool-result carries full row data.
func (c *Conversation) RenderFull() []domain.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()

	latest := c.latestLinkedLocked()
	out := make([]domain.Message, len(c.messages))
	for i, m := range c.messages {
		out[i] = c.renderMessage(m, latest, false)
	}
	return out
}

// Messages returns a copy of the raw stored messages, for persistence.
func (c *Conversation) Messages() []domain.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]domain.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Restore replaces the message sequence with a persisted one.
func (c *Conversation) Restore(messages []domain.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.messages = make([]domain.Message, len(messages))
	copy(c.messages, messages)
}

// Clear empties all messages. Recorded query results are unaffected and stay
// retrievable through the lookup tool.
func (c *Conversation) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = nil
}

// Summary counts messages by role.
type Summary struct {
	Total       int `json:"total"`
	User        int `json:"user"`
	Assistant   int `json:"assistant"`
	ToolCalls   int `json:"tool_calls"`
	ToolResults int `json:"tool_results"`
	System      int `json:"system"`
}

// Stats returns message counts by role.
func (c *Conversation) Stats() Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Summary{Total: len(c.messages)}
	for _, m := range c.messages {
		switch m.Role {
		case domain.RoleUser:
			s.User++
		case domain.RoleAssistant:
			s.Assistant++
		case domain.RoleToolCall:
			s.ToolCalls++
		case domain.RoleToolResult:
			s.ToolResults++
		case domain.RoleSystem:
			s.System++
		}
	}
	return s
}

func (c *Conversation) append(m domain.Message) {
	if !m.Role.Valid() {
		panic(fmt.Sprintf("history.Conversation: invalid role %q", m.Role))
	}

	c.mu.Lock()
	m.CreatedAt = c.clock()
	c.messages = append(c.messages, m)
	c.mu.Unlock()
}

// latestLinkedLocked returns the highest QueryResult index referenced by a
// tool-result message, or 0 when none. The caller holds at least a read lock,
// so one render call observes a single consistent value.
func (c *Conversation) latestLinkedLocked() int {
	latest := 0
	for _, m := range c.messages {
		if m.Role == domain.RoleToolResult && m.LinkedIndex > latest {
			latest = m.LinkedIndex
		}
	}
	return latest
}

// renderMessage computes the rendered form of one message as a pure function
// of (message, latest linked index). The stored message is never modified.
func (c *Conversation) renderMessage(m domain.Message, latest int, truncate bool) domain.Message {
	rendered := m

	if m.Role == domain.RoleToolResult && m.LinkedIndex > 0 && m.LinkedIndex != latest {
		rendered.Content = redactedPlaceholder(m)
		return rendered
	}

	if !truncate {
		return rendered
	}

	if m.Role == domain.RoleToolResult {
		rendered.Content = truncateContent(m.Content, c.budgets.ToolResultChars, c.budgets.ToolResultLines)
	} else {
		rendered.Content = truncateContent(m.Content, c.budgets.MessageChars, c.budgets.MessageLines)
	}
	return rendered
}

// redactedPlaceholder compacts an older tool-result to its index, status and
// row count, plus the retrieval instruction. It never contains row data.
func redactedPlaceholder(m domain.Message) string {
	var payload domain.QueryResult
	if err := json.Unmarshal([]byte(m.Content), &payload); err != nil {
		log.Warn().Err(err).Int("linked_index", m.LinkedIndex).
			Msg("history: undecodable tool-result payload during redaction")
		return fmt.Sprintf(
			"[query result #%d redacted — retrieve the full data with the query_result_lookup tool using index %d]",
			m.LinkedIndex, m.LinkedIndex)
	}

	status := "succeeded"
	if !payload.Success {
		status = "failed"
	}
	return fmt.Sprintf(
		"[query result #%d: %s, %d rows — retrieve the full data with the query_result_lookup tool using index %d]",
		m.LinkedIndex, status, payload.RowCount, m.LinkedIndex)
}

// truncateContent cuts s to the given character/line budget and appends a
// marker naming how much was omitted. Zero budgets disable the cut.
func truncateContent(s string, maxChars, maxLines int) string {
	cut := s

	if maxLines > 0 {
		lines := strings.SplitAfterN(cut, "\n", maxLines+1)
		if len(lines) > maxLines {
			cut = strings.Join(lines[:maxLines], "")
			cut = strings.TrimSuffix(cut, "\n")
		}
	}
	if maxChars > 0 && len(cut) > maxChars {
		cut = cut[:maxChars]
		for len(cut) > 0 && !utf8.ValidString(cut) {
			cut = cut[:len(cut)-1]
		}
	}

	if len(cut) >= len(s) {
		return s
	}
	// cut is a prefix of s. When only trailing whitespace was trimmed the
	// marker would announce omitted content that carries none.
	if strings.TrimSpace(s[len(cut):]) == "" {
		return s
	}
	return cut + fmt.Sprintf("\n[truncated: %d characters omitted]", len(s)-len(cut))
}

// encodeResult marshals the full structured payload stored in a tool-result
// message.
func encodeResult(r *domain.QueryResult) string {
	data, err := json.Marshal(r)
	if err != nil {
		// QueryResult contains only JSON-safe values once normalized by the
		// executor; a marshal failure means a contract violation upstream.
		panic(fmt.Sprintf("history: encode query result %d: %v", r.Index, err))
	}
	return string(data)
}
