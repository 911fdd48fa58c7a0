// Package session ties one conversation and one query-result store together
// per session id and serializes query execution within that session.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/querydeck/querydeck/internal/domain"
	"github.com/querydeck/querydeck/internal/history"
	"github.com/querydeck/querydeck/internal/llm"
	"github.com/querydeck/querydeck/internal/safeguard"
	"github.com/querydeck/querydeck/internal/sqlexec"
)

// ErrTooManyToolRounds is returned when the LLM keeps requesting tools past
// the configured round budget within a single turn.
var ErrTooManyToolRounds = errors.New("session: too many tool rounds")

// ExecuteToolName is the query-execution tool advertised to the LLM.
const ExecuteToolName = "execute_query"

// LLMClient is the external LLM collaborator.
type LLMClient interface {
	Chat(ctx context.Context, messages []llm.Message, tools []llm.Tool) (*llm.Response, error)
}

// Status is the tri-state outcome label callers branch on. They never have to
// parse error text to tell the three cases apart.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusBlocked Status = "blocked"
)

// QueryOutcome is the outermost-caller view of one executed query.
type QueryOutcome struct {
	Status     Status              `json:"status"`
	Result     *domain.QueryResult `json:"result"`
	Operations []string            `json:"operations,omitempty"`
	Warnings   []string            `json:"warnings,omitempty"`
}

// TurnConfig holds per-session policy.
type TurnConfig struct {
	SafeguardEnabled bool
	QueryTimeout     time.Duration
	MaxToolRounds    int
	SystemPrompt     string
}

// Coordinator owns one session: its result store, conversation, safeguard
// state, and turn serialization. At most one turn (query execution, recording
// and LLM invocation) is in flight per session at a time.
type Coordinator struct {
	id        string
	store     *history.Store
	conv      *history.Conversation
	analyzer  *safeguard.Analyzer
	executor  sqlexec.Executor
	llmClient LLMClient
	lookup    *history.LookupTool
	events    *EventBus
	persister Persister

	mu        sync.Mutex // serializes turns and guards safeguard state
	safeguard bool
	timeout   time.Duration
	maxRounds int
}

func newCoordinator(
	id string,
	store *history.Store,
	conv *history.Conversation,
	analyzer *safeguard.Analyzer,
	executor sqlexec.Executor,
	llmClient LLMClient,
	events *EventBus,
	persister Persister,
	cfg TurnConfig,
) *Coordinator {
	if cfg.SystemPrompt != "" {
		conv.AppendSystem(cfg.SystemPrompt)
	}
	return &Coordinator{
		id:        id,
		store:     store,
		conv:      conv,
		analyzer:  analyzer,
		executor:  executor,
		llmClient: llmClient,
		lookup:    history.NewLookupTool(store),
		events:    events,
		persister: persister,
		safeguard: cfg.SafeguardEnabled,
		timeout:   cfg.QueryTimeout,
		maxRounds: cfg.MaxToolRounds,
	}
}

// ID returns the session id.
func (c *Coordinator) ID() string { return c.id }

// SetSafeguard toggles the dangerous-operation gate for this session.
func (c *Coordinator) SetSafeguard(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.safeguard = enabled
}

// SafeguardEnabled reports the current gate state.
func (c *Coordinator) SafeguardEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.safeguard
}

// ExecuteQuery runs one SQL statement through the safeguard/record pipeline
// directly, without involving the LLM.
func (c *Coordinator) ExecuteQuery(ctx context.Context, query string) (*QueryOutcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.executeQueryLocked(ctx, query, "")
}

// Ask runs one natural-language turn: the user message is appended, the LLM
// is invoked with the rendered window and the tool schema, tool calls are
// resolved and fed back, and the final assistant text is returned.
func (c *Coordinator) Ask(ctx context.Context, question string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conv.AppendUser(question)
	defer c.persistMessages(ctx)

	for round := 0; round < c.maxRounds; round++ {
		c.events.Emit(Event{SessionID: c.id, Type: EventThinking})

		resp, err := c.llmClient.Chat(ctx, c.wireMessages(), c.toolSchemas())
		if err != nil {
			return "", fmt.Errorf("session.Coordinator.Ask: %w", err)
		}

		if len(resp.ToolCalls) == 0 {
			c.conv.AppendAssistant(resp.Content)
			c.events.Emit(Event{SessionID: c.id, Type: EventMessageAdded, Text: resp.Content})
			return resp.Content, nil
		}

		// Some models interleave commentary with their tool calls. Keep it.
		if resp.Content != "" {
			c.conv.AppendAssistant(resp.Content)
			c.events.Emit(Event{SessionID: c.id, Type: EventMessageAdded, Text: resp.Content})
		}

		for _, call := range resp.ToolCalls {
			c.dispatchToolCall(ctx, call)
		}
	}

	return "", fmt.Errorf("session.Coordinator.Ask: %w", ErrTooManyToolRounds)
}

// History returns the conversation as rendered for the LLM, or the full
// diagnostic rendering when full is true.
func (c *Coordinator) History(full bool) []domain.Message {
	if full {
		return c.conv.RenderFull()
	}
	return c.conv.Render(0)
}

// Stats returns message counts by role.
func (c *Coordinator) Stats() history.Summary { return c.conv.Stats() }

// Results returns every recorded query result in index order.
func (c *Coordinator) Results() []*domain.QueryResult { return c.store.All() }

// Lookup retrieves one stored result by index.
func (c *Coordinator) Lookup(index int) (*domain.QueryResult, error) {
	return c.lookup.Lookup(index)
}

// ClearHistory empties the conversation. Recorded query results stay
// retrievable by index.
func (c *Coordinator) ClearHistory(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conv.Clear()
	c.persistMessages(ctx)
}

// executeQueryLocked is the single pipeline every query goes through:
// classify, execute (or reject), record, append the tool pair, emit events.
// The caller holds c.mu. toolCallID is non-empty when the LLM initiated the
// execution.
func (c *Coordinator) executeQueryLocked(ctx context.Context, query, toolCallID string) (*QueryOutcome, error) {
	c.events.Emit(Event{SessionID: c.id, Type: EventQueryStarted, Text: query})

	analysis := c.analyzer.Classify(query, c.safeguard)
	if !analysis.Allowed {
		outcome := c.recordLocked(ctx, history.RecordInput{
			QueryText: query,
			Success:   false,
			Error:     "query blocked by safeguard: " + strings.Join(analysis.Operations, ", "),
		}, toolCallID)
		outcome.Status = StatusBlocked
		outcome.Operations = analysis.Operations
		return outcome, nil
	}

	execCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	in := history.RecordInput{QueryText: query}
	res, err := c.executor.Execute(execCtx, query)
	switch {
	case err == nil:
		in.Success = true
		in.Columns = res.Columns
		in.Rows = res.Rows
		in.RowCount = res.RowCount
		in.ExecutionTime = res.ExecutionTime
	case errors.Is(err, context.DeadlineExceeded):
		in.Error = fmt.Sprintf("query timed out after %s", c.timeout)
	default:
		// Backend error text is preserved verbatim so the LLM can
		// self-correct on the next turn.
		in.Error = err.Error()
	}

	outcome := c.recordLocked(ctx, in, toolCallID)
	outcome.Warnings = analysis.Warnings
	if in.Success {
		outcome.Status = StatusSuccess
	} else {
		outcome.Status = StatusError
	}
	return outcome, nil
}

// recordLocked stores the outcome, appends the tool-call/tool-result pair and
// emits completion events. A persistence flush failure is logged inside the
// store and does not abort the turn: the in-memory result stays canonical.
func (c *Coordinator) recordLocked(ctx context.Context, in history.RecordInput, toolCallID string) *QueryOutcome {
	index, err := c.store.Record(ctx, in)
	if err != nil {
		log.Warn().Err(err).Str("session_id", c.id).Int("index", index).
			Msg("session.Coordinator: result persisted in memory only")
	}

	result, err := c.store.Get(index)
	if err != nil {
		// Get on a just-assigned index cannot fail unless the store invariant
		// is broken.
		panic(fmt.Sprintf("session.Coordinator: read back index %d: %v", index, err))
	}

	c.conv.RecordToolExecution(result, toolCallID)
	c.persistMessages(ctx)

	c.events.Emit(Event{SessionID: c.id, Type: EventToolExecuted, Result: result})
	c.events.Emit(Event{SessionID: c.id, Type: EventQueryComplete, Result: result})

	return &QueryOutcome{Result: result}
}

// dispatchToolCall resolves one LLM tool-call request and appends its result
// to the conversation.
func (c *Coordinator) dispatchToolCall(ctx context.Context, call llm.ToolCall) {
	switch call.Function.Name {
	case ExecuteToolName:
		var args struct {
			Query string `json:"query"`
		}
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil || strings.TrimSpace(args.Query) == "" {
			c.conv.AppendLookup(call.ID, call.Function.Arguments,
				`{"error":"arguments must be an object with a non-empty string \"query\""}`)
			return
		}

		if _, err := c.executeQueryLocked(ctx, args.Query, call.ID); err != nil {
			log.Error().Err(err).Str("session_id", c.id).Msg("session.Coordinator: execute tool call")
		}

	case history.LookupToolName:
		payload, err := c.lookup.Invoke([]byte(call.Function.Arguments))
		if err != nil {
			log.Error().Err(err).Str("session_id", c.id).Msg("session.Coordinator: lookup tool call")
			payload = `{"error":"internal lookup failure"}`
		}
		c.conv.AppendLookup(call.ID, call.Function.Arguments, payload)
		c.events.Emit(Event{SessionID: c.id, Type: EventToolExecuted, Text: history.LookupToolName})

	default:
		c.conv.AppendLookup(call.ID, call.Function.Arguments,
			fmt.Sprintf(`{"error":"unknown tool %q"}`, call.Function.Name))
	}
}

// wireMessages converts the rendered window into API wire format.
func (c *Coordinator) wireMessages() []llm.Message {
	rendered := c.conv.Render(0)
	out := make([]llm.Message, 0, len(rendered))
	seen := make(map[string]bool)

	for _, m := range rendered {
		switch m.Role {
		case domain.RoleToolCall:
			seen[m.ToolCallID] = true
			name := history.LookupToolName
			args := m.Content
			if m.LinkedIndex > 0 {
				name = ExecuteToolName
				encoded, err := json.Marshal(map[string]string{"query": m.Content})
				if err == nil {
					args = string(encoded)
				}
			}
			out = append(out, llm.Message{
				Role: "assistant",
				ToolCalls: []llm.ToolCall{{
					ID:       m.ToolCallID,
					Type:     "function",
					Function: llm.FunctionCall{Name: name, Arguments: args},
				}},
			})
		case domain.RoleToolResult:
			// The window can cut between a tool-call/tool-result pair. A
			// tool message without its calling assistant message is rejected
			// by chat-completions APIs, so orphans are dropped from the wire.
			if !seen[m.ToolCallID] {
				continue
			}
			out = append(out, llm.Message{Role: "tool", Content: m.Content, ToolCallID: m.ToolCallID})
		default:
			out = append(out, llm.Message{Role: string(m.Role), Content: m.Content})
		}
	}
	return out
}

func (c *Coordinator) toolSchemas() []llm.Tool {
	return []llm.Tool{
		llm.NewTool(ExecuteToolName,
			"Execute a SQL query against the connected database and record its result.",
			json.RawMessage(`{
				"type": "object",
				"properties": {
					"query": {"type": "string", "description": "The SQL query to execute"}
				},
				"required": ["query"]
			}`)),
		llm.NewTool(history.LookupToolName,
			"Retrieve the full data of a previously executed query result by its index.",
			c.lookup.Schema()),
	}
}

func (c *Coordinator) persistMessages(ctx context.Context) {
	if c.persister == nil {
		return
	}
	if err := c.persister.SaveMessages(ctx, c.id, c.conv.Messages()); err != nil {
		log.Error().Err(err).Str("session_id", c.id).
			Msg("session.Coordinator: persist messages")
	}
}
