package history

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/querydeck/querydeck/internal/domain"
)

// LookupToolName is the tool name advertised to the LLM.
const LookupToolName = "query_result_lookup"

// LookupTool resolves query_result_lookup tool calls against a session's
// Store. It is a pure read: invoking it never mutates the store or the
// conversation, and its results are excluded from redaction accounting.
type LookupTool struct {
	store *Store
}

// NewLookupTool creates a lookup tool bound to store.
func NewLookupTool(store *Store) *LookupTool {
	return &LookupTool{store: store}
}

// Lookup returns the complete stored QueryResult for index, or a
// *NotFoundError naming the invalid index and the valid index set.
func (t *LookupTool) Lookup(index int) (*domain.QueryResult, error) {
	result, err := t.store.Get(index)
	if err != nil {
		return nil, fmt.Errorf("history.LookupTool.Lookup: %w", err)
	}
	return result, nil
}

// lookupArgs is the JSON argument shape the LLM sends.
type lookupArgs struct {
	Index json.Number `json:"index"`
}

// lookupError is the structured error payload returned to the LLM.
type lookupError struct {
	Error        string `json:"error"`
	InvalidIndex any    `json:"invalid_index"`
	ValidIndices []int  `json:"valid_indices"`
}

// Invoke parses raw tool-call arguments and returns a JSON payload: the full
// QueryResult on success, or a structured error listing valid indices. The
// error payload is a recoverable outcome for the LLM, so Invoke only returns
// a Go error on encoding failures.
func (t *LookupTool) Invoke(rawArgs []byte) (string, error) {
	var args lookupArgs
	if err := json.Unmarshal(rawArgs, &args); err != nil {
		return encodeLookupError(string(rawArgs), t.store.ValidIndices(),
			"arguments must be an object with an integer \"index\"")
	}

	index, err := args.Index.Int64()
	if err != nil {
		return encodeLookupError(args.Index.String(), t.store.ValidIndices(),
			fmt.Sprintf("index %q is not an integer", args.Index.String()))
	}

	result, err := t.Lookup(int(index))
	if err != nil {
		var nf *NotFoundError
		if errors.As(err, &nf) {
			return encodeLookupError(nf.Index, nf.Valid,
				fmt.Sprintf("no query result with index %d", nf.Index))
		}
		return "", err
	}

	return encodeResult(result), nil
}

// Schema returns the JSON Schema for the tool's single required integer
// parameter, in the shape OpenAI-compatible APIs expect.
func (t *LookupTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"index": {
				"type": "integer",
				"description": "1-based index of a previously executed query result"
			}
		},
		"required": ["index"]
	}`)
}

func encodeLookupError(invalidIndex any, valid []int, msg string) (string, error) {
	if valid == nil {
		valid = []int{}
	}
	data, err := json.Marshal(lookupError{
		Error:        msg,
		InvalidIndex: invalidIndex,
		ValidIndices: valid,
	})
	if err != nil {
		return "", fmt.Errorf("history.LookupTool: encode error payload: %w", err)
	}
	return string(data), nil
}
