package domain

import (
	"fmt"
	"time"
)

// QueryResult is the immutable outcome of one executed (or blocked) query.
// Indices are assigned sequentially per session starting at 1 and are never
// reused. A blocked or failed query still consumes an index.
type QueryResult struct {
	Index         int              `json:"index"`
	Timestamp     time.Time        `json:"timestamp"`
	QueryText     string           `json:"query_text"`
	Success       bool             `json:"success"`
	Columns       []string         `json:"columns,omitempty"`
	Rows          []map[string]any `json:"rows,omitempty"`
	RowCount      int              `json:"row_count"`
	Error         string           `json:"error,omitempty"`
	ExecutionTime float64          `json:"execution_time"`
}

// Validate checks programming-contract invariants. A violation here means a
// broken caller, not a runtime condition, so callers treat it as fatal.
func (r *QueryResult) Validate() error {
	if r.Index < 1 {
		return fmt.Errorf("domain.QueryResult.Validate: index %d < 1", r.Index)
	}
	if r.ExecutionTime < 0 {
		return fmt.Errorf("domain.QueryResult.Validate: negative execution time %f", r.ExecutionTime)
	}
	if r.Success && r.Error != "" {
		return fmt.Errorf("domain.QueryResult.Validate: success with error %q", r.Error)
	}
	if !r.Success && r.Error == "" {
		return fmt.Errorf("domain.QueryResult.Validate: failure without error text")
	}
	return nil
}

// Clone returns a deep copy so stored results stay immutable even when
// callers mutate the returned rows.
func (r *QueryResult) Clone() *QueryResult {
	cp := *r
	if r.Columns != nil {
		cp.Columns = make([]string, len(r.Columns))
		copy(cp.Columns, r.Columns)
	}
	if r.Rows != nil {
		cp.Rows = make([]map[string]any, len(r.Rows))
		for i, row := range r.Rows {
			dst := make(map[string]any, len(row))
			for k, v := range row {
				dst[k] = v
			}
			cp.Rows[i] = dst
		}
	}
	return &cp
}
