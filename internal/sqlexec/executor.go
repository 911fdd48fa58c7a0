// Package sqlexec executes SQL against the PostgreSQL warehouse and
// normalizes results into JSON-safe rows for the result store.
package sqlexec

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Result is one execution's normalized outcome.
type Result struct {
	Columns       []string
	Rows          []map[string]any
	RowCount      int
	ExecutionTime float64
}

// Executor runs a query and returns its rows. Implementations must preserve
// backend error text verbatim inside returned errors so the LLM can
// self-correct on the next turn.
type Executor interface {
	Execute(ctx context.Context, query string) (*Result, error)
}

// PGExecutor executes queries over a pgx connection pool.
type PGExecutor struct {
	pool *pgxpool.Pool
}

// NewPG connects a pool and verifies it with a ping.
func NewPG(ctx context.Context, dsn string, maxConns int32) (*PGExecutor, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlexec.NewPG: parse config: %w", err)
	}
	cfg.MaxConns = maxConns

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("sqlexec.NewPG: connect: %w", err)
	}

	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("sqlexec.NewPG: ping: %w", err)
	}

	return &PGExecutor{pool: pool}, nil
}

// Close releases the pool.
func (e *PGExecutor) Close() {
	e.pool.Close()
}

// Execute runs query and collects all rows. Statements that return no rows
// (DDL, writes executed with the safeguard off) yield an empty result.
func (e *PGExecutor) Execute(ctx context.Context, query string) (*Result, error) {
	start := time.Now()

	rows, err := e.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("sqlexec.PGExecutor.Execute: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = f.Name
	}

	var out []map[string]any
	for rows.Next() {
		values, valErr := rows.Values()
		if valErr != nil {
			return nil, fmt.Errorf("sqlexec.PGExecutor.Execute: read row: %w", valErr)
		}

		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = NormalizeValue(values[i])
		}
		out = append(out, row)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlexec.PGExecutor.Execute: %w", err)
	}

	return &Result{
		Columns:       columns,
		Rows:          out,
		RowCount:      len(out),
		ExecutionTime: time.Since(start).Seconds(),
	}, nil
}

// NormalizeValue converts pgx driver values into JSON-safe scalars. UUIDs
// arrive as [16]byte, bytea as []byte; everything else common (int64,
// float64, string, bool, time.Time, nil) marshals cleanly as-is.
func NormalizeValue(v any) any {
	switch val := v.(type) {
	case [16]byte:
		return formatUUID(val)
	case []byte:
		if len(val) == 16 {
			var b [16]byte
			copy(b[:], val)
			return formatUUID(b)
		}
		if utf8.Valid(val) {
			return string(val)
		}
		return fmt.Sprintf(`\x%x`, val)
	case time.Time:
		return val.Format(time.RFC3339Nano)
	case fmt.Stringer:
		return val.String()
	default:
		return v
	}
}

func formatUUID(b [16]byte) string {
	return fmt.Sprintf("%02x%02x%02x%02x-%02x%02x-%02x%02x-%02x%02x-%02x%02x%02x%02x%02x%02x",
		b[0], b[1], b[2], b[3], b[4], b[5], b[6], b[7],
		b[8], b[9], b[10], b[11], b[12], b[13], b[14], b[15])
}
