package v1

import (
	"context"

	"github.com/querydeck/querydeck/internal/domain"
	"github.com/querydeck/querydeck/internal/history"
	"github.com/querydeck/querydeck/internal/session"
)

// Session abstracts one session's operations for handler testing.
// *session.Coordinator satisfies this interface.
type Session interface {
	ExecuteQuery(ctx context.Context, query string) (*session.QueryOutcome, error)
	Ask(ctx context.Context, question string) (string, error)
	History(full bool) []domain.Message
	Stats() history.Summary
	Results() []*domain.QueryResult
	Lookup(index int) (*domain.QueryResult, error)
	ClearHistory(ctx context.Context)
	SetSafeguard(enabled bool)
	SafeguardEnabled() bool
}

// SessionService abstracts session creation and lookup for handler testing.
// The server wraps *session.Manager to satisfy it.
type SessionService interface {
	Get(ctx context.Context, id string) (Session, error)
	Active() []string
}
