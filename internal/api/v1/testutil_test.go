package v1_test

import (
	"context"

	v1 "github.com/querydeck/querydeck/internal/api/v1"
	"github.com/querydeck/querydeck/internal/domain"
	"github.com/querydeck/querydeck/internal/history"
	"github.com/querydeck/querydeck/internal/session"
)

// ---------------------------------------------------------------------------
// Mock SessionService
// ---------------------------------------------------------------------------

type mockSessionService struct {
	getFunc    func(ctx context.Context, id string) (v1.Session, error)
	activeFunc func() []string
}

func (m *mockSessionService) Get(ctx context.Context, id string) (v1.Session, error) {
	return m.getFunc(ctx, id)
}

func (m *mockSessionService) Active() []string {
	return m.activeFunc()
}

// ---------------------------------------------------------------------------
// Mock Session
// ---------------------------------------------------------------------------

type mockSession struct {
	executeQueryFunc     func(ctx context.Context, query string) (*session.QueryOutcome, error)
	askFunc              func(ctx context.Context, question string) (string, error)
	historyFunc          func(full bool) []domain.Message
	statsFunc            func() history.Summary
	resultsFunc          func() []*domain.QueryResult
	lookupFunc           func(index int) (*domain.QueryResult, error)
	clearHistoryFunc     func(ctx context.Context)
	setSafeguardFunc     func(enabled bool)
	safeguardEnabledFunc func() bool
}

func (m *mockSession) ExecuteQuery(ctx context.Context, query string) (*session.QueryOutcome, error) {
	return m.executeQueryFunc(ctx, query)
}

func (m *mockSession) Ask(ctx context.Context, question string) (string, error) {
	return m.askFunc(ctx, question)
}

func (m *mockSession) History(full bool) []domain.Message {
	return m.historyFunc(full)
}

func (m *mockSession) Stats() history.Summary {
	return m.statsFunc()
}

func (m *mockSession) Results() []*domain.QueryResult {
	return m.resultsFunc()
}

func (m *mockSession) Lookup(index int) (*domain.QueryResult, error) {
	return m.lookupFunc(index)
}

func (m *mockSession) ClearHistory(ctx context.Context) {
	m.clearHistoryFunc(ctx)
}

func (m *mockSession) SetSafeguard(enabled bool) {
	m.setSafeguardFunc(enabled)
}

func (m *mockSession) SafeguardEnabled() bool {
	return m.safeguardEnabledFunc()
}
