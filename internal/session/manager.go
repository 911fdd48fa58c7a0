package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/querydeck/querydeck/internal/domain"
	"github.com/querydeck/querydeck/internal/history"
	"github.com/querydeck/querydeck/internal/safeguard"
	"github.com/querydeck/querydeck/internal/sqlexec"
)

// ErrInvalidSessionID is returned for empty session ids.
var ErrInvalidSessionID = errors.New("session: invalid session id")

// Snapshot is a session's persisted state.
type Snapshot struct {
	SessionID string
	Results   []*domain.QueryResult
	Messages  []domain.Message
}

// Persister stores session snapshots with round-trip fidelity. Load returns
// domain.ErrNotFound for unknown sessions.
type Persister interface {
	SaveResults(ctx context.Context, sessionID string, results []*domain.QueryResult) error
	SaveMessages(ctx context.Context, sessionID string, messages []domain.Message) error
	Load(ctx context.Context, sessionID string) (*Snapshot, error)
}

// ManagerConfig configures new sessions.
type ManagerConfig struct {
	Budgets history.Budgets
	Turn    TurnConfig
}

// Manager creates and caches one Coordinator per session id. Sessions are
// created on first use, restored from persistence when a snapshot exists, and
// share no mutable state with each other.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Coordinator

	analyzer  *safeguard.Analyzer
	executor  sqlexec.Executor
	llmClient LLMClient
	events    *EventBus
	persister Persister
	cfg       ManagerConfig
}

// NewManager wires the shared collaborators. persister may be nil to disable
// persistence.
func NewManager(executor sqlexec.Executor, llmClient LLMClient, events *EventBus, persister Persister, cfg ManagerConfig) *Manager {
	return &Manager{
		sessions:  make(map[string]*Coordinator),
		analyzer:  safeguard.New(),
		executor:  executor,
		llmClient: llmClient,
		events:    events,
		persister: persister,
		cfg:       cfg,
	}
}

// Get returns the Coordinator for id, creating and restoring it on first use.
func (m *Manager) Get(ctx context.Context, id string) (*Coordinator, error) {
	if id == "" {
		return nil, fmt.Errorf("session.Manager.Get: %w", ErrInvalidSessionID)
	}

	m.mu.Lock()
	if coord, ok := m.sessions[id]; ok {
		m.mu.Unlock()
		return coord, nil
	}
	m.mu.Unlock()

	// Build and restore outside the lock so one slow snapshot load never
	// stalls creation of unrelated sessions.
	store := history.NewStore(id, m.persister)
	conv := history.NewConversation(m.cfg.Budgets)

	restored := false
	if m.persister != nil {
		snapshot, err := m.persister.Load(ctx, id)
		switch {
		case err == nil:
			store.Restore(snapshot.Results)
			conv.Restore(snapshot.Messages)
			restored = true
		case errors.Is(err, domain.ErrNotFound):
			// Fresh session.
		default:
			return nil, fmt.Errorf("session.Manager.Get: load %q: %w", id, err)
		}
	}

	turn := m.cfg.Turn
	if restored {
		// The restored message sequence already contains the system prompt.
		turn.SystemPrompt = ""
	}

	coord := newCoordinator(id, store, conv, m.analyzer, m.executor, m.llmClient, m.events, m.persister, turn)

	m.mu.Lock()
	defer m.mu.Unlock()

	// A concurrent Get for the same id may have won the race; that session
	// stays canonical so callers never observe two coordinators for one id.
	if existing, ok := m.sessions[id]; ok {
		return existing, nil
	}
	m.sessions[id] = coord

	log.Info().Str("session_id", id).Bool("restored", restored).Msg("session created")
	return coord, nil
}

// Active returns the ids of all in-memory sessions.
func (m *Manager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}
