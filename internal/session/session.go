package session

import (
	"context"
	"log"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/revlens-ai/revlens/internal/engine"
)

// HistoryStore persists conversation turns beyond the lifetime of an
// in-memory session state.
type HistoryStore interface {
	Recent(ctx context.Context, sessionID string, n int) ([]engine.Turn, error)
	Append(ctx context.Context, sessionID string, turn engine.Turn) error
}

// Manager owns the per-session engine states. States expire on a sliding
// TTL; expiry drops the executor cache and evidence ledger, while the
// conversation history survives in the HistoryStore and is rehydrated on
// the next request for the same session.
type Manager struct {
	mu      sync.Mutex
	states  *gocache.Cache
	history HistoryStore
	logger  *log.Logger
}

// NewManager creates a manager. history may be nil when multi-turn context
// does not need to outlive the state TTL.
func NewManager(ttl time.Duration, history HistoryStore) *Manager {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Manager{
		states:  gocache.New(ttl, 10*time.Minute),
		history: history,
		logger:  log.New(log.Writer(), "[SESSION] ", log.LstdFlags),
	}
}

// Get returns the session's state, creating and rehydrating one on miss.
// The TTL slides on every access.
func (m *Manager) Get(ctx context.Context, sessionID string) *engine.State {
	m.mu.Lock()
	defer m.mu.Unlock()

	if v, ok := m.states.Get(sessionID); ok {
		st := v.(*engine.State)
		m.states.SetDefault(sessionID, st)
		return st
	}

	st := engine.NewState(sessionID)
	if m.history != nil {
		if turns, err := m.history.Recent(ctx, sessionID, 5); err != nil {
			m.logger.Printf("history rehydration failed for %s: %v", sessionID, err)
		} else if len(turns) > 0 {
			st.SeedHistory(turns)
		}
	}
	m.states.SetDefault(sessionID, st)
	return st
}

// RecordTurn persists one completed exchange.
func (m *Manager) RecordTurn(ctx context.Context, sessionID, question, answer string) {
	if m.history == nil {
		return
	}
	if err := m.history.Append(ctx, sessionID, engine.Turn{Question: question, Answer: answer}); err != nil {
		m.logger.Printf("history append failed for %s: %v", sessionID, err)
	}
}

// Drop removes a session's state, cancelling nothing in flight.
func (m *Manager) Drop(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states.Delete(sessionID)
}
