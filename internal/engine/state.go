package engine

import (
	"sort"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"
)

const historyTurns = 5

// Turn is one completed question/answer exchange kept as planner context.
type Turn struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// State holds everything mutable scoped to one session: the executor cache,
// the evidence ledger and the short conversation history. Sessions never
// share a State, which is what keeps cached results from bleeding across
// users. All methods are safe for concurrent use; within a session the only
// concurrency is identical in-flight calls joining through the
// single-flight group.
type State struct {
	sessionID string

	mu       sync.Mutex
	cache    map[string]*ToolResult
	ledger   []*ToolResult
	evidence []EvidenceItem
	evCount  map[ToolKind]int
	history  []Turn

	flight singleflight.Group
}

// NewState creates an empty session state.
func NewState(sessionID string) *State {
	return &State{
		sessionID: sessionID,
		cache:     make(map[string]*ToolResult),
		evCount:   make(map[ToolKind]int),
	}
}

// SessionID returns the owning session's identifier.
func (s *State) SessionID() string { return s.sessionID }

func (s *State) cached(key string) (*ToolResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.cache[key]
	return r, ok
}

// HasIssued reports whether an equivalent plan was already executed in this
// session. The planner uses it to enforce the no-duplicate-plans rule.
func (s *State) HasIssued(tool ToolKind, query ToolQuery) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.cache[cacheKey(tool, query)]
	return ok
}

// record stores a freshly executed result in the cache and the ledger.
func (s *State) record(key string, r *ToolResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[key] = r
	s.ledger = append(s.ledger, r)
}

// Ledger returns a snapshot of every recorded ToolResult, oldest first.
func (s *State) Ledger() []*ToolResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*ToolResult, len(s.ledger))
	copy(out, s.ledger)
	return out
}

// nextEvidenceID allocates the next stable "{tool}_{index}" id.
func (s *State) nextEvidenceID(tool ToolKind) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.evCount[tool]
	s.evCount[tool]++
	return string(tool) + "_" + strconv.Itoa(idx)
}

// addEvidence appends normalized items to the session evidence ledger.
func (s *State) addEvidence(items []EvidenceItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evidence = append(s.evidence, items...)
}

// Evidence returns a snapshot of all normalized evidence so far.
func (s *State) Evidence() []EvidenceItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EvidenceItem, len(s.evidence))
	copy(out, s.evidence)
	return out
}

// HasEvidenceID reports whether an id refers to recorded evidence.
func (s *State) HasEvidenceID(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.evidence {
		if e.ID == id {
			return true
		}
	}
	return false
}

// History returns the retained conversation turns, oldest first.
func (s *State) History() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.history))
	copy(out, s.history)
	return out
}

// AddTurn records a completed exchange, keeping the most recent turns only.
func (s *State) AddTurn(question, answer string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, Turn{Question: question, Answer: answer})
	if len(s.history) > historyTurns {
		s.history = s.history[len(s.history)-historyTurns:]
	}
}

// SeedHistory replaces the conversation history, used when a session is
// rehydrated from an external store.
func (s *State) SeedHistory(turns []Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(turns) > historyTurns {
		turns = turns[len(turns)-historyTurns:]
	}
	s.history = append([]Turn(nil), turns...)
}

func sortStrings(s []string) { sort.Strings(s) }
