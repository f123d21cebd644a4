package engine

import "testing"

func TestStateHistoryKeepsRecentTurns(t *testing.T) {
	st := NewState("h1")
	for i := 0; i < 8; i++ {
		st.AddTurn("q", "a")
	}
	if got := len(st.History()); got != historyTurns {
		t.Fatalf("history = %d turns, want %d", got, historyTurns)
	}
}

func TestStateSeedHistoryTrims(t *testing.T) {
	st := NewState("h2")
	turns := make([]Turn, 9)
	for i := range turns {
		turns[i] = Turn{Question: "q", Answer: "a"}
	}
	st.SeedHistory(turns)
	if got := len(st.History()); got != historyTurns {
		t.Fatalf("history = %d turns, want %d", got, historyTurns)
	}
}

func TestStateHasIssuedNormalizes(t *testing.T) {
	st := NewState("h3")
	q := ToolQuery{Relational: &RelationalQuery{SQL: "SELECT * FROM accounts LIMIT 5"}}
	st.record(cacheKey(ToolRelational, q), &ToolResult{Tool: ToolRelational})

	same := ToolQuery{Relational: &RelationalQuery{SQL: "select *   from ACCOUNTS limit 5"}}
	if !st.HasIssued(ToolRelational, same) {
		t.Fatalf("normalized duplicate not detected")
	}
	other := ToolQuery{Relational: &RelationalQuery{SQL: "SELECT * FROM deals"}}
	if st.HasIssued(ToolRelational, other) {
		t.Fatalf("distinct query reported as issued")
	}
}

func TestStateLedgerSnapshotIsolated(t *testing.T) {
	st := NewState("h4")
	st.record("a", &ToolResult{Tool: ToolRelational})
	snap := st.Ledger()
	st.record("b", &ToolResult{Tool: ToolGraph})
	if len(snap) != 1 {
		t.Fatalf("snapshot grew with the ledger")
	}
	if len(st.Ledger()) != 2 {
		t.Fatalf("ledger = %d entries, want 2", len(st.Ledger()))
	}
}

func TestGraphQueryTextSortsParams(t *testing.T) {
	q := ToolQuery{Graph: &GraphQuery{
		Cypher: "MATCH (a {name: $name}) RETURN a",
		Params: map[string]interface{}{"name": "Acme", "depth": 2},
	}}
	a := q.Text()
	for i := 0; i < 20; i++ {
		if b := q.Text(); b != a {
			t.Fatalf("query text unstable: %q vs %q", a, b)
		}
	}
}
