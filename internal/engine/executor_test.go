package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func relationalPlan(sql string) Plan {
	return Plan{
		Tool:  ToolRelational,
		Query: ToolQuery{Relational: &RelationalQuery{SQL: sql, Table: "accounts"}},
	}
}

func TestExecuteCachesEquivalentQueries(t *testing.T) {
	rel := &fakeAdapter{kind: ToolRelational, run: func(ctx context.Context, q ToolQuery) (AdapterResult, error) {
		return AdapterResult{Rows: []Row{{"account_name": "Acme Corp", "revenue": 1200.0}}}, nil
	}}
	e := NewExecutor([]ToolAdapter{rel}, 0, quietLogger(), nil)
	st := NewState("s1")
	trace := NewTrace(nil)

	first, err := e.Execute(context.Background(), st, relationalPlan("SELECT * FROM accounts LIMIT 5"), 1, trace)
	if err != nil {
		t.Fatalf("first execute: %v", err)
	}
	// Different casing and spacing, same normalized query.
	second, err := e.Execute(context.Background(), st, relationalPlan("select  *  FROM   accounts limit 5"), 2, trace)
	if err != nil {
		t.Fatalf("second execute: %v", err)
	}

	if rel.callCount() != 1 {
		t.Fatalf("adapter called %d times, want 1", rel.callCount())
	}
	if first != second {
		t.Fatalf("cache hit must return the identical result pointer")
	}
	if got := len(st.Ledger()); got != 1 {
		t.Fatalf("ledger entries = %d, want 1", got)
	}

	hit := false
	for _, ev := range trace.Events() {
		if ev.Phase == PhaseRetrieval && ev.Detail == "cache hit" {
			hit = true
		}
	}
	if !hit {
		t.Fatalf("expected a cache hit trace event")
	}
}

func TestExecuteConcurrentCallersShareOneFlight(t *testing.T) {
	gate := make(chan struct{})
	rel := &fakeAdapter{kind: ToolRelational, run: func(ctx context.Context, q ToolQuery) (AdapterResult, error) {
		<-gate
		return AdapterResult{Rows: []Row{{"account_name": "Acme Corp", "revenue": 1200.0}}}, nil
	}}
	e := NewExecutor([]ToolAdapter{rel}, 5*time.Second, quietLogger(), nil)
	st := NewState("s1")

	const callers = 8
	results := make(chan *ToolResult, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := e.Execute(context.Background(), st, relationalPlan("SELECT * FROM accounts"), 1, NewTrace(nil))
			if err != nil {
				t.Errorf("execute: %v", err)
				return
			}
			results <- res
		}()
	}
	// Let every caller reach the executor before the adapter returns.
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()
	close(results)

	if rel.callCount() != 1 {
		t.Fatalf("adapter called %d times, want 1", rel.callCount())
	}
	var first *ToolResult
	n := 0
	for res := range results {
		n++
		if first == nil {
			first = res
		} else if res != first {
			t.Fatalf("concurrent callers received distinct result pointers")
		}
	}
	if n != callers {
		t.Fatalf("collected %d results, want %d", n, callers)
	}
	if got := len(st.Ledger()); got != 1 {
		t.Fatalf("ledger entries = %d, want 1", got)
	}
}

func TestExecuteTimeout(t *testing.T) {
	rel := &fakeAdapter{kind: ToolRelational, run: func(ctx context.Context, q ToolQuery) (AdapterResult, error) {
		<-ctx.Done()
		return AdapterResult{}, nil
	}}
	e := NewExecutor([]ToolAdapter{rel}, 20*time.Millisecond, quietLogger(), nil)
	st := NewState("s2")

	res, err := e.Execute(context.Background(), st, relationalPlan("SELECT * FROM accounts"), 1, NewTrace(nil))
	if err != nil {
		t.Fatalf("timeout must not be a fault: %v", err)
	}
	if res.Err != "timeout" {
		t.Fatalf("result err = %q, want timeout", res.Err)
	}
	if res.Duration <= 0 {
		t.Fatalf("duration not recorded")
	}
}

func TestExecuteCancelled(t *testing.T) {
	rel := &fakeAdapter{kind: ToolRelational, run: func(ctx context.Context, q ToolQuery) (AdapterResult, error) {
		<-ctx.Done()
		return AdapterResult{}, nil
	}}
	e := NewExecutor([]ToolAdapter{rel}, 5*time.Second, quietLogger(), nil)
	st := NewState("s3")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	res, err := e.Execute(ctx, st, relationalPlan("SELECT * FROM accounts"), 1, NewTrace(nil))
	if err != nil {
		t.Fatalf("cancellation must not be a fault: %v", err)
	}
	if res.Err != "cancelled" {
		t.Fatalf("result err = %q, want cancelled", res.Err)
	}
}

func TestExecuteAdapterErrorIsFault(t *testing.T) {
	rel := &fakeAdapter{kind: ToolRelational, run: func(ctx context.Context, q ToolQuery) (AdapterResult, error) {
		return AdapterResult{}, errors.New("dial tcp: connection refused")
	}}
	e := NewExecutor([]ToolAdapter{rel}, 0, quietLogger(), nil)
	st := NewState("s4")

	res, err := e.Execute(context.Background(), st, relationalPlan("SELECT * FROM accounts"), 1, NewTrace(nil))
	if err == nil {
		t.Fatalf("expected a fault")
	}
	if _, ok := AsFault(err); !ok {
		t.Fatalf("error %v is not a FaultError", err)
	}
	if res == nil || !strings.Contains(res.Err, "connection refused") {
		t.Fatalf("result = %+v", res)
	}
}

func TestExecuteAdapterPanicIsFault(t *testing.T) {
	rel := &fakeAdapter{kind: ToolRelational, run: func(ctx context.Context, q ToolQuery) (AdapterResult, error) {
		panic("nil driver")
	}}
	e := NewExecutor([]ToolAdapter{rel}, 0, quietLogger(), nil)
	st := NewState("s5")

	_, err := e.Execute(context.Background(), st, relationalPlan("SELECT * FROM accounts"), 1, NewTrace(nil))
	if err == nil {
		t.Fatalf("expected a fault")
	}
	if !strings.Contains(err.Error(), "panic") {
		t.Fatalf("error = %v, want a panic fault", err)
	}
}

func TestExecuteMissingAdapter(t *testing.T) {
	e := NewExecutor(nil, 0, quietLogger(), nil)
	st := NewState("s6")

	plan := Plan{Tool: ToolGraph, Query: ToolQuery{Graph: &GraphQuery{Cypher: "MATCH (a)-[r]->(b) RETURN a, b"}}}
	res, err := e.Execute(context.Background(), st, plan, 1, NewTrace(nil))
	if err != nil {
		t.Fatalf("missing adapter must not be a fault: %v", err)
	}
	if res.Err != "no graph adapter configured" {
		t.Fatalf("result err = %q", res.Err)
	}
}

func TestExecuteToolErrorStaysInResult(t *testing.T) {
	rel := &fakeAdapter{kind: ToolRelational, run: func(ctx context.Context, q ToolQuery) (AdapterResult, error) {
		return AdapterResult{Err: `syntax error at or near "FORM"`}, nil
	}}
	e := NewExecutor([]ToolAdapter{rel}, 0, quietLogger(), nil)
	st := NewState("s7")

	res, err := e.Execute(context.Background(), st, relationalPlan("SELECT * FORM accounts"), 1, NewTrace(nil))
	if err != nil {
		t.Fatalf("tool-level error must not be a fault: %v", err)
	}
	if !res.Failed() {
		t.Fatalf("result should report failure: %+v", res)
	}
	if got := len(st.Ledger()); got != 1 {
		t.Fatalf("ledger entries = %d, want 1", got)
	}
}

func TestExecuteDefaultsResultCount(t *testing.T) {
	rel := &fakeAdapter{kind: ToolRelational, run: func(ctx context.Context, q ToolQuery) (AdapterResult, error) {
		return AdapterResult{Rows: []Row{{"n": 1}, {"n": 2}}}, nil
	}}
	e := NewExecutor([]ToolAdapter{rel}, 0, quietLogger(), nil)
	st := NewState("s8")

	res, err := e.Execute(context.Background(), st, relationalPlan("SELECT n FROM accounts"), 1, NewTrace(nil))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.ResultCount != 2 {
		t.Fatalf("result count = %d, want 2", res.ResultCount)
	}
}
