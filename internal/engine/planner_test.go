package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func planFor(t *testing.T, p *Planner, in planInput) Plan {
	t.Helper()
	plan, err := p.Plan(context.Background(), in)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	return plan
}

func baseInput(t *testing.T, question string) planInput {
	t.Helper()
	sum := salesSummary()
	return planInput{
		Question:  Question{Text: question},
		Schema:    sum,
		Matcher:   newTestMatcher(t, sum),
		State:     NewState("p"),
		Iteration: 1,
		Tried:     map[ToolKind]bool{},
		LastLevel: -1,
	}
}

func TestDetectIntent(t *testing.T) {
	cases := []struct {
		question string
		want     ToolKind
	}{
		{"What are our top 5 accounts by revenue?", ToolRelational},
		{"How many deals closed last month?", ToolRelational},
		{"Which companies are connected to Acme Corp?", ToolGraph},
		{"Show the relationship between reps and accounts", ToolGraph},
		{"Find deals similar to the Northwind renewal", ToolVector},
		{"Which notes mention a pricing objection?", ToolVector},
	}
	for _, tc := range cases {
		if got := detectIntent(tc.question); got != tc.want {
			t.Fatalf("detectIntent(%q) = %s, want %s", tc.question, got, tc.want)
		}
	}
}

func TestPlanEmptySchemaYieldsNone(t *testing.T) {
	p := NewPlanner(nil, quietLogger())
	in := baseInput(t, "What are our top accounts?")
	in.Schema = nil
	in.Matcher = newTestMatcher(t, nil)

	plan := planFor(t, p, in)
	if plan.Tool != ToolNone {
		t.Fatalf("tool = %s, want none", plan.Tool)
	}
	if plan.Reasoning == "" {
		t.Fatalf("missing reasoning on a none plan")
	}
}

func TestPlanFollowsIntentFirst(t *testing.T) {
	p := NewPlanner(nil, quietLogger())
	plan := planFor(t, p, baseInput(t, `Which companies are connected to "Acme Corp"?`))

	if plan.Tool != ToolGraph {
		t.Fatalf("tool = %s, want graph", plan.Tool)
	}
	if plan.EscalationLevel != ToolGraph.Level() {
		t.Fatalf("escalation level = %d, want %d", plan.EscalationLevel, ToolGraph.Level())
	}
	if plan.Query.Graph == nil {
		t.Fatalf("missing graph query: %+v", plan.Query)
	}
	if got := plan.Query.Graph.Params["name"]; got != "Acme Corp" {
		t.Fatalf("entity param = %v, want Acme Corp", got)
	}
}

func TestPlanBuildsTopNAggregate(t *testing.T) {
	p := NewPlanner(nil, quietLogger())
	plan := planFor(t, p, baseInput(t, "What are our top 5 accounts by revenue?"))

	if plan.Tool != ToolRelational {
		t.Fatalf("tool = %s, want relational", plan.Tool)
	}
	sql := plan.Query.Relational.SQL
	for _, want := range []string{"SUM(revenue)", "GROUP BY account_name", "ORDER BY total_revenue DESC", "LIMIT 5"} {
		if !strings.Contains(sql, want) {
			t.Fatalf("sql %q missing %q", sql, want)
		}
	}
}

func TestPlanBuildsCount(t *testing.T) {
	p := NewPlanner(nil, quietLogger())
	plan := planFor(t, p, baseInput(t, "How many accounts do we have?"))

	if got := plan.Query.Relational.SQL; got != "SELECT COUNT(*) AS count FROM accounts" {
		t.Fatalf("sql = %q", got)
	}
}

func TestPlanSkipsAlreadyIssuedQuery(t *testing.T) {
	p := NewPlanner(nil, quietLogger())
	in := baseInput(t, "How many accounts do we have?")

	first := planFor(t, p, in)
	if first.Tool != ToolRelational {
		t.Fatalf("first tool = %s, want relational", first.Tool)
	}
	in.State.record(cacheKey(first.Tool, first.Query), &ToolResult{Tool: first.Tool, QueryIssued: first.Query.Text()})

	second := planFor(t, p, in)
	if second.Tool == ToolRelational {
		t.Fatalf("planner re-issued an executed relational query")
	}
}

func TestPlanEscalatesStrictlyUpward(t *testing.T) {
	p := NewPlanner(nil, quietLogger())
	in := baseInput(t, "How many accounts do we have?")
	in.Iteration = 2
	in.Tried = map[ToolKind]bool{ToolRelational: true}
	in.LastLevel = ToolRelational.Level()

	plan := planFor(t, p, in)
	if plan.Tool != ToolGraph {
		t.Fatalf("tool = %s, want graph", plan.Tool)
	}
	if plan.EscalationLevel <= in.LastLevel {
		t.Fatalf("escalation level %d not above %d", plan.EscalationLevel, in.LastLevel)
	}
}

func TestPlanCombinedStageWidensToUntried(t *testing.T) {
	p := NewPlanner(nil, quietLogger())
	in := baseInput(t, "Find deals similar to the Northwind renewal")
	in.Iteration = 3
	in.Tried = map[ToolKind]bool{ToolVector: true, ToolGraph: true}
	in.LastLevel = ToolVector.Level()

	plan := planFor(t, p, in)
	if plan.Tool != ToolRelational {
		t.Fatalf("tool = %s, want relational via the combined stage", plan.Tool)
	}
	if plan.EscalationLevel != escalationCombined {
		t.Fatalf("escalation level = %d, want %d", plan.EscalationLevel, escalationCombined)
	}
}

func TestPlanCombinedStageContinuesUntilAllToolsTried(t *testing.T) {
	p := NewPlanner(nil, quietLogger())
	in := baseInput(t, "Find deals similar to the Northwind renewal")
	in.Iteration = 3
	in.Tried = map[ToolKind]bool{ToolVector: true, ToolRelational: true}
	in.LastLevel = escalationCombined

	plan := planFor(t, p, in)
	if plan.Tool != ToolGraph {
		t.Fatalf("tool = %s, want graph as the last untried tool", plan.Tool)
	}
	if plan.EscalationLevel != escalationCombined {
		t.Fatalf("escalation level = %d, want %d", plan.EscalationLevel, escalationCombined)
	}
}

func TestPlanNoEscalationPathLeft(t *testing.T) {
	p := NewPlanner(nil, quietLogger())
	in := baseInput(t, "How many accounts do we have?")
	in.Iteration = 4
	in.Tried = map[ToolKind]bool{ToolRelational: true, ToolGraph: true, ToolVector: true}
	in.LastLevel = escalationCombined

	_, err := p.Plan(context.Background(), in)
	if !errors.Is(err, ErrNoEscalationPath) {
		t.Fatalf("err = %v, want ErrNoEscalationPath", err)
	}
}

func TestPlanUsesModelSQLWhenValid(t *testing.T) {
	provider := &stubProvider{reply: "```sql\nSELECT account_name, revenue FROM accounts ORDER BY revenue DESC;\n```"}
	p := NewPlanner(provider, quietLogger())
	plan := planFor(t, p, baseInput(t, "Rank accounts by revenue"))

	if got := plan.Query.Relational.SQL; got != "SELECT account_name, revenue FROM accounts ORDER BY revenue DESC" {
		t.Fatalf("sql = %q", got)
	}
}

func TestPlanRejectsInvalidModelSQL(t *testing.T) {
	provider := &stubProvider{reply: "DROP TABLE accounts"}
	p := NewPlanner(provider, quietLogger())
	plan := planFor(t, p, baseInput(t, "How many accounts do we have?"))

	if got := plan.Query.Relational.SQL; !strings.HasPrefix(got, "SELECT") {
		t.Fatalf("sql = %q, want a rule-built SELECT", got)
	}
}

func TestPlanFallsBackWhenModelFails(t *testing.T) {
	provider := &stubProvider{err: errors.New("rate limited")}
	p := NewPlanner(provider, quietLogger())
	plan := planFor(t, p, baseInput(t, "How many accounts do we have?"))

	if got := plan.Query.Relational.SQL; got != "SELECT COUNT(*) AS count FROM accounts" {
		t.Fatalf("sql = %q", got)
	}
}

func TestExtractEntity(t *testing.T) {
	cases := []struct {
		question string
		want     string
	}{
		{`Who is connected to "Acme Corp"?`, "Acme Corp"},
		{"Which reps work with Stark Industries in EMEA?", "Stark Industries"},
		{"how many accounts exist?", ""},
	}
	for _, tc := range cases {
		if got := extractEntity(tc.question); got != tc.want {
			t.Fatalf("extractEntity(%q) = %q, want %q", tc.question, got, tc.want)
		}
	}
}

func TestCleanModelQuery(t *testing.T) {
	in := "```sql\nSELECT 1;\n```"
	if got := cleanModelQuery(in); got != "SELECT 1" {
		t.Fatalf("cleanModelQuery = %q", got)
	}
	if got := cleanModelQuery("  MATCH (a) RETURN a  "); got != "MATCH (a) RETURN a" {
		t.Fatalf("cleanModelQuery = %q", got)
	}
}
