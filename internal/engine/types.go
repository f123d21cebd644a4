package engine

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ToolKind identifies one of the closed set of retrieval backends. The set
// is deliberately enumerable so escalation decisions stay testable.
type ToolKind string

const (
	ToolRelational ToolKind = "relational"
	ToolGraph      ToolKind = "graph"
	ToolVector     ToolKind = "vector"
	ToolNone       ToolKind = "none"
)

// escalationOrder ranks tools by cost and capability. Escalation moves
// strictly upward; level 3 means widening to the remaining untried tools.
var escalationOrder = map[ToolKind]int{
	ToolRelational: 0,
	ToolGraph:      1,
	ToolVector:     2,
}

const escalationCombined = 3

// Level returns the tool's position in the escalation order.
func (k ToolKind) Level() int {
	if l, ok := escalationOrder[k]; ok {
		return l
	}
	return -1
}

// Question is the immutable input for one orchestration run.
type Question struct {
	Text          string `json:"text"`
	SessionID     string `json:"session_id"`
	MaxIterations int    `json:"max_iterations"`
}

// RelationalQuery is a fully resolved SQL statement.
type RelationalQuery struct {
	SQL   string `json:"sql"`
	Table string `json:"table,omitempty"`
}

// GraphQuery is a fully resolved Cypher statement with parameters.
type GraphQuery struct {
	Cypher string                 `json:"cypher"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// VectorQuery is a semantic search against one collection.
type VectorQuery struct {
	Collection string   `json:"collection"`
	Text       string   `json:"text"`
	Fields     []string `json:"fields,omitempty"`
	Limit      int      `json:"limit"`
}

// ToolQuery is a tagged variant holding exactly one tool-specific payload.
type ToolQuery struct {
	Relational *RelationalQuery `json:"relational,omitempty"`
	Graph      *GraphQuery      `json:"graph,omitempty"`
	Vector     *VectorQuery     `json:"vector,omitempty"`
}

// Text renders the query's canonical text, used for trace display and for
// cache/dedup key normalization.
func (q ToolQuery) Text() string {
	switch {
	case q.Relational != nil:
		return q.Relational.SQL
	case q.Graph != nil:
		if len(q.Graph.Params) == 0 {
			return q.Graph.Cypher
		}
		return q.Graph.Cypher + " " + fmt.Sprint(sortedParams(q.Graph.Params))
	case q.Vector != nil:
		return fmt.Sprintf("%s::%s::%d", q.Vector.Collection, q.Vector.Text, q.Vector.Limit)
	}
	return ""
}

func sortedParams(params map[string]interface{}) []string {
	out := make([]string, 0, len(params))
	for k, v := range params {
		out = append(out, fmt.Sprintf("%s=%v", k, v))
	}
	sortStrings(out)
	return out
}

// Plan is one orchestration decision. Immutable once issued.
type Plan struct {
	Tool            ToolKind  `json:"tool"`
	Query           ToolQuery `json:"query"`
	Reasoning       string    `json:"reasoning"`
	EscalationLevel int       `json:"escalation_level"`
}

// Row is one flattened record returned by an adapter.
type Row map[string]interface{}

// AdapterResult is what an adapter hands back. Expected failures (timeout,
// connectivity, malformed query) travel in Err, never as a raised error.
type AdapterResult struct {
	Rows        []Row
	ResultCount int
	Err         string
}

// ToolAdapter is the uniform contract wrapping one retrieval backend.
// A non-nil error from Run means the adapter failed outside its own error
// contract and is treated as a system fault that aborts the run.
type ToolAdapter interface {
	Kind() ToolKind
	Run(ctx context.Context, q ToolQuery) (AdapterResult, error)
}

// ToolResult is the recorded outcome of one adapter invocation. Appended to
// the session ledger and never mutated afterwards.
type ToolResult struct {
	Tool        ToolKind      `json:"tool"`
	QueryIssued string        `json:"query_issued"`
	Source      string        `json:"source,omitempty"` // table or collection behind the rows
	Rows        []Row         `json:"rows,omitempty"`
	ResultCount int           `json:"result_count"`
	Duration    time.Duration `json:"duration"`
	Err         string        `json:"error,omitempty"`
}

// Failed reports whether the invocation ended in a tool error.
func (r *ToolResult) Failed() bool { return r != nil && r.Err != "" }

// EvidenceItem is a normalized, citable reference to one ToolResult record.
// IDs are stable within a session: "{tool}_{index}".
type EvidenceItem struct {
	ID           string                 `json:"id"`
	Tool         ToolKind               `json:"tool"`
	Source       string                 `json:"source,omitempty"`
	Fields       map[string]interface{} `json:"fields"`
	Score        float64                `json:"score,omitempty"`
	Relationship string                 `json:"relationship,omitempty"`
}

// Answer is the reasoner's draft, replaced wholesale each iteration.
type Answer struct {
	Text        string             `json:"text"`
	Confidence  float64            `json:"confidence"`
	Rationale   string             `json:"rationale"`
	EvidenceIDs []string           `json:"evidence_ids"`
	KPIs        map[string]float64 `json:"kpis,omitempty"`
}

// Phase labels one step of the orchestration loop in the trace.
type Phase string

const (
	PhasePlanning   Phase = "planning"
	PhaseRetrieval  Phase = "retrieval"
	PhaseReasoning  Phase = "reasoning"
	PhaseReflection Phase = "reflection"
)

// TraceEvent is one append-only audit record.
type TraceEvent struct {
	Phase     Phase       `json:"phase"`
	Iteration int         `json:"iteration"`
	Timestamp time.Time   `json:"timestamp"`
	Plan      *Plan       `json:"plan,omitempty"`
	Result    *ToolResult `json:"tool_result,omitempty"`
	Detail    string      `json:"detail,omitempty"`
}

// Status is the terminal outcome class of one run.
type Status string

const (
	StatusAccepted  Status = "accepted"
	StatusExhausted Status = "exhausted"
	StatusDeadEnd   Status = "dead_end"
	StatusFault     Status = "fault"
)

// Response is the single well-formed terminal payload; callers never see a
// bare fault.
type Response struct {
	AnswerText    string             `json:"answer_text"`
	Confidence    float64            `json:"confidence"`
	ConfidenceTag string             `json:"confidence_tag"`
	EvidenceIDs   []string           `json:"evidence_ids"`
	KPIs          map[string]float64 `json:"kpis,omitempty"`
	Blocks        []Block            `json:"blocks,omitempty"`
	Trace         []TraceEvent       `json:"reasoning_trace"`
	Status        Status             `json:"status"`
	Disclosure    string             `json:"disclosure,omitempty"`
	Iterations    int                `json:"iterations"`
	ErrorKind     string             `json:"error_kind,omitempty"`
	ErrorMessage  string             `json:"error_message,omitempty"`
}

// Event is one element of the incremental response stream: trace events in
// order, then exactly one terminal result.
type Event struct {
	Type     string      `json:"type"` // trace or result
	Trace    *TraceEvent `json:"trace,omitempty"`
	Response *Response   `json:"response,omitempty"`
}

// confidenceTag maps a score onto the reporting scale.
func confidenceTag(score float64) string {
	switch {
	case score >= 0.9:
		return "high"
	case score >= 0.8:
		return "medium"
	default:
		return "low"
	}
}

// normalizeQueryText collapses whitespace and lowers case so equivalent
// queries share one cache/dedup key.
func normalizeQueryText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func cacheKey(tool ToolKind, query ToolQuery) string {
	return string(tool) + "|" + normalizeQueryText(query.Text())
}
