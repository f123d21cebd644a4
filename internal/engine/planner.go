package engine

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"

	"github.com/revlens-ai/revlens/internal/llm"
	"github.com/revlens-ai/revlens/internal/schema"
)

// Planner turns a question plus accumulated evidence into the next Plan. It
// starts at the cheapest sufficient tool and escalates strictly upward on
// re-invocation. It never issues the same (tool, normalized query) twice in
// one session.
type Planner struct {
	llm    llm.Provider
	logger *log.Logger
}

// NewPlanner creates a planner. provider may be nil; every query builder has
// a deterministic rule-based path.
func NewPlanner(provider llm.Provider, logger *log.Logger) *Planner {
	if logger == nil {
		logger = log.New(log.Writer(), "[PLANNER] ", log.LstdFlags)
	}
	return &Planner{llm: provider, logger: logger}
}

// planInput carries everything one planning pass may consult.
type planInput struct {
	Question  Question
	History   []Turn
	Schema    *schema.Summary
	Matcher   *schema.Matcher
	State     *State
	Iteration int
	Tried     map[ToolKind]bool
	LastLevel int // -1 before the first iteration
}

// Plan produces the next decision. A ToolNone plan means no tool can
// plausibly answer the question; ErrNoEscalationPath means every applicable
// tool was already tried.
func (p *Planner) Plan(ctx context.Context, in planInput) (Plan, error) {
	if in.Schema.IsEmpty() {
		return Plan{
			Tool:      ToolNone,
			Reasoning: "no tables, relationships or collections are available to query",
		}, nil
	}

	intent := detectIntent(in.Question.Text)
	candidates := p.candidateOrder(intent, in)
	if len(candidates) == 0 {
		if in.Iteration <= 1 {
			return Plan{
				Tool:      ToolNone,
				Reasoning: "no available tool matches the question",
			}, nil
		}
		return Plan{}, ErrNoEscalationPath
	}

	var lastGap string
	for _, c := range candidates {
		query, reasoning, ok := p.buildQuery(ctx, c.tool, in)
		if !ok {
			lastGap = reasoning
			continue
		}
		if in.State.HasIssued(c.tool, query) {
			lastGap = fmt.Sprintf("an equivalent %s query was already executed", c.tool)
			continue
		}
		return Plan{
			Tool:            c.tool,
			Query:           query,
			Reasoning:       reasoning,
			EscalationLevel: c.level,
		}, nil
	}

	if in.Iteration <= 1 {
		if lastGap == "" {
			lastGap = "schema has no surface matching the question"
		}
		return Plan{Tool: ToolNone, Reasoning: lastGap}, nil
	}
	return Plan{}, ErrNoEscalationPath
}

type candidate struct {
	tool  ToolKind
	level int
}

// candidateOrder enumerates tools to attempt this iteration. First pass:
// intent tool first, then the rest cheapest-first. Later passes: untried
// tools strictly above the last escalation level, then a final combined
// stage that widens to any remaining untried tool.
func (p *Planner) candidateOrder(intent ToolKind, in planInput) []candidate {
	available := availableTools(in.Schema)
	if in.LastLevel < 0 {
		ordered := make([]ToolKind, 0, len(available))
		if contains(available, intent) {
			ordered = append(ordered, intent)
		}
		for _, t := range available {
			if t != intent {
				ordered = append(ordered, t)
			}
		}
		out := make([]candidate, 0, len(ordered))
		for _, t := range ordered {
			if !in.Tried[t] {
				out = append(out, candidate{tool: t, level: t.Level()})
			}
		}
		return out
	}

	var out []candidate
	for _, t := range available {
		if !in.Tried[t] && t.Level() > in.LastLevel {
			out = append(out, candidate{tool: t, level: t.Level()})
		}
	}
	// Combined stage: any untried tool below the last level, one per
	// iteration, pinned at the combined level until every tool is tried.
	for _, t := range available {
		if !in.Tried[t] && t.Level() <= in.LastLevel {
			out = append(out, candidate{tool: t, level: escalationCombined})
		}
	}
	return out
}

// availableTools lists tools the schema summary can back, cheapest first.
func availableTools(sum *schema.Summary) []ToolKind {
	var out []ToolKind
	if sum.HasRelational() {
		out = append(out, ToolRelational)
	}
	if sum.HasGraph() {
		out = append(out, ToolGraph)
	}
	if sum.HasVector() {
		out = append(out, ToolVector)
	}
	return out
}

func contains(tools []ToolKind, t ToolKind) bool {
	for _, x := range tools {
		if x == t {
			return true
		}
	}
	return false
}

var graphWords = []string{
	"related", "relationship", "connected", "connection", "network",
	"linked", "path between", "who knows", "influence",
}

var vectorWords = []string{
	"similar", "resembl", "semantic", "like this", "deals like",
	"comparable", "mention", "notes about",
}

// detectIntent picks the tool a question's phrasing points at. Relationship
// traversal language wins over semantic matching language; both win over
// the relational default.
func detectIntent(question string) ToolKind {
	q := strings.ToLower(question)
	for _, w := range vectorWords {
		if strings.Contains(q, w) {
			return ToolVector
		}
	}
	for _, w := range graphWords {
		if strings.Contains(q, w) {
			return ToolGraph
		}
	}
	return ToolRelational
}

// buildQuery constructs a fully resolved query for the tool, or reports the
// grounding gap that makes the tool inapplicable.
func (p *Planner) buildQuery(ctx context.Context, tool ToolKind, in planInput) (ToolQuery, string, bool) {
	switch tool {
	case ToolRelational:
		return p.buildRelational(ctx, in)
	case ToolGraph:
		return p.buildGraph(ctx, in)
	case ToolVector:
		return p.buildVector(in)
	}
	return ToolQuery{}, "unknown tool", false
}

var topNRe = regexp.MustCompile(`(?i)\btop\s+(\d+)`)

func (p *Planner) buildRelational(ctx context.Context, in planInput) (ToolQuery, string, bool) {
	table, ok := p.resolveTable(in)
	if !ok {
		return ToolQuery{}, "no relational table matches the question", false
	}

	if p.llm != nil {
		if sqlText, ok := p.llmSQL(ctx, in, table); ok {
			return ToolQuery{Relational: &RelationalQuery{SQL: sqlText, Table: table.Name}},
				fmt.Sprintf("model-built SQL over %s", table.Name), true
		}
	}

	q := strings.ToLower(in.Question.Text)
	amountCol := pickAmountColumn(table)
	labelCol := pickLabelColumn(table)

	limit := 0
	if m := topNRe.FindStringSubmatch(in.Question.Text); m != nil {
		limit, _ = strconv.Atoi(m[1])
	}

	var sqlText, why string
	switch {
	case strings.Contains(q, "how many") || strings.Contains(q, "count of"):
		sqlText = fmt.Sprintf("SELECT COUNT(*) AS count FROM %s", table.Name)
		why = fmt.Sprintf("counting rows in %s", table.Name)
	case limit > 0 && labelCol != "" && amountCol != "":
		sqlText = fmt.Sprintf(
			"SELECT %s, SUM(%s) AS total_%s FROM %s GROUP BY %s ORDER BY total_%s DESC LIMIT %d",
			labelCol, amountCol, amountCol, table.Name, labelCol, amountCol, limit)
		why = fmt.Sprintf("top %d of %s aggregated by %s", limit, amountCol, labelCol)
	case (strings.Contains(q, "average") || strings.Contains(q, "avg")) && amountCol != "":
		sqlText = fmt.Sprintf("SELECT AVG(%s) AS average_%s FROM %s", amountCol, amountCol, table.Name)
		why = fmt.Sprintf("average %s over %s", amountCol, table.Name)
	case (strings.Contains(q, "total") || strings.Contains(q, "sum")) && amountCol != "":
		sqlText = fmt.Sprintf("SELECT SUM(%s) AS total_%s FROM %s", amountCol, amountCol, table.Name)
		why = fmt.Sprintf("total %s over %s", amountCol, table.Name)
	default:
		sqlText = fmt.Sprintf("SELECT * FROM %s LIMIT 25", table.Name)
		why = fmt.Sprintf("sampling rows from %s", table.Name)
	}
	return ToolQuery{Relational: &RelationalQuery{SQL: sqlText, Table: table.Name}}, why, true
}

// resolveTable grounds the question on one table: full-text match first,
// then substring overlap, then the only table if there is exactly one.
func (p *Planner) resolveTable(in planInput) (schema.Table, bool) {
	if name, ok := in.Matcher.BestTable(in.Question.Text); ok {
		if t, ok := in.Schema.Table(name); ok {
			return t, true
		}
	}
	kws := schema.Keywords(in.Question.Text)
	for _, t := range in.Schema.Tables {
		tn := strings.ToLower(t.Name)
		for _, kw := range kws {
			if strings.Contains(tn, kw) || strings.Contains(kw, strings.TrimSuffix(tn, "s")) {
				return t, true
			}
		}
	}
	if len(in.Schema.Tables) == 1 {
		return in.Schema.Tables[0], true
	}
	return schema.Table{}, false
}

var amountNames = []string{"amount", "value", "revenue", "total", "price", "cost", "arr", "mrr"}
var labelNames = []string{"name", "title", "account", "owner", "stage", "region", "category"}

func pickAmountColumn(t schema.Table) string {
	numeric := t.NumericColumns()
	for _, n := range numeric {
		ln := strings.ToLower(n)
		if isIDLike(ln) {
			continue
		}
		for _, a := range amountNames {
			if strings.Contains(ln, a) {
				return n
			}
		}
	}
	for _, n := range numeric {
		if !isIDLike(strings.ToLower(n)) {
			return n
		}
	}
	return ""
}

func pickLabelColumn(t schema.Table) string {
	var fallback string
	for _, c := range t.Columns {
		lt := strings.ToLower(c.Type)
		if lt != "text" && lt != "string" && lt != "varchar" {
			continue
		}
		ln := strings.ToLower(c.Name)
		if isIDLike(ln) {
			continue
		}
		for _, l := range labelNames {
			if strings.Contains(ln, l) {
				return c.Name
			}
		}
		if fallback == "" {
			fallback = c.Name
		}
	}
	return fallback
}

func isIDLike(name string) bool {
	return name == "id" || strings.HasSuffix(name, "_id") || strings.HasSuffix(name, "key") ||
		strings.HasSuffix(name, "uuid")
}

func (p *Planner) llmSQL(ctx context.Context, in planInput, table schema.Table) (string, bool) {
	var cols []string
	for _, c := range table.Columns {
		cols = append(cols, c.Name+" "+c.Type)
	}
	prompt := fmt.Sprintf(`Write a single PostgreSQL SELECT statement answering the question.
Table %s(%s).
%sQuestion: %s
Respond with SQL only, no explanation.`,
		table.Name, strings.Join(cols, ", "), historyContext(in.History), in.Question.Text)
	out, err := p.llm.Generate(ctx, prompt, map[string]interface{}{"temperature": 0.0})
	if err != nil {
		p.logger.Printf("model SQL generation failed, using rule-based builder: %v", err)
		return "", false
	}
	sqlText := cleanModelQuery(out)
	upper := strings.ToUpper(sqlText)
	if !strings.HasPrefix(upper, "SELECT") || !strings.Contains(strings.ToLower(sqlText), strings.ToLower(table.Name)) {
		p.logger.Printf("model SQL rejected: %q", sqlText)
		return "", false
	}
	return sqlText, true
}

func (p *Planner) buildGraph(ctx context.Context, in planInput) (ToolQuery, string, bool) {
	if !in.Schema.HasGraph() {
		return ToolQuery{}, "no graph relationships are available", false
	}

	if p.llm != nil {
		if cy, ok := p.llmCypher(ctx, in); ok {
			return ToolQuery{Graph: &GraphQuery{Cypher: cy}}, "model-built graph traversal", true
		}
	}

	relType := p.resolveRelationship(in)
	entity := extractEntity(in.Question.Text)
	switch {
	case entity != "" && relType != "":
		return ToolQuery{Graph: &GraphQuery{
			Cypher: fmt.Sprintf("MATCH (a {name: $name})-[r:%s]-(b) RETURN a, type(r) AS relationship, b LIMIT 25", relType),
			Params: map[string]interface{}{"name": entity},
		}}, fmt.Sprintf("traversing %s edges around %q", relType, entity), true
	case entity != "":
		return ToolQuery{Graph: &GraphQuery{
			Cypher: "MATCH (a {name: $name})-[r]-(b) RETURN a, type(r) AS relationship, b LIMIT 25",
			Params: map[string]interface{}{"name": entity},
		}}, fmt.Sprintf("traversing all edges around %q", entity), true
	case relType != "":
		return ToolQuery{Graph: &GraphQuery{
			Cypher: fmt.Sprintf("MATCH (a)-[r:%s]->(b) RETURN a, type(r) AS relationship, b LIMIT 25", relType),
		}}, fmt.Sprintf("sampling %s edges", relType), true
	}
	return ToolQuery{Graph: &GraphQuery{
		Cypher: "MATCH (a)-[r]->(b) RETURN a, type(r) AS relationship, b LIMIT 25",
	}}, "sampling graph edges", true
}

func (p *Planner) resolveRelationship(in planInput) string {
	hits, err := in.Matcher.Match(in.Question.Text)
	if err == nil {
		for _, h := range hits {
			if h.Kind == "relationship" {
				return h.Name
			}
		}
	}
	if len(in.Schema.Relationships) > 0 {
		return in.Schema.Relationships[0].Type
	}
	return ""
}

func (p *Planner) llmCypher(ctx context.Context, in planInput) (string, bool) {
	var rels []string
	for _, r := range in.Schema.Relationships {
		rels = append(rels, fmt.Sprintf("(%s)-[:%s]->(%s)", r.From, r.Type, r.To))
	}
	prompt := fmt.Sprintf(`Write a single read-only Cypher query answering the question.
Relationships: %s.
%sQuestion: %s
Respond with Cypher only, no explanation.`,
		strings.Join(rels, ", "), historyContext(in.History), in.Question.Text)
	out, err := p.llm.Generate(ctx, prompt, map[string]interface{}{"temperature": 0.0})
	if err != nil {
		p.logger.Printf("model Cypher generation failed, using rule-based builder: %v", err)
		return "", false
	}
	cy := cleanModelQuery(out)
	if !strings.HasPrefix(strings.ToUpper(cy), "MATCH") {
		p.logger.Printf("model Cypher rejected: %q", cy)
		return "", false
	}
	return cy, true
}

func (p *Planner) buildVector(in planInput) (ToolQuery, string, bool) {
	if !in.Schema.HasVector() {
		return ToolQuery{}, "no vector collections are available", false
	}
	coll := in.Schema.Collections[0]
	if hits, err := in.Matcher.Match(in.Question.Text); err == nil {
		for _, h := range hits {
			if h.Kind != "collection" {
				continue
			}
			for _, c := range in.Schema.Collections {
				if c.Name == h.Name {
					coll = c
				}
			}
			break
		}
	}
	return ToolQuery{Vector: &VectorQuery{
		Collection: coll.Name,
		Text:       in.Question.Text,
		Fields:     coll.Fields,
		Limit:      10,
	}}, fmt.Sprintf("semantic search in %s", coll.Name), true
}

var quotedRe = regexp.MustCompile(`["']([^"']+)["']`)
var capitalizedRe = regexp.MustCompile(`\b([A-Z][a-zA-Z0-9&]+(?:\s+[A-Z][a-zA-Z0-9&]+)*)\b`)

// extractEntity pulls the most likely entity name out of the question:
// quoted text first, then the longest capitalized phrase past the first
// word.
func extractEntity(question string) string {
	if m := quotedRe.FindStringSubmatch(question); m != nil {
		return m[1]
	}
	matches := capitalizedRe.FindAllStringIndex(question, -1)
	best := ""
	for _, loc := range matches {
		if loc[0] == 0 {
			continue // skip the sentence-initial word
		}
		cand := question[loc[0]:loc[1]]
		if len(cand) > len(best) {
			best = cand
		}
	}
	return best
}

func historyContext(history []Turn) string {
	if len(history) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Conversation so far:\n")
	for _, t := range history {
		fmt.Fprintf(&b, "Q: %s\nA: %s\n", t.Question, t.Answer)
	}
	return b.String()
}

// cleanModelQuery strips code fences and surrounding noise from a model
// completion.
func cleanModelQuery(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```sql")
		s = strings.TrimPrefix(s, "```cypher")
		s = strings.TrimPrefix(s, "```")
		if i := strings.Index(s, "```"); i >= 0 {
			s = s[:i]
		}
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), ";"))
}
