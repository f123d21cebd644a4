package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/revlens-ai/revlens/internal/llm"
)

// Reasoner synthesizes a draft answer strictly from the evidence ledger and
// recomputes confidence from the full ledger each pass. Scoring is a pure
// function: identical evidence always yields the identical score.
type Reasoner struct {
	llm    llm.Provider
	logger *log.Logger
}

// NewReasoner creates a reasoner. provider may be nil; the deterministic
// template narrative is always available.
func NewReasoner(provider llm.Provider, logger *log.Logger) *Reasoner {
	if logger == nil {
		logger = log.New(log.Writer(), "[REASONER] ", log.LstdFlags)
	}
	return &Reasoner{llm: provider, logger: logger}
}

// Reason drafts an answer from everything gathered so far. It never mutates
// the ledger.
func (r *Reasoner) Reason(ctx context.Context, q Question, st *State) (Answer, error) {
	ledger := st.Ledger()
	evidence := st.Evidence()

	confidence, rationale := scoreConfidence(q.Text, ledger, evidence)

	ids := make([]string, 0, len(evidence))
	for _, item := range evidence {
		ids = append(ids, item.ID)
	}

	primary := primaryResult(ledger)
	kpis := extractKPIs(primary)

	text := ""
	if r.llm != nil && len(evidence) > 0 {
		text = r.modelNarrative(ctx, q, evidence)
	}
	if text == "" {
		text = templateNarrative(q, primary, evidence)
	}

	return Answer{
		Text:        text,
		Confidence:  confidence,
		Rationale:   rationale,
		EvidenceIDs: ids,
		KPIs:        kpis,
	}, nil
}

// scoreConfidence combines evidence sufficiency, result consistency and
// tool-to-intent fit into a score in [0,1].
func scoreConfidence(question string, ledger []*ToolResult, evidence []EvidenceItem) (float64, string) {
	sufficiency := 0.0
	if n := len(evidence); n > 0 {
		frac := float64(n) / 3
		if frac > 1 {
			frac = 1
		}
		sufficiency = 0.5 * frac
	}

	consistency := 0.0
	if len(ledger) > 0 {
		good := 0
		for _, res := range ledger {
			if !res.Failed() {
				good++
			}
		}
		consistency = 0.3 * float64(good) / float64(len(ledger))
	}

	intent := detectIntent(question)
	fit := 0.0
	for _, item := range evidence {
		if item.Tool == intent {
			fit = 0.2
			break
		}
	}

	score := sufficiency + consistency + fit
	rationale := fmt.Sprintf(
		"sufficiency %.2f (%d evidence items), consistency %.2f (%d tool calls), intent fit %.2f (%s)",
		sufficiency, len(evidence), consistency, len(ledger), fit, intent)
	return score, rationale
}

// primaryResult picks the most recent successful result that returned rows.
func primaryResult(ledger []*ToolResult) *ToolResult {
	for i := len(ledger) - 1; i >= 0; i-- {
		if !ledger[i].Failed() && len(ledger[i].Rows) > 0 {
			return ledger[i]
		}
	}
	return nil
}

// extractKPIs derives headline metrics from the primary tabular result:
// record count plus total and average of the leading measure column.
func extractKPIs(res *ToolResult) map[string]float64 {
	if res == nil || len(res.Rows) == 0 {
		return nil
	}
	kpis := map[string]float64{"record_count": float64(len(res.Rows))}

	col := measureColumn(res.Rows)
	if col == "" {
		return kpis
	}
	total := 0.0
	count := 0
	for _, row := range res.Rows {
		if f, ok := toFloat(row[col]); ok {
			total += f
			count++
		}
	}
	if count > 0 {
		kpis["total_"+col] = total
		kpis["average_"+col] = total / float64(count)
	}
	return kpis
}

// measureColumn finds the first numeric, non-identifier column, preferring
// amount-like names. Column order is made deterministic by sorting names.
func measureColumn(rows []Row) string {
	if len(rows) == 0 {
		return ""
	}
	names := make([]string, 0, len(rows[0]))
	for k := range rows[0] {
		names = append(names, k)
	}
	sort.Strings(names)

	var fallback string
	for _, name := range names {
		ln := strings.ToLower(name)
		if isIDLike(ln) || strings.HasPrefix(ln, "_") {
			continue
		}
		if _, ok := toFloat(rows[0][name]); !ok {
			continue
		}
		for _, a := range amountNames {
			if strings.Contains(ln, a) {
				return name
			}
		}
		if fallback == "" {
			fallback = name
		}
	}
	return fallback
}

// labelColumn finds the first textual, non-identifier column for display.
func labelColumn(rows []Row) string {
	if len(rows) == 0 {
		return ""
	}
	names := make([]string, 0, len(rows[0]))
	for k := range rows[0] {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, name := range names {
		ln := strings.ToLower(name)
		if isIDLike(ln) || strings.HasPrefix(ln, "_") {
			continue
		}
		if s, ok := rows[0][name].(string); ok && s != "" {
			return name
		}
	}
	return ""
}

// templateNarrative is the deterministic fallback answer text.
func templateNarrative(q Question, primary *ToolResult, evidence []EvidenceItem) string {
	if primary == nil || len(primary.Rows) == 0 {
		if len(evidence) == 0 {
			return "No supporting evidence could be retrieved for this question."
		}
		return "The retrieved evidence was inconclusive for this question."
	}

	label := labelColumn(primary.Rows)
	measure := measureColumn(primary.Rows)

	var b strings.Builder
	fmt.Fprintf(&b, "Based on %d records from %s", len(primary.Rows), sourceName(primary))
	if label != "" && measure != "" {
		b.WriteString(": ")
		limit := len(primary.Rows)
		if limit > 5 {
			limit = 5
		}
		parts := make([]string, 0, limit)
		for _, row := range primary.Rows[:limit] {
			name, _ := row[label].(string)
			val, _ := toFloat(row[measure])
			parts = append(parts, fmt.Sprintf("%s (%s)", name, formatNumber(val)))
		}
		b.WriteString(strings.Join(parts, "; "))
	} else if measure != "" {
		if val, ok := toFloat(primary.Rows[0][measure]); ok {
			fmt.Fprintf(&b, ", %s is %s", measure, formatNumber(val))
		}
	}
	b.WriteString(".")
	return b.String()
}

func sourceName(res *ToolResult) string {
	if res.Source != "" {
		return res.Source
	}
	return string(res.Tool) + " results"
}

// formatNumber renders a float without trailing noise: integers stay
// integers, everything else keeps two decimals.
func formatNumber(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%.2f", f)
}

func (r *Reasoner) modelNarrative(ctx context.Context, q Question, evidence []EvidenceItem) string {
	capped := evidence
	if len(capped) > 20 {
		capped = capped[:20]
	}
	blob, err := json.Marshal(capped)
	if err != nil {
		return ""
	}
	prompt := fmt.Sprintf(`Answer the business question using ONLY the evidence below.
Every numeric claim must come from an evidence item. Do not invent facts.
Keep the answer to a short executive paragraph.

Question: %s
Evidence: %s`, q.Text, string(blob))
	out, err := r.llm.Generate(ctx, prompt, map[string]interface{}{"temperature": 0.2})
	if err != nil {
		r.logger.Printf("model narrative failed, using template: %v", err)
		return ""
	}
	return strings.TrimSpace(out)
}
