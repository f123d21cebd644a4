package engine

import (
	"fmt"
	"sort"
	"strings"
)

// KPI is one named headline metric.
type KPI struct {
	Name    string  `json:"name"`
	Value   float64 `json:"value"`
	Display string  `json:"display"`
}

// ChartDescriptor describes one renderable chart; the core never renders.
type ChartDescriptor struct {
	Kind       string    `json:"kind"` // bar, doughnut, funnel
	Title      string    `json:"title"`
	Labels     []string  `json:"labels"`
	Values     []float64 `json:"values"`
	ValueLabel string    `json:"value_label"`
}

// TableDescriptor describes one renderable table.
type TableDescriptor struct {
	Title   string     `json:"title"`
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// Block is one ordered presentation element.
type Block struct {
	Type  string           `json:"type"` // headline, markdown, kpis, chart, table
	Title string           `json:"title,omitempty"`
	Text  string           `json:"text,omitempty"`
	KPIs  []KPI            `json:"kpis,omitempty"`
	Chart *ChartDescriptor `json:"chart,omitempty"`
	Table *TableDescriptor `json:"table,omitempty"`
}

const maxVisualizations = 2

// Formatter converts a final answer plus its trace into presentation
// blocks. It is a pure transformation: the same answer and trace always
// produce byte-identical output.
type Formatter struct{}

// NewFormatter creates a formatter.
func NewFormatter() *Formatter { return &Formatter{} }

// Format emits ordered blocks: headline, narrative, KPIs, then up to two
// visualization descriptors derived from tabular results in the trace.
func (f *Formatter) Format(ans Answer, trace []TraceEvent) []Block {
	var blocks []Block

	if head := headline(ans.Text); head != "" {
		blocks = append(blocks, Block{Type: "headline", Text: head})
	}

	narrative := ans.Text
	if narrative != "" {
		narrative += fmt.Sprintf("\n\nConfidence: %s (%.2f)", confidenceTag(ans.Confidence), ans.Confidence)
		blocks = append(blocks, Block{Type: "markdown", Text: narrative})
	}

	if len(ans.KPIs) > 0 {
		names := make([]string, 0, len(ans.KPIs))
		for name := range ans.KPIs {
			names = append(names, name)
		}
		sort.Strings(names)
		kpis := make([]KPI, 0, len(names))
		for _, name := range names {
			v := ans.KPIs[name]
			kpis = append(kpis, KPI{Name: name, Value: v, Display: formatNumber(v)})
		}
		blocks = append(blocks, Block{Type: "kpis", KPIs: kpis})
	}

	blocks = append(blocks, visualizations(trace)...)
	return blocks
}

// headline is the first sentence of the narrative, clipped for display.
func headline(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	if i := strings.IndexAny(text, ".\n"); i > 0 {
		text = text[:i]
	}
	if r := []rune(text); len(r) > 120 {
		text = string(r[:117]) + "..."
	}
	return text
}

// visualizations derives chart/table descriptors from tabular tool results
// in the trace. A result with at least two rows and a meaningful numeric
// column yields a chart plus its backing table; anything tabular but
// smaller yields a table alone. At most two blocks are emitted.
func visualizations(trace []TraceEvent) []Block {
	var blocks []Block
	seen := map[string]bool{}
	for _, ev := range trace {
		if len(blocks) >= maxVisualizations {
			break
		}
		res := ev.Result
		if ev.Phase != PhaseRetrieval || res == nil || res.Failed() || len(res.Rows) == 0 {
			continue
		}
		if seen[res.QueryIssued] {
			continue
		}
		seen[res.QueryIssued] = true

		measure := meaningfulMeasure(res.Rows)
		label := labelColumn(res.Rows)
		if len(res.Rows) >= 2 && measure != "" && label != "" {
			blocks = append(blocks, Block{
				Type:  "chart",
				Chart: chartFrom(res, label, measure),
			})
			if len(blocks) < maxVisualizations {
				blocks = append(blocks, Block{Type: "table", Table: tableFrom(res)})
			}
		} else {
			blocks = append(blocks, Block{Type: "table", Table: tableFrom(res)})
		}
	}
	return blocks
}

// meaningfulMeasure returns a numeric column worth plotting: not an
// identifier by name, and not a near-all-unique integer column that only
// looks numeric because it is a key.
func meaningfulMeasure(rows []Row) string {
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
		numeric := 0
		integers := 0
		distinct := map[float64]bool{}
		for _, row := range rows {
			f, ok := toFloat(row[name])
			if !ok {
				continue
			}
			numeric++
			if f == float64(int64(f)) {
				integers++
			}
			distinct[f] = true
		}
		if numeric*2 < len(rows) {
			continue
		}
		amountLike := false
		for _, a := range amountNames {
			if strings.Contains(ln, a) {
				amountLike = true
				break
			}
		}
		uniqueRatio := float64(len(distinct)) / float64(numeric)
		if !amountLike && integers == numeric && uniqueRatio > 0.9 && len(rows) > 5 {
			continue // reads like a surrogate key column
		}
		return name
	}
	return ""
}

func chartFrom(res *ToolResult, label, measure string) *ChartDescriptor {
	kind := "bar"
	ll := strings.ToLower(label)
	lm := strings.ToLower(measure)
	switch {
	case strings.Contains(ll, "stage") || strings.Contains(ll, "status"):
		kind = "funnel"
	case strings.Contains(lm, "share") || strings.Contains(lm, "percent") || strings.Contains(lm, "ratio"):
		kind = "doughnut"
	}

	c := &ChartDescriptor{
		Kind:       kind,
		Title:      fmt.Sprintf("%s by %s", measure, label),
		ValueLabel: measure,
	}
	for _, row := range res.Rows {
		name, _ := row[label].(string)
		val, _ := toFloat(row[measure])
		c.Labels = append(c.Labels, name)
		c.Values = append(c.Values, val)
	}
	return c
}

func tableFrom(res *ToolResult) *TableDescriptor {
	cols := make([]string, 0, len(res.Rows[0]))
	for k := range res.Rows[0] {
		if strings.HasPrefix(k, "_") {
			continue
		}
		cols = append(cols, k)
	}
	sort.Strings(cols)

	t := &TableDescriptor{Title: sourceName(res), Columns: cols}
	for _, row := range res.Rows {
		cells := make([]string, 0, len(cols))
		for _, col := range cols {
			cells = append(cells, formatValue(row[col]))
		}
		t.Rows = append(t.Rows, cells)
	}
	return t
}

func formatValue(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		if x {
			return "true"
		}
		return "false"
	default:
		if f, ok := toFloat(v); ok {
			return formatNumber(f)
		}
		return fmt.Sprint(v)
	}
}
