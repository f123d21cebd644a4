package schema

import (
	"fmt"
	"strings"
	"sync"

	"github.com/blevesearch/bleve"
	"github.com/blevesearch/bleve/analysis/lang/en"
)

// newIndex builds an in-memory index with English stemming so question
// terms like "accounts" still hit "account_name".
func newIndex() (bleve.Index, error) {
	mapping := bleve.NewIndexMapping()
	mapping.DefaultAnalyzer = en.AnalyzerName
	return bleve.NewMemOnly(mapping)
}

// matcherDoc is what gets indexed per queryable surface.
type matcherDoc struct {
	Kind  string `json:"kind"` // table, relationship, collection
	Name  string `json:"name"`
	Text  string `json:"text"`
	Table string `json:"table,omitempty"`
}

// Matcher grounds free-text question terms against the schema summary using
// an in-memory full-text index. It answers two questions for the planner:
// which table best matches a question, and whether the question matches
// anything at all.
type Matcher struct {
	mu    sync.RWMutex
	index bleve.Index
	sum   *Summary
}

// NewMatcher indexes the summary's tables, relationships and collections.
func NewMatcher(sum *Summary) (*Matcher, error) {
	index, err := newIndex()
	if err != nil {
		return nil, fmt.Errorf("creating schema index: %w", err)
	}
	m := &Matcher{index: index, sum: sum}
	if err := m.indexSummary(sum); err != nil {
		_ = index.Close()
		return nil, err
	}
	return m, nil
}

func (m *Matcher) indexSummary(sum *Summary) error {
	if sum == nil {
		return nil
	}
	for _, t := range sum.Tables {
		var cols []string
		for _, c := range t.Columns {
			cols = append(cols, expandIdentifier(c.Name))
		}
		doc := matcherDoc{
			Kind:  "table",
			Name:  t.Name,
			Table: t.Name,
			Text:  expandIdentifier(t.Name) + " " + strings.Join(cols, " "),
		}
		if err := m.index.Index("table:"+t.Name, doc); err != nil {
			return fmt.Errorf("indexing table %s: %w", t.Name, err)
		}
	}
	for _, r := range sum.Relationships {
		doc := matcherDoc{
			Kind: "relationship",
			Name: r.Type,
			Text: expandIdentifier(r.Type) + " " + expandIdentifier(r.From) + " " + expandIdentifier(r.To),
		}
		if err := m.index.Index("rel:"+r.Type, doc); err != nil {
			return fmt.Errorf("indexing relationship %s: %w", r.Type, err)
		}
	}
	for _, c := range sum.Collections {
		doc := matcherDoc{
			Kind: "collection",
			Name: c.Name,
			Text: expandIdentifier(c.Name) + " " + c.Description + " " + strings.Join(c.Fields, " "),
		}
		if err := m.index.Index("coll:"+c.Name, doc); err != nil {
			return fmt.Errorf("indexing collection %s: %w", c.Name, err)
		}
	}
	return nil
}

// Swap replaces the indexed summary, used when ingestion refreshes it.
func (m *Matcher) Swap(sum *Summary) error {
	index, err := newIndex()
	if err != nil {
		return fmt.Errorf("creating schema index: %w", err)
	}
	next := &Matcher{index: index, sum: sum}
	if err := next.indexSummary(sum); err != nil {
		_ = index.Close()
		return err
	}
	m.mu.Lock()
	old := m.index
	m.index = index
	m.sum = sum
	m.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return nil
}

// Summary returns the currently indexed summary snapshot.
func (m *Matcher) Summary() *Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sum
}

// Hit is one schema surface matched against a question.
type Hit struct {
	Kind  string
	Name  string
	Table string
	Score float64
}

// Match returns schema surfaces relevant to the question, best first.
func (m *Matcher) Match(question string) ([]Hit, error) {
	terms := Keywords(question)
	if len(terms) == 0 {
		return nil, nil
	}
	m.mu.RLock()
	index := m.index
	m.mu.RUnlock()

	query := bleve.NewQueryStringQuery(strings.Join(terms, " "))
	req := bleve.NewSearchRequestOptions(query, 10, 0, false)
	req.Fields = []string{"kind", "name", "table"}
	res, err := index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("schema match: %w", err)
	}
	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hit := Hit{Score: h.Score}
		if v, ok := h.Fields["kind"].(string); ok {
			hit.Kind = v
		}
		if v, ok := h.Fields["name"].(string); ok {
			hit.Name = v
		}
		if v, ok := h.Fields["table"].(string); ok {
			hit.Table = v
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// BestTable returns the highest scoring table for the question.
func (m *Matcher) BestTable(question string) (string, bool) {
	hits, err := m.Match(question)
	if err != nil {
		return "", false
	}
	for _, h := range hits {
		if h.Kind == "table" {
			return h.Name, true
		}
	}
	return "", false
}

// Close releases the in-memory index.
func (m *Matcher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.index == nil {
		return nil
	}
	err := m.index.Close()
	m.index = nil
	return err
}

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "how": true, "in": true,
	"is": true, "it": true, "of": true, "on": true, "or": true, "our": true,
	"show": true, "that": true, "the": true, "their": true, "this": true,
	"to": true, "us": true, "was": true, "we": true, "what": true, "when": true,
	"where": true, "which": true, "who": true, "will": true, "with": true,
	"give": true, "me": true, "my": true, "list": true, "many": true,
}

// Keywords lowercases and tokenizes a question, dropping stopwords.
func Keywords(question string) []string {
	fields := strings.FieldsFunc(strings.ToLower(question), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_')
	})
	var out []string
	for _, f := range fields {
		if len(f) < 2 || stopwords[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}

// expandIdentifier turns snake_case identifiers into searchable words,
// keeping the original form too.
func expandIdentifier(s string) string {
	if !strings.Contains(s, "_") {
		return s
	}
	return s + " " + strings.ReplaceAll(s, "_", " ")
}
