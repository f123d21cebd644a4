package schema

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func crmSummary() *Summary {
	return &Summary{
		Tables: []Table{
			{Name: "accounts", Columns: []Column{
				{Name: "id", Type: "integer"},
				{Name: "account_name", Type: "text"},
				{Name: "revenue", Type: "numeric"},
			}},
			{Name: "tickets", Columns: []Column{
				{Name: "id", Type: "integer"},
				{Name: "subject", Type: "text"},
			}},
		},
		Relationships: []Relationship{
			{Type: "WORKS_WITH", From: "Account", To: "Account"},
		},
		Collections: []Collection{
			{Name: "deal_notes", Description: "free text notes about deals", Fields: []string{"content"}},
		},
	}
}

func mustMatcher(t *testing.T, sum *Summary) *Matcher {
	t.Helper()
	m, err := NewMatcher(sum)
	if err != nil {
		t.Fatalf("NewMatcher: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestBestTable(t *testing.T) {
	m := mustMatcher(t, crmSummary())

	name, ok := m.BestTable("What are our top accounts by revenue?")
	if !ok || name != "accounts" {
		t.Fatalf("BestTable = %q, %v, want accounts", name, ok)
	}
}

func TestBestTableStemsPlurals(t *testing.T) {
	m := mustMatcher(t, crmSummary())

	// "account" singular should still hit the accounts table.
	name, ok := m.BestTable("What revenue does each account carry?")
	if !ok || name != "accounts" {
		t.Fatalf("BestTable = %q, %v, want accounts", name, ok)
	}
}

func TestMatchFindsRelationships(t *testing.T) {
	m := mustMatcher(t, crmSummary())

	hits, err := m.Match("Which account works with which account?")
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	found := false
	for _, h := range hits {
		if h.Kind == "relationship" && h.Name == "WORKS_WITH" {
			found = true
		}
	}
	if !found {
		t.Fatalf("relationship not matched, hits = %+v", hits)
	}
}

func TestMatchFindsCollections(t *testing.T) {
	m := mustMatcher(t, crmSummary())

	hits, err := m.Match("notes about deals")
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	found := false
	for _, h := range hits {
		if h.Kind == "collection" && h.Name == "deal_notes" {
			found = true
		}
	}
	if !found {
		t.Fatalf("collection not matched, hits = %+v", hits)
	}
}

func TestMatchEmptyQuestion(t *testing.T) {
	m := mustMatcher(t, crmSummary())

	hits, err := m.Match("the of and")
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("hits = %+v, want none for pure stopwords", hits)
	}
}

func TestSwapReplacesIndex(t *testing.T) {
	m := mustMatcher(t, crmSummary())

	next := &Summary{Tables: []Table{
		{Name: "invoices", Columns: []Column{{Name: "invoice_total", Type: "numeric"}}},
	}}
	if err := m.Swap(next); err != nil {
		t.Fatalf("Swap: %v", err)
	}
	if m.Summary() != next {
		t.Fatalf("summary snapshot not swapped")
	}
	if name, ok := m.BestTable("total across invoices"); !ok || name != "invoices" {
		t.Fatalf("BestTable after swap = %q, %v", name, ok)
	}
	if _, ok := m.BestTable("top accounts by revenue"); ok {
		t.Fatalf("old summary still matched after swap")
	}
}

func TestKeywords(t *testing.T) {
	got := Keywords("What are our top 5 accounts by total deal value?")
	want := []string{"top", "accounts", "total", "deal", "value"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Keywords = %v, want %v", got, want)
	}
}

func TestSummaryHelpers(t *testing.T) {
	sum := crmSummary()
	if !sum.HasRelational() || !sum.HasGraph() || !sum.HasVector() {
		t.Fatalf("summary should report all surfaces")
	}
	if sum.IsEmpty() {
		t.Fatalf("summary is not empty")
	}
	if (&Summary{}).HasRelational() || !(&Summary{}).IsEmpty() {
		t.Fatalf("zero summary should be empty")
	}

	tab, ok := sum.Table("ACCOUNTS")
	if !ok || tab.Name != "accounts" {
		t.Fatalf("Table lookup = %+v, %v", tab, ok)
	}
	if _, ok := sum.Table("deals"); ok {
		t.Fatalf("unknown table matched")
	}
	if got := tab.NumericColumns(); !reflect.DeepEqual(got, []string{"id", "revenue"}) {
		t.Fatalf("NumericColumns = %v", got)
	}
}

func TestLoadSummary(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schema_summary.json")
	data, err := json.Marshal(crmSummary())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	sum, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(sum.Tables) != 2 || sum.Tables[0].Name != "accounts" {
		t.Fatalf("loaded summary = %+v", sum)
	}

	if _, err := Load(filepath.Join(dir, "missing.json")); err == nil {
		t.Fatalf("expected an error for a missing file")
	}
}
