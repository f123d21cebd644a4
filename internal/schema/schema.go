package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// Summary is a compact description of every queryable surface the engine
// can plan against. It is produced by the ingestion subsystem and consumed
// read-only; a zero-valued Summary is legal and means no tool can run.
type Summary struct {
	Tables        []Table        `json:"tables,omitempty"`
	Relationships []Relationship `json:"relationships,omitempty"`
	Collections   []Collection   `json:"collections,omitempty"`
	RefreshedAt   time.Time      `json:"refreshed_at,omitempty"`
}

// Table describes one relational table.
type Table struct {
	Name     string   `json:"name"`
	Columns  []Column `json:"columns"`
	RowCount int64    `json:"row_count,omitempty"`
}

// Column describes one relational column.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"` // text, numeric, timestamp, bool
}

// Relationship describes one edge type in the property graph.
type Relationship struct {
	Type string `json:"type"`
	From string `json:"from"`
	To   string `json:"to"`
}

// Collection describes one vector collection.
type Collection struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Fields      []string `json:"fields,omitempty"`
}

// HasRelational reports whether any relational table is available.
func (s *Summary) HasRelational() bool { return s != nil && len(s.Tables) > 0 }

// HasGraph reports whether any graph relationship is available.
func (s *Summary) HasGraph() bool { return s != nil && len(s.Relationships) > 0 }

// HasVector reports whether any vector collection is available.
func (s *Summary) HasVector() bool { return s != nil && len(s.Collections) > 0 }

// IsEmpty reports whether no backend is available at all.
func (s *Summary) IsEmpty() bool {
	return !s.HasRelational() && !s.HasGraph() && !s.HasVector()
}

// Table returns the named table, matching case-insensitively.
func (s *Summary) Table(name string) (Table, bool) {
	for _, t := range s.Tables {
		if strings.EqualFold(t.Name, name) {
			return t, true
		}
	}
	return Table{}, false
}

// NumericColumns returns the numeric columns of a table.
func (t Table) NumericColumns() []string {
	var out []string
	for _, c := range t.Columns {
		switch strings.ToLower(c.Type) {
		case "numeric", "integer", "int", "bigint", "float", "double", "real", "decimal":
			out = append(out, c.Name)
		}
	}
	return out
}

// Load reads a Summary from a JSON file written by the ingestion pipeline.
func Load(path string) (*Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading schema summary: %w", err)
	}
	var s Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing schema summary %s: %w", path, err)
	}
	return &s, nil
}
