package engine

import "strconv"

// Retriever normalizes heterogeneous tool output into citable evidence.
// Normalization keeps the identifying information (table, collection, node
// identity) so citations resolve back to source.
type Retriever struct{}

// NewRetriever creates a retriever.
func NewRetriever() *Retriever { return &Retriever{} }

// Normalize converts one ToolResult into evidence items and records them in
// the session ledger. Failed or empty results yield no evidence; the
// failure itself stays visible through the ToolResult ledger.
func (r *Retriever) Normalize(st *State, res *ToolResult) []EvidenceItem {
	if res == nil || len(res.Rows) == 0 {
		return nil
	}
	items := make([]EvidenceItem, 0, len(res.Rows))
	for _, row := range res.Rows {
		item := EvidenceItem{
			ID:     st.nextEvidenceID(res.Tool),
			Tool:   res.Tool,
			Source: res.Source,
			Fields: make(map[string]interface{}, len(row)),
		}
		for k, v := range row {
			switch k {
			case "_score":
				if f, ok := toFloat(v); ok {
					item.Score = f
					continue
				}
			case "_source":
				if s, ok := v.(string); ok && s != "" {
					item.Source = s
					continue
				}
			case "_relationship":
				if s, ok := v.(string); ok {
					item.Relationship = s
					continue
				}
			}
			item.Fields[k] = v
		}
		items = append(items, item)
	}
	st.addEvidence(items)
	return items
}

// toFloat coerces the numeric types adapters are allowed to return.
func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		if f, err := strconv.ParseFloat(n, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}
