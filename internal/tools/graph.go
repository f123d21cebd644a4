package tools

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/revlens-ai/revlens/internal/engine"
)

// GraphAdapter wraps the property graph backend over Bolt. Each returned
// row flattens one record: node properties plus relationship type under
// the reserved "_relationship" key.
type GraphAdapter struct {
	driver neo4j.DriverWithContext
	logger *log.Logger
}

// NewGraphAdapter connects to the graph engine.
func NewGraphAdapter(uri, user, password string) (*GraphAdapter, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("creating graph driver: %w", err)
	}
	return &GraphAdapter{
		driver: driver,
		logger: log.New(log.Writer(), "[GRAPH] ", log.LstdFlags),
	}, nil
}

// Kind implements engine.ToolAdapter.
func (a *GraphAdapter) Kind() engine.ToolKind { return engine.ToolGraph }

// Run executes one read-only traversal.
func (a *GraphAdapter) Run(ctx context.Context, q engine.ToolQuery) (engine.AdapterResult, error) {
	gq := q.Graph
	if gq == nil || strings.TrimSpace(gq.Cypher) == "" {
		return engine.AdapterResult{Err: "malformed query: missing cypher"}, nil
	}

	session := a.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, gq.Cypher, gq.Params)
	if err != nil {
		return engine.AdapterResult{Err: err.Error()}, nil
	}

	var out []engine.Row
	for result.Next(ctx) {
		rec := result.Record()
		row := make(engine.Row)
		for i, key := range rec.Keys {
			flattenGraphValue(key, rec.Values[i], row)
		}
		out = append(out, row)
	}
	if err := result.Err(); err != nil {
		return engine.AdapterResult{Rows: out, ResultCount: len(out), Err: err.Error()}, nil
	}
	return engine.AdapterResult{Rows: out, ResultCount: len(out)}, nil
}

// Close shuts the driver down.
func (a *GraphAdapter) Close(ctx context.Context) error { return a.driver.Close(ctx) }

// flattenGraphValue merges nodes, relationships and scalars into one flat
// row, preserving node identity via labels and element ids.
func flattenGraphValue(key string, val interface{}, row engine.Row) {
	switch v := val.(type) {
	case neo4j.Node:
		for k, p := range v.Props {
			row[k] = p
		}
		if len(v.Labels) > 0 {
			row["_labels"] = strings.Join(v.Labels, ",")
		}
	case neo4j.Relationship:
		row["_relationship"] = v.Type
		for k, p := range v.Props {
			row[k] = p
		}
	default:
		if key == "relationship" {
			if s, ok := val.(string); ok {
				row["_relationship"] = s
				return
			}
		}
		row[key] = val
	}
}
