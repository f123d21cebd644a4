package tools

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/revlens-ai/revlens/internal/engine"
)

// VectorAdapter wraps the semantic index. Each match becomes one row with
// its stored fields, the similarity score under "_score" and the source
// collection under "_source".
type VectorAdapter struct {
	client *weaviate.Client
	logger *log.Logger
}

// NewVectorAdapter connects to the vector engine.
func NewVectorAdapter(host, scheme string) (*VectorAdapter, error) {
	if scheme == "" {
		scheme = "http"
	}
	client, err := weaviate.NewClient(weaviate.Config{Host: host, Scheme: scheme})
	if err != nil {
		return nil, fmt.Errorf("creating vector client: %w", err)
	}
	return &VectorAdapter{
		client: client,
		logger: log.New(log.Writer(), "[VECTOR] ", log.LstdFlags),
	}, nil
}

// Kind implements engine.ToolAdapter.
func (a *VectorAdapter) Kind() engine.ToolKind { return engine.ToolVector }

// Run executes one nearText search.
func (a *VectorAdapter) Run(ctx context.Context, q engine.ToolQuery) (engine.AdapterResult, error) {
	vq := q.Vector
	if vq == nil || strings.TrimSpace(vq.Text) == "" || vq.Collection == "" {
		return engine.AdapterResult{Err: "malformed query: missing collection or text"}, nil
	}
	limit := vq.Limit
	if limit <= 0 {
		limit = 10
	}

	fieldNames := vq.Fields
	if len(fieldNames) == 0 {
		fieldNames = []string{"content"}
	}
	fields := make([]graphql.Field, 0, len(fieldNames)+1)
	for _, f := range fieldNames {
		fields = append(fields, graphql.Field{Name: f})
	}
	fields = append(fields, graphql.Field{Name: "_additional { certainty distance }"})

	nearText := a.client.GraphQL().NearTextArgBuilder().
		WithConcepts([]string{vq.Text})

	result, err := a.client.GraphQL().Get().
		WithClassName(vq.Collection).
		WithFields(fields...).
		WithNearText(nearText).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return engine.AdapterResult{Err: err.Error()}, nil
	}
	if len(result.Errors) > 0 {
		return engine.AdapterResult{Err: result.Errors[0].Message}, nil
	}

	rows := parseMatches(result.Data, vq.Collection)
	return engine.AdapterResult{Rows: rows, ResultCount: len(rows)}, nil
}

// parseMatches walks the GraphQL response shape Get -> ClassName -> objects.
func parseMatches(data map[string]models.JSONObject, collection string) []engine.Row {
	get, ok := data["Get"].(map[string]interface{})
	if !ok {
		return nil
	}
	objects, ok := get[collection].([]interface{})
	if !ok {
		return nil
	}
	rows := make([]engine.Row, 0, len(objects))
	for _, obj := range objects {
		m, ok := obj.(map[string]interface{})
		if !ok {
			continue
		}
		row := make(engine.Row, len(m)+2)
		row["_source"] = collection
		for k, v := range m {
			if k != "_additional" {
				row[k] = v
				continue
			}
			if add, ok := v.(map[string]interface{}); ok {
				if c, ok := add["certainty"].(float64); ok {
					row["_score"] = c
				} else if d, ok := add["distance"].(float64); ok {
					row["_score"] = 1 - d
				}
			}
		}
		rows = append(rows, row)
	}
	return rows
}
