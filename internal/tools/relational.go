package tools

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/revlens-ai/revlens/internal/engine"
)

// RelationalAdapter wraps the Postgres backend behind the uniform tool
// contract. Query failures come back in AdapterResult.Err; the adapter
// never raises for expected database errors.
type RelationalAdapter struct {
	db     *sql.DB
	logger *log.Logger
}

// NewRelationalAdapter opens a connection pool against the DSN.
func NewRelationalAdapter(dsn string) (*RelationalAdapter, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &RelationalAdapter{
		db:     db,
		logger: log.New(log.Writer(), "[SQL] ", log.LstdFlags),
	}, nil
}

// Kind implements engine.ToolAdapter.
func (a *RelationalAdapter) Kind() engine.ToolKind { return engine.ToolRelational }

// Run executes one read-only statement.
func (a *RelationalAdapter) Run(ctx context.Context, q engine.ToolQuery) (engine.AdapterResult, error) {
	rq := q.Relational
	if rq == nil || strings.TrimSpace(rq.SQL) == "" {
		return engine.AdapterResult{Err: "malformed query: missing sql"}, nil
	}
	if !strings.HasPrefix(strings.ToUpper(strings.TrimSpace(rq.SQL)), "SELECT") {
		return engine.AdapterResult{Err: "malformed query: only SELECT statements are allowed"}, nil
	}

	rows, err := a.db.QueryContext(ctx, rq.SQL)
	if err != nil {
		return engine.AdapterResult{Err: err.Error()}, nil
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return engine.AdapterResult{Err: err.Error()}, nil
	}

	var out []engine.Row
	for rows.Next() {
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return engine.AdapterResult{Rows: out, ResultCount: len(out), Err: err.Error()}, nil
		}
		row := make(engine.Row, len(cols))
		for i, col := range cols {
			row[col] = normalizeDBValue(vals[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return engine.AdapterResult{Rows: out, ResultCount: len(out), Err: err.Error()}, nil
	}
	return engine.AdapterResult{Rows: out, ResultCount: len(out)}, nil
}

// Close releases the pool.
func (a *RelationalAdapter) Close() error { return a.db.Close() }

// normalizeDBValue flattens driver types into JSON-friendly values. pq
// returns numerics and text as byte slices.
func normalizeDBValue(v interface{}) interface{} {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	default:
		return v
	}
}
