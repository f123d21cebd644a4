package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/revlens-ai/revlens/internal/telemetry"
)

// Executor dispatches tool calls with a per-call timeout, a per-session
// result cache and single-flight join of identical in-flight calls. Every
// invocation, success or failure, yields exactly one recorded ToolResult.
type Executor struct {
	adapters map[ToolKind]ToolAdapter
	timeout  time.Duration
	logger   *log.Logger
	metrics  *telemetry.Metrics
}

// NewExecutor wires the available adapters. metrics may be nil.
func NewExecutor(adapters []ToolAdapter, timeout time.Duration, logger *log.Logger, metrics *telemetry.Metrics) *Executor {
	if logger == nil {
		logger = log.New(log.Writer(), "[EXECUTOR] ", log.LstdFlags)
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	m := make(map[ToolKind]ToolAdapter, len(adapters))
	for _, a := range adapters {
		m[a.Kind()] = a
	}
	return &Executor{adapters: m, timeout: timeout, logger: logger, metrics: metrics}
}

// Has reports whether an adapter is wired for the tool.
func (e *Executor) Has(tool ToolKind) bool {
	_, ok := e.adapters[tool]
	return ok
}

// Execute runs one plan against its adapter. Cache hits return the prior
// ToolResult pointer untouched. Tool-level failures come back inside the
// ToolResult; a non-nil error is a system fault and aborts the caller's
// loop.
func (e *Executor) Execute(ctx context.Context, st *State, plan Plan, iteration int, trace *Trace) (*ToolResult, error) {
	key := cacheKey(plan.Tool, plan.Query)

	if prior, ok := st.cached(key); ok {
		e.metrics.ObserveCacheHit()
		trace.Append(TraceEvent{
			Phase:     PhaseRetrieval,
			Iteration: iteration,
			Result:    prior,
			Detail:    "cache hit",
		})
		return prior, nil
	}

	v, err, _ := st.flight.Do(key, func() (out interface{}, ferr error) {
		defer func() {
			if r := recover(); r != nil {
				ferr = &FaultError{Op: string(plan.Tool) + " adapter", Err: fmt.Errorf("panic: %v", r)}
			}
		}()
		res, ferr := e.run(ctx, plan)
		if res != nil {
			st.record(key, res)
		}
		return res, ferr
	})

	var result *ToolResult
	if r, ok := v.(*ToolResult); ok {
		result = r
	}
	if result != nil {
		trace.Append(TraceEvent{
			Phase:     PhaseRetrieval,
			Iteration: iteration,
			Result:    result,
		})
	}
	if err != nil {
		e.logger.Printf("%s execution fault: %v", plan.Tool, err)
		if _, ok := AsFault(err); ok {
			return result, err
		}
		return result, &FaultError{Op: string(plan.Tool) + " adapter", Err: err}
	}
	return result, nil
}

// run performs the adapter call under the per-call timeout. The adapter
// goroutine is left to observe cancellation on its own; the result channel
// is buffered so it can never leak blocked.
func (e *Executor) run(ctx context.Context, plan Plan) (*ToolResult, error) {
	adapter, ok := e.adapters[plan.Tool]
	if !ok {
		return &ToolResult{
			Tool:        plan.Tool,
			QueryIssued: plan.Query.Text(),
			Source:      querySource(plan.Query),
			Err:         fmt.Sprintf("no %s adapter configured", plan.Tool),
		}, nil
	}

	cctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type outcome struct {
		res AdapterResult
		err error
	}
	ch := make(chan outcome, 1)
	start := time.Now()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		res, err := adapter.Run(cctx, plan.Query)
		ch <- outcome{res: res, err: err}
	}()

	result := &ToolResult{
		Tool:        plan.Tool,
		QueryIssued: plan.Query.Text(),
		Source:      querySource(plan.Query),
	}

	select {
	case <-cctx.Done():
		result.Duration = time.Since(start)
		if ctx.Err() != nil && cctx.Err() != context.DeadlineExceeded {
			result.Err = "cancelled"
		} else {
			result.Err = "timeout"
		}
	case out := <-ch:
		result.Duration = time.Since(start)
		if out.err != nil {
			result.Err = out.err.Error()
			e.metrics.ObserveToolCall(string(plan.Tool), result.Duration, true)
			return result, &FaultError{Op: string(plan.Tool) + " adapter", Err: out.err}
		}
		result.Rows = out.res.Rows
		result.ResultCount = out.res.ResultCount
		if result.ResultCount == 0 {
			result.ResultCount = len(out.res.Rows)
		}
		result.Err = out.res.Err
	}
	e.metrics.ObserveToolCall(string(plan.Tool), result.Duration, result.Failed())
	return result, nil
}

func querySource(q ToolQuery) string {
	switch {
	case q.Relational != nil:
		return q.Relational.Table
	case q.Vector != nil:
		return q.Vector.Collection
	}
	return ""
}
