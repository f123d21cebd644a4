package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/revlens-ai/revlens/internal/llm"
	"github.com/revlens-ai/revlens/internal/schema"
	"github.com/revlens-ai/revlens/internal/telemetry"
)

// Config carries the loop's tunables.
type Config struct {
	MaxIterations       int           // default 3
	ConfidenceThreshold float64       // default 0.7
	ToolTimeout         time.Duration // per adapter call
}

// Engine is the query orchestration core: the Planner, Retriever, Reasoner
// and Reflector loop plus the terminal Formatter. It holds no per-question
// state; everything mutable lives in the caller-owned State.
type Engine struct {
	cfg       Config
	logger    *log.Logger
	matcher   *schema.Matcher
	planner   *Planner
	executor  *Executor
	retriever *Retriever
	reasoner  *Reasoner
	reflector *Reflector
	formatter *Formatter
	metrics   *telemetry.Metrics
}

// New wires the engine. provider and metrics may be nil.
func New(cfg Config, adapters []ToolAdapter, provider llm.Provider, matcher *schema.Matcher, logger *log.Logger, metrics *telemetry.Metrics) *Engine {
	if logger == nil {
		logger = log.New(log.Writer(), "[ENGINE] ", log.LstdFlags)
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 3
	}
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = 0.7
	}
	return &Engine{
		cfg:       cfg,
		logger:    logger,
		matcher:   matcher,
		planner:   NewPlanner(provider, logger),
		executor:  NewExecutor(adapters, cfg.ToolTimeout, logger, metrics),
		retriever: NewRetriever(),
		reasoner:  NewReasoner(provider, logger),
		reflector: NewReflector(cfg.ConfidenceThreshold),
		formatter: NewFormatter(),
		metrics:   metrics,
	}
}

// Answer runs the full orchestration loop synchronously. Every terminal
// outcome, including faults, comes back as a well-formed Response.
func (e *Engine) Answer(ctx context.Context, q Question, st *State) *Response {
	return e.run(ctx, q, st, nil)
}

// Stream runs the loop concurrently and emits trace events as they occur,
// followed by exactly one terminal result event. The channel closes after
// the result, or early when ctx is cancelled.
func (e *Engine) Stream(ctx context.Context, q Question, st *State) <-chan Event {
	out := make(chan Event, 16)
	go func() {
		defer close(out)
		emit := func(ev TraceEvent) {
			select {
			case out <- Event{Type: "trace", Trace: &ev}:
			case <-ctx.Done():
			}
		}
		resp := e.run(ctx, q, st, emit)
		select {
		case out <- Event{Type: "result", Response: resp}:
		case <-ctx.Done():
		}
	}()
	return out
}

func (e *Engine) run(ctx context.Context, q Question, st *State, emit func(TraceEvent)) *Response {
	maxIter := q.MaxIterations
	if maxIter <= 0 {
		maxIter = e.cfg.MaxIterations
	}

	trace := NewTrace(emit)
	sum := e.matcher.Summary()
	history := st.History()
	tried := make(map[ToolKind]bool)
	lastLevel := -1

	var best Answer
	var bestSet bool
	iterations := 0

	for iteration := 1; iteration <= maxIter; iteration++ {
		iterations = iteration
		if err := ctx.Err(); err != nil {
			return e.fault(q, st, trace, iterations, ErrKindCancelled, "question processing was cancelled")
		}

		plan, err := e.planner.Plan(ctx, planInput{
			Question:  q,
			History:   history,
			Schema:    sum,
			Matcher:   e.matcher,
			State:     st,
			Iteration: iteration,
			Tried:     tried,
			LastLevel: lastLevel,
		})
		if err != nil {
			// Nothing left to try: surface the best draft so far.
			reason := "every applicable tool was already tried"
			if n := e.untried(sum, tried); n > 0 {
				reason = fmt.Sprintf("no further query could be planned with %d tool(s) unattempted", n)
			}
			return e.exhausted(q, st, trace, best, bestSet, iterations-1, reason)
		}
		trace.Append(TraceEvent{Phase: PhasePlanning, Iteration: iteration, Plan: &plan, Detail: plan.Reasoning})

		if plan.Tool == ToolNone {
			return e.deadEnd(q, st, trace, plan, iterations)
		}
		tried[plan.Tool] = true
		lastLevel = plan.EscalationLevel

		result, err := e.executor.Execute(ctx, st, plan, iteration, trace)
		if err != nil {
			e.logger.Printf("aborting question %q: %v", q.Text, err)
			return e.fault(q, st, trace, iterations, ErrKindFault, err.Error())
		}

		e.retriever.Normalize(st, result)

		ans, err := e.reasoner.Reason(ctx, q, st)
		if err != nil {
			return e.fault(q, st, trace, iterations, ErrKindFault, err.Error())
		}
		trace.Append(TraceEvent{Phase: PhaseReasoning, Iteration: iteration, Detail: ans.Rationale})

		if !bestSet || ans.Confidence > best.Confidence {
			best = ans
			bestSet = true
		}

		verdict := e.reflector.Evaluate(ans, result, iteration, maxIter, e.untried(sum, tried))
		trace.Append(TraceEvent{Phase: PhaseReflection, Iteration: iteration, Detail: string(verdict.State) + ": " + verdict.Reason})

		switch verdict.State {
		case StateAccepted:
			return e.accepted(q, st, trace, ans, iterations)
		case StateExhausted:
			return e.exhausted(q, st, trace, best, bestSet, iterations, verdict.Reason)
		}
	}

	return e.exhausted(q, st, trace, best, bestSet, iterations, "iteration budget reached")
}

// untried counts escalation paths the planner could still take: available
// tools with a wired adapter that have not been attempted.
func (e *Engine) untried(sum *schema.Summary, tried map[ToolKind]bool) int {
	n := 0
	for _, t := range availableTools(sum) {
		if !tried[t] && e.executor.Has(t) {
			n++
		}
	}
	return n
}

func (e *Engine) accepted(q Question, st *State, trace *Trace, ans Answer, iterations int) *Response {
	resp := &Response{
		AnswerText:    ans.Text,
		Confidence:    ans.Confidence,
		ConfidenceTag: confidenceTag(ans.Confidence),
		EvidenceIDs:   ans.EvidenceIDs,
		KPIs:          ans.KPIs,
		Trace:         trace.Events(),
		Status:        StatusAccepted,
		Iterations:    iterations,
	}
	resp.Blocks = e.formatter.Format(ans, resp.Trace)
	st.AddTurn(q.Text, ans.Text)
	e.metrics.ObserveQuestion(string(StatusAccepted), iterations, ans.Confidence)
	return resp
}

func (e *Engine) exhausted(q Question, st *State, trace *Trace, best Answer, bestSet bool, iterations int, reason string) *Response {
	if !bestSet {
		best = Answer{Text: "No supporting evidence could be retrieved for this question."}
	}
	resp := &Response{
		AnswerText:    best.Text,
		Confidence:    best.Confidence,
		ConfidenceTag: "low",
		EvidenceIDs:   best.EvidenceIDs,
		KPIs:          best.KPIs,
		Trace:         trace.Events(),
		Status:        StatusExhausted,
		Disclosure:    "The iteration budget was exhausted before a confident answer was reached: " + reason + ". Treat this answer as a best effort.",
		Iterations:    iterations,
	}
	resp.Blocks = e.formatter.Format(best, resp.Trace)
	st.AddTurn(q.Text, best.Text)
	e.metrics.ObserveQuestion(string(StatusExhausted), iterations, best.Confidence)
	return resp
}

func (e *Engine) deadEnd(q Question, st *State, trace *Trace, plan Plan, iterations int) *Response {
	text := "The available data cannot answer this question: " + plan.Reasoning + "."
	resp := &Response{
		AnswerText:    text,
		Confidence:    0,
		ConfidenceTag: "low",
		Trace:         trace.Events(),
		Status:        StatusDeadEnd,
		Disclosure:    "No retrieval tool matches the question against the current schema.",
		Iterations:    iterations,
	}
	st.AddTurn(q.Text, text)
	e.metrics.ObserveQuestion(string(StatusDeadEnd), iterations, 0)
	return resp
}

func (e *Engine) fault(q Question, st *State, trace *Trace, iterations int, kind, msg string) *Response {
	resp := &Response{
		AnswerText:    "Processing failed before an answer could be produced.",
		ConfidenceTag: "low",
		Trace:         trace.Events(),
		Status:        StatusFault,
		Iterations:    iterations,
		ErrorKind:     kind,
		ErrorMessage:  msg,
	}
	e.metrics.ObserveQuestion(string(StatusFault), iterations, 0)
	return resp
}
