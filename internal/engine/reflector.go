package engine

import "fmt"

// ReflectorState is one state of the sufficiency state machine.
type ReflectorState string

const (
	StateAwaitingEvidence ReflectorState = "AWAITING_EVIDENCE"
	StateEvaluating       ReflectorState = "EVALUATING"
	StateAccepted         ReflectorState = "ACCEPTED"
	StateEscalate         ReflectorState = "ESCALATE"
	StateExhausted        ReflectorState = "EXHAUSTED"
)

// Reflector decides whether a draft answer is good enough to stop.
// ACCEPTED and EXHAUSTED are terminal; ESCALATE loops back to the planner.
type Reflector struct {
	threshold float64
}

// NewReflector creates a reflector with the acceptance threshold.
func NewReflector(threshold float64) *Reflector {
	if threshold <= 0 || threshold > 1 {
		threshold = 0.7
	}
	return &Reflector{threshold: threshold}
}

// Threshold returns the acceptance threshold in use.
func (r *Reflector) Threshold() float64 { return r.threshold }

// Verdict is the outcome of one evaluation.
type Verdict struct {
	State  ReflectorState
	Reason string
}

// Evaluate compares the draft against the sufficiency policy. untried is
// the number of escalation paths the planner could still take.
func (r *Reflector) Evaluate(ans Answer, lastResult *ToolResult, iteration, maxIterations, untried int) Verdict {
	if ans.Confidence >= r.threshold && lastResult != nil && !lastResult.Failed() {
		return Verdict{
			State:  StateAccepted,
			Reason: fmt.Sprintf("confidence %.2f meets threshold %.2f", ans.Confidence, r.threshold),
		}
	}
	if iteration >= maxIterations {
		return Verdict{
			State:  StateExhausted,
			Reason: fmt.Sprintf("iteration budget of %d reached with confidence %.2f", maxIterations, ans.Confidence),
		}
	}
	if untried == 0 {
		return Verdict{
			State:  StateExhausted,
			Reason: fmt.Sprintf("no untried escalation path remains at confidence %.2f", ans.Confidence),
		}
	}
	return Verdict{
		State:  StateEscalate,
		Reason: fmt.Sprintf("confidence %.2f below threshold %.2f, escalating", ans.Confidence, r.threshold),
	}
}
