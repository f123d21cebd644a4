package engine

import (
	"errors"
	"fmt"
)

// Error kinds surfaced in fault payloads.
const (
	ErrKindFault     = "system_fault"
	ErrKindCancelled = "cancelled"
)

// ErrNoEscalationPath is returned by the planner when every applicable tool
// has already been tried with an equivalent query.
var ErrNoEscalationPath = errors.New("no untried escalation path remains")

// FaultError wraps a failure outside the expected tool or model error
// contract. It is the only error class that aborts an orchestration loop.
type FaultError struct {
	Op  string
	Err error
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("system fault in %s: %v", e.Op, e.Err)
}

func (e *FaultError) Unwrap() error { return e.Err }

// AsFault returns the FaultError inside err, if any.
func AsFault(err error) (*FaultError, bool) {
	var fe *FaultError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}
