// Package render drives one remote render job at a time: it submits the
// request, polls progress, exposes status and percent, and reports the
// terminal outcome through a callback.
package render

import (
	"strings"

	"edcomposer/internal/pkg/errors"
)

// Status is the lifecycle state of the orchestrator.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusSubmitting Status = "submitting"
	StatusRendering  Status = "rendering"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// IsTerminal reports whether no automatic transition leaves s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsActive reports whether a job is live in s.
func (s Status) IsActive() bool {
	return s == StatusSubmitting || s == StatusRendering
}

// Request asks the backend to render a composition with the given props.
type Request struct {
	CompositionID string         `json:"compositionId"`
	InputProps    map[string]any `json:"inputProps"`
}

// NewRequest builds a Request that owns its own copy of props.
func NewRequest(compositionID string, props map[string]any) Request {
	return Request{
		CompositionID: strings.TrimSpace(compositionID),
		InputProps:    cloneProps(props),
	}
}

// Validate checks the fields the orchestrator needs before submitting.
func (r Request) Validate() error {
	if strings.TrimSpace(r.CompositionID) == "" {
		return errors.ValidationField("compositionId", "composition id is required")
	}
	return nil
}

func (r Request) clone() Request {
	return Request{CompositionID: r.CompositionID, InputProps: cloneProps(r.InputProps)}
}

func cloneProps(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out
}

// JobHandle identifies a job on the render backend.
type JobHandle string

// Snapshot is the observable state. Status and Percent always belong to the
// same lifecycle.
type Snapshot struct {
	Status   Status    `json:"status"`
	Percent  *int      `json:"percent,omitempty"`
	Epoch    uint64    `json:"epoch"`
	RenderID string    `json:"renderId,omitempty"`
	Job      JobHandle `json:"jobId,omitempty"`
}

// ProgressPercent returns the percent and whether it is set.
func (s Snapshot) ProgressPercent() (int, bool) {
	if s.Percent == nil {
		return 0, false
	}
	return *s.Percent, true
}

// Result is the artifact of a successful render.
type Result struct {
	OutputURL string `json:"outputUrl"`
}

// OutcomeKind tells how a lifecycle ended.
type OutcomeKind string

const (
	OutcomeSucceeded OutcomeKind = "succeeded"
	OutcomeFailed    OutcomeKind = "failed"
	OutcomeCancelled OutcomeKind = "cancelled"
)

// Outcome is delivered exactly once per lifecycle.
type Outcome struct {
	Kind     OutcomeKind
	Epoch    uint64
	RenderID string
	// Result is set only for OutcomeSucceeded.
	Result *Result
	// Err is set only for OutcomeFailed.
	Err error
}

// Detail returns a user-facing description of a failure.
func (o Outcome) Detail() string {
	return errors.Detail(o.Err)
}

// OutputURL returns the artifact location of a successful outcome.
func (o Outcome) OutputURL() string {
	if o.Result == nil {
		return ""
	}
	return o.Result.OutputURL
}

func clampPercent(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}
