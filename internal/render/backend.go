package render

import "context"

// BackendStatus is the job state reported by the render backend.
type BackendStatus string

const (
	BackendQueued    BackendStatus = "queued"
	BackendRendering BackendStatus = "rendering"
	BackendSucceeded BackendStatus = "succeeded"
	BackendFailed    BackendStatus = "failed"
)

// PollSnapshot is one answer from GET /jobs/{id}.
type PollSnapshot struct {
	Status    BackendStatus `json:"status"`
	Percent   *int          `json:"percent,omitempty"`
	OutputURL string        `json:"outputUrl,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// Submitter starts backend jobs. Submissions are not idempotent.
type Submitter interface {
	Submit(ctx context.Context, req Request) (JobHandle, error)
}

// Poller reads the state of a backend job. Errors classified as transient by
// errors.IsTransient are retried by the orchestrator.
type Poller interface {
	Poll(ctx context.Context, handle JobHandle) (PollSnapshot, error)
}

// Aborter asks the backend to stop a job. Callers treat it as best effort.
type Aborter interface {
	Abort(ctx context.Context, handle JobHandle) error
}

// Backend is the full render backend contract.
type Backend interface {
	Submitter
	Poller
	Aborter
}
