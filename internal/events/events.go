// Package events fans render state changes out to interested clients.
package events

import (
	"context"
	"time"

	"edcomposer/internal/pkg/errors"
	"edcomposer/internal/render"
)

// Type tags an Event.
type Type string

const (
	TypeSnapshot Type = "snapshot"
	TypeOutcome  Type = "outcome"
	TypeArtifact Type = "artifact"
)

// Event is the JSON message published for every render state change.
type Event struct {
	Type      Type             `json:"type"`
	Snapshot  *render.Snapshot `json:"snapshot,omitempty"`
	Outcome   *Outcome         `json:"outcome,omitempty"`
	Artifact  *Artifact        `json:"artifact,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// Outcome is the wire form of render.Outcome.
type Outcome struct {
	Kind      render.OutcomeKind `json:"kind"`
	Epoch     uint64             `json:"epoch"`
	RenderID  string             `json:"renderId"`
	OutputURL string             `json:"outputUrl,omitempty"`
	Error     *Failure           `json:"error,omitempty"`
}

// Failure describes why a render failed.
type Failure struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Artifact reports a rendered file copied into storage.
type Artifact struct {
	RenderID  string `json:"renderId"`
	Provider  string `json:"provider"`
	ObjectKey string `json:"objectKey"`
	Size      int64  `json:"size"`
}

// NewOutcome converts a render outcome for publishing.
func NewOutcome(o render.Outcome) Outcome {
	out := Outcome{
		Kind:      o.Kind,
		Epoch:     o.Epoch,
		RenderID:  o.RenderID,
		OutputURL: o.OutputURL(),
	}
	if o.Err != nil {
		out.Error = &Failure{
			Code:    string(errors.GetCode(o.Err)),
			Message: o.Detail(),
		}
	}
	return out
}

func SnapshotEvent(s render.Snapshot) Event {
	return Event{Type: TypeSnapshot, Snapshot: &s, Timestamp: time.Now().UTC()}
}

func OutcomeEvent(o render.Outcome) Event {
	out := NewOutcome(o)
	return Event{Type: TypeOutcome, Outcome: &out, Timestamp: time.Now().UTC()}
}

func ArtifactEvent(a Artifact) Event {
	return Event{Type: TypeArtifact, Artifact: &a, Timestamp: time.Now().UTC()}
}

// Bus publishes events to all current subscribers in publish order.
type Bus interface {
	Publish(ctx context.Context, ev Event) error
	// Subscribe returns a channel that receives events published after the
	// call. The channel is closed when ctx ends or the bus closes.
	Subscribe(ctx context.Context) (<-chan Event, error)
	Close() error
}
