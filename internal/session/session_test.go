package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edcomposer/internal/artifacts"
	"edcomposer/internal/events"
	"edcomposer/internal/pkg/errors"
	"edcomposer/internal/pkg/logger"
	"edcomposer/internal/render"
)

// fakeBackend answers every poll with the next step, repeating the last one.
type fakeBackend struct {
	mu    sync.Mutex
	steps []render.PollSnapshot
	calls int
	req   render.Request
}

func (b *fakeBackend) Submit(_ context.Context, req render.Request) (render.JobHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.req = req
	return "j1", nil
}

func (b *fakeBackend) Poll(_ context.Context, _ render.JobHandle) (render.PollSnapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	step := b.steps[min(b.calls, len(b.steps)-1)]
	b.calls++
	return step, nil
}

func (b *fakeBackend) Abort(context.Context, render.JobHandle) error { return nil }

type fakeMirror struct {
	err error

	mu      sync.Mutex
	removed []string
}

func (m *fakeMirror) Remove(_ context.Context, stored artifacts.Stored) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed = append(m.removed, stored.ObjectKey)
	return nil
}

func (m *fakeMirror) removedKeys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.removed...)
}

func (m *fakeMirror) Copy(_ context.Context, renderID, url string) (artifacts.Stored, error) {
	if m.err != nil {
		return artifacts.Stored{}, m.err
	}
	return artifacts.Stored{
		RenderID:  renderID,
		Provider:  "localfs",
		ObjectKey: artifacts.ObjectKey(renderID, "video/mp4"),
		Size:      42,
		SourceURL: url,
	}, nil
}

func pct(p int) *int { return &p }

func fastConfig() render.Config {
	return render.Config{
		PollInterval: time.Millisecond,
		Retry:        render.RetryPolicy{Base: time.Millisecond, Cap: 2 * time.Millisecond, MaxTransientFailures: 3},
		AbortTimeout: time.Second,
	}
}

func newTestSession(t *testing.T, b render.Backend, mirror Copier) *Session {
	t.Helper()
	s := New(Deps{
		Backend:     b,
		Config:      fastConfig(),
		Mirror:      mirror,
		Log:         logger.Discard(),
		NewRenderID: func() string { return "rnd-1" },
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Close(ctx)
	})
	return s
}

func collectUntil(t *testing.T, ch <-chan events.Event, last events.Type) []events.Event {
	t.Helper()
	var out []events.Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			require.True(t, ok, "event stream closed")
			out = append(out, ev)
			if ev.Type == last {
				return out
			}
		case <-timeout:
			t.Fatalf("timed out after %d events", len(out))
			return out
		}
	}
}

func TestSession_RenderPublishesEvents(t *testing.T) {
	b := &fakeBackend{steps: []render.PollSnapshot{
		{Status: render.BackendRendering, Percent: pct(50)},
		{Status: render.BackendSucceeded, OutputURL: "https://cdn.example.com/j1.mp4"},
	}}
	s := newTestSession(t, b, &fakeMirror{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := s.Subscribe(ctx)
	require.NoError(t, err)

	snap, err := s.Start(ctx, "", map[string]any{"prompt": "black holes"})
	require.NoError(t, err)
	assert.Equal(t, render.StatusSubmitting, snap.Status)

	evs := collectUntil(t, ch, events.TypeArtifact)

	var statuses []render.Status
	for _, ev := range evs {
		if ev.Type == events.TypeSnapshot {
			statuses = append(statuses, ev.Snapshot.Status)
		}
	}
	assert.Equal(t, []render.Status{
		render.StatusSubmitting,
		render.StatusRendering,
		render.StatusRendering,
		render.StatusSucceeded,
	}, statuses)

	outcome := evs[len(evs)-2]
	require.Equal(t, events.TypeOutcome, outcome.Type)
	assert.Equal(t, "https://cdn.example.com/j1.mp4", outcome.Outcome.OutputURL)

	artifact := evs[len(evs)-1].Artifact
	assert.Equal(t, "renders/rnd-1/output.mp4", artifact.ObjectKey)

	last, ok := s.LastOutcome()
	require.True(t, ok)
	assert.Equal(t, render.OutcomeSucceeded, last.Kind)

	stored, ok := s.Artifact("rnd-1")
	require.True(t, ok)
	assert.Equal(t, int64(42), stored.Size)

	b.mu.Lock()
	defer b.mu.Unlock()
	assert.Equal(t, "edcomposer", b.req.CompositionID)
}

func TestSession_StartValidation(t *testing.T) {
	s := newTestSession(t, &fakeBackend{}, nil)

	_, err := s.Start(context.Background(), "edcomposer", map[string]any{})
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
	assert.Equal(t, render.StatusIdle, s.Snapshot().Status)

	_, ok := s.LastOutcome()
	assert.False(t, ok)
}

func TestSession_Cancel(t *testing.T) {
	b := &fakeBackend{steps: []render.PollSnapshot{{Status: render.BackendRendering, Percent: pct(5)}}}
	s := newTestSession(t, b, nil)

	assert.False(t, s.Cancel())

	_, err := s.Start(context.Background(), "edcomposer", map[string]any{"prompt": "tides"})
	require.NoError(t, err)
	assert.True(t, s.Cancel())

	require.Eventually(t, func() bool {
		last, ok := s.LastOutcome()
		return ok && last.Kind == render.OutcomeCancelled
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, render.StatusCancelled, s.Snapshot().Status)
}

func TestSession_MirrorFailureKeepsOutcome(t *testing.T) {
	b := &fakeBackend{steps: []render.PollSnapshot{
		{Status: render.BackendSucceeded, OutputURL: "https://cdn.example.com/j1.mp4"},
	}}
	s := newTestSession(t, b, &fakeMirror{err: errors.New(errors.CodeTransport, "download returned status 403")})

	_, err := s.Start(context.Background(), "edcomposer", map[string]any{"prompt": "tides"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, ok := s.LastOutcome()
		return ok
	}, 2*time.Second, time.Millisecond)
	require.NoError(t, s.Close(context.Background()))

	last, _ := s.LastOutcome()
	assert.Equal(t, render.OutcomeSucceeded, last.Kind)
	_, ok := s.Artifact("rnd-1")
	assert.False(t, ok)
}

func TestSession_ArtifactRetention(t *testing.T) {
	tests := []struct {
		name        string
		prune       bool
		wantRemoved []string
	}{
		{"drops oldest from the index", false, nil},
		{"prune deletes dropped objects", true, []string{artifacts.ObjectKey("r1", "video/mp4")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mirror := &fakeMirror{}
			s := New(Deps{
				Backend: &fakeBackend{steps: []render.PollSnapshot{{Status: render.BackendRendering}}},
				Mirror:  mirror,
				Retain:  2,
				Prune:   tt.prune,
				Log:     logger.Discard(),
			})
			t.Cleanup(func() { _ = s.Close(context.Background()) })

			for _, id := range []string{"r1", "r2", "r3"} {
				s.wg.Add(1)
				s.store(id, "https://cdn.example.com/"+id+".mp4")
			}

			_, ok := s.Artifact("r1")
			assert.False(t, ok, "oldest artifact should be dropped")
			for _, id := range []string{"r2", "r3"} {
				_, ok := s.Artifact(id)
				assert.True(t, ok, id)
			}
			assert.Equal(t, tt.wantRemoved, mirror.removedKeys())
		})
	}
}

func TestSession_RetainDefault(t *testing.T) {
	s := New(Deps{Backend: &fakeBackend{}, Log: logger.Discard()})
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	assert.Equal(t, defaultRetain, s.retain)
}
