// Package session runs the render orchestrator behind the HTTP API: it
// resolves requests against the composition catalog, publishes every state
// change and keeps the last outcome and stored artifacts around for readers.
package session

import (
	"context"
	"sync"
	"time"

	"edcomposer/internal/artifacts"
	"edcomposer/internal/compositions"
	"edcomposer/internal/events"
	"edcomposer/internal/pkg/errors"
	"edcomposer/internal/pkg/logger"
	"edcomposer/internal/render"
)

const (
	publishTimeout = 5 * time.Second
	removeTimeout  = time.Minute
	defaultRetain  = 20
)

// Copier stores finished renders. *artifacts.Mirror implements it.
type Copier interface {
	Copy(ctx context.Context, renderID, sourceURL string) (artifacts.Stored, error)
	Remove(ctx context.Context, stored artifacts.Stored) error
}

type Deps struct {
	Backend render.Backend
	Config  render.Config
	Catalog compositions.Catalog
	Bus     events.Bus
	// Mirror is optional.
	Mirror Copier
	// Retain bounds how many mirrored renders Artifact serves, oldest
	// dropped first. Defaults to 20.
	Retain int
	// Prune removes the stored object of a dropped render.
	Prune bool
	Log   *logger.Logger
	// NewRenderID overrides render id generation in tests.
	NewRenderID func() string
}

type Session struct {
	orch    *render.Orchestrator
	catalog compositions.Catalog
	bus     events.Bus
	mirror  Copier
	retain  int
	prune   bool
	log     *logger.Logger

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	mu        sync.RWMutex
	last      *events.Outcome
	artifacts map[string]artifacts.Stored
	// stored lists artifact render ids, oldest first.
	stored []string
}

func New(d Deps) *Session {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	bus := d.Bus
	if bus == nil {
		bus = events.NewMemoryBus()
	}

	ctx, stop := context.WithCancel(context.Background())
	s := &Session{
		catalog:   d.Catalog,
		bus:       bus,
		mirror:    d.Mirror,
		retain:    d.Retain,
		prune:     d.Prune,
		log:       log.WithComponent("session"),
		baseCtx:   ctx,
		stop:      stop,
		artifacts: make(map[string]artifacts.Stored),
	}
	if s.retain <= 0 {
		s.retain = defaultRetain
	}
	if s.catalog == nil {
		s.catalog = compositions.NewStaticCatalog(compositions.Builtin()...)
	}

	s.orch = render.New(render.Deps{
		Backend:     d.Backend,
		Config:      d.Config,
		Log:         log,
		OnSnapshot:  s.onSnapshot,
		OnComplete:  s.onComplete,
		NewRenderID: d.NewRenderID,
	})
	return s
}

// Start resolves the request and begins a render, superseding a live one.
func (s *Session) Start(ctx context.Context, compositionID string, props map[string]any) (render.Snapshot, error) {
	req, err := compositions.Resolve(ctx, s.catalog, compositionID, props)
	if err != nil {
		return render.Snapshot{}, err
	}
	return s.orch.Start(req)
}

// Cancel stops the live render. It reports false when nothing was running.
func (s *Session) Cancel() bool {
	return s.orch.Cancel()
}

func (s *Session) Snapshot() render.Snapshot {
	return s.orch.Snapshot()
}

// LastOutcome returns the outcome of the most recent finished render.
func (s *Session) LastOutcome() (events.Outcome, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return events.Outcome{}, false
	}
	return *s.last, true
}

// Artifact returns the stored output of renderID.
func (s *Session) Artifact(renderID string) (artifacts.Stored, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.artifacts[renderID]
	return a, ok
}

func (s *Session) Catalog() compositions.Catalog { return s.catalog }

// Subscribe streams events published after the call until ctx ends.
func (s *Session) Subscribe(ctx context.Context) (<-chan events.Event, error) {
	return s.bus.Subscribe(ctx)
}

// Close cancels the live render and waits for pending notifications and
// artifact copies.
func (s *Session) Close(ctx context.Context) error {
	if err := s.orch.Close(ctx); err != nil {
		return err
	}
	s.stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) onSnapshot(snap render.Snapshot) {
	s.publish(events.SnapshotEvent(snap))
}

func (s *Session) onComplete(out render.Outcome) {
	wire := events.NewOutcome(out)
	s.mu.Lock()
	s.last = &wire
	s.mu.Unlock()

	s.publish(events.OutcomeEvent(out))

	if out.Kind == render.OutcomeSucceeded && s.mirror != nil {
		s.wg.Add(1)
		go s.store(out.RenderID, out.OutputURL())
	}
}

func (s *Session) store(renderID, url string) {
	defer s.wg.Done()

	stored, err := s.mirror.Copy(s.baseCtx, renderID, url)
	if err != nil {
		s.log.Error("artifact mirror failed",
			"render_id", renderID,
			"code", string(errors.GetCode(err)),
			"error", err.Error(),
		)
		return
	}

	dropped := s.keep(renderID, stored)

	s.publish(events.ArtifactEvent(events.Artifact{
		RenderID:  renderID,
		Provider:  stored.Provider,
		ObjectKey: stored.ObjectKey,
		Size:      stored.Size,
	}))

	if s.prune {
		s.remove(dropped)
	}
}

// keep indexes the artifact of renderID and returns the artifacts pushed out of the retained
// window.
func (s *Session) keep(renderID string, stored artifacts.Stored) []artifacts.Stored {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.artifacts[renderID]; !ok {
		s.stored = append(s.stored, renderID)
	}
	s.artifacts[renderID] = stored

	var dropped []artifacts.Stored
	for len(s.stored) > s.retain {
		id := s.stored[0]
		s.stored = s.stored[1:]
		dropped = append(dropped, s.artifacts[id])
		delete(s.artifacts, id)
	}
	return dropped
}

func (s *Session) remove(dropped []artifacts.Stored) {
	for _, a := range dropped {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(s.baseCtx), removeTimeout)
		err := s.mirror.Remove(ctx, a)
		cancel()
		if err != nil {
			s.log.Warn("artifact removal failed",
				"render_id", a.RenderID,
				"object_key", a.ObjectKey,
				"error", err.Error(),
			)
		}
	}
}

func (s *Session) publish(ev events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := s.bus.Publish(ctx, ev); err != nil {
		s.log.Warn("event publish failed", "type", string(ev.Type), "error", err.Error())
	}
}
