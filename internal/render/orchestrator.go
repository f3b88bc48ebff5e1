package render

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"edcomposer/internal/pkg/errors"
	"edcomposer/internal/pkg/logger"
)

// ErrClosed is returned by Start after Close.
var ErrClosed = errors.New(errors.CodeUnavailable, "orchestrator is closed")

// Config tunes polling and abort behavior.
type Config struct {
	// PollInterval is the pause between successful polls.
	PollInterval time.Duration
	// Retry bounds transient poll failures.
	Retry RetryPolicy
	// AbortTimeout bounds each best-effort abort request.
	AbortTimeout time.Duration
}

// DefaultConfig returns a 1s poll cadence with the default retry policy.
func DefaultConfig() Config {
	return Config{
		PollInterval: time.Second,
		Retry:        DefaultRetryPolicy(),
		AbortTimeout: 10 * time.Second,
	}
}

// Deps wires an Orchestrator.
type Deps struct {
	Backend Backend
	Config  Config
	Log     *logger.Logger
	// OnComplete receives exactly one Outcome per lifecycle.
	OnComplete func(Outcome)
	// OnSnapshot receives every state change, in order.
	OnSnapshot func(Snapshot)
	// NewRenderID names lifecycles; defaults to uuid.NewString.
	NewRenderID func() string
}

// Orchestrator owns a single render job lifecycle at a time.
//
// All transitions run under mu and are tagged with the lifecycle epoch;
// results from an older epoch are dropped. Notifications are queued under
// mu and delivered in order by the dispatcher.
type Orchestrator struct {
	backend     Backend
	cfg         Config
	log         *logger.Logger
	onComplete  func(Outcome)
	onSnapshot  func(Snapshot)
	newRenderID func() string
	notify      *dispatcher
	wg          sync.WaitGroup
	drainOnce   sync.Once
	drained     chan struct{}

	mu         sync.Mutex
	closed     bool
	epoch      uint64
	status     Status
	percent    int
	hasPercent bool
	renderID   string
	handle     JobHandle
	cancel     context.CancelFunc
}

// New creates an idle Orchestrator.
func New(d Deps) *Orchestrator {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	cfg := d.Config
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.Retry.Base <= 0 {
		cfg.Retry.Base = def.Retry.Base
	}
	if cfg.Retry.Cap < cfg.Retry.Base {
		cfg.Retry.Cap = max(def.Retry.Cap, cfg.Retry.Base)
	}
	if cfg.Retry.MaxTransientFailures <= 0 {
		cfg.Retry.MaxTransientFailures = def.Retry.MaxTransientFailures
	}
	if cfg.AbortTimeout <= 0 {
		cfg.AbortTimeout = def.AbortTimeout
	}
	newID := d.NewRenderID
	if newID == nil {
		newID = uuid.NewString
	}

	return &Orchestrator{
		backend:     d.Backend,
		cfg:         cfg,
		log:         log.WithComponent("orchestrator"),
		onComplete:  d.OnComplete,
		onSnapshot:  d.OnSnapshot,
		newRenderID: newID,
		notify:      newDispatcher(),
		drained:     make(chan struct{}),
		status:      StatusIdle,
	}
}

// Snapshot returns status and percent as one consistent value.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

// Status returns the current lifecycle status.
func (o *Orchestrator) Status() Status {
	return o.Snapshot().Status
}

// Start begins a new lifecycle and returns without waiting for the backend.
// A live job is cancelled first.
func (o *Orchestrator) Start(req Request) (Snapshot, error) {
	if err := req.Validate(); err != nil {
		return Snapshot{}, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return Snapshot{}, ErrClosed
	}
	if o.status.IsActive() {
		o.log.Info("superseding active render", "render_id", o.renderID, "epoch", o.epoch)
		o.cancelLocked()
	}

	o.epoch++
	o.renderID = o.newRenderID()
	o.status = StatusSubmitting
	o.hasPercent = false
	o.percent = 0
	o.handle = ""

	ctx, cancel := context.WithCancel(logger.ContextWithRenderID(context.Background(), o.renderID))
	o.cancel = cancel

	snap := o.snapshotLocked()
	o.publishLocked(snap)

	o.log.Info("render submitting",
		"render_id", o.renderID,
		"epoch", o.epoch,
		"composition", req.CompositionID,
	)

	o.wg.Add(1)
	go o.run(ctx, o.epoch, req.clone())

	return snap, nil
}

// Cancel stops the live job. It reports false, and changes nothing, when the
// orchestrator is idle or already terminal.
func (o *Orchestrator) Cancel() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.status.IsActive() {
		return false
	}
	o.cancelLocked()
	return true
}

// Close cancels any live job, waits for owned goroutines and flushes pending
// notifications. A Close that gives up on ctx leaves the drain running; later
// calls wait for the same drain. It must not be called from a callback.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	if !o.closed {
		o.closed = true
		if o.status.IsActive() {
			o.cancelLocked()
		}
	}
	o.mu.Unlock()

	o.drainOnce.Do(func() {
		go func() {
			o.wg.Wait()
			o.notify.close()
			close(o.drained)
		}()
	})

	select {
	case <-o.drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) run(ctx context.Context, epoch uint64, req Request) {
	defer o.wg.Done()

	// Submission outlives cancellation so a late job handle is still learned
	// and aborted; the HTTP client timeout bounds it.
	handle, err := o.backend.Submit(context.WithoutCancel(ctx), req)
	if err != nil {
		o.finish(epoch, Outcome{
			Kind: OutcomeFailed,
			Err:  errors.WrapWithCode(err, errors.CodeSubmission, "render.start", "render submission failed"),
		})
		return
	}

	if !o.attach(epoch, handle) {
		o.log.Debug("discarding job of superseded render", "job_id", string(handle), "epoch", epoch)
		o.abort(handle)
		return
	}

	o.poll(ctx, epoch, handle)
}

// attach moves a submitting lifecycle to rendering.
func (o *Orchestrator) attach(epoch uint64, handle JobHandle) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if epoch != o.epoch || o.status != StatusSubmitting {
		return false
	}
	o.handle = handle
	o.status = StatusRendering
	o.percent = 0
	o.hasPercent = true
	o.publishLocked(o.snapshotLocked())

	o.log.Info("render job accepted", "render_id", o.renderID, "job_id", string(handle))
	return true
}

func (o *Orchestrator) poll(ctx context.Context, epoch uint64, handle JobHandle) {
	log := o.log.FromContext(ctx).WithJobID(string(handle))
	retry := o.cfg.Retry.newBackOff()
	failures := 0
	var delay time.Duration

	for {
		if !sleep(ctx, delay) {
			return
		}

		snap, err := o.backend.Poll(ctx, handle)
		if ctx.Err() != nil {
			return
		}

		if err != nil {
			if !errors.IsTransient(err) {
				o.finish(epoch, Outcome{Kind: OutcomeFailed, Err: errors.Wrap(err, "render.poll", "poll failed")})
				return
			}
			failures++
			next := retry.NextBackOff()
			if next == backoff.Stop {
				o.finish(epoch, Outcome{
					Kind: OutcomeFailed,
					Err: errors.WrapWithCode(err, errors.CodePollExhausted, "render.poll",
						fmt.Sprintf("gave up after %d consecutive poll failures", failures)),
				})
				return
			}
			log.Warn("transient poll failure, backing off",
				"error", err.Error(),
				"failures", failures,
				"delay_ms", next.Milliseconds(),
			)
			delay = next
			continue
		}

		if failures > 0 {
			log.Info("poll recovered", "failures", failures)
		}
		failures = 0
		retry.Reset()
		delay = o.cfg.PollInterval

		if done := o.apply(epoch, snap); done {
			return
		}
	}
}

// apply folds one poll answer into the state. It reports true when the loop
// must stop.
func (o *Orchestrator) apply(epoch uint64, snap PollSnapshot) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if epoch != o.epoch || o.status != StatusRendering {
		return true
	}

	switch snap.Status {
	case BackendQueued, BackendRendering:
		if snap.Percent == nil {
			return false
		}
		p := clampPercent(*snap.Percent)
		if p == o.percent && o.hasPercent {
			return false
		}
		o.percent = p
		o.hasPercent = true
		o.publishLocked(o.snapshotLocked())
		o.log.Debug("render progress", "render_id", o.renderID, "percent", p)
		return false

	case BackendSucceeded:
		if snap.OutputURL == "" {
			o.finishLocked(Outcome{
				Kind: OutcomeFailed,
				Err:  errors.New(errors.CodeMalformedResponse, "job succeeded without an output url"),
			})
			return true
		}
		o.finishLocked(Outcome{Kind: OutcomeSucceeded, Result: &Result{OutputURL: snap.OutputURL}})
		return true

	case BackendFailed:
		msg := snap.Error
		if msg == "" {
			msg = "render failed"
		}
		o.finishLocked(Outcome{Kind: OutcomeFailed, Err: errors.New(errors.CodeRenderFailed, msg)})
		return true

	default:
		o.finishLocked(Outcome{
			Kind: OutcomeFailed,
			Err:  errors.Newf(errors.CodeMalformedResponse, "unknown job status %q", snap.Status),
		})
		return true
	}
}

// finish ends the lifecycle of epoch unless it was already ended or superseded.
func (o *Orchestrator) finish(epoch uint64, out Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if epoch != o.epoch || !o.status.IsActive() {
		o.log.Debug("dropping stale outcome", "epoch", epoch, "kind", string(out.Kind))
		return
	}
	o.finishLocked(out)
}

func (o *Orchestrator) finishLocked(out Outcome) {
	switch out.Kind {
	case OutcomeSucceeded:
		o.status = StatusSucceeded
	case OutcomeCancelled:
		o.status = StatusCancelled
	default:
		o.status = StatusFailed
	}
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	o.hasPercent = false
	o.percent = 0
	o.handle = ""

	out.Epoch = o.epoch
	out.RenderID = o.renderID

	o.publishLocked(o.snapshotLocked())
	if o.onComplete != nil {
		cb := o.onComplete
		o.notify.enqueue(func() { cb(out) })
	}

	switch out.Kind {
	case OutcomeSucceeded:
		o.log.Info("render succeeded", "render_id", o.renderID, "output_url", out.OutputURL())
	case OutcomeCancelled:
		o.log.Info("render cancelled", "render_id", o.renderID)
	default:
		o.log.Error("render failed",
			"render_id", o.renderID,
			"code", string(errors.GetCode(out.Err)),
			"error", errors.Detail(out.Err),
		)
	}
}

// cancelLocked moves an active lifecycle to cancelled and aborts its job.
func (o *Orchestrator) cancelLocked() {
	handle := o.handle
	o.finishLocked(Outcome{Kind: OutcomeCancelled})
	if handle != "" {
		o.abort(handle)
	}
}

// abort notifies the backend without blocking the caller; failures are
// logged only.
func (o *Orchestrator) abort(handle JobHandle) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), o.cfg.AbortTimeout)
		defer cancel()
		if err := o.backend.Abort(ctx, handle); err != nil {
			o.log.Warn("abort request failed", "job_id", string(handle), "error", err.Error())
			return
		}
		o.log.Debug("abort requested", "job_id", string(handle))
	}()
}

func (o *Orchestrator) snapshotLocked() Snapshot {
	s := Snapshot{
		Status:   o.status,
		Epoch:    o.epoch,
		RenderID: o.renderID,
		Job:      o.handle,
	}
	if o.hasPercent {
		p := o.percent
		s.Percent = &p
	}
	return s
}

func (o *Orchestrator) publishLocked(s Snapshot) {
	if o.onSnapshot == nil {
		return
	}
	cb := o.onSnapshot
	o.notify.enqueue(func() { cb(s) })
}

// sleep waits d or until ctx ends. It reports whether ctx is still live.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
