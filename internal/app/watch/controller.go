// Package watch implements the scan-progress synchronization engine: it
// merges a push stream and a snapshot poll into one monotonically advancing
// session per scanned entity.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/scanwatch/internal/app/watch/metrics"
	"github.com/ahrav/scanwatch/internal/domain/progress"
	"github.com/ahrav/scanwatch/internal/infra/poll"
	"github.com/ahrav/scanwatch/internal/infra/sse"
	"github.com/ahrav/scanwatch/pkg/common/logger"
)

// ErrScanInProgress is returned when a scan is triggered for an entity that
// already has a live session. Two sessions racing on one entity's stream and
// poll resources would corrupt both.
var ErrScanInProgress = errors.New("scan already in progress for entity")

// errStreamEnded marks the server closing the stream. Whether that is the
// normal end of the scan or a mid-flight loss depends on whether a terminal
// event made it through first, which only the consumer knows.
var errStreamEnded = errors.New("event stream ended")

// ScanAPI is the surface of the scanning-server collaborator the engine
// needs: trigger a scan and stream its events, fetch one authoritative
// snapshot, and refresh the scanned entity's summary after a terminal phase.
type ScanAPI interface {
	TriggerScan(ctx context.Context, entityID string, kind progress.ScanKind) (io.ReadCloser, error)
	Snapshot(ctx context.Context, entityID string, kind progress.ScanKind) (progress.ScanEvent, error)
	RefreshEntity(ctx context.Context, entityID string) error
}

// Config holds the engine's timing and policy knobs.
type Config struct {
	// PollInterval is the snapshot poll cadence.
	PollInterval time.Duration

	// PacingGap is the minimum spacing between UI-visible updates.
	PacingGap time.Duration

	// DismissDelay is how long a completed overlay stays up before the
	// auto-dismiss signal fires. Errors never auto-dismiss.
	DismissDelay time.Duration

	// ReconcileOnStreamFailure controls whether a lost stream triggers one
	// final authoritative snapshot fetch before the session is failed. The
	// server job may have finished even though the client never saw the
	// terminal event.
	ReconcileOnStreamFailure bool
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.PacingGap <= 0 {
		c.PacingGap = 400 * time.Millisecond
	}
	if c.DismissDelay <= 0 {
		c.DismissDelay = 2 * time.Second
	}
	return c
}

// Controller owns scan session lifecycles: it starts the two channels, runs
// the reconciler over their merged output, guarantees the poll resource is
// released exactly once on every exit path, and fires the terminal side
// effects.
type Controller struct {
	api ScanAPI
	cfg Config

	log     *logger.Logger
	tracer  trace.Tracer
	metrics metrics.WatchMetrics

	mu     sync.Mutex
	active map[string]*Session
}

// NewController creates a Controller over the given scanning-server client.
func NewController(api ScanAPI, cfg Config, log *logger.Logger, tracer trace.Tracer, watchMetrics metrics.WatchMetrics) *Controller {
	return &Controller{
		api:     api,
		cfg:     cfg.withDefaults(),
		log:     log.With("component", "session_controller"),
		tracer:  tracer,
		metrics: watchMetrics,
		active:  make(map[string]*Session),
	}
}

// sourcedEvent pairs an event with the channel that delivered it.
type sourcedEvent struct {
	evt    progress.ScanEvent
	source progress.EventSource
}

// Session is the live handle for one watched scan. Consumers read paced
// snapshots from Updates and select on Done/Dismissed; they never see the
// mutable domain session.
type Session struct {
	entityID string
	kind     progress.ScanKind

	sess   *progress.ScanSession
	cancel context.CancelFunc

	updates   chan progress.Snapshot
	done      chan struct{}
	dismissed chan struct{}

	dismissOnce sync.Once
	refreshOnce sync.Once

	mu     sync.Mutex
	latest progress.Snapshot
}

// EntityID returns the identifier of the entity being watched.
func (s *Session) EntityID() string { return s.entityID }

// Kind returns the scan kind.
func (s *Session) Kind() progress.ScanKind { return s.kind }

// Updates returns the paced snapshot stream. It is closed when the session
// finishes.
func (s *Session) Updates() <-chan progress.Snapshot { return s.updates }

// Done is closed once the session reaches a terminal phase and all its
// resources are released.
func (s *Session) Done() <-chan struct{} { return s.done }

// Dismissed is closed when the overlay should go away: a fixed delay after a
// successful completion, or immediately on user dismissal. Errors keep the
// overlay up until the user acts.
func (s *Session) Dismissed() <-chan struct{} { return s.dismissed }

// Snapshot returns the most recently dispatched snapshot.
func (s *Session) Snapshot() progress.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

// Dismiss cancels the session. Events delivered after dismissal are
// discarded; the poll and stream resources are torn down.
func (s *Session) Dismiss() {
	s.cancel()
	s.markDismissed()
}

func (s *Session) markDismissed() {
	s.dismissOnce.Do(func() { close(s.dismissed) })
}

// push records the snapshot and offers it to the updates channel, dropping
// the oldest buffered entry if the consumer is behind. The latest snapshot
// always remains available through Snapshot.
func (s *Session) push(snap progress.Snapshot) {
	s.mu.Lock()
	s.latest = snap
	s.mu.Unlock()

	select {
	case s.updates <- snap:
	default:
		select {
		case <-s.updates:
		default:
		}
		select {
		case s.updates <- snap:
		default:
		}
	}
}

// StartScan triggers a new scan for the entity and begins tracking it. It
// rejects the trigger if the entity already has a live session.
func (c *Controller) StartScan(ctx context.Context, entityID string, kind progress.ScanKind) (*Session, error) {
	return c.begin(ctx, entityID, kind, true)
}

// Attach joins a scan that is already running server-side, discovered via
// poll. No trigger request is issued; the poll channel carries all events.
func (c *Controller) Attach(ctx context.Context, entityID string, kind progress.ScanKind) (*Session, error) {
	return c.begin(ctx, entityID, kind, false)
}

func (c *Controller) begin(ctx context.Context, entityID string, kind progress.ScanKind, trigger bool) (*Session, error) {
	sess := progress.NewScanSession(entityID, kind)
	if err := sess.Begin(); err != nil {
		return nil, err
	}

	ws := &Session{
		entityID:  entityID,
		kind:      kind,
		sess:      sess,
		updates:   make(chan progress.Snapshot, 16),
		done:      make(chan struct{}),
		dismissed: make(chan struct{}),
	}

	c.mu.Lock()
	if _, exists := c.active[entityID]; exists {
		c.mu.Unlock()
		return nil, fmt.Errorf("entity %s: %w", entityID, ErrScanInProgress)
	}
	c.active[entityID] = ws
	c.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	ws.cancel = cancel

	c.metrics.IncSessionsStarted(runCtx, kind)
	c.log.Info(runCtx, "scan session started",
		"session_id", sess.ID().String(), "entity_id", entityID, "scan_kind", kind, "triggered", trigger)

	go c.run(runCtx, ws, trigger)

	return ws, nil
}

// run is the single consumer of the two-producer merge. It exits only once
// the session is terminal, and its deferred cleanup is the one place the
// entity guard is released and the producers are cancelled, covering
// success, server error, transport failure, and cancellation alike.
func (c *Controller) run(ctx context.Context, ws *Session, trigger bool) {
	ctx, span := c.tracer.Start(ctx, "session_controller.run",
		trace.WithAttributes(
			attribute.String("entity_id", ws.entityID),
			attribute.String("scan_kind", ws.kind.String()),
		),
	)

	recon := NewReconciler(ws.sess, c.cfg.PacingGap, ws.push, c.log, c.tracer, c.metrics)

	events := make(chan sourcedEvent, 64)
	g, gctx := errgroup.WithContext(ctx)

	if trigger {
		g.Go(func() error { return c.consumeStream(gctx, ws, events) })
	}

	fetcher := poll.NewFetcher(c.api, c.cfg.PollInterval, c.log, c.tracer)
	g.Go(func() error {
		fetcher.Run(gctx, ws.entityID, ws.kind, func(evt progress.ScanEvent) {
			select {
			case events <- sourcedEvent{evt: evt, source: progress.SourcePoll}:
			case <-gctx.Done():
			}
		})
		return nil
	})

	producers := make(chan error, 1)
	go func() { producers <- g.Wait() }()

	defer func() {
		ws.cancel()
		<-producers // wait for both producers; the poll timer is stopped by then
		c.finish(ctx, ws)
		span.End()
	}()

loop:
	for !ws.sess.Phase().Terminal() {
		select {
		case <-ctx.Done():
			if err := ws.sess.Cancel(); err == nil {
				ws.push(ws.sess.Snapshot())
			}
			break loop

		case ev := <-events:
			recon.Apply(ctx, ev.evt, ev.source)

		case err := <-producers:
			producers <- err // keep it for the deferred wait

			// A buffered intermediary may flush everything, terminal event
			// included, right before close. Drain before judging.
			c.drain(ctx, recon, events)
			if ws.sess.Phase().Terminal() {
				break loop
			}

			if ctx.Err() != nil {
				_ = ws.sess.Cancel()
				break loop
			}

			c.handleStreamLoss(ctx, recon, ws, err)
			break loop
		}
	}

	// Producers may still be writing; cancelling here lets the deferred
	// g.Wait return promptly.
	ws.cancel()
}

func (c *Controller) consumeStream(ctx context.Context, ws *Session, events chan<- sourcedEvent) error {
	body, err := c.api.TriggerScan(ctx, ws.entityID, ws.kind)
	if err != nil {
		return fmt.Errorf("opening scan stream: %w", err)
	}
	defer body.Close()

	reader := sse.NewReader(body, c.log)
	for {
		evt, err := reader.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return errStreamEnded
			}
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		select {
		case events <- sourcedEvent{evt: evt, source: progress.SourceStream}:
		case <-ctx.Done():
			return nil
		}
	}
}

// drain applies whatever is already buffered without blocking.
func (c *Controller) drain(ctx context.Context, recon *Reconciler, events <-chan sourcedEvent) {
	for {
		select {
		case ev := <-events:
			recon.Apply(ctx, ev.evt, ev.source)
		default:
			return
		}
	}
}

// handleStreamLoss resolves a stream that ended before any terminal event.
// The server-side job may have genuinely finished; when configured, one
// final authoritative snapshot gets the chance to say so before the session
// is declared failed.
func (c *Controller) handleStreamLoss(ctx context.Context, recon *Reconciler, ws *Session, cause error) {
	c.metrics.IncTransportFailures(ctx)
	c.log.Warn(ctx, "scan stream lost before terminal event",
		"entity_id", ws.entityID, "error", cause)

	if c.cfg.ReconcileOnStreamFailure {
		if evt, err := c.finalSnapshot(ctx, ws); err == nil {
			recon.Apply(ctx, evt, progress.SourcePoll)
			if ws.sess.Phase().Terminal() {
				return
			}
		}
	}

	recon.Apply(ctx, progress.ScanEvent{
		Event:   progress.EventTypeError,
		Message: "scan stream interrupted before completion",
	}, progress.SourceStream)
}

func (c *Controller) finalSnapshot(ctx context.Context, ws *Session) (progress.ScanEvent, error) {
	ctx = context.WithoutCancel(ctx)

	var evt progress.ScanEvent
	operation := func() error {
		snapCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		e, err := c.api.Snapshot(snapCtx, ws.entityID, ws.kind)
		if err != nil {
			return err
		}
		evt = e
		return nil
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 250 * time.Millisecond
	if err := backoff.Retry(operation, backoff.WithMaxRetries(expBackoff, 3)); err != nil {
		return progress.ScanEvent{}, fmt.Errorf("final snapshot after stream loss: %w", err)
	}

	return evt, nil
}

// finish runs the terminal side effects and releases the entity guard. The
// run context is already cancelled by the time it executes, so side effects
// use a detached context.
func (c *Controller) finish(ctx context.Context, ws *Session) {
	ctx = context.WithoutCancel(ctx)

	c.mu.Lock()
	delete(c.active, ws.entityID)
	c.mu.Unlock()

	phase := ws.sess.Phase()
	c.metrics.ObserveSessionDuration(ctx, ws.kind, phase, ws.sess.Duration())

	switch phase {
	case progress.PhaseComplete, progress.PhaseError:
		ws.refreshOnce.Do(func() {
			refreshCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()

			if err := c.api.RefreshEntity(refreshCtx, ws.entityID); err != nil {
				c.log.Error(ctx, "refreshing entity after scan", "entity_id", ws.entityID, "error", err)
			}
		})
	}

	if phase == progress.PhaseComplete {
		time.AfterFunc(c.cfg.DismissDelay, ws.markDismissed)
	}
	if phase == progress.PhaseCancelled {
		ws.markDismissed()
	}

	c.log.Info(ctx, "scan session finished",
		"session_id", ws.sess.ID().String(), "entity_id", ws.entityID, "phase", phase,
		"duration", ws.sess.Duration().String())

	close(ws.updates)
	close(ws.done)
}
