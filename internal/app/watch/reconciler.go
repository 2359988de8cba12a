package watch

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/ahrav/scanwatch/internal/app/watch/metrics"
	"github.com/ahrav/scanwatch/internal/domain/progress"
	"github.com/ahrav/scanwatch/pkg/common/logger"
)

// DispatchFunc receives UI-visible session updates.
type DispatchFunc func(progress.Snapshot)

// Reconciler merges events from the stream and poll channels into a single
// session and paces the UI-visible dispatches. The session owns the
// accept-or-discard rules; the reconciler owns channel diagnostics and the
// presentation smoothing.
//
// Apply must be called from a single goroutine: the engine is a
// two-producer/one-consumer merge, and the reconciler is the one consumer.
type Reconciler struct {
	session  *progress.ScanSession
	limiter  *rate.Limiter
	dispatch DispatchFunc

	log     *logger.Logger
	tracer  trace.Tracer
	metrics metrics.WatchMetrics
}

// NewReconciler creates a Reconciler over the given session. minGap is the
// minimum spacing between dispatched updates: a buffered SSE burst can
// deliver five events in one read, and dispatching them back-to-back would
// snap the pipeline diagram straight to its final state.
func NewReconciler(
	session *progress.ScanSession,
	minGap time.Duration,
	dispatch DispatchFunc,
	log *logger.Logger,
	tracer trace.Tracer,
	watchMetrics metrics.WatchMetrics,
) *Reconciler {
	return &Reconciler{
		session:  session,
		limiter:  rate.NewLimiter(rate.Every(minGap), 1),
		dispatch: dispatch,
		log:      log.With("component", "reconciler", "session_id", session.ID().String()),
		tracer:   tracer,
		metrics:  watchMetrics,
	}
}

// Session returns the session this reconciler feeds.
func (r *Reconciler) Session() *progress.ScanSession { return r.session }

// Apply feeds one event into the session and, if accepted, dispatches the
// updated snapshot. The wait before dispatch is bounded: with a burst of one
// the limiter delays at most one gap interval, so a terminal event is never
// held indefinitely. Returns whether the event was accepted.
func (r *Reconciler) Apply(ctx context.Context, evt progress.ScanEvent, source progress.EventSource) bool {
	ctx, span := r.tracer.Start(ctx, "reconciler.apply",
		trace.WithAttributes(
			attribute.String("event", string(evt.Event)),
			attribute.String("stage", evt.StageName()),
			attribute.String("source", string(source)),
		),
	)
	defer span.End()

	if err := r.session.Apply(evt); err != nil {
		r.recordDiscard(ctx, evt, source, err)
		span.AddEvent("event_discarded")
		return false
	}

	r.metrics.IncEventsAccepted(ctx, source)

	// Pacing is presentation smoothing, not correctness: session state is
	// already advanced, only the dispatch is spaced out.
	if err := r.limiter.Wait(ctx); err != nil {
		// Cancelled mid-wait; the session kept the event, the UI is gone.
		return true
	}

	r.dispatch(r.session.Snapshot())
	span.AddEvent("snapshot_dispatched")

	return true
}

func (r *Reconciler) recordDiscard(ctx context.Context, evt progress.ScanEvent, source progress.EventSource, err error) {
	var (
		terminated *progress.SessionTerminatedError
		outOfOrder *progress.OutOfOrderEventError
	)

	switch {
	case errors.Is(err, progress.ErrIdleSnapshot):
		r.metrics.IncEventsDiscarded(ctx, "idle")

	case errors.As(err, &terminated):
		r.metrics.IncEventsDiscarded(ctx, "terminal")
		r.log.Debug(ctx, "event after terminal phase discarded",
			"event", evt.Event, "source", source, "phase", terminated.Phase())

	case errors.As(err, &outOfOrder):
		r.metrics.IncEventsDiscarded(ctx, "out_of_order")
		r.log.Debug(ctx, "stale event discarded",
			"stage", evt.StageName(), "source", source, "error", err)

	default:
		r.metrics.IncEventsDiscarded(ctx, "invalid")
		r.log.Warn(ctx, "event rejected by session", "event", evt.Event, "source", source, "error", err)
	}
}
