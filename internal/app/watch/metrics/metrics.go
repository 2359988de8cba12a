// Package metrics records watch-engine measurements via OpenTelemetry.
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ahrav/scanwatch/internal/domain/progress"
)

// WatchMetrics defines metrics operations needed by the watch engine.
type WatchMetrics interface {
	// Session lifecycle metrics.
	IncSessionsStarted(ctx context.Context, kind progress.ScanKind)
	ObserveSessionDuration(ctx context.Context, kind progress.ScanKind, phase progress.SessionPhase, d time.Duration)

	// Reconciler metrics.
	IncEventsAccepted(ctx context.Context, source progress.EventSource)
	IncEventsDiscarded(ctx context.Context, reason string)

	// Transport metrics.
	IncTransportFailures(ctx context.Context)
}

// Watch implements WatchMetrics using OTel instruments.
type Watch struct {
	sessionsStarted   metric.Int64Counter
	sessionDuration   metric.Float64Histogram
	eventsAccepted    metric.Int64Counter
	eventsDiscarded   metric.Int64Counter
	transportFailures metric.Int64Counter
}

// New creates the watch-engine instruments on the given meter.
func New(meter metric.Meter) (*Watch, error) {
	sessionsStarted, err := meter.Int64Counter("scanwatch_sessions_started_total",
		metric.WithDescription("Number of scan watch sessions started"))
	if err != nil {
		return nil, err
	}

	sessionDuration, err := meter.Float64Histogram("scanwatch_session_duration_seconds",
		metric.WithDescription("Lifetime of scan watch sessions by terminal phase"))
	if err != nil {
		return nil, err
	}

	eventsAccepted, err := meter.Int64Counter("scanwatch_events_accepted_total",
		metric.WithDescription("Progress events accepted into a session, by source channel"))
	if err != nil {
		return nil, err
	}

	eventsDiscarded, err := meter.Int64Counter("scanwatch_events_discarded_total",
		metric.WithDescription("Progress events discarded by the reconciler, by reason"))
	if err != nil {
		return nil, err
	}

	transportFailures, err := meter.Int64Counter("scanwatch_transport_failures_total",
		metric.WithDescription("Event streams lost before a terminal event arrived"))
	if err != nil {
		return nil, err
	}

	return &Watch{
		sessionsStarted:   sessionsStarted,
		sessionDuration:   sessionDuration,
		eventsAccepted:    eventsAccepted,
		eventsDiscarded:   eventsDiscarded,
		transportFailures: transportFailures,
	}, nil
}

func (w *Watch) IncSessionsStarted(ctx context.Context, kind progress.ScanKind) {
	w.sessionsStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("scan_kind", kind.String())))
}

func (w *Watch) ObserveSessionDuration(ctx context.Context, kind progress.ScanKind, phase progress.SessionPhase, d time.Duration) {
	w.sessionDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("scan_kind", kind.String()),
		attribute.String("phase", phase.String()),
	))
}

func (w *Watch) IncEventsAccepted(ctx context.Context, source progress.EventSource) {
	w.eventsAccepted.Add(ctx, 1, metric.WithAttributes(attribute.String("source", string(source))))
}

func (w *Watch) IncEventsDiscarded(ctx context.Context, reason string) {
	w.eventsDiscarded.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (w *Watch) IncTransportFailures(ctx context.Context) {
	w.transportFailures.Add(ctx, 1)
}
