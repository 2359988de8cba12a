// Package poll supplies the supplementary snapshot channel for scan
// progress. The stream's only termination signal is connection close, and a
// buffering intermediary may hold every event until then; polling exists so
// the user still sees intermediate progress. It must never be the channel of
// record: it produces events identically to the stream and lets the
// reconciler decide what to keep.
package poll

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/scanwatch/internal/domain/progress"
	"github.com/ahrav/scanwatch/pkg/common/logger"
)

// SnapshotClient retrieves one authoritative progress snapshot for an entity.
type SnapshotClient interface {
	Snapshot(ctx context.Context, entityID string, kind progress.ScanKind) (progress.ScanEvent, error)
}

// Fetcher produces snapshot events on a fixed cadence.
type Fetcher struct {
	client   SnapshotClient
	interval time.Duration

	log    *logger.Logger
	tracer trace.Tracer
}

// NewFetcher creates a Fetcher polling at the given interval.
func NewFetcher(client SnapshotClient, interval time.Duration, log *logger.Logger, tracer trace.Tracer) *Fetcher {
	return &Fetcher{
		client:   client,
		interval: interval,
		log:      log.With("component", "poll_fetcher"),
		tracer:   tracer,
	}
}

// Run polls until ctx is cancelled, passing each non-idle snapshot to sink in
// arrival order. Per-tick failures are swallowed: a transient network blip
// must not stop the session. The timer is acquired once and released on
// every exit path.
func (f *Fetcher) Run(ctx context.Context, entityID string, kind progress.ScanKind, sink func(progress.ScanEvent)) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		evt, err := f.fetch(ctx, entityID, kind)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			f.log.Debug(ctx, "snapshot poll failed", "entity_id", entityID, "error", err)
			continue
		}

		if evt.IsIdle() {
			continue
		}

		sink(evt)
	}
}

func (f *Fetcher) fetch(ctx context.Context, entityID string, kind progress.ScanKind) (progress.ScanEvent, error) {
	ctx, span := f.tracer.Start(ctx, "poll_fetcher.fetch",
		trace.WithAttributes(
			attribute.String("entity_id", entityID),
			attribute.String("scan_kind", kind.String()),
		),
	)
	defer span.End()

	return f.client.Snapshot(ctx, entityID, kind)
}
