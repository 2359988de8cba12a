package watch

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/scanwatch/internal/domain/progress"
)

// streamBody is a fake SSE response body. It serves its payload, then either
// ends (EOF or a transport error) or holds the connection open until the
// request context is cancelled, the way a real chunked response does.
type streamBody struct {
	ctx     context.Context
	mu      sync.Mutex
	data    []byte
	hold    bool
	readErr error

	closed    chan struct{}
	closeOnce sync.Once
}

func (b *streamBody) Read(p []byte) (int, error) {
	b.mu.Lock()
	if len(b.data) > 0 {
		n := copy(p, b.data)
		b.data = b.data[n:]
		b.mu.Unlock()
		return n, nil
	}
	hold, readErr := b.hold, b.readErr
	b.mu.Unlock()

	if hold {
		select {
		case <-b.ctx.Done():
			return 0, b.ctx.Err()
		case <-b.closed:
			return 0, io.EOF
		}
	}
	if readErr != nil {
		return 0, readErr
	}
	return 0, io.EOF
}

func (b *streamBody) Close() error {
	b.closeOnce.Do(func() { close(b.closed) })
	return nil
}

// fakeScanAPI scripts the scanning-server collaborator.
type fakeScanAPI struct {
	mu sync.Mutex

	stream        string
	holdStream    bool
	streamReadErr error
	triggerErr    error

	snapshots   []progress.ScanEvent
	snapshotPos int
	snapshotErr error

	triggerCalls  int
	snapshotCalls int
	refreshCalls  int
}

func (f *fakeScanAPI) TriggerScan(ctx context.Context, entityID string, kind progress.ScanKind) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.triggerCalls++
	if f.triggerErr != nil {
		return nil, f.triggerErr
	}
	return &streamBody{
		ctx:     ctx,
		data:    []byte(f.stream),
		hold:    f.holdStream,
		readErr: f.streamReadErr,
		closed:  make(chan struct{}),
	}, nil
}

func (f *fakeScanAPI) Snapshot(ctx context.Context, entityID string, kind progress.ScanKind) (progress.ScanEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.snapshotCalls++
	if f.snapshotErr != nil {
		return progress.ScanEvent{}, f.snapshotErr
	}
	if len(f.snapshots) == 0 {
		return progress.ScanEvent{Event: progress.EventTypeIdle}, nil
	}
	evt := f.snapshots[f.snapshotPos]
	if f.snapshotPos < len(f.snapshots)-1 {
		f.snapshotPos++
	}
	return evt, nil
}

func (f *fakeScanAPI) RefreshEntity(ctx context.Context, entityID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshCalls++
	return nil
}

func (f *fakeScanAPI) counts() (trigger, snapshot, refresh int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.triggerCalls, f.snapshotCalls, f.refreshCalls
}

func sseStream(frames ...string) string {
	var b strings.Builder
	for _, frame := range frames {
		b.WriteString("data: ")
		b.WriteString(frame)
		b.WriteString("\n\n")
	}
	return b.String()
}

func newTestController(api ScanAPI, cfg Config) (*Controller, *captureMetrics) {
	capture := newCaptureMetrics()
	c := NewController(api, cfg, testLogger(), noop.NewTracerProvider().Tracer("test"), capture)
	return c, capture
}

// fastConfig keeps the poll quiet and the pacing negligible so stream-driven
// tests finish quickly.
func fastConfig() Config {
	return Config{
		PollInterval: time.Hour,
		PacingGap:    time.Millisecond,
		DismissDelay: 10 * time.Millisecond,
	}
}

// drainSession reads updates until the session finishes, returning every
// snapshot that was delivered.
func drainSession(t *testing.T, session *Session) []progress.Snapshot {
	t.Helper()

	var snaps []progress.Snapshot
	timeout := time.After(5 * time.Second)
	for {
		select {
		case snap, ok := <-session.Updates():
			if !ok {
				return snaps
			}
			snaps = append(snaps, snap)
		case <-timeout:
			t.Fatal("session did not finish in time")
		}
	}
}

func TestController_StreamHappyPath(t *testing.T) {
	t.Parallel()

	api := &fakeScanAPI{stream: sseStream(
		`{"event":"starting"}`,
		`{"event":"discovered","total_assets":40}`,
		`{"event":"routing","public_count":12,"private_count":28}`,
		`{"event":"scanning","assets_scanned":40,"total_assets":40}`,
		`{"event":"complete","asset_count":40,"issue_count":7,"scan_log_id":"log-9"}`,
	)}
	controller, capture := newTestController(api, fastConfig())

	session, err := controller.StartScan(context.Background(), "acct-1", progress.ScanKindCloud)
	require.NoError(t, err)

	snaps := drainSession(t, session)
	require.NotEmpty(t, snaps)

	final := session.Snapshot()
	assert.Equal(t, progress.PhaseComplete, final.Phase)
	assert.Equal(t, 7, final.Event.IssueCount)
	assert.Equal(t, "log-9", final.ScanLogID)
	for id, status := range final.Nodes {
		assert.Equal(t, progress.NodeStatusCompleted, status, "node %s", id)
	}

	<-session.Done()
	trigger, _, refresh := api.counts()
	assert.Equal(t, 1, trigger)
	assert.Equal(t, 1, refresh)
	assert.Equal(t, 1, capture.started)

	select {
	case <-session.Dismissed():
	case <-time.After(2 * time.Second):
		t.Fatal("completed session never auto-dismissed")
	}
}

func TestController_ServerErrorDoesNotAutoDismiss(t *testing.T) {
	t.Parallel()

	api := &fakeScanAPI{stream: sseStream(
		`{"event":"scanning","scanner_stage":"secrets"}`,
		`{"event":"error","message":"secret scanner crashed"}`,
	)}
	controller, _ := newTestController(api, fastConfig())

	session, err := controller.StartScan(context.Background(), "repo-1", progress.ScanKindRepo)
	require.NoError(t, err)

	drainSession(t, session)
	<-session.Done()

	final := session.Snapshot()
	assert.Equal(t, progress.PhaseError, final.Phase)
	assert.Equal(t, "secret scanner crashed", final.Event.Message)
	assert.Equal(t, progress.NodeStatusError, final.Nodes[progress.NodeRepoSecrets])

	// Entity summaries refresh on error too; the overlay stays up.
	_, _, refresh := api.counts()
	assert.Equal(t, 1, refresh)

	select {
	case <-session.Dismissed():
		t.Fatal("errored session must not auto-dismiss")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestController_StreamLossFailsSession(t *testing.T) {
	t.Parallel()

	api := &fakeScanAPI{
		stream:        sseStream(`{"event":"scanning","scanner_stage":"cloning"}`),
		streamReadErr: errors.New("connection reset by peer"),
	}
	controller, capture := newTestController(api, fastConfig())

	session, err := controller.StartScan(context.Background(), "repo-1", progress.ScanKindRepo)
	require.NoError(t, err)

	drainSession(t, session)
	<-session.Done()

	final := session.Snapshot()
	assert.Equal(t, progress.PhaseError, final.Phase)
	assert.Equal(t, "scan stream interrupted before completion", final.Event.Message)
	assert.Equal(t, progress.NodeStatusError, final.Nodes[progress.NodeRepoClone])
	assert.Equal(t, 1, capture.transportFailures)
}

func TestController_CleanCloseWithoutTerminalFailsSession(t *testing.T) {
	t.Parallel()

	// The server closed the stream politely but never said complete; an EOF
	// is not a completion signal.
	api := &fakeScanAPI{stream: sseStream(`{"event":"scanning"}`)}
	controller, _ := newTestController(api, fastConfig())

	session, err := controller.StartScan(context.Background(), "acct-1", progress.ScanKindCloud)
	require.NoError(t, err)

	drainSession(t, session)
	assert.Equal(t, progress.PhaseError, session.Snapshot().Phase)
}

func TestController_ReconcileOnStreamFailure(t *testing.T) {
	t.Parallel()

	// The stream dies but the server-side job finished; the final snapshot
	// gets to say so before the session is declared failed.
	cfg := fastConfig()
	cfg.ReconcileOnStreamFailure = true

	api := &fakeScanAPI{
		stream:        sseStream(`{"event":"scanning"}`),
		streamReadErr: errors.New("connection reset by peer"),
		snapshots:     []progress.ScanEvent{{Event: progress.EventTypeComplete, AssetCount: 40, IssueCount: 2}},
	}
	controller, capture := newTestController(api, cfg)

	session, err := controller.StartScan(context.Background(), "acct-1", progress.ScanKindCloud)
	require.NoError(t, err)

	drainSession(t, session)
	<-session.Done()

	final := session.Snapshot()
	assert.Equal(t, progress.PhaseComplete, final.Phase)
	assert.Equal(t, 2, final.Event.IssueCount)
	assert.Equal(t, 1, capture.transportFailures)

	_, snapshot, _ := api.counts()
	assert.GreaterOrEqual(t, snapshot, 1)
}

func TestController_RejectsConcurrentScan(t *testing.T) {
	t.Parallel()

	api := &fakeScanAPI{
		stream:     sseStream(`{"event":"scanning"}`),
		holdStream: true,
	}
	controller, _ := newTestController(api, fastConfig())

	session, err := controller.StartScan(context.Background(), "acct-1", progress.ScanKindCloud)
	require.NoError(t, err)
	defer session.Dismiss()

	_, err = controller.StartScan(context.Background(), "acct-1", progress.ScanKindCloud)
	assert.ErrorIs(t, err, ErrScanInProgress)

	// A different entity is unaffected.
	other, err := controller.StartScan(context.Background(), "acct-2", progress.ScanKindCloud)
	require.NoError(t, err)
	other.Dismiss()
	<-other.Done()
}

func TestController_GuardReleasedAfterFinish(t *testing.T) {
	t.Parallel()

	api := &fakeScanAPI{stream: sseStream(`{"event":"complete"}`)}
	controller, _ := newTestController(api, fastConfig())

	session, err := controller.StartScan(context.Background(), "acct-1", progress.ScanKindCloud)
	require.NoError(t, err)
	drainSession(t, session)
	<-session.Done()

	// The same entity can be scanned again once the first session finished.
	again, err := controller.StartScan(context.Background(), "acct-1", progress.ScanKindCloud)
	require.NoError(t, err)
	drainSession(t, again)
	<-again.Done()
}

func TestController_DismissCancelsSession(t *testing.T) {
	t.Parallel()

	api := &fakeScanAPI{
		stream:     sseStream(`{"event":"scanning","scanner_stage":"sca"}`),
		holdStream: true,
	}
	controller, _ := newTestController(api, fastConfig())

	session, err := controller.StartScan(context.Background(), "repo-1", progress.ScanKindRepo)
	require.NoError(t, err)

	// Wait for the first update so the dismissal happens mid-scan.
	select {
	case <-session.Updates():
	case <-time.After(5 * time.Second):
		t.Fatal("no update before dismissal")
	}

	session.Dismiss()

	select {
	case <-session.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("dismissed session did not finish")
	}

	final := session.Snapshot()
	assert.Equal(t, progress.PhaseCancelled, final.Phase)
	// Cancellation keeps rendering the last observed stage.
	assert.Equal(t, progress.NodeStatusActive, final.Nodes[progress.NodeRepoSCA])

	// No refresh for a dismissed scan, and the overlay is gone immediately.
	_, _, refresh := api.counts()
	assert.Zero(t, refresh)
	<-session.Dismissed()
}

func TestController_AttachFollowsPollOnly(t *testing.T) {
	t.Parallel()

	cfg := fastConfig()
	cfg.PollInterval = 5 * time.Millisecond

	api := &fakeScanAPI{snapshots: []progress.ScanEvent{
		{Event: progress.EventTypeScanning, AssetsScanned: 12, TotalAssets: 40},
		{Event: progress.EventTypeComplete, AssetCount: 40, IssueCount: 1},
	}}
	controller, _ := newTestController(api, cfg)

	session, err := controller.Attach(context.Background(), "acct-1", progress.ScanKindCloud)
	require.NoError(t, err)

	drainSession(t, session)
	<-session.Done()

	final := session.Snapshot()
	assert.Equal(t, progress.PhaseComplete, final.Phase)
	assert.Equal(t, 1, final.Event.IssueCount)

	trigger, _, _ := api.counts()
	assert.Zero(t, trigger, "attach must not trigger a new scan")
}

func TestController_SlowConsumerKeepsLatestSnapshot(t *testing.T) {
	t.Parallel()

	api := &fakeScanAPI{stream: sseStream(
		`{"event":"starting"}`,
		`{"event":"discovered"}`,
		`{"event":"routing"}`,
		`{"event":"scanning"}`,
		`{"event":"complete","issue_count":3}`,
	)}
	controller, _ := newTestController(api, fastConfig())

	session, err := controller.StartScan(context.Background(), "acct-1", progress.ScanKindCloud)
	require.NoError(t, err)

	// Never read Updates; the session must still finish and Snapshot must
	// hold the terminal state.
	select {
	case <-session.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session blocked on a slow consumer")
	}

	final := session.Snapshot()
	assert.Equal(t, progress.PhaseComplete, final.Phase)
	assert.Equal(t, 3, final.Event.IssueCount)
}
