// Package scanapi is the HTTP client for the scanning server. The server is
// an opaque collaborator: it runs the scan pipelines and emits the events
// this engine consumes. Two endpoints matter here: the trigger endpoint,
// whose response body is the live event stream, and the snapshot endpoint,
// which reports the current authoritative stage for an entity.
package scanapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ahrav/scanwatch/internal/domain/progress"
	"github.com/ahrav/scanwatch/pkg/common/logger"
)

const snapshotTimeout = 5 * time.Second

// Client talks to the scanning server's trigger, snapshot, and entity
// endpoints.
type Client struct {
	baseURL string

	// streamClient carries long-lived streaming responses and must not have
	// a client-level timeout; cancellation comes from the request context.
	streamClient *http.Client
	snapClient   *http.Client

	log *logger.Logger
}

// NewClient creates a Client for the scanning server at baseURL. Both
// transports are otel-instrumented so trigger, snapshot, and refresh calls
// join the engine's traces.
func NewClient(baseURL string, log *logger.Logger) *Client {
	transport := otelhttp.NewTransport(http.DefaultTransport)

	return &Client{
		baseURL:      baseURL,
		streamClient: &http.Client{Transport: transport},
		snapClient:   &http.Client{Timeout: snapshotTimeout, Transport: transport},
		log:          log.With("component", "scanapi_client"),
	}
}

// TriggerScan starts a scan job for the entity and returns the response body
// as a live event stream. The stream stays open for the life of the job;
// cancelling ctx tears down the connection.
func (c *Client) TriggerScan(ctx context.Context, entityID string, kind progress.ScanKind) (io.ReadCloser, error) {
	u := fmt.Sprintf("%s/v1/scans/%s/%s/stream", c.baseURL, kind, url.PathEscape(entityID))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating trigger request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("triggering %s scan for entity %s: %w", kind, entityID, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		resp.Body.Close()
		return nil, fmt.Errorf("triggering %s scan for entity %s: status %d: %s", kind, entityID, resp.StatusCode, body)
	}

	return resp.Body, nil
}

// Snapshot returns the current authoritative progress event for the entity,
// or the idle sentinel when nothing is running.
func (c *Client) Snapshot(ctx context.Context, entityID string, kind progress.ScanKind) (progress.ScanEvent, error) {
	u := fmt.Sprintf("%s/v1/scans/%s/%s", c.baseURL, kind, url.PathEscape(entityID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return progress.ScanEvent{}, fmt.Errorf("creating snapshot request: %w", err)
	}

	resp, err := c.snapClient.Do(req)
	if err != nil {
		return progress.ScanEvent{}, fmt.Errorf("fetching snapshot for entity %s: %w", entityID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return progress.ScanEvent{}, fmt.Errorf("fetching snapshot for entity %s: status %d", entityID, resp.StatusCode)
	}

	var evt progress.ScanEvent
	if err := json.NewDecoder(resp.Body).Decode(&evt); err != nil {
		return progress.ScanEvent{}, fmt.Errorf("decoding snapshot for entity %s: %w", entityID, err)
	}

	return evt, nil
}

// RefreshEntity asks the server to recompute the entity's summary data. The
// session controller fires this once when a scan reaches a terminal phase so
// the dashboard's persisted view catches up with the finished scan.
func (c *Client) RefreshEntity(ctx context.Context, entityID string) error {
	u := fmt.Sprintf("%s/v1/entities/%s/refresh", c.baseURL, url.PathEscape(entityID))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return fmt.Errorf("creating refresh request: %w", err)
	}

	resp, err := c.snapClient.Do(req)
	if err != nil {
		return fmt.Errorf("refreshing entity %s: %w", entityID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("refreshing entity %s: status %d", entityID, resp.StatusCode)
	}

	return nil
}
