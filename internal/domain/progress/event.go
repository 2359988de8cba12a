package progress

// EventType tags a ScanEvent with the server-reported phase of the scan job.
type EventType string

const (
	// EventTypeStarting indicates the server accepted the scan job.
	EventTypeStarting EventType = "starting"

	// EventTypeDiscovered indicates asset discovery finished (cloud scans).
	EventTypeDiscovered EventType = "discovered"

	// EventTypeRouting indicates assets are being routed to scanners (cloud scans).
	EventTypeRouting EventType = "routing"

	// EventTypeScanning indicates scanners are actively processing.
	EventTypeScanning EventType = "scanning"

	// EventTypeComplete indicates the scan finished. Terminal.
	EventTypeComplete EventType = "complete"

	// EventTypeError indicates the scan failed server-side. Terminal.
	EventTypeError EventType = "error"

	// EventTypeIdle is the poll sentinel for "nothing running". It never
	// enters a session.
	EventTypeIdle EventType = "idle"
)

// Terminal returns true if events of this type permanently end a session.
func (e EventType) Terminal() bool {
	return e == EventTypeComplete || e == EventTypeError
}

// EventSource identifies which channel delivered an event. It exists purely
// for diagnostics; both channels are treated identically by the reconciler.
type EventSource string

const (
	SourceStream EventSource = "stream"
	SourcePoll   EventSource = "poll"
)

// ScanEvent is a single progress record received from either channel. It is
// a point-in-time snapshot, not a delta, and carries no identity of its own.
// The server is free to add fields the client has not been taught about, so
// unknown JSON keys are ignored on decode.
type ScanEvent struct {
	Event EventType `json:"event"`

	// Stage vocabulary differs per scan kind. Cloud scans report the stage
	// through the event tag itself; repository scans report the active
	// sub-stage in scanner_stage.
	Stage        string `json:"stage,omitempty"`
	ScannerStage string `json:"scanner_stage,omitempty"`

	// Cloud scan progress counts.
	TotalAssets   int `json:"total_assets,omitempty"`
	AssetsScanned int `json:"assets_scanned,omitempty"`
	PublicCount   int `json:"public_count,omitempty"`
	PrivateCount  int `json:"private_count,omitempty"`

	// Repository scan progress counts.
	TotalRepos   int    `json:"total_repos,omitempty"`
	ReposScanned int    `json:"repos_scanned,omitempty"`
	CurrentRepo  string `json:"current_repo,omitempty"`

	// Terminal summary counts, present on complete events.
	AssetCount             int `json:"asset_count,omitempty"`
	RepoCount              int `json:"repo_count,omitempty"`
	IssueCount             int `json:"issue_count,omitempty"`
	ActiveExploitsDetected int `json:"active_exploits_detected,omitempty"`

	// ScanLogID references the persisted server-side scan log, present only
	// on the terminal complete event.
	ScanLogID string `json:"scan_log_id,omitempty"`

	// Message is present only on error events.
	Message string `json:"message,omitempty"`
}

// StageName returns the most specific stage identifier the event carries:
// scanner_stage, then stage, then the event tag itself.
func (e ScanEvent) StageName() string {
	if e.ScannerStage != "" {
		return e.ScannerStage
	}
	if e.Stage != "" {
		return e.Stage
	}
	return string(e.Event)
}

// IsIdle returns true for the poll sentinel indicating no scan is running.
func (e ScanEvent) IsIdle() bool { return e.Event == EventTypeIdle }
