package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProject_IsTotal(t *testing.T) {
	t.Parallel()

	// Every node must carry a status regardless of what the session has seen.
	sessions := map[string]*ScanSession{
		"idle":    NewScanSession("acct-1", ScanKindCloud),
		"running": newRunningSession(t, ScanKindRepo),
	}

	errored := newRunningSession(t, ScanKindCloud)
	require.NoError(t, errored.Fail("boom"))
	sessions["error without progress"] = errored

	cancelled := newRunningSession(t, ScanKindRepo)
	require.NoError(t, cancelled.Cancel())
	sessions["cancelled without progress"] = cancelled

	for name, s := range sessions {
		s := s
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			statuses := Project(s)
			assert.Len(t, statuses, len(GraphFor(s.Kind()).Nodes))
			for id, status := range statuses {
				assert.Contains(t,
					[]NodeStatus{NodeStatusPending, NodeStatusActive, NodeStatusCompleted, NodeStatusError},
					status, "node %s", id)
			}
		})
	}
}

func TestProject_CloudHappyPath(t *testing.T) {
	t.Parallel()

	s := newRunningSession(t, ScanKindCloud)

	require.NoError(t, s.Apply(ScanEvent{Event: EventTypeRouting}))
	statuses := Project(s)
	assert.Equal(t, NodeStatusCompleted, statuses[NodeCloudAccount])
	assert.Equal(t, NodeStatusCompleted, statuses[NodeCloudDiscovery])
	assert.Equal(t, NodeStatusActive, statuses[NodeCloudRouter])
	assert.Equal(t, NodeStatusPending, statuses[NodeCloudActive])
	assert.Equal(t, NodeStatusPending, statuses[NodeCloudLog])

	// Both parallel scanners light up together.
	require.NoError(t, s.Apply(ScanEvent{Event: EventTypeScanning}))
	statuses = Project(s)
	assert.Equal(t, NodeStatusActive, statuses[NodeCloudActive])
	assert.Equal(t, NodeStatusActive, statuses[NodeCloudLog])

	require.NoError(t, s.Apply(ScanEvent{Event: EventTypeComplete, AssetCount: 40, IssueCount: 7}))
	for id, status := range Project(s) {
		assert.Equal(t, NodeStatusCompleted, status, "node %s", id)
	}
}

func TestProject_RepoErrorAttribution(t *testing.T) {
	t.Parallel()

	s := newRunningSession(t, ScanKindRepo)
	require.NoError(t, s.Apply(ScanEvent{Event: EventTypeScanning, ScannerStage: "cloning"}))
	require.NoError(t, s.Apply(ScanEvent{Event: EventTypeScanning, ScannerStage: "secrets"}))
	require.NoError(t, s.Apply(ScanEvent{Event: EventTypeError, Message: "secret scanner crashed"}))

	statuses := Project(s)
	assert.Equal(t, NodeStatusCompleted, statuses[NodeRepoGitHub])
	assert.Equal(t, NodeStatusCompleted, statuses[NodeRepoClone])
	assert.Equal(t, NodeStatusError, statuses[NodeRepoSecrets])
	assert.Equal(t, NodeStatusPending, statuses[NodeRepoSCA])
	assert.Equal(t, NodeStatusPending, statuses[NodeRepoSAST])
	assert.Equal(t, NodeStatusPending, statuses[NodeRepoLicense])
}

func TestProject_ErrorBeforeAnyProgress(t *testing.T) {
	t.Parallel()

	s := newRunningSession(t, ScanKindCloud)
	require.NoError(t, s.Fail("trigger rejected"))

	statuses := Project(s)
	assert.Equal(t, NodeStatusError, statuses[NodeCloudAccount])
	for _, id := range []NodeID{NodeCloudDiscovery, NodeCloudRouter, NodeCloudActive, NodeCloudLog} {
		assert.Equal(t, NodeStatusPending, statuses[id])
	}
}

func TestProject_UnknownStageDegradesToEntryNode(t *testing.T) {
	t.Parallel()

	s := newRunningSession(t, ScanKindCloud)
	require.NoError(t, s.Apply(ScanEvent{Event: EventTypeScanning, Stage: "quantum-analysis"}))

	statuses := Project(s)
	assert.Equal(t, NodeStatusActive, statuses[NodeCloudAccount])
	for _, id := range []NodeID{NodeCloudDiscovery, NodeCloudRouter, NodeCloudActive, NodeCloudLog} {
		assert.Equal(t, NodeStatusPending, statuses[id])
	}
}

func TestProject_CancelledKeepsLastState(t *testing.T) {
	t.Parallel()

	s := newRunningSession(t, ScanKindRepo)
	require.NoError(t, s.Apply(ScanEvent{Event: EventTypeScanning, ScannerStage: "sca"}))
	require.NoError(t, s.Cancel())

	statuses := Project(s)
	assert.Equal(t, NodeStatusCompleted, statuses[NodeRepoSecrets])
	assert.Equal(t, NodeStatusActive, statuses[NodeRepoSCA])
}

func TestSnapshot_CarriesProjection(t *testing.T) {
	t.Parallel()

	s := newRunningSession(t, ScanKindCloud)
	require.NoError(t, s.Apply(ScanEvent{Event: EventTypeDiscovered, TotalAssets: 40}))

	snap := s.Snapshot()
	assert.Equal(t, s.ID(), snap.SessionID)
	assert.Equal(t, "acct-1", snap.EntityID)
	assert.Equal(t, PhaseRunning, snap.Phase)
	assert.Equal(t, "discovered", snap.Stage)
	assert.Equal(t, 40, snap.Event.TotalAssets)
	assert.Equal(t, NodeStatusActive, snap.Nodes[NodeCloudDiscovery])
	assert.False(t, snap.AcceptedAt.IsZero())
}
