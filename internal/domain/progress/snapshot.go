package progress

import (
	"time"

	"github.com/google/uuid"
)

// Snapshot is an immutable view of a session dispatched to UI consumers.
// Consumers never touch the mutable session; every update hands them a fresh
// value with the node statuses already projected.
type Snapshot struct {
	SessionID uuid.UUID
	EntityID  string
	Kind      ScanKind
	Phase     SessionPhase

	// Stage is the last accepted stage within the known vocabulary.
	Stage string

	// Event is the most recently accepted event; zero-valued if none has
	// been accepted yet.
	Event ScanEvent

	// Nodes maps every pipeline node to its derived status.
	Nodes map[NodeID]NodeStatus

	ScanLogID  string
	StartedAt  time.Time
	AcceptedAt time.Time
}

// Snapshot builds the dispatchable view of the session's current state.
func (s *ScanSession) Snapshot() Snapshot {
	snap := Snapshot{
		SessionID:  s.id,
		EntityID:   s.entityID,
		Kind:       s.kind,
		Phase:      s.phase,
		Stage:      s.lastStage,
		Nodes:      Project(s),
		ScanLogID:  s.scanLogID,
		StartedAt:  s.timeline.StartedAt(),
		AcceptedAt: s.timeline.LastAcceptedAt(),
	}
	if s.lastEvent != nil {
		snap.Event = *s.lastEvent
	}
	return snap
}
