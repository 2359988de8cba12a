package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrIdleSnapshot is returned when the poll sentinel reaches a session. The
// sentinel means "nothing running" and never changes session state.
var ErrIdleSnapshot = errors.New("idle snapshot")

// SessionTerminatedError indicates an event arrived after the session reached
// a terminal phase. Termination is absolute: no channel may resurrect or
// re-narrate a finished session.
type SessionTerminatedError struct {
	sessionID uuid.UUID
	phase     SessionPhase
}

// Error returns a string representation of the error.
func (e *SessionTerminatedError) Error() string {
	return fmt.Sprintf("session %s already terminal in phase %s", e.sessionID, e.phase)
}

// Phase returns the terminal phase the session was in when the event arrived.
func (e *SessionTerminatedError) Phase() SessionPhase { return e.phase }

// OutOfOrderEventError indicates a progress event reported an earlier stage
// than one already accepted. Rendering it would make the pipeline diagram
// visibly rewind, so it is dropped.
type OutOfOrderEventError struct {
	sessionID uuid.UUID
	stage     string
	rank      int
	lastRank  int
}

// Error returns a string representation of the error.
func (e *OutOfOrderEventError) Error() string {
	return fmt.Sprintf("out of order event for session %s: stage %q rank %d is behind last accepted rank %d",
		e.sessionID, e.stage, e.rank, e.lastRank)
}

// ScanSession tracks the reconciled live state of one scan for one entity.
// It is the single owner of phase, last-accepted event, and stage rank; the
// reconciler is the only writer and the projector the only reader, so the
// dual-channel race collapses into the accept-or-discard rules encoded here.
//
// A session is created per trigger and never reused: a finished session stays
// frozen and a new scan for the same entity gets a fresh instance.
type ScanSession struct {
	id       uuid.UUID
	entityID string
	kind     ScanKind

	phase     SessionPhase
	lastEvent *ScanEvent
	lastRank  int
	lastStage string

	scanLogID string
	timeline  *Timeline
}

// SessionOption defines functional options for configuring a new ScanSession.
type SessionOption func(*ScanSession)

// WithTimeProvider sets a custom time provider for the session.
func WithTimeProvider(tp TimeProvider) SessionOption {
	return func(s *ScanSession) { s.timeline = NewTimeline(tp) }
}

// NewScanSession creates a session for tracking a single scan of the given
// entity. The session starts idle; Begin moves it to the starting phase.
func NewScanSession(entityID string, kind ScanKind, opts ...SessionOption) *ScanSession {
	s := &ScanSession{
		id:       uuid.New(),
		entityID: entityID,
		kind:     kind,
		phase:    PhaseIdle,
		timeline: NewTimeline(new(realTimeProvider)),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// ID returns the unique identifier for this session instance.
func (s *ScanSession) ID() uuid.UUID { return s.id }

// EntityID returns the identifier of the entity being scanned.
func (s *ScanSession) EntityID() string { return s.entityID }

// Kind returns the scan kind for this session.
func (s *ScanSession) Kind() ScanKind { return s.kind }

// Phase returns the current lifecycle phase.
func (s *ScanSession) Phase() SessionPhase { return s.phase }

// LastEvent returns a copy of the most recently accepted event, or nil if no
// event has been accepted.
func (s *ScanSession) LastEvent() *ScanEvent {
	if s.lastEvent == nil {
		return nil
	}
	evt := *s.lastEvent
	return &evt
}

// LastRank returns the stage rank of the most recently accepted progress
// event. Accepted ranks are non-decreasing for the life of the session.
func (s *ScanSession) LastRank() int { return s.lastRank }

// LastStage returns the last accepted stage name within the known
// vocabulary. It survives terminal events so an error can be attributed to
// the stage that was running when the scan failed.
func (s *ScanSession) LastStage() string { return s.lastStage }

// ScanLogID returns the persisted scan log reference captured from the
// terminal complete event, if any.
func (s *ScanSession) ScanLogID() string { return s.scanLogID }

// StartedAt returns the time the session was created.
func (s *ScanSession) StartedAt() time.Time { return s.timeline.StartedAt() }

// LastAcceptedAt returns the time the session last accepted an event.
func (s *ScanSession) LastAcceptedAt() time.Time { return s.timeline.LastAcceptedAt() }

// Duration returns the session lifetime, final once terminal.
func (s *ScanSession) Duration() time.Duration { return s.timeline.Duration() }

// Begin transitions the session from idle to starting. It marks the moment
// the scan was triggered (or attached to), before any event has arrived.
func (s *ScanSession) Begin() error {
	if err := s.phase.validateTransition(PhaseStarting); err != nil {
		return err
	}
	s.phase = PhaseStarting
	return nil
}

// Apply feeds the next incoming event, from either channel, through the
// accept-or-discard rules:
//
//  1. Terminal sessions discard everything.
//  2. Terminal events are accepted unconditionally, regardless of rank.
//  3. Progress events are accepted iff their stage rank has not regressed.
//
// A nil return means the event was accepted and session state advanced.
// Discards are reported as *SessionTerminatedError, *OutOfOrderEventError, or
// ErrIdleSnapshot so the caller can tell them apart for diagnostics; none of
// them is fatal.
func (s *ScanSession) Apply(evt ScanEvent) error {
	if s.phase.Terminal() {
		return &SessionTerminatedError{sessionID: s.id, phase: s.phase}
	}

	if evt.IsIdle() {
		return ErrIdleSnapshot
	}

	if evt.Event.Terminal() {
		return s.applyTerminal(evt)
	}

	return s.applyProgress(evt)
}

func (s *ScanSession) applyTerminal(evt ScanEvent) error {
	target := PhaseComplete
	if evt.Event == EventTypeError {
		target = PhaseError
	}

	if err := s.phase.validateTransition(target); err != nil {
		return err
	}

	if evt.ScanLogID != "" {
		s.scanLogID = evt.ScanLogID
	}

	s.phase = target
	s.lastEvent = &evt
	s.timeline.MarkAccepted()
	s.timeline.MarkEnded()
	return nil
}

func (s *ScanSession) applyProgress(evt ScanEvent) error {
	rank, known := StageRank(s.kind, evt.StageName())
	if known && rank < s.lastRank {
		return &OutOfOrderEventError{
			sessionID: s.id,
			stage:     evt.StageName(),
			rank:      rank,
			lastRank:  s.lastRank,
		}
	}

	if s.phase != PhaseRunning {
		if err := s.phase.validateTransition(PhaseRunning); err != nil {
			return err
		}
		s.phase = PhaseRunning
	}

	s.lastEvent = &evt
	if known {
		s.lastRank = rank
		s.lastStage = evt.StageName()
	}
	s.timeline.MarkAccepted()

	return nil
}

// Fail records a client-observed failure (stream transport loss) as the
// session's terminal error state.
func (s *ScanSession) Fail(message string) error {
	return s.Apply(ScanEvent{Event: EventTypeError, Message: message})
}

// Cancel transitions the session to the cancelled terminal phase. Events
// arriving afterwards are discarded like any other post-terminal delivery.
func (s *ScanSession) Cancel() error {
	if s.phase.Terminal() {
		if s.phase == PhaseCancelled {
			return nil
		}
		return &SessionTerminatedError{sessionID: s.id, phase: s.phase}
	}

	s.phase = PhaseCancelled
	s.timeline.MarkEnded()
	return nil
}
