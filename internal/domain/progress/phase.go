package progress

import "fmt"

// SessionPhase represents the lifecycle state of a scan session. It enables
// tracking from trigger through completion, failure, or cancellation.
type SessionPhase string

const (
	// PhaseIdle indicates a session exists but nothing has been triggered.
	PhaseIdle SessionPhase = "IDLE"

	// PhaseStarting indicates the scan was triggered but no event has been
	// accepted yet. It exists so the UI can render an initial spinner.
	PhaseStarting SessionPhase = "STARTING"

	// PhaseRunning indicates at least one progress event has been accepted.
	PhaseRunning SessionPhase = "RUNNING"

	// PhaseComplete indicates the scan finished successfully. Terminal.
	PhaseComplete SessionPhase = "COMPLETE"

	// PhaseError indicates the scan failed, server-side or in transport. Terminal.
	PhaseError SessionPhase = "ERROR"

	// PhaseCancelled indicates the session was dismissed before a terminal
	// event arrived. Terminal.
	PhaseCancelled SessionPhase = "CANCELLED"
)

// String returns the string representation of the SessionPhase.
func (p SessionPhase) String() string { return string(p) }

// Terminal returns true once the phase can never change again.
func (p SessionPhase) Terminal() bool {
	return p == PhaseComplete || p == PhaseError || p == PhaseCancelled
}

// validateTransition checks if a phase transition is valid and returns an
// error if not.
func (p SessionPhase) validateTransition(target SessionPhase) error {
	if !p.isValidTransition(target) {
		return fmt.Errorf("invalid session phase transition from %s to %s", p, target)
	}
	return nil
}

// isValidTransition enforces the session lifecycle rules. Terminal phases
// admit no further transitions; that absoluteness is what makes termination
// idempotent under dual-channel delivery.
func (p SessionPhase) isValidTransition(target SessionPhase) bool {
	switch p {
	case PhaseIdle:
		return target == PhaseStarting || target == PhaseCancelled
	case PhaseStarting:
		// A buffered stream can deliver a terminal event before any progress.
		return target == PhaseRunning || target == PhaseComplete || target == PhaseError || target == PhaseCancelled
	case PhaseRunning:
		return target == PhaseComplete || target == PhaseError || target == PhaseCancelled
	case PhaseComplete, PhaseError, PhaseCancelled:
		return false
	default:
		return false
	}
}
