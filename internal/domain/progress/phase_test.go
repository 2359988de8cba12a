package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionPhase_Terminal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		phase    SessionPhase
		terminal bool
	}{
		{name: "idle", phase: PhaseIdle, terminal: false},
		{name: "starting", phase: PhaseStarting, terminal: false},
		{name: "running", phase: PhaseRunning, terminal: false},
		{name: "complete", phase: PhaseComplete, terminal: true},
		{name: "error", phase: PhaseError, terminal: true},
		{name: "cancelled", phase: PhaseCancelled, terminal: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.terminal, tt.phase.Terminal())
		})
	}
}

func TestSessionPhase_ValidateTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		current SessionPhase
		target  SessionPhase
		wantErr bool
	}{
		{name: "idle to starting", current: PhaseIdle, target: PhaseStarting, wantErr: false},
		{name: "idle to running invalid", current: PhaseIdle, target: PhaseRunning, wantErr: true},
		{name: "idle to cancelled", current: PhaseIdle, target: PhaseCancelled, wantErr: false},

		{name: "starting to running", current: PhaseStarting, target: PhaseRunning, wantErr: false},
		{name: "starting to complete", current: PhaseStarting, target: PhaseComplete, wantErr: false},
		{name: "starting to error", current: PhaseStarting, target: PhaseError, wantErr: false},
		{name: "starting to cancelled", current: PhaseStarting, target: PhaseCancelled, wantErr: false},

		{name: "running to complete", current: PhaseRunning, target: PhaseComplete, wantErr: false},
		{name: "running to error", current: PhaseRunning, target: PhaseError, wantErr: false},
		{name: "running to cancelled", current: PhaseRunning, target: PhaseCancelled, wantErr: false},
		{name: "running to starting invalid", current: PhaseRunning, target: PhaseStarting, wantErr: true},

		{name: "complete is frozen", current: PhaseComplete, target: PhaseRunning, wantErr: true},
		{name: "complete to error invalid", current: PhaseComplete, target: PhaseError, wantErr: true},
		{name: "error is frozen", current: PhaseError, target: PhaseComplete, wantErr: true},
		{name: "cancelled is frozen", current: PhaseCancelled, target: PhaseRunning, wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.current.validateTransition(tt.target)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}
