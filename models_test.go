package cascade

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExecutionStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status ExecutionStatus
		want   bool
	}{
		{ExecutionStatusStarting, false},
		{ExecutionStatusRunning, false},
		{ExecutionStatusBlocked, false},
		{ExecutionStatusCompleted, true},
		{ExecutionStatusError, true},
		{ExecutionStatusCancelled, true},
		{ExecutionStatusOrphaned, true},
	}

	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.IsTerminal())
		})
	}
}

func TestExecutionState_IsZombie(t *testing.T) {
	now := time.Now()
	grace := 30 * time.Second

	state := &ExecutionState{
		Status:                ExecutionStatusRunning,
		HeartbeatAt:           now.Add(-2 * time.Minute),
		HeartbeatLeaseSeconds: 60,
	}
	assert.True(t, state.IsZombie(now, grace), "heartbeat past lease+grace should be a zombie")

	state.HeartbeatAt = now.Add(-80 * time.Second)
	assert.False(t, state.IsZombie(now, grace), "heartbeat within lease+grace should not be a zombie")

	state.HeartbeatAt = now.Add(-2 * time.Minute)
	state.Status = ExecutionStatusCompleted
	assert.False(t, state.IsZombie(now, grace), "terminal executions are never zombies")
}

func TestCheckpointStatus_IsTerminal(t *testing.T) {
	assert.False(t, CheckpointStatusPending.IsTerminal())
	assert.True(t, CheckpointStatusResponded.IsTerminal())
	assert.True(t, CheckpointStatusTimeout.IsTerminal())
	assert.True(t, CheckpointStatusCancelled.IsTerminal())
}

func TestSignalStatus_IsTerminal(t *testing.T) {
	assert.False(t, SignalStatusWaiting.IsTerminal())
	assert.True(t, SignalStatusFired.IsTerminal())
	assert.True(t, SignalStatusTimeout.IsTerminal())
	assert.True(t, SignalStatusCancelled.IsTerminal())
}

func TestCheckpoint_BlockedKind(t *testing.T) {
	tests := []struct {
		cpType CheckpointType
		want   BlockedKind
	}{
		{CheckpointTypeDecision, BlockedKindDecision},
		{CheckpointTypeConfirmation, BlockedKindApproval},
		{CheckpointTypePhaseInput, BlockedKindHumanInput},
		{CheckpointTypeSoundingEval, BlockedKindHumanInput},
		{CheckpointTypeFreeText, BlockedKindHumanInput},
	}

	for _, tt := range tests {
		t.Run(tt.cpType.String(), func(t *testing.T) {
			cp := &Checkpoint{Type: tt.cpType}
			assert.Equal(t, tt.want, cp.BlockedKind())
		})
	}
}

func TestCallbackAddress_URL(t *testing.T) {
	addr := &CallbackAddress{Host: "10.0.0.5", Port: 8421, Token: "tok"}
	assert.Equal(t, "http://10.0.0.5:8421/", addr.URL())
}
