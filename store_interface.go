package cascade

import "context"

// CoordinationStore defines the durable persistence contract shared by the
// three coordination managers. An insert or update is durable once it
// returns nil; reads reflect the latest acknowledged write, possibly with
// short replication lag. The store is the final arbiter of every
// first-transition-wins race: TransitionCheckpoint and TransitionSignal are
// compare-and-set writes that fail with a STALE_TRANSITION error when the
// row has already left the expected prior status.
type CoordinationStore interface {
	// Execution sessions
	CreateSession(ctx context.Context, session *ExecutionState) error
	GetSession(ctx context.Context, executionID string) (*ExecutionState, error)
	UpdateSession(ctx context.Context, session *ExecutionState) error
	ListSessions(ctx context.Context, filter SessionFilter) ([]*ExecutionState, error)

	// Checkpoints
	CreateCheckpoint(ctx context.Context, checkpoint *Checkpoint) error
	GetCheckpoint(ctx context.Context, id string) (*Checkpoint, error)
	UpdateCheckpoint(ctx context.Context, checkpoint *Checkpoint) error
	TransitionCheckpoint(ctx context.Context, checkpoint *Checkpoint, from CheckpointStatus) error
	ListCheckpoints(ctx context.Context, filter CheckpointFilter) ([]*Checkpoint, error)

	// Signals
	CreateSignal(ctx context.Context, signal *Signal) error
	GetSignal(ctx context.Context, id string) (*Signal, error)
	UpdateSignal(ctx context.Context, signal *Signal) error
	TransitionSignal(ctx context.Context, signal *Signal, from SignalStatus) error
	ListSignals(ctx context.Context, filter SignalFilter) ([]*Signal, error)
}

// SessionFilter defines filtering criteria for execution sessions
type SessionFilter struct {
	CascadeID string
	Status    *ExecutionStatus
	// Terminal filters on whether the status is final; nil means both
	Terminal *bool
	Limit    int
}

// CheckpointFilter defines filtering criteria for checkpoints
type CheckpointFilter struct {
	ExecutionID string
	Status      *CheckpointStatus
	Limit       int
}

// SignalFilter defines filtering criteria for signals
type SignalFilter struct {
	Name        string
	ExecutionID string
	Status      *SignalStatus
	Limit       int
}
