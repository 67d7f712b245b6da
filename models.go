package cascade

import (
	"encoding/json"
	"fmt"
	"time"
)

// ExecutionStatus represents the lifecycle state of a cascade execution
type ExecutionStatus string

const (
	ExecutionStatusStarting  ExecutionStatus = "STARTING"
	ExecutionStatusRunning   ExecutionStatus = "RUNNING"
	ExecutionStatusBlocked   ExecutionStatus = "BLOCKED"
	ExecutionStatusCompleted ExecutionStatus = "COMPLETED"
	ExecutionStatusError     ExecutionStatus = "ERROR"
	ExecutionStatusCancelled ExecutionStatus = "CANCELLED"
	ExecutionStatusOrphaned  ExecutionStatus = "ORPHANED"
)

// IsTerminal returns true if the status is a final state
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusError, ExecutionStatusCancelled, ExecutionStatusOrphaned:
		return true
	}
	return false
}

// String returns the string representation
func (s ExecutionStatus) String() string {
	return string(s)
}

// BlockedKind categorizes why an execution is blocked
type BlockedKind string

const (
	BlockedKindSignal     BlockedKind = "SIGNAL"
	BlockedKindHumanInput BlockedKind = "HUMAN_INPUT"
	BlockedKindSensor     BlockedKind = "SENSOR"
	BlockedKindApproval   BlockedKind = "APPROVAL"
	BlockedKindCheckpoint BlockedKind = "CHECKPOINT"
	BlockedKindDecision   BlockedKind = "DECISION"
)

// BlockedReason records what a blocked execution is waiting on.
// Present on an ExecutionState if and only if its status is BLOCKED.
type BlockedReason struct {
	Kind        BlockedKind `json:"kind" dynamodbav:"kind"`
	BlockedOn   string      `json:"blockedOn" dynamodbav:"blocked_on"`
	Description string      `json:"description,omitempty" dynamodbav:"description,omitempty"`
	Deadline    *time.Time  `json:"deadline,omitempty" dynamodbav:"deadline,omitempty"`
}

// ExecutionState tracks liveness and cancellation for one running cascade execution
type ExecutionState struct {
	// Identity
	ExecutionID       string  `json:"executionId" dynamodbav:"execution_id"`
	CascadeID         string  `json:"cascadeId" dynamodbav:"cascade_id"`
	ParentExecutionID *string `json:"parentExecutionId,omitempty" dynamodbav:"parent_execution_id,omitempty"`
	Depth             int     `json:"depth" dynamodbav:"depth"`

	// Status
	Status      ExecutionStatus `json:"status" dynamodbav:"status"`
	CurrentStep *string         `json:"currentStep,omitempty" dynamodbav:"current_step,omitempty"`
	Blocked     *BlockedReason  `json:"blocked,omitempty" dynamodbav:"blocked,omitempty"`

	// Liveness contract: the execution is presumed alive while
	// now - HeartbeatAt < HeartbeatLeaseSeconds (+ grace)
	HeartbeatAt           time.Time `json:"heartbeatAt" dynamodbav:"heartbeat_at"`
	HeartbeatLeaseSeconds int       `json:"heartbeatLeaseSeconds" dynamodbav:"heartbeat_lease_seconds"`

	// Cooperative cancellation
	CancelRequested bool       `json:"cancelRequested" dynamodbav:"cancel_requested"`
	CancelReason    *string    `json:"cancelReason,omitempty" dynamodbav:"cancel_reason,omitempty"`
	CancelledAt     *time.Time `json:"cancelledAt,omitempty" dynamodbav:"cancelled_at,omitempty"`

	// Error details, set only when status is ERROR or ORPHANED
	ErrorMessage *string `json:"errorMessage,omitempty" dynamodbav:"error_message,omitempty"`
	ErrorStep    *string `json:"errorStep,omitempty" dynamodbav:"error_step,omitempty"`

	// Timing
	StartedAt   time.Time  `json:"startedAt" dynamodbav:"started_at"`
	CompletedAt *time.Time `json:"completedAt,omitempty" dynamodbav:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updatedAt" dynamodbav:"updated_at"`
}

// Lease returns the heartbeat lease as a duration
func (e *ExecutionState) Lease() time.Duration {
	return time.Duration(e.HeartbeatLeaseSeconds) * time.Second
}

// IsZombie reports whether the execution's heartbeat has expired past its
// lease plus the given grace period, without a terminal status recorded.
func (e *ExecutionState) IsZombie(now time.Time, grace time.Duration) bool {
	if e.Status.IsTerminal() {
		return false
	}
	return now.Sub(e.HeartbeatAt) > e.Lease()+grace
}

// CheckpointType identifies the kind of human input a checkpoint requests
type CheckpointType string

const (
	CheckpointTypePhaseInput   CheckpointType = "PHASE_INPUT"
	CheckpointTypeSoundingEval CheckpointType = "SOUNDING_EVAL"
	CheckpointTypeFreeText     CheckpointType = "FREE_TEXT"
	CheckpointTypeChoice       CheckpointType = "CHOICE"
	CheckpointTypeMultiChoice  CheckpointType = "MULTI_CHOICE"
	CheckpointTypeConfirmation CheckpointType = "CONFIRMATION"
	CheckpointTypeRating       CheckpointType = "RATING"
	CheckpointTypeAudible      CheckpointType = "AUDIBLE"
	CheckpointTypeDecision     CheckpointType = "DECISION"
)

// String returns the string representation
func (t CheckpointType) String() string {
	return string(t)
}

// CheckpointStatus represents the state of a suspension point
type CheckpointStatus string

const (
	CheckpointStatusPending   CheckpointStatus = "PENDING"
	CheckpointStatusResponded CheckpointStatus = "RESPONDED"
	CheckpointStatusTimeout   CheckpointStatus = "TIMEOUT"
	CheckpointStatusCancelled CheckpointStatus = "CANCELLED"
)

// IsTerminal returns true if the status is a final state
func (s CheckpointStatus) IsTerminal() bool {
	return s != CheckpointStatusPending
}

// String returns the string representation
func (s CheckpointStatus) String() string {
	return string(s)
}

// Checkpoint is a single-response suspension point awaiting human input.
// A checkpoint leaves PENDING exactly once and is never deleted afterward;
// resolved rows are kept indefinitely for audit and training.
type Checkpoint struct {
	// Identity
	ID          string `json:"id" dynamodbav:"id"`
	ExecutionID string `json:"executionId" dynamodbav:"execution_id"`
	CascadeID   string `json:"cascadeId" dynamodbav:"cascade_id"`
	StepName    string `json:"stepName" dynamodbav:"step_name"`

	Type   CheckpointType   `json:"type" dynamodbav:"checkpoint_type"`
	Status CheckpointStatus `json:"status" dynamodbav:"status"`

	// Opaque payloads (serialized as JSON bytes)
	UISpec           json.RawMessage   `json:"uiSpec,omitempty" dynamodbav:"ui_spec,omitempty"`
	ContextSnapshot  json.RawMessage   `json:"contextSnapshot,omitempty" dynamodbav:"context_snapshot,omitempty"`
	CandidateOutputs []json.RawMessage `json:"candidateOutputs,omitempty" dynamodbav:"candidate_outputs,omitempty"`
	ResumeConfig     json.RawMessage   `json:"resumeConfig,omitempty" dynamodbav:"resume_config,omitempty"`

	// Response
	Response   json.RawMessage `json:"response,omitempty" dynamodbav:"response,omitempty"`
	Reasoning  *string         `json:"reasoning,omitempty" dynamodbav:"reasoning,omitempty"`
	Confidence *float64        `json:"confidence,omitempty" dynamodbav:"confidence,omitempty"`

	// Best-effort async enrichment, never part of the primary state machine
	Summary *string `json:"summary,omitempty" dynamodbav:"summary,omitempty"`

	// Derived fields, populated only for SOUNDING_EVAL responses
	WinnerIndex *int               `json:"winnerIndex,omitempty" dynamodbav:"winner_index,omitempty"`
	Rankings    []int              `json:"rankings,omitempty" dynamodbav:"rankings,omitempty"`
	Ratings     map[string]float64 `json:"ratings,omitempty" dynamodbav:"ratings,omitempty"`

	CancelReason *string `json:"cancelReason,omitempty" dynamodbav:"cancel_reason,omitempty"`

	// Timing
	CreatedAt   time.Time  `json:"createdAt" dynamodbav:"created_at"`
	TimeoutAt   *time.Time `json:"timeoutAt,omitempty" dynamodbav:"timeout_at,omitempty"`
	RespondedAt *time.Time `json:"respondedAt,omitempty" dynamodbav:"responded_at,omitempty"`
	UpdatedAt   time.Time  `json:"updatedAt" dynamodbav:"updated_at"`
}

// BlockedKind maps the checkpoint type to the reason reported to the
// liveness tracker while an execution is suspended on this checkpoint.
func (c *Checkpoint) BlockedKind() BlockedKind {
	switch c.Type {
	case CheckpointTypeDecision:
		return BlockedKindDecision
	case CheckpointTypeConfirmation:
		return BlockedKindApproval
	default:
		return BlockedKindHumanInput
	}
}

// SignalStatus represents the state of a wait registration
type SignalStatus string

const (
	SignalStatusWaiting   SignalStatus = "WAITING"
	SignalStatusFired     SignalStatus = "FIRED"
	SignalStatusTimeout   SignalStatus = "TIMEOUT"
	SignalStatusCancelled SignalStatus = "CANCELLED"
)

// IsTerminal returns true if the status is a final state
func (s SignalStatus) IsTerminal() bool {
	return s != SignalStatusWaiting
}

// String returns the string representation
func (s SignalStatus) String() string {
	return string(s)
}

// CallbackAddress describes where a push notification can reach a waiter.
// The token is single-use and must match before a push is accepted.
type CallbackAddress struct {
	Host  string `json:"host" dynamodbav:"host"`
	Port  int    `json:"port" dynamodbav:"port"`
	Token string `json:"token" dynamodbav:"token"`
}

// URL returns the push endpoint for this address
func (a *CallbackAddress) URL() string {
	return fmt.Sprintf("http://%s:%d/", a.Host, a.Port)
}

// Signal is one outstanding wait registration on a named cross-execution
// event. Names are not unique; many waiters may share one name. A signal
// leaves WAITING exactly once, by whichever of push callback, poll
// discovery, timeout sweep, or explicit cancel observes it first.
type Signal struct {
	// Identity
	ID          string `json:"id" dynamodbav:"id"`
	Name        string `json:"name" dynamodbav:"signal_name"`
	ExecutionID string `json:"executionId" dynamodbav:"execution_id"`
	StepName    string `json:"stepName" dynamodbav:"step_name"`

	Status      SignalStatus `json:"status" dynamodbav:"status"`
	Description string       `json:"description,omitempty" dynamodbav:"description,omitempty"`

	// Push wake-up channel, present when the registering process runs a listener
	Callback *CallbackAddress `json:"callback,omitempty" dynamodbav:"callback,omitempty"`

	// Routing info for the resumed execution
	TargetStep   *string         `json:"targetStep,omitempty" dynamodbav:"target_step,omitempty"`
	ResumeInputs json.RawMessage `json:"resumeInputs,omitempty" dynamodbav:"resume_inputs,omitempty"`

	// Set when fired
	Payload json.RawMessage `json:"payload,omitempty" dynamodbav:"payload,omitempty"`
	Source  string          `json:"source,omitempty" dynamodbav:"source,omitempty"`

	CancelReason *string `json:"cancelReason,omitempty" dynamodbav:"cancel_reason,omitempty"`

	// Timing
	CreatedAt time.Time  `json:"createdAt" dynamodbav:"created_at"`
	FiredAt   *time.Time `json:"firedAt,omitempty" dynamodbav:"fired_at,omitempty"`
	TimeoutAt *time.Time `json:"timeoutAt,omitempty" dynamodbav:"timeout_at,omitempty"`
	UpdatedAt time.Time  `json:"updatedAt" dynamodbav:"updated_at"`
}
