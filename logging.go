package cascade

import (
	"time"

	"github.com/rs/zerolog"
)

// Log event names
const (
	LogEventSessionCreated  = "session_created"
	LogEventStatusChanged   = "session_status_changed"
	LogEventBlocked         = "session_blocked"
	LogEventUnblocked       = "session_unblocked"
	LogEventCancelRequested = "session_cancel_requested"
	LogEventZombieReaped    = "session_zombie_reaped"

	LogEventCheckpointCreated  = "checkpoint_created"
	LogEventCheckpointResolved = "checkpoint_resolved"

	LogEventSignalRegistered = "signal_registered"
	LogEventSignalResolved   = "signal_resolved"
	LogEventCallbackRejected = "callback_rejected"
	LogEventPushFailed       = "push_failed"

	LogEventStoreError = "store_error"
)

// LogSessionCreated logs registration of a new execution
func LogSessionCreated(logger zerolog.Logger, executionID, cascadeID string, depth int) {
	logger.Info().
		Str("event", LogEventSessionCreated).
		Str("execution_id", executionID).
		Str("cascade_id", cascadeID).
		Int("depth", depth).
		Msg("Execution session created")
}

// LogStatusChanged logs an execution status transition
func LogStatusChanged(logger zerolog.Logger, executionID string, from, to ExecutionStatus) {
	logger.Info().
		Str("event", LogEventStatusChanged).
		Str("execution_id", executionID).
		Str("from", from.String()).
		Str("to", to.String()).
		Msg("Execution status changed")
}

// LogBlocked logs an execution entering the blocked state
func LogBlocked(logger zerolog.Logger, executionID string, reason *BlockedReason) {
	logger.Info().
		Str("event", LogEventBlocked).
		Str("execution_id", executionID).
		Str("kind", string(reason.Kind)).
		Str("blocked_on", reason.BlockedOn).
		Msg("Execution blocked")
}

// LogUnblocked logs an execution leaving the blocked state
func LogUnblocked(logger zerolog.Logger, executionID string) {
	logger.Info().
		Str("event", LogEventUnblocked).
		Str("execution_id", executionID).
		Msg("Execution unblocked")
}

// LogCancelRequested logs a cooperative cancellation request
func LogCancelRequested(logger zerolog.Logger, executionID, reason string) {
	logger.Warn().
		Str("event", LogEventCancelRequested).
		Str("execution_id", executionID).
		Str("reason", reason).
		Msg("Cancellation requested")
}

// LogZombieReaped logs an expired execution being marked orphaned
func LogZombieReaped(logger zerolog.Logger, executionID string, heartbeatAt time.Time) {
	logger.Warn().
		Str("event", LogEventZombieReaped).
		Str("execution_id", executionID).
		Time("heartbeat_at", heartbeatAt).
		Msg("Zombie execution marked orphaned")
}

// LogCheckpointCreated logs a new suspension point
func LogCheckpointCreated(logger zerolog.Logger, checkpointID, executionID string, cpType CheckpointType) {
	logger.Info().
		Str("event", LogEventCheckpointCreated).
		Str("checkpoint_id", checkpointID).
		Str("execution_id", executionID).
		Str("type", cpType.String()).
		Msg("Checkpoint created")
}

// LogCheckpointResolved logs a checkpoint leaving PENDING
func LogCheckpointResolved(logger zerolog.Logger, checkpointID string, status CheckpointStatus) {
	logger.Info().
		Str("event", LogEventCheckpointResolved).
		Str("checkpoint_id", checkpointID).
		Str("status", status.String()).
		Msg("Checkpoint resolved")
}

// LogSignalRegistered logs a new wait registration
func LogSignalRegistered(logger zerolog.Logger, signalID, name, executionID string) {
	logger.Info().
		Str("event", LogEventSignalRegistered).
		Str("signal_id", signalID).
		Str("signal_name", name).
		Str("execution_id", executionID).
		Msg("Signal registered")
}

// LogSignalResolved logs a signal leaving WAITING
func LogSignalResolved(logger zerolog.Logger, signalID string, status SignalStatus, source string) {
	logger.Info().
		Str("event", LogEventSignalResolved).
		Str("signal_id", signalID).
		Str("status", status.String()).
		Str("source", source).
		Msg("Signal resolved")
}

// LogCallbackRejected logs a push callback refused by the listener
func LogCallbackRejected(logger zerolog.Logger, signalID, reason string) {
	logger.Warn().
		Str("event", LogEventCallbackRejected).
		Str("signal_id", signalID).
		Str("reason", reason).
		Msg("Push callback rejected")
}

// LogPushFailed logs a failed best-effort push notification. The polling
// path remains the correctness backstop, so this is not an error.
func LogPushFailed(logger zerolog.Logger, signalID, address string, err error) {
	logger.Debug().
		Str("event", LogEventPushFailed).
		Str("signal_id", signalID).
		Str("address", address).
		Err(err).
		Msg("Push notification failed; waiter will discover via polling")
}

// LogStoreError logs a failed store round-trip
func LogStoreError(logger zerolog.Logger, operation, entityID string, err error) {
	logger.Error().
		Str("event", LogEventStoreError).
		Str("operation", operation).
		Str("entity_id", entityID).
		Err(err).
		Msg("Store operation failed")
}
