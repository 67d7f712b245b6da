// Package session implements the liveness and cancellation tracker for
// cascade executions. It owns the execution lifecycle state machine,
// heartbeats, cooperative cancellation flags, and zombie detection, and is
// the single source of truth for why a blocked execution is not progressing.
package session

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nerio-ai/cascade"
)

// DefaultLeaseSeconds is the heartbeat lease applied to new executions
// unless overridden at creation time.
const DefaultLeaseSeconds = 60

// Manager tracks execution liveness over a durable store, with a local
// cache for low-latency reads within the same process. The store write is
// authoritative; the cache is an optimization that can be rebuilt from the
// store at any time.
type Manager struct {
	store    cascade.CoordinationStore
	notifier cascade.Notifier
	logger   zerolog.Logger

	leaseSeconds int

	mu    sync.RWMutex
	cache map[string]*cascade.ExecutionState
}

// Option configures a session manager
type Option func(*Manager)

// WithLogger sets a custom logger
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithNotifier sets an event notifier
func WithNotifier(n cascade.Notifier) Option {
	return func(m *Manager) {
		m.notifier = n
	}
}

// WithDefaultLease overrides the default heartbeat lease for new executions
func WithDefaultLease(seconds int) Option {
	return func(m *Manager) {
		m.leaseSeconds = seconds
	}
}

// NewManager creates a session manager over the given store
func NewManager(store cascade.CoordinationStore, opts ...Option) *Manager {
	defaultLogger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().
		Timestamp().
		Logger().
		Level(zerolog.InfoLevel)

	m := &Manager{
		store:        store,
		logger:       defaultLogger,
		leaseSeconds: DefaultLeaseSeconds,
		cache:        make(map[string]*cascade.ExecutionState),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// CreateOption configures a new execution registration
type CreateOption func(*cascade.ExecutionState)

// WithParent links the execution to a parent execution
func WithParent(parentExecutionID string) CreateOption {
	return func(s *cascade.ExecutionState) {
		s.ParentExecutionID = cascade.ToPtr(parentExecutionID)
	}
}

// WithDepth sets the nesting depth of the execution
func WithDepth(depth int) CreateOption {
	return func(s *cascade.ExecutionState) {
		s.Depth = depth
	}
}

// WithLease overrides the heartbeat lease for this execution
func WithLease(seconds int) CreateOption {
	return func(s *cascade.ExecutionState) {
		s.HeartbeatLeaseSeconds = seconds
	}
}

// CreateExecution inserts a STARTING row for a newly launched execution.
// A store failure is propagated: callers must not assume the execution is
// tracked if this returns an error.
func (m *Manager) CreateExecution(ctx context.Context, executionID, cascadeID string, opts ...CreateOption) (*cascade.ExecutionState, error) {
	if executionID == "" {
		return nil, cascade.NewValidation("executionId is required")
	}
	if cascadeID == "" {
		return nil, cascade.NewValidation("cascadeId is required")
	}

	now := time.Now()
	state := &cascade.ExecutionState{
		ExecutionID:           executionID,
		CascadeID:             cascadeID,
		Status:                cascade.ExecutionStatusStarting,
		HeartbeatAt:           now,
		HeartbeatLeaseSeconds: m.leaseSeconds,
		StartedAt:             now,
		UpdatedAt:             now,
	}
	for _, opt := range opts {
		opt(state)
	}

	if err := m.store.CreateSession(ctx, state); err != nil {
		cascade.LogStoreError(m.logger, "CreateSession", executionID, err)
		return nil, cascade.NewStoreUnavailable("CreateSession", err)
	}

	m.mu.Lock()
	m.cache[executionID] = cloneSession(state)
	m.mu.Unlock()

	cascade.LogSessionCreated(m.logger, executionID, cascadeID, state.Depth)
	cascade.Publish(m.notifier, m.logger, cascade.EventSessionCreated, executionID, map[string]any{
		"cascadeId": cascadeID,
		"depth":     state.Depth,
	})

	return cloneSession(state), nil
}

// GetSession returns the latest known state for an execution. The store is
// read first; if the store is unavailable and the session is cached, the
// cached copy is returned (best-effort availability for reads).
func (m *Manager) GetSession(ctx context.Context, executionID string) (*cascade.ExecutionState, error) {
	state, err := m.store.GetSession(ctx, executionID)
	if err != nil {
		if cascade.IsNotFound(err) {
			return nil, err
		}
		m.mu.RLock()
		cached, ok := m.cache[executionID]
		m.mu.RUnlock()
		if ok {
			cascade.LogStoreError(m.logger, "GetSession", executionID, err)
			return cloneSession(cached), nil
		}
		return nil, cascade.NewStoreUnavailable("GetSession", err)
	}

	m.mu.Lock()
	m.cache[executionID] = cloneSession(state)
	m.mu.Unlock()

	return state, nil
}

// UpdateOption configures a status transition
type UpdateOption func(*updateParams)

type updateParams struct {
	currentStep  *string
	errorMessage *string
	errorStep    *string
}

// WithCurrentStep records the step the execution is currently evaluating
func WithCurrentStep(step string) UpdateOption {
	return func(p *updateParams) {
		p.currentStep = cascade.ToPtr(step)
	}
}

// WithError records the failure details for an ERROR transition
func WithError(message, step string) UpdateOption {
	return func(p *updateParams) {
		p.errorMessage = cascade.ToPtr(message)
		if step != "" {
			p.errorStep = cascade.ToPtr(step)
		}
	}
}

// UpdateStatus transitions an execution to a new lifecycle status. Leaving
// BLOCKED clears the blocked fields automatically; COMPLETED and CANCELLED
// stamp their completion timestamps. A terminal execution is immutable and
// rejects further transitions.
func (m *Manager) UpdateStatus(ctx context.Context, executionID string, status cascade.ExecutionStatus, opts ...UpdateOption) error {
	params := &updateParams{}
	for _, opt := range opts {
		opt(params)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	state, err := m.latestLocked(ctx, executionID)
	if err != nil {
		return err
	}
	if state.Status.IsTerminal() {
		return cascade.NewAlreadyResolved("session", executionID, state.Status.String())
	}

	from := state.Status
	now := time.Now()
	state.Status = status
	state.UpdatedAt = now
	if params.currentStep != nil {
		state.CurrentStep = params.currentStep
	}

	switch status {
	case cascade.ExecutionStatusStarting, cascade.ExecutionStatusRunning:
		state.Blocked = nil
	case cascade.ExecutionStatusBlocked:
		// Only SetBlocked may enter BLOCKED; it records the reason.
		return cascade.NewValidation("use SetBlocked to enter the blocked state")
	case cascade.ExecutionStatusCompleted:
		state.Blocked = nil
		state.CompletedAt = cascade.ToPtr(now)
	case cascade.ExecutionStatusError:
		state.Blocked = nil
		state.CompletedAt = cascade.ToPtr(now)
		state.ErrorMessage = params.errorMessage
		state.ErrorStep = params.errorStep
	case cascade.ExecutionStatusCancelled:
		state.Blocked = nil
		state.CancelledAt = cascade.ToPtr(now)
		state.CompletedAt = cascade.ToPtr(now)
	case cascade.ExecutionStatusOrphaned:
		state.Blocked = nil
		state.CompletedAt = cascade.ToPtr(now)
		state.ErrorMessage = params.errorMessage
	default:
		return cascade.NewValidation(fmt.Sprintf("unknown execution status %q", status))
	}

	if err := m.store.UpdateSession(ctx, state); err != nil {
		cascade.LogStoreError(m.logger, "UpdateSession", executionID, err)
		return cascade.NewStoreUnavailable("UpdateSession", err)
	}
	m.cache[executionID] = cloneSession(state)

	cascade.LogStatusChanged(m.logger, executionID, from, status)
	cascade.Publish(m.notifier, m.logger, cascade.EventSessionStatusChanged, executionID, map[string]any{
		"from": from.String(),
		"to":   status.String(),
	})

	return nil
}

// SetBlocked marks an execution as blocked on an external condition. This
// is the only legal way to enter BLOCKED and is called by the checkpoint
// and signal managers while a step is suspended.
func (m *Manager) SetBlocked(ctx context.Context, executionID string, reason cascade.BlockedReason) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, err := m.latestLocked(ctx, executionID)
	if err != nil {
		return err
	}
	if state.Status.IsTerminal() {
		return cascade.NewAlreadyResolved("session", executionID, state.Status.String())
	}

	from := state.Status
	state.Status = cascade.ExecutionStatusBlocked
	state.Blocked = &reason
	state.UpdatedAt = time.Now()

	if err := m.store.UpdateSession(ctx, state); err != nil {
		cascade.LogStoreError(m.logger, "UpdateSession", executionID, err)
		return cascade.NewStoreUnavailable("UpdateSession", err)
	}
	m.cache[executionID] = cloneSession(state)

	cascade.LogBlocked(m.logger, executionID, &reason)
	cascade.Publish(m.notifier, m.logger, cascade.EventSessionBlocked, executionID, map[string]any{
		"from":      from.String(),
		"kind":      string(reason.Kind),
		"blockedOn": reason.BlockedOn,
	})

	return nil
}

// SetUnblocked returns a blocked execution to RUNNING and clears the
// blocked fields. Calling it on an execution that is not blocked is a
// no-op, so wait loops can invoke it unconditionally on exit.
func (m *Manager) SetUnblocked(ctx context.Context, executionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, err := m.latestLocked(ctx, executionID)
	if err != nil {
		return err
	}
	if state.Status != cascade.ExecutionStatusBlocked {
		return nil
	}

	state.Status = cascade.ExecutionStatusRunning
	state.Blocked = nil
	state.UpdatedAt = time.Now()

	if err := m.store.UpdateSession(ctx, state); err != nil {
		cascade.LogStoreError(m.logger, "UpdateSession", executionID, err)
		return cascade.NewStoreUnavailable("UpdateSession", err)
	}
	m.cache[executionID] = cloneSession(state)

	cascade.LogUnblocked(m.logger, executionID)
	cascade.Publish(m.notifier, m.logger, cascade.EventSessionUnblocked, executionID, nil)

	return nil
}

// Heartbeat refreshes the liveness timestamp. The execution engine must
// call this on a fixed interval strictly shorter than the heartbeat lease
// while actively running. HeartbeatAt only moves forward. Heartbeating a
// terminal execution is an explicit ALREADY_RESOLVED error; callers should
// treat it as a benign signal to stop heartbeating.
func (m *Manager) Heartbeat(ctx context.Context, executionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, err := m.latestLocked(ctx, executionID)
	if err != nil {
		return err
	}
	if state.Status.IsTerminal() {
		return cascade.NewAlreadyResolved("session", executionID, state.Status.String())
	}

	now := time.Now()
	if now.After(state.HeartbeatAt) {
		state.HeartbeatAt = now
	}
	state.UpdatedAt = now

	if err := m.store.UpdateSession(ctx, state); err != nil {
		cascade.LogStoreError(m.logger, "UpdateSession", executionID, err)
		return cascade.NewStoreUnavailable("UpdateSession", err)
	}
	m.cache[executionID] = cloneSession(state)

	return nil
}

// RequestCancellation sets the cooperative cancellation flag. Nothing is
// stopped here: the execution engine polls IsCancelled at safe points and
// unwinds gracefully.
func (m *Manager) RequestCancellation(ctx context.Context, executionID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, err := m.latestLocked(ctx, executionID)
	if err != nil {
		return err
	}
	if state.Status.IsTerminal() {
		return cascade.NewAlreadyResolved("session", executionID, state.Status.String())
	}
	if state.CancelRequested {
		return nil
	}

	state.CancelRequested = true
	if reason != "" {
		state.CancelReason = cascade.ToPtr(reason)
	}
	state.UpdatedAt = time.Now()

	if err := m.store.UpdateSession(ctx, state); err != nil {
		cascade.LogStoreError(m.logger, "UpdateSession", executionID, err)
		return cascade.NewStoreUnavailable("UpdateSession", err)
	}
	m.cache[executionID] = cloneSession(state)

	cascade.LogCancelRequested(m.logger, executionID, reason)
	cascade.Publish(m.notifier, m.logger, cascade.EventSessionCancelRequested, executionID, map[string]any{
		"reason": reason,
	})

	return nil
}

// IsCancelled reports whether cancellation has been requested, reading
// through to the store so cross-process requests are observed.
func (m *Manager) IsCancelled(ctx context.Context, executionID string) (bool, error) {
	state, err := m.GetSession(ctx, executionID)
	if err != nil {
		return false, err
	}
	return state.CancelRequested, nil
}

// GetZombieExecutions returns all non-terminal executions whose heartbeat
// has expired past lease plus the given grace period.
func (m *Manager) GetZombieExecutions(ctx context.Context, graceSeconds int) ([]*cascade.ExecutionState, error) {
	sessions, err := m.store.ListSessions(ctx, cascade.SessionFilter{
		Terminal: cascade.ToPtr(false),
	})
	if err != nil {
		return nil, cascade.NewStoreUnavailable("ListSessions", err)
	}

	now := time.Now()
	grace := time.Duration(graceSeconds) * time.Second
	var zombies []*cascade.ExecutionState
	for _, s := range sessions {
		if s.IsZombie(now, grace) {
			zombies = append(zombies, s)
		}
	}
	return zombies, nil
}

// CleanupZombies transitions every zombie execution to ORPHANED with a
// descriptive error. Safe to run concurrently from multiple processes:
// ORPHANED is terminal, so double-marking is harmless last-writer-wins.
func (m *Manager) CleanupZombies(ctx context.Context, graceSeconds int) (int, error) {
	zombies, err := m.GetZombieExecutions(ctx, graceSeconds)
	if err != nil {
		return 0, err
	}

	reaped := 0
	for _, z := range zombies {
		now := time.Now()
		z.Status = cascade.ExecutionStatusOrphaned
		z.Blocked = nil
		z.CompletedAt = cascade.ToPtr(now)
		z.ErrorMessage = cascade.ToPtr(fmt.Sprintf(
			"execution heartbeat expired at %s (lease %ds, grace %ds)",
			z.HeartbeatAt.Format(time.RFC3339), z.HeartbeatLeaseSeconds, graceSeconds))
		z.UpdatedAt = now

		if err := m.store.UpdateSession(ctx, z); err != nil {
			cascade.LogStoreError(m.logger, "UpdateSession", z.ExecutionID, err)
			continue
		}

		m.mu.Lock()
		m.cache[z.ExecutionID] = cloneSession(z)
		m.mu.Unlock()

		cascade.LogZombieReaped(m.logger, z.ExecutionID, z.HeartbeatAt)
		cascade.Publish(m.notifier, m.logger, cascade.EventSessionOrphaned, z.ExecutionID, map[string]any{
			"heartbeatAt": z.HeartbeatAt,
		})
		reaped++
	}

	return reaped, nil
}

// ListSessions returns executions matching the filter
func (m *Manager) ListSessions(ctx context.Context, filter cascade.SessionFilter) ([]*cascade.ExecutionState, error) {
	sessions, err := m.store.ListSessions(ctx, filter)
	if err != nil {
		return nil, cascade.NewStoreUnavailable("ListSessions", err)
	}

	m.mu.Lock()
	for _, s := range sessions {
		m.cache[s.ExecutionID] = cloneSession(s)
	}
	m.mu.Unlock()

	return sessions, nil
}

// latestLocked loads the freshest state for a read-modify-write, preferring
// the store and falling back to the cache when the store read fails.
// Callers must hold m.mu.
func (m *Manager) latestLocked(ctx context.Context, executionID string) (*cascade.ExecutionState, error) {
	state, err := m.store.GetSession(ctx, executionID)
	if err != nil {
		if cascade.IsNotFound(err) {
			return nil, err
		}
		cached, ok := m.cache[executionID]
		if !ok {
			return nil, cascade.NewStoreUnavailable("GetSession", err)
		}
		cascade.LogStoreError(m.logger, "GetSession", executionID, err)
		return cloneSession(cached), nil
	}
	return state, nil
}

// cloneSession deep-copies an execution state so cache entries never alias
// caller-held pointers.
func cloneSession(s *cascade.ExecutionState) *cascade.ExecutionState {
	c := *s
	if s.Blocked != nil {
		blocked := *s.Blocked
		c.Blocked = &blocked
	}
	return &c
}
