// Package checkpoint implements the suspend/resume manager for
// human-in-the-loop interaction. A suspending step creates a checkpoint and
// blocks in WaitForResponse until a responder, a timeout, or a cancel
// resolves it; the row survives process restarts and is kept forever once
// terminal.
package checkpoint

import (
	"context"
	"encoding/json"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nerio-ai/cascade"
)

// DefaultPollInterval is the store re-read cadence for wait loops
const DefaultPollInterval = 2 * time.Second

// SessionTracker is the slice of the liveness tracker the checkpoint
// manager needs: it reports suspension to the tracker so the tracker stays
// the single source of truth for blocked executions.
type SessionTracker interface {
	SetBlocked(ctx context.Context, executionID string, reason cascade.BlockedReason) error
	SetUnblocked(ctx context.Context, executionID string) error
}

// Summarizer produces a human-oriented summary of a checkpoint for UIs.
// Enrichment is best-effort: a failure never affects the checkpoint state.
type Summarizer interface {
	Summarize(ctx context.Context, checkpoint *cascade.Checkpoint) (string, error)
}

// Manager coordinates suspension points over a durable store. The local
// cache and waiter channels give same-process responders sub-poll-interval
// wake-up latency; the store polling path is the cross-process backstop.
type Manager struct {
	store      cascade.CoordinationStore
	sessions   SessionTracker
	notifier   cascade.Notifier
	summarizer Summarizer
	logger     zerolog.Logger

	pollInterval time.Duration

	mu      sync.Mutex
	cache   map[string]*cascade.Checkpoint
	waiters map[string]chan struct{}
}

// Option configures a checkpoint manager
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

// WithSessions connects the manager to the liveness tracker
func WithSessions(s SessionTracker) Option {
	return func(m *Manager) {
		m.sessions = s
	}
}

// WithSummarizer enables best-effort async summary enrichment
func WithSummarizer(s Summarizer) Option {
	return func(m *Manager) {
		m.summarizer = s
	}
}

// WithPollInterval overrides the default wait-loop poll interval
func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) {
		m.pollInterval = d
	}
}

// NewManager creates a checkpoint manager over the given store
func NewManager(store cascade.CoordinationStore, opts ...Option) *Manager {
	defaultLogger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().
		Timestamp().
		Logger().
		Level(zerolog.InfoLevel)

	m := &Manager{
		store:        store,
		logger:       defaultLogger,
		pollInterval: DefaultPollInterval,
		cache:        make(map[string]*cascade.Checkpoint),
		waiters:      make(map[string]chan struct{}),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// CreateParams describes a new suspension point
type CreateParams struct {
	ExecutionID      string
	CascadeID        string
	StepName         string
	Type             cascade.CheckpointType
	UISpec           json.RawMessage
	ContextSnapshot  json.RawMessage
	CandidateOutputs []json.RawMessage
	ResumeConfig     json.RawMessage
	// TimeoutSeconds of zero means no deadline
	TimeoutSeconds int
}

// Create persists a PENDING checkpoint, publishes a preview event, and
// reports the suspension to the liveness tracker. A store failure is
// propagated; the tracker and notifier side effects are best-effort.
func (m *Manager) Create(ctx context.Context, params CreateParams) (*cascade.Checkpoint, error) {
	if params.ExecutionID == "" {
		return nil, cascade.NewValidation("executionId is required")
	}
	if params.StepName == "" {
		return nil, cascade.NewValidation("stepName is required")
	}
	if params.Type == "" {
		return nil, cascade.NewValidation("checkpoint type is required")
	}

	now := time.Now()
	cp := &cascade.Checkpoint{
		ID:               "cp_" + uuid.New().String(),
		ExecutionID:      params.ExecutionID,
		CascadeID:        params.CascadeID,
		StepName:         params.StepName,
		Type:             params.Type,
		Status:           cascade.CheckpointStatusPending,
		UISpec:           params.UISpec,
		ContextSnapshot:  params.ContextSnapshot,
		CandidateOutputs: params.CandidateOutputs,
		ResumeConfig:     params.ResumeConfig,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if params.TimeoutSeconds > 0 {
		cp.TimeoutAt = cascade.ToPtr(now.Add(time.Duration(params.TimeoutSeconds) * time.Second))
	}

	if err := m.store.CreateCheckpoint(ctx, cp); err != nil {
		cascade.LogStoreError(m.logger, "CreateCheckpoint", cp.ID, err)
		return nil, cascade.NewStoreUnavailable("CreateCheckpoint", err)
	}

	m.mu.Lock()
	m.cache[cp.ID] = cloneCheckpoint(cp)
	if _, ok := m.waiters[cp.ID]; !ok {
		m.waiters[cp.ID] = make(chan struct{})
	}
	m.mu.Unlock()

	cascade.LogCheckpointCreated(m.logger, cp.ID, cp.ExecutionID, cp.Type)
	cascade.Publish(m.notifier, m.logger, cascade.EventCheckpointCreated, cp.ExecutionID, map[string]any{
		"checkpointId": cp.ID,
		"stepName":     cp.StepName,
		"type":         cp.Type.String(),
		"preview":      cascade.Preview(cp.UISpec),
	})

	if m.sessions != nil {
		reason := cascade.BlockedReason{
			Kind:        cp.BlockedKind(),
			BlockedOn:   cp.ID,
			Description: "awaiting response for step " + cp.StepName,
			Deadline:    cp.TimeoutAt,
		}
		if err := m.sessions.SetBlocked(ctx, cp.ExecutionID, reason); err != nil {
			m.logger.Warn().
				Str("checkpoint_id", cp.ID).
				Str("execution_id", cp.ExecutionID).
				Err(err).
				Msg("Failed to report blocked state to liveness tracker")
		}
	}

	if m.summarizer != nil {
		go m.enrichSummary(cloneCheckpoint(cp))
	}

	return cloneCheckpoint(cp), nil
}

// enrichSummary patches the row with a generated summary. Any failure is
// logged and swallowed: enrichment never touches the primary state machine.
func (m *Manager) enrichSummary(cp *cascade.Checkpoint) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	summary, err := m.summarizer.Summarize(ctx, cp)
	if err != nil {
		m.logger.Debug().
			Str("checkpoint_id", cp.ID).
			Err(err).
			Msg("Checkpoint summary generation failed")
		return
	}

	latest, err := m.store.GetCheckpoint(ctx, cp.ID)
	if err != nil {
		m.logger.Debug().
			Str("checkpoint_id", cp.ID).
			Err(err).
			Msg("Checkpoint summary patch skipped; row not readable")
		return
	}
	latest.Summary = cascade.ToPtr(summary)
	latest.UpdatedAt = time.Now()
	if err := m.store.UpdateCheckpoint(ctx, latest); err != nil {
		m.logger.Debug().
			Str("checkpoint_id", cp.ID).
			Err(err).
			Msg("Checkpoint summary patch failed")
	}
}

// RespondOption attaches optional responder metadata
type RespondOption func(*cascade.Checkpoint)

// WithReasoning attaches the responder's reasoning
func WithReasoning(reasoning string) RespondOption {
	return func(cp *cascade.Checkpoint) {
		cp.Reasoning = cascade.ToPtr(reasoning)
	}
}

// WithConfidence attaches the responder's confidence
func WithConfidence(confidence float64) RespondOption {
	return func(cp *cascade.Checkpoint) {
		cp.Confidence = cascade.ToPtr(confidence)
	}
}

// soundingResult is the expected response shape for SOUNDING_EVAL
// checkpoints, from which the derived fields are extracted.
type soundingResult struct {
	WinnerIndex *int               `json:"winnerIndex"`
	Rankings    []int              `json:"rankings"`
	Ratings     map[string]float64 `json:"ratings"`
}

// Respond resolves a pending checkpoint with a response. Exactly one
// response transition is accepted: responding to a checkpoint that already
// left PENDING fails with ALREADY_RESOLVED, which callers must treat as a
// benign race.
func (m *Manager) Respond(ctx context.Context, checkpointID string, response json.RawMessage, opts ...RespondOption) (*cascade.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp, err := m.latestLocked(ctx, checkpointID)
	if err != nil {
		return nil, err
	}
	if cp.Status != cascade.CheckpointStatusPending {
		return nil, cascade.NewAlreadyResolved("checkpoint", checkpointID, cp.Status.String())
	}

	now := time.Now()
	cp.Status = cascade.CheckpointStatusResponded
	cp.Response = response
	cp.RespondedAt = cascade.ToPtr(now)
	cp.UpdatedAt = now
	for _, opt := range opts {
		opt(cp)
	}

	if cp.Type == cascade.CheckpointTypeSoundingEval && len(response) > 0 {
		var derived soundingResult
		if err := json.Unmarshal(response, &derived); err == nil {
			cp.WinnerIndex = derived.WinnerIndex
			cp.Rankings = derived.Rankings
			cp.Ratings = derived.Ratings
		} else {
			m.logger.Debug().
				Str("checkpoint_id", checkpointID).
				Err(err).
				Msg("Sounding response not parseable; derived fields skipped")
		}
	}

	if err := m.store.TransitionCheckpoint(ctx, cp, cascade.CheckpointStatusPending); err != nil {
		if cascade.IsStaleTransition(err) {
			m.adoptLatestLocked(ctx, checkpointID)
			return nil, cascade.NewAlreadyResolved("checkpoint", checkpointID, m.cachedStatusLocked(checkpointID))
		}
		cascade.LogStoreError(m.logger, "TransitionCheckpoint", checkpointID, err)
		return nil, cascade.NewStoreUnavailable("TransitionCheckpoint", err)
	}

	m.resolveLocked(cp)

	cascade.LogCheckpointResolved(m.logger, checkpointID, cp.Status)
	cascade.Publish(m.notifier, m.logger, cascade.EventCheckpointResponded, cp.ExecutionID, map[string]any{
		"checkpointId": checkpointID,
		"stepName":     cp.StepName,
	})

	return cloneCheckpoint(cp), nil
}

// Cancel resolves a pending checkpoint as CANCELLED, under the same
// single-transition guard as Respond.
func (m *Manager) Cancel(ctx context.Context, checkpointID, reason string) (*cascade.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp, err := m.latestLocked(ctx, checkpointID)
	if err != nil {
		return nil, err
	}
	if cp.Status != cascade.CheckpointStatusPending {
		return nil, cascade.NewAlreadyResolved("checkpoint", checkpointID, cp.Status.String())
	}

	now := time.Now()
	cp.Status = cascade.CheckpointStatusCancelled
	if reason != "" {
		cp.CancelReason = cascade.ToPtr(reason)
	}
	cp.UpdatedAt = now

	if err := m.store.TransitionCheckpoint(ctx, cp, cascade.CheckpointStatusPending); err != nil {
		if cascade.IsStaleTransition(err) {
			m.adoptLatestLocked(ctx, checkpointID)
			return nil, cascade.NewAlreadyResolved("checkpoint", checkpointID, m.cachedStatusLocked(checkpointID))
		}
		cascade.LogStoreError(m.logger, "TransitionCheckpoint", checkpointID, err)
		return nil, cascade.NewStoreUnavailable("TransitionCheckpoint", err)
	}

	m.resolveLocked(cp)

	cascade.LogCheckpointResolved(m.logger, checkpointID, cp.Status)
	cascade.Publish(m.notifier, m.logger, cascade.EventCheckpointCancelled, cp.ExecutionID, map[string]any{
		"checkpointId": checkpointID,
		"reason":       reason,
	})

	return cloneCheckpoint(cp), nil
}

// Get returns the latest known state of a checkpoint, preferring an
// already-observed terminal state in the cache over a lagging store read.
func (m *Manager) Get(ctx context.Context, checkpointID string) (*cascade.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, err := m.latestLocked(ctx, checkpointID)
	if err != nil {
		return nil, err
	}
	return cloneCheckpoint(cp), nil
}

// WaitOptions controls a blocking wait
type WaitOptions struct {
	// Timeout overrides the checkpoint's own deadline when set
	Timeout *time.Duration
	// PollInterval of zero uses the manager default
	PollInterval time.Duration
}

// WaitForResponse blocks the calling goroutine until the checkpoint leaves
// PENDING or the effective deadline passes. It returns the response payload
// on RESPONDED and nil on TIMEOUT or CANCELLED; a timeout is an ordinary
// "no answer" outcome, not an error. The caller's goroutine must be one
// that can legitimately sleep for long periods. On return the manager
// reports the execution unblocked to the liveness tracker.
func (m *Manager) WaitForResponse(ctx context.Context, checkpointID string, opts WaitOptions) (json.RawMessage, error) {
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = m.pollInterval
	}

	m.mu.Lock()
	cp, err := m.latestLocked(ctx, checkpointID)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	executionID := cp.ExecutionID
	waiter := m.waiterLocked(checkpointID)
	m.mu.Unlock()

	defer m.unblock(executionID)

	// Explicit timeout overrides the checkpoint's own deadline; absent
	// both, wait indefinitely.
	var deadline *time.Time
	if opts.Timeout != nil {
		deadline = cascade.ToPtr(time.Now().Add(*opts.Timeout))
	} else if cp.TimeoutAt != nil {
		deadline = cp.TimeoutAt
	}

	for {
		// Same-process responders land in the cache first.
		m.mu.Lock()
		if cached, ok := m.cache[checkpointID]; ok && cached.Status.IsTerminal() {
			response := cached.Response
			m.mu.Unlock()
			return response, nil
		}
		m.mu.Unlock()

		// Cross-process responders become visible via the store. A store
		// failure here is tolerated: the poll loop is its own retry.
		latest, err := m.store.GetCheckpoint(ctx, checkpointID)
		if err != nil {
			if cascade.IsNotFound(err) {
				return nil, err
			}
			cascade.LogStoreError(m.logger, "GetCheckpoint", checkpointID, err)
		} else if latest.Status.IsTerminal() {
			m.mu.Lock()
			// Trust the store's terminal state unless the cache already
			// observed a different terminal one.
			if cached, ok := m.cache[checkpointID]; !ok || !cached.Status.IsTerminal() {
				m.resolveLocked(latest)
			}
			response := m.cache[checkpointID].Response
			m.mu.Unlock()
			return response, nil
		}

		// Deadline is recomputed every iteration so an externally
		// shortened deadline takes effect within one poll interval.
		if deadline != nil && !time.Now().Before(*deadline) {
			return m.expire(ctx, checkpointID)
		}

		wait := pollInterval
		if deadline != nil {
			if remaining := time.Until(*deadline); remaining < wait {
				wait = remaining
			}
		}
		if wait < 0 {
			wait = 0
		}

		timer := time.NewTimer(wait)
		select {
		case <-waiter:
			timer.Stop()
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
}

// expire transitions a deadline-passed checkpoint to TIMEOUT. If a
// concurrent responder won the race, their outcome is adopted instead.
func (m *Manager) expire(ctx context.Context, checkpointID string) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp, err := m.latestLocked(ctx, checkpointID)
	if err != nil {
		return nil, err
	}
	if cp.Status.IsTerminal() {
		m.resolveLocked(cp)
		return cp.Response, nil
	}

	now := time.Now()
	cp.Status = cascade.CheckpointStatusTimeout
	cp.UpdatedAt = now

	if err := m.store.TransitionCheckpoint(ctx, cp, cascade.CheckpointStatusPending); err != nil {
		if cascade.IsStaleTransition(err) {
			m.adoptLatestLocked(ctx, checkpointID)
			if cached, ok := m.cache[checkpointID]; ok && cached.Status == cascade.CheckpointStatusResponded {
				return cached.Response, nil
			}
			return nil, nil
		}
		cascade.LogStoreError(m.logger, "TransitionCheckpoint", checkpointID, err)
		return nil, cascade.NewStoreUnavailable("TransitionCheckpoint", err)
	}

	m.resolveLocked(cp)

	cascade.LogCheckpointResolved(m.logger, checkpointID, cascade.CheckpointStatusTimeout)
	cascade.Publish(m.notifier, m.logger, cascade.EventCheckpointTimeout, cp.ExecutionID, map[string]any{
		"checkpointId": checkpointID,
		"stepName":     cp.StepName,
	})

	return nil, nil
}

// ListPending returns unresolved checkpoints, optionally scoped to one
// execution. Store results populate the cache; cache entries the store has
// not made visible yet are merged in.
func (m *Manager) ListPending(ctx context.Context, executionID string) ([]*cascade.Checkpoint, error) {
	fromStore, err := m.store.ListCheckpoints(ctx, cascade.CheckpointFilter{
		ExecutionID: executionID,
		Status:      cascade.ToPtr(cascade.CheckpointStatusPending),
	})
	if err != nil {
		return nil, cascade.NewStoreUnavailable("ListCheckpoints", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool)
	var result []*cascade.Checkpoint
	for _, cp := range fromStore {
		// A terminal state already observed in this process wins over a
		// lagging store read.
		if cached, ok := m.cache[cp.ID]; ok && cached.Status.IsTerminal() {
			continue
		}
		m.cache[cp.ID] = cloneCheckpoint(cp)
		seen[cp.ID] = true
		result = append(result, cp)
	}
	for id, cached := range m.cache {
		if seen[id] || cached.Status != cascade.CheckpointStatusPending {
			continue
		}
		if executionID != "" && cached.ExecutionID != executionID {
			continue
		}
		result = append(result, cloneCheckpoint(cached))
	}

	sortByCreatedAt(result)
	return result, nil
}

// ListAll returns every checkpoint for an execution, resolved or not,
// merged and deduplicated across cache and store.
func (m *Manager) ListAll(ctx context.Context, executionID string) ([]*cascade.Checkpoint, error) {
	fromStore, err := m.store.ListCheckpoints(ctx, cascade.CheckpointFilter{ExecutionID: executionID})
	if err != nil {
		return nil, cascade.NewStoreUnavailable("ListCheckpoints", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool)
	var result []*cascade.Checkpoint
	for _, cp := range fromStore {
		if cached, ok := m.cache[cp.ID]; ok && cached.Status.IsTerminal() && !cp.Status.IsTerminal() {
			result = append(result, cloneCheckpoint(cached))
		} else {
			if cp.Status.IsTerminal() {
				m.resolveLocked(cp)
			} else {
				m.cache[cp.ID] = cloneCheckpoint(cp)
			}
			result = append(result, cp)
		}
		seen[cp.ID] = true
	}
	for id, cached := range m.cache {
		if seen[id] || cached.ExecutionID != executionID {
			continue
		}
		result = append(result, cloneCheckpoint(cached))
	}

	sortByCreatedAt(result)
	return result, nil
}

// ExpireOverdue sweeps PENDING checkpoints past their deadline and marks
// them TIMEOUT. It exists for crash recovery: a checkpoint whose waiter
// died still resolves eventually. Concurrent sweeps race harmlessly via
// the store's compare-and-set.
func (m *Manager) ExpireOverdue(ctx context.Context) (int, error) {
	pending, err := m.store.ListCheckpoints(ctx, cascade.CheckpointFilter{
		Status: cascade.ToPtr(cascade.CheckpointStatusPending),
	})
	if err != nil {
		return 0, cascade.NewStoreUnavailable("ListCheckpoints", err)
	}

	now := time.Now()
	expired := 0
	stillPending := make(map[string]struct{}, len(pending))
	for _, cp := range pending {
		stillPending[cp.ID] = struct{}{}
		if cp.TimeoutAt == nil || now.Before(*cp.TimeoutAt) {
			continue
		}

		cp.Status = cascade.CheckpointStatusTimeout
		cp.UpdatedAt = now
		if err := m.store.TransitionCheckpoint(ctx, cp, cascade.CheckpointStatusPending); err != nil {
			if !cascade.IsStaleTransition(err) {
				cascade.LogStoreError(m.logger, "TransitionCheckpoint", cp.ID, err)
			}
			continue
		}

		m.mu.Lock()
		m.resolveLocked(cp)
		m.mu.Unlock()

		cascade.LogCheckpointResolved(m.logger, cp.ID, cascade.CheckpointStatusTimeout)
		cascade.Publish(m.notifier, m.logger, cascade.EventCheckpointTimeout, cp.ExecutionID, map[string]any{
			"checkpointId": cp.ID,
			"stepName":     cp.StepName,
		})
		expired++
	}

	// Cached PENDING rows absent from the store's PENDING set were
	// resolved by another process. Adopt their terminal state so the cache
	// entry and any local waiter are released even if nobody re-reads the
	// checkpoint here.
	m.mu.Lock()
	var resolved []string
	for id, cp := range m.cache {
		if cp.Status != cascade.CheckpointStatusPending {
			continue
		}
		if _, ok := stillPending[id]; !ok {
			resolved = append(resolved, id)
		}
	}
	for _, id := range resolved {
		m.adoptLatestLocked(ctx, id)
	}
	m.mu.Unlock()

	return expired, nil
}

// unblock reports the end of a suspension to the liveness tracker
func (m *Manager) unblock(executionID string) {
	if m.sessions == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.sessions.SetUnblocked(ctx, executionID); err != nil {
		m.logger.Warn().
			Str("execution_id", executionID).
			Err(err).
			Msg("Failed to report unblocked state to liveness tracker")
	}
}

// latestLocked returns the freshest view of a checkpoint: the cache if it
// already holds a terminal state, otherwise the store, otherwise the cache
// as a fallback when the store read fails. Callers must hold m.mu.
func (m *Manager) latestLocked(ctx context.Context, checkpointID string) (*cascade.Checkpoint, error) {
	if cached, ok := m.cache[checkpointID]; ok && cached.Status.IsTerminal() {
		return cloneCheckpoint(cached), nil
	}

	cp, err := m.store.GetCheckpoint(ctx, checkpointID)
	if err != nil {
		if cascade.IsNotFound(err) {
			return nil, err
		}
		if cached, ok := m.cache[checkpointID]; ok {
			cascade.LogStoreError(m.logger, "GetCheckpoint", checkpointID, err)
			return cloneCheckpoint(cached), nil
		}
		return nil, cascade.NewStoreUnavailable("GetCheckpoint", err)
	}
	return cp, nil
}

// adoptLatestLocked refreshes the cache after losing a transition race so
// the loser observes the winner's terminal state. Callers must hold m.mu.
func (m *Manager) adoptLatestLocked(ctx context.Context, checkpointID string) {
	latest, err := m.store.GetCheckpoint(ctx, checkpointID)
	if err != nil {
		cascade.LogStoreError(m.logger, "GetCheckpoint", checkpointID, err)
		return
	}
	if latest.Status.IsTerminal() {
		m.resolveLocked(latest)
	}
}

// cachedStatusLocked reports the cached status for error messages
func (m *Manager) cachedStatusLocked(checkpointID string) string {
	if cached, ok := m.cache[checkpointID]; ok {
		return cached.Status.String()
	}
	return "unknown"
}

// resolveLocked installs a terminal checkpoint into the cache and releases
// any same-process waiters exactly once. Callers must hold m.mu.
func (m *Manager) resolveLocked(cp *cascade.Checkpoint) {
	m.cache[cp.ID] = cloneCheckpoint(cp)
	if ch, ok := m.waiters[cp.ID]; ok {
		close(ch)
		delete(m.waiters, cp.ID)
	}
}

// waiterLocked returns the notification channel for a checkpoint, creating
// it if needed. Callers must hold m.mu.
func (m *Manager) waiterLocked(checkpointID string) chan struct{} {
	ch, ok := m.waiters[checkpointID]
	if !ok {
		ch = make(chan struct{})
		// A checkpoint the cache already knows is terminal never blocks.
		if cached, cok := m.cache[checkpointID]; cok && cached.Status.IsTerminal() {
			close(ch)
			return ch
		}
		m.waiters[checkpointID] = ch
	}
	return ch
}

func sortByCreatedAt(cps []*cascade.Checkpoint) {
	sort.Slice(cps, func(i, j int) bool {
		return cps[i].CreatedAt.Before(cps[j].CreatedAt)
	})
}

func cloneCheckpoint(cp *cascade.Checkpoint) *cascade.Checkpoint {
	c := *cp
	return &c
}
