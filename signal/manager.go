// Package signal implements the cross-execution signal bus: a named
// wait/notify primitive generalizing suspend/resume to arbitrary external
// events. Waiters block on two channels at once, an in-process notification
// and a periodic store re-read; firing pushes a best-effort HTTP callback
// to remote waiters while the store polling path remains the correctness
// backstop.
package signal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nerio-ai/cascade"
)

// DefaultPollInterval is the store re-read cadence for wait loops
const DefaultPollInterval = 2 * time.Second

// DefaultSweepInterval is the cadence of the background timeout sweep
const DefaultSweepInterval = 30 * time.Second

// SessionTracker is the slice of the liveness tracker the signal bus
// reports suspensions through.
type SessionTracker interface {
	SetBlocked(ctx context.Context, executionID string, reason cascade.BlockedReason) error
	SetUnblocked(ctx context.Context, executionID string) error
}

// Manager coordinates signal registrations over a durable store
type Manager struct {
	store    cascade.CoordinationStore
	sessions SessionTracker
	notifier cascade.Notifier
	logger   zerolog.Logger
	listener *CallbackListener

	httpClient    *http.Client
	pollInterval  time.Duration
	sweepInterval time.Duration

	mu      sync.Mutex
	cache   map[string]*cascade.Signal
	waiters map[string]chan struct{}

	sweepCancel context.CancelFunc
	sweepDone   chan struct{}
}

// Option configures a signal manager
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

// WithListener attaches a callback listener. Signals registered while the
// listener runs advertise its address for push wake-ups, and the listener
// routes accepted pushes into this manager.
func WithListener(l *CallbackListener) Option {
	return func(m *Manager) {
		m.listener = l
		l.handler = m.HandleCallback
	}
}

// WithPollInterval overrides the default wait-loop poll interval
func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) {
		m.pollInterval = d
	}
}

// WithSweepInterval overrides the background timeout sweep cadence
func WithSweepInterval(d time.Duration) Option {
	return func(m *Manager) {
		m.sweepInterval = d
	}
}

// WithHTTPClient overrides the client used for push notifications
func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) {
		m.httpClient = c
	}
}

// NewManager creates a signal manager over the given store
func NewManager(store cascade.CoordinationStore, opts ...Option) *Manager {
	defaultLogger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().
		Timestamp().
		Logger().
		Level(zerolog.InfoLevel)

	m := &Manager{
		store:         store,
		logger:        defaultLogger,
		httpClient:    &http.Client{Timeout: 5 * time.Second},
		pollInterval:  DefaultPollInterval,
		sweepInterval: DefaultSweepInterval,
		cache:         make(map[string]*cascade.Signal),
		waiters:       make(map[string]chan struct{}),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// RegisterParams describes a new wait registration
type RegisterParams struct {
	// Name is the event the waiter is interested in; many waiters may
	// share one name.
	Name        string
	ExecutionID string
	StepName    string
	// Timeout is a duration string (<integer><unit>, unit in s/m/h/d);
	// an unparseable value defaults to one hour.
	Timeout     string
	Description string
	// Routing info for the resumed execution
	TargetStep   string
	ResumeInputs json.RawMessage
}

// Register persists a WAITING signal with a fresh single-use callback
// token. If a callback listener is running in this process, the returned
// record advertises its reachable address for push wake-ups.
func (m *Manager) Register(ctx context.Context, params RegisterParams) (*cascade.Signal, error) {
	if params.Name == "" {
		return nil, cascade.NewValidation("signal name is required")
	}
	if params.ExecutionID == "" {
		return nil, cascade.NewValidation("executionId is required")
	}

	now := time.Now()
	sig := &cascade.Signal{
		ID:           "sig_" + uuid.New().String(),
		Name:         params.Name,
		ExecutionID:  params.ExecutionID,
		StepName:     params.StepName,
		Status:       cascade.SignalStatusWaiting,
		Description:  params.Description,
		ResumeInputs: params.ResumeInputs,
		CreatedAt:    now,
		TimeoutAt:    cascade.ToPtr(now.Add(cascade.ParseTimeout(params.Timeout))),
		UpdatedAt:    now,
	}
	if params.TargetStep != "" {
		sig.TargetStep = cascade.ToPtr(params.TargetStep)
	}
	if m.listener != nil && m.listener.Running() {
		sig.Callback = &cascade.CallbackAddress{
			Host:  m.listener.Host(),
			Port:  m.listener.Port(),
			Token: uuid.New().String(),
		}
	}

	if err := m.store.CreateSignal(ctx, sig); err != nil {
		cascade.LogStoreError(m.logger, "CreateSignal", sig.ID, err)
		return nil, cascade.NewStoreUnavailable("CreateSignal", err)
	}

	m.mu.Lock()
	m.cache[sig.ID] = cloneSignal(sig)
	if _, ok := m.waiters[sig.ID]; !ok {
		m.waiters[sig.ID] = make(chan struct{})
	}
	m.mu.Unlock()

	cascade.LogSignalRegistered(m.logger, sig.ID, sig.Name, sig.ExecutionID)
	cascade.Publish(m.notifier, m.logger, cascade.EventSignalRegistered, sig.ExecutionID, map[string]any{
		"signalId":   sig.ID,
		"signalName": sig.Name,
		"stepName":   sig.StepName,
	})

	if m.sessions != nil {
		reason := cascade.BlockedReason{
			Kind:        cascade.BlockedKindSignal,
			BlockedOn:   sig.Name,
			Description: params.Description,
			Deadline:    sig.TimeoutAt,
		}
		if err := m.sessions.SetBlocked(ctx, sig.ExecutionID, reason); err != nil {
			m.logger.Warn().
				Str("signal_id", sig.ID).
				Str("execution_id", sig.ExecutionID).
				Err(err).
				Msg("Failed to report blocked state to liveness tracker")
		}
	}

	return cloneSignal(sig), nil
}

// WaitOptions controls a blocking wait
type WaitOptions struct {
	// Timeout overrides the signal's own deadline when set
	Timeout *time.Duration
	// PollInterval of zero uses the manager default
	PollInterval time.Duration
}

// WaitFor blocks until the signal leaves WAITING or the effective deadline
// passes, whichever happens first. Resolution arrives through either the
// in-process notification (a same-process Fire or an accepted push
// callback) or the periodic store re-read (a cross-process write becoming
// visible); whichever resolves first wins. Returns the payload on FIRED
// and nil on TIMEOUT or CANCELLED.
func (m *Manager) WaitFor(ctx context.Context, signalID string, opts WaitOptions) (json.RawMessage, error) {
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = m.pollInterval
	}

	m.mu.Lock()
	sig, err := m.latestLocked(ctx, signalID)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	executionID := sig.ExecutionID
	waiter := m.waiterLocked(signalID)
	m.mu.Unlock()

	defer m.unblock(executionID)

	var deadline *time.Time
	if opts.Timeout != nil {
		deadline = cascade.ToPtr(time.Now().Add(*opts.Timeout))
	} else if sig.TimeoutAt != nil {
		deadline = sig.TimeoutAt
	}

	for {
		m.mu.Lock()
		if cached, ok := m.cache[signalID]; ok && cached.Status.IsTerminal() {
			payload := cached.Payload
			m.mu.Unlock()
			return payload, nil
		}
		m.mu.Unlock()

		latest, err := m.store.GetSignal(ctx, signalID)
		if err != nil {
			if cascade.IsNotFound(err) {
				return nil, err
			}
			cascade.LogStoreError(m.logger, "GetSignal", signalID, err)
		} else if latest.Status.IsTerminal() {
			m.mu.Lock()
			if cached, ok := m.cache[signalID]; !ok || !cached.Status.IsTerminal() {
				m.resolveLocked(latest)
			}
			payload := m.cache[signalID].Payload
			m.mu.Unlock()
			return payload, nil
		}

		// Remaining time is recomputed every iteration so an externally
		// shortened deadline takes effect within one poll interval.
		if deadline != nil && !time.Now().Before(*deadline) {
			return m.expire(ctx, signalID)
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

// FireOption configures a fire operation
type FireOption func(*fireParams)

type fireParams struct {
	payload     json.RawMessage
	source      string
	executionID string
}

// WithPayload attaches a payload delivered to every matched waiter
func WithPayload(payload json.RawMessage) FireOption {
	return func(p *fireParams) {
		p.payload = payload
	}
}

// WithSource records who fired the signal
func WithSource(source string) FireOption {
	return func(p *fireParams) {
		p.source = source
	}
}

// WithExecutionID scopes the fire to one execution's registrations
func WithExecutionID(executionID string) FireOption {
	return func(p *fireParams) {
		p.executionID = executionID
	}
}

// Fire resolves every WAITING signal registered under the given name,
// optionally scoped to one execution. Matches are gathered from the local
// cache first and then from the store, so registrations made by other
// processes are found too. Each match transitions to FIRED at most once;
// concurrent firers race harmlessly through the store's compare-and-set.
// Returns the number of signals this call transitioned.
func (m *Manager) Fire(ctx context.Context, name string, opts ...FireOption) (int, error) {
	if name == "" {
		return 0, cascade.NewValidation("signal name is required")
	}
	params := &fireParams{}
	for _, opt := range opts {
		opt(params)
	}

	// Local registrations first, then the store for ones this process
	// does not know about yet.
	matches := make(map[string]*cascade.Signal)
	m.mu.Lock()
	for id, sig := range m.cache {
		if sig.Status != cascade.SignalStatusWaiting || sig.Name != name {
			continue
		}
		if params.executionID != "" && sig.ExecutionID != params.executionID {
			continue
		}
		matches[id] = cloneSignal(sig)
	}
	m.mu.Unlock()

	fromStore, err := m.store.ListSignals(ctx, cascade.SignalFilter{
		Name:        name,
		ExecutionID: params.executionID,
		Status:      cascade.ToPtr(cascade.SignalStatusWaiting),
	})
	if err != nil {
		return 0, cascade.NewStoreUnavailable("ListSignals", err)
	}
	for _, sig := range fromStore {
		if _, ok := matches[sig.ID]; !ok {
			matches[sig.ID] = sig
		}
	}

	fired := 0
	for _, sig := range matches {
		if m.fireOne(ctx, sig, params) {
			fired++
		}
	}
	return fired, nil
}

// fireOne applies the FIRED transition to a single registration and
// reports whether this call won the race.
func (m *Manager) fireOne(ctx context.Context, sig *cascade.Signal, params *fireParams) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cached, ok := m.cache[sig.ID]; ok && cached.Status.IsTerminal() {
		return false
	}

	now := time.Now()
	sig.Status = cascade.SignalStatusFired
	sig.Payload = params.payload
	sig.Source = params.source
	sig.FiredAt = cascade.ToPtr(now)
	sig.UpdatedAt = now

	if err := m.store.TransitionSignal(ctx, sig, cascade.SignalStatusWaiting); err != nil {
		if cascade.IsStaleTransition(err) {
			m.adoptLatestLocked(ctx, sig.ID)
		} else {
			cascade.LogStoreError(m.logger, "TransitionSignal", sig.ID, err)
		}
		return false
	}

	m.resolveLocked(sig)

	cascade.LogSignalResolved(m.logger, sig.ID, cascade.SignalStatusFired, params.source)
	cascade.Publish(m.notifier, m.logger, cascade.EventSignalFired, sig.ExecutionID, map[string]any{
		"signalId":   sig.ID,
		"signalName": sig.Name,
		"source":     params.source,
	})

	// Accelerate a remote waiter's wake-up. Failure is silent: the
	// polling path remains the correctness backstop.
	if sig.Callback != nil && !m.isLocalAddress(sig.Callback) {
		go m.push(cloneSignal(sig))
	}

	return true
}

// HandleCallback applies the FIRED transition for an accepted push
// notification. The (signalId, token) pair must match the registration; a
// push against an already-terminal signal is an idempotent no-op, so a
// push and a concurrent poll or timeout cannot both win.
func (m *Manager) HandleCallback(ctx context.Context, signalID, token string, payload json.RawMessage, source string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sig, err := m.latestLocked(ctx, signalID)
	if err != nil {
		return err
	}
	if sig.Callback == nil || sig.Callback.Token != token {
		cascade.LogCallbackRejected(m.logger, signalID, "token mismatch")
		return cascade.NewTokenMismatch(signalID)
	}
	if sig.Status.IsTerminal() {
		// The canonical remote-fire flow: the firer already transitioned
		// the row in the store before pushing. The push's job here is to
		// release the local waiter ahead of its next poll tick.
		m.resolveLocked(sig)
		return nil
	}

	now := time.Now()
	sig.Status = cascade.SignalStatusFired
	sig.Payload = payload
	sig.Source = source
	sig.FiredAt = cascade.ToPtr(now)
	sig.UpdatedAt = now

	if err := m.store.TransitionSignal(ctx, sig, cascade.SignalStatusWaiting); err != nil {
		if cascade.IsStaleTransition(err) {
			m.adoptLatestLocked(ctx, signalID)
			return nil
		}
		cascade.LogStoreError(m.logger, "TransitionSignal", signalID, err)
		return cascade.NewStoreUnavailable("TransitionSignal", err)
	}

	m.resolveLocked(sig)

	cascade.LogSignalResolved(m.logger, signalID, cascade.SignalStatusFired, source)
	cascade.Publish(m.notifier, m.logger, cascade.EventSignalFired, sig.ExecutionID, map[string]any{
		"signalId":   signalID,
		"signalName": sig.Name,
		"source":     source,
		"via":        "callback",
	})

	return nil
}

// Cancel resolves a WAITING signal as CANCELLED under the usual
// single-transition guard.
func (m *Manager) Cancel(ctx context.Context, signalID, reason string) (*cascade.Signal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sig, err := m.latestLocked(ctx, signalID)
	if err != nil {
		return nil, err
	}
	if sig.Status != cascade.SignalStatusWaiting {
		return nil, cascade.NewAlreadyResolved("signal", signalID, sig.Status.String())
	}

	now := time.Now()
	sig.Status = cascade.SignalStatusCancelled
	if reason != "" {
		sig.CancelReason = cascade.ToPtr(reason)
	}
	sig.UpdatedAt = now

	if err := m.store.TransitionSignal(ctx, sig, cascade.SignalStatusWaiting); err != nil {
		if cascade.IsStaleTransition(err) {
			m.adoptLatestLocked(ctx, signalID)
			return nil, cascade.NewAlreadyResolved("signal", signalID, m.cachedStatusLocked(signalID))
		}
		cascade.LogStoreError(m.logger, "TransitionSignal", signalID, err)
		return nil, cascade.NewStoreUnavailable("TransitionSignal", err)
	}

	m.resolveLocked(sig)

	cascade.LogSignalResolved(m.logger, signalID, cascade.SignalStatusCancelled, "")
	cascade.Publish(m.notifier, m.logger, cascade.EventSignalCancelled, sig.ExecutionID, map[string]any{
		"signalId": signalID,
		"reason":   reason,
	})

	return cloneSignal(sig), nil
}

// Get returns the latest known state of a signal
func (m *Manager) Get(ctx context.Context, signalID string) (*cascade.Signal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sig, err := m.latestLocked(ctx, signalID)
	if err != nil {
		return nil, err
	}
	return cloneSignal(sig), nil
}

// List returns signals matching the filter
func (m *Manager) List(ctx context.Context, filter cascade.SignalFilter) ([]*cascade.Signal, error) {
	signals, err := m.store.ListSignals(ctx, filter)
	if err != nil {
		return nil, cascade.NewStoreUnavailable("ListSignals", err)
	}

	m.mu.Lock()
	for _, sig := range signals {
		if cached, ok := m.cache[sig.ID]; ok && cached.Status.IsTerminal() {
			continue
		}
		if sig.Status.IsTerminal() {
			m.resolveLocked(sig)
		} else {
			m.cache[sig.ID] = cloneSignal(sig)
		}
	}
	m.mu.Unlock()

	return signals, nil
}

// SweepOnce scans WAITING signals past their deadline and marks them
// TIMEOUT, so no signal requires an actively polling waiter to eventually
// resolve. Concurrent sweeps race harmlessly via the compare-and-set.
func (m *Manager) SweepOnce(ctx context.Context) (int, error) {
	waiting, err := m.store.ListSignals(ctx, cascade.SignalFilter{
		Status: cascade.ToPtr(cascade.SignalStatusWaiting),
	})
	if err != nil {
		return 0, cascade.NewStoreUnavailable("ListSignals", err)
	}

	now := time.Now()
	expired := 0
	stillWaiting := make(map[string]struct{}, len(waiting))
	for _, sig := range waiting {
		stillWaiting[sig.ID] = struct{}{}
		if sig.TimeoutAt == nil || now.Before(*sig.TimeoutAt) {
			continue
		}
		if m.timeoutOne(ctx, sig) {
			expired++
		}
	}

	// Cached WAITING rows absent from the store's WAITING set were
	// resolved by another process. Adopt their terminal state so the cache
	// entry and any local waiter are released even if nobody re-reads the
	// signal here.
	m.mu.Lock()
	var resolved []string
	for id, sig := range m.cache {
		if sig.Status != cascade.SignalStatusWaiting {
			continue
		}
		if _, ok := stillWaiting[id]; !ok {
			resolved = append(resolved, id)
		}
	}
	for _, id := range resolved {
		m.adoptLatestLocked(ctx, id)
	}
	m.mu.Unlock()

	return expired, nil
}

// StartSweeper runs the timeout sweep on a fixed interval until
// StopSweeper is called. Starting an already-running sweeper is a no-op.
func (m *Manager) StartSweeper() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sweepCancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.sweepCancel = cancel
	m.sweepDone = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(m.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := m.SweepOnce(ctx); err != nil {
					cascade.LogStoreError(m.logger, "SweepOnce", "", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// StopSweeper stops the background timeout sweep and waits for it to exit
func (m *Manager) StopSweeper() {
	m.mu.Lock()
	cancel := m.sweepCancel
	done := m.sweepDone
	m.sweepCancel = nil
	m.sweepDone = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// expire transitions a deadline-passed signal to TIMEOUT, adopting a
// concurrent winner's outcome when the compare-and-set loses.
func (m *Manager) expire(ctx context.Context, signalID string) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sig, err := m.latestLocked(ctx, signalID)
	if err != nil {
		return nil, err
	}
	if sig.Status.IsTerminal() {
		m.resolveLocked(sig)
		return sig.Payload, nil
	}

	if m.timeoutOneLocked(ctx, sig) {
		return nil, nil
	}
	if cached, ok := m.cache[signalID]; ok && cached.Status == cascade.SignalStatusFired {
		return cached.Payload, nil
	}
	return nil, nil
}

// timeoutOne marks a single signal TIMEOUT, reporting whether this call
// won the transition.
func (m *Manager) timeoutOne(ctx context.Context, sig *cascade.Signal) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cached, ok := m.cache[sig.ID]; ok && cached.Status.IsTerminal() {
		return false
	}
	return m.timeoutOneLocked(ctx, sig)
}

func (m *Manager) timeoutOneLocked(ctx context.Context, sig *cascade.Signal) bool {
	now := time.Now()
	sig.Status = cascade.SignalStatusTimeout
	sig.UpdatedAt = now

	if err := m.store.TransitionSignal(ctx, sig, cascade.SignalStatusWaiting); err != nil {
		if cascade.IsStaleTransition(err) {
			m.adoptLatestLocked(ctx, sig.ID)
		} else {
			cascade.LogStoreError(m.logger, "TransitionSignal", sig.ID, err)
		}
		return false
	}

	m.resolveLocked(sig)

	cascade.LogSignalResolved(m.logger, sig.ID, cascade.SignalStatusTimeout, "")
	cascade.Publish(m.notifier, m.logger, cascade.EventSignalTimeout, sig.ExecutionID, map[string]any{
		"signalId":   sig.ID,
		"signalName": sig.Name,
	})
	return true
}

// push delivers a best-effort HTTP wake-up to a remote waiter
func (m *Manager) push(sig *cascade.Signal) {
	body, err := json.Marshal(callbackRequest{
		SignalID: sig.ID,
		Token:    sig.Callback.Token,
		Payload:  sig.Payload,
		Source:   sig.Source,
	})
	if err != nil {
		cascade.LogPushFailed(m.logger, sig.ID, sig.Callback.URL(), err)
		return
	}

	resp, err := m.httpClient.Post(sig.Callback.URL(), "application/json", bytes.NewReader(body))
	if err != nil {
		cascade.LogPushFailed(m.logger, sig.ID, sig.Callback.URL(), err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		cascade.LogPushFailed(m.logger, sig.ID, sig.Callback.URL(),
			fmt.Errorf("push returned status %d", resp.StatusCode))
	}
}

// isLocalAddress reports whether a callback address points at this
// process's own listener, in which case the in-process waiter channel has
// already been released and a push would be wasted.
func (m *Manager) isLocalAddress(addr *cascade.CallbackAddress) bool {
	return m.listener != nil && m.listener.Running() &&
		addr.Host == m.listener.Host() && addr.Port == m.listener.Port()
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

// latestLocked returns the freshest view of a signal: the cache if it
// already holds a terminal state, otherwise the store, otherwise the cache
// as a fallback when the store read fails. Callers must hold m.mu.
func (m *Manager) latestLocked(ctx context.Context, signalID string) (*cascade.Signal, error) {
	if cached, ok := m.cache[signalID]; ok && cached.Status.IsTerminal() {
		return cloneSignal(cached), nil
	}

	sig, err := m.store.GetSignal(ctx, signalID)
	if err != nil {
		if cascade.IsNotFound(err) {
			return nil, err
		}
		if cached, ok := m.cache[signalID]; ok {
			cascade.LogStoreError(m.logger, "GetSignal", signalID, err)
			return cloneSignal(cached), nil
		}
		return nil, cascade.NewStoreUnavailable("GetSignal", err)
	}
	return sig, nil
}

// adoptLatestLocked refreshes the cache after losing a transition race so
// this process observes the winner's terminal state. Callers must hold m.mu.
func (m *Manager) adoptLatestLocked(ctx context.Context, signalID string) {
	latest, err := m.store.GetSignal(ctx, signalID)
	if err != nil {
		cascade.LogStoreError(m.logger, "GetSignal", signalID, err)
		return
	}
	if latest.Status.IsTerminal() {
		m.resolveLocked(latest)
	}
}

// cachedStatusLocked reports the cached status for error messages
func (m *Manager) cachedStatusLocked(signalID string) string {
	if cached, ok := m.cache[signalID]; ok {
		return cached.Status.String()
	}
	return "unknown"
}

// resolveLocked installs a terminal signal into the cache and releases any
// same-process waiters exactly once. Callers must hold m.mu.
func (m *Manager) resolveLocked(sig *cascade.Signal) {
	m.cache[sig.ID] = cloneSignal(sig)
	if ch, ok := m.waiters[sig.ID]; ok {
		close(ch)
		delete(m.waiters, sig.ID)
	}
}

// waiterLocked returns the notification channel for a signal, creating it
// if needed. Callers must hold m.mu.
func (m *Manager) waiterLocked(signalID string) chan struct{} {
	ch, ok := m.waiters[signalID]
	if !ok {
		ch = make(chan struct{})
		if cached, cok := m.cache[signalID]; cok && cached.Status.IsTerminal() {
			close(ch)
			return ch
		}
		m.waiters[signalID] = ch
	}
	return ch
}

func cloneSignal(sig *cascade.Signal) *cascade.Signal {
	c := *sig
	if sig.Callback != nil {
		cb := *sig.Callback
		c.Callback = &cb
	}
	return &c
}
