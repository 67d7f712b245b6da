package signal

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerio-ai/cascade"
	"github.com/nerio-ai/cascade/store"
)

// recordingTracker captures blocked/unblocked reports
type recordingTracker struct {
	mu        sync.Mutex
	blocked   []cascade.BlockedReason
	unblocked []string
}

func (r *recordingTracker) SetBlocked(ctx context.Context, executionID string, reason cascade.BlockedReason) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blocked = append(r.blocked, reason)
	return nil
}

func (r *recordingTracker) SetUnblocked(ctx context.Context, executionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unblocked = append(r.unblocked, executionID)
	return nil
}

func newTestManager(t *testing.T, opts ...Option) (*Manager, cascade.CoordinationStore) {
	t.Helper()
	st := store.NewMemoryStore()
	opts = append([]Option{WithLogger(zerolog.Nop())}, opts...)
	return NewManager(st, opts...), st
}

func basicParams() RegisterParams {
	return RegisterParams{
		Name:        "data_ready",
		ExecutionID: "exec-1",
		StepName:    "wait_for_data",
		Timeout:     "1h",
	}
}

func TestRegister(t *testing.T) {
	tracker := &recordingTracker{}
	m, _ := newTestManager(t, WithSessions(tracker))
	ctx := context.Background()

	sig, err := m.Register(ctx, basicParams())
	require.NoError(t, err)
	assert.NotEmpty(t, sig.ID)
	assert.Equal(t, "data_ready", sig.Name)
	assert.Equal(t, cascade.SignalStatusWaiting, sig.Status)
	require.NotNil(t, sig.TimeoutAt)
	assert.WithinDuration(t, time.Now().Add(time.Hour), *sig.TimeoutAt, 5*time.Second)
	assert.Nil(t, sig.Callback, "no listener running, no callback address")

	tracker.mu.Lock()
	defer tracker.mu.Unlock()
	require.Len(t, tracker.blocked, 1)
	assert.Equal(t, cascade.BlockedKindSignal, tracker.blocked[0].Kind)
	assert.Equal(t, "data_ready", tracker.blocked[0].BlockedOn)
}

func TestRegister_UnparseableTimeoutDefaults(t *testing.T) {
	m, _ := newTestManager(t)

	params := basicParams()
	params.Timeout = "whenever"
	sig, err := m.Register(context.Background(), params)
	require.NoError(t, err)
	require.NotNil(t, sig.TimeoutAt)
	assert.WithinDuration(t, time.Now().Add(cascade.DefaultTimeout), *sig.TimeoutAt, 5*time.Second)
}

func TestRegister_Validation(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	params := basicParams()
	params.Name = ""
	_, err := m.Register(ctx, params)
	assert.Error(t, err)

	params = basicParams()
	params.ExecutionID = ""
	_, err = m.Register(ctx, params)
	assert.Error(t, err)
}

func TestFireAndWait_AcrossManagers(t *testing.T) {
	// Two managers over one store model two processes
	st := store.NewMemoryStore()
	waiter := NewManager(st, WithLogger(zerolog.Nop()), WithPollInterval(20*time.Millisecond))
	firer := NewManager(st, WithLogger(zerolog.Nop()))
	ctx := context.Background()

	sig, err := waiter.Register(ctx, basicParams())
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		firer.Fire(context.Background(), "data_ready",
			WithPayload(json.RawMessage(`{"n":5}`)),
			WithSource("exec-producer"),
		)
	}()

	payload, err := waiter.WaitFor(ctx, sig.ID, WaitOptions{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":5}`, string(payload))

	got, err := waiter.Get(ctx, sig.ID)
	require.NoError(t, err)
	assert.Equal(t, cascade.SignalStatusFired, got.Status)
	assert.Equal(t, "exec-producer", got.Source)
	assert.NotNil(t, got.FiredAt)
}

func TestFire_SameProcessWakeup(t *testing.T) {
	// A huge poll interval proves the waiter channel, not polling, wakes us
	m, _ := newTestManager(t, WithPollInterval(time.Minute))
	ctx := context.Background()

	sig, err := m.Register(ctx, basicParams())
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		m.Fire(context.Background(), "data_ready", WithPayload(json.RawMessage(`"go"`)))
	}()

	start := time.Now()
	payload, err := m.WaitFor(ctx, sig.ID, WaitOptions{})
	require.NoError(t, err)
	assert.JSONEq(t, `"go"`, string(payload))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestFire_MatchesAllWaitersByName(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	a, err := m.Register(ctx, basicParams())
	require.NoError(t, err)

	params := basicParams()
	params.ExecutionID = "exec-2"
	b, err := m.Register(ctx, params)
	require.NoError(t, err)

	other := basicParams()
	other.Name = "different_event"
	c, err := m.Register(ctx, other)
	require.NoError(t, err)

	fired, err := m.Fire(ctx, "data_ready")
	require.NoError(t, err)
	assert.Equal(t, 2, fired)

	for _, id := range []string{a.ID, b.ID} {
		got, err := m.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, cascade.SignalStatusFired, got.Status)
	}
	untouched, err := m.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, cascade.SignalStatusWaiting, untouched.Status)
}

func TestFire_ScopedToExecution(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	a, err := m.Register(ctx, basicParams())
	require.NoError(t, err)

	params := basicParams()
	params.ExecutionID = "exec-2"
	b, err := m.Register(ctx, params)
	require.NoError(t, err)

	fired, err := m.Fire(ctx, "data_ready", WithExecutionID("exec-2"))
	require.NoError(t, err)
	assert.Equal(t, 1, fired)

	got, err := m.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, cascade.SignalStatusFired, got.Status)

	still, err := m.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, cascade.SignalStatusWaiting, still.Status)
}

func TestFire_NoMatches(t *testing.T) {
	m, _ := newTestManager(t)

	fired, err := m.Fire(context.Background(), "nobody_waiting")
	require.NoError(t, err)
	assert.Equal(t, 0, fired)
}

func TestFire_AlreadyFiredIsNotCountedAgain(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.Register(ctx, basicParams())
	require.NoError(t, err)

	fired, err := m.Fire(ctx, "data_ready")
	require.NoError(t, err)
	assert.Equal(t, 1, fired)

	fired, err = m.Fire(ctx, "data_ready")
	require.NoError(t, err)
	assert.Equal(t, 0, fired)
}

func TestCancel(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	sig, err := m.Register(ctx, basicParams())
	require.NoError(t, err)

	cancelled, err := m.Cancel(ctx, sig.ID, "execution unwinding")
	require.NoError(t, err)
	assert.Equal(t, cascade.SignalStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelReason)
	assert.Equal(t, "execution unwinding", *cancelled.CancelReason)

	_, err = m.Cancel(ctx, sig.ID, "again")
	assert.True(t, cascade.IsAlreadyResolved(err))
}

func TestWaitFor_Timeout(t *testing.T) {
	m, _ := newTestManager(t, WithPollInterval(20*time.Millisecond))
	ctx := context.Background()

	sig, err := m.Register(ctx, basicParams())
	require.NoError(t, err)

	timeout := 100 * time.Millisecond
	payload, err := m.WaitFor(ctx, sig.ID, WaitOptions{Timeout: &timeout})
	require.NoError(t, err, "timeout is an outcome, not an error")
	assert.Nil(t, payload)

	got, err := m.Get(ctx, sig.ID)
	require.NoError(t, err)
	assert.Equal(t, cascade.SignalStatusTimeout, got.Status)
}

func TestWaitFor_CancelledSignalReturnsNil(t *testing.T) {
	m, _ := newTestManager(t, WithPollInterval(time.Minute))
	ctx := context.Background()

	sig, err := m.Register(ctx, basicParams())
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		m.Cancel(context.Background(), sig.ID, "unwinding")
	}()

	payload, err := m.WaitFor(ctx, sig.ID, WaitOptions{})
	require.NoError(t, err)
	assert.Nil(t, payload)
}

func TestConcurrentFireAndTimeout_SingleWinner(t *testing.T) {
	for i := 0; i < 20; i++ {
		st := store.NewMemoryStore()
		a := NewManager(st, WithLogger(zerolog.Nop()))
		b := NewManager(st, WithLogger(zerolog.Nop()))
		ctx := context.Background()

		sig, err := a.Register(ctx, basicParams())
		require.NoError(t, err)

		// Make the registration overdue so the sweep and the fire race
		row, err := st.GetSignal(ctx, sig.ID)
		require.NoError(t, err)
		row.TimeoutAt = cascade.ToPtr(time.Now().Add(-time.Second))
		require.NoError(t, st.UpdateSignal(ctx, row))

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			a.Fire(ctx, "data_ready", WithPayload(json.RawMessage(`"late"`)))
		}()
		go func() {
			defer wg.Done()
			b.SweepOnce(ctx)
		}()
		wg.Wait()

		// Whoever won, the row is terminal exactly once and consistent
		got, err := st.GetSignal(ctx, sig.ID)
		require.NoError(t, err)
		require.True(t, got.Status.IsTerminal())
		if got.Status == cascade.SignalStatusFired {
			assert.JSONEq(t, `"late"`, string(got.Payload))
		} else {
			assert.Equal(t, cascade.SignalStatusTimeout, got.Status)
			assert.Nil(t, got.Payload)
		}
	}
}

func TestSweepOnce(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()

	overdue, err := m.Register(ctx, basicParams())
	require.NoError(t, err)

	params := basicParams()
	params.ExecutionID = "exec-2"
	fresh, err := m.Register(ctx, params)
	require.NoError(t, err)

	row, err := st.GetSignal(ctx, overdue.ID)
	require.NoError(t, err)
	row.TimeoutAt = cascade.ToPtr(time.Now().Add(-time.Minute))
	require.NoError(t, st.UpdateSignal(ctx, row))

	expired, err := m.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	got, err := m.Get(ctx, overdue.ID)
	require.NoError(t, err)
	assert.Equal(t, cascade.SignalStatusTimeout, got.Status)

	still, err := m.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, cascade.SignalStatusWaiting, still.Status)
}

func TestSweepOnce_AdoptsRemotelyResolved(t *testing.T) {
	st := store.NewMemoryStore()
	a := NewManager(st, WithLogger(zerolog.Nop()))
	b := NewManager(st, WithLogger(zerolog.Nop()))
	ctx := context.Background()

	sig, err := a.Register(ctx, basicParams())
	require.NoError(t, err)

	_, err = b.Fire(ctx, sig.Name, WithPayload(json.RawMessage(`{"ok":true}`)))
	require.NoError(t, err)

	// a never re-reads the signal itself; its sweep reconciles the cache
	// and releases the waiter allocated at registration.
	_, err = a.SweepOnce(ctx)
	require.NoError(t, err)

	a.mu.Lock()
	cached := a.cache[sig.ID]
	_, waiterAlive := a.waiters[sig.ID]
	a.mu.Unlock()
	require.NotNil(t, cached)
	assert.Equal(t, cascade.SignalStatusFired, cached.Status)
	assert.False(t, waiterAlive)
}

func TestSweeper_StartStop(t *testing.T) {
	m, st := newTestManager(t, WithSweepInterval(20*time.Millisecond))
	ctx := context.Background()

	sig, err := m.Register(ctx, basicParams())
	require.NoError(t, err)

	row, err := st.GetSignal(ctx, sig.ID)
	require.NoError(t, err)
	row.TimeoutAt = cascade.ToPtr(time.Now().Add(-time.Minute))
	require.NoError(t, st.UpdateSignal(ctx, row))

	m.StartSweeper()
	defer m.StopSweeper()

	require.Eventually(t, func() bool {
		got, err := st.GetSignal(ctx, sig.ID)
		return err == nil && got.Status == cascade.SignalStatusTimeout
	}, 2*time.Second, 20*time.Millisecond)

	m.StopSweeper()
	// Stopping twice is safe
	m.StopSweeper()
}

func TestList(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.Register(ctx, basicParams())
	require.NoError(t, err)
	params := basicParams()
	params.Name = "other_event"
	_, err = m.Register(ctx, params)
	require.NoError(t, err)

	signals, err := m.List(ctx, cascade.SignalFilter{Name: "data_ready"})
	require.NoError(t, err)
	assert.Len(t, signals, 1)

	all, err := m.List(ctx, cascade.SignalFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestHandleCallback(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()

	sig, err := m.Register(ctx, basicParams())
	require.NoError(t, err)

	// Attach a callback address directly: registrations only carry one when
	// a listener runs, but HandleCallback validates against the stored row.
	row, err := st.GetSignal(ctx, sig.ID)
	require.NoError(t, err)
	row.Callback = &cascade.CallbackAddress{Host: "127.0.0.1", Port: 9999, Token: "secret-token"}
	require.NoError(t, st.UpdateSignal(ctx, row))

	err = m.HandleCallback(ctx, sig.ID, "wrong-token", nil, "")
	assert.True(t, cascade.IsTokenMismatch(err))

	err = m.HandleCallback(ctx, sig.ID, "secret-token", json.RawMessage(`{"pushed":true}`), "remote-firer")
	require.NoError(t, err)

	got, err := m.Get(ctx, sig.ID)
	require.NoError(t, err)
	assert.Equal(t, cascade.SignalStatusFired, got.Status)
	assert.JSONEq(t, `{"pushed":true}`, string(got.Payload))
	assert.Equal(t, "remote-firer", got.Source)

	// A repeated push against the terminal signal is an idempotent no-op
	err = m.HandleCallback(ctx, sig.ID, "secret-token", json.RawMessage(`{"pushed":"again"}`), "remote-firer")
	require.NoError(t, err)
	got, err = m.Get(ctx, sig.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"pushed":true}`, string(got.Payload))
}

func TestHandleCallback_UnknownSignal(t *testing.T) {
	m, _ := newTestManager(t)

	err := m.HandleCallback(context.Background(), "sig_missing", "tok", nil, "")
	assert.True(t, cascade.IsNotFound(err))
}
