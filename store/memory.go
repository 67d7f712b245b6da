package store

import (
	"context"
	"sync"

	"github.com/nerio-ai/cascade"
)

// MemoryStore implements cascade.CoordinationStore using in-memory maps.
// Suitable for tests and single-node deployments; it provides the same
// compare-and-set transition semantics as the durable backends.
type MemoryStore struct {
	mu          sync.RWMutex
	sessions    map[string]*cascade.ExecutionState
	checkpoints map[string]*cascade.Checkpoint
	signals     map[string]*cascade.Signal
}

// NewMemoryStore creates a new in-memory coordination store
func NewMemoryStore() cascade.CoordinationStore {
	return &MemoryStore{
		sessions:    make(map[string]*cascade.ExecutionState),
		checkpoints: make(map[string]*cascade.Checkpoint),
		signals:     make(map[string]*cascade.Signal),
	}
}

// Execution session operations

func (s *MemoryStore) CreateSession(ctx context.Context, session *cascade.ExecutionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[session.ExecutionID]; exists {
		return cascade.NewValidation("session " + session.ExecutionID + " already exists")
	}
	s.sessions[session.ExecutionID] = copySession(session)
	return nil
}

func (s *MemoryStore) GetSession(ctx context.Context, executionID string) (*cascade.ExecutionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, exists := s.sessions[executionID]
	if !exists {
		return nil, cascade.NewNotFound("session", executionID)
	}
	return copySession(session), nil
}

func (s *MemoryStore) UpdateSession(ctx context.Context, session *cascade.ExecutionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[session.ExecutionID]; !exists {
		return cascade.NewNotFound("session", session.ExecutionID)
	}
	s.sessions[session.ExecutionID] = copySession(session)
	return nil
}

func (s *MemoryStore) ListSessions(ctx context.Context, filter cascade.SessionFilter) ([]*cascade.ExecutionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*cascade.ExecutionState
	for _, session := range s.sessions {
		if filter.CascadeID != "" && session.CascadeID != filter.CascadeID {
			continue
		}
		if filter.Status != nil && session.Status != *filter.Status {
			continue
		}
		if filter.Terminal != nil && session.Status.IsTerminal() != *filter.Terminal {
			continue
		}
		result = append(result, copySession(session))
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result, nil
}

// Checkpoint operations

func (s *MemoryStore) CreateCheckpoint(ctx context.Context, checkpoint *cascade.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.checkpoints[checkpoint.ID]; exists {
		return cascade.NewValidation("checkpoint " + checkpoint.ID + " already exists")
	}
	s.checkpoints[checkpoint.ID] = copyCheckpoint(checkpoint)
	return nil
}

func (s *MemoryStore) GetCheckpoint(ctx context.Context, id string) (*cascade.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	checkpoint, exists := s.checkpoints[id]
	if !exists {
		return nil, cascade.NewNotFound("checkpoint", id)
	}
	return copyCheckpoint(checkpoint), nil
}

func (s *MemoryStore) UpdateCheckpoint(ctx context.Context, checkpoint *cascade.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.checkpoints[checkpoint.ID]; !exists {
		return cascade.NewNotFound("checkpoint", checkpoint.ID)
	}
	s.checkpoints[checkpoint.ID] = copyCheckpoint(checkpoint)
	return nil
}

func (s *MemoryStore) TransitionCheckpoint(ctx context.Context, checkpoint *cascade.Checkpoint, from cascade.CheckpointStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.checkpoints[checkpoint.ID]
	if !exists {
		return cascade.NewNotFound("checkpoint", checkpoint.ID)
	}
	if current.Status != from {
		return cascade.NewStaleTransition("checkpoint", checkpoint.ID)
	}
	s.checkpoints[checkpoint.ID] = copyCheckpoint(checkpoint)
	return nil
}

func (s *MemoryStore) ListCheckpoints(ctx context.Context, filter cascade.CheckpointFilter) ([]*cascade.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*cascade.Checkpoint
	for _, checkpoint := range s.checkpoints {
		if filter.ExecutionID != "" && checkpoint.ExecutionID != filter.ExecutionID {
			continue
		}
		if filter.Status != nil && checkpoint.Status != *filter.Status {
			continue
		}
		result = append(result, copyCheckpoint(checkpoint))
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result, nil
}

// Signal operations

func (s *MemoryStore) CreateSignal(ctx context.Context, signal *cascade.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.signals[signal.ID]; exists {
		return cascade.NewValidation("signal " + signal.ID + " already exists")
	}
	s.signals[signal.ID] = copySignal(signal)
	return nil
}

func (s *MemoryStore) GetSignal(ctx context.Context, id string) (*cascade.Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	signal, exists := s.signals[id]
	if !exists {
		return nil, cascade.NewNotFound("signal", id)
	}
	return copySignal(signal), nil
}

func (s *MemoryStore) UpdateSignal(ctx context.Context, signal *cascade.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.signals[signal.ID]; !exists {
		return cascade.NewNotFound("signal", signal.ID)
	}
	s.signals[signal.ID] = copySignal(signal)
	return nil
}

func (s *MemoryStore) TransitionSignal(ctx context.Context, signal *cascade.Signal, from cascade.SignalStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.signals[signal.ID]
	if !exists {
		return cascade.NewNotFound("signal", signal.ID)
	}
	if current.Status != from {
		return cascade.NewStaleTransition("signal", signal.ID)
	}
	s.signals[signal.ID] = copySignal(signal)
	return nil
}

func (s *MemoryStore) ListSignals(ctx context.Context, filter cascade.SignalFilter) ([]*cascade.Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*cascade.Signal
	for _, signal := range s.signals {
		if filter.Name != "" && signal.Name != filter.Name {
			continue
		}
		if filter.ExecutionID != "" && signal.ExecutionID != filter.ExecutionID {
			continue
		}
		if filter.Status != nil && signal.Status != *filter.Status {
			continue
		}
		result = append(result, copySignal(signal))
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result, nil
}

// Deep copies keep store rows from aliasing caller-held pointers

func copySession(s *cascade.ExecutionState) *cascade.ExecutionState {
	c := *s
	if s.Blocked != nil {
		blocked := *s.Blocked
		c.Blocked = &blocked
	}
	return &c
}

func copyCheckpoint(cp *cascade.Checkpoint) *cascade.Checkpoint {
	c := *cp
	return &c
}

func copySignal(sig *cascade.Signal) *cascade.Signal {
	c := *sig
	if sig.Callback != nil {
		cb := *sig.Callback
		c.Callback = &cb
	}
	return &c
}
