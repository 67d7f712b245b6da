package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/nerio-ai/cascade"
)

// RedisStore implements cascade.CoordinationStore using Redis. Rows are
// JSON values under prefixed keys with per-entity id-index sets; terminal
// transitions use optimistic WATCH transactions so the first writer wins.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisStore creates a Redis-backed coordination store. The client is
// injected so deployments control pooling and tests can point at miniredis.
func NewRedisStore(client *redis.Client, keyPrefix string) cascade.CoordinationStore {
	if keyPrefix == "" {
		keyPrefix = "cascade:"
	}
	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

func (s *RedisStore) sessionKey(id string) string {
	return s.keyPrefix + "session:" + id
}

func (s *RedisStore) checkpointKey(id string) string {
	return s.keyPrefix + "checkpoint:" + id
}

func (s *RedisStore) signalKey(id string) string {
	return s.keyPrefix + "signal:" + id
}

func (s *RedisStore) sessionIndex() string {
	return s.keyPrefix + "sessions"
}

func (s *RedisStore) checkpointIndex() string {
	return s.keyPrefix + "checkpoints"
}

func (s *RedisStore) signalIndex() string {
	return s.keyPrefix + "signals"
}

// Execution session operations

func (s *RedisStore) CreateSession(ctx context.Context, session *cascade.ExecutionState) error {
	return s.create(ctx, s.sessionKey(session.ExecutionID), s.sessionIndex(), session.ExecutionID, session, "session")
}

func (s *RedisStore) GetSession(ctx context.Context, executionID string) (*cascade.ExecutionState, error) {
	var session cascade.ExecutionState
	if err := s.get(ctx, s.sessionKey(executionID), &session, "session", executionID); err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *RedisStore) UpdateSession(ctx context.Context, session *cascade.ExecutionState) error {
	return s.update(ctx, s.sessionKey(session.ExecutionID), session, "session", session.ExecutionID)
}

func (s *RedisStore) ListSessions(ctx context.Context, filter cascade.SessionFilter) ([]*cascade.ExecutionState, error) {
	values, err := s.listValues(ctx, s.sessionIndex(), s.sessionKey)
	if err != nil {
		return nil, err
	}

	var result []*cascade.ExecutionState
	for _, raw := range values {
		var session cascade.ExecutionState
		if err := json.Unmarshal(raw, &session); err != nil {
			return nil, cascade.NewStoreUnavailable("ListSessions", err)
		}
		if filter.CascadeID != "" && session.CascadeID != filter.CascadeID {
			continue
		}
		if filter.Status != nil && session.Status != *filter.Status {
			continue
		}
		if filter.Terminal != nil && session.Status.IsTerminal() != *filter.Terminal {
			continue
		}
		result = append(result, &session)
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result, nil
}

// Checkpoint operations

func (s *RedisStore) CreateCheckpoint(ctx context.Context, checkpoint *cascade.Checkpoint) error {
	return s.create(ctx, s.checkpointKey(checkpoint.ID), s.checkpointIndex(), checkpoint.ID, checkpoint, "checkpoint")
}

func (s *RedisStore) GetCheckpoint(ctx context.Context, id string) (*cascade.Checkpoint, error) {
	var checkpoint cascade.Checkpoint
	if err := s.get(ctx, s.checkpointKey(id), &checkpoint, "checkpoint", id); err != nil {
		return nil, err
	}
	return &checkpoint, nil
}

func (s *RedisStore) UpdateCheckpoint(ctx context.Context, checkpoint *cascade.Checkpoint) error {
	return s.update(ctx, s.checkpointKey(checkpoint.ID), checkpoint, "checkpoint", checkpoint.ID)
}

func (s *RedisStore) TransitionCheckpoint(ctx context.Context, checkpoint *cascade.Checkpoint, from cascade.CheckpointStatus) error {
	return s.transition(ctx, s.checkpointKey(checkpoint.ID), checkpoint, "checkpoint", checkpoint.ID,
		func(raw []byte) (bool, error) {
			var current cascade.Checkpoint
			if err := json.Unmarshal(raw, &current); err != nil {
				return false, err
			}
			return current.Status == from, nil
		})
}

func (s *RedisStore) ListCheckpoints(ctx context.Context, filter cascade.CheckpointFilter) ([]*cascade.Checkpoint, error) {
	values, err := s.listValues(ctx, s.checkpointIndex(), s.checkpointKey)
	if err != nil {
		return nil, err
	}

	var result []*cascade.Checkpoint
	for _, raw := range values {
		var checkpoint cascade.Checkpoint
		if err := json.Unmarshal(raw, &checkpoint); err != nil {
			return nil, cascade.NewStoreUnavailable("ListCheckpoints", err)
		}
		if filter.ExecutionID != "" && checkpoint.ExecutionID != filter.ExecutionID {
			continue
		}
		if filter.Status != nil && checkpoint.Status != *filter.Status {
			continue
		}
		result = append(result, &checkpoint)
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result, nil
}

// Signal operations

func (s *RedisStore) CreateSignal(ctx context.Context, signal *cascade.Signal) error {
	return s.create(ctx, s.signalKey(signal.ID), s.signalIndex(), signal.ID, signal, "signal")
}

func (s *RedisStore) GetSignal(ctx context.Context, id string) (*cascade.Signal, error) {
	var signal cascade.Signal
	if err := s.get(ctx, s.signalKey(id), &signal, "signal", id); err != nil {
		return nil, err
	}
	return &signal, nil
}

func (s *RedisStore) UpdateSignal(ctx context.Context, signal *cascade.Signal) error {
	return s.update(ctx, s.signalKey(signal.ID), signal, "signal", signal.ID)
}

func (s *RedisStore) TransitionSignal(ctx context.Context, signal *cascade.Signal, from cascade.SignalStatus) error {
	return s.transition(ctx, s.signalKey(signal.ID), signal, "signal", signal.ID,
		func(raw []byte) (bool, error) {
			var current cascade.Signal
			if err := json.Unmarshal(raw, &current); err != nil {
				return false, err
			}
			return current.Status == from, nil
		})
}

func (s *RedisStore) ListSignals(ctx context.Context, filter cascade.SignalFilter) ([]*cascade.Signal, error) {
	values, err := s.listValues(ctx, s.signalIndex(), s.signalKey)
	if err != nil {
		return nil, err
	}

	var result []*cascade.Signal
	for _, raw := range values {
		var signal cascade.Signal
		if err := json.Unmarshal(raw, &signal); err != nil {
			return nil, cascade.NewStoreUnavailable("ListSignals", err)
		}
		if filter.Name != "" && signal.Name != filter.Name {
			continue
		}
		if filter.ExecutionID != "" && signal.ExecutionID != filter.ExecutionID {
			continue
		}
		if filter.Status != nil && signal.Status != *filter.Status {
			continue
		}
		result = append(result, &signal)
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result, nil
}

// Shared row plumbing

func (s *RedisStore) create(ctx context.Context, key, indexKey, id string, value any, entity string) error {
	data, err := json.Marshal(value)
	if err != nil {
		return cascade.NewStoreUnavailable("Marshal", err)
	}

	ok, err := s.client.SetNX(ctx, key, data, 0).Result()
	if err != nil {
		return cascade.NewStoreUnavailable("SetNX", err)
	}
	if !ok {
		return cascade.NewValidation(entity + " " + id + " already exists")
	}
	if err := s.client.SAdd(ctx, indexKey, id).Err(); err != nil {
		return cascade.NewStoreUnavailable("SAdd", err)
	}
	return nil
}

func (s *RedisStore) get(ctx context.Context, key string, target any, entity, id string) error {
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return cascade.NewNotFound(entity, id)
	}
	if err != nil {
		return cascade.NewStoreUnavailable("Get", err)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return cascade.NewStoreUnavailable("Unmarshal", err)
	}
	return nil
}

func (s *RedisStore) update(ctx context.Context, key string, value any, entity, id string) error {
	data, err := json.Marshal(value)
	if err != nil {
		return cascade.NewStoreUnavailable("Marshal", err)
	}

	ok, err := s.client.SetXX(ctx, key, data, 0).Result()
	if err != nil {
		return cascade.NewStoreUnavailable("SetXX", err)
	}
	if !ok {
		return cascade.NewNotFound(entity, id)
	}
	return nil
}

// transition performs an optimistic compare-and-set: the row is WATCHed,
// its current status checked against the expected prior state, and the
// write aborted if any concurrent modification landed first.
func (s *RedisStore) transition(ctx context.Context, key string, value any, entity, id string, inPrior func([]byte) (bool, error)) error {
	data, err := json.Marshal(value)
	if err != nil {
		return cascade.NewStoreUnavailable("Marshal", err)
	}

	txn := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return cascade.NewNotFound(entity, id)
		}
		if err != nil {
			return err
		}

		ok, err := inPrior(raw)
		if err != nil {
			return err
		}
		if !ok {
			return cascade.NewStaleTransition(entity, id)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}

	err = s.client.Watch(ctx, txn, key)
	if errors.Is(err, redis.TxFailedErr) {
		// A concurrent writer touched the row between WATCH and EXEC; in
		// this schema only transitions write terminal rows, so the race
		// was lost.
		return cascade.NewStaleTransition(entity, id)
	}
	if err != nil {
		var ce *cascade.CoordinationError
		if errors.As(err, &ce) {
			return ce
		}
		return cascade.NewStoreUnavailable("Watch", err)
	}
	return nil
}

func (s *RedisStore) listValues(ctx context.Context, indexKey string, keyFn func(string) string) ([][]byte, error) {
	ids, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, cascade.NewStoreUnavailable("SMembers", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = keyFn(id)
	}

	raws, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, cascade.NewStoreUnavailable("MGet", err)
	}

	var values [][]byte
	for _, raw := range raws {
		if raw == nil {
			continue
		}
		if str, ok := raw.(string); ok {
			values = append(values, []byte(str))
		}
	}
	return values, nil
}
