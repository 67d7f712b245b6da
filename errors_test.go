package cascade

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoordinationError_Error(t *testing.T) {
	err := NewNotFound("checkpoint", "cp-1")
	assert.Contains(t, err.Error(), "NOT_FOUND")
	assert.Contains(t, err.Error(), "checkpoint")
	assert.Contains(t, err.Error(), "cp-1")

	plain := NewValidation("name is required")
	assert.Contains(t, plain.Error(), "VALIDATION_ERROR")
	assert.Contains(t, plain.Error(), "name is required")
}

func TestCoordinationError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewStoreUnavailable("GetSession", cause)

	require.True(t, errors.Is(err, cause))
	assert.Equal(t, ErrCodeStoreUnavailable, err.Code)
}

func TestErrorPredicates(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		predicate func(error) bool
		want      bool
	}{
		{"not found matches", NewNotFound("signal", "sig-1"), IsNotFound, true},
		{"already resolved matches", NewAlreadyResolved("checkpoint", "cp-1", "RESPONDED"), IsAlreadyResolved, true},
		{"stale transition matches", NewStaleTransition("signal", "sig-1"), IsStaleTransition, true},
		{"store unavailable matches", NewStoreUnavailable("PutItem", errors.New("boom")), IsStoreUnavailable, true},
		{"token mismatch matches", NewTokenMismatch("sig-1"), IsTokenMismatch, true},
		{"wrong code does not match", NewNotFound("signal", "sig-1"), IsAlreadyResolved, false},
		{"plain error does not match", errors.New("boom"), IsNotFound, false},
		{"nil does not match", nil, IsNotFound, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.predicate(tt.err))
		})
	}
}

func TestErrorPredicates_Wrapped(t *testing.T) {
	wrapped := fmt.Errorf("responding: %w", NewAlreadyResolved("checkpoint", "cp-1", "TIMEOUT"))
	assert.True(t, IsAlreadyResolved(wrapped))
}
