package session

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marionet/marionet/pkg/profile"
	"github.com/marionet/marionet/pkg/types"
)

func newSessionIn(status Status) *Session {
	return &Session{
		ID:      "test-session",
		Profile: profile.Ephemeral(),
		status:  status,
	}
}

func TestSession_ValidTransitions(t *testing.T) {
	tests := []struct {
		from Status
		to   Status
	}{
		{StatusStarting, StatusReady},
		{StatusStarting, StatusClosing},
		{StatusReady, StatusBusy},
		{StatusReady, StatusClosing},
		{StatusBusy, StatusReady},
		{StatusBusy, StatusClosing},
		{StatusClosing, StatusClosed},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"_to_"+string(tt.to), func(t *testing.T) {
			s := newSessionIn(tt.from)
			require.NoError(t, s.transition(tt.to))
			assert.Equal(t, tt.to, s.Status())
		})
	}
}

func TestSession_InvalidTransitionsRejected(t *testing.T) {
	tests := []struct {
		from Status
		to   Status
	}{
		{StatusClosed, StatusReady},
		{StatusClosed, StatusClosing},
		{StatusReady, StatusStarting},
		{StatusClosing, StatusReady},
		{StatusStarting, StatusBusy},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"_to_"+string(tt.to), func(t *testing.T) {
			s := newSessionIn(tt.from)
			err := s.transition(tt.to)
			require.Error(t, err)
			assert.True(t, errors.Is(err, types.ErrInvalidTransition))
			assert.Equal(t, tt.from, s.Status(), "state unchanged after rejected transition")
		})
	}
}

func TestSession_BeginExecutionRequiresReady(t *testing.T) {
	s := newSessionIn(StatusReady)
	require.NoError(t, s.BeginExecution())
	assert.Equal(t, StatusBusy, s.Status())

	// A second run cannot start while the first is in flight
	err := s.BeginExecution()
	require.Error(t, err)
	assert.Equal(t, types.KindContention, types.KindOf(err))

	s.EndExecution()
	assert.Equal(t, StatusReady, s.Status())
	assert.NoError(t, s.BeginExecution())
}

func TestSession_EndExecutionDoesNotResurrectClosing(t *testing.T) {
	s := newSessionIn(StatusBusy)
	require.True(t, s.beginClose())

	// The executor finishing after a racing close must not flip the
	// session back to ready.
	s.EndExecution()
	assert.Equal(t, StatusClosing, s.Status())
}

func TestSession_BeginCloseIdempotent(t *testing.T) {
	s := newSessionIn(StatusReady)
	assert.True(t, s.beginClose())
	assert.False(t, s.beginClose())

	require.NoError(t, s.transition(StatusClosed))
	assert.False(t, s.beginClose())
}
